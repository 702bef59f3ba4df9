// Command coda-export verifies a Coda API token and exports workspace
// content: without arguments it prints the accessible documents, with
// -doc and -page it exports one page to stdout.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/zah/coda-exporter/pkg/client"
	"github.com/zah/coda-exporter/pkg/coda"
	"github.com/zah/coda-exporter/pkg/export"
	"github.com/zah/coda-exporter/pkg/logging"
	"github.com/zah/coda-exporter/pkg/paginate"
	"github.com/zah/coda-exporter/pkg/ratelimit"
)

func main() {
	// .env is optional; real deployments use the environment directly.
	_ = godotenv.Load()

	docID := flag.String("doc", "", "document ID to export from")
	pageID := flag.String("page", "", "page ID to export (requires -doc)")
	format := flag.String("format", "markdown", "export format: markdown or html")
	flag.Parse()

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(getEnv("LOG_LEVEL", "info")),
		Pretty: os.Getenv("LOG_PRETTY") == "true",
	})

	token := os.Getenv("CODA_API_TOKEN")
	if token == "" {
		logger.Fatal().Msg("CODA_API_TOKEN is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := client.DefaultConfig(token)
	if baseURL := os.Getenv("CODA_BASE_URL"); baseURL != "" {
		cfg.BaseURL = baseURL
	}

	// Optional Redis: shares the rate limit hold-off deadline with other
	// exporter processes against the same workspace.
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     redisURL,
			Password: os.Getenv("REDIS_PASSWORD"),
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal().Err(err).Str("redis_url", redisURL).Msg("Failed to connect to Redis")
		}
		logger.Info().Str("redis_url", redisURL).Msg("Sharing rate limit state via Redis")

		cfg.Limiter = ratelimit.NewLimiter(
			ratelimit.DefaultPace,
			ratelimit.NewRedisStore(redisClient),
			logging.NewLogger("rate-limiter"),
		)
	}

	if metricsAddr := os.Getenv("METRICS_ADDR"); metricsAddr != "" {
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			logger.Info().Str("addr", metricsAddr).Msg("Serving Prometheus metrics")
			if err := http.ListenAndServe(metricsAddr, nil); err != nil {
				logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	apiClient, err := client.New(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create API client")
	}
	api := coda.New(apiClient)

	user, err := api.WhoAmI(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("Token verification failed")
	}
	logger.Info().
		Str("user", user.Name).
		Str("login", user.LoginID).
		Bool("scoped", user.Scoped).
		Msg("Token verified")

	if *pageID != "" {
		if *docID == "" {
			logger.Fatal().Msg("-page requires -doc")
		}
		if err := exportPage(ctx, api, *docID, *pageID, *format); err != nil {
			logger.Fatal().Err(err).Str("page_id", *pageID).Msg("Export failed")
		}
		return
	}

	if err := listDocs(ctx, api, os.Stdout); err != nil {
		logger.Fatal().Err(err).Msg("Failed to list documents")
	}
}

func exportPage(ctx context.Context, api *coda.API, docID, pageID, format string) error {
	content, err := api.ExportPage(ctx, docID, pageID, export.Format(format))
	if err != nil {
		return err
	}

	_, err = fmt.Print(content)
	return err
}

func listDocs(ctx context.Context, api *coda.API, out io.Writer) error {
	docs, err := paginate.Collect[coda.Doc](ctx, api.ListDocs(nil))
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%-12s  %-40s  %s\n", "ID", "NAME", "OWNER")
	for _, doc := range docs {
		fmt.Fprintf(out, "%-12s  %-40s  %s\n", doc.ID, doc.Name, doc.OwnerName)
	}
	fmt.Fprintf(out, "\n%d documents\n", len(docs))
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

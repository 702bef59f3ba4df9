package paginate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/zah/coda-exporter/pkg/client"
)

// Done is returned by Next when the sequence is exhausted.
var Done = errors.New("no more items")

// page is the wire shape of one listing response.
type page struct {
	Items         []json.RawMessage `json:"items"`
	NextPageToken string            `json:"nextPageToken"`
}

// Pager lazily iterates a cursor-based listing endpoint. It is single-pass
// and not safe for concurrent use; one goroutine drives one Pager.
type Pager struct {
	client   *client.Client
	endpoint string
	params   url.Values

	buf       []json.RawMessage
	nextToken string
	started   bool
	finished  bool
	err       error
}

// New creates a Pager for the given listing endpoint. params may be nil.
func New(c *client.Client, endpoint string, params url.Values) *Pager {
	return &Pager{
		client:   c,
		endpoint: endpoint,
		params:   params,
	}
}

// Next returns the next item in server order, fetching pages on demand.
// It returns Done once the server omits the continuation token and every
// buffered item has been yielded. After any non-Done error the Pager is
// poisoned and keeps returning that error.
func (p *Pager) Next(ctx context.Context) (json.RawMessage, error) {
	if p.err != nil {
		return nil, p.err
	}

	// Empty pages that still carry a token keep the loop going; only the
	// absence of a token terminates.
	for len(p.buf) == 0 {
		if p.finished {
			return nil, Done
		}
		if err := p.fetchPage(ctx); err != nil {
			p.err = err
			return nil, err
		}
	}

	item := p.buf[0]
	p.buf = p.buf[1:]
	return item, nil
}

// fetchPage retrieves the next page, carrying the cursor forward verbatim.
func (p *Pager) fetchPage(ctx context.Context) error {
	params := url.Values{}
	for key, values := range p.params {
		params[key] = values
	}
	if p.started {
		params.Set("pageToken", p.nextToken)
	}

	resp, err := p.client.Get(ctx, p.endpoint, params)
	if err != nil {
		return err
	}

	var pg page
	if err := resp.Decode(&pg); err != nil {
		return fmt.Errorf("decode listing page for %s: %w", p.endpoint, err)
	}

	p.buf = pg.Items
	p.nextToken = pg.NextPageToken
	p.started = true
	if pg.NextPageToken == "" {
		p.finished = true
	}
	return nil
}

// Collect drains the Pager, decoding every item into T.
func Collect[T any](ctx context.Context, p *Pager) ([]T, error) {
	var items []T
	for {
		raw, err := p.Next(ctx)
		if err == Done {
			return items, nil
		}
		if err != nil {
			return items, err
		}

		var item T
		if err := json.Unmarshal(raw, &item); err != nil {
			return items, fmt.Errorf("decode item: %w", err)
		}
		items = append(items, item)
	}
}

// Each calls fn for every remaining item, stopping on the first error.
func Each(ctx context.Context, p *Pager, fn func(json.RawMessage) error) error {
	for {
		raw, err := p.Next(ctx)
		if err == Done {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(raw); err != nil {
			return err
		}
	}
}

// Package coda is the typed surface of the Coda API v1: identity, document,
// page, table, column, and row access plus asynchronous page export. All
// calls go through the resilient client; listings are lazy Pagers and page
// export is driven by the export poller.
package coda

import (
	"context"
	"fmt"
	"net/url"

	"github.com/zah/coda-exporter/pkg/client"
	"github.com/zah/coda-exporter/pkg/export"
	"github.com/zah/coda-exporter/pkg/paginate"
)

// API wraps a client with typed endpoint bindings.
type API struct {
	client *client.Client
	poller *export.Poller
}

// New creates the typed API surface on top of a client, with the default
// export poller configuration.
func New(c *client.Client) *API {
	return NewWithPoller(c, export.NewPoller(c, export.DefaultConfig()))
}

// NewWithPoller creates the typed API surface with a custom export poller.
func NewWithPoller(c *client.Client, p *export.Poller) *API {
	return &API{client: c, poller: p}
}

// Client exposes the underlying request executor.
func (a *API) Client() *client.Client {
	return a.client
}

// WhoAmI verifies the token and returns the authenticated user.
func (a *API) WhoAmI(ctx context.Context) (*User, error) {
	resp, err := a.client.Get(ctx, "/whoami", nil)
	if err != nil {
		return nil, err
	}

	var user User
	if err := resp.Decode(&user); err != nil {
		return nil, fmt.Errorf("decode whoami: %w", err)
	}
	return &user, nil
}

// ListDocs lazily lists all documents in the workspace.
func (a *API) ListDocs(params url.Values) *paginate.Pager {
	return paginate.New(a.client, "/docs", params)
}

// GetDoc fetches metadata for one document.
func (a *API) GetDoc(ctx context.Context, docID string) (*Doc, error) {
	resp, err := a.client.Get(ctx, "/docs/"+docID, nil)
	if err != nil {
		return nil, err
	}

	var doc Doc
	if err := resp.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode doc %s: %w", docID, err)
	}
	return &doc, nil
}

// ListPages lazily lists all pages in a document.
func (a *API) ListPages(docID string) *paginate.Pager {
	return paginate.New(a.client, fmt.Sprintf("/docs/%s/pages", docID), nil)
}

// ListTables lazily lists all tables and views in a document.
func (a *API) ListTables(docID string) *paginate.Pager {
	return paginate.New(a.client, fmt.Sprintf("/docs/%s/tables", docID), nil)
}

// GetTable fetches detail for one table or view.
func (a *API) GetTable(ctx context.Context, docID, tableID string) (*Table, error) {
	resp, err := a.client.Get(ctx, fmt.Sprintf("/docs/%s/tables/%s", docID, tableID), nil)
	if err != nil {
		return nil, err
	}

	var table Table
	if err := resp.Decode(&table); err != nil {
		return nil, fmt.Errorf("decode table %s: %w", tableID, err)
	}
	return &table, nil
}

// ListColumns lazily lists all columns of a table.
func (a *API) ListColumns(docID, tableID string) *paginate.Pager {
	return paginate.New(a.client, fmt.Sprintf("/docs/%s/tables/%s/columns", docID, tableID), nil)
}

// GetColumn fetches detail for one column, including its complete format.
func (a *API) GetColumn(ctx context.Context, docID, tableID, columnID string) (*Column, error) {
	resp, err := a.client.Get(ctx, fmt.Sprintf("/docs/%s/tables/%s/columns/%s", docID, tableID, columnID), nil)
	if err != nil {
		return nil, err
	}

	var column Column
	if err := resp.Decode(&column); err != nil {
		return nil, fmt.Errorf("decode column %s: %w", columnID, err)
	}
	return &column, nil
}

// ListRows lazily lists all rows of a table in the given value format.
func (a *API) ListRows(docID, tableID, valueFormat string) *paginate.Pager {
	params := url.Values{}
	if valueFormat != "" {
		params.Set("valueFormat", valueFormat)
	}
	return paginate.New(a.client, fmt.Sprintf("/docs/%s/tables/%s/rows", docID, tableID), params)
}

// ExportPage exports one page and returns its content as text.
func (a *API) ExportPage(ctx context.Context, docID, pageID string, format export.Format) (string, error) {
	return a.poller.ExportPage(ctx, docID, pageID, format)
}

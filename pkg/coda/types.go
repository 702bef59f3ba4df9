package coda

import "encoding/json"

// User is the authenticated token holder returned by /whoami.
type User struct {
	Name          string `json:"name"`
	LoginID       string `json:"loginId"`
	Type          string `json:"type"`
	Scoped        bool   `json:"scoped"`
	TokenName     string `json:"tokenName"`
	Href          string `json:"href"`
	WorkspaceHref string `json:"workspaceHref,omitempty"`
}

// Doc is a document in the workspace.
type Doc struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Name        string `json:"name"`
	Owner       string `json:"owner"`
	OwnerName   string `json:"ownerName"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
	Href        string `json:"href"`
	BrowserLink string `json:"browserLink"`
	Folder      *Ref   `json:"folder,omitempty"`
	Workspace   *Ref   `json:"workspace,omitempty"`
}

// Ref is a lightweight reference to another API object.
type Ref struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
	Href string `json:"href,omitempty"`
}

// Page is a page within a document. Only pages with ContentType "canvas"
// can be exported.
type Page struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Name        string `json:"name"`
	Subtitle    string `json:"subtitle,omitempty"`
	IconName    string `json:"iconName,omitempty"`
	ContentType string `json:"contentType"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
	Href        string `json:"href"`
	BrowserLink string `json:"browserLink"`
	Parent      *Ref   `json:"parent,omitempty"`
}

// CanExport reports whether the page content type supports export.
func (p Page) CanExport() bool {
	return p.ContentType == "canvas"
}

// Table is a table or view in a document. TableType distinguishes the two.
type Table struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	TableType     string          `json:"tableType"`
	Name          string          `json:"name"`
	Href          string          `json:"href"`
	BrowserLink   string          `json:"browserLink"`
	RowCount      int             `json:"rowCount,omitempty"`
	Layout        string          `json:"layout,omitempty"`
	ParentTable   *Ref            `json:"parentTable,omitempty"`
	DisplayColumn *Ref            `json:"displayColumn,omitempty"`
	Filter        json.RawMessage `json:"filter,omitempty"`
	Sorts         json.RawMessage `json:"sorts,omitempty"`
	CreatedAt     string          `json:"createdAt,omitempty"`
	UpdatedAt     string          `json:"updatedAt,omitempty"`
}

// IsView reports whether the object is a view rather than a base table.
func (t Table) IsView() bool {
	return t.TableType == "view"
}

// Column is a table column. Format carries the complete column format
// object, preserved verbatim for downstream consumers.
type Column struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Name         string          `json:"name"`
	Href         string          `json:"href"`
	Display      bool            `json:"display,omitempty"`
	Calculated   bool            `json:"calculated,omitempty"`
	Formula      string          `json:"formula,omitempty"`
	DefaultValue string          `json:"defaultValue,omitempty"`
	Format       json.RawMessage `json:"format,omitempty"`
}

// Row is a table row. Values are kept raw: cell shapes depend on the
// requested value format and the column types.
type Row struct {
	ID          string                     `json:"id"`
	Type        string                     `json:"type"`
	Name        string                     `json:"name"`
	Index       int                        `json:"index"`
	Href        string                     `json:"href"`
	BrowserLink string                     `json:"browserLink"`
	CreatedAt   string                     `json:"createdAt"`
	UpdatedAt   string                     `json:"updatedAt"`
	Values      map[string]json.RawMessage `json:"values"`
}

// Row value formats accepted by the rows listing endpoint.
const (
	// ValueFormatRich preserves links and formatting in cell values.
	ValueFormatRich = "rich"

	// ValueFormatSimple returns plain scalar cell values.
	ValueFormatSimple = "simple"
)

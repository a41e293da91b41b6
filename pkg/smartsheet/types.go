// Package smartsheet is a thin typed gateway over the destination service's
// workspace, sheet, column, and row operations. Every call goes through the
// resilience layer; the destination's rate ceiling is enforced by the shared
// governor.
package smartsheet

// Workspace is a destination workspace container.
type Workspace struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	Permalink string  `json:"permalink,omitempty"`
	Sheets    []Sheet `json:"sheets,omitempty"`
}

// Column is one sheet column.
type Column struct {
	ID      int64  `json:"id"`
	Title   string `json:"title"`
	Type    string `json:"type"`
	Primary bool   `json:"primary,omitempty"`
	Index   int    `json:"index"`
}

// ColumnSpec declares a column for sheet creation.
type ColumnSpec struct {
	Title   string `json:"title"`
	Type    string `json:"type"`
	Primary bool   `json:"primary,omitempty"`
}

// Column types supported by the gateway.
const (
	ColumnTypeText     = "TEXT_NUMBER"
	ColumnTypeDate     = "DATE"
	ColumnTypeCheckbox = "CHECKBOX"
)

// Sheet is a destination sheet, with columns populated on detail fetches.
type Sheet struct {
	ID      int64    `json:"id"`
	Name    string   `json:"name"`
	Columns []Column `json:"columns,omitempty"`
	Rows    []Row    `json:"rows,omitempty"`
}

// SheetSpec declares a sheet for creation inside a workspace.
type SheetSpec struct {
	Name    string       `json:"name"`
	Columns []ColumnSpec `json:"columns"`
}

// Cell is one cell value keyed by column.
type Cell struct {
	ColumnID int64       `json:"columnId"`
	Value    interface{} `json:"value"`
}

// Row is a destination row as returned by the service.
type Row struct {
	ID        int64  `json:"id"`
	RowNumber int    `json:"rowNumber"`
	ParentID  *int64 `json:"parentId,omitempty"`
	Cells     []Cell `json:"cells,omitempty"`
}

// RowSpec declares a row for insertion. ParentRowID nests the row under an
// already-inserted parent; rows without one append at the bottom.
type RowSpec struct {
	ParentRowID *int64
	Cells       []Cell
}

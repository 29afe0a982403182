package model

// TableInfo is one entry in a table listing. Estimated marks the row count
// as a planner estimate rather than an exact COUNT(*).
type TableInfo struct {
	Name      string `json:"name"`
	RowCount  int64  `json:"row_count"`
	Estimated bool   `json:"estimated,omitempty"`
}

// Column describes one column of a remote or local table.
type Column struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Nullable   bool   `json:"nullable"`
	PrimaryKey bool   `json:"primary_key"`
	MaxLength  *int   `json:"max_length,omitempty"`
	Precision  *int   `json:"precision,omitempty"`
	Scale      *int   `json:"scale,omitempty"`
}

// TableSchema is the transport-level schema description exchanged between
// nodes. It is never persisted; the receiver compares it against its local
// schema or synthesizes a CREATE TABLE from it.
type TableSchema struct {
	Table      string   `json:"table"`
	Columns    []Column `json:"columns"`
	PrimaryKey []string `json:"primary_key"`
}

// PrimaryKeySet returns the PK column names as a set for membership checks.
func (s *TableSchema) PrimaryKeySet() map[string]bool {
	set := make(map[string]bool, len(s.PrimaryKey))
	for _, col := range s.PrimaryKey {
		set[col] = true
	}
	return set
}

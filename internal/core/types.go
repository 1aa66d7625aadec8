package core

import (
	"fmt"
	"sort"
	"strings"
)

// LogicalType names a target-store-independent column type.
type LogicalType string

const (
	TypeBoolean   LogicalType = "BOOLEAN"
	TypeInteger   LogicalType = "INTEGER"
	TypeBigint    LogicalType = "BIGINT"
	TypeFloat     LogicalType = "FLOAT"
	TypeNumeric   LogicalType = "NUMERIC"
	TypeVarchar   LogicalType = "VARCHAR"
	TypeBinary    LogicalType = "VARBINARY"
	TypeDate      LogicalType = "DATE"
	TypeTimestamp LogicalType = "TIMESTAMP"
)

// TableIdentity names a target-store table. Equality is by qualified name only.
type TableIdentity struct {
	Name      string
	Namespace string
}

// Qualified returns the dotted qualified name.
func (t TableIdentity) Qualified() string {
	if t.Namespace == "" {
		return t.Name
	}
	return t.Namespace + "." + t.Name
}

// Equal compares identities by qualified name.
func (t TableIdentity) Equal(other TableIdentity) bool {
	return t.Qualified() == other.Qualified()
}

func (t TableIdentity) String() string { return t.Qualified() }

// Column describes one column of a schema.
type Column struct {
	Name      string
	Type      LogicalType
	Nullable  bool
	Length    int // VARCHAR/VARBINARY length; 0 means use the job default
	Precision int // NUMERIC precision
	Scale     int // NUMERIC scale
}

// ColumnSchema is an ordered column list. It is fixed once a pipe is built.
type ColumnSchema []Column

// Names returns column names in schema order.
func (s ColumnSchema) Names() []string {
	names := make([]string, len(s))
	for i, c := range s {
		names[i] = c.Name
	}
	return names
}

// Column finds a column by name.
func (s ColumnSchema) Column(name string) (Column, bool) {
	for _, c := range s {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// SameColumnSet reports whether both schemas hold the same column names,
// ignoring order. Used to validate created external tables.
func (s ColumnSchema) SameColumnSet(other ColumnSchema) bool {
	if len(s) != len(other) {
		return false
	}
	a := s.Names()
	b := other.Names()
	sort.Strings(a)
	sort.Strings(b)
	for i := range a {
		if !strings.EqualFold(a[i], b[i]) {
			return false
		}
	}
	return true
}

// Validate rejects empty or duplicate column definitions before any I/O.
func (s ColumnSchema) Validate() error {
	if len(s) == 0 {
		return Errorf(CodeConfigInvalid, false, "schema has no columns")
	}
	seen := make(map[string]struct{}, len(s))
	for _, c := range s {
		if c.Name == "" {
			return Errorf(CodeConfigInvalid, false, "schema has an unnamed column")
		}
		key := strings.ToLower(c.Name)
		if _, dup := seen[key]; dup {
			return Errorf(CodeConfigInvalid, false, "duplicate column %q", c.Name)
		}
		seen[key] = struct{}{}
		if c.Type == "" {
			return Errorf(CodeConfigInvalid, false, "column %q has no type", c.Name)
		}
	}
	return nil
}

// Row is a single record keyed by column name.
type Row map[string]any

// DataBlock is an ordered, finite batch of rows conforming to a ColumnSchema.
// A block is produced by one worker and consumed immediately by the staging
// store; it does not outlive a single write call.
type DataBlock struct {
	Rows []Row
}

// NumRows returns the row count of the block.
func (b *DataBlock) NumRows() int {
	if b == nil {
		return 0
	}
	return len(b.Rows)
}

func (b *DataBlock) String() string {
	return fmt.Sprintf("DataBlock(%d rows)", b.NumRows())
}

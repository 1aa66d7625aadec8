package schema

import (
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/nucleus/datapipe/internal/core"
)

// QuoteIdent quotes a single identifier for the target store.
func QuoteIdent(name string) string {
	return pq.QuoteIdentifier(name)
}

// QuoteLiteral quotes a string literal for the target store.
func QuoteLiteral(value string) string {
	return pq.QuoteLiteral(value)
}

// QuoteQualified quotes a possibly namespaced table identity.
func QuoteQualified(t core.TableIdentity) string {
	if t.Namespace == "" {
		return QuoteIdent(t.Name)
	}
	return QuoteIdent(t.Namespace) + "." + QuoteIdent(t.Name)
}

// ColumnDefs renders the column definition list of a CREATE TABLE.
// stringLength applies to VARCHAR/VARBINARY columns without an explicit one.
func ColumnDefs(s core.ColumnSchema, stringLength int) string {
	defs := make([]string, len(s))
	for i, c := range s {
		defs[i] = columnDef(c, stringLength)
	}
	return strings.Join(defs, ", ")
}

func columnDef(c core.Column, stringLength int) string {
	def := QuoteIdent(c.Name) + " " + columnType(c, stringLength)
	if !c.Nullable {
		def += " NOT NULL"
	}
	return def
}

func columnType(c core.Column, stringLength int) string {
	switch c.Type {
	case core.TypeVarchar, core.TypeBinary:
		length := c.Length
		if length <= 0 {
			length = stringLength
		}
		return fmt.Sprintf("%s(%d)", c.Type, length)
	case core.TypeNumeric:
		if c.Precision > 0 {
			return fmt.Sprintf("NUMERIC(%d,%d)", c.Precision, c.Scale)
		}
		return "NUMERIC"
	default:
		return string(c.Type)
	}
}

// BuildCreateTable renders the managed-table DDL. rowGroupSize is accepted
// for forward compatibility with storage hints and is currently unused.
func BuildCreateTable(t core.TableIdentity, s core.ColumnSchema, stringLength, rowGroupSize int) string {
	_ = rowGroupSize
	return fmt.Sprintf("CREATE TABLE %s (%s)", QuoteQualified(t), ColumnDefs(s, stringLength))
}

// BuildCreateTempTable renders the merge staging table DDL. The temp table
// lives in the target table's namespace and mirrors the job schema.
func BuildCreateTempTable(namespace, name string, s core.ColumnSchema, stringLength int) string {
	t := core.TableIdentity{Name: name, Namespace: namespace}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", QuoteQualified(t), ColumnDefs(s, stringLength))
}

// BuildExternalTableDDL renders an external table over staged parquet files.
func BuildExternalTableDDL(t core.TableIdentity, s core.ColumnSchema, stringLength int, stagingURI string) string {
	glob := stagingURI + "/*." + core.StagedFileExt
	return fmt.Sprintf("CREATE EXTERNAL TABLE %s (%s) AS COPY FROM %s PARQUET",
		QuoteQualified(t), ColumnDefs(s, stringLength), QuoteLiteral(glob))
}

// BuildDropTable renders an idempotent drop.
func BuildDropTable(t core.TableIdentity) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s", QuoteQualified(t))
}

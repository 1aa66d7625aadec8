// Package schema translates between the pipe's logical column model and the
// target store's column model: live-table introspection, bulk-load column
// lists, merge value expressions, and DDL/statement generation. All
// identifiers pass through lib/pq quoting.
package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/nucleus/datapipe/internal/core"
	"github.com/nucleus/datapipe/internal/db"
)

// NegotiatorVersion tags the legacy or current negotiation dialect.
type NegotiatorVersion int

const (
	NegotiatorV1 NegotiatorVersion = iota + 1
	NegotiatorV2
)

// minNegotiatorV2Major is the first server major with the current catalog views.
const minNegotiatorV2Major = 11

// NegotiatorFor selects the dialect for a detected server major version.
func NegotiatorFor(major int) NegotiatorVersion {
	if major >= minNegotiatorV2Major {
		return NegotiatorV2
	}
	return NegotiatorV1
}

// Negotiator answers schema questions against a live session using the
// dialect fixed at construction.
type Negotiator struct {
	version NegotiatorVersion
}

// NewNegotiator builds a negotiator for the given dialect version.
func NewNegotiator(version NegotiatorVersion) *Negotiator {
	return &Negotiator{version: version}
}

// Version reports the dialect in use.
func (n *Negotiator) Version() NegotiatorVersion { return n.version }

// CopyColumnList derives the bulk-load column list from the live target
// table, keeping only columns present in the job schema, in table order.
// An empty string means the load should use the table's natural order.
func (n *Negotiator) CopyColumnList(ctx context.Context, sess db.Session, table core.TableIdentity, jobSchema core.ColumnSchema) (string, error) {
	live, err := n.TableSchema(ctx, sess, table)
	if err != nil {
		return "", err
	}
	var cols []string
	for _, c := range live {
		if _, ok := jobSchema.Column(c.Name); ok {
			cols = append(cols, QuoteIdent(c.Name))
		}
	}
	if len(cols) == 0 {
		return "", core.Errorf(core.CodeSchemaDiscovery, false,
			"no schema columns match table %s", table)
	}
	if len(cols) == len(live) {
		// Full natural order, no list needed.
		return "", nil
	}
	return "(" + strings.Join(cols, ",") + ")", nil
}

// MergeUpdateValues renders the SET expressions of the upsert's matched
// branch: every non-key column updated from the temp table. tempRef is the
// already-quoted temp table reference.
func (n *Negotiator) MergeUpdateValues(jobSchema core.ColumnSchema, tempRef string, mergeKey []string) string {
	keySet := toLowerSet(mergeKey)
	var parts []string
	for _, c := range jobSchema {
		if _, isKey := keySet[strings.ToLower(c.Name)]; isKey {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%s", QuoteIdent(c.Name), n.sourceRef(tempRef, c.Name)))
	}
	return strings.Join(parts, ",")
}

// MergeInsertValues renders the VALUES list of the upsert's not-matched branch.
func (n *Negotiator) MergeInsertValues(jobSchema core.ColumnSchema, tempRef string) string {
	parts := make([]string, len(jobSchema))
	for i, c := range jobSchema {
		parts[i] = n.sourceRef(tempRef, c.Name)
	}
	return strings.Join(parts, ",")
}

// sourceRef qualifies a temp-table column. The legacy dialect predates merge
// source aliases and must use the full temp table reference.
func (n *Negotiator) sourceRef(tempRef, column string) string {
	if n.version == NegotiatorV1 {
		return tempRef + "." + QuoteIdent(column)
	}
	return "src." + QuoteIdent(column)
}

// TableSchema introspects the live table's column model.
func (n *Negotiator) TableSchema(ctx context.Context, sess db.Session, table core.TableIdentity) (core.ColumnSchema, error) {
	query := n.tableSchemaQuery(table)
	rows, err := sess.Query(ctx, query)
	if err != nil {
		return nil, core.WrapError(core.CodeSchemaDiscovery, false, err)
	}
	defer rows.Close()

	var out core.ColumnSchema
	for rows.Next() {
		var (
			name     string
			dataType string
			nullable sql.NullString
		)
		if err := rows.Scan(&name, &dataType, &nullable); err != nil {
			return nil, core.WrapError(core.CodeSchemaDiscovery, false, err)
		}
		out = append(out, core.Column{
			Name:     name,
			Type:     logicalTypeOf(dataType),
			Nullable: !strings.EqualFold(nullable.String, "NO") && nullable.String != "f" && nullable.String != "false",
		})
	}
	if err := rows.Err(); err != nil {
		return nil, core.WrapError(core.CodeSchemaDiscovery, false, err)
	}
	if len(out) == 0 {
		return nil, core.Errorf(core.CodeSchemaDiscovery, false, "table %s not found or has no columns", table)
	}
	return out, nil
}

func (n *Negotiator) tableSchemaQuery(table core.TableIdentity) string {
	namespace := table.Namespace
	if namespace == "" {
		namespace = "public"
	}
	if n.version == NegotiatorV1 {
		return fmt.Sprintf(
			"SELECT column_name, data_type, is_nullable FROM information_schema.columns WHERE table_schema=%s AND table_name=%s ORDER BY ordinal_position",
			QuoteLiteral(namespace), QuoteLiteral(table.Name))
	}
	return fmt.Sprintf(
		"SELECT column_name, data_type, is_nullable FROM v_catalog.columns WHERE table_schema=%s AND table_name=%s ORDER BY ordinal_position",
		QuoteLiteral(namespace), QuoteLiteral(table.Name))
}

// logicalTypeOf maps reported target-store types onto the pipe's model.
func logicalTypeOf(dataType string) core.LogicalType {
	base := strings.ToUpper(dataType)
	if i := strings.IndexByte(base, '('); i > 0 {
		base = base[:i]
	}
	switch strings.TrimSpace(base) {
	case "BOOLEAN", "BOOL":
		return core.TypeBoolean
	case "INT", "INTEGER", "SMALLINT", "TINYINT":
		return core.TypeInteger
	case "BIGINT", "INT8":
		return core.TypeBigint
	case "FLOAT", "REAL", "DOUBLE", "DOUBLE PRECISION":
		return core.TypeFloat
	case "NUMERIC", "DECIMAL", "NUMBER", "MONEY":
		return core.TypeNumeric
	case "DATE":
		return core.TypeDate
	case "TIMESTAMP", "TIMESTAMPTZ", "DATETIME", "TIMESTAMP WITH TIME ZONE":
		return core.TypeTimestamp
	case "VARBINARY", "BINARY", "BYTEA", "LONG VARBINARY":
		return core.TypeBinary
	default:
		return core.TypeVarchar
	}
}

func toLowerSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[strings.ToLower(n)] = struct{}{}
	}
	return set
}

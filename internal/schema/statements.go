package schema

import (
	"fmt"
	"strings"

	"github.com/nucleus/datapipe/internal/core"
)

// BuildCopy renders the bulk-load statement. columnList may be empty (load
// in the table's natural column order) or a parenthesized list. Rejected
// rows are diverted to rejectTable and the statement does not auto-commit,
// so reconciliation can still roll the load back.
func BuildCopy(target core.TableIdentity, columnList string, fileURIs []string, rejectTable core.TableIdentity) string {
	quoted := make([]string, len(fileURIs))
	for i, u := range fileURIs {
		quoted[i] = QuoteLiteral(u)
	}
	var b strings.Builder
	b.WriteString("COPY ")
	b.WriteString(QuoteQualified(target))
	if columnList != "" {
		b.WriteString(" ")
		b.WriteString(columnList)
	}
	b.WriteString(" FROM ")
	b.WriteString(strings.Join(quoted, ","))
	b.WriteString(" PARQUET REJECTED DATA AS TABLE ")
	b.WriteString(QuoteQualified(rejectTable))
	b.WriteString(" NO COMMIT")
	return b.String()
}

// BuildMerge renders the upsert from the temp table into the target:
// update matched rows on merge-key equality, insert the rest.
func BuildMerge(target, temp core.TableIdentity, jobSchema core.ColumnSchema, mergeKey []string, neg *Negotiator) string {
	srcAlias := "src."
	srcName := QuoteQualified(temp)
	if neg.Version() == NegotiatorV1 {
		srcAlias = srcName + "."
	}

	conds := make([]string, len(mergeKey))
	for i, k := range mergeKey {
		conds[i] = fmt.Sprintf("%s.%s=%s%s", QuoteQualified(target), QuoteIdent(k), srcAlias, QuoteIdent(k))
	}

	cols := make([]string, len(jobSchema))
	for i, c := range jobSchema {
		cols[i] = QuoteIdent(c.Name)
	}

	var b strings.Builder
	b.WriteString("MERGE INTO ")
	b.WriteString(QuoteQualified(target))
	b.WriteString(" USING ")
	b.WriteString(srcName)
	if neg.Version() != NegotiatorV1 {
		b.WriteString(" AS src")
	}
	b.WriteString(" ON ")
	b.WriteString(strings.Join(conds, " AND "))
	b.WriteString(" WHEN MATCHED THEN UPDATE SET ")
	b.WriteString(neg.MergeUpdateValues(jobSchema, srcName, mergeKey))
	b.WriteString(" WHEN NOT MATCHED THEN INSERT (")
	b.WriteString(strings.Join(cols, ","))
	b.WriteString(") VALUES (")
	b.WriteString(neg.MergeInsertValues(jobSchema, srcName))
	b.WriteString(")")
	return b.String()
}

// BuildExport renders the coordinator-side export that stages matching rows
// as parquet files for a read job, honoring projection, predicate, and
// aggregate pushdown plus file tuning values.
func BuildExport(cfg *core.ReadConfig) string {
	var b strings.Builder
	b.WriteString("EXPORT TO PARQUET (directory=")
	b.WriteString(QuoteLiteral(cfg.Staging.URI()))
	if cfg.MaxFileSizeMB > 0 {
		fmt.Fprintf(&b, ", fileSizeMB=%d", cfg.MaxFileSizeMB)
	}
	if cfg.MaxRowGroupSizeMB > 0 {
		fmt.Fprintf(&b, ", rowGroupSizeMB=%d", cfg.MaxRowGroupSizeMB)
	}
	b.WriteString(") AS SELECT ")
	b.WriteString(exportSelectList(cfg))
	b.WriteString(" FROM ")
	if cfg.Query != "" {
		b.WriteString("(")
		b.WriteString(cfg.Query)
		b.WriteString(") AS q")
	} else {
		b.WriteString(QuoteQualified(cfg.Table))
	}
	if cfg.Predicate != "" {
		b.WriteString(" WHERE ")
		b.WriteString(cfg.Predicate)
	}
	return b.String()
}

func exportSelectList(cfg *core.ReadConfig) string {
	if len(cfg.Aggregates) > 0 {
		return strings.Join(cfg.Aggregates, ",")
	}
	if len(cfg.RequiredSchema) == 0 {
		return "*"
	}
	cols := make([]string, len(cfg.RequiredSchema))
	for i, c := range cfg.RequiredSchema {
		cols[i] = QuoteIdent(c.Name)
	}
	return strings.Join(cols, ",")
}

// BuildInferExternalTableDDL renders the version-gated statement that asks
// the target store to derive external-table DDL from existing staged files.
func BuildInferExternalTableDDL(t core.TableIdentity, stagingURI string) string {
	glob := stagingURI + "/*." + core.StagedFileExt
	return fmt.Sprintf(
		"SELECT infer_table_ddl(%s USING PARAMETERS format='parquet', table_name=%s, table_type='external')",
		QuoteLiteral(glob), QuoteLiteral(t.Qualified()))
}

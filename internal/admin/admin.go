// Package admin performs target-store administration for the pipes:
// existence checks, table DDL, external-table creation and validation, and
// the per-job status table. It executes against a db.Session and renders
// SQL through the schema package; behavior that depends on the server
// version is gated by the negotiator dialect it is built with.
package admin

import (
	"context"
	"fmt"
	"strings"

	"github.com/nucleus/datapipe/internal/core"
	"github.com/nucleus/datapipe/internal/db"
	"github.com/nucleus/datapipe/internal/schema"
)

// Admin answers DDL and catalog questions for one job's session.
type Admin struct {
	sess db.Session
	neg  *schema.Negotiator
}

// New builds an Admin bound to a session and negotiation dialect.
func New(sess db.Session, neg *schema.Negotiator) *Admin {
	return &Admin{sess: sess, neg: neg}
}

// TableExists reports whether a table with this identity exists.
func (a *Admin) TableExists(ctx context.Context, t core.TableIdentity) (bool, error) {
	return a.objectExists(ctx, t, "tables")
}

// ViewExists reports whether a view shares the table's name. Views and
// tables share a namespace in the target store and must not collide.
func (a *Admin) ViewExists(ctx context.Context, t core.TableIdentity) (bool, error) {
	return a.objectExists(ctx, t, "views")
}

// TempTableExists reports whether this session's merge staging table exists.
func (a *Admin) TempTableExists(ctx context.Context, t core.TableIdentity) (bool, error) {
	return a.TableExists(ctx, t)
}

func (a *Admin) objectExists(ctx context.Context, t core.TableIdentity, kind string) (bool, error) {
	catalog := "v_catalog." + kind
	if a.neg.Version() == schema.NegotiatorV1 {
		catalog = "information_schema." + kind
	}
	namespace := t.Namespace
	if namespace == "" {
		namespace = "public"
	}
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE table_schema=%s AND table_name=%s",
		catalog, schema.QuoteLiteral(namespace), schema.QuoteLiteral(t.Name))
	var count int64
	if err := a.sess.QueryValue(ctx, query, &count); err != nil {
		return false, core.WrapError(core.CodeSchemaDiscovery, false, err)
	}
	return count > 0, nil
}

// CreateTable executes the supplied DDL, or derives one from the schema
// when ddl is empty.
func (a *Admin) CreateTable(ctx context.Context, t core.TableIdentity, s core.ColumnSchema, ddl string, stringLength, rowGroupSize int) error {
	if ddl == "" {
		ddl = schema.BuildCreateTable(t, s, stringLength, rowGroupSize)
	}
	if err := a.sess.Execute(ctx, ddl); err != nil {
		return core.WrapError(core.CodeDDLFailed, false, err)
	}
	return nil
}

// CreateTempTable creates the merge staging table mirroring the job schema.
func (a *Admin) CreateTempTable(ctx context.Context, t core.TableIdentity, s core.ColumnSchema, stringLength int) error {
	ddl := schema.BuildCreateTempTable(t.Namespace, t.Name, s, stringLength)
	if err := a.sess.Execute(ctx, ddl); err != nil {
		return core.WrapError(core.CodeDDLFailed, false, err)
	}
	return nil
}

// DropTable drops the table; absence is not an error.
func (a *Admin) DropTable(ctx context.Context, t core.TableIdentity) error {
	if err := a.sess.Execute(ctx, schema.BuildDropTable(t)); err != nil {
		return core.WrapError(core.CodeDDLFailed, false, err)
	}
	return nil
}

// CreateExternalTable executes an external-table DDL as given.
func (a *Admin) CreateExternalTable(ctx context.Context, ddl string) error {
	if err := a.sess.Execute(ctx, ddl); err != nil {
		return core.WrapError(core.CodeDDLFailed, false, err)
	}
	return nil
}

// InferExternalTableDDL asks the server to derive external-table DDL from
// files already staged at stagingURI. Only the current dialect supports it.
func (a *Admin) InferExternalTableDDL(ctx context.Context, t core.TableIdentity, stagingURI string) (string, error) {
	if a.neg.Version() == schema.NegotiatorV1 {
		return "", core.Errorf(core.CodeDDLFailed, false,
			"server version does not support external table DDL inference")
	}
	var ddl string
	query := schema.BuildInferExternalTableDDL(t, stagingURI)
	if err := a.sess.QueryValue(ctx, query, &ddl); err != nil {
		return "", core.WrapError(core.CodeDDLFailed, false, err)
	}
	if strings.TrimSpace(ddl) == "" {
		return "", core.Errorf(core.CodeDDLFailed, false, "empty DDL inferred for %s", t)
	}
	return ddl, nil
}

// ValidateExternalTable verifies that the created table's column set
// matches the expected schema. An empty expected schema only checks that
// the table is introspectable.
func (a *Admin) ValidateExternalTable(ctx context.Context, t core.TableIdentity, expected core.ColumnSchema) error {
	live, err := a.neg.TableSchema(ctx, a.sess, t)
	if err != nil {
		return err
	}
	if len(expected) > 0 && !expected.SameColumnSet(live) {
		return core.Errorf(core.CodeDDLFailed, false,
			"external table %s columns %v do not match schema %v", t, live.Names(), expected.Names())
	}
	return nil
}

// CountRows counts rows of a table, used for reject-table reconciliation.
func (a *Admin) CountRows(ctx context.Context, t core.TableIdentity) (int64, error) {
	var count int64
	query := "SELECT COUNT(*) FROM " + schema.QuoteQualified(t)
	if err := a.sess.QueryValue(ctx, query, &count); err != nil {
		return 0, core.WrapError(core.CodeSchemaDiscovery, false, err)
	}
	return count, nil
}

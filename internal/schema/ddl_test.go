package schema

import (
	"testing"

	"github.com/nucleus/datapipe/internal/core"
)

func schemaFixture() core.ColumnSchema {
	return core.ColumnSchema{
		{Name: "id", Type: core.TypeBigint},
		{Name: "name", Type: core.TypeVarchar, Nullable: true, Length: 64},
		{Name: "score", Type: core.TypeFloat, Nullable: true},
	}
}

func TestQuoting(t *testing.T) {
	if got := QuoteIdent(`weird"name`); got != `"weird""name"` {
		t.Fatalf("QuoteIdent = %s", got)
	}
	if got := QuoteLiteral("it's"); got != "'it''s'" {
		t.Fatalf("QuoteLiteral = %s", got)
	}
	if got := QuoteQualified(core.TableIdentity{Name: "events"}); got != `"events"` {
		t.Fatalf("QuoteQualified = %s", got)
	}
	if got := QuoteQualified(core.TableIdentity{Name: "events", Namespace: "public"}); got != `"public"."events"` {
		t.Fatalf("QuoteQualified = %s", got)
	}
}

func TestColumnTypes(t *testing.T) {
	cases := []struct {
		col  core.Column
		want string
	}{
		{core.Column{Name: "f", Type: core.TypeBoolean}, `"f" BOOLEAN NOT NULL`},
		{core.Column{Name: "f", Type: core.TypeVarchar, Nullable: true}, `"f" VARCHAR(1024)`},
		{core.Column{Name: "f", Type: core.TypeVarchar, Length: 32}, `"f" VARCHAR(32) NOT NULL`},
		{core.Column{Name: "f", Type: core.TypeBinary, Nullable: true, Length: 16}, `"f" VARBINARY(16)`},
		{core.Column{Name: "f", Type: core.TypeNumeric, Nullable: true}, `"f" NUMERIC`},
		{core.Column{Name: "f", Type: core.TypeNumeric, Nullable: true, Precision: 12, Scale: 3}, `"f" NUMERIC(12,3)`},
		{core.Column{Name: "f", Type: core.TypeTimestamp, Nullable: true}, `"f" TIMESTAMP`},
	}
	for _, tc := range cases {
		if got := columnDef(tc.col, core.DefaultStringLength); got != tc.want {
			t.Errorf("columnDef = %s, want %s", got, tc.want)
		}
	}
}

func TestBuildCreateTable(t *testing.T) {
	got := BuildCreateTable(core.TableIdentity{Name: "events", Namespace: "public"}, schemaFixture(), 1024, 0)
	want := `CREATE TABLE "public"."events" ("id" BIGINT NOT NULL, "name" VARCHAR(64), "score" FLOAT)`
	if got != want {
		t.Fatalf("BuildCreateTable:\n got %s\nwant %s", got, want)
	}
}

func TestBuildCreateTempTable(t *testing.T) {
	got := BuildCreateTempTable("public", "events_s1", schemaFixture(), 1024)
	want := `CREATE TABLE IF NOT EXISTS "public"."events_s1" ("id" BIGINT NOT NULL, "name" VARCHAR(64), "score" FLOAT)`
	if got != want {
		t.Fatalf("BuildCreateTempTable:\n got %s\nwant %s", got, want)
	}
}

func TestBuildExternalTableDDL(t *testing.T) {
	got := BuildExternalTableDDL(core.TableIdentity{Name: "ext"}, schemaFixture()[:1], 1024, "s3://stage/jobs/1")
	want := `CREATE EXTERNAL TABLE "ext" ("id" BIGINT NOT NULL) AS COPY FROM 's3://stage/jobs/1/*.parquet' PARQUET`
	if got != want {
		t.Fatalf("BuildExternalTableDDL:\n got %s\nwant %s", got, want)
	}
}

func TestBuildDropTable(t *testing.T) {
	got := BuildDropTable(core.TableIdentity{Name: "events", Namespace: "public"})
	if got != `DROP TABLE IF EXISTS "public"."events"` {
		t.Fatalf("BuildDropTable = %s", got)
	}
}

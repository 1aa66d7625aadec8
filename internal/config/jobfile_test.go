package config

import (
	"testing"

	"github.com/nucleus/datapipe/internal/core"
)

const writeJobYAML = `
staging:
  bucket: stage
  path: jobs/nightly
write:
  table: events
  namespace: public
  mode: overwrite
  merge_key: []
  tolerance: 0.05
  partitions: 4
  save_job_status: true
  columns:
    - {name: id, type: bigint}
    - {name: name, type: string, nullable: true, length: 64}
    - {name: amount, type: decimal, nullable: true, precision: 12, scale: 2}
`

const readJobYAML = `
staging:
  bucket: stage
  path: reads/nightly
read:
  table: events
  namespace: public
  partitions: 8
  predicate: "amount > 0"
  max_file_size_mb: 256
`

func TestParseWriteJob(t *testing.T) {
	jf, err := ParseJobFile([]byte(writeJobYAML))
	if err != nil {
		t.Fatalf("ParseJobFile: %v", err)
	}
	env := &Environment{Driver: "pgx", DSN: "dsn", User: "loader"}
	cfg, err := jf.WriteConfig(env)
	if err != nil {
		t.Fatalf("WriteConfig: %v", err)
	}
	if cfg.Table.Qualified() != "public.events" {
		t.Fatalf("table = %s", cfg.Table)
	}
	if cfg.Mode != core.WriteModeOverwrite {
		t.Fatalf("mode = %v", cfg.Mode)
	}
	if cfg.Tolerance != 0.05 || !cfg.SaveJobStatus {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.SessionID == "" {
		t.Fatal("session id not minted")
	}
	if len(cfg.Schema) != 3 {
		t.Fatalf("schema = %v", cfg.Schema)
	}
	amount, ok := cfg.Schema.Column("amount")
	if !ok || amount.Type != core.TypeNumeric || amount.Precision != 12 || amount.Scale != 2 {
		t.Fatalf("amount = %+v", amount)
	}
	if jf.Partitions() != 4 {
		t.Fatalf("partitions = %d", jf.Partitions())
	}

	// Each materialization is a fresh job.
	cfg2, err := jf.WriteConfig(env)
	if err != nil {
		t.Fatalf("WriteConfig: %v", err)
	}
	if cfg2.SessionID == cfg.SessionID {
		t.Fatal("session ids must differ per materialization")
	}
}

func TestParseReadJob(t *testing.T) {
	jf, err := ParseJobFile([]byte(readJobYAML))
	if err != nil {
		t.Fatalf("ParseJobFile: %v", err)
	}
	cfg, err := jf.ReadConfig(&Environment{})
	if err != nil {
		t.Fatalf("ReadConfig: %v", err)
	}
	if cfg.Table.Qualified() != "public.events" || cfg.PartitionCountHint != 8 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Predicate != "amount > 0" || cfg.MaxFileSizeMB != 256 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if _, err := jf.WriteConfig(&Environment{}); err == nil {
		t.Fatal("read job must not materialize a write config")
	}
}

func TestParseJobFileRejectsShapes(t *testing.T) {
	if _, err := ParseJobFile([]byte("staging: {bucket: b}")); err == nil {
		t.Fatal("job with neither section must fail")
	}
	both := writeJobYAML + "\nread:\n  table: x\n"
	if _, err := ParseJobFile([]byte(both)); err == nil {
		t.Fatal("job with both sections must fail")
	}
	if _, err := ParseJobFile([]byte("write: [nope")); err == nil {
		t.Fatal("malformed yaml must fail")
	}
}

func TestParseJobFileBadValues(t *testing.T) {
	bad := `
staging: {bucket: stage, path: p}
write:
  table: events
  mode: sideways
  columns: [{name: id, type: bigint}]
`
	jf, err := ParseJobFile([]byte(bad))
	if err != nil {
		t.Fatalf("ParseJobFile: %v", err)
	}
	if _, err := jf.WriteConfig(&Environment{}); core.CodeValue(err) != core.CodeConfigInvalid {
		t.Fatalf("bad mode error = %v", err)
	}

	badType := `
staging: {bucket: stage, path: p}
write:
  table: events
  columns: [{name: id, type: whatever}]
`
	jf, err = ParseJobFile([]byte(badType))
	if err != nil {
		t.Fatalf("ParseJobFile: %v", err)
	}
	if _, err := jf.WriteConfig(&Environment{}); core.CodeValue(err) != core.CodeConfigInvalid {
		t.Fatalf("bad type error = %v", err)
	}
}

func TestParseLogicalTypeAliases(t *testing.T) {
	cases := map[string]core.LogicalType{
		"bigint":    core.TypeBigint,
		"int":       core.TypeInteger,
		"string":    core.TypeVarchar,
		"TEXT":      core.TypeVarchar,
		"double":    core.TypeFloat,
		"decimal":   core.TypeNumeric,
		"timestamp": core.TypeTimestamp,
	}
	for in, want := range cases {
		got, err := parseLogicalType(in)
		if err != nil || got != want {
			t.Errorf("parseLogicalType(%q) = %s, %v", in, got, err)
		}
	}
	if _, err := parseLogicalType("blob"); err == nil {
		t.Fatal("unknown type must fail")
	}
}

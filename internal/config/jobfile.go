package config

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nucleus/datapipe/internal/core"
)

// JobFile is the YAML description of a single write or read job. Exactly
// one of Write or Read must be present.
type JobFile struct {
	Staging stagingSpec `yaml:"staging"`
	Write   *writeSpec  `yaml:"write"`
	Read    *readSpec   `yaml:"read"`
}

type stagingSpec struct {
	Bucket string `yaml:"bucket"`
	Path   string `yaml:"path"`
}

type columnSpec struct {
	Name      string `yaml:"name"`
	Type      string `yaml:"type"`
	Nullable  bool   `yaml:"nullable"`
	Length    int    `yaml:"length"`
	Precision int    `yaml:"precision"`
	Scale     int    `yaml:"scale"`
}

type writeSpec struct {
	Table          string       `yaml:"table"`
	Namespace      string       `yaml:"namespace"`
	Columns        []columnSpec `yaml:"columns"`
	Mode           string       `yaml:"mode"`
	ExternalTable  string       `yaml:"external_table"`
	MergeKey       []string     `yaml:"merge_key"`
	TableDDL       string       `yaml:"table_ddl"`
	CopyColumnList string       `yaml:"copy_column_list"`
	StringLength   int          `yaml:"string_length"`
	Tolerance      float64      `yaml:"tolerance"`
	Partitions     int          `yaml:"partitions"`
	SaveJobStatus  bool         `yaml:"save_job_status"`
	PreventCleanup bool         `yaml:"prevent_cleanup"`
}

type readSpec struct {
	Table             string       `yaml:"table"`
	Namespace         string       `yaml:"namespace"`
	Query             string       `yaml:"query"`
	Columns           []columnSpec `yaml:"columns"`
	Partitions        int          `yaml:"partitions"`
	Predicate         string       `yaml:"predicate"`
	Aggregates        []string     `yaml:"aggregates"`
	MaxFileSizeMB     int          `yaml:"max_file_size_mb"`
	MaxRowGroupSizeMB int          `yaml:"max_row_group_size_mb"`
}

// LoadJobFile parses and validates a YAML job file.
func LoadJobFile(path string) (*JobFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, core.WrapError(core.CodeConfigInvalid, false, err)
	}
	return ParseJobFile(data)
}

// ParseJobFile parses a YAML job document.
func ParseJobFile(data []byte) (*JobFile, error) {
	var jf JobFile
	if err := yaml.Unmarshal(data, &jf); err != nil {
		return nil, core.WrapError(core.CodeConfigInvalid, false, err)
	}
	if jf.Write == nil && jf.Read == nil {
		return nil, core.Errorf(core.CodeConfigInvalid, false, "job file declares neither write nor read")
	}
	if jf.Write != nil && jf.Read != nil {
		return nil, core.Errorf(core.CodeConfigInvalid, false, "job file declares both write and read")
	}
	return &jf, nil
}

// WriteConfig materializes the job as a validated write configuration.
// Each call mints a fresh session id.
func (jf *JobFile) WriteConfig(env *Environment) (*core.WriteConfig, error) {
	if jf.Write == nil {
		return nil, core.Errorf(core.CodeConfigInvalid, false, "job file has no write section")
	}
	spec := jf.Write
	mode, err := parseWriteMode(spec.Mode)
	if err != nil {
		return nil, err
	}
	external, err := parseExternalMode(spec.ExternalTable)
	if err != nil {
		return nil, err
	}
	schema, err := parseColumns(spec.Columns)
	if err != nil {
		return nil, err
	}
	cfg := &core.WriteConfig{
		Connection:     env.Connection(),
		Staging:        core.StagingAddress{Bucket: jf.Staging.Bucket, Path: jf.Staging.Path},
		Table:          core.TableIdentity{Name: spec.Table, Namespace: spec.Namespace},
		Schema:         schema,
		SessionID:      core.NewSessionID(),
		Mode:           mode,
		ExternalMode:   external,
		MergeKey:       spec.MergeKey,
		TableDDL:       spec.TableDDL,
		CopyColumnList: spec.CopyColumnList,
		StringLength:   spec.StringLength,
		Tolerance:      spec.Tolerance,
		SaveJobStatus:  spec.SaveJobStatus,
		PreventCleanup: spec.PreventCleanup,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Partitions reports the write job's partition count, defaulting to one.
func (jf *JobFile) Partitions() int {
	switch {
	case jf.Write != nil && jf.Write.Partitions > 0:
		return jf.Write.Partitions
	case jf.Read != nil && jf.Read.Partitions > 0:
		return jf.Read.Partitions
	default:
		return 1
	}
}

// ReadConfig materializes the job as a validated read configuration.
func (jf *JobFile) ReadConfig(env *Environment) (*core.ReadConfig, error) {
	if jf.Read == nil {
		return nil, core.Errorf(core.CodeConfigInvalid, false, "job file has no read section")
	}
	spec := jf.Read
	schema, err := parseColumns(spec.Columns)
	if err != nil {
		return nil, err
	}
	cfg := &core.ReadConfig{
		Connection:         env.Connection(),
		Staging:            core.StagingAddress{Bucket: jf.Staging.Bucket, Path: jf.Staging.Path},
		Table:              core.TableIdentity{Name: spec.Table, Namespace: spec.Namespace},
		Query:              spec.Query,
		PartitionCountHint: spec.Partitions,
		RequiredSchema:     schema,
		Predicate:          spec.Predicate,
		Aggregates:         spec.Aggregates,
		MaxFileSizeMB:      spec.MaxFileSizeMB,
		MaxRowGroupSizeMB:  spec.MaxRowGroupSizeMB,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseColumns(specs []columnSpec) (core.ColumnSchema, error) {
	cols := make(core.ColumnSchema, 0, len(specs))
	for _, s := range specs {
		t, err := parseLogicalType(s.Type)
		if err != nil {
			return nil, err
		}
		cols = append(cols, core.Column{
			Name:      s.Name,
			Type:      t,
			Nullable:  s.Nullable,
			Length:    s.Length,
			Precision: s.Precision,
			Scale:     s.Scale,
		})
	}
	return cols, nil
}

func parseLogicalType(s string) (core.LogicalType, error) {
	switch core.LogicalType(strings.ToUpper(strings.TrimSpace(s))) {
	case core.TypeBoolean:
		return core.TypeBoolean, nil
	case core.TypeInteger, "INT":
		return core.TypeInteger, nil
	case core.TypeBigint:
		return core.TypeBigint, nil
	case core.TypeFloat, "DOUBLE":
		return core.TypeFloat, nil
	case core.TypeNumeric, "DECIMAL":
		return core.TypeNumeric, nil
	case core.TypeVarchar, "STRING", "TEXT":
		return core.TypeVarchar, nil
	case core.TypeBinary:
		return core.TypeBinary, nil
	case core.TypeDate:
		return core.TypeDate, nil
	case core.TypeTimestamp:
		return core.TypeTimestamp, nil
	default:
		return "", core.Errorf(core.CodeConfigInvalid, false, "unknown column type %q", s)
	}
}

func parseWriteMode(s string) (core.WriteMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "create":
		return core.WriteModeCreate, nil
	case "overwrite":
		return core.WriteModeOverwrite, nil
	case "append":
		return core.WriteModeAppend, nil
	default:
		return 0, core.Errorf(core.CodeConfigInvalid, false, "unknown write mode %q", s)
	}
}

func parseExternalMode(s string) (core.ExternalTableMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return core.ExternalNone, nil
	case "new-data", "new_data":
		return core.ExternalNewData, nil
	case "existing-data", "existing_data":
		return core.ExternalExistingData, nil
	default:
		return 0, core.Errorf(core.CodeConfigInvalid, false, "unknown external table mode %q", s)
	}
}

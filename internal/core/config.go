package core

import (
	"strings"

	"github.com/google/uuid"
)

// StagedFileExt is the extension of staged partition files.
const StagedFileExt = "parquet"

// DefaultStringLength is used for VARCHAR columns without an explicit length.
const DefaultStringLength = 1024

// WriteMode fixes the target-table disposition at construction time.
type WriteMode int

const (
	// WriteModeCreate creates the table when absent and appends otherwise.
	WriteModeCreate WriteMode = iota
	// WriteModeOverwrite drops any existing table before creating it.
	WriteModeOverwrite
	// WriteModeAppend requires the table to already exist.
	WriteModeAppend
)

func (m WriteMode) String() string {
	switch m {
	case WriteModeOverwrite:
		return "overwrite"
	case WriteModeAppend:
		return "append"
	default:
		return "create"
	}
}

// ExternalTableMode selects the external-table commit path.
type ExternalTableMode int

const (
	// ExternalNone loads staged files into a managed table.
	ExternalNone ExternalTableMode = iota
	// ExternalNewData creates an external table over files staged by this job.
	ExternalNewData
	// ExternalExistingData creates an external table over files already
	// present at the staging address, inferring the DDL from their metadata.
	ExternalExistingData
)

func (m ExternalTableMode) String() string {
	switch m {
	case ExternalNewData:
		return "new-data"
	case ExternalExistingData:
		return "existing-data"
	default:
		return "none"
	}
}

// ConnectionConfig describes the target-store connection.
type ConnectionConfig struct {
	Driver string // database/sql driver name
	DSN    string
	User   string
}

// StagingAddress locates a job's staging directory in the object store.
type StagingAddress struct {
	Bucket string
	Path   string
}

// Dir returns the slash-joined staging directory path within the bucket.
func (a StagingAddress) Dir() string {
	return strings.Trim(a.Path, "/")
}

// URI renders the staging directory as a URI the target store can load from.
func (a StagingAddress) URI() string {
	if a.Dir() == "" {
		return "s3://" + a.Bucket
	}
	return "s3://" + a.Bucket + "/" + a.Dir()
}

// WriteConfig is constructed once per write job and owned by the pipe for
// its lifetime. SessionID must be unique per job; it derives the temporary
// table and reject table names, and collisions between concurrent jobs
// against the same table are a caller responsibility.
type WriteConfig struct {
	Connection ConnectionConfig
	Staging    StagingAddress
	Table      TableIdentity
	Schema     ColumnSchema

	SessionID       string
	Mode            WriteMode
	ExternalMode    ExternalTableMode
	MergeKey        []string // non-empty enables the upsert path
	TableDDL        string   // optional explicit DDL override
	CopyColumnList  string   // optional explicit bulk-load column list
	StringLength    int      // default VARCHAR length for derived DDL
	Tolerance       float64  // rejected-row tolerance fraction in [0,1]
	FilePermissions uint32   // staged file permission mask
	SaveJobStatus   bool
	PreventCleanup  bool
}

// TempTableName is the merge staging table for this session.
func (c *WriteConfig) TempTableName() string {
	return c.Table.Name + "_" + c.SessionID
}

// RejectTableName is the per-session reject table for bulk loads.
func (c *WriteConfig) RejectTableName() string {
	return c.TempTableName() + "_COMMITS"
}

// Validate surfaces configuration errors before any I/O.
func (c *WriteConfig) Validate() error {
	if c.Table.Name == "" {
		return Errorf(CodeConfigInvalid, false, "target table name is required")
	}
	if c.SessionID == "" {
		return Errorf(CodeConfigInvalid, false, "session id is required")
	}
	if c.Staging.Bucket == "" {
		return Errorf(CodeConfigInvalid, false, "staging bucket is required")
	}
	if c.Tolerance < 0 || c.Tolerance > 1 {
		return Errorf(CodeConfigInvalid, false, "tolerance %v outside [0,1]", c.Tolerance)
	}
	if c.ExternalMode == ExternalNone || c.ExternalMode == ExternalNewData {
		if err := c.Schema.Validate(); err != nil {
			return err
		}
	}
	for _, key := range c.MergeKey {
		if _, ok := c.Schema.Column(key); !ok {
			return Errorf(CodeConfigInvalid, false, "merge key column %q not in schema", key)
		}
	}
	if len(c.MergeKey) > 0 && c.ExternalMode != ExternalNone {
		return Errorf(CodeConfigInvalid, false, "merge is not supported with external tables")
	}
	return nil
}

// StringLengthOrDefault returns the configured default VARCHAR length.
func (c *WriteConfig) StringLengthOrDefault() int {
	if c.StringLength > 0 {
		return c.StringLength
	}
	return DefaultStringLength
}

// ReadConfig is constructed once per read job.
type ReadConfig struct {
	Connection ConnectionConfig
	Staging    StagingAddress

	Table TableIdentity
	Query string // raw query overrides Table when set

	PartitionCountHint int
	RequiredSchema     ColumnSchema // projection; empty means all columns
	Predicate          string       // pushed-down filter, already rendered as SQL
	Aggregates         []string     // pushed-down aggregate expressions; need a RequiredSchema describing their output

	MaxFileSizeMB     int
	MaxRowGroupSizeMB int
}

// Validate surfaces configuration errors before any I/O.
func (c *ReadConfig) Validate() error {
	if c.Table.Name == "" && c.Query == "" {
		return Errorf(CodeConfigInvalid, false, "source table or query is required")
	}
	if c.Table.Name != "" && c.Query != "" {
		return Errorf(CodeConfigInvalid, false, "table and query are mutually exclusive")
	}
	if c.Staging.Bucket == "" {
		return Errorf(CodeConfigInvalid, false, "staging bucket is required")
	}
	if c.PartitionCountHint < 0 {
		return Errorf(CodeConfigInvalid, false, "partition count hint must be >= 0")
	}
	// Aggregates reshape the exported rows; the table's own schema no
	// longer describes them, so the caller must state the output columns.
	if len(c.Aggregates) > 0 && len(c.RequiredSchema) == 0 {
		return Errorf(CodeConfigInvalid, false, "aggregate pushdown requires an explicit column projection")
	}
	return nil
}

// NewSessionID mints a job-unique session identifier.
func NewSessionID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

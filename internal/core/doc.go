// Package core provides the shared data model for the bulk data pipe:
// table identities, column schemas, row blocks, job configurations, and
// commit outcomes. These models carry no I/O of their own and are consumed
// by the staging, session, and pipe layers.
//
// Structure:
//
//	types.go    - TableIdentity, Column, ColumnSchema, Row, DataBlock
//	config.go   - WriteConfig, ReadConfig, modes, validation
//	outcome.go  - CommitOutcome, PartitionDescriptor
//	errors.go   - coded error type shared by the session/admin/pipe layers
package core

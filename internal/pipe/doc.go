// Package pipe implements the write and read pipes that move row data
// between the staging store and the target store under a partitioned,
// fault-tolerant, two-phase protocol.
//
// One coordinator drives PrepareTarget and Commit (write) or
// PlanPartitions (read), exactly once per job. Parallel workers each own
// one partition: a staged file opened with StartPartitionWrite and made
// durable by EndPartitionWrite, or a staged read stream opened from a
// PartitionDescriptor. Commit observes only files whose writer completed.
//
// Structure:
//
//	write.go    - WritePipe, pre-write setup, per-partition writes, abort
//	commit.go   - commit transaction and its state machine
//	read.go     - ReadPipe, partition planning, staged reads
//	factory.go  - version-gated pipe/negotiator selection, session pool
package pipe

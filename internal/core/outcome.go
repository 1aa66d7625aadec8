package core

import "fmt"

// CommitStatus tags the outcome of a commit transaction.
type CommitStatus int

const (
	CommitSucceeded CommitStatus = iota
	CommitFaultToleranceExceeded
	CommitAborted
)

func (s CommitStatus) String() string {
	switch s {
	case CommitSucceeded:
		return "succeeded"
	case CommitFaultToleranceExceeded:
		return "fault-tolerance-exceeded"
	default:
		return "aborted"
	}
}

// CommitOutcome reports the result of the single coordinator commit call.
// Cause is set only for CommitAborted.
type CommitOutcome struct {
	Status       CommitStatus
	Cause        error
	RowsLoaded   int64
	RowsRejected int64
}

func (o CommitOutcome) String() string {
	if o.Cause != nil {
		return fmt.Sprintf("%s: %v", o.Status, o.Cause)
	}
	return fmt.Sprintf("%s (loaded=%d rejected=%d)", o.Status, o.RowsLoaded, o.RowsRejected)
}

// PartitionDescriptor is an opaque handle produced by read planning and
// consumed by exactly one worker.
type PartitionDescriptor struct {
	Index int
	Path  string // staged file path within the staging bucket
}

// PartitionResult summarizes one partition's staged write.
type PartitionResult struct {
	PartitionID string
	Rows        int64
	Bytes       int64
	Checksum    uint64 // xxh3 of the staged file contents
}

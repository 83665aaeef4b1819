package sourcedb

import "fmt"

// EvaluationTimeoutError reports that a fragment's deadline expired before
// the source DB returned. Worker-only per spec.md §7: it increments the
// fragment's retry counter and is never surfaced to the original query's
// caller.
type EvaluationTimeoutError struct {
	Partition string
	Hash      string
	Timeout   string
}

func (e *EvaluationTimeoutError) Error() string {
	return fmt.Sprintf("evaluation of %s/%s exceeded deadline %s", e.Partition, e.Hash, e.Timeout)
}

package scheduler

// Flow labels supplied by callers at submission time.
const (
	FlowInteractive = "interactive"
	FlowApproval    = "approval"
	FlowIngest      = "ingest"
	FlowBatch       = "batch"
)

// DefaultPriority is stamped on jobs whose flow label is unrecognized.
const DefaultPriority = 10

var flowPriorities = map[string]int{
	FlowInteractive: 1,
	FlowApproval:    2,
	FlowIngest:      3,
	FlowBatch:       5,
}

// PriorityFor maps a caller-supplied flow label to the numeric priority
// stamped on the job. Lower means serviced sooner; ordering by it is the
// consumer's responsibility, this core only records the value.
func PriorityFor(flow string) int {
	if p, ok := flowPriorities[flow]; ok {
		return p
	}
	return DefaultPriority
}

package indexer

// Status is the outcome of one source record.
type Status string

const (
	StatusAdmitted   Status = "admitted"
	StatusSkipped    Status = "skipped"
	StatusRejected   Status = "rejected"
	StatusUnreadable Status = "unreadable"
)

// DegradedPart identifies a stored part whose content was degraded.
type DegradedPart struct {
	Order  int
	Reason string
}

// Outcome is what happened to one source record.
type Outcome struct {
	Index     int
	Location  string
	MessageID string
	Status    Status
	Err       error
	Degraded  []DegradedPart
}

// Report summarizes one run. Outcomes are in source order.
type Report struct {
	RunID                string
	Admitted             int
	Skipped              int
	Rejected             int
	Unreadable           int
	Degraded             int // degraded parts across admitted messages
	ConcurrentDuplicates int // skips detected by the admission insert
	Outcomes             []Outcome
	Cancelled            bool
}

func (r *Report) add(o Outcome) {
	switch o.Status {
	case StatusAdmitted:
		r.Admitted++
	case StatusSkipped:
		r.Skipped++
	case StatusRejected:
		r.Rejected++
	case StatusUnreadable:
		r.Unreadable++
	}
	r.Degraded += len(o.Degraded)
	r.Outcomes = append(r.Outcomes, o)
}

// Total returns the number of records processed.
func (r *Report) Total() int {
	return len(r.Outcomes)
}

// UnreadableRecords returns the outcomes of records that could not be read.
func (r *Report) UnreadableRecords() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Status == StatusUnreadable {
			out = append(out, o)
		}
	}
	return out
}

package domain

// Status is the terminal state of one event's pipeline run.
type Status string

const (
	StatusReplied       Status = "replied"        // answer delivered, nothing to persist
	StatusPersisted     Status = "persisted"      // chat answer delivered and both turns stored
	StatusPersistFailed Status = "persist_failed" // chat answer delivered, storing turns failed
	StatusFallback      Status = "fallback"       // no content available, fallback text delivered
	StatusFailed        Status = "failed"
	StatusSkipped       Status = "skipped" // not a message event
)

type Outcome struct {
	Index  int
	UserID string
	Status Status
	Err    error
}

// Summary aggregates the outcomes of a batch in event order.
type Summary struct {
	Outcomes []Outcome
}

// Failed returns the outcomes that ended in StatusFailed.
func (s Summary) Failed() []Outcome {
	var out []Outcome
	for _, o := range s.Outcomes {
		if o.Status == StatusFailed {
			out = append(out, o)
		}
	}
	return out
}

// OK reports whether no event in the batch failed.
func (s Summary) OK() bool {
	return len(s.Failed()) == 0
}

// Count returns how many outcomes ended in the given status.
func (s Summary) Count(status Status) int {
	n := 0
	for _, o := range s.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

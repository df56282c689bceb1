package metrics

import "sync/atomic"

// RunMetrics counts item outcomes of one run; the applier and the orchestrator share it.
type RunMetrics struct {
	Created      atomic.Int32
	Updated      atomic.Int32
	Deleted      atomic.Int32
	Failed       atomic.Int32
	StepWarnings atomic.Int32
}

type RunSnapshot struct {
	Created      int `json:"created"`
	Updated      int `json:"updated"`
	Deleted      int `json:"deleted"`
	Failed       int `json:"failed"`
	StepWarnings int `json:"stepWarnings"`
}

func (m *RunMetrics) Snapshot() RunSnapshot {
	return RunSnapshot{
		Created:      int(m.Created.Load()),
		Updated:      int(m.Updated.Load()),
		Deleted:      int(m.Deleted.Load()),
		Failed:       int(m.Failed.Load()),
		StepWarnings: int(m.StepWarnings.Load()),
	}
}

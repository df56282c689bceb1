package apply

import (
	"time"

	"gomarketplace_sync/metrics"
)

type Bucket string

const (
	BucketNew     Bucket = "new"
	BucketChanged Bucket = "changed"
	BucketDeleted Bucket = "deleted"
)

type Result string

const (
	ResultOK     Result = "ok"
	ResultFailed Result = "failed"
)

type ItemResult struct {
	SKU      string       `json:"sku"`
	Bucket   Bucket       `json:"bucket"`
	Result   Result       `json:"result"`
	RemoteID string       `json:"remoteId,omitempty"`
	Error    string       `json:"error,omitempty"`
	Warnings []string     `json:"warnings,omitempty"`
	Steps    []StepResult `json:"steps,omitempty"`
}

// Report summarises one apply pass.
type Report struct {
	RunID      string              `json:"runId"`
	StartedAt  time.Time           `json:"startedAt"`
	FinishedAt time.Time           `json:"finishedAt"`
	Summary    metrics.RunSnapshot `json:"summary"`
	Items      []ItemResult        `json:"items"`
}

func (r *Report) add(res ItemResult) {
	r.Items = append(r.Items, res)
}

// Failures returns the items that did not complete.
func (r Report) Failures() []ItemResult {
	var out []ItemResult
	for _, it := range r.Items {
		if it.Result != ResultOK {
			out = append(out, it)
		}
	}
	return out
}

func (r Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

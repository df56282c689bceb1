package apply

import (
	"fmt"

	"gomarketplace_sync/internal/platform"
	"gomarketplace_sync/pkg/logger"
)

type Step string

const (
	StepCreate        Step = "create"
	StepOptions       Step = "options"
	StepImages        Step = "images"
	StepInventory     Step = "inventory"
	StepCollections   Step = "collections"
	StepPublish       Step = "publish"
	StepRequireRemote Step = "require-remote"
	StepFetch         Step = "fetch"
	StepUpdate        Step = "update"
	StepRefetch       Step = "refetch"
	StepDeleteRemote  Step = "delete-remote"
	StepDeleteLocal   Step = "delete-local"
	StepPersist       Step = "persist"
)

type Outcome string

const (
	OutcomeOK        Outcome = "ok"
	OutcomeRetryable Outcome = "retryable"
	OutcomeFatal     Outcome = "fatal"
)

// StepResult is what every pipeline step reports. Retryable marks failures that may pass on
// a later run (throttling, 5xx, network); the step policy alone decides whether the item stops.
type StepResult struct {
	Step    Step    `json:"step"`
	Outcome Outcome `json:"outcome"`
	Err     error   `json:"-"`
}

func (r StepResult) Failed() bool { return r.Outcome != OutcomeOK }

func resultOf(step Step, err error) StepResult {
	switch {
	case err == nil:
		return StepResult{Step: step, Outcome: OutcomeOK}
	case platform.IsRetryable(err):
		return StepResult{Step: step, Outcome: OutcomeRetryable, Err: err}
	default:
		return StepResult{Step: step, Outcome: OutcomeFatal, Err: err}
	}
}

type Severity int

const (
	// Abort stops the item's pipeline and marks the item failed.
	Abort Severity = iota
	// Advisory logs the failure; the item can still succeed.
	Advisory
)

// Policy maps each step to what its failure means for the item.
type Policy map[Step]Severity

var CreatePolicy = Policy{
	StepCreate:      Abort,
	StepOptions:     Abort,
	StepImages:      Advisory,
	StepInventory:   Abort,
	StepCollections: Abort,
	StepPublish:     Advisory,
	StepPersist:     Abort,
}

var UpdatePolicy = Policy{
	StepRequireRemote: Abort,
	StepFetch:         Abort,
	StepUpdate:        Abort,
	StepImages:        Abort,
	StepRefetch:       Abort,
	StepInventory:     Abort,
	StepCollections:   Abort,
	StepPersist:       Abort,
}

var DeletePolicy = Policy{
	StepDeleteRemote: Abort,
	StepDeleteLocal:  Abort,
}

func (p Policy) severity(step Step) Severity {
	if s, ok := p[step]; ok {
		return s
	}
	return Abort
}

// pipeline runs the steps of one item under a policy and remembers how they went.
type pipeline struct {
	sku      string
	policy   Policy
	log      logger.Logger
	steps    []StepResult
	warnings []string
	failure  *StepResult
}

// run executes fn unless an earlier step aborted. It reports whether the pipeline may go on.
func (p *pipeline) run(step Step, fn func() error) bool {
	if p.failure != nil {
		return false
	}
	res := resultOf(step, fn())
	p.steps = append(p.steps, res)
	if !res.Failed() {
		return true
	}
	if p.policy.severity(step) == Advisory {
		msg := fmt.Sprintf("%s: %v", step, res.Err)
		p.warnings = append(p.warnings, msg)
		p.log.Warn("%s: step %s failed, continuing: %v", p.sku, step, res.Err)
		return true
	}
	p.failure = &res
	p.log.Error("%s: step %s failed (%s): %v", p.sku, step, res.Outcome, res.Err)
	return false
}

// warn records a non-step problem, such as a skipped inventory level.
func (p *pipeline) warn(format string, v ...any) {
	msg := fmt.Sprintf(format, v...)
	p.warnings = append(p.warnings, msg)
	p.log.Error("%s: %s", p.sku, msg)
}

func (p *pipeline) failed() bool { return p.failure != nil }

func (p *pipeline) errorMessage() string {
	if p.failure == nil {
		return ""
	}
	return fmt.Sprintf("%s failed: %v", p.failure.Step, p.failure.Err)
}

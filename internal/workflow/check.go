package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/halogen-os/xtask/internal/report"
)

// CheckResult holds the full outcome of a check run.
type CheckResult struct {
	RunResult *report.RunResult
	Steps     []StepResult
	FailedIdx int // -1 if all passed
	err       error
}

// StepResult holds the outcome of a single check step.
type StepResult struct {
	Name   string
	Status string // pass, fail, skipped, unavailable
	Detail string // extra info (e.g. "cargo is required but not installed.")
}

// Err returns the error of the failed step, or nil when every step passed.
func (r *CheckResult) Err() error {
	if r.FailedIdx < 0 {
		return nil
	}
	return fmt.Errorf("check step %s: %w", r.Steps[r.FailedIdx].Name, r.err)
}

func (r *CheckResult) String() string {
	var b strings.Builder
	for _, s := range r.Steps {
		fmt.Fprintf(&b, "%-10s %s", s.Name, s.Status)
		if s.Detail != "" {
			fmt.Fprintf(&b, "  %s", FirstLine(s.Detail))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// Check runs the configured check steps (default fmt_check, build, test) in
// sequence, stopping on first failure. Remaining steps are reported as
// skipped. When the engine has a Record, findings go there and the step
// statuses stay in the CheckResult only.
func (e *Engine) Check(ctx context.Context) *CheckResult {
	rr := e.Record
	nested := rr != nil
	if !nested {
		rr = &report.RunResult{ID: uuid.New().String(), Kind: report.Tasks}
	}

	steps := e.Config.CheckSteps()
	results := make([]StepResult, len(steps))
	for i, step := range steps {
		results[i] = StepResult{Name: step, Status: report.StatusSkipped}
	}

	out := &CheckResult{RunResult: rr, Steps: results, FailedIdx: -1}
	for i, step := range steps {
		err := e.step(ctx, rr, step)
		if err == nil {
			results[i].Status = report.StatusPass
			continue
		}

		var unavail ErrToolUnavailable
		if errors.As(err, &unavail) {
			results[i].Status = report.StatusUnavailable
		} else {
			results[i].Status = report.StatusFail
		}
		results[i].Detail = err.Error()
		out.FailedIdx = i
		out.err = err
		break
	}

	if nested {
		return out
	}
	for _, s := range results {
		rr.Tasks = append(rr.Tasks, report.TaskStatus{Name: s.Name, Status: s.Status, Detail: s.Detail})
	}
	return out
}

// FirstLine returns the first non-empty line of s, trimmed.
func FirstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			return line
		}
	}
	return ""
}

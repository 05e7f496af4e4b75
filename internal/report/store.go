// Package report persists the outcome of task and module-test runs so they
// can be inspected after the fact. Results are stored as typed structs and
// can be narrowed to a single task, crate or module.
package report

import (
	"fmt"
	"strings"
)

// Kind identifies the type of a run.
type Kind string

const (
	// Tasks is a run of one or more registry tasks.
	Tasks Kind = "tasks"
	// ModTest is a run of the isolated module test harness.
	ModTest Kind = "modtest"
)

// Task statuses.
const (
	StatusPass        = "pass"
	StatusFail        = "fail"
	StatusSkipped     = "skipped"
	StatusUnavailable = "unavailable"
	StatusUndefined   = "undefined"
)

// Store persists and retrieves run results.
type Store interface {
	Save(result *RunResult) error
	Load(runID string) (*RunResult, error)
}

// RunResult holds the structured output from a run.
type RunResult struct {
	ID   string `json:"id"`
	Kind Kind   `json:"kind"`

	// Task run fields.
	Tasks          []TaskStatus `json:"tasks,omitempty"`
	TestExecutable string       `json:"test_executable,omitempty"`
	LintIssues     []LintIssue  `json:"lint_issues,omitempty"`

	// Module test fields.
	Modules []ModuleResult `json:"modules,omitempty"`

	// Output is the combined output of the run, capped.
	Output    string `json:"output,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
}

// Expect returns an error if the run's Kind does not match want.
func (r *RunResult) Expect(want Kind) error {
	if r.Kind != want {
		return fmt.Errorf("run %s is a %s run, not a %s run", r.ID, r.Kind, want)
	}
	return nil
}

// Failed reports whether any task or module in the run failed.
func (r *RunResult) Failed() bool {
	for _, t := range r.Tasks {
		if t.Status != StatusPass && t.Status != StatusSkipped {
			return true
		}
	}
	for _, m := range r.Modules {
		if !m.Passed {
			return true
		}
	}
	return false
}

// TaskStatus is the outcome of one task in a run.
type TaskStatus struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// LintIssue represents a clippy finding.
type LintIssue struct {
	Crate   string `json:"crate"`
	File    string `json:"file"`
	Line    int    `json:"line"`
	Col     int    `json:"col"`
	Level   string `json:"level"`
	Lint    string `json:"lint,omitempty"`
	Message string `json:"message"`
}

// ModuleResult is the outcome of one isolated module test.
type ModuleResult struct {
	Module string `json:"module"`
	Path   string `json:"path"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// Diagnostic is a uniform view over task failures, lint issues and module
// failures.
type Diagnostic struct {
	Source  string // "task", "lint", "modtest"
	Subject string // task name, crate or module id
	File    string
	Line    int
	Col     int
	Detail  string // lint name or status
	Message string
}

func (d Diagnostic) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", d.Source, d.Subject)
	if d.File != "" {
		fmt.Fprintf(&b, " %s:%d:%d", d.File, d.Line, d.Col)
	}
	if d.Detail != "" {
		fmt.Fprintf(&b, " (%s)", d.Detail)
	}
	if d.Message != "" {
		fmt.Fprintf(&b, ": %s", d.Message)
	}
	return b.String()
}

// Diagnostics returns every failure recorded in the run.
func Diagnostics(r *RunResult) []Diagnostic {
	var out []Diagnostic

	for _, t := range r.Tasks {
		if t.Status == StatusPass || t.Status == StatusSkipped {
			continue
		}
		out = append(out, Diagnostic{
			Source:  "task",
			Subject: t.Name,
			Detail:  t.Status,
			Message: t.Detail,
		})
	}
	for _, l := range r.LintIssues {
		out = append(out, Diagnostic{
			Source:  "lint",
			Subject: l.Crate,
			File:    l.File,
			Line:    l.Line,
			Col:     l.Col,
			Detail:  lintDetail(l),
			Message: l.Message,
		})
	}
	for _, m := range r.Modules {
		if m.Passed {
			continue
		}
		out = append(out, Diagnostic{
			Source:  "modtest",
			Subject: m.Module,
			File:    m.Path,
			Message: m.Detail,
		})
	}
	return out
}

// ByName returns the diagnostics whose subject is name: a task, a crate
// directory or a module id. Lint issues also match on their source file.
func ByName(r *RunResult, name string) []Diagnostic {
	var out []Diagnostic
	for _, d := range Diagnostics(r) {
		if d.Subject == name || (d.Source == "lint" && d.File == name) {
			out = append(out, d)
		}
	}
	return out
}

func lintDetail(l LintIssue) string {
	if l.Lint != "" {
		return l.Lint
	}
	return l.Level
}

package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/halogen-os/xtask/internal/runner"
	"github.com/tidwall/gjson"
)

// Clean removes compiler artifacts of every crate, the firmware build and
// the build directory.
func (e *Engine) Clean(ctx context.Context) error {
	cfg := e.Config
	for _, crate := range cfg.Crates() {
		if _, err := e.run(ctx, runner.Step{Dir: crate, Argv: []string{cfg.Cargo(), "clean"}}); err != nil {
			return fmt.Errorf("cleaning %s: %w", crate, err)
		}
	}
	if _, err := e.run(ctx, runner.Step{Dir: cfg.FirmwareDir(), Argv: []string{cfg.Make(), "clean"}}); err != nil {
		return fmt.Errorf("cleaning firmware: %w", err)
	}
	if err := os.RemoveAll(e.Path(cfg.BuildDir())); err != nil {
		return fmt.Errorf("removing build directory: %w", err)
	}
	return nil
}

// Fmt formats every crate. With check set nothing is rewritten and the
// call fails when a crate is not formatted.
func (e *Engine) Fmt(ctx context.Context, check bool) error {
	cfg := e.Config
	argv := []string{cfg.Cargo(), "fmt"}
	if check {
		argv = append(argv, "--check")
	}
	for _, crate := range cfg.Crates() {
		if _, err := e.run(ctx, runner.Step{Dir: crate, Argv: argv}); err != nil {
			return fmt.Errorf("formatting %s: %w", crate, err)
		}
	}
	return nil
}

// ClippySummary holds parsed clippy diagnostics.
type ClippySummary struct {
	Issues []LintIssue
}

// LintIssue holds a single lint finding.
type LintIssue struct {
	Crate   string `json:"crate"`
	File    string `json:"file"`
	Line    int    `json:"line"`
	Column  int    `json:"column"`
	Level   string `json:"level"` // warning or error
	Lint    string `json:"lint,omitempty"`
	Message string `json:"message"`
}

// Errors returns the number of error-level issues.
func (s *ClippySummary) Errors() int {
	n := 0
	for _, issue := range s.Issues {
		if issue.Level == "error" {
			n++
		}
	}
	return n
}

func (s *ClippySummary) String() string {
	var b strings.Builder

	if len(s.Issues) == 0 {
		fmt.Fprintln(&b, "Status: OK")
		fmt.Fprintln(&b)
		fmt.Fprintln(&b, "No lint issues found.")
	} else {
		fmt.Fprintf(&b, "Status: %d issues found (%d errors)\n", len(s.Issues), s.Errors())
		fmt.Fprintln(&b)
		for _, issue := range s.Issues {
			lint := issue.Lint
			if lint == "" {
				lint = issue.Level
			}
			fmt.Fprintf(&b, "%s:%d:%d (%s): %s\n", issue.File, issue.Line, issue.Column, lint, issue.Message)
		}
	}
	return b.String()
}

// Clippy lints every crate and collects the diagnostics. The error is
// non-nil when clippy failed on any crate; the summary is returned with it.
func (e *Engine) Clippy(ctx context.Context) (*ClippySummary, error) {
	cfg := e.Config
	s := &ClippySummary{}
	argv := []string{cfg.Cargo(), "clippy", "--message-format=json"}
	for _, crate := range cfg.Crates() {
		res, err := e.run(ctx, runner.Step{Dir: crate, Argv: argv, Capture: true})
		if res != nil {
			s.Issues = append(s.Issues, parseClippyOutput(crate, res.Stdout)...)
		}
		if err != nil {
			var exitErr *runner.ExitError
			if !errors.As(err, &exitErr) {
				return s, fmt.Errorf("linting %s: %w", crate, err)
			}
			return s, fmt.Errorf("linting %s: %d errors: %w", crate, s.Errors(), err)
		}
	}
	return s, nil
}

// parseClippyOutput extracts compiler diagnostics from cargo's JSON records.
// Records other than compiler messages, and lines that are not JSON, are
// ignored.
func parseClippyOutput(crate string, stdout []byte) []LintIssue {
	var issues []LintIssue
	for _, line := range strings.Split(string(stdout), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !gjson.Valid(line) {
			continue
		}
		rec := gjson.Parse(line)
		if rec.Get("reason").String() != "compiler-message" {
			continue
		}
		msg := rec.Get("message")
		level := msg.Get("level").String()
		if level != "warning" && level != "error" {
			continue
		}
		span := msg.Get(`spans.#(is_primary==true)`)
		if !span.Exists() {
			// Crate-level summaries such as "N warnings emitted".
			continue
		}
		issues = append(issues, LintIssue{
			Crate:   crate,
			File:    span.Get("file_name").String(),
			Line:    int(span.Get("line_start").Int()),
			Column:  int(span.Get("column_start").Int()),
			Level:   level,
			Lint:    msg.Get("code.code").String(),
			Message: msg.Get("message").String(),
		})
	}
	return issues
}

// AttachArgs returns the debugger command line loading symbols from elf.
func (e *Engine) AttachArgs(elf string, extra []string) []string {
	argv := []string{e.Config.DebuggerBinary()}
	for _, c := range e.Config.DebuggerInit() {
		argv = append(argv, "-ex", c)
	}
	argv = append(argv, "-q", "-ex", fmt.Sprintf("symbol-file '%s'", e.Path(elf)))
	return append(argv, extra...)
}

// Attach starts the debugger against a halted emulator, loading symbols
// from the test executable.
func (e *Engine) Attach(ctx context.Context, extra ...string) error {
	step := runner.Step{
		Argv: e.AttachArgs(e.Config.TestELF(), extra),
		Env:  []string{"RUST_GDB=" + e.Config.CrossGDB()},
	}
	if _, err := e.run(ctx, step); err != nil {
		return fmt.Errorf("attaching debugger: %w", err)
	}
	return nil
}

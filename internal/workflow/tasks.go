package workflow

import (
	"context"
	"fmt"

	"github.com/halogen-os/xtask/internal/modtest"
	"github.com/halogen-os/xtask/internal/report"
	"github.com/halogen-os/xtask/internal/tasks"
)

// DefaultTask is run when no task is named.
const DefaultTask = "check"

// taskDescriptions lists every task the engine provides, in usage order.
var taskDescriptions = []struct{ name, description string }{
	{"build", "Build the kernel into build/halogen.{elf,bin}"},
	{"firmware", "Build the OpenSBI firmware"},
	{"test", "Build the kernel tests and boot them under the emulator"},
	{"debug_server", "Like test, but halt at reset and wait for a debugger"},
	{"run", "Build the kernel and boot it under the emulator"},
	{"debug_run", "Like run, but halt at reset and wait for a debugger"},
	{"attach", "Attach the debugger to a halted emulator"},
	{"clean", "Remove compiler, firmware and build artifacts"},
	{"fmt", "Format every crate"},
	{"fmt_check", "Fail when a crate is not formatted"},
	{"clippy", "Lint every crate"},
	{"modtest", "Run each tested source module in isolation"},
	{"check", "Run the configured check steps"},
}

// Tasks returns a registry holding every task of e, with check as the
// default.
func Tasks(e *Engine) *tasks.Registry {
	r := tasks.NewRegistry("xtask")
	for _, t := range taskDescriptions {
		name := t.name
		action := func(ctx context.Context) error { return e.Task(ctx, name) }
		if name == DefaultTask {
			r.SetDefault(name, t.description, action)
			continue
		}
		r.Register(name, t.description, action)
	}
	return r
}

// Task runs the named task. Findings are added to e.Record when it is set.
func (e *Engine) Task(ctx context.Context, name string) error {
	if name == "check" {
		res := e.Check(ctx)
		fmt.Fprint(e.out(), res.String())
		return res.Err()
	}
	rr := e.Record
	if rr == nil {
		rr = &report.RunResult{}
	}
	return e.step(ctx, rr, name)
}

// step runs a single non-composite task, recording findings in rr.
func (e *Engine) step(ctx context.Context, rr *report.RunResult, name string) error {
	switch name {
	case "build":
		_, err := e.Build(ctx)
		return err
	case "firmware":
		return e.Firmware(ctx)
	case "test", "debug_server":
		art, err := e.Test(ctx, name == "debug_server")
		if art != nil {
			rr.TestExecutable = art.ELF
		}
		return err
	case "run":
		return e.Run(ctx, false)
	case "debug_run":
		return e.Run(ctx, true)
	case "attach":
		return e.Attach(ctx)
	case "clean":
		return e.Clean(ctx)
	case "fmt":
		return e.Fmt(ctx, false)
	case "fmt_check":
		return e.Fmt(ctx, true)
	case "clippy":
		summary, err := e.Clippy(ctx)
		if summary != nil {
			rr.LintIssues = append(rr.LintIssues, ReportLintIssues(summary.Issues)...)
			if len(summary.Issues) > 0 {
				fmt.Fprint(e.out(), summary.String())
			}
		}
		return err
	case "modtest":
		s, err := e.ModTest(ctx)
		if s != nil {
			rr.Modules = append(rr.Modules, ReportModules(s)...)
		}
		return err
	default:
		return fmt.Errorf("unknown step: %s", name)
	}
}

// ReportLintIssues converts clippy findings for storage.
func ReportLintIssues(issues []LintIssue) []report.LintIssue {
	out := make([]report.LintIssue, 0, len(issues))
	for _, i := range issues {
		out = append(out, report.LintIssue{
			Crate:   i.Crate,
			File:    i.File,
			Line:    i.Line,
			Col:     i.Column,
			Level:   i.Level,
			Lint:    i.Lint,
			Message: i.Message,
		})
	}
	return out
}

// ReportModules converts module test results for storage.
func ReportModules(s *modtest.Summary) []report.ModuleResult {
	out := make([]report.ModuleResult, 0, len(s.Results))
	for _, r := range s.Results {
		out = append(out, report.ModuleResult{
			Module: r.Module,
			Path:   r.Path,
			Passed: r.Passed,
			Detail: r.Detail,
		})
	}
	return out
}

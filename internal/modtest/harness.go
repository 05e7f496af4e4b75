// Package modtest runs the unit tests of individual kernel source modules
// outside the kernel's own crate.
//
// Each module whose source carries a test module is copied into an isolated
// working area next to a synthetic entry point that declares it, the test
// command is run there, and the staged files are removed again whatever the
// outcome. Per-module failures are collected, never fatal to the run.
package modtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/halogen-os/xtask/internal/runner"
	"go.uber.org/zap"
)

// ErrModulesFailed is wrapped by Summary.Err when at least one module failed.
var ErrModulesFailed = errors.New("module tests failed")

// CommandRunner executes commands within a workspace.
// Implemented by runner.Runner.
type CommandRunner interface {
	Run(ctx context.Context, step runner.Step) (*runner.Result, error)
}

// Harness discovers and runs isolated module tests.
type Harness struct {
	Root      string    // scan root
	Extension string    // e.g. ".rs"
	Predicate Predicate // decides which files carry tests
	EnvDir    string    // isolated working area, must exist
	EntryFile string    // synthetic entry point name, e.g. "main.rs"
	Command   []string  // run with Dir = EnvDir
	Runner    CommandRunner
	Out       io.Writer
	Log       *zap.Logger
}

// Result is the outcome of one module.
type Result struct {
	Module string `json:"module"`
	Path   string `json:"path"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"` // why a failed module failed
}

const banner = "===================="

// Run discovers modules and tests each one in turn. It returns an error only
// when discovery itself fails; module failures are reported in the Summary.
func (h *Harness) Run(ctx context.Context) (*Summary, error) {
	out := h.out()
	s := &Summary{RunID: uuid.New().String()}

	if _, err := os.Stat(h.EnvDir); err != nil {
		return nil, fmt.Errorf("isolated area: %w", err)
	}

	mods, err := Discover(h.Root, h.Extension, h.Predicate)
	if err != nil {
		return nil, err
	}
	if len(mods) == 0 {
		fmt.Fprintln(out, "Nothing to do.")
		return s, nil
	}
	h.logger().Debug("discovered test modules", zap.Int("count", len(mods)), zap.String("root", h.Root))

	for _, m := range mods {
		if ctx.Err() != nil {
			return s, ctx.Err()
		}
		fmt.Fprintf(out, "\n%s\n\nRunning tests in %s...\n\n", banner, m.Path)
		res := h.runModule(ctx, m)
		s.Results = append(s.Results, res)
		fmt.Fprintf(out, "\n%s\n\n", banner)
	}
	return s, nil
}

// runModule stages, runs and releases one module. Release is deferred so the
// isolated area is emptied on every path out of here.
func (h *Harness) runModule(ctx context.Context, m Module) (res Result) {
	log := h.logger().With(zap.String("module", m.ID), zap.String("path", m.Path))
	res = Result{Module: m.ID, Path: m.Path}

	release, err := stage(h.EnvDir, h.EntryFile, m)
	defer func() {
		if err := release(); err != nil {
			log.Warn("cleaning isolated area", zap.Error(err))
			if res.Passed {
				res.Passed = false
				res.Detail = fmt.Sprintf("cleanup: %v", err)
			}
		}
	}()
	if err != nil {
		log.Warn("staging module", zap.Error(err))
		res.Detail = err.Error()
		return res
	}

	if _, err := h.Runner.Run(ctx, runner.Step{Dir: h.EnvDir, Argv: h.Command}); err != nil {
		log.Warn("module tests failed", zap.Error(err))
		res.Detail = err.Error()
		return res
	}
	res.Passed = true
	return res
}

func (h *Harness) out() io.Writer {
	if h.Out != nil {
		return h.Out
	}
	return os.Stdout
}

func (h *Harness) logger() *zap.Logger {
	if h.Log != nil {
		return h.Log
	}
	return zap.NewNop()
}

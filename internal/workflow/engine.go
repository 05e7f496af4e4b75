// Package workflow provides the build, package and emulate pipeline of the
// Halogen kernel. It is consumed by both the CLI task registry and the MCP
// server.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/halogen-os/xtask/internal/config"
	"github.com/halogen-os/xtask/internal/modtest"
	"github.com/halogen-os/xtask/internal/report"
	"github.com/halogen-os/xtask/internal/runner"
	"go.uber.org/zap"
)

// CommandRunner executes commands within a workspace.
// Implemented by runner.Runner.
type CommandRunner interface {
	Run(ctx context.Context, step runner.Step) (*runner.Result, error)
}

// Engine holds shared dependencies for all workflow operations.
type Engine struct {
	Config   *config.Config
	Runner   CommandRunner
	RepoRoot string    // all configured paths are relative to it
	Out      io.Writer // user-facing messages; nil means stdout
	Log      *zap.Logger

	// Record, when set, collects the findings of the tasks run through
	// this engine (test executable, lint issues, module results).
	Record *report.RunResult
}

// Options configures New.
type Options struct {
	Config   *config.Config
	RepoRoot string
	Stdin    io.Reader
	Stdout   io.Writer
	Stderr   io.Writer
	Log      *zap.Logger
}

// New builds an Engine backed by a runner.Runner rooted at the repo root.
func New(o Options) *Engine {
	log := o.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		Config: o.Config,
		Runner: &runner.Runner{
			Workspace: o.RepoRoot,
			Timeout:   o.Config.Timeout(),
			MaxOutput: o.Config.MaxOutputBytes(),
			Stdin:     o.Stdin,
			Stdout:    o.Stdout,
			Stderr:    o.Stderr,
			Log:       log.Named("runner"),
		},
		RepoRoot: o.RepoRoot,
		Out:      o.Stdout,
		Log:      log,
	}
}

// Path resolves a repo-relative path.
func (e *Engine) Path(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(e.RepoRoot, rel)
}

// run executes a step and maps a missing binary to ErrToolUnavailable.
func (e *Engine) run(ctx context.Context, step runner.Step) (*runner.Result, error) {
	res, err := e.Runner.Run(ctx, step)
	if err != nil && errors.Is(err, exec.ErrNotFound) {
		return res, NewErrToolUnavailable(filepath.Base(step.Argv[0]))
	}
	return res, err
}

// Harness returns the module test harness configured for this engine.
func (e *Engine) Harness() (*modtest.Harness, error) {
	cfg := e.Config.ModTest
	var pred modtest.Predicate
	switch cfg.Predicate {
	case "syntax":
		pred = modtest.SyntaxMarker{}
	default:
		marker := cfg.Marker
		if marker == "" {
			marker = config.DefaultMarker
		}
		var err error
		pred, err = modtest.LineMarker(marker)
		if err != nil {
			return nil, err
		}
	}

	orDefault := func(v, def string) string {
		if v != "" {
			return v
		}
		return def
	}
	return &modtest.Harness{
		Root:      e.Path(orDefault(cfg.SourceRoot, config.DefaultSourceRoot)),
		Extension: orDefault(cfg.Extension, config.DefaultExtension),
		Predicate: pred,
		EnvDir:    e.Path(orDefault(cfg.EnvDir, config.DefaultEnvDir)),
		EntryFile: orDefault(cfg.EntryFile, config.DefaultEntryFile),
		Command:   e.Config.ModTestCommand(),
		Runner:    e.Runner,
		Out:       e.out(),
		Log:       e.logger().Named("modtest"),
	}, nil
}

// ModTest runs the isolated module tests and prints the report. The
// returned error is non-nil when discovery failed or any module failed.
func (e *Engine) ModTest(ctx context.Context) (*modtest.Summary, error) {
	h, err := e.Harness()
	if err != nil {
		return nil, err
	}
	s, err := h.Run(ctx)
	if err != nil {
		return s, err
	}
	if len(s.Results) > 0 {
		s.Report(e.out())
	}
	return s, s.Err()
}

func (e *Engine) out() io.Writer {
	if e.Out != nil {
		return e.Out
	}
	return os.Stdout
}

func (e *Engine) logger() *zap.Logger {
	if e.Log != nil {
		return e.Log
	}
	return zap.NewNop()
}

// toolInfo holds install metadata for a known tool.
type toolInfo struct {
	// Install is a short install instruction.
	Install string
}

// knownTools maps tool binary names to their install hints. Cross binutils
// are matched by suffix.
var knownTools = map[string]toolInfo{
	"cargo":               {Install: "https://rustup.rs (then: rustup target add riscv64gc-unknown-none-elf)"},
	"qemu-system-riscv64": {Install: "apt install qemu-system-misc  |  brew install qemu"},
	"make":                {Install: "apt install make  |  xcode-select --install"},
	"rust-gdb":            {Install: "ships with rustup; also needs a riscv64 gdb on PATH"},
	"objcopy":             {Install: "install the riscv64-unknown-elf GNU toolchain (binutils)"},
	"objdump":             {Install: "install the riscv64-unknown-elf GNU toolchain (binutils)"},
}

// ErrToolUnavailable is returned when a required tool is not installed.
// It includes actionable install instructions when the tool is known.
type ErrToolUnavailable struct {
	Name string
	Info *toolInfo
}

func NewErrToolUnavailable(name string) ErrToolUnavailable {
	e := ErrToolUnavailable{Name: name}
	if info, ok := knownTools[name]; ok {
		e.Info = &info
		return e
	}
	for tool, info := range knownTools {
		if strings.HasSuffix(name, "-"+tool) {
			e.Info = &info
			break
		}
	}
	return e
}

func (e ErrToolUnavailable) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s is required but not installed.", e.Name)
	if e.Info != nil {
		fmt.Fprintf(&b, "\nInstall: %s", e.Info.Install)
	}
	return b.String()
}

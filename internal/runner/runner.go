// Package runner executes external toolchain commands with an explicit
// working directory, workspace bounds, optional timeouts and output limits.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Step is one external command scoped to a directory.
type Step struct {
	Dir     string   // relative to the workspace root; empty means the root
	Argv    []string // program followed by its arguments
	Env     []string // extra KEY=VALUE pairs added to the inherited environment
	Capture bool     // capture stdout instead of streaming it
}

// Runner executes steps within a workspace boundary. The process working
// directory is never changed; every spawn gets its own Dir.
type Runner struct {
	Workspace string
	Timeout   time.Duration // zero means no timeout
	MaxOutput int           // bytes kept per captured stream

	// Stream targets. Nil falls back to the process standard streams.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	Log *zap.Logger
}

// Run executes step. In stream mode the command is attached to the runner's
// streams. In capture mode stdout is collected and returned while stderr is
// still forwarded. In both modes a non-zero exit yields a *ExitError; in
// capture mode the Result is returned alongside it so the caller can report
// what the command printed.
func (r *Runner) Run(ctx context.Context, step Step) (*Result, error) {
	argv := step.Argv
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty argv")
	}

	dir, err := r.resolveDir(step.Dir)
	if err != nil {
		return nil, err
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	runID := uuid.New().String()
	log := r.logger().With(zap.String("run_id", runID), zap.Strings("argv", argv), zap.String("dir", dir))

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	if len(step.Env) > 0 {
		cmd.Env = append(os.Environ(), step.Env...)
	}

	var stdout, stderr bytes.Buffer
	limit := r.maxOutput()
	outW := &limitWriter{buf: &stdout, limit: limit}
	errW := &limitWriter{buf: &stderr, limit: limit}
	if step.Capture {
		cmd.Stdout = outW
		cmd.Stderr = io.MultiWriter(r.stderr(), errW)
	} else {
		cmd.Stdin = r.stdin()
		cmd.Stdout = r.stdout()
		cmd.Stderr = r.stderr()
	}

	log.Debug("step started", zap.Bool("capture", step.Capture))
	start := time.Now()
	runErr := cmd.Run()

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			// Binary not found or other exec error.
			return nil, fmt.Errorf("executing %s: %w", argv[0], runErr)
		}
		exitCode = exitErr.ExitCode()
	}
	log.Debug("step finished", zap.Int("exit_code", exitCode), zap.Duration("elapsed", time.Since(start)))

	res := &Result{
		RunID:     runID,
		ExitCode:  exitCode,
		Stdout:    stdout.Bytes(),
		Stderr:    stderr.Bytes(),
		Truncated: outW.truncated || errW.truncated,
	}
	if exitCode != 0 {
		return res, &ExitError{Argv: argv, Dir: dir, Code: exitCode}
	}
	return res, nil
}

// resolveDir resolves cwd relative to the workspace and validates it
// is within the workspace boundary.
func (r *Runner) resolveDir(cwd string) (string, error) {
	if cwd == "" {
		return r.Workspace, nil
	}

	var dir string
	if filepath.IsAbs(cwd) {
		dir = filepath.Clean(cwd)
	} else {
		dir = filepath.Clean(filepath.Join(r.Workspace, cwd))
	}

	// Ensure dir is within workspace.
	rel, err := filepath.Rel(r.Workspace, dir)
	if err != nil {
		return "", fmt.Errorf("resolving cwd: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("cwd %q is outside workspace %q", cwd, r.Workspace)
	}
	return dir, nil
}

func (r *Runner) maxOutput() int {
	if r.MaxOutput > 0 {
		return r.MaxOutput
	}
	return 1 << 20
}

func (r *Runner) logger() *zap.Logger {
	if r.Log != nil {
		return r.Log
	}
	return zap.NewNop()
}

func (r *Runner) stdin() io.Reader {
	if r.Stdin != nil {
		return r.Stdin
	}
	return os.Stdin
}

func (r *Runner) stdout() io.Writer {
	if r.Stdout != nil {
		return r.Stdout
	}
	return os.Stdout
}

func (r *Runner) stderr() io.Writer {
	if r.Stderr != nil {
		return r.Stderr
	}
	return os.Stderr
}

// limitWriter writes up to limit bytes to buf, then discards the rest and
// sets truncated.
type limitWriter struct {
	buf       *bytes.Buffer
	limit     int
	truncated bool
}

func (w *limitWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	remaining := w.limit - w.buf.Len()
	if remaining <= 0 {
		w.truncated = true
		return len(p), nil // discard
	}
	if len(p) > remaining {
		// Write only what fits, but report all bytes as consumed
		// to avoid short write errors from io.Copy.
		w.buf.Write(p[:remaining])
		w.truncated = true
		return len(p), nil
	}
	return w.buf.Write(p)
}

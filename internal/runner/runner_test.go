package runner

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestRunner(t *testing.T) (*Runner, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	return &Runner{
		Workspace: t.TempDir(),
		MaxOutput: 1 << 20,
		Stdin:     strings.NewReader(""),
		Stdout:    &out,
		Stderr:    &out,
	}, &out
}

func TestRun_StreamSuccess(t *testing.T) {
	r, out := newTestRunner(t)
	res, err := r.Run(context.Background(), Step{Argv: []string{"echo", "hello"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}
	if !strings.Contains(out.String(), "hello") {
		t.Errorf("streamed output = %q, want to contain 'hello'", out.String())
	}
	if len(res.Stdout) != 0 {
		t.Errorf("Stdout = %q, want nothing captured in stream mode", res.Stdout)
	}
	if res.RunID == "" {
		t.Error("RunID is empty")
	}
}

func TestRun_StreamNonZeroExit(t *testing.T) {
	r, _ := newTestRunner(t)
	_, err := r.Run(context.Background(), Step{Argv: []string{"sh", "-c", "exit 3"}})
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("err = %v, want *ExitError", err)
	}
	if exitErr.Code != 3 {
		t.Errorf("Code = %d, want 3", exitErr.Code)
	}
}

func TestRun_CaptureReturnsStdout(t *testing.T) {
	r, out := newTestRunner(t)
	res, err := r.Run(context.Background(), Step{
		Argv:    []string{"sh", "-c", "echo captured; echo diag >&2"},
		Capture: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(res.Stdout) != "captured\n" {
		t.Errorf("Stdout = %q, want %q", res.Stdout, "captured\n")
	}
	if strings.Contains(out.String(), "captured") {
		t.Errorf("captured stdout leaked to stream: %q", out.String())
	}
	if !strings.Contains(out.String(), "diag") {
		t.Errorf("stderr not forwarded in capture mode: %q", out.String())
	}
}

func TestRun_CaptureNonZeroExitStillReturnsOutput(t *testing.T) {
	r, _ := newTestRunner(t)
	res, err := r.Run(context.Background(), Step{
		Argv:    []string{"sh", "-c", "echo partial; exit 101"},
		Capture: true,
	})
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("err = %v, want *ExitError", err)
	}
	if res == nil || string(res.Stdout) != "partial\n" {
		t.Fatalf("Result = %+v, want captured stdout alongside the error", res)
	}
	if res.ExitCode != 101 {
		t.Errorf("ExitCode = %d, want 101", res.ExitCode)
	}
}

func TestRun_BinaryNotFound(t *testing.T) {
	r, _ := newTestRunner(t)
	_, err := r.Run(context.Background(), Step{Argv: []string{"nonexistent-binary-xyz-123"}})
	if err == nil {
		t.Fatal("expected error for missing binary")
	}
	if !errors.Is(err, exec.ErrNotFound) {
		t.Errorf("error = %v, want to wrap exec.ErrNotFound", err)
	}
	if !strings.Contains(err.Error(), "nonexistent-binary-xyz-123") {
		t.Errorf("error = %q, want to mention the binary name", err)
	}
}

func TestRun_EmptyArgv(t *testing.T) {
	r, _ := newTestRunner(t)
	if _, err := r.Run(context.Background(), Step{}); err == nil {
		t.Fatal("expected error for empty argv")
	}
}

func TestRun_DirDoesNotMoveProcessCWD(t *testing.T) {
	r, _ := newTestRunner(t)
	sub := filepath.Join(r.Workspace, "subdir")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	before, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}

	res, err := r.Run(context.Background(), Step{Dir: "subdir", Argv: []string{"pwd"}, Capture: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(string(res.Stdout), "subdir") {
		t.Errorf("Stdout = %q, want to contain 'subdir'", res.Stdout)
	}

	after, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if before != after {
		t.Errorf("process cwd changed from %q to %q", before, after)
	}
}

func TestRun_DirRestoredAfterFailure(t *testing.T) {
	r, _ := newTestRunner(t)
	before, _ := os.Getwd()
	_, _ = r.Run(context.Background(), Step{Dir: ".", Argv: []string{"false"}})
	after, _ := os.Getwd()
	if before != after {
		t.Errorf("process cwd changed from %q to %q", before, after)
	}
}

func TestRun_EnvIsAdded(t *testing.T) {
	r, _ := newTestRunner(t)
	res, err := r.Run(context.Background(), Step{
		Argv:    []string{"sh", "-c", "echo $XTASK_PROBE"},
		Env:     []string{"XTASK_PROBE=riscv"},
		Capture: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(string(res.Stdout)) != "riscv" {
		t.Errorf("Stdout = %q, want riscv", res.Stdout)
	}
}

func TestRun_CWDOutsideWorkspace_Relative(t *testing.T) {
	r, _ := newTestRunner(t)
	_, err := r.Run(context.Background(), Step{Dir: "../", Argv: []string{"echo"}})
	if err == nil {
		t.Fatal("expected error for cwd outside workspace")
	}
	if !strings.Contains(err.Error(), "outside workspace") {
		t.Errorf("error = %q, want 'outside workspace'", err)
	}
}

func TestRun_CWDOutsideWorkspace_Absolute(t *testing.T) {
	r, _ := newTestRunner(t)
	_, err := r.Run(context.Background(), Step{Dir: "/", Argv: []string{"echo"}})
	if err == nil {
		t.Fatal("expected error for absolute cwd outside workspace")
	}
}

func TestRun_Timeout(t *testing.T) {
	r, _ := newTestRunner(t)
	r.Timeout = 100 * time.Millisecond

	start := time.Now()
	_, err := r.Run(context.Background(), Step{Argv: []string{"sleep", "10"}})
	if err == nil {
		t.Fatal("expected error for a killed command")
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("timeout not applied, took %v", time.Since(start))
	}
}

func TestRun_OutputTruncation(t *testing.T) {
	r, _ := newTestRunner(t)
	r.MaxOutput = 100 // very small cap

	res, err := r.Run(context.Background(), Step{
		Argv:    []string{"sh", "-c", "dd if=/dev/zero bs=200 count=1 2>/dev/null"},
		Capture: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Truncated {
		t.Error("Truncated = false, want true")
	}
	if len(res.Stdout) > r.MaxOutput {
		t.Errorf("len(Stdout) = %d, want <= %d", len(res.Stdout), r.MaxOutput)
	}
}

func TestRun_OutputExactlyAtLimitNotTruncated(t *testing.T) {
	r, _ := newTestRunner(t)
	r.MaxOutput = 100

	res, err := r.Run(context.Background(), Step{
		Argv:    []string{"sh", "-c", "dd if=/dev/zero bs=100 count=1 2>/dev/null"},
		Capture: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Truncated {
		t.Error("Truncated = true, want false")
	}
	if len(res.Stdout) != 100 {
		t.Errorf("len(Stdout) = %d, want 100", len(res.Stdout))
	}
}

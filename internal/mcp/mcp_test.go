package mcp

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/halogen-os/xtask/internal/config"
	"github.com/halogen-os/xtask/internal/report"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

// setup creates a full xtask MCP server + client over in-memory transports.
func setup(t *testing.T, root string, cfg *config.Config) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()

	store := report.NewLRUStore(5, report.NewDiskStore(filepath.Join(t.TempDir(), "runs")))
	server := NewServer(cfg, root, store, zap.NewNop())

	ct, st := mcp.NewInMemoryTransports()
	ss, err := server.Connect(ctx, st, nil)
	if err != nil {
		t.Fatalf("server.Connect: %v", err)
	}

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(ctx, ct, nil)
	if err != nil {
		t.Fatalf("client.Connect: %v", err)
	}

	t.Cleanup(func() {
		_ = cs.Close()
		_ = ss.Wait()
	})

	return cs
}

// kernelTree lays out the crate directories and a module test fixture.
func kernelTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"halogen/kernel/Cargo.toml":     "",
		"halogen/proc-macro/Cargo.toml": "",
		"halogen/common/Cargo.toml":     "",
		"lab_os/src/uart.rs":            "pub fn f() {}\n#[cfg(test)]\nmod tests {}\n",
		"lab_os/src/mmio.rs":            "pub fn g() {}\n#[cfg(test)]\nmod tests {}\n",
		"lab_os/src/util.rs":            "pub fn h() {}\n",
		"test/env/Cargo.toml":           "",
	}
	for rel, data := range files {
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

// withCargo returns a config whose compiler driver is the given program.
func withCargo(cargo string) *config.Config {
	return &config.Config{Toolchain: config.ToolchainConfig{Cargo: cargo}}
}

func callTool(t *testing.T, cs *mcp.ClientSession, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	return res
}

func resultText(r *mcp.CallToolResult) string {
	var parts []string
	for _, c := range r.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

var runIDPattern = regexp.MustCompile(`Run: ([0-9a-f-]{36})`)

func runID(t *testing.T, text string) string {
	t.Helper()
	m := runIDPattern.FindStringSubmatch(text)
	if m == nil {
		t.Fatalf("no run ID in:\n%s", text)
	}
	return m[1]
}

// --- xtask_tasks ---

func TestXtaskTasks(t *testing.T) {
	cs := setup(t, kernelTree(t), &config.Config{})
	res := callTool(t, cs, "xtask_tasks", nil)
	text := resultText(res)
	if res.IsError {
		t.Fatalf("unexpected error: %s", text)
	}
	for _, want := range []string{"Tasks: attach, build, check", "modtest", "(default)"} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in output, got:\n%s", want, text)
		}
	}
}

// --- xtask_run ---

func TestXtaskRun_Passing(t *testing.T) {
	cs := setup(t, kernelTree(t), withCargo("true"))
	res := callTool(t, cs, "xtask_run", map[string]any{"tasks": []string{"fmt_check", "fmt"}})
	text := resultText(res)
	if res.IsError {
		t.Fatalf("unexpected error: %s", text)
	}
	if !strings.Contains(text, "Status: PASS") {
		t.Errorf("expected PASS, got:\n%s", text)
	}
	if !strings.Contains(text, "fmt_check: pass") || !strings.Contains(text, "fmt: pass") {
		t.Errorf("expected both tasks to pass, got:\n%s", text)
	}
}

func TestXtaskRun_FailureSkipsRest(t *testing.T) {
	cs := setup(t, kernelTree(t), withCargo("false"))
	res := callTool(t, cs, "xtask_run", map[string]any{"tasks": []string{"fmt_check", "build"}})
	text := resultText(res)
	if !strings.Contains(text, "Status: FAIL") {
		t.Errorf("expected FAIL, got:\n%s", text)
	}
	if !strings.Contains(text, "fmt_check: fail") {
		t.Errorf("expected fmt_check to fail, got:\n%s", text)
	}
	if !strings.Contains(text, "build: skipped") {
		t.Errorf("expected build to be skipped, got:\n%s", text)
	}
}

func TestXtaskRun_UnknownTask(t *testing.T) {
	cs := setup(t, kernelTree(t), withCargo("true"))
	res := callTool(t, cs, "xtask_run", map[string]any{"tasks": []string{"bogus", "fmt"}})
	text := resultText(res)
	if !strings.Contains(text, "bogus: undefined (Task 'bogus' undefined.)") {
		t.Errorf("expected undefined task, got:\n%s", text)
	}
	if !strings.Contains(text, "fmt: skipped") {
		t.Errorf("expected fmt to be skipped, got:\n%s", text)
	}
}

func TestXtaskRun_MissingTool(t *testing.T) {
	cs := setup(t, kernelTree(t), withCargo("nonexistent-cargo-xyz"))
	res := callTool(t, cs, "xtask_run", map[string]any{"tasks": []string{"fmt_check"}})
	text := resultText(res)
	if !strings.Contains(text, "fmt_check: unavailable") {
		t.Errorf("expected unavailable, got:\n%s", text)
	}
}

// --- xtask_modtest ---

func TestXtaskModtest(t *testing.T) {
	cfg := &config.Config{ModTest: config.ModTestConfig{Command: []string{"true"}}}
	cs := setup(t, kernelTree(t), cfg)
	res := callTool(t, cs, "xtask_modtest", nil)
	text := resultText(res)
	if res.IsError {
		t.Fatalf("unexpected error: %s", text)
	}
	for _, want := range []string{"Status: PASS", "2 modules passed; 0 modules failed", "uart ... ok", "mmio ... ok"} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in output, got:\n%s", want, text)
		}
	}
}

func TestXtaskModtest_MissingArea(t *testing.T) {
	cfg := &config.Config{ModTest: config.ModTestConfig{EnvDir: "missing", Command: []string{"true"}}}
	cs := setup(t, kernelTree(t), cfg)
	res := callTool(t, cs, "xtask_modtest", nil)
	if !res.IsError {
		t.Errorf("expected IsError, got:\n%s", resultText(res))
	}
}

// --- xtask_inspect ---

func TestXtaskInspect_MissingRunID(t *testing.T) {
	cs := setup(t, kernelTree(t), &config.Config{})
	_, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "xtask_inspect",
		Arguments: map[string]any{"name": "build"},
	})
	if err == nil {
		t.Error("expected error for missing run_id")
	}
}

func TestXtaskInspect_InvalidRunID(t *testing.T) {
	cs := setup(t, kernelTree(t), &config.Config{})
	res := callTool(t, cs, "xtask_inspect", map[string]any{"run_id": "nonexistent-id"})
	if !res.IsError {
		t.Error("expected IsError for invalid run_id")
	}
}

func TestXtaskInspect_AfterFailingRun(t *testing.T) {
	cs := setup(t, kernelTree(t), withCargo("false"))
	runRes := callTool(t, cs, "xtask_run", map[string]any{"tasks": []string{"fmt_check"}})
	id := runID(t, resultText(runRes))

	res := callTool(t, cs, "xtask_inspect", map[string]any{"run_id": id, "name": "fmt_check"})
	text := resultText(res)
	if res.IsError {
		t.Fatalf("unexpected error: %s", text)
	}
	if !strings.Contains(text, "[task fmt_check/fail]") {
		t.Errorf("expected task diagnostic, got:\n%s", text)
	}

	res = callTool(t, cs, "xtask_inspect", map[string]any{"run_id": id, "name": "build"})
	if !strings.Contains(resultText(res), "No diagnostics found for build") {
		t.Errorf("expected no diagnostics for build, got:\n%s", resultText(res))
	}
}

func TestXtaskInspect_AfterModtest(t *testing.T) {
	cfg := &config.Config{ModTest: config.ModTestConfig{Command: []string{"sh", "-c", "! test -f uart.rs"}}}
	cs := setup(t, kernelTree(t), cfg)
	modRes := callTool(t, cs, "xtask_modtest", nil)
	text := resultText(modRes)
	if !strings.Contains(text, "Status: FAIL") || !strings.Contains(text, "uart ... failed") {
		t.Fatalf("expected uart to fail, got:\n%s", text)
	}

	res := callTool(t, cs, "xtask_inspect", map[string]any{"run_id": runID(t, text)})
	inspect := resultText(res)
	if !strings.Contains(inspect, "[modtest uart]") {
		t.Errorf("expected uart diagnostic, got:\n%s", inspect)
	}
	if strings.Contains(inspect, "mmio") {
		t.Errorf("passing module reported, got:\n%s", inspect)
	}
}

// Package mcp provides the xtask MCP server, registering the task, module
// test and inspect tools and publishing model instructions.
package mcp

import (
	"context"
	_ "embed"
	"net/url"
	"sync"
	"time"

	"github.com/halogen-os/xtask"
	"github.com/halogen-os/xtask/internal/config"
	"github.com/halogen-os/xtask/internal/report"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

//go:embed instructions.md
var Instructions string

// handler holds shared dependencies for all tool handlers.
type handler struct {
	// run serialises tool calls that spawn toolchain commands; they share
	// the build directory and the isolated module test area.
	run sync.Mutex

	mu       sync.Mutex // guards cfg and repoRoot
	cfg      *config.Config
	repoRoot string

	store report.Store
	log   *zap.Logger
}

// NewServer creates an MCP server with all xtask tools registered.
func NewServer(cfg *config.Config, repoRoot string, store report.Store, log *zap.Logger) *mcp.Server {
	if log == nil {
		log = zap.NewNop()
	}
	h := &handler{cfg: cfg, repoRoot: repoRoot, store: store, log: log}

	opts := &mcp.ServerOptions{
		Instructions: Instructions,
		Capabilities: &mcp.ServerCapabilities{
			Tools: &mcp.ToolCapabilities{ListChanged: false},
		},
		InitializedHandler: func(ctx context.Context, req *mcp.InitializedRequest) {
			h.updateRepoFromRoots(ctx, req.Session)
		},
	}
	s := mcp.NewServer(&mcp.Implementation{Name: "xtask", Version: xtask.Version}, opts)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "xtask_tasks",
		Description: "List the build tasks of the kernel tree and the default task.",
	}, h.tasksHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "xtask_run",
		Description: `Run build tasks in order, stopping at the first unknown or failing task.

With no tasks the default task (check) runs. Tasks that boot the emulator block until the
guest powers off. Results are stored for drill-down via xtask_inspect.`,
	}, h.runHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "xtask_modtest",
		Description: `Run the unit tests of each source module in isolation and report per-module results.

Per-module failures never stop the run. Results are stored for drill-down via xtask_inspect.`,
	}, h.modtestHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "xtask_inspect",
		Description: `Drill into results from an xtask_run or xtask_modtest run.

Use the run_id from the tool output. Name narrows the result to a task (e.g. clippy),
a crate directory (e.g. halogen/kernel), a source file, or a module id (e.g. uart).`,
	}, h.inspectHandler)

	return s
}

// snapshot returns the current config and repo root.
func (h *handler) snapshot() (*config.Config, string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cfg, h.repoRoot
}

// updateRepoFromRoots queries the client for MCP roots and reloads the
// config from the first file root. It is called during session
// initialization, before any tool calls.
func (h *handler) updateRepoFromRoots(ctx context.Context, session *mcp.ServerSession) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	roots, err := session.ListRoots(ctx, &mcp.ListRootsParams{})
	if err != nil || len(roots.Roots) == 0 {
		return
	}

	u, err := url.Parse(roots.Roots[0].URI)
	if err != nil || u.Scheme != "file" {
		return
	}

	loaded, err := config.Load(u.Path)
	if err != nil {
		h.log.Warn("ignoring client root", zap.String("root", u.Path), zap.Error(err))
		return
	}

	h.mu.Lock()
	h.cfg = loaded.Config
	h.repoRoot = loaded.RepoRoot
	h.mu.Unlock()
	h.log.Info("repo root from client", zap.String("root", loaded.RepoRoot))
}

// textResult is a helper to build a text-only tool result.
func textResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, nil, nil
}

// errorResult is a helper to build an error tool result.
func errorResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}, nil, nil
}

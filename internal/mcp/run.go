package mcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/halogen-os/xtask/internal/report"
	"github.com/halogen-os/xtask/internal/workflow"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type tasksParams struct{}

type runParams struct {
	Tasks []string `json:"tasks,omitempty" jsonschema:"task names to run in order (e.g. [\"fmt_check\", \"build\"]). Defaults to the default task."`
}

type modtestParams struct{}

// engine returns a workflow engine whose commands write to out and read
// no input, so nothing reaches the transport.
func (h *handler) engine(out *bytes.Buffer, rr *report.RunResult) *workflow.Engine {
	cfg, root := h.snapshot()
	e := workflow.New(workflow.Options{
		Config:   cfg,
		RepoRoot: root,
		Stdin:    strings.NewReader(""),
		Stdout:   out,
		Stderr:   out,
		Log:      h.log,
	})
	e.Record = rr
	return e
}

func (h *handler) tasksHandler(ctx context.Context, req *mcp.CallToolRequest, _ tasksParams) (*mcp.CallToolResult, any, error) {
	r := workflow.Tasks(h.engine(&bytes.Buffer{}, nil))
	var b strings.Builder
	r.Usage(&b)
	return textResult(b.String())
}

func (h *handler) runHandler(ctx context.Context, req *mcp.CallToolRequest, params runParams) (*mcp.CallToolResult, any, error) {
	h.run.Lock()
	defer h.run.Unlock()

	rr := &report.RunResult{ID: uuid.New().String(), Kind: report.Tasks}
	var out bytes.Buffer
	e := h.engine(&out, rr)
	registry := workflow.Tasks(e)

	names := params.Tasks
	if len(names) == 0 {
		names = []string{workflow.DefaultTask}
	}
	for i, name := range names {
		if _, ok := registry.Lookup(name); !ok {
			rr.Tasks = append(rr.Tasks, report.TaskStatus{Name: name, Status: report.StatusUndefined, Detail: fmt.Sprintf("Task '%s' undefined.", name)})
			skip(rr, names[i+1:])
			break
		}
		err := e.Task(ctx, name)
		if err == nil {
			rr.Tasks = append(rr.Tasks, report.TaskStatus{Name: name, Status: report.StatusPass})
			continue
		}
		status := report.StatusFail
		var unavail workflow.ErrToolUnavailable
		if errors.As(err, &unavail) {
			status = report.StatusUnavailable
		}
		rr.Tasks = append(rr.Tasks, report.TaskStatus{Name: name, Status: status, Detail: err.Error()})
		skip(rr, names[i+1:])
		break
	}

	rr.Output, rr.Truncated = tail(out.String(), e.Config.MaxOutputBytes())
	if err := h.store.Save(rr); err != nil {
		return errorResult(fmt.Sprintf("saving run %s: %v", rr.ID, err))
	}
	return textResult(formatRun(rr))
}

func (h *handler) modtestHandler(ctx context.Context, req *mcp.CallToolRequest, _ modtestParams) (*mcp.CallToolResult, any, error) {
	h.run.Lock()
	defer h.run.Unlock()

	var out bytes.Buffer
	e := h.engine(&out, nil)
	s, err := e.ModTest(ctx)
	if s == nil {
		return errorResult(fmt.Sprintf("module tests could not run: %v", err))
	}

	rr := &report.RunResult{ID: s.RunID, Kind: report.ModTest, Modules: workflow.ReportModules(s)}
	rr.Output, rr.Truncated = tail(out.String(), e.Config.MaxOutputBytes())
	if err := h.store.Save(rr); err != nil {
		return errorResult(fmt.Sprintf("saving run %s: %v", rr.ID, err))
	}

	var b strings.Builder
	if rr.Failed() {
		fmt.Fprintln(&b, "Status: FAIL")
	} else {
		fmt.Fprintln(&b, "Status: PASS")
	}
	fmt.Fprintf(&b, "Run: %s\n\n", rr.ID)
	if len(s.Results) == 0 {
		fmt.Fprintln(&b, "Nothing to do.")
	} else {
		s.Report(&b)
	}
	if err != nil && !rr.Failed() {
		// Cancelled part way.
		fmt.Fprintf(&b, "\n%v\n", err)
	}
	return textResult(b.String())
}

func skip(rr *report.RunResult, names []string) {
	for _, n := range names {
		rr.Tasks = append(rr.Tasks, report.TaskStatus{Name: n, Status: report.StatusSkipped})
	}
}

// tail keeps the last max bytes of s.
func tail(s string, max int) (string, bool) {
	if max <= 0 || len(s) <= max {
		return s, false
	}
	return s[len(s)-max:], true
}

func formatRun(rr *report.RunResult) string {
	var b strings.Builder

	if rr.Failed() {
		fmt.Fprintln(&b, "Status: FAIL")
	} else {
		fmt.Fprintln(&b, "Status: PASS")
	}
	fmt.Fprintf(&b, "Run: %s\n", rr.ID)
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "Tasks:")
	for _, t := range rr.Tasks {
		if t.Detail != "" {
			fmt.Fprintf(&b, "  %s: %s (%s)\n", t.Name, t.Status, workflow.FirstLine(t.Detail))
		} else {
			fmt.Fprintf(&b, "  %s: %s\n", t.Name, t.Status)
		}
	}

	if rr.TestExecutable != "" {
		fmt.Fprintf(&b, "\nTest executable: %s\n", rr.TestExecutable)
	}
	if n := len(rr.LintIssues); n > 0 {
		fmt.Fprintf(&b, "\nLint issues: %d (use xtask_inspect with a crate or file)\n", n)
	}
	if rr.Failed() && rr.Output != "" {
		fmt.Fprintln(&b)
		fmt.Fprintln(&b, "Output (tail):")
		lines := strings.Split(strings.TrimRight(rr.Output, "\n"), "\n")
		if len(lines) > 20 {
			lines = lines[len(lines)-20:]
		}
		for _, line := range lines {
			fmt.Fprintf(&b, "    %s\n", line)
		}
	}
	return b.String()
}

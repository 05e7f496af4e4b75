package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/halogen-os/xtask/internal/report"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type inspectParams struct {
	RunID string `json:"run_id" jsonschema:"the run ID from an xtask_run or xtask_modtest result"`
	Name  string `json:"name,omitempty" jsonschema:"task name, crate directory, source file or module id; empty for every diagnostic in the run"`
}

func (h *handler) inspectHandler(ctx context.Context, req *mcp.CallToolRequest, params inspectParams) (*mcp.CallToolResult, any, error) {
	if params.RunID == "" {
		return errorResult("run_id is required")
	}

	result, err := h.store.Load(params.RunID)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to load run %s: %v", params.RunID, err))
	}

	var diagnostics []report.Diagnostic
	subject := params.Name
	if subject == "" {
		diagnostics = report.Diagnostics(result)
		subject = "run"
	} else {
		diagnostics = report.ByName(result, params.Name)
	}
	if len(diagnostics) == 0 {
		return textResult(fmt.Sprintf("No diagnostics found for %s in run %s (%s).", subject, params.RunID, result.Kind))
	}

	return textResult(formatInspectOutput(result, subject, diagnostics))
}

func formatInspectOutput(rr *report.RunResult, subject string, diagnostics []report.Diagnostic) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Run: %s (%s)\n", rr.ID, rr.Kind)

	// Count per source, in first-seen order.
	var sources []string
	counts := make(map[string]int)
	for _, d := range diagnostics {
		if counts[d.Source] == 0 {
			sources = append(sources, d.Source)
		}
		counts[d.Source]++
	}
	var parts []string
	for _, s := range sources {
		parts = append(parts, fmt.Sprintf("%d %s", counts[s], s))
	}
	fmt.Fprintf(&b, "%s: %s\n\n", subject, strings.Join(parts, ", "))

	for _, d := range diagnostics {
		if d.File != "" {
			switch {
			case d.Line > 0 && d.Col > 0:
				fmt.Fprintf(&b, "%s:%d:%d: ", d.File, d.Line, d.Col)
			case d.Line > 0:
				fmt.Fprintf(&b, "%s:%d: ", d.File, d.Line)
			default:
				fmt.Fprintf(&b, "%s: ", d.File)
			}
		}
		tag := d.Source + " " + d.Subject
		if d.Detail != "" {
			tag += "/" + d.Detail
		}
		fmt.Fprintf(&b, "[%s] %s\n", tag, d.Message)
	}

	if rr.Output != "" && hasSource(diagnostics, "task") {
		fmt.Fprintln(&b)
		fmt.Fprintln(&b, "Output:")
		for _, line := range strings.Split(strings.TrimRight(rr.Output, "\n"), "\n") {
			fmt.Fprintf(&b, "    %s\n", line)
		}
	}

	return b.String()
}

func hasSource(diagnostics []report.Diagnostic, source string) bool {
	for _, d := range diagnostics {
		if d.Source == source {
			return true
		}
	}
	return false
}

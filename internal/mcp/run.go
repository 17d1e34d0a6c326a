package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/deixis/loadmatrix/internal/matrix"
	"github.com/deixis/loadmatrix/internal/render"
	"github.com/deixis/loadmatrix/internal/report"
	"github.com/deixis/loadmatrix/internal/workflow"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type runParams struct {
	Mode string `json:"mode,omitempty" jsonschema:"ci (default) reports the gate; local rewrites the document table"`
}

func (h *handler) runHandler(ctx context.Context, req *mcp.CallToolRequest, params runParams) (*mcp.CallToolResult, any, error) {
	mode := report.CI
	switch params.Mode {
	case "", string(report.CI):
	case string(report.Local):
		mode = report.Local
	default:
		return errorResult(fmt.Sprintf("mode must be ci or local, got %q", params.Mode))
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	run, out, err := h.engine.Execute(ctx, mode, render.Plain)
	if err != nil {
		return errorResult(fmt.Sprintf("Matrix run failed: %v", err))
	}
	if err := h.store.Save(run); err != nil {
		return errorResult(fmt.Sprintf("Failed to store run: %v", err))
	}

	return textResult(formatRunOutput(run, out))
}

func formatRunOutput(run *report.Run, out *workflow.Outcome) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Run: %s (%s)\n", run.ID, run.Mode)
	fmt.Fprintf(&b, "Version: %s\n", run.Version)
	if run.Commit != "" {
		fmt.Fprintf(&b, "Commit: %s\n", run.Commit)
	}
	passed, total := matrix.Counts(run.Records)
	fmt.Fprintf(&b, "Passed: %d/%d\n", passed, total)

	switch out.Mode {
	case report.CI:
		if !out.Failed {
			fmt.Fprintln(&b, "Gate: PASS")
			break
		}
		var failing []string
		for _, r := range matrix.Gated(run.Records) {
			if !r.Import {
				failing = append(failing, r.Combination().String())
			}
		}
		fmt.Fprintf(&b, "Gate: FAIL (%s)\n", strings.Join(failing, ", "))
	case report.Local:
		if out.DocumentUpdated {
			fmt.Fprintf(&b, "Document: updated %s\n", out.Document)
		} else {
			fmt.Fprintf(&b, "Document: markers not found in %s, left unchanged\n", out.Document)
		}
	}
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, render.Blocks(run.Records, render.Plain))

	var withErrors []string
	for _, r := range run.Records {
		if r.Errors != nil {
			withErrors = append(withErrors, r.Combination().String())
		}
	}
	if len(withErrors) > 0 {
		fmt.Fprintln(&b)
		fmt.Fprintln(&b, "Diagnostics captured for:")
		for _, c := range withErrors {
			fmt.Fprintf(&b, "  %s\n", c)
		}
		fmt.Fprintln(&b)
		fmt.Fprintln(&b, "Use matrix_inspect with this run_id, runtime and loader to see them.")
	}

	return b.String()
}

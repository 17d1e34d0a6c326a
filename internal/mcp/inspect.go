package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/deixis/loadmatrix/internal/matrix"
	"github.com/deixis/loadmatrix/internal/render"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type inspectParams struct {
	RunID   string `json:"run_id" jsonschema:"the run ID from a matrix_run result"`
	Runtime string `json:"runtime" jsonschema:"runtime name, e.g. node"`
	Loader  string `json:"loader" jsonschema:"loader name, e.g. native"`
}

func (h *handler) inspectHandler(ctx context.Context, req *mcp.CallToolRequest, params inspectParams) (*mcp.CallToolResult, any, error) {
	if params.RunID == "" {
		return errorResult("run_id is required")
	}
	if params.Runtime == "" || params.Loader == "" {
		return errorResult("runtime and loader are required")
	}

	run, err := h.store.Load(params.RunID)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to load run %s: %v", params.RunID, err))
	}

	rec, err := run.Find(params.Loader, params.Runtime)
	if err != nil {
		return textResult(fmt.Sprintf("No record for %s - %s in run %s. The combination is not part of the matrix.",
			params.Runtime, params.Loader, params.RunID))
	}

	return textResult(formatInspectOutput(params.RunID, rec))
}

func formatInspectOutput(runID string, rec *matrix.Record) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Run: %s\n", runID)
	fmt.Fprintln(&b, render.Blocks([]matrix.Record{*rec}, render.Plain))

	if rec.Errors == nil {
		fmt.Fprintln(&b)
		fmt.Fprintln(&b, "No diagnostics captured.")
		return b.String()
	}

	fmt.Fprintln(&b)
	fmt.Fprintln(&b, "Diagnostics:")
	for _, line := range strings.Split(strings.TrimRight(rec.ErrorText(), "\n"), "\n") {
		fmt.Fprintf(&b, "    %s\n", line)
	}
	return b.String()
}

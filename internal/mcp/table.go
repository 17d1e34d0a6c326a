package mcp

import (
	"context"
	"fmt"

	"github.com/deixis/loadmatrix/internal/render"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type tableParams struct {
	RunID string `json:"run_id" jsonschema:"the run ID from a matrix_run result"`
}

func (h *handler) tableHandler(ctx context.Context, req *mcp.CallToolRequest, params tableParams) (*mcp.CallToolResult, any, error) {
	if params.RunID == "" {
		return errorResult("run_id is required")
	}

	run, err := h.store.Load(params.RunID)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to load run %s: %v", params.RunID, err))
	}

	return textResult(render.Section(run.Version, run.StartedAt, run.Loaders, run.Runtimes, run.Records) + "\n")
}

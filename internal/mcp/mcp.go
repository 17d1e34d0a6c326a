// Package mcp provides the loadmatrix MCP server, registering the matrix
// tools and publishing model instructions.
package mcp

import (
	"context"
	_ "embed"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/deixis/loadmatrix"
	"github.com/deixis/loadmatrix/internal/config"
	"github.com/deixis/loadmatrix/internal/report"
	"github.com/deixis/loadmatrix/internal/runner"
	"github.com/deixis/loadmatrix/internal/workflow"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

//go:embed instructions.md
var Instructions string

// handler holds shared dependencies for all tool handlers.
type handler struct {
	mu     sync.Mutex // one matrix run at a time
	engine *workflow.Engine
	runner *runner.Runner // retained for updateWorkspaceFromRoots
	store  report.Store
}

// NewServer creates an MCP server with all matrix tools registered.
// root is the project root the matrix runs against.
func NewServer(cfg *config.Config, r *runner.Runner, store report.Store, root string, opts ...ServerOption) *mcp.Server {
	var so serverOptions
	for _, o := range opts {
		o(&so)
	}

	h := &handler{
		engine: &workflow.Engine{
			Config:    cfg,
			Runner:    r,
			Root:      root,
			Logger:    so.logger,
			History:   so.history,
			Publisher: so.publisher,
		},
		runner: r,
		store:  store,
	}

	mcpOpts := &mcp.ServerOptions{
		Instructions: Instructions,
		Capabilities: &mcp.ServerCapabilities{
			Tools: &mcp.ToolCapabilities{ListChanged: false},
		},
		InitializedHandler: func(ctx context.Context, req *mcp.InitializedRequest) {
			h.updateWorkspaceFromRoots(ctx, req.Session)
		},
	}
	s := mcp.NewServer(&mcp.Implementation{Name: "loadmatrix", Version: loadmatrix.Version}, mcpOpts)

	mcp.AddTool(s, &mcp.Tool{
		Name: "matrix_combinations",
		Description: `List the loader/runtime combinations the matrix will run, with the command line for each
and whether each runtime's launcher is installed. Does not run anything.`,
	}, h.combinationsHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "matrix_run",
		Description: `Run every combination of the matrix, one child process at a time, and write the results file.

mode=ci (default) reports the gate: it fails when any combination other than the baseline
(native loader on the primary runtime) cannot import. mode=local rewrites the table between
the document markers instead. Results are stored for drill-down via matrix_inspect and matrix_table.`,
	}, h.runHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "matrix_inspect",
		Description: `Show one record from a matrix_run result, including the diagnostics captured from
the child's stderr. Use the run_id from matrix_run and the runtime and loader names.`,
	}, h.inspectHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "matrix_table",
		Description: "Render the markdown compatibility table for a stored matrix_run result.",
	}, h.tableHandler)

	return s
}

// ServerOption configures the loadmatrix MCP server.
type ServerOption func(*serverOptions)

type serverOptions struct {
	logger    *slog.Logger
	history   workflow.Recorder
	publisher workflow.Publisher
}

// WithLogger sets the logger used for per-record progress.
func WithLogger(l *slog.Logger) ServerOption {
	return func(o *serverOptions) {
		o.logger = l
	}
}

// WithHistory appends every run to a history store.
func WithHistory(r workflow.Recorder) ServerOption {
	return func(o *serverOptions) {
		o.history = r
	}
}

// WithPublisher uploads every run's results file.
func WithPublisher(p workflow.Publisher) ServerOption {
	return func(o *serverOptions) {
		o.publisher = p
	}
}

// updateWorkspaceFromRoots queries the client for MCP roots and updates the
// handler's engine, runner, and config if a valid root is returned.
// This is called during session initialization, before any tool calls.
func (h *handler) updateWorkspaceFromRoots(ctx context.Context, session *mcp.ServerSession) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	roots, err := session.ListRoots(ctx, &mcp.ListRootsParams{})
	if err != nil {
		return
	}
	if len(roots.Roots) == 0 {
		return
	}

	u, err := url.Parse(roots.Roots[0].URI)
	if err != nil || u.Scheme != "file" {
		return
	}

	loaded, err := config.Load(u.Path)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.runner.Workspace = loaded.ProjectRoot
	h.runner.Timeout = loaded.Config.Timeout()
	h.runner.MaxOutput = loaded.Config.MaxOutputBytes()

	h.engine.Config = loaded.Config
	h.engine.Root = loaded.ProjectRoot
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

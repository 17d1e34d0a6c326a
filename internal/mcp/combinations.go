package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type combinationsParams struct{}

func (h *handler) combinationsHandler(ctx context.Context, req *mcp.CallToolRequest, _ combinationsParams) (*mcp.CallToolResult, any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	e := h.engine
	combos := e.Combinations()

	var b strings.Builder
	fmt.Fprintf(&b, "Combinations (%d), primary runtime %s, loader variable %s:\n",
		len(combos), e.Config.PrimaryRuntime(), e.Config.LoaderVar())
	for _, c := range combos {
		argv, err := e.Argv(c)
		if err != nil {
			return errorResult(fmt.Sprintf("Failed to build command for %s: %v", c, err))
		}
		fmt.Fprintf(&b, "  %s: %s\n", c, strings.Join(argv, " "))
	}

	fmt.Fprintln(&b)
	fmt.Fprintln(&b, "Runtimes:")
	for _, rt := range e.Runtimes() {
		if rt.Available {
			fmt.Fprintf(&b, "  %s: %s (%s)\n", rt.Name, rt.Command, rt.Path)
		} else {
			fmt.Fprintf(&b, "  %s: %s (not installed)\n", rt.Name, rt.Command)
		}
	}

	return textResult(b.String())
}

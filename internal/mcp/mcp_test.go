package mcp

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/deixis/loadmatrix/internal/config"
	"github.com/deixis/loadmatrix/internal/report"
	"github.com/deixis/loadmatrix/internal/runner"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// setup creates a full loadmatrix MCP server + client over in-memory
// transports. dir should be a prepared fixture directory.
func setup(t *testing.T, dir string) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()

	loaded, err := config.Load(dir)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	cfg := loaded.Config

	store := report.NewLRUStore(5, report.NewDiskStore())
	r := &runner.Runner{
		Workspace: loaded.ProjectRoot,
		Timeout:   cfg.Timeout(),
		MaxOutput: cfg.MaxOutputBytes(),
	}

	server := NewServer(cfg, r, store, loaded.ProjectRoot)

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

// copyFixture copies a testdata fixture to a temp dir, dropping the .txt
// extension that keeps tooling away from the fixture files.
func copyFixture(t *testing.T, fixture string) string {
	t.Helper()
	srcDir := filepath.Join("testdata", fixture)
	dstDir := t.TempDir()

	entries, err := os.ReadDir(srcDir)
	if err != nil {
		t.Fatalf("reading fixture %s: %v", fixture, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		src := filepath.Join(srcDir, e.Name())
		data, err := os.ReadFile(src)
		if err != nil {
			t.Fatalf("reading %s: %v", src, err)
		}
		dst := filepath.Join(dstDir, strings.TrimSuffix(e.Name(), ".txt"))
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			t.Fatalf("writing %s: %v", dst, err)
		}
	}
	return dstDir
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

// runMatrix calls matrix_run and returns the run ID and output.
func runMatrix(t *testing.T, cs *mcp.ClientSession, args map[string]any) (string, string) {
	t.Helper()
	res := callTool(t, cs, "matrix_run", args)
	text := resultText(res)
	if res.IsError {
		t.Fatalf("matrix_run failed:\n%s", text)
	}
	m := runIDPattern.FindStringSubmatch(text)
	if m == nil {
		t.Fatalf("no run ID in output:\n%s", text)
	}
	return m[1], text
}

func TestInstructionsEmbedded(t *testing.T) {
	if !strings.Contains(Instructions, "matrix_inspect") {
		t.Error("instructions do not mention matrix_inspect")
	}
}

// --- matrix_combinations ---

func TestMatrixCombinations(t *testing.T) {
	dir := copyFixture(t, "basic")
	cs := setup(t, dir)
	res := callTool(t, cs, "matrix_combinations", nil)
	text := resultText(res)
	if res.IsError {
		t.Fatalf("unexpected error: %s", text)
	}
	for _, want := range []string{
		"Combinations (4), primary runtime node, loader variable IMPORTX_LOADER:",
		"  node - native: sh " + filepath.Join(dir, "index.sh"),
		"  node - jiti: sh ",
		"  ghost: loadmatrix-missing-launcher (not installed)",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in output, got:\n%s", want, text)
		}
	}
	if strings.Contains(text, "alt - jiti") {
		t.Errorf("non-native loader listed on a secondary runtime:\n%s", text)
	}
}

// --- matrix_run ---

func TestMatrixRun_CI(t *testing.T) {
	dir := copyFixture(t, "basic")
	cs := setup(t, dir)
	_, text := runMatrix(t, cs, nil)

	for _, want := range []string{
		"Version: 1.4.0",
		"Passed: 2/4",
		"Gate: FAIL (ghost - native, node - jiti)",
		"node - native\n   Import:   ✅",
		"Use matrix_inspect",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in output, got:\n%s", want, text)
		}
	}

	if _, err := os.Stat(filepath.Join(dir, "test", "table.json")); err != nil {
		t.Errorf("results file not written: %v", err)
	}
}

func TestMatrixRun_Local(t *testing.T) {
	dir := copyFixture(t, "basic")
	cs := setup(t, dir)
	_, text := runMatrix(t, cs, map[string]any{"mode": "local"})

	if !strings.Contains(text, "Document: updated") {
		t.Errorf("expected document update, got:\n%s", text)
	}
	data, err := os.ReadFile(filepath.Join(dir, "README.md"))
	if err != nil {
		t.Fatal(err)
	}
	doc := string(data)
	if !strings.Contains(doc, "<!-- TABLE_START -->\n\n> Generated with version v1.4.0 at ") {
		t.Errorf("provenance missing:\n%s", doc)
	}
	if !strings.Contains(doc, "| alt | Import: ✅<br>Cache: ✅<br>No cache: ✅ | N/A |") {
		t.Errorf("alt row wrong:\n%s", doc)
	}
	if !strings.HasPrefix(doc, "# basic\n\n## Compatibility\n\n") || !strings.HasSuffix(doc, "\n\n<!-- TABLE_END -->\n") {
		t.Errorf("text outside markers changed:\n%s", doc)
	}
}

func TestMatrixRun_BadMode(t *testing.T) {
	dir := copyFixture(t, "basic")
	cs := setup(t, dir)
	res := callTool(t, cs, "matrix_run", map[string]any{"mode": "html"})
	if !res.IsError {
		t.Error("expected IsError for unknown mode")
	}
}

// --- matrix_inspect ---

func TestMatrixInspect_MissingRunID(t *testing.T) {
	dir := copyFixture(t, "basic")
	cs := setup(t, dir)
	_, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name: "matrix_inspect",
		Arguments: map[string]any{
			"runtime": "node",
			"loader":  "native",
		},
	})
	if err == nil {
		t.Error("expected error for missing run_id")
	}
}

func TestMatrixInspect_InvalidRunID(t *testing.T) {
	dir := copyFixture(t, "basic")
	cs := setup(t, dir)
	res := callTool(t, cs, "matrix_inspect", map[string]any{
		"run_id":  "nonexistent-id",
		"runtime": "node",
		"loader":  "native",
	})
	if !res.IsError {
		t.Error("expected IsError for invalid run_id")
	}
}

func TestMatrixInspect_AfterRun(t *testing.T) {
	dir := copyFixture(t, "basic")
	cs := setup(t, dir)
	runID, _ := runMatrix(t, cs, nil)

	res := callTool(t, cs, "matrix_inspect", map[string]any{
		"run_id":  runID,
		"runtime": "node",
		"loader":  "jiti",
	})
	text := resultText(res)
	if res.IsError {
		t.Fatalf("unexpected error: %s", text)
	}
	if !strings.Contains(text, "node - jiti\n   Import:   ❌") {
		t.Errorf("expected failing block, got:\n%s", text)
	}
	if !strings.Contains(text, "Diagnostics:\n    jiti: cannot resolve ./lib.ts") {
		t.Errorf("expected stderr diagnostics, got:\n%s", text)
	}

	res = callTool(t, cs, "matrix_inspect", map[string]any{
		"run_id":  runID,
		"runtime": "ghost",
		"loader":  "native",
	})
	if text := resultText(res); !strings.Contains(text, "loadmatrix-missing-launcher is required for runtime ghost but not installed.") {
		t.Errorf("expected launch failure, got:\n%s", text)
	}

	res = callTool(t, cs, "matrix_inspect", map[string]any{
		"run_id":  runID,
		"runtime": "node",
		"loader":  "native",
	})
	if text := resultText(res); !strings.Contains(text, "No diagnostics captured.") {
		t.Errorf("expected no diagnostics, got:\n%s", text)
	}
}

func TestMatrixInspect_NotInMatrix(t *testing.T) {
	dir := copyFixture(t, "basic")
	cs := setup(t, dir)
	runID, _ := runMatrix(t, cs, nil)

	res := callTool(t, cs, "matrix_inspect", map[string]any{
		"run_id":  runID,
		"runtime": "alt",
		"loader":  "jiti",
	})
	if text := resultText(res); !strings.Contains(text, "No record for alt - jiti") {
		t.Errorf("expected no record, got:\n%s", text)
	}
}

// --- matrix_table ---

func TestMatrixTable_AfterRun(t *testing.T) {
	dir := copyFixture(t, "basic")
	cs := setup(t, dir)
	runID, _ := runMatrix(t, cs, nil)

	res := callTool(t, cs, "matrix_table", map[string]any{"run_id": runID})
	text := resultText(res)
	if res.IsError {
		t.Fatalf("unexpected error: %s", text)
	}
	for _, want := range []string{
		"> Generated with version v1.4.0 at ",
		"|  | native | jiti |\n| ------- | --- | --- |\n",
		"| node | Import: ✅<br>Cache: ✅<br>No cache: ✅ | Import: ❌<br>Cache: ❌<br>No cache: ❌ |",
		"| ghost | Import: ❌<br>Cache: ❌<br>No cache: ❌ | N/A |",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in output, got:\n%s", want, text)
		}
	}
}

func TestMatrixTable_InvalidRunID(t *testing.T) {
	dir := copyFixture(t, "basic")
	cs := setup(t, dir)
	res := callTool(t, cs, "matrix_table", map[string]any{"run_id": "nonexistent-id"})
	if !res.IsError {
		t.Error("expected IsError for invalid run_id")
	}
}

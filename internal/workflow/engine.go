// Package workflow provides the execution engine for the loader/runtime
// matrix. It is consumed by both the MCP server and the CLI commands.
package workflow

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/deixis/loadmatrix/internal/config"
	"github.com/deixis/loadmatrix/internal/matrix"
	"github.com/deixis/loadmatrix/internal/report"
	"github.com/deixis/loadmatrix/internal/runner"
)

// CommandRunner executes commands within a workspace.
// Implemented by runner.Runner.
type CommandRunner interface {
	Run(ctx context.Context, argv []string, cwd string, env []string) (*runner.Result, error)
}

// Recorder appends finished runs to a history store.
// Implemented by history.Recorder.
type Recorder interface {
	Record(ctx context.Context, run *report.Run) error
}

// Publisher uploads a run's results file.
// Implemented by objectstore.Publisher.
type Publisher interface {
	Publish(ctx context.Context, runID string, data []byte) (string, error)
}

// Engine holds shared dependencies for all workflow operations.
type Engine struct {
	Config *config.Config
	Runner CommandRunner
	Root   string // project root; relative paths in Config resolve here
	Logger *slog.Logger

	// Optional sinks. Failures are logged and never fail a run.
	History   Recorder
	Publisher Publisher

	Now func() time.Time // defaults to time.Now
}

// Path resolves a project-relative path against the project root.
func (e *Engine) Path(rel string) string {
	if filepath.IsAbs(rel) {
		return filepath.Clean(rel)
	}
	return filepath.Join(e.Root, rel)
}

// Combinations returns the valid combinations for the configuration, in
// execution order.
func (e *Engine) Combinations() []matrix.Combination {
	return matrix.Enumerate(e.Config.LoaderList(), e.Config.RuntimeNames(), e.Config.PrimaryRuntime())
}

// Argv builds the command line for a combination: the runtime's launch
// command split on whitespace followed by the absolute entry point.
func (e *Engine) Argv(c matrix.Combination) ([]string, error) {
	rt, ok := e.Config.Runtime(c.Runtime)
	if !ok {
		return nil, fmt.Errorf("unknown runtime %q", c.Runtime)
	}
	argv := strings.Fields(rt.Command)
	if len(argv) == 0 {
		return nil, fmt.Errorf("runtime %q has no command", c.Runtime)
	}
	return append(argv, e.Path(e.Config.EntryFile())), nil
}

// Env returns the variables added to the inherited environment for a
// combination. The loader variable is set last so runtime settings cannot
// override it.
func (e *Engine) Env(c matrix.Combination) []string {
	rt, _ := e.Config.Runtime(c.Runtime)
	env := make([]string, 0, len(rt.Env)+1)
	for _, k := range slices.Sorted(maps.Keys(rt.Env)) {
		env = append(env, k+"="+rt.Env[k])
	}
	return append(env, e.Config.LoaderVar()+"="+c.Loader)
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// RuntimeStatus describes whether a runtime's launcher is installed.
type RuntimeStatus struct {
	Name      string
	Command   string
	Path      string // resolved launcher binary, empty when missing
	Available bool
}

// Runtimes probes PATH for each configured runtime's launcher.
func (e *Engine) Runtimes() []RuntimeStatus {
	rts := e.Config.RuntimeList()
	out := make([]RuntimeStatus, len(rts))
	for i, rt := range rts {
		out[i] = RuntimeStatus{Name: rt.Name, Command: rt.Command}
		fields := strings.Fields(rt.Command)
		if len(fields) == 0 {
			continue
		}
		if p, err := exec.LookPath(fields[0]); err == nil {
			out[i].Path = p
			out[i].Available = true
		}
	}
	return out
}

// knownRuntimes maps launcher binaries to install instructions.
var knownRuntimes = map[string]string{
	"node": "https://nodejs.org/en/download",
	"npx":  "https://nodejs.org/en/download (npx ships with npm)",
	"deno": "https://deno.com/#installation",
	"bun":  "https://bun.sh/docs/installation",
}

// ErrRuntimeUnavailable is recorded when a runtime's launcher is not
// installed. It includes install instructions when the launcher is known.
type ErrRuntimeUnavailable struct {
	Runtime  string
	Launcher string
	Install  string
}

func NewErrRuntimeUnavailable(runtime, launcher string) ErrRuntimeUnavailable {
	return ErrRuntimeUnavailable{Runtime: runtime, Launcher: launcher, Install: knownRuntimes[launcher]}
}

func (e ErrRuntimeUnavailable) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s is required for runtime %s but not installed.", e.Launcher, e.Runtime)
	if e.Install != "" {
		fmt.Fprintf(&b, "\nInstall: %s", e.Install)
	}
	return b.String()
}

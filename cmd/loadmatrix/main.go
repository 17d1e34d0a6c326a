// Command loadmatrix runs an example entry point under every loader and
// runtime combination and reports which ones work.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/deixis/loadmatrix"
	"github.com/deixis/loadmatrix/internal/config"
	"github.com/deixis/loadmatrix/internal/history"
	lmmcp "github.com/deixis/loadmatrix/internal/mcp"
	"github.com/deixis/loadmatrix/internal/objectstore"
	"github.com/deixis/loadmatrix/internal/render"
	"github.com/deixis/loadmatrix/internal/report"
	"github.com/deixis/loadmatrix/internal/runner"
	"github.com/deixis/loadmatrix/internal/workflow"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

func main() {
	log.SetFlags(0)
	log.SetPrefix("loadmatrix: ")

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "run":
		err = runMain(args)
	case "list":
		err = listMain(args)
	case "history":
		err = historyMain(args)
	case "mcp":
		err = mcpMain(args)
	case "version":
		fmt.Println(loadmatrix.Version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "loadmatrix: unknown command %q\n", cmd)
		usage()
		os.Exit(2)
	}

	if err != nil {
		log.Fatal(err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: loadmatrix <command> [flags]

Commands:
  run         Run the matrix and report (CI gate or document table)
  list        List the combinations and installed runtimes
  history     Show recent runs from the history database
  mcp         Start the MCP server
  version     Print the version
  help        Show this help

Use "loadmatrix <command> -h" for command-specific flags.`)
}

// logFlags registers the logging flags shared by every command that runs
// the matrix.
func logFlags(fs *flag.FlagSet) (level, format *string) {
	level = fs.String("log-level", "info", "log level: debug, info, warn or error")
	format = fs.String("log-format", "text", "log format: text or json")
	return level, format
}

// newLogger creates the stderr logger. stdout is reserved for the report.
func newLogger(levelStr, formatStr string, outW io.Writer) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler

	if formatStr == "json" {
		handler = slog.NewJSONHandler(outW, handlerOpts)
	} else {
		handler = slog.NewTextHandler(outW, handlerOpts)
	}

	return slog.New(handler)
}

// --- run ---

func runMain(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	modeFlag := fs.String("mode", workflow.ModeAuto, "report mode: auto, ci or local (auto uses ci when $CI is set)")
	noColor := fs.Bool("no-color", false, "disable colours in the CI report")
	timeoutFlag := fs.Duration("timeout", 0, "override configured per-child timeout (e.g. 2m)")
	levelFlag, formatFlag := logFlags(fs)
	_ = fs.Parse(args)

	mode, err := workflow.ResolveMode(*modeFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loadmatrix: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logger := newLogger(*levelFlag, *formatFlag, os.Stderr)
	eng, err := newEngine(*timeoutFlag, logger)
	if err != nil {
		return err
	}
	closeSinks := attachSinks(ctx, eng, logger)
	defer closeSinks()

	palette := selectPalette(mode, *noColor)

	_, out, err := eng.Execute(ctx, mode, palette)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	fmt.Print(out.Output)
	if out.Failed {
		closeSinks()
		os.Exit(1)
	}
	return nil
}

// selectPalette returns the palette for the report. CI output is coloured
// even without a terminal unless -no-color or NO_COLOR asks otherwise.
func selectPalette(mode report.Mode, noColor bool) render.Palette {
	if mode != report.CI || noColor || os.Getenv("NO_COLOR") != "" {
		return render.Plain
	}
	return render.ForceColored()
}

// attachSinks wires the optional history database and object store into
// the engine. Sinks that cannot be set up are logged and skipped.
func attachSinks(ctx context.Context, eng *workflow.Engine, logger *slog.Logger) func() {
	var db *sql.DB

	hcfg, err := history.ConfigFromEnv()
	switch {
	case err != nil:
		logger.Warn("history disabled", "err", err)
	case hcfg.Enabled():
		db, err = history.Open(ctx, hcfg)
		if err != nil {
			logger.Warn("history disabled", "err", err)
			break
		}
		rec := history.NewRecorder(db)
		if err := rec.EnsureSchema(ctx); err != nil {
			logger.Warn("history disabled", "err", err)
			break
		}
		eng.History = rec
	}

	ocfg, err := objectstore.ConfigFromEnv()
	switch {
	case err != nil:
		logger.Warn("publishing disabled", "err", err)
	case ocfg.Enabled():
		pub, err := objectstore.NewPublisher(ocfg)
		if err != nil {
			logger.Warn("publishing disabled", "err", err)
			break
		}
		eng.Publisher = pub
	}

	return func() {
		if db != nil {
			_ = db.Close()
			db = nil
		}
	}
}

// --- list ---

func listMain(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	_ = fs.Parse(args)

	eng, err := newEngine(0, nil)
	if err != nil {
		return err
	}
	fmt.Print(formatListCLI(eng))
	return nil
}

func formatListCLI(eng *workflow.Engine) string {
	var b []byte
	w := func(format string, args ...any) {
		b = fmt.Appendf(b, format, args...)
	}

	combos := eng.Combinations()
	w("%d combinations (primary runtime %s):\n\n", len(combos), eng.Config.PrimaryRuntime())
	for _, c := range combos {
		w("  %-15s %s\n", c.Runtime, c.Loader)
	}
	w("\n")
	for _, rt := range eng.Runtimes() {
		if rt.Available {
			w("  %-15s ok (%s)\n", rt.Name, rt.Path)
		} else {
			w("  %-15s not installed (%s)\n", rt.Name, rt.Command)
		}
	}
	return string(b)
}

// --- history ---

func historyMain(args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	limit := fs.Int("n", 10, "number of runs to show")
	_ = fs.Parse(args)

	cfg, err := history.ConfigFromEnv()
	if err != nil {
		return err
	}
	if !cfg.Enabled() {
		return fmt.Errorf("history: LOADMATRIX_DATABASE_URL is not set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	db, err := history.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	defer db.Close()

	runs, err := history.NewRecorder(db).Passing(ctx, *limit)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	for _, s := range runs {
		fmt.Printf("%s  %s  v%-10s %d/%d\n", s.StartedAt.UTC().Format(time.RFC3339), s.RunID, s.Version, s.Passed, s.Total)
	}
	return nil
}

// --- mcp ---

func mcpMain(args []string) error {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	instructions := fs.Bool("instructions", false, "print model instructions and exit")
	httpAddr := fs.String("http", "", "start HTTP server on address (e.g. :9090)")
	levelFlag, formatFlag := logFlags(fs)
	_ = fs.Parse(args)

	if *instructions {
		fmt.Print(lmmcp.Instructions)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	return serve(ctx, *httpAddr, newLogger(*levelFlag, *formatFlag, os.Stderr))
}

func serve(ctx context.Context, httpAddr string, logger *slog.Logger) error {
	eng, err := newEngine(0, logger)
	if err != nil {
		return err
	}
	closeSinks := attachSinks(ctx, eng, logger)
	defer closeSinks()

	disk := report.NewDiskStore()
	store := report.NewLRUStore(5, disk)

	opts := []lmmcp.ServerOption{lmmcp.WithLogger(logger)}
	if eng.History != nil {
		opts = append(opts, lmmcp.WithHistory(eng.History))
	}
	if eng.Publisher != nil {
		opts = append(opts, lmmcp.WithPublisher(eng.Publisher))
	}

	r, ok := eng.Runner.(*runner.Runner)
	if !ok {
		return fmt.Errorf("unexpected runner %T", eng.Runner)
	}
	server := lmmcp.NewServer(eng.Config, r, store, eng.Root, opts...)

	if httpAddr != "" {
		return serveHTTP(ctx, server, httpAddr)
	}
	return server.Run(ctx, &mcpsdk.StdioTransport{})
}

func serveHTTP(ctx context.Context, server *mcpsdk.Server, addr string) error {
	handler := mcpsdk.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcpsdk.Server { return server },
		nil,
	)

	httpServer := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go func() {
		<-ctx.Done()
		_ = httpServer.Close()
	}()

	log.Printf("listening on %s", addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// --- shared ---

func newEngine(timeoutOverride time.Duration, logger *slog.Logger) (*workflow.Engine, error) {
	workspace, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("determining workspace: %w", err)
	}

	loaded, err := config.Load(workspace)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	cfg := loaded.Config
	if loaded.Path != "" && logger != nil {
		logger.Debug("config loaded", "path", loaded.Path)
	}

	timeout := cfg.Timeout()
	if timeoutOverride > 0 {
		timeout = timeoutOverride
	}

	r := &runner.Runner{
		Workspace: loaded.ProjectRoot,
		Timeout:   timeout,
		MaxOutput: cfg.MaxOutputBytes(),
	}

	return &workflow.Engine{
		Config: cfg,
		Runner: r,
		Root:   loaded.ProjectRoot,
		Logger: logger,
	}, nil
}

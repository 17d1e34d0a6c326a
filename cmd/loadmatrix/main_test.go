package main

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/deixis/loadmatrix/internal/config"
	"github.com/deixis/loadmatrix/internal/matrix"
	"github.com/deixis/loadmatrix/internal/render"
	"github.com/deixis/loadmatrix/internal/report"
	"github.com/deixis/loadmatrix/internal/workflow"
	"github.com/gookit/color"
)

func TestFormatListCLI(t *testing.T) {
	eng := &workflow.Engine{
		Config: &config.Config{
			Loaders: []string{"native", "tsx"},
			Runtimes: []config.Runtime{
				{Name: "node", Command: "sh"},
				{Name: "ghost", Command: "loadmatrix-missing-launcher --flag"},
			},
		},
		Root: t.TempDir(),
	}
	got := formatListCLI(eng)

	for _, want := range []string{
		"3 combinations (primary runtime node):\n\n",
		"  node            native\n",
		"  ghost           native\n",
		"  node            tsx\n",
		"  ghost           not installed (loadmatrix-missing-launcher --flag)\n",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("expected %q in output, got:\n%s", want, got)
		}
	}
	if !strings.Contains(got, "  node            ok (") {
		t.Errorf("sh not reported as installed:\n%s", got)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger("warn", "json", &buf)
	if logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info enabled at warn level")
	}
	logger.Warn("combination", "runtime", "bun")
	if !strings.Contains(buf.String(), `"runtime":"bun"`) {
		t.Errorf("output = %q, want JSON", buf.String())
	}

	buf.Reset()
	newLogger("bogus", "text", &buf).Info("started")
	if !strings.Contains(buf.String(), "level=INFO msg=started") {
		t.Errorf("output = %q, want text at info", buf.String())
	}
}

func TestSelectPalette(t *testing.T) {
	prev, enabled := color.ForceSetColorLevel(0), color.Enable
	t.Cleanup(func() {
		color.ForceSetColorLevel(prev)
		color.Enable = enabled
	})

	rec := []matrix.Record{{Loader: "native", Runtime: "node"}}
	blocks := func(p render.Palette) string { return render.Blocks(rec, p) }

	t.Setenv("NO_COLOR", "")
	if got := blocks(selectPalette(report.CI, false)); !strings.Contains(got, "\x1b[32mnode\x1b[0m") {
		t.Errorf("ci report not coloured without a terminal: %q", got)
	}

	color.ForceSetColorLevel(0)
	for _, tt := range []struct {
		name    string
		mode    report.Mode
		noColor bool
		env     string
	}{
		{"no-color flag", report.CI, true, ""},
		{"NO_COLOR", report.CI, false, "1"},
		{"local mode", report.Local, false, ""},
	} {
		t.Setenv("NO_COLOR", tt.env)
		if got := blocks(selectPalette(tt.mode, tt.noColor)); strings.Contains(got, "\x1b[") {
			t.Errorf("%s: output has escape codes: %q", tt.name, got)
		}
	}
}

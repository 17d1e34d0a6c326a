package workflow

import (
	"fmt"
	"os"

	"github.com/deixis/loadmatrix/internal/matrix"
	"github.com/deixis/loadmatrix/internal/render"
	"github.com/deixis/loadmatrix/internal/report"
)

// NoticeTitle is the title of the CI annotation.
const NoticeTitle = "Report"

// Outcome is the result of reporting a run.
type Outcome struct {
	Mode report.Mode

	// Output is written to stdout as-is. In CI mode it holds the block
	// report followed by the annotation line; in local mode it is empty.
	Output string

	// Failed is set in CI mode when a gated combination failed its import.
	Failed bool

	Document        string // document path, local mode only
	DocumentUpdated bool   // false when the markers were not found
}

// Report renders the run for the given mode. CI mode gates on the records;
// local mode rewrites the generated region of the document.
func (e *Engine) Report(run *report.Run, mode report.Mode, p render.Palette) (*Outcome, error) {
	run.Mode = mode
	switch mode {
	case report.CI:
		return e.reportCI(run, p), nil
	case report.Local:
		return e.reportLocal(run)
	}
	return nil, fmt.Errorf("unknown report mode %q", mode)
}

func (e *Engine) reportCI(run *report.Run, p render.Palette) *Outcome {
	blocks := render.Blocks(run.Records, p)
	notice := render.Notice(NoticeTitle, render.Blocks(run.Records, render.Plain))

	out := &Outcome{
		Mode:   report.CI,
		Output: blocks + "\n" + notice + "\n",
		Failed: matrix.Failed(run.Records),
	}
	if out.Failed {
		e.logger().Error("gate failed", "run_id", run.ID)
	}
	return out
}

func (e *Engine) reportLocal(run *report.Run) (*Outcome, error) {
	path := e.Path(e.Config.DocumentFile())
	out := &Outcome{Mode: report.Local, Document: path}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading document: %w", err)
	}

	section := render.Section(run.Version, e.now(), run.Loaders, run.Runtimes, run.Records)
	doc, ok := render.ReplaceBetween(string(data), e.Config.StartMarker(), e.Config.EndMarker(), section)
	if !ok {
		e.logger().Debug("table markers not found; document left unchanged", "path", path)
		return out, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reading document: %w", err)
	}
	if err := os.WriteFile(path, []byte(doc), info.Mode().Perm()); err != nil {
		return nil, fmt.Errorf("writing document: %w", err)
	}
	out.DocumentUpdated = true
	e.logger().Info("document updated", "path", path)
	return out, nil
}

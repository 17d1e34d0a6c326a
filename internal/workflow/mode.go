package workflow

import (
	"context"
	"fmt"

	"github.com/deixis/loadmatrix/internal/env"
	"github.com/deixis/loadmatrix/internal/render"
	"github.com/deixis/loadmatrix/internal/report"
)

// ModeAuto picks CI mode when the CI variable is set, local mode otherwise.
const ModeAuto = "auto"

// ResolveMode turns the -mode flag into a report mode.
func ResolveMode(flag string) (report.Mode, error) {
	switch flag {
	case "", ModeAuto:
		if env.Flag("CI") {
			return report.CI, nil
		}
		return report.Local, nil
	case string(report.CI):
		return report.CI, nil
	case string(report.Local):
		return report.Local, nil
	}
	return "", fmt.Errorf("unknown mode %q (want auto, ci or local)", flag)
}

// Execute runs the matrix, persists the results file, publishes to the
// optional sinks, and reports in the given mode.
func (e *Engine) Execute(ctx context.Context, mode report.Mode, p render.Palette) (*report.Run, *Outcome, error) {
	run, err := e.Matrix(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := e.Persist(run); err != nil {
		return run, nil, err
	}
	out, err := e.Report(run, mode, p)
	if err != nil {
		return run, nil, err
	}
	e.Publish(ctx, run)
	return run, out, nil
}

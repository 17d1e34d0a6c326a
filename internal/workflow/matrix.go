package workflow

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strings"

	"github.com/deixis/loadmatrix"
	"github.com/deixis/loadmatrix/internal/config"
	"github.com/deixis/loadmatrix/internal/matrix"
	"github.com/deixis/loadmatrix/internal/report"
	"github.com/deixis/loadmatrix/internal/vcs"
	"github.com/google/uuid"
)

// Matrix runs every valid combination in order, one child at a time, and
// returns the run with one record per combination. Child failures are
// recorded, not returned; an error means the run itself could not proceed.
func (e *Engine) Matrix(ctx context.Context) (*report.Run, error) {
	version, err := e.Version()
	if err != nil {
		return nil, err
	}
	commit, err := vcs.Commit(e.Root)
	if err != nil {
		e.logger().Warn("reading commit", "err", err)
	}

	combos := e.Combinations()
	run := &report.Run{
		ID:        uuid.New().String(),
		Version:   version,
		Commit:    commit,
		StartedAt: e.now().UTC(),
		Loaders:   e.Config.LoaderList(),
		Runtimes:  e.Config.RuntimeNames(),
		Records:   make([]matrix.Record, 0, len(combos)),
	}
	e.logger().Info("matrix started", "run_id", run.ID, "combinations", len(combos), "version", version)

	for _, c := range combos {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("matrix interrupted after %d of %d: %w", len(run.Records), len(combos), err)
		}
		rec, err := e.runCombination(ctx, c)
		if err != nil {
			return nil, err
		}
		run.Records = append(run.Records, rec)
	}

	passed, total := matrix.Counts(run.Records)
	e.logger().Info("matrix finished", "run_id", run.ID, "passed", passed, "total", total)
	return run, nil
}

func (e *Engine) runCombination(ctx context.Context, c matrix.Combination) (matrix.Record, error) {
	rec := matrix.NewRecord(c)
	log := e.logger().With("runtime", c.Runtime, "loader", c.Loader)

	argv, err := e.Argv(c)
	if err != nil {
		return rec, err
	}

	res, err := e.Runner.Run(ctx, argv, "", e.Env(c))
	if err != nil {
		rec.SetError(launchError(c.Runtime, argv[0], err))
		log.Warn("launch failed", "argv", argv, "err", err)
		return rec, nil
	}

	if p, ok := matrix.ParsePayload(res.Stdout); ok {
		rec.Apply(p)
	} else {
		log.Debug("no payload on stdout", "stdout", trimNewline(res.Stdout))
	}
	if stderr := trimNewline(res.Stderr); stderr != "" {
		rec.SetError(stderr)
	}

	log.Info("combination",
		"import", rec.Import,
		"cache", rec.ImportCache,
		"no_cache", rec.ImportNoCache,
		"exit_code", res.ExitCode,
		"duration", res.Duration,
		"truncated", res.Truncated,
	)
	return rec, nil
}

// launchError is the diagnostic stored on a record whose child never
// started.
func launchError(runtime, launcher string, err error) string {
	if errors.Is(err, exec.ErrNotFound) {
		return NewErrRuntimeUnavailable(runtime, launcher).Error()
	}
	return err.Error()
}

// trimNewline strips a single trailing line break from captured output.
func trimNewline(b []byte) string {
	s := string(b)
	s = strings.TrimSuffix(s, "\n")
	return strings.TrimSuffix(s, "\r")
}

// Version returns the version from the project manifest, or the tool's own
// version when the manifest is absent or carries none.
func (e *Engine) Version() (string, error) {
	v, err := config.ManifestVersion(e.Path(e.Config.ManifestFile()))
	switch {
	case err == nil:
		return v, nil
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, config.ErrNoVersion):
		return loadmatrix.Version, nil
	}
	return "", err
}

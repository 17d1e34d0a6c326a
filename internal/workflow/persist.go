package workflow

import (
	"context"
	"fmt"

	"github.com/deixis/loadmatrix/internal/report"
)

// Persist writes the run's records to the results file, replacing it.
func (e *Engine) Persist(run *report.Run) error {
	path := e.Path(e.Config.ResultsFile())
	if err := report.WriteResults(path, run.Records); err != nil {
		return fmt.Errorf("writing results: %w", err)
	}
	e.logger().Debug("results written", "path", path, "records", len(run.Records))
	return nil
}

// Publish hands the run to the configured optional sinks. Sink failures
// are logged as warnings and not returned.
func (e *Engine) Publish(ctx context.Context, run *report.Run) {
	if e.History != nil {
		if err := e.History.Record(ctx, run); err != nil {
			e.logger().Warn("recording history", "run_id", run.ID, "err", err)
		} else {
			e.logger().Debug("history recorded", "run_id", run.ID)
		}
	}
	if e.Publisher != nil {
		data, err := report.MarshalResults(run.Records)
		if err != nil {
			e.logger().Warn("encoding results", "run_id", run.ID, "err", err)
			return
		}
		key, err := e.Publisher.Publish(ctx, run.ID, data)
		if err != nil {
			e.logger().Warn("publishing results", "run_id", run.ID, "err", err)
			return
		}
		e.logger().Info("results published", "run_id", run.ID, "key", key)
	}
}

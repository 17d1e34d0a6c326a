// Package report persists matrix runs: the results file consumed by other
// tooling, and a run store used to inspect earlier runs by ID.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/deixis/loadmatrix/internal/matrix"
)

// Mode identifies how a run was reported.
type Mode string

const (
	// CI gates on the records and emits an annotation.
	CI Mode = "ci"
	// Local writes the markdown table into the document.
	Local Mode = "local"
)

// Store persists and retrieves runs.
type Store interface {
	Save(run *Run) error
	Load(runID string) (*Run, error)
}

// Run holds one complete pass over the matrix.
type Run struct {
	ID        string          `json:"id"`
	Mode      Mode            `json:"mode,omitempty"`
	Version   string          `json:"version"`
	Commit    string          `json:"commit,omitempty"`
	StartedAt time.Time       `json:"started_at"`
	Loaders   []string        `json:"loaders"`
	Runtimes  []string        `json:"runtimes"`
	Records   []matrix.Record `json:"records"`
}

// Find returns the record for (loader, runtime) in the run.
func (r *Run) Find(loader, runtime string) (*matrix.Record, error) {
	rec := matrix.Lookup(r.Records, loader, runtime)
	if rec == nil {
		return nil, fmt.Errorf("run %s has no record for %s on %s", r.ID, loader, runtime)
	}
	return rec, nil
}

// MarshalResults encodes records as an indented JSON array with no trailing
// newline. HTML characters are left as-is so diagnostics stay readable.
func MarshalResults(records []matrix.Record) ([]byte, error) {
	if records == nil {
		records = []matrix.Record{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// WriteResults overwrites path with the records, creating parent
// directories as needed.
func WriteResults(path string, records []matrix.Record) error {
	data, err := MarshalResults(records)
	if err != nil {
		return fmt.Errorf("marshalling results: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating results directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing results: %w", err)
	}
	return nil
}

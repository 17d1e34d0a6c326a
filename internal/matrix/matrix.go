// Package matrix defines the loader/runtime combinations under test and
// the per-combination result records.
package matrix

import (
	"encoding/json"
	"strings"
)

// Native is the loader that uses the runtime's own module resolution.
// It is the only loader exercised on non-primary runtimes.
const Native = "native"

// Combination is a (loader, runtime) pair under test.
type Combination struct {
	Loader  string
	Runtime string
}

func (c Combination) String() string {
	return c.Runtime + " - " + c.Loader
}

// Valid reports whether the combination is exercised: non-native loaders
// only run on the primary runtime.
func (c Combination) Valid(primary string) bool {
	return c.Runtime == primary || c.Loader == Native
}

// Enumerate returns the valid combinations with loaders as the outer loop
// and runtimes as the inner loop.
func Enumerate(loaders, runtimes []string, primary string) []Combination {
	var out []Combination
	for _, l := range loaders {
		for _, rt := range runtimes {
			c := Combination{Loader: l, Runtime: rt}
			if !c.Valid(primary) {
				continue
			}
			out = append(out, c)
		}
	}
	return out
}

// Record is the outcome of running one combination. The JSON keys match
// what the example program prints so the results file can be consumed by
// the same tooling.
type Record struct {
	Loader        string  `json:"loader"`
	Runtime       string  `json:"runtime"`
	Import        bool    `json:"import"`
	ImportNoCache bool    `json:"importNoCache"`
	ImportCache   bool    `json:"importCache"`
	Errors        *string `json:"errors"`
}

// NewRecord returns a record for c with every check failed and no error.
func NewRecord(c Combination) Record {
	return Record{Loader: c.Loader, Runtime: c.Runtime}
}

// Combination returns the pair this record was produced for.
func (r *Record) Combination() Combination {
	return Combination{Loader: r.Loader, Runtime: r.Runtime}
}

// SetError attaches diagnostic text to the record.
func (r *Record) SetError(text string) {
	r.Errors = &text
}

// ErrorText returns the diagnostic text, or "" when there is none.
func (r *Record) ErrorText() string {
	if r.Errors == nil {
		return ""
	}
	return *r.Errors
}

// Payload is the structured report printed by the example program. Only
// keys that are present overwrite the record.
type Payload struct {
	Import        *bool   `json:"import"`
	ImportNoCache *bool   `json:"importNoCache"`
	ImportCache   *bool   `json:"importCache"`
	Errors        *string `json:"errors"`
}

// ParsePayload decodes the child's stdout. It returns false when the output
// is not a JSON object, in which case the caller keeps its defaults.
func ParsePayload(stdout []byte) (*Payload, bool) {
	trimmed := strings.TrimSpace(string(stdout))
	if !strings.HasPrefix(trimmed, "{") {
		return nil, false
	}
	var p Payload
	if err := json.Unmarshal([]byte(trimmed), &p); err != nil {
		return nil, false
	}
	return &p, true
}

// Apply merges p into the record.
func (r *Record) Apply(p *Payload) {
	if p == nil {
		return
	}
	if p.Import != nil {
		r.Import = *p.Import
	}
	if p.ImportNoCache != nil {
		r.ImportNoCache = *p.ImportNoCache
	}
	if p.ImportCache != nil {
		r.ImportCache = *p.ImportCache
	}
	if p.Errors != nil {
		r.SetError(*p.Errors)
	}
}

// Lookup returns the record for (loader, runtime), or nil if there is none.
func Lookup(records []Record, loader, runtime string) *Record {
	for i := range records {
		if records[i].Loader == loader && records[i].Runtime == runtime {
			return &records[i]
		}
	}
	return nil
}

// Baseline returns the first record, or nil when there are none.
func Baseline(records []Record) *Record {
	if len(records) == 0 {
		return nil
	}
	return &records[0]
}

// Gated returns the records that take part in the CI gate. The first record
// is the baseline (native on the primary runtime) and is excluded.
func Gated(records []Record) []Record {
	if len(records) <= 1 {
		return nil
	}
	return records[1:]
}

// Failed reports whether any gated record failed its import check.
func Failed(records []Record) bool {
	for _, r := range Gated(records) {
		if !r.Import {
			return true
		}
	}
	return false
}

// Counts summarises how many records passed the import check.
func Counts(records []Record) (passed, total int) {
	for _, r := range records {
		if r.Import {
			passed++
		}
	}
	return passed, len(records)
}

// Package render turns matrix records into the CI block report, the
// workflow annotation, and the markdown compatibility table. Every function
// here is pure; callers own all I/O.
package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/deixis/loadmatrix/internal/matrix"
	"github.com/gookit/color"
)

// Marks used for a passing or failing check.
const (
	PassMark = "✅"
	FailMark = "❌"
)

// Separator opens every block of the CI report.
const Separator = "-----------"

// Palette styles the parts of the CI report.
type Palette struct {
	Runtime func(string) string
	Loader  func(string) string
	Pass    func(string) string
	Fail    func(string) string
}

func identity(s string) string { return s }

// Plain renders without escape codes.
var Plain = Palette{Runtime: identity, Loader: identity, Pass: identity, Fail: identity}

// Colored renders with ANSI colours: runtime green, loader yellow, marks
// green or red.
func Colored() Palette {
	return Palette{
		Runtime: func(s string) string { return color.FgGreen.Render(s) },
		Loader:  func(s string) string { return color.FgYellow.Render(s) },
		Pass:    func(s string) string { return color.FgGreen.Render(s) },
		Fail:    func(s string) string { return color.FgRed.Render(s) },
	}
}

// ForceColored is Colored with terminal and NO_COLOR detection switched
// off. CI runners rarely attach a TTY but still render ANSI colours in their
// logs. Callers decide whether colour is wanted.
func ForceColored() Palette {
	color.Enable = true
	color.ForceOpenColor()
	return Colored()
}

func (p Palette) mark(ok bool) string {
	if ok {
		return p.Pass(PassMark)
	}
	return p.Fail(FailMark)
}

func mark(ok bool) string {
	if ok {
		return PassMark
	}
	return FailMark
}

// Blocks renders one block per record and joins them with newlines.
func Blocks(records []matrix.Record, p Palette) string {
	lines := make([]string, 0, len(records)*5)
	for _, r := range records {
		lines = append(lines,
			Separator,
			fmt.Sprintf("%s - %s", p.Runtime(r.Runtime), p.Loader(r.Loader)),
			"   Import:   "+p.mark(r.Import),
			"   Cache:    "+p.mark(r.ImportCache),
			"   No cache: "+p.mark(r.ImportNoCache),
		)
	}
	return strings.Join(lines, "\n")
}

// EscapeData escapes a message for a single-line workflow command. The
// percent sign goes first so the escapes it introduces are not re-escaped.
func EscapeData(s string) string {
	s = strings.ReplaceAll(s, "%", "%25")
	s = strings.ReplaceAll(s, "\r", "%0D")
	s = strings.ReplaceAll(s, "\n", "%0A")
	return s
}

// Notice renders a GitHub Actions notice annotation.
func Notice(title, message string) string {
	return fmt.Sprintf("::notice title=%s::%s", title, EscapeData(message))
}

// Cell renders the table cell for one record, or N/A when there is none.
func Cell(r *matrix.Record) string {
	if r == nil {
		return "N/A"
	}
	return strings.Join([]string{
		"Import: " + mark(r.Import),
		"Cache: " + mark(r.ImportCache),
		"No cache: " + mark(r.ImportNoCache),
	}, "<br>")
}

// Table renders the markdown table with loaders as columns and runtimes
// as rows.
func Table(loaders, runtimes []string, records []matrix.Record) string {
	var b strings.Builder

	b.WriteString("|  | " + strings.Join(loaders, " | ") + " |\n")

	seps := make([]string, len(loaders))
	for i := range seps {
		seps[i] = "---"
	}
	b.WriteString("| ------- | " + strings.Join(seps, " | ") + " |")

	for _, rt := range runtimes {
		cells := make([]string, len(loaders))
		for i, l := range loaders {
			cells[i] = Cell(matrix.Lookup(records, l, rt))
		}
		b.WriteString("\n| " + rt + " | " + strings.Join(cells, " | ") + " |")
	}
	return b.String()
}

// Timestamp formats t the way the provenance note expects: UTC with
// millisecond precision.
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// Provenance renders the one-line note placed above the table.
func Provenance(version string, at time.Time) string {
	return fmt.Sprintf("> Generated with version v%s at %s", strings.TrimPrefix(version, "v"), Timestamp(at))
}

// Section renders the full generated region: provenance note and table.
func Section(version string, at time.Time, loaders, runtimes []string, records []matrix.Record) string {
	return Provenance(version, at) + "\n\n" + Table(loaders, runtimes, records)
}

// ReplaceBetween replaces the text strictly between the first start marker
// and the last end marker with "\n\n" + content + "\n\n". The markers are
// kept. It reports false and returns doc unchanged when either marker is
// missing or they are out of order.
func ReplaceBetween(doc, start, end, content string) (string, bool) {
	i := strings.Index(doc, start)
	if i < 0 {
		return doc, false
	}
	j := strings.LastIndex(doc, end)
	from := i + len(start)
	if j < from {
		return doc, false
	}
	return doc[:from] + "\n\n" + content + "\n\n" + doc[j:], true
}

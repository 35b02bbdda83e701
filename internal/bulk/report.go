package bulk

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/meet-minimalist/nsedata/internal/apperror"
)

// Report is the aggregate outcome of one batch: a disjoint partition of the
// symbols into updated, failed and already-up-to-date, with a per-symbol
// diagnostic for each.
type Report struct {
	Mode       Mode
	StartedAt  time.Time
	FinishedAt time.Time
	Updated    []string
	Failed     []string
	UpToDate   []string
	Details    map[string]string
}

func newReport(mode Mode, startedAt, finishedAt time.Time, outcomes []Outcome) *Report {
	r := &Report{
		Mode:       mode,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Details:    make(map[string]string, len(outcomes)),
	}

	for _, out := range outcomes {
		switch {
		case out.Err != nil:
			r.Failed = append(r.Failed, out.Symbol)
			r.Details[out.Symbol] = out.Err.Error()
		case out.Updated:
			r.Updated = append(r.Updated, out.Symbol)
			r.Details[out.Symbol] = fmt.Sprintf("%d new records", out.NewRecords)
		default:
			r.UpToDate = append(r.UpToDate, out.Symbol)
			r.Details[out.Symbol] = "up to date"
		}
	}

	sort.Strings(r.Updated)
	sort.Strings(r.Failed)
	sort.Strings(r.UpToDate)
	return r
}

// DefaultPath returns the report artifact location for this mode under the
// cache base directory.
func (r *Report) DefaultPath(baseDir string) string {
	if r.Mode == ModeDownload {
		return filepath.Join(baseDir, "download_report.txt")
	}
	return filepath.Join(baseDir, "update_report.txt")
}

// WriteFile writes the report as a plain-text artifact, overwriting any
// previous run's report.
func (r *Report) WriteFile(path string) error {
	var b strings.Builder

	fmt.Fprintf(&b, "NSE Data %s Report - %s\n", titleFor(r.Mode), r.FinishedAt.Format(time.RFC3339))
	b.WriteString(strings.Repeat("=", 50) + "\n\n")
	fmt.Fprintf(&b, "Updated symbols: %d\n", len(r.Updated))
	fmt.Fprintf(&b, "Failed symbols: %d\n", len(r.Failed))
	fmt.Fprintf(&b, "Already up-to-date: %d\n\n", len(r.UpToDate))

	writeSection(&b, "Updated symbols:", r.Updated, r.Details)
	writeSection(&b, "Failed symbols:", r.Failed, r.Details)
	writeSection(&b, "Already up-to-date symbols:", r.UpToDate, r.Details)

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return apperror.Wrap(apperror.Storage, fmt.Errorf("write report: %w", err))
	}
	return nil
}

func writeSection(b *strings.Builder, title string, symbols []string, details map[string]string) {
	b.WriteString(title + "\n")
	for _, s := range symbols {
		if d := details[s]; d != "" && d != "up to date" {
			fmt.Fprintf(b, "  - %s: %s\n", s, d)
		} else {
			fmt.Fprintf(b, "  - %s\n", s)
		}
	}
	b.WriteString("\n")
}

func titleFor(mode Mode) string {
	if mode == ModeDownload {
		return "Download"
	}
	return "Update"
}

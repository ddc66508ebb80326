// Package report is the spec's C10 Reporter: it emits a single per-run
// text summary artifact.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kozaktomas/class-photo-sorter/internal/domain"
	"github.com/kozaktomas/class-photo-sorter/internal/organizer"
)

// Params carries the effective run parameters the report must record
// (spec §4.10).
type Params struct {
	Tolerance        float64
	MinFaceSize      int
	Backend          domain.BackendDescriptor
	FellBackToSerial bool
	FallbackReason   string
	Cancelled        bool
}

// Write renders and persists the report for one run, returning its path.
// The filename carries a timestamp prefix so repeated runs never collide
// (spec §6: "<YYYYMMDD>_<HHMMSS>_report.txt").
func Write(outputRoot string, startedAt time.Time, duration time.Duration, summary organizer.Summary, params Params) (string, error) {
	filename := startedAt.Format("20060102_150405") + "_report.txt"
	path := filepath.Join(outputRoot, filename)

	body := render(startedAt, duration, summary, params)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}

func render(startedAt time.Time, duration time.Duration, summary organizer.Summary, params Params) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Run started: %s\n", startedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Duration: %s\n\n", duration.Round(time.Millisecond))

	fmt.Fprintf(&b, "Effective parameters:\n")
	fmt.Fprintf(&b, "  tolerance: %.4f\n", params.Tolerance)
	fmt.Fprintf(&b, "  min_face_size: %d\n", params.MinFaceSize)
	fmt.Fprintf(&b, "  backend: %s\n", params.Backend.String())
	fmt.Fprintf(&b, "  fell_back_to_serial: %t\n", params.FellBackToSerial)
	if params.FellBackToSerial && params.FallbackReason != "" {
		fmt.Fprintf(&b, "  fallback_reason: %s\n", params.FallbackReason)
	}
	if params.Cancelled {
		fmt.Fprintf(&b, "  cancelled: true\n")
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "Photo counts by status:\n")
	for _, status := range []domain.Status{domain.StatusSuccess, domain.StatusNoFace, domain.StatusError} {
		fmt.Fprintf(&b, "  %s: %d\n", status, summary.StatusCounts[status])
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "Matches per Person:\n")
	for _, name := range sortedKeys(summary.PersonCounts) {
		fmt.Fprintf(&b, "  %s: %d\n", name, summary.PersonCounts[name])
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "Unknown clusters: %d labeled, %d unlabeled residual photos\n", len(summary.UnknownLabeledSizes), summary.UnknownUnlabeled)
	for _, label := range sortedKeys(summary.UnknownLabeledSizes) {
		fmt.Fprintf(&b, "  %s: %d\n", label, summary.UnknownLabeledSizes[label])
	}

	if summary.CopyErrors > 0 {
		fmt.Fprintf(&b, "\nCopy errors: %d\n", summary.CopyErrors)
	}

	return b.String()
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

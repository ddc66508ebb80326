// Package organizer is the spec's C9 Organizer/Writer: it translates
// RecognitionResults into the output directory tree and synchronizes
// deletions for dates removed from the input.
package organizer

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kozaktomas/class-photo-sorter/internal/atomicio"
	"github.com/kozaktomas/class-photo-sorter/internal/constants"
	"github.com/kozaktomas/class-photo-sorter/internal/domain"
	"github.com/sirupsen/logrus"
)

// PhotoRecord is one classroom photo's recognition outcome plus enough
// path information for the Organizer to copy it.
type PhotoRecord struct {
	Date    string
	RelPath string // relative to the classroom root
	AbsPath string
	Result  domain.RecognitionResult
}

// Summary aggregates counts the Reporter needs (spec §4.10).
type Summary struct {
	StatusCounts        map[domain.Status]int
	PersonCounts        map[string]int
	UnknownLabeledSizes map[string]int
	UnknownUnlabeled    int
	CopyErrors          int
}

func newSummary() Summary {
	return Summary{
		StatusCounts:        make(map[domain.Status]int),
		PersonCounts:        make(map[string]int),
		UnknownLabeledSizes: make(map[string]int),
	}
}

// Organizer writes the output tree for one run.
type Organizer struct {
	outputRoot string
	log        *logrus.Entry
}

// New constructs an Organizer rooted at outputRoot.
func New(outputRoot string, log *logrus.Entry) *Organizer {
	return &Organizer{outputRoot: outputRoot, log: log}
}

func (o *Organizer) logEntry() *logrus.Entry {
	if o.log != nil {
		return o.log
	}
	return logrus.NewEntry(logrus.New())
}

// Organize writes every record into its destination subtree(s) (spec
// §4.9). clusterLabels maps a residual face's ResidualID to its assigned
// Unknown_Person_K label, or "" for unlabeled-unknown.
func (o *Organizer) Organize(records []PhotoRecord, clusterLabels map[string]string) (Summary, error) {
	summary := newSummary()

	for _, rec := range records {
		dests := o.destinationsFor(rec, clusterLabels, &summary)

		basename := filepath.Base(rec.RelPath)
		copied := 0
		for _, dir := range dests {
			if err := o.copyInto(rec.AbsPath, dir, basename); err != nil {
				o.logEntry().WithError(err).WithField("path", rec.AbsPath).Warn("failed to copy photo to destination")
				summary.CopyErrors++
				continue
			}
			copied++
		}

		status := rec.Result.Status
		if copied == 0 {
			// Every destination copy failed: the photo would otherwise be
			// absent from the output tree entirely. Route it to
			// error_photos/<date> so the output union still covers every
			// input photo (spec §4.9).
			status = domain.StatusError
			fallback := filepath.Join(o.outputRoot, constants.ErrorPhotosDir, rec.Date)
			if err := o.copyInto(rec.AbsPath, fallback, basename); err != nil {
				o.logEntry().WithError(err).WithField("path", rec.AbsPath).Error("failed to copy photo to error_photos fallback, photo is unreachable from output tree")
			}
		}
		summary.StatusCounts[status]++
	}

	return summary, nil
}

// destinationsFor computes the set of output directories one record's
// source file must be copied into, and tallies per-Person / per-cluster
// counts for the Summary.
func (o *Organizer) destinationsFor(rec PhotoRecord, clusterLabels map[string]string, summary *Summary) []string {
	switch rec.Result.Status {
	case domain.StatusError:
		return []string{filepath.Join(o.outputRoot, constants.ErrorPhotosDir, rec.Date)}
	case domain.StatusNoFace:
		return []string{filepath.Join(o.outputRoot, constants.NoFacePhotosDir, rec.Date)}
	case domain.StatusSuccess:
		return o.successDestinations(rec, clusterLabels, summary)
	default:
		return nil
	}
}

func (o *Organizer) successDestinations(rec PhotoRecord, clusterLabels map[string]string, summary *Summary) []string {
	seen := make(map[string]bool)
	var dests []string
	add := func(dir string) {
		if !seen[dir] {
			seen[dir] = true
			dests = append(dests, dir)
		}
	}

	for _, name := range rec.Result.KnownNames {
		add(filepath.Join(o.outputRoot, name, rec.Date))
		summary.PersonCounts[name]++
	}

	unlabeledAdded := false
	for _, face := range rec.Result.Faces {
		if !face.IsResidual() {
			continue
		}
		label := clusterLabels[face.ResidualID]
		if label == "" {
			if !unlabeledAdded {
				add(filepath.Join(o.outputRoot, constants.UnknownPhotosDir, rec.Date))
				summary.UnknownUnlabeled++
				unlabeledAdded = true
			}
			continue
		}
		if _, counted := seen[filepath.Join(o.outputRoot, constants.UnknownPhotosDir, label, rec.Date)]; !counted {
			summary.UnknownLabeledSizes[label]++
		}
		add(filepath.Join(o.outputRoot, constants.UnknownPhotosDir, label, rec.Date))
	}

	return dests
}

// copyInto copies src into destDir/basename, preserving mtime, resolving
// name collisions with an ordinal suffix unless the destination already
// holds an identically-sized file (idempotent shortcut) (spec §4.9).
func (o *Organizer) copyInto(src, destDir, basename string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("failed to create destination directory %s: %w", destDir, err)
	}

	srcInfo, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("failed to stat source %s: %w", src, err)
	}

	dest := filepath.Join(destDir, basename)
	if existing, err := os.Stat(dest); err == nil {
		if existing.Size() == srcInfo.Size() {
			return nil // idempotent: already satisfied
		}
		dest = uniqueName(destDir, basename)
	}

	if err := copyFileWithMTime(src, dest, srcInfo); err != nil {
		return err
	}
	return nil
}

// copyFileWithMTime copies src into a scratch file alongside dest and
// renames it into place, so a crash mid-copy never leaves a truncated
// file at dest (spec §4.9: copies must be all-or-nothing, same as every
// other persisted artifact).
func copyFileWithMTime(src, dest string, srcInfo os.FileInfo) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source %s: %w", src, err)
	}
	defer in.Close()

	tmp := atomicio.TempName(dest)
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create scratch file for %s: %w", dest, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to copy %s to %s: %w", src, dest, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to close scratch file for %s: %w", dest, err)
	}

	mtime := srcInfo.ModTime()
	if err := os.Chtimes(tmp, mtime, mtime); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to preserve mtime on %s: %w", dest, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to finalize %s: %w", dest, err)
	}
	return nil
}

// uniqueName resolves a name collision in dir by inserting an ordinal
// suffix before the extension (spec §4.9: "_001", "_002", …).
func uniqueName(dir, name string) string {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s_%03d%s", base, i, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

// DeleteDate removes every output subtree rooted at date across every
// Person, unknown cluster, no-face, and error tree — but never a Person
// directory itself (spec §4.9 deletion synchronization). Since clusters
// are recomputed every run and never persisted, the set of labels that
// might own a <date> subtree from a previous run is discovered by
// globbing the output tree rather than passed in.
func (o *Organizer) DeleteDate(date string) error {
	topLevel, err := filepath.Glob(filepath.Join(o.outputRoot, "*", date))
	if err != nil {
		return fmt.Errorf("failed to enumerate top-level %s subtrees: %w", date, err)
	}
	for _, dir := range topLevel {
		if err := removeIfExists(dir); err != nil {
			return err
		}
	}

	labeled, err := filepath.Glob(filepath.Join(o.outputRoot, constants.UnknownPhotosDir, "*", date))
	if err != nil {
		return fmt.Errorf("failed to enumerate labeled-unknown %s subtrees: %w", date, err)
	}
	for _, dir := range labeled {
		if err := removeIfExists(dir); err != nil {
			return err
		}
	}
	return nil
}

func removeIfExists(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}

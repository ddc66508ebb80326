// Package snapshot is the spec's C4 Snapshot Engine: it normalizes the
// classroom-photo tree into date buckets, builds a descriptor of that
// tree, and diffs two descriptors into an IncrementalPlan.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/kozaktomas/class-photo-sorter/internal/atomicio"
	"github.com/kozaktomas/class-photo-sorter/internal/constants"
	"github.com/kozaktomas/class-photo-sorter/internal/domain"
	"github.com/sirupsen/logrus"
)

// Descriptor is the persisted view of "what was in the classroom tree last
// time" (spec §3 SnapshotDescriptor): date bucket -> sorted file entries.
type Descriptor struct {
	Version int                           `json:"version"`
	Dates   map[string][]domain.FileIdentity `json:"dates"`
}

// Plan is the diff between two Descriptors (spec §3 IncrementalPlan).
type Plan struct {
	ChangedDates []string
	DeletedDates []string
	NewSnapshot  *Descriptor
}

var canonicalDateDir = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// alternateDatePatterns extracts a date from a loose file's basename (spec
// §6). Files inside non-canonical subdirectories are not scanned, so parent
// directory names are never matched against these patterns.
var alternateDatePatterns = []struct {
	re     *regexp.Regexp
	layout string
}{
	{regexp.MustCompile(`(\d{4}-\d{2}-\d{2})`), "2006-01-02"},
	{regexp.MustCompile(`(\d{4}_\d{2}_\d{2})`), "2006_01_02"},
	{regexp.MustCompile(`(\d{4}\.\d{2}\.\d{2})`), "2006.01.02"},
	{regexp.MustCompile(`(\d{8})`), "20060102"},
}

// extractDate tries every recognized alternate format against name, falling
// back to today when none match (spec §3 ClassroomPhoto rule 2-3).
func extractDate(name string, today time.Time) string {
	for _, p := range alternateDatePatterns {
		m := p.re.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		if t, err := time.ParseInLocation(p.layout, m[1], time.Local); err == nil {
			return t.Format(constants.DateBucketReportFormat)
		}
	}
	return today.Format(constants.DateBucketReportFormat)
}

// Engine builds and persists snapshots for one classroom root / output
// state directory pair.
type Engine struct {
	log *logrus.Entry
	now func() time.Time
}

// New constructs an Engine. now defaults to time.Now; tests may override it
// for deterministic "today" fallback assertions.
func New(log *logrus.Entry, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{log: log, now: now}
}

func (e *Engine) logEntry() *logrus.Entry {
	if e.log != nil {
		return e.log
	}
	return logrus.NewEntry(logrus.New())
}

// Build organizes loose classroom photos into date buckets, then walks the
// resulting tree into a Descriptor (spec §4.4).
func (e *Engine) Build(classroomRoot string) (*Descriptor, error) {
	if err := e.organizeLoose(classroomRoot); err != nil {
		return nil, fmt.Errorf("failed to organize loose classroom photos: %w", err)
	}

	entries, err := os.ReadDir(classroomRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to read classroom root: %w", err)
	}

	dates := make(map[string][]domain.FileIdentity)
	for _, entry := range entries {
		if !entry.IsDir() || !canonicalDateDir.MatchString(entry.Name()) {
			continue
		}
		date := entry.Name()
		bucketEntries, err := walkDateBucket(classroomRoot, date)
		if err != nil {
			return nil, fmt.Errorf("failed to walk date bucket %s: %w", date, err)
		}
		dates[date] = bucketEntries
	}

	return &Descriptor{Version: constants.SnapshotFormatVersion, Dates: dates}, nil
}

// walkDateBucket enumerates supported non-empty image files recursively
// under classroomRoot/date, recording paths relative to classroomRoot.
func walkDateBucket(classroomRoot, date string) ([]domain.FileIdentity, error) {
	bucketDir := filepath.Join(classroomRoot, date)
	var entries []domain.FileIdentity

	err := filepath.WalkDir(bucketDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if strings.HasPrefix(name, ".") || constants.HiddenFileNames[name] {
			return nil
		}
		if !isSupportedImagePath(name) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.Size() == 0 {
			return nil
		}
		rel, err := filepath.Rel(classroomRoot, path)
		if err != nil {
			return nil
		}
		entries = append(entries, domain.FileIdentity{
			RelPath: filepath.ToSlash(rel),
			Size:    info.Size(),
			MTime:   info.ModTime().Truncate(time.Second).Unix(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].RelPath < entries[j].RelPath })
	return entries, nil
}

func isSupportedImagePath(name string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	return constants.SupportedExtensions[ext]
}

// organizeLoose moves every supported non-empty file directly under
// classroomRoot into its resolved date subdirectory, resolving name
// collisions with an ordinal suffix (spec §4.4 step 1).
func (e *Engine) organizeLoose(classroomRoot string) error {
	entries, err := os.ReadDir(classroomRoot)
	if err != nil {
		return err
	}

	today := e.now()
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") || constants.HiddenFileNames[name] {
			continue
		}
		if !isSupportedImagePath(name) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.Size() == 0 {
			continue
		}

		date := extractDate(name, today)
		destDir := filepath.Join(classroomRoot, date)
		if err := os.MkdirAll(destDir, 0o755); err != nil {
			return fmt.Errorf("failed to create date bucket %s: %w", date, err)
		}

		src := filepath.Join(classroomRoot, name)
		dest := uniqueDestination(destDir, name)
		if err := os.Rename(src, dest); err != nil {
			return fmt.Errorf("failed to move loose photo %s to %s: %w", src, dest, err)
		}
		e.logEntry().WithFields(logrus.Fields{"src": src, "dest": dest}).Info("moved loose classroom photo into date bucket")
	}
	return nil
}

// uniqueDestination resolves a name collision in dir by inserting an
// ordinal suffix before the extension (spec §4.4, §4.9: "_001", "_002", …).
func uniqueDestination(dir, name string) string {
	candidate := filepath.Join(dir, name)
	if _, err := os.Stat(candidate); os.IsNotExist(err) {
		return candidate
	}

	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s_%03d%s", base, i, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

func snapshotPath(outputStateDir string) string {
	return filepath.Join(outputStateDir, fmt.Sprintf("classroom_snapshot.%d.json", constants.SnapshotFormatVersion))
}

// LoadPersisted returns the previously saved Descriptor, or nil if none
// exists or it cannot be parsed (treated as "no previous snapshot", never
// fatal).
func (e *Engine) LoadPersisted(outputStateDir string) *Descriptor {
	data, err := os.ReadFile(snapshotPath(outputStateDir))
	if err != nil {
		return nil
	}
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		e.logEntry().WithError(err).Warn("persisted snapshot corrupt, treating as absent")
		return nil
	}
	return &d
}

// SavePersisted writes snap atomically to the snapshot file (spec §4.4).
func (e *Engine) SavePersisted(outputStateDir string, snap *Descriptor) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return atomicio.WriteFile(snapshotPath(outputStateDir), data, 0o644)
}

// Diff computes the IncrementalPlan between prev and curr (spec §4.4).
// A nil prev is treated as empty — every date in curr is "changed".
func Diff(prev, curr *Descriptor) Plan {
	prevDates := map[string][]domain.FileIdentity{}
	if prev != nil {
		prevDates = prev.Dates
	}

	var changed, deleted []string
	for date, entries := range curr.Dates {
		prevEntries, ok := prevDates[date]
		if !ok || !sameEntrySet(prevEntries, entries) {
			changed = append(changed, date)
		}
	}
	for date := range prevDates {
		if _, ok := curr.Dates[date]; !ok {
			deleted = append(deleted, date)
		}
	}

	sort.Strings(changed)
	sort.Strings(deleted)

	return Plan{ChangedDates: changed, DeletedDates: deleted, NewSnapshot: curr}
}

// sameEntrySet reports value equality of two file-entry sets, order-
// insensitive (both are expected pre-sorted by RelPath, but this does not
// assume it).
func sameEntrySet(a, b []domain.FileIdentity) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]domain.FileIdentity(nil), a...)
	bs := append([]domain.FileIdentity(nil), b...)
	sort.Slice(as, func(i, j int) bool { return as[i].RelPath < as[j].RelPath })
	sort.Slice(bs, func(i, j int) bool { return bs[i].RelPath < bs[j].RelPath })
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

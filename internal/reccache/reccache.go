// Package reccache is the spec's C5 Recognition Cache: one JSON file per
// date bucket, keyed by (relative_path, size, mtime), tagged with the
// ParameterFingerprint it was produced under.
package reccache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kozaktomas/class-photo-sorter/internal/atomicio"
	"github.com/kozaktomas/class-photo-sorter/internal/constants"
	"github.com/kozaktomas/class-photo-sorter/internal/domain"
	"github.com/sirupsen/logrus"
)

// MatchingPolicyVersion bumps whenever the matcher's decision rule changes
// in a way that must invalidate every existing cache entry.
const MatchingPolicyVersion = 1

// Cache is the on-disk schema for <output>/.state/recognition_cache_by_date/<date>.json.
type Cache struct {
	Version              int                                  `json:"version"`
	Date                 string                               `json:"date"`
	ParameterFingerprint string                               `json:"parameter_fingerprint"`
	Entries              map[string]domain.RecognitionResult  `json:"entries"`
}

// EntryKey builds the composite (relative_path, size, mtime) cache key.
func EntryKey(id domain.FileIdentity) string {
	return fmt.Sprintf("%s|%d|%d", id.RelPath, id.Size, id.MTime)
}

// ComputeParameterFingerprint digests the parameters that, if changed,
// must invalidate every cache entry for a date bucket (spec §3).
func ComputeParameterFingerprint(tolerance float64, minFaceSize int, backend domain.BackendDescriptor, referenceFingerprint string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%.6f\x00%d\x00%s\x00%s\x00%s\x00%d",
		tolerance, minFaceSize, backend.Engine, backend.Model, referenceFingerprint, MatchingPolicyVersion)
	return hex.EncodeToString(h.Sum(nil))
}

func cachePath(outputStateDir, date string) string {
	return filepath.Join(outputStateDir, constants.CacheByDateDir, date+".json")
}

// Load returns the persisted cache for date, or an empty (but tagged)
// cache if none exists or the file is malformed (spec §4.5: never fatal).
func Load(outputStateDir, date string, log *logrus.Entry) *Cache {
	data, err := os.ReadFile(cachePath(outputStateDir, date))
	if err != nil {
		return empty(date)
	}
	var c Cache
	if err := json.Unmarshal(data, &c); err != nil {
		logEntry(log).WithError(err).WithField("date", date).Warn("recognition cache corrupt, treating as empty")
		return empty(date)
	}
	if c.Entries == nil {
		c.Entries = make(map[string]domain.RecognitionResult)
	}
	return &c
}

func empty(date string) *Cache {
	return &Cache{
		Version: constants.CacheFormatVersion,
		Date:    date,
		Entries: make(map[string]domain.RecognitionResult),
	}
}

// IsFresh reports whether cache was produced under the current parameter
// fingerprint.
func IsFresh(c *Cache, currentFingerprint string) bool {
	return c != nil && c.ParameterFingerprint == currentFingerprint
}

// SaveAtomic persists c via write-to-temp-then-rename.
func SaveAtomic(outputStateDir string, c *Cache) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return atomicio.WriteFile(cachePath(outputStateDir, c.Date), data, 0o644)
}

// Delete removes the per-date cache file, used by the Orchestrator's
// deletion synchronization (spec §4.11 phase R3). A missing file is not an error.
func Delete(outputStateDir, date string) error {
	err := os.Remove(cachePath(outputStateDir, date))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func logEntry(log *logrus.Entry) *logrus.Entry {
	if log != nil {
		return log
	}
	return logrus.NewEntry(logrus.New())
}

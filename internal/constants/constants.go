// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Defaults for the configuration surface (spec §6).
const (
	// DefaultTolerance is the matcher's maximum Euclidean distance for a known match.
	DefaultTolerance = 0.6

	// DefaultMinFaceSize is the minimum face bounding-box side, in pixels.
	DefaultMinFaceSize = 50

	// DefaultBackendEngine names the face engine selected when none is configured.
	DefaultBackendEngine = "insightface"

	// DefaultParallelEnabled is the master allow for parallel recognition.
	DefaultParallelEnabled = true

	// DefaultWorkers is the upper bound on recognition worker goroutines.
	DefaultWorkers = 6

	// DefaultChunkSize is the work-item batch size per dispatch round.
	DefaultChunkSize = 12

	// DefaultMinPhotosForParallel is the automatic-parallel threshold.
	DefaultMinPhotosForParallel = 30

	// DefaultClusterEnabled toggles unknown-face clustering.
	DefaultClusterEnabled = true

	// DefaultClusterThreshold is tau_c, the cluster-membership distance ceiling.
	DefaultClusterThreshold = 0.45

	// DefaultClusterMinSize is k_min, the minimum cluster size to receive a label.
	DefaultClusterMinSize = 2

	// DefaultMaxRefsPerPerson is N, the cap on reference images used per person.
	DefaultMaxRefsPerPerson = 5
)

// Input root subdirectories (spec §6).
const (
	StudentPhotosDir = "student_photos"
	ClassPhotosDir   = "class_photos"
)

// Output tree names (spec §4.9).
const (
	UnknownPhotosDir = "unknown_photos"
	NoFacePhotosDir  = "no_face_photos"
	ErrorPhotosDir   = "error_photos"
	StateDir         = ".state"
	CacheByDateDir   = "recognition_cache_by_date"
)

// Log/embedding-cache tree names (spec §6).
const (
	ReferenceEncodingsDir = "reference_encodings"
	ReferenceIndexDir     = "reference_index"
)

// UnknownClusterLabelPrefix prefixes sequential labels, e.g. Unknown_Person_1.
const UnknownClusterLabelPrefix = "Unknown_Person_"

// Exit codes (spec §6).
const (
	ExitSuccess              = 0
	ExitOtherFatal           = 1
	ExitEmptyClassroomRoot   = 2
	ExitWorkingDirUnwritable = 3
	ExitInvariantViolation   = 4
)

// Format versions tag persisted artifact schemas (spec §6).
const (
	SnapshotFormatVersion       = 1
	CacheFormatVersion          = 1
	ReferenceIndexFormatVersion = 1
)

// Supported image extensions, case-insensitive (spec §6), without the dot.
var SupportedExtensions = map[string]bool{
	"jpg":  true,
	"jpeg": true,
	"png":  true,
	"bmp":  true,
	"tif":  true,
	"tiff": true,
	"webp": true,
}

// HiddenFileNames are excluded from every directory scan (spec §4.4); the
// scanners also skip any name beginning with ".".
var HiddenFileNames = map[string]bool{
	".DS_Store": true,
	"Thumbs.db": true,
}

// DateBucketReportFormat is the canonical on-disk date form, YYYY-MM-DD.
const DateBucketReportFormat = "2006-01-02"

// Package atomicio provides the write-to-temp-then-rename primitive every
// owned artifact in this repo uses (reference index, per-backend embedding
// files, per-date recognition caches, the classroom snapshot). It wraps
// google/renameio, the same write-then-rename mechanism the teacher module
// already depends on transitively. WriteFile's temp files are named by
// renameio itself; TempName gives the organizer's copy scratch files a
// google/uuid suffix so concurrent writers (there should never be more than
// one per path, but defense costs nothing here) never collide.
package atomicio

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio"
	"github.com/google/uuid"
)

// WriteFile atomically replaces path's contents with data. The destination
// directory is created if missing, matching the lazily-created artifacts
// described in spec §3 ("Lifecycles").
func WriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %q: %w", dir, err)
	}

	t, err := renameio.TempFile(dir, path)
	if err != nil {
		return fmt.Errorf("failed to open temp file for %q: %w", path, err)
	}
	defer t.Cleanup() //nolint:errcheck // best-effort cleanup; rename below is what matters

	if err := t.Chmod(perm); err != nil {
		return fmt.Errorf("failed to chmod temp file for %q: %w", path, err)
	}
	if _, err := t.Write(data); err != nil {
		return fmt.Errorf("failed to write temp file for %q: %w", path, err)
	}
	if err := t.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("failed to finalize %q: %w", path, err)
	}
	return nil
}

// TempName derives a collision-safe temp path alongside dst, used by copy
// operations (internal/organizer) that need a scratch file in addition to
// WriteFile's own internal temp handling.
func TempName(dst string) string {
	return dst + ".tmp-" + uuid.NewString()
}

// Package imageio is the spec's C1 Image I/O adapter: it loads image bytes
// from a path into a standard pixel buffer and reports non-image/corrupt
// files as UnreadableImage, never aborting the run. Decode support follows
// the teacher's internal/fingerprint/fingerprint.go, which already blank-
// imports golang.org/x/image/bmp to cover a format the standard library
// doesn't decode; this package extends that to the full set spec §6
// requires (bmp, tif/tiff, webp) on top of the stdlib's jpeg/png/gif.
package imageio

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/kozaktomas/class-photo-sorter/internal/constants"
)

// UnreadableImageError reports that path could not be decoded into a pixel
// buffer: I/O failure, truncated file, unsupported format, or zero bytes.
type UnreadableImageError struct {
	Path string
	Err  error
}

func (e *UnreadableImageError) Error() string {
	return fmt.Sprintf("unreadable image %q: %v", e.Path, e.Err)
}

func (e *UnreadableImageError) Unwrap() error { return e.Err }

// PixelBuffer is an 8-bit-per-channel row-major RGBA buffer: every pixel
// takes 4 bytes, alpha included. It is not packed down to 3 channels.
type PixelBuffer struct {
	Pix    []uint8 // RGBA rows, stride = Width*4
	Width  int
	Height int
	Stride int
}

// RGBAAt returns the r,g,b,a bytes at (x,y).
func (p *PixelBuffer) RGBAAt(x, y int) (r, g, b, a uint8) {
	i := y*p.Stride + x*4
	return p.Pix[i], p.Pix[i+1], p.Pix[i+2], p.Pix[i+3]
}

// IsSupportedExtension reports whether path's extension is one of the
// supported, case-insensitive image extensions from spec §6.
func IsSupportedExtension(path string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	return constants.SupportedExtensions[ext]
}

// Load decodes the file at path into a PixelBuffer. Zero-byte files,
// unreadable files, and undecodable contents are reported as
// UnreadableImageError and must never abort the calling pipeline phase.
func Load(path string) (*PixelBuffer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &UnreadableImageError{Path: path, Err: err}
	}
	return Decode(path, data)
}

// Decode parses already-read bytes (path is used only for error messages).
func Decode(path string, data []byte) (*PixelBuffer, error) {
	if len(data) == 0 {
		return nil, &UnreadableImageError{Path: path, Err: fmt.Errorf("zero-byte file")}
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &UnreadableImageError{Path: path, Err: err}
	}

	return toPixelBuffer(img), nil
}

// toPixelBuffer normalizes any decoded image.Image into a row-major RGBA
// buffer with draw.Draw, the same idiom the teacher's
// fingerprint.go resizeImage helper uses to bring arbitrary decoded images
// into a uniform in-memory representation.
func toPixelBuffer(img image.Image) *PixelBuffer {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), img, bounds.Min, draw.Src)

	return &PixelBuffer{
		Pix:    dst.Pix,
		Width:  w,
		Height: h,
		Stride: dst.Stride,
	}
}

// EncodeJPEG is used by tests to materialize fixtures; production code
// paths only ever decode.
func EncodeJPEG(buf *bytes.Buffer, img image.Image, quality int) error {
	return jpeg.Encode(buf, img, &jpeg.Options{Quality: quality})
}

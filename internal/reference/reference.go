// Package reference is the spec's C3 Reference Store: for each Person
// directory under the reference root, it exposes an ordered list of
// embeddings, persisting computed embeddings and an index so repeat runs
// never re-encode an unchanged reference photo.
package reference

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kozaktomas/class-photo-sorter/internal/atomicio"
	"github.com/kozaktomas/class-photo-sorter/internal/constants"
	"github.com/kozaktomas/class-photo-sorter/internal/domain"
	"github.com/kozaktomas/class-photo-sorter/internal/facebackend"
	"github.com/kozaktomas/class-photo-sorter/internal/imageio"
	"github.com/sirupsen/logrus"
)

// Person is a known reference subject: a directory name under the
// reference root that contained at least one supported image file.
type Person struct {
	Name string
}

// Image is one reference photo: its path, size, and mtime (spec §3).
type Image struct {
	Person  string
	RelPath string // relative to the reference root
	AbsPath string
	Size    int64
	MTime   time.Time
}

func (i Image) identity() domain.FileIdentity {
	return domain.FileIdentity{RelPath: i.RelPath, Size: i.Size, MTime: i.MTime.Unix()}
}

// recordStatus distinguishes a successfully-encoded reference image from
// one dropped because no face could be encoded from it (spec §4.3).
type recordStatus string

const (
	statusOK      recordStatus = "ok"
	statusDropped recordStatus = "dropped"
)

// indexRecord is one entry of the persisted reference index.
type indexRecord struct {
	Person  string       `json:"person"`
	RelPath string       `json:"rel_path"`
	Size    int64        `json:"size"`
	MTime   int64        `json:"mtime"`
	Status  recordStatus `json:"status"`
}

// indexFile is the on-disk schema for <log_root>/reference_index/<engine>/<model>.json.
type indexFile struct {
	Version   int                      `json:"version"`
	Backend   domain.BackendDescriptor `json:"backend_descriptor"`
	CreatedAt time.Time                `json:"created_at"`
	Records   []indexRecord            `json:"records"`
}

// Store implements the spec's C3 Reference Store.
type Store struct {
	refRoot          string
	logRoot          string
	backend          facebackend.Backend
	maxRefsPerPerson int
	log              *logrus.Entry

	fingerprint string // set by Load
	roster      []Person
}

// Roster returns every Person found by the last Load call, including
// people whose reference photos all turned out faceless (spec §4.3: a
// zero-embedding person is a diagnostics-only condition, not an absence).
func (s *Store) Roster() []Person { return s.roster }

// New constructs a Store bound to one backend descriptor for the run.
func New(refRoot, logRoot string, backend facebackend.Backend, maxRefsPerPerson int, log *logrus.Entry) *Store {
	if maxRefsPerPerson <= 0 {
		maxRefsPerPerson = constants.DefaultMaxRefsPerPerson
	}
	return &Store{
		refRoot:          refRoot,
		logRoot:          logRoot,
		backend:          backend,
		maxRefsPerPerson: maxRefsPerPerson,
		log:              log,
	}
}

// Load scans the reference root, reuses or computes embeddings, persists
// the updated index, and returns parallel arrays of (name, embedding) —
// one entry per embedding, not per person (spec §4.3).
func (s *Store) Load(ctx context.Context) ([]string, []domain.Embedding, error) {
	people, images, err := scan(s.refRoot, s.maxRefsPerPerson)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to scan reference root: %w", err)
	}

	prevIndex := s.loadIndex()
	if prevIndex != nil && !prevIndex.Backend.Equal(s.backend.Descriptor()) {
		// Backend switch: the cache directory itself is already segregated
		// by descriptor (see embeddingPath), so an empty prevIndex is
		// correct here — we simply never look at the other backend's tree.
		prevIndex = nil
	}
	prevByKey := indexByKey(prevIndex)

	var names []string
	var embeddings []domain.Embedding
	var records []indexRecord

	for _, img := range images {
		emb, status, err := s.embeddingFor(ctx, img, prevByKey)
		if err != nil {
			s.logEntry().WithError(err).WithField("path", img.AbsPath).Warn("dropping unreadable reference image")
			status = statusDropped
		}
		records = append(records, indexRecord{
			Person:  img.Person,
			RelPath: img.RelPath,
			Size:    img.Size,
			MTime:   img.MTime.Unix(),
			Status:  status,
		})
		if status == statusOK {
			names = append(names, img.Person)
			embeddings = append(embeddings, emb)
		}
	}
	s.roster = people

	if err := s.saveIndex(records); err != nil {
		return nil, nil, fmt.Errorf("failed to persist reference index: %w", err)
	}

	s.fingerprint = computeFingerprint(records, s.backend.Descriptor())
	return names, embeddings, nil
}

// Fingerprint returns the ReferenceFingerprint computed by the last Load
// call (spec §3: digest over sorted (person, rel_path, size, mtime) tuples
// plus backend descriptor).
func (s *Store) Fingerprint() string { return s.fingerprint }

func (s *Store) logEntry() *logrus.Entry {
	if s.log != nil {
		return s.log
	}
	return logrus.NewEntry(logrus.New())
}

// embeddingFor returns the embedding for img, reusing a persisted one when
// the (person, rel_path, size, mtime, backend) key is unchanged, or
// encoding a fresh one via imageio+facebackend.
func (s *Store) embeddingFor(ctx context.Context, img Image, prev map[string]indexRecord) (domain.Embedding, recordStatus, error) {
	key := cacheKey(img)
	if rec, ok := prev[key]; ok {
		switch rec.Status {
		case statusOK:
			if emb, err := s.readEmbedding(img); err == nil {
				return emb, statusOK, nil
			}
			// Fall through to recompute if the cached binary vanished or is corrupt.
		case statusDropped:
			// Same (person, rel_path, size, mtime) as last run and it
			// encoded no face then; don't re-send it to the backend.
			return nil, statusDropped, nil
		}
	}

	pix, err := imageio.Load(img.AbsPath)
	if err != nil {
		return nil, statusDropped, err
	}
	data, err := os.ReadFile(img.AbsPath)
	if err != nil {
		return nil, statusDropped, err
	}

	faces, err := s.backend.DetectAndEncode(ctx, data, pix.Width, pix.Height, 1)
	if err != nil {
		return nil, statusDropped, err
	}
	if len(faces) == 0 {
		return nil, statusDropped, fmt.Errorf("no face detected")
	}

	emb := faces[0].Embedding
	if err := s.writeEmbedding(img, emb); err != nil {
		s.logEntry().WithError(err).Warn("failed to persist reference embedding, continuing without cache")
	}
	return emb, statusOK, nil
}

func cacheKey(img Image) string {
	return img.Person + "\x00" + img.RelPath + "\x00" + fmt.Sprint(img.Size) + "\x00" + fmt.Sprint(img.MTime.Unix())
}

// embeddingPath segregates cache files per backend descriptor (spec §4.3
// invariant: "a switch to a different backend never reads embeddings
// produced by the other").
func (s *Store) embeddingPath(img Image) string {
	d := s.backend.Descriptor()
	fileID := filepath.Base(img.RelPath)
	return filepath.Join(s.logRoot, constants.ReferenceEncodingsDir, d.Engine, d.Model, img.Person, fileID+".bin")
}

func (s *Store) readEmbedding(img Image) (domain.Embedding, error) {
	data, err := os.ReadFile(s.embeddingPath(img))
	if err != nil {
		return nil, err
	}
	return decodeEmbeddingBin(data)
}

func (s *Store) writeEmbedding(img Image, emb domain.Embedding) error {
	return atomicio.WriteFile(s.embeddingPath(img), encodeEmbeddingBin(emb), 0o644)
}

// encodeEmbeddingBin writes a 4-byte little-endian dimensionality header
// followed by dim*4 bytes of IEEE-754 little-endian floats (spec §6).
func encodeEmbeddingBin(emb domain.Embedding) []byte {
	buf := make([]byte, 4+len(emb)*4)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(emb)))
	for i, v := range emb {
		binary.LittleEndian.PutUint32(buf[4+i*4:8+i*4], math.Float32bits(v))
	}
	return buf
}

func decodeEmbeddingBin(data []byte) (domain.Embedding, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("truncated embedding file: %d bytes", len(data))
	}
	dim := int(binary.LittleEndian.Uint32(data[0:4]))
	want := 4 + dim*4
	if len(data) != want {
		return nil, fmt.Errorf("embedding file size mismatch: got %d bytes, want %d for dim %d", len(data), want, dim)
	}
	emb := make(domain.Embedding, dim)
	for i := 0; i < dim; i++ {
		bits := binary.LittleEndian.Uint32(data[4+i*4 : 8+i*4])
		emb[i] = math.Float32frombits(bits)
	}
	return emb, nil
}

func (s *Store) indexPath() string {
	d := s.backend.Descriptor()
	return filepath.Join(s.logRoot, constants.ReferenceIndexDir, d.Engine, d.Model+".json")
}

func (s *Store) loadIndex() *indexFile {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		return nil
	}
	var idx indexFile
	if err := json.Unmarshal(data, &idx); err != nil {
		s.logEntry().WithError(err).Warn("reference index corrupt, rebuilding")
		return nil
	}
	return &idx
}

func (s *Store) saveIndex(records []indexRecord) error {
	idx := indexFile{
		Version:   constants.ReferenceIndexFormatVersion,
		Backend:   s.backend.Descriptor(),
		CreatedAt: time.Now(),
		Records:   records,
	}
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return err
	}
	return atomicio.WriteFile(s.indexPath(), data, 0o644)
}

func indexByKey(idx *indexFile) map[string]indexRecord {
	m := make(map[string]indexRecord)
	if idx == nil {
		return m
	}
	for _, r := range idx.Records {
		key := r.Person + "\x00" + r.RelPath + "\x00" + fmt.Sprint(r.Size) + "\x00" + fmt.Sprint(r.MTime)
		m[key] = r
	}
	return m
}

// computeFingerprint hashes the sorted (person, rel_path, size, mtime)
// tuples plus the backend descriptor (spec §3 ReferenceFingerprint).
func computeFingerprint(records []indexRecord, backend domain.BackendDescriptor) string {
	sorted := make([]indexRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Person != sorted[j].Person {
			return sorted[i].Person < sorted[j].Person
		}
		return sorted[i].RelPath < sorted[j].RelPath
	})

	h := sha256.New()
	for _, r := range sorted {
		fmt.Fprintf(h, "%s\x00%s\x00%d\x00%d\x00", r.Person, r.RelPath, r.Size, r.MTime)
	}
	fmt.Fprintf(h, "%s\x00%s", backend.Engine, backend.Model)
	return hex.EncodeToString(h.Sum(nil))
}

// scan walks the reference root one level deep, emitting a Person for each
// subdirectory containing at least one supported image, and the top-N
// reference Images per person by mtime (newest first, ties by path) (spec
// §4.3 step 1-2).
func scan(refRoot string, maxPerPerson int) ([]Person, []Image, error) {
	entries, err := os.ReadDir(refRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, err
	}

	var people []Person
	var images []Image

	for _, entry := range entries {
		if !entry.IsDir() {
			continue // images directly under the reference root are ignored
		}
		personDir := filepath.Join(refRoot, entry.Name())
		personImages, err := scanPersonDir(refRoot, entry.Name(), personDir)
		if err != nil {
			return nil, nil, err
		}
		if len(personImages) == 0 {
			continue
		}
		people = append(people, Person{Name: entry.Name()})

		sort.Slice(personImages, func(i, j int) bool {
			if !personImages[i].MTime.Equal(personImages[j].MTime) {
				return personImages[i].MTime.After(personImages[j].MTime)
			}
			return personImages[i].RelPath < personImages[j].RelPath
		})
		if len(personImages) > maxPerPerson {
			personImages = personImages[:maxPerPerson]
		}
		images = append(images, personImages...)
	}

	return people, images, nil
}

func scanPersonDir(refRoot, person, personDir string) ([]Image, error) {
	files, err := os.ReadDir(personDir)
	if err != nil {
		return nil, err
	}

	var images []Image
	for _, f := range files {
		if f.IsDir() {
			continue // deeper-than-one nested files are ignored
		}
		name := f.Name()
		if strings.HasPrefix(name, ".") || constants.HiddenFileNames[name] {
			continue
		}
		if !imageio.IsSupportedExtension(name) {
			continue
		}
		info, err := f.Info()
		if err != nil {
			continue
		}
		if info.Size() == 0 {
			continue
		}
		abs := filepath.Join(personDir, name)
		rel, err := filepath.Rel(refRoot, abs)
		if err != nil {
			rel = filepath.Join(person, name)
		}
		images = append(images, Image{
			Person:  person,
			RelPath: filepath.ToSlash(rel),
			AbsPath: abs,
			Size:    info.Size(),
			MTime:   info.ModTime().Truncate(time.Second),
		})
	}
	return images, nil
}

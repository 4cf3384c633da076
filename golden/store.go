// CLAUDE:SUMMARY On-disk golden images per case: existence, load, atomic temp+rename regeneration, versions and metadata.
// Package golden owns the trusted reference image of every case.
//
// Layout under the store root:
//
//	<case>/baseline.png     current golden
//	<case>/oracle.json      optional reference layout/style dump
//	<case>/meta.json        version, sha256, dimensions, written_at
//	<case>/versions/vN.png  previous goldens (bounded)
//
// Writes go to a sibling temporary file and are renamed into place, so a
// reader sees either the old golden or the new one, never a partial file.
// The rename makes one writer safe; two writers regenerating the same case
// must serialise through Lock.
//
// The baseline is renamed in before meta.json. A crash between the two
// leaves a baseline whose sha256 does not match meta; the next Write
// detects that and archives the orphan as the version after meta's.
package golden

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hazyhaar/parity/fixture"
	"github.com/hazyhaar/parity/frame"
)

const (
	baselineName = "baseline.png"
	oracleName   = "oracle.json"
	metaName     = "meta.json"
	versionsDir  = "versions"
)

// ErrNoGolden is returned by Load when the case has no baseline yet.
var ErrNoGolden = errors.New("golden: no golden image")

// Image is a loaded golden.
type Image struct {
	CaseID     string
	Frame      *frame.Frame
	SourcePath string
}

// Meta is persisted next to each baseline.
type Meta struct {
	CaseID    string    `json:"case_id"`
	Height    int       `json:"height"`
	SHA256    string    `json:"sha256"`
	Version   int       `json:"version"`
	Width     int       `json:"width"`
	WrittenAt time.Time `json:"written_at"`
}

// Store manages goldens under a root directory.
type Store struct {
	root         string
	keepVersions int
	normalize    bool
	now          func() time.Time
	logger       *slog.Logger

	// beforeCommit runs after the temp file is complete and before the
	// rename. Tests use it to interrupt a write.
	beforeCommit func(tmpPath string) error
}

// Option configures a Store.
type Option func(*Store)

// WithKeepVersions bounds how many previous baselines are archived. 0 disables archiving.
func WithKeepVersions(n int) Option { return func(s *Store) { s.keepVersions = n } }

// WithNormalize accepts grey/paletted goldens by converting them to RGB.
func WithNormalize() Option { return func(s *Store) { s.normalize = true } }

// WithClock sets the time source for metadata.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Store) { s.logger = l } }

// New creates a Store rooted at dir. The directory is created lazily.
func New(dir string, opts ...Option) *Store {
	s := &Store{
		root:         dir,
		keepVersions: 3,
		now:          time.Now,
		logger:       slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Root returns the store directory.
func (s *Store) Root() string { return s.root }

// Path returns the baseline path of a case.
func (s *Store) Path(caseID string) string {
	return filepath.Join(s.root, caseID, baselineName)
}

// OraclePath returns the oracle path of a case.
func (s *Store) OraclePath(caseID string) string {
	return filepath.Join(s.root, caseID, oracleName)
}

// Exists reports whether caseID has a baseline.
func (s *Store) Exists(caseID string) bool {
	if fixture.ValidateID(caseID) != nil {
		return false
	}
	st, err := os.Stat(s.Path(caseID))
	return err == nil && st.Mode().IsRegular()
}

// Load reads and decodes the golden of caseID. A missing baseline yields
// ErrNoGolden; an unreadable one yields frame.ErrInvalidImage.
func (s *Store) Load(caseID string) (*Image, error) {
	if err := fixture.ValidateID(caseID); err != nil {
		return nil, err
	}
	path := s.Path(caseID)
	var opts []frame.Option
	if s.normalize {
		opts = append(opts, frame.WithNormalize())
	}
	f, err := frame.DecodeFile(path, frame.FormatRaster, opts...)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNoGolden, caseID)
	}
	if err != nil {
		return nil, fmt.Errorf("golden: load %s: %w", caseID, err)
	}
	return &Image{CaseID: caseID, Frame: f, SourcePath: path}, nil
}

// Meta returns the metadata of caseID, or ErrNoGolden.
func (s *Store) Meta(caseID string) (*Meta, error) {
	if err := fixture.ValidateID(caseID); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.root, caseID, metaName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNoGolden, caseID)
	}
	if err != nil {
		return nil, fmt.Errorf("golden: read meta: %w", err)
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("golden: parse meta %s: %w", caseID, err)
	}
	return &m, nil
}

// Write atomically replaces the golden of caseID with f. The previous
// baseline, if any, is archived under versions/ first.
func (s *Store) Write(caseID string, f *frame.Frame) (*Meta, error) {
	if err := fixture.ValidateID(caseID); err != nil {
		return nil, err
	}
	data, err := frame.EncodePNG(f)
	if err != nil {
		return nil, fmt.Errorf("golden: encode %s: %w", caseID, err)
	}

	dir := filepath.Join(s.root, caseID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("golden: mkdir %s: %w", dir, err)
	}

	target := s.Path(caseID)
	live := s.liveVersion(caseID)
	version := live + 1

	if err := s.writeAtomic(target, data, live); err != nil {
		return nil, fmt.Errorf("golden: write %s: %w", caseID, err)
	}

	sum := sha256.Sum256(data)
	meta := &Meta{
		CaseID:    caseID,
		Height:    f.Height,
		SHA256:    fmt.Sprintf("%x", sum),
		Version:   version,
		Width:     f.Width,
		WrittenAt: s.now().UTC(),
	}
	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("golden: marshal meta: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(dir, metaName), metaJSON, nil); err != nil {
		return nil, fmt.Errorf("golden: write meta %s: %w", caseID, err)
	}

	s.logger.Info("golden: written", "case", caseID, "version", version,
		"width", f.Width, "height", f.Height)
	return meta, nil
}

// WriteOracle atomically stores the reference oracle dump of caseID.
func (s *Store) WriteOracle(caseID string, data []byte) error {
	if err := fixture.ValidateID(caseID); err != nil {
		return err
	}
	dir := filepath.Join(s.root, caseID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("golden: mkdir %s: %w", dir, err)
	}
	if err := writeFileAtomic(s.OraclePath(caseID), data, nil); err != nil {
		return fmt.Errorf("golden: write oracle %s: %w", caseID, err)
	}
	return nil
}

// Versions lists archived version numbers of caseID, ascending.
func (s *Store) Versions(caseID string) ([]int, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, caseID, versionsDir))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []int
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "v") || !strings.HasSuffix(name, ".png") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "v"), ".png"))
		if err == nil {
			out = append(out, n)
		}
	}
	sort.Ints(out)
	return out, nil
}

// liveVersion returns the version of the baseline currently on disk, or the
// last recorded version when the baseline is gone. A baseline that does not match meta.json was committed by
// a write that died before its meta; it counts as the version after meta's.
func (s *Store) liveVersion(caseID string) int {
	prev, merr := s.Meta(caseID)
	if merr != nil && !errors.Is(merr, ErrNoGolden) {
		s.logger.Warn("golden: unreadable meta, restarting version count", "case", caseID, "error", merr)
	}
	live, err := os.ReadFile(s.Path(caseID))
	if err != nil {
		if prev != nil {
			return prev.Version
		}
		return 0
	}
	if prev == nil {
		return 1
	}
	if fmt.Sprintf("%x", sha256.Sum256(live)) != prev.SHA256 {
		s.logger.Warn("golden: baseline does not match meta, counting it as a new version",
			"case", caseID, "meta_version", prev.Version)
		return prev.Version + 1
	}
	return prev.Version
}

// writeAtomic archives the current target (if any) as version live and
// renames the new content into place.
func (s *Store) writeAtomic(target string, data []byte, live int) error {
	return writeFileAtomic(target, data, func(tmp string) error {
		if s.beforeCommit != nil {
			if err := s.beforeCommit(tmp); err != nil {
				return err
			}
		}
		s.archive(target, live)
		return nil
	})
}

// archive copies the live baseline into versions/ and prunes old copies.
// Archiving is best effort: a failure is logged and never blocks a write.
func (s *Store) archive(target string, prev int) {
	if s.keepVersions <= 0 || prev <= 0 {
		return
	}
	old, err := os.ReadFile(target)
	if err != nil {
		return
	}
	dir := filepath.Dir(target)
	caseID := filepath.Base(dir)

	vdir := filepath.Join(dir, versionsDir)
	if err := os.MkdirAll(vdir, 0o755); err != nil {
		s.logger.Warn("golden: archive mkdir failed", "case", caseID, "error", err)
		return
	}
	dst := filepath.Join(vdir, fmt.Sprintf("v%d.png", prev))
	if err := writeFileAtomic(dst, old, nil); err != nil {
		s.logger.Warn("golden: archive failed", "case", caseID, "error", err)
		return
	}

	versions, err := s.Versions(caseID)
	if err != nil {
		return
	}
	for len(versions) > s.keepVersions {
		os.Remove(filepath.Join(vdir, fmt.Sprintf("v%d.png", versions[0])))
		versions = versions[1:]
	}
}

// writeFileAtomic writes data to a temp file next to target, fsyncs it,
// runs commit (if any) and renames it over target. The temp file is removed
// on every failure path.
func writeFileAtomic(target string, data []byte, commit func(tmp string) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	ok := false
	tmp.Chmod(0o644)
	defer func() {
		if !ok {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if commit != nil {
		if err := commit(tmpPath); err != nil {
			return err
		}
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return err
	}
	ok = true
	return nil
}

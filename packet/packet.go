// CLAUDE:SUMMARY Failure packet builder: diff visualization, triage category and the on-disk artifact bundle for a diff case.
// Package packet bundles the triage artifacts of a regressing case: a diff
// visualization, the golden and current frames, the oracle delta when both
// dumps exist, and a manifest naming a best-effort category.
//
// The category is a hint for whoever triages the case. It never feeds back
// into a pass/fail decision.
package packet

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hazyhaar/parity/compare"
	"github.com/hazyhaar/parity/frame"
	"github.com/hazyhaar/parity/oracle"
)

// Artifact file names inside a packet directory.
const (
	ManifestFile    = "manifest.json"
	DiffFile        = "diff.png"
	GoldenFile      = "golden.png"
	CurrentFile     = "current.ppm"
	OracleDeltaFile = "oracle-delta.json"
)

// Category is the triage hint.
type Category string

const (
	CategoryLayout  Category = "layout"
	CategoryColor   Category = "color"
	CategoryMissing Category = "missing"
	CategorySize    Category = "size"
	CategoryUnknown Category = "unknown"
)

// Artifact references one file of the packet, relative to its directory.
type Artifact struct {
	Kind string `json:"kind"`
	Path string `json:"path"`
}

// Packet is the manifest of a failure packet.
type Packet struct {
	Artifacts           []Artifact         `json:"artifacts"`
	CaseID              string             `json:"case_id"`
	Category            Category           `json:"category"`
	DiffPercent         float64            `json:"diff_percent"`
	Dimensions          compare.Dimensions `json:"dimensions"`
	Reason              string             `json:"reason"`
	ToleratedDiffPixels uint64             `json:"tolerated_diff_pixels"`
	TrueDiffPixels      uint64             `json:"true_diff_pixels"`
}

// Input is what the builder needs from a finished Diff case.
type Input struct {
	Result  compare.Result
	Golden  *frame.Frame
	Current *frame.Frame
	Mask    *compare.Mask

	// Oracle dumps; either may be empty or absent on disk.
	GoldenOraclePath  string
	CurrentOraclePath string
}

// ErrNotDiff is returned when Build is called for a case that is not a Diff.
var ErrNotDiff = errors.New("packet: case is not a diff")

// Builder writes packets.
type Builder struct {
	logger *slog.Logger
}

// NewBuilder creates a Builder. A nil logger uses slog.Default().
func NewBuilder(logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{logger: logger}
}

// Build writes the packet of in under dir (created if needed) and returns
// its manifest. Any write failure is returned; the caller decides whether
// it is fatal.
func (b *Builder) Build(in Input, dir string) (*Packet, error) {
	if in.Result.Status != compare.StatusDiff {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotDiff, in.Result.CaseID, in.Result.Status)
	}
	if in.Golden == nil || in.Current == nil || in.Mask == nil {
		return nil, fmt.Errorf("packet: %s: frames and mask are required", in.Result.CaseID)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("packet: mkdir: %w", err)
	}

	p := &Packet{
		CaseID:              in.Result.CaseID,
		DiffPercent:         in.Result.DiffPercent,
		Dimensions:          in.Result.Dimensions,
		ToleratedDiffPixels: in.Result.ToleratedDiffPixels,
		TrueDiffPixels:      in.Result.TrueDiffPixels,
	}

	diff, err := frame.EncodePNG(Visualize(in.Golden, in.Mask))
	if err != nil {
		return nil, fmt.Errorf("packet: encode diff: %w", err)
	}
	gold, err := frame.EncodePNG(in.Golden)
	if err != nil {
		return nil, fmt.Errorf("packet: encode golden: %w", err)
	}
	cur, err := frame.EncodePPM(in.Current)
	if err != nil {
		return nil, fmt.Errorf("packet: encode current: %w", err)
	}
	for _, a := range []struct {
		kind, name string
		data       []byte
	}{
		{"diff", DiffFile, diff},
		{"golden", GoldenFile, gold},
		{"current", CurrentFile, cur},
	} {
		if err := os.WriteFile(filepath.Join(dir, a.name), a.data, 0o644); err != nil {
			return nil, fmt.Errorf("packet: write %s: %w", a.name, err)
		}
		p.Artifacts = append(p.Artifacts, Artifact{Kind: a.kind, Path: a.name})
	}

	delta := b.oracleDelta(in)
	if delta != nil {
		data, err := json.MarshalIndent(delta, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("packet: marshal oracle delta: %w", err)
		}
		if err := os.WriteFile(filepath.Join(dir, OracleDeltaFile), data, 0o644); err != nil {
			return nil, fmt.Errorf("packet: write %s: %w", OracleDeltaFile, err)
		}
		p.Artifacts = append(p.Artifacts, Artifact{Kind: "oracle-delta", Path: OracleDeltaFile})
	}

	p.Category, p.Reason = Categorize(in.Golden, in.Current, in.Mask, delta)

	manifest, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("packet: marshal manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), manifest, 0o644); err != nil {
		return nil, fmt.Errorf("packet: write manifest: %w", err)
	}

	b.logger.Info("packet: built", "case", p.CaseID, "category", p.Category, "dir", dir)
	return p, nil
}

// oracleDelta loads both oracle dumps. A missing or unreadable dump only
// removes the signal.
func (b *Builder) oracleDelta(in Input) *oracle.Delta {
	if in.GoldenOraclePath == "" || in.CurrentOraclePath == "" {
		return nil
	}
	g, err := oracle.Load(in.GoldenOraclePath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			b.logger.Warn("packet: golden oracle unreadable", "case", in.Result.CaseID, "error", err)
		}
		return nil
	}
	c, err := oracle.Load(in.CurrentOraclePath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			b.logger.Warn("packet: current oracle unreadable", "case", in.Result.CaseID, "error", err)
		}
		return nil
	}
	d := oracle.Diff(g, c)
	return &d
}

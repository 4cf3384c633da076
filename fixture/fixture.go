// CLAUDE:SUMMARY Case registry: fixture definitions, id validation, lookup and sorted iteration.
// Package fixture describes the parity cases: which HTML page to render, at
// which viewport, and under which suite.
package fixture

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// ErrUnknownCase is returned by Registry.Get for ids not in the registry.
var ErrUnknownCase = errors.New("fixture: unknown case")

// ErrInvalidID is returned for case ids unusable as directory names.
var ErrInvalidID = errors.New("fixture: invalid case id")

// DefaultWidth and DefaultHeight are used when a fixture declares no viewport.
const (
	DefaultWidth  = 1280
	DefaultHeight = 800
)

// Case is one parity fixture.
type Case struct {
	ID       string `yaml:"id"`
	HTMLPath string `yaml:"html"`
	Width    int    `yaml:"width"`
	Height   int    `yaml:"height"`
	Suite    string `yaml:"suite"` // builtins | websuite
	Title    string `yaml:"title"`

	// MaxDiffPercent overrides the policy allowance for this case.
	MaxDiffPercent *float64 `yaml:"max_diff_percent"`
}

// Validate checks the id and viewport.
func (c Case) Validate() error {
	if err := ValidateID(c.ID); err != nil {
		return err
	}
	if c.HTMLPath == "" {
		return fmt.Errorf("fixture: case %s: html path is empty", c.ID)
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("fixture: case %s: invalid viewport %dx%d", c.ID, c.Width, c.Height)
	}
	return nil
}

// ValidateID rejects ids that are empty, too long, or contain anything but
// ASCII letters, digits, '_', '-' and '.'. Ids name directories, so "." and
// ".." are rejected as well.
func ValidateID(id string) error {
	if id == "" || id == "." || id == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	if len(id) > 128 {
		return fmt.Errorf("%w: longer than 128 bytes", ErrInvalidID)
	}
	for _, r := range id {
		if !isIDChar(r) {
			return fmt.Errorf("%w: character %q in %q", ErrInvalidID, r, id)
		}
	}
	return nil
}

func isIDChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') || r == '_' || r == '-' || r == '.'
}

// Registry is an id-keyed set of cases.
type Registry struct {
	cases map[string]Case
}

// NewRegistry validates cases and indexes them. Duplicate ids are an error.
func NewRegistry(cases ...Case) (*Registry, error) {
	r := &Registry{cases: make(map[string]Case, len(cases))}
	for _, c := range cases {
		if err := r.Add(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Add inserts c, filling a default viewport.
func (r *Registry) Add(c Case) error {
	if c.Width == 0 {
		c.Width = DefaultWidth
	}
	if c.Height == 0 {
		c.Height = DefaultHeight
	}
	if err := c.Validate(); err != nil {
		return err
	}
	if _, dup := r.cases[c.ID]; dup {
		return fmt.Errorf("fixture: duplicate case %s", c.ID)
	}
	r.cases[c.ID] = c
	return nil
}

// Get returns the case with the given id.
func (r *Registry) Get(id string) (Case, error) {
	c, ok := r.cases[id]
	if !ok {
		return Case{}, fmt.Errorf("%w: %s", ErrUnknownCase, id)
	}
	return c, nil
}

// Len returns the number of cases.
func (r *Registry) Len() int { return len(r.cases) }

// All returns every case sorted by id.
func (r *Registry) All() []Case {
	out := make([]Case, 0, len(r.cases))
	for _, id := range slices.Sorted(maps.Keys(r.cases)) {
		out = append(out, r.cases[id])
	}
	return out
}

// Suite returns the cases of one suite sorted by id.
func (r *Registry) Suite(name string) []Case {
	var out []Case
	for _, c := range r.All() {
		if c.Suite == name {
			out = append(out, c)
		}
	}
	return out
}

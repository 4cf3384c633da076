// CLAUDE:SUMMARY Defines parity config structs, parses YAML configuration files with defaults, and builds the case registry.
// Package config handles parity configuration from YAML files.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/parity/capture"
	"github.com/hazyhaar/parity/fixture"
)

// Config is the top-level parity configuration.
type Config struct {
	Fixtures FixturesConfig `yaml:"fixtures"`
	Goldens  GoldensConfig  `yaml:"goldens"`
	Output   string         `yaml:"output"`
	History  HistoryConfig  `yaml:"history"`
	Policy   PolicyConfig   `yaml:"policy"`
	Capture  CaptureConfig  `yaml:"capture"`
	Workers  int            `yaml:"workers"`
	RunIDs   string         `yaml:"run_ids"` // timestamped | uuid
}

// FixturesConfig says where cases come from.
type FixturesConfig struct {
	// Base resolves relative paths of explicit cases and builtins.
	Base string `yaml:"base"`
	// Root holds <case>/index.html pages discovered as Suite.
	Root  string `yaml:"root"`
	Suite string `yaml:"suite"`
	// Builtins includes the app's built-in pages.
	Builtins bool           `yaml:"builtins"`
	Cases    []fixture.Case `yaml:"cases"`
}

// GoldensConfig locates the golden store.
type GoldensConfig struct {
	Dir          string `yaml:"dir"`
	KeepVersions int    `yaml:"keep_versions"` // negative disables archiving
	Normalize    bool   `yaml:"normalize"`     // accept grey/paletted goldens
}

// HistoryConfig locates the run history database. Empty Path disables it.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// PolicyConfig is the gate policy.
type PolicyConfig struct {
	AATolerance         int     `yaml:"aa_tolerance"`
	MaxTrueDiffPercent  float64 `yaml:"max_true_diff_percent"`
	MinScore            float64 `yaml:"min_score"`
	RegressionThreshold float64 `yaml:"regression_threshold"`

	// Allowances give cases whose id contains Match a default
	// max_diff_percent. The first match wins; a case's own value wins over all.
	Allowances []Allowance `yaml:"allowances"`
}

// Allowance is a per-id-pattern diff allowance.
type Allowance struct {
	Match          string  `yaml:"match"`
	MaxDiffPercent float64 `yaml:"max_diff_percent"`
}

// CaptureConfig configures both capture providers.
type CaptureConfig struct {
	Timeout   time.Duration   `yaml:"timeout"`
	Oracle    bool            `yaml:"oracle"` // ask providers for layout dumps
	Engine    EngineConfig    `yaml:"engine"`
	Reference ReferenceConfig `yaml:"reference"`
}

// EngineConfig is the engine-under-test command.
type EngineConfig struct {
	Command    []string `yaml:"command"`
	OracleArgs []string `yaml:"oracle_args"`
	Env        []string `yaml:"env"`
}

// ReferenceConfig is the headless Chrome reference renderer.
type ReferenceConfig struct {
	Remote      string        `yaml:"remote"`
	Bin         string        `yaml:"bin"`
	Stealth     bool          `yaml:"stealth"`
	BlockRemote bool          `yaml:"block_remote"`
	Settle      time.Duration `yaml:"settle"`
}

// Default returns a configuration that works from a repository checkout.
func Default() *Config {
	c := &Config{
		Fixtures: FixturesConfig{
			Base:     ".",
			Root:     filepath.Join("websuite", "cases"),
			Builtins: true,
		},
		Policy: PolicyConfig{AATolerance: 5},
		Capture: CaptureConfig{
			Oracle: true,
			Engine: EngineConfig{
				Command: append([]string{filepath.Join("target", "release", "parity-capture")}, capture.DefaultEngineArgs...),
			},
			Reference: ReferenceConfig{BlockRemote: true},
		},
	}
	c.applyDefaults()
	return c
}

// LoadFile reads a YAML configuration file over Default(), so keys the
// file omits keep their default values.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Fixtures.Base == "" {
		c.Fixtures.Base = "."
	}
	if c.Fixtures.Suite == "" {
		c.Fixtures.Suite = "websuite"
	}
	if c.Goldens.Dir == "" {
		c.Goldens.Dir = filepath.Join("baselines", "chrome-120")
	}
	if c.Goldens.KeepVersions == 0 {
		c.Goldens.KeepVersions = 3
	}
	if c.Output == "" {
		c.Output = "parity-baseline"
	}
	if c.Workers <= 0 {
		c.Workers = min(runtime.NumCPU(), 4)
	}
	if c.Capture.Timeout <= 0 {
		c.Capture.Timeout = 30 * time.Second
	}
	if c.Capture.Engine.OracleArgs == nil {
		c.Capture.Engine.OracleArgs = capture.DefaultOracleArgs
	}
	if c.Capture.Reference.Settle <= 0 {
		c.Capture.Reference.Settle = 100 * time.Millisecond
	}
	if c.RunIDs == "" {
		c.RunIDs = "timestamped"
	}
}

// Validate checks ranges the gate relies on.
func (c *Config) Validate() error {
	var errs []error
	if c.Policy.AATolerance < 0 || c.Policy.AATolerance > 255 {
		errs = append(errs, fmt.Errorf("policy.aa_tolerance %d out of range 0..255", c.Policy.AATolerance))
	}
	if c.Policy.MaxTrueDiffPercent < 0 || c.Policy.MaxTrueDiffPercent > 100 {
		errs = append(errs, fmt.Errorf("policy.max_true_diff_percent %g out of range 0..100", c.Policy.MaxTrueDiffPercent))
	}
	if c.Policy.MinScore < 0 || c.Policy.MinScore > 1 {
		errs = append(errs, fmt.Errorf("policy.min_score %g out of range 0..1", c.Policy.MinScore))
	}
	if c.Policy.RegressionThreshold < 0 {
		errs = append(errs, fmt.Errorf("policy.regression_threshold %g is negative", c.Policy.RegressionThreshold))
	}
	if len(c.Capture.Engine.Command) == 0 {
		errs = append(errs, errors.New("capture.engine.command is empty"))
	}
	for i, a := range c.Policy.Allowances {
		if a.Match == "" {
			errs = append(errs, fmt.Errorf("policy.allowances[%d].match is empty", i))
		}
		if a.MaxDiffPercent < 0 || a.MaxDiffPercent > 100 {
			errs = append(errs, fmt.Errorf("policy.allowances[%d].max_diff_percent %g out of range 0..100", i, a.MaxDiffPercent))
		}
	}
	if c.RunIDs != "timestamped" && c.RunIDs != "uuid" {
		errs = append(errs, fmt.Errorf("run_ids %q: want timestamped or uuid", c.RunIDs))
	}
	return errors.Join(errs...)
}

// Cases builds the registry: builtins, then discovered pages, then explicit
// cases. A missing discovery root is not an error; a duplicate id is.
// Policy allowances are applied to cases that carry none of their own.
func (c *Config) Cases() (*fixture.Registry, error) {
	reg, err := c.cases()
	if err != nil {
		return nil, err
	}
	if len(c.Policy.Allowances) == 0 {
		return reg, nil
	}
	all := reg.All()
	for i := range all {
		if all[i].MaxDiffPercent == nil {
			all[i].MaxDiffPercent = c.allowanceFor(all[i].ID)
		}
	}
	return fixture.NewRegistry(all...)
}

// allowanceFor returns the first allowance whose Match is in id, or nil.
func (c *Config) allowanceFor(id string) *float64 {
	for _, a := range c.Policy.Allowances {
		if strings.Contains(id, a.Match) {
			v := a.MaxDiffPercent
			return &v
		}
	}
	return nil
}

func (c *Config) cases() (*fixture.Registry, error) {
	reg, err := fixture.NewRegistry()
	if err != nil {
		return nil, err
	}
	if c.Fixtures.Builtins {
		for _, fc := range fixture.Builtins(c.Fixtures.Base) {
			if err := reg.Add(fc); err != nil {
				return nil, err
			}
		}
	}
	if c.Fixtures.Root != "" {
		root, err := fixture.Resolve(c.Fixtures.Base, c.Fixtures.Root)
		if err != nil {
			return nil, fmt.Errorf("config: fixtures.root: %w", err)
		}
		found, err := fixture.Discover(root, c.Fixtures.Suite)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		for _, fc := range found {
			if err := reg.Add(fc); err != nil {
				return nil, err
			}
		}
	}
	for _, fc := range c.Fixtures.Cases {
		path, err := fixture.Resolve(c.Fixtures.Base, fc.HTMLPath)
		if err != nil {
			return nil, fmt.Errorf("config: case %s: %w", fc.ID, err)
		}
		fc.HTMLPath = path
		if err := reg.Add(fc); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

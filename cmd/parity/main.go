// CLAUDE:SUMMARY CLI entry point for parity: runs one fixture or every case, optionally regenerating goldens first, and maps the verdict to an exit code.
// Command parity is the visual parity gate.
//
// Usage:
//
//	parity -all                              # run every case, exit 0 iff the gate passes
//	parity -all -scope builtins              # run one suite only
//	parity -fixture about -tolerance 3       # run one case, exit 0 iff it passes
//	parity -all -regenerate-baseline         # recapture goldens in Chrome, then compare
//	parity -config parity.yaml -all -history parity.db -fail-on-regression 0.5
//
// Exit codes: 0 pass, 1 failing case or gate, 2 usage or run-level I/O error.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/hazyhaar/parity/capture"
	"github.com/hazyhaar/parity/compare"
	"github.com/hazyhaar/parity/fixture"
	"github.com/hazyhaar/parity/gate"
	"github.com/hazyhaar/parity/golden"
	"github.com/hazyhaar/parity/history"
	"github.com/hazyhaar/parity/idgen"
	"github.com/hazyhaar/parity/internal/config"
	"github.com/hazyhaar/parity/runner"
)

const (
	exitPass  = 0
	exitFail  = 1
	exitUsage = 2
)

// scopeAll selects every suite.
const scopeAll = "all"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type options struct {
	configPath  string
	fixtureID   string
	all         bool
	scope       string
	output      string
	tolerance   int
	width       int
	height      int
	regenerate  bool
	workers     int
	logLevel    string
	regression  float64
	minimum     float64
	historyPath string
}

func parseFlags(args []string, stderr io.Writer) (*options, map[string]bool, error) {
	fs := flag.NewFlagSet("parity", flag.ContinueOnError)
	fs.SetOutput(stderr)

	o := &options{}
	fs.StringVar(&o.configPath, "config", "", "path to parity.yaml config file")
	fs.StringVar(&o.fixtureID, "fixture", "", "run a single case by id")
	fs.BoolVar(&o.all, "all", false, "run every discoverable case")
	fs.StringVar(&o.scope, "scope", scopeAll, "with -all: all, or a suite name (builtins, websuite)")
	fs.StringVar(&o.output, "output", "", "output directory (runs/, latest)")
	fs.IntVar(&o.tolerance, "tolerance", 0, "anti-aliasing tolerance per channel (0-255)")
	fs.IntVar(&o.width, "width", 0, "viewport width override for -fixture")
	fs.IntVar(&o.height, "height", 0, "viewport height override for -fixture")
	fs.BoolVar(&o.regenerate, "regenerate-baseline", false, "recapture goldens with the reference renderer before comparing")
	fs.IntVar(&o.workers, "workers", 0, "concurrent cases")
	fs.StringVar(&o.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	fs.Float64Var(&o.regression, "fail-on-regression", 0, "fail when a case's diff_percent rose by more than this since the previous run")
	fs.Float64Var(&o.minimum, "minimum", 0, "fail when the run score is below this (0-1)")
	fs.StringVar(&o.historyPath, "history", "", "SQLite run history path")

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if fs.NArg() > 0 {
		return nil, nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if o.all == (o.fixtureID != "") {
		return nil, nil, errors.New("exactly one of -fixture <id> or -all is required")
	}
	if o.width < 0 || o.height < 0 {
		return nil, nil, fmt.Errorf("invalid viewport override %dx%d", o.width, o.height)
	}
	if (o.width != 0 || o.height != 0) && o.all {
		return nil, nil, errors.New("-width and -height apply to -fixture only")
	}
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["scope"] && !o.all {
		return nil, nil, errors.New("-scope applies to -all only")
	}
	return o, set, nil
}

func newLogger(level string, w io.Writer) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: l}))
}

// run is main without the process: it returns the exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	o, set, err := parseFlags(args, stderr)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(stderr, "parity:", err)
		}
		return exitUsage
	}
	logger := newLogger(o.logLevel, stderr)

	cfg, err := loadConfig(o, set)
	if err != nil {
		fmt.Fprintln(stderr, "parity:", err)
		return exitUsage
	}
	cases, err := selectCases(cfg, o)
	if err != nil {
		fmt.Fprintln(stderr, "parity:", err)
		return exitUsage
	}

	g, cleanup, err := build(cfg, logger)
	if err != nil {
		fmt.Fprintln(stderr, "parity:", err)
		return exitUsage
	}
	defer cleanup()

	if o.regenerate {
		if err := regenerate(ctx, cfg, cases, logger); err != nil {
			logger.Error("parity: regenerate", "error", err)
			fmt.Fprintln(stderr, "parity:", err)
			return exitFail
		}
	}

	s, err := g.RunAll(ctx, cases)
	if err != nil {
		logger.Error("parity: run aborted", "error", err)
		fmt.Fprintln(stderr, "parity:", err)
		return exitUsage
	}
	report(stdout, s)

	if !s.Passed {
		return exitFail
	}
	// A single fixture passes only on an actual match, never on an
	// allowance or a missing golden.
	if o.fixtureID != "" && s.Cases[0].Status != compare.StatusPass {
		return exitFail
	}
	return exitPass
}

// loadConfig reads the file (or defaults) and applies flag overrides.
func loadConfig(o *options, set map[string]bool) (*config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		var err error
		if cfg, err = config.LoadFile(o.configPath); err != nil {
			return nil, err
		}
	}
	if set["output"] {
		cfg.Output = o.output
	}
	if set["tolerance"] {
		cfg.Policy.AATolerance = o.tolerance
	}
	if set["workers"] {
		cfg.Workers = max(o.workers, 1)
	}
	if set["minimum"] {
		cfg.Policy.MinScore = o.minimum
	}
	if set["fail-on-regression"] {
		cfg.Policy.RegressionThreshold = o.regression
	}
	if set["history"] {
		cfg.History.Path = o.historyPath
	}
	if cfg.Policy.RegressionThreshold > 0 && cfg.History.Path == "" {
		return nil, errors.New("-fail-on-regression needs -history (or history.path)")
	}
	return cfg, cfg.Validate()
}

func selectCases(cfg *config.Config, o *options) ([]fixture.Case, error) {
	reg, err := cfg.Cases()
	if err != nil {
		return nil, err
	}
	if o.all {
		return scoped(reg, o.scope)
	}
	c, err := reg.Get(o.fixtureID)
	if err != nil {
		return nil, err
	}
	if o.width > 0 {
		c.Width = o.width
	}
	if o.height > 0 {
		c.Height = o.height
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return []fixture.Case{c}, nil
}

// scoped returns the cases of one suite, or all of them. An unknown scope
// is a usage error.
func scoped(reg *fixture.Registry, scope string) ([]fixture.Case, error) {
	if scope == scopeAll {
		if reg.Len() == 0 {
			return nil, errors.New("no cases found")
		}
		return reg.All(), nil
	}
	if cases := reg.Suite(scope); len(cases) > 0 {
		return cases, nil
	}
	suites := map[string]bool{}
	for _, c := range reg.All() {
		suites[c.Suite] = true
	}
	known := []string{scopeAll}
	for _, name := range slices.Sorted(maps.Keys(suites)) {
		if name != "" {
			known = append(known, name)
		}
	}
	return nil, fmt.Errorf("unknown scope %q (known: %s)", scope, strings.Join(known, ", "))
}

func newStore(cfg *config.Config, logger *slog.Logger) *golden.Store {
	opts := []golden.Option{
		golden.WithKeepVersions(max(cfg.Goldens.KeepVersions, 0)),
		golden.WithLogger(logger),
	}
	if cfg.Goldens.Normalize {
		opts = append(opts, golden.WithNormalize())
	}
	return golden.New(cfg.Goldens.Dir, opts...)
}

// build wires the engine provider, runner and gate. cleanup closes the
// history database.
func build(cfg *config.Config, logger *slog.Logger) (*gate.Gate, func(), error) {
	cleanup := func() {}
	engine, err := capture.NewEngine(cfg.Capture.Engine.Command,
		capture.WithOracleArgs(cfg.Capture.Engine.OracleArgs),
		capture.WithEnv(cfg.Capture.Engine.Env...),
		capture.WithEngineLogger(logger),
	)
	if err != nil {
		return nil, cleanup, err
	}

	store := newStore(cfg, logger)
	ropts := []runner.Option{
		runner.WithTolerance(uint8(cfg.Policy.AATolerance)),
		runner.WithTimeout(cfg.Capture.Timeout),
		runner.WithLogger(logger),
	}
	if cfg.Capture.Oracle {
		ropts = append(ropts, runner.WithOracle())
	}
	if cfg.Goldens.Normalize {
		ropts = append(ropts, runner.WithNormalize())
	}
	r := runner.New(engine, store, ropts...)

	ids, err := idgen.ForStyle(cfg.RunIDs, time.Now)
	if err != nil {
		return nil, cleanup, err
	}
	gopts := []gate.Option{
		gate.WithPolicy(gate.Policy{
			AATolerance:         uint8(cfg.Policy.AATolerance),
			MaxTrueDiffPercent:  cfg.Policy.MaxTrueDiffPercent,
			MinScore:            cfg.Policy.MinScore,
			RegressionThreshold: cfg.Policy.RegressionThreshold,
		}),
		gate.WithWorkers(cfg.Workers),
		gate.WithRunIDs(ids),
		gate.WithLogger(logger),
	}
	if cfg.History.Path != "" {
		h, err := history.Open(cfg.History.Path, logger)
		if err != nil {
			return nil, cleanup, err
		}
		cleanup = func() { h.Close() }
		gopts = append(gopts, gate.WithHistory(h))
	}
	return gate.New(r, store, cfg.Output, gopts...), cleanup, nil
}

// regenerate recaptures goldens in the reference renderer. Per-case
// failures are logged; those cases then compare against whatever golden
// they still have.
func regenerate(ctx context.Context, cfg *config.Config, cases []fixture.Case, logger *slog.Logger) error {
	rc := cfg.Capture.Reference
	ref := capture.NewReference(capture.ReferenceConfig{
		RemoteURL:   rc.Remote,
		Bin:         rc.Bin,
		Stealth:     rc.Stealth,
		BlockRemote: rc.BlockRemote,
		Settle:      rc.Settle,
		Logger:      logger,
	})
	if err := ref.Start(ctx); err != nil {
		return fmt.Errorf("start reference renderer: %w", err)
	}
	defer ref.Close()

	store := newStore(cfg, logger)
	// Regeneration reuses the gate's pool; the runner is never used.
	r := runner.New(ref, store, runner.WithLogger(logger))
	opts := []gate.Option{
		gate.WithWorkers(cfg.Workers),
		gate.WithReference(ref, cfg.Capture.Timeout),
		gate.WithLogger(logger),
	}
	if cfg.Goldens.Normalize {
		opts = append(opts, gate.WithNormalize())
	}
	if err := gate.New(r, store, cfg.Output, opts...).Regenerate(ctx, cases); err != nil {
		logger.Warn("parity: some goldens were not regenerated", "error", err)
	}
	return nil
}

func report(w io.Writer, s *gate.Summary) {
	for _, r := range s.Cases {
		line := fmt.Sprintf("%-24s %-15s diff=%.4f%% true=%d tolerated=%d",
			r.CaseID, r.Status, r.DiffPercent, r.TrueDiffPixels, r.ToleratedDiffPixels)
		if r.Error != "" {
			line += " error=" + r.Error
		}
		fmt.Fprintln(w, line)
	}

	verdict := "PASS"
	if !s.Passed {
		verdict = "FAIL"
	}
	fmt.Fprintf(w, "parity: %s total=%d passed=%d failed=%d no_golden=%d score=%.6f run=%s\n",
		verdict, s.Totals.Total, s.Totals.Passed, s.Totals.Failed, s.Totals.NoGolden, s.Score, s.Dir)
	for _, reason := range s.Reasons {
		fmt.Fprintln(w, "  reason:", reason)
	}
	if worst := s.Worst(3); len(worst) > 0 {
		fmt.Fprintln(w, "worst cases:")
		for i, r := range worst {
			fmt.Fprintf(w, "  %d. %s %.4f%%", i+1, r.CaseID, r.DiffPercent)
			if p := s.Packets[r.CaseID]; p != nil {
				fmt.Fprintf(w, " [%s] %s", p.Category, p.Reason)
			}
			fmt.Fprintln(w)
		}
	}
}

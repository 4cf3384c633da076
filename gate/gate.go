// CLAUDE:SUMMARY Runs cases on a bounded worker pool, builds failure packets, writes summary.json and swaps the latest pointer.
// Package gate runs a set of parity cases and turns them into one verdict.
//
// Cases run independently on a bounded pool; the gate waits for all of them
// and folds the results in case-id order, so the summary does not depend on
// completion order. Per-case problems are data in the summary. Only
// run-level I/O (output tree, summary, artifacts, history, latest pointer)
// aborts a run, with ErrIO.
package gate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hazyhaar/parity/capture"
	"github.com/hazyhaar/parity/compare"
	"github.com/hazyhaar/parity/fixture"
	"github.com/hazyhaar/parity/frame"
	"github.com/hazyhaar/parity/golden"
	"github.com/hazyhaar/parity/history"
	"github.com/hazyhaar/parity/idgen"
	"github.com/hazyhaar/parity/packet"
	"github.com/hazyhaar/parity/runner"
)

// Layout of the output directory.
const (
	RunsDir         = "runs"
	LatestLink      = "latest"
	SummaryFile     = "summary.json"
	RegressionsFile = "regressions.json"
	PacketsDir      = "failure_packets"
)

// ErrIO marks run-level I/O failures. The whole invocation is void.
var ErrIO = errors.New("gate: io error")

// Gate runs cases and decides.
type Gate struct {
	runner    *runner.Runner
	store     *golden.Store
	output    string
	policy    Policy
	workers   int
	reference capture.Provider
	timeout   time.Duration
	normalize bool
	history   *history.Store
	packets   *packet.Builder
	newID     idgen.Generator
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithPolicy sets the gate policy. Its AATolerance is informational; the
// runner's tolerance is what compares.
func WithPolicy(p Policy) Option { return func(g *Gate) { g.policy = p } }

// WithWorkers bounds concurrent cases. Values below 1 mean 1.
func WithWorkers(n int) Option { return func(g *Gate) { g.workers = max(n, 1) } }

// WithReference sets the provider used by Regenerate and its capture budget.
func WithReference(p capture.Provider, timeout time.Duration) Option {
	return func(g *Gate) { g.reference, g.timeout = p, timeout }
}

// WithNormalize accepts grey/paletted reference captures when regenerating.
func WithNormalize() Option { return func(g *Gate) { g.normalize = true } }

// WithHistory records runs and enables the regression check.
func WithHistory(h *history.Store) Option { return func(g *Gate) { g.history = h } }

// WithRunIDs sets the run id generator.
func WithRunIDs(gen idgen.Generator) Option { return func(g *Gate) { g.newID = gen } }

// WithClock sets the time source of summary timestamps.
func WithClock(now func() time.Time) Option { return func(g *Gate) { g.now = now } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(g *Gate) { g.logger = l } }

// New creates a Gate writing runs under output.
func New(r *runner.Runner, store *golden.Store, output string, opts ...Option) *Gate {
	g := &Gate{
		runner:  r,
		store:   store,
		output:  output,
		policy:  Policy{AATolerance: r.Tolerance()},
		workers: 1,
		timeout: runner.DefaultTimeout,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(g)
	}
	if g.newID == nil {
		g.newID = idgen.Timestamped(g.now, idgen.NanoID(8))
	}
	g.packets = packet.NewBuilder(g.logger)
	return g
}

// RunAll runs every case and writes <output>/runs/<id>/summary.json, the
// failure packets of Diff cases, and repoints <output>/latest. The returned
// Summary carries the verdict in Passed. A non-nil error wraps ErrIO.
func (g *Gate) RunAll(ctx context.Context, cases []fixture.Case) (*Summary, error) {
	startedAt := g.now()
	runID := g.newID()
	if err := fixture.ValidateID(runID); err != nil {
		return nil, fmt.Errorf("%w: run id: %w", ErrIO, err)
	}
	runDir := filepath.Join(g.output, RunsDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create run dir: %w", ErrIO, err)
	}

	scratch, err := os.MkdirTemp("", "parity-"+runID+"-")
	if err != nil {
		return nil, fmt.Errorf("%w: scratch dir: %w", ErrIO, err)
	}
	defer os.RemoveAll(scratch)

	g.logger.Info("gate: run started", "run_id", runID, "cases", len(cases), "workers", g.workers)

	outcomes := make([]*runner.Outcome, len(cases))
	g.forEach(len(cases), func(i int) {
		o := g.runner.Run(ctx, cases[i], scratch)
		outcomes[i] = o
		g.logger.Info("gate: case finished", "case", o.Case.ID, "status", o.Result.Status,
			"diff_percent", o.Result.DiffPercent, "duration", o.Duration)
	})

	s := Summarize(g.policy, startedAt, outcomes)
	s.RunID = runID
	s.Dir = runDir

	if err := g.buildPackets(s, outcomes, runDir); err != nil {
		return nil, err
	}
	if err := g.checkRegressions(ctx, s, runDir); err != nil {
		return nil, err
	}
	s.decide()

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("gate: marshal summary: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(runDir, SummaryFile), append(data, '\n')); err != nil {
		return nil, fmt.Errorf("%w: write summary: %w", ErrIO, err)
	}

	if g.history != nil {
		err := g.history.Record(ctx, history.Run{
			ID:        runID,
			StartedAt: startedAt,
			Score:     s.Score,
			Passed:    s.Passed,
			Total:     s.Totals.Total,
			Failed:    s.Totals.Failed,
			NoGolden:  s.Totals.NoGolden,
			Tolerance: int(g.policy.AATolerance),
			Cases:     s.Cases,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: record history: %w", ErrIO, err)
		}
	}

	if err := updateLatest(g.output, runID); err != nil {
		return nil, fmt.Errorf("%w: update latest: %w", ErrIO, err)
	}

	g.logger.Info("gate: run finished", "run_id", runID, "passed", s.Passed,
		"score", s.Score, "failed", s.Totals.Failed, "no_golden", s.Totals.NoGolden)
	return s, nil
}

// buildPackets writes a failure packet for every Diff outcome.
func (g *Gate) buildPackets(s *Summary, outcomes []*runner.Outcome, runDir string) error {
	for _, o := range outcomes {
		if o.Result.Status != compare.StatusDiff {
			continue
		}
		p, err := g.packets.Build(packet.Input{
			Result:            o.Result,
			Golden:            o.Golden,
			Current:           o.Current,
			Mask:              o.Mask,
			GoldenOraclePath:  o.GoldenOraclePath,
			CurrentOraclePath: o.OraclePath,
		}, filepath.Join(runDir, PacketsDir, o.Case.ID))
		if err != nil {
			return fmt.Errorf("%w: failure packet %s: %w", ErrIO, o.Case.ID, err)
		}
		if err := o.MarkPacketGenerated(); err != nil {
			return err
		}
		if s.Packets == nil {
			s.Packets = make(map[string]*packet.Packet)
		}
		s.Packets[o.Case.ID] = p
	}
	return nil
}

// checkRegressions compares against the previous recorded run and writes
// regressions.json when the check ran.
func (g *Gate) checkRegressions(ctx context.Context, s *Summary, runDir string) error {
	if g.history == nil || g.policy.RegressionThreshold <= 0 {
		return nil
	}
	prev, err := g.history.Previous(ctx, s.RunID)
	if errors.Is(err, history.ErrNoRun) {
		g.logger.Info("gate: no previous run, regression check skipped")
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	s.Regressions = history.Regressions(prev.Cases, s.Cases, g.policy.RegressionThreshold)

	data, err := json.MarshalIndent(struct {
		PreviousRunID string               `json:"previous_run_id"`
		Regressions   []history.Regression `json:"regressions"`
		Threshold     float64              `json:"threshold"`
	}{prev.ID, s.Regressions, g.policy.RegressionThreshold}, "", "  ")
	if err != nil {
		return fmt.Errorf("gate: marshal regressions: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(runDir, RegressionsFile), append(data, '\n')); err != nil {
		return fmt.Errorf("%w: write regressions: %w", ErrIO, err)
	}
	return nil
}

// Regenerate captures every case with the reference provider and replaces
// its golden. Same-case writers are serialised by the golden lock. Failures
// are per case and returned joined; other cases still regenerate.
func (g *Gate) Regenerate(ctx context.Context, cases []fixture.Case) error {
	if g.reference == nil {
		return errors.New("gate: regenerate: no reference provider")
	}
	scratch, err := os.MkdirTemp("", "parity-regen-")
	if err != nil {
		return fmt.Errorf("%w: scratch dir: %w", ErrIO, err)
	}
	defer os.RemoveAll(scratch)

	errs := make([]error, len(cases))
	g.forEach(len(cases), func(i int) {
		errs[i] = g.regenerateOne(ctx, cases[i], scratch)
		if errs[i] != nil {
			g.logger.Error("gate: regenerate failed", "case", cases[i].ID, "error", errs[i])
		}
	})
	return errors.Join(errs...)
}

func (g *Gate) regenerateOne(ctx context.Context, c fixture.Case, scratch string) error {
	unlock, err := g.store.Lock(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("gate: lock %s: %w", c.ID, err)
	}
	defer unlock()

	req := capture.Request{
		CaseID:     c.ID,
		HTMLPath:   c.HTMLPath,
		Width:      c.Width,
		Height:     c.Height,
		Budget:     g.timeout,
		OutputPath: filepath.Join(scratch, c.ID+".png"),
		OraclePath: filepath.Join(scratch, c.ID+".oracle.json"),
	}
	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	if err := g.reference.Capture(cctx, req); err != nil {
		return err
	}
	if err := capture.Check(req); err != nil {
		return err
	}

	var opts []frame.Option
	if g.normalize {
		opts = append(opts, frame.WithNormalize())
	}
	f, err := frame.DecodeFile(req.OutputPath, frame.FormatRaster, opts...)
	if err != nil {
		return fmt.Errorf("gate: regenerate %s: %w", c.ID, err)
	}
	if _, err := g.store.Write(c.ID, f); err != nil {
		return err
	}
	if dump, err := os.ReadFile(req.OraclePath); err == nil {
		if err := g.store.WriteOracle(c.ID, dump); err != nil {
			return err
		}
	}
	return nil
}

// forEach calls fn(0..n-1) on at most g.workers goroutines and returns when
// all calls have returned.
func (g *Gate) forEach(n int, fn func(i int)) {
	sem := make(chan struct{}, g.workers)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			fn(i)
		}()
	}
	wg.Wait()
}

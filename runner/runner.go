// CLAUDE:SUMMARY Drives one case through capture, golden lookup, decode and compare, producing an Outcome.
// Package runner executes a single parity case:
//
//	Pending -> Capturing -> CaptureFailed
//	                     -> Captured -> NoGolden
//	                                 -> Comparing -> Pass | Diff | SizeMismatch | InvalidImage
//	Diff -> FailurePacketGenerated
//
// Every failure of a case is reported in its Outcome, never as a Go error,
// so one case cannot stop a run. The golden store is only read here.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hazyhaar/parity/capture"
	"github.com/hazyhaar/parity/compare"
	"github.com/hazyhaar/parity/fixture"
	"github.com/hazyhaar/parity/frame"
	"github.com/hazyhaar/parity/golden"
)

// DefaultTimeout bounds one capture when none is configured.
const DefaultTimeout = 30 * time.Second

// Outcome is everything known about a finished case.
type Outcome struct {
	Case   fixture.Case
	Result compare.Result
	Trace  []State

	// Set when the frames were decoded.
	Golden  *frame.Frame
	Current *frame.Frame
	Mask    *compare.Mask

	CapturePath      string
	OraclePath       string // current oracle dump, may not exist
	GoldenOraclePath string // golden oracle dump, may not exist
	Duration         time.Duration
}

// State is the last state reached.
func (o *Outcome) State() State { return o.Trace[len(o.Trace)-1] }

// MarkPacketGenerated moves a Diff outcome to FailurePacketGenerated.
func (o *Outcome) MarkPacketGenerated() error {
	m := &machine{trace: o.Trace}
	if err := m.advance(StateFailurePacketGenerated); err != nil {
		return err
	}
	o.Trace = m.trace
	return nil
}

// Runner runs cases against one capture provider and golden store.
type Runner struct {
	provider  capture.Provider
	store     *golden.Store
	tolerance uint8
	timeout   time.Duration
	normalize bool
	oracle    bool
	logger    *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithTolerance sets the AA tolerance.
func WithTolerance(t uint8) Option { return func(r *Runner) { r.tolerance = t } }

// WithTimeout bounds each capture.
func WithTimeout(d time.Duration) Option { return func(r *Runner) { r.timeout = d } }

// WithNormalize accepts grey/paletted raster captures by converting them.
func WithNormalize() Option { return func(r *Runner) { r.normalize = true } }

// WithOracle asks the provider for a layout/style dump next to the pixels.
func WithOracle() Option { return func(r *Runner) { r.oracle = true } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(r *Runner) { r.logger = l } }

// New creates a Runner.
func New(provider capture.Provider, store *golden.Store, opts ...Option) *Runner {
	r := &Runner{
		provider: provider,
		store:    store,
		timeout:  DefaultTimeout,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Tolerance returns the configured AA tolerance.
func (r *Runner) Tolerance() uint8 { return r.tolerance }

// Run executes c, writing captures under scratch (which must exist).
func (r *Runner) Run(ctx context.Context, c fixture.Case, scratch string) *Outcome {
	start := time.Now()
	m := newMachine()
	out := &Outcome{
		Case:             c,
		Result:           compare.Result{CaseID: c.ID},
		CapturePath:      filepath.Join(scratch, c.ID+".capture"),
		GoldenOraclePath: r.store.OraclePath(c.ID),
	}
	if r.oracle {
		out.OraclePath = filepath.Join(scratch, c.ID+".oracle.json")
	}

	r.run(ctx, m, out)

	out.Trace = m.trace
	out.Duration = time.Since(start)
	r.logger.Debug("runner: case finished", "case", c.ID, "state", out.State(),
		"true_diff", out.Result.TrueDiffPixels, "duration", out.Duration)
	return out
}

func (r *Runner) run(ctx context.Context, m *machine, out *Outcome) {
	c := out.Case
	must(m.advance(StateCapturing))

	req := capture.Request{
		CaseID:     c.ID,
		HTMLPath:   c.HTMLPath,
		Width:      c.Width,
		Height:     c.Height,
		Budget:     r.timeout,
		OutputPath: out.CapturePath,
		OraclePath: out.OraclePath,
	}
	if err := r.capture(ctx, req); err != nil {
		must(m.advance(StateCaptureFailed))
		out.Result.Status = compare.StatusCaptureFailed
		out.Result.Error = err.Error()
		return
	}
	must(m.advance(StateCaptured))

	g, gerr := r.store.Load(c.ID)
	if errors.Is(gerr, golden.ErrNoGolden) {
		must(m.advance(StateNoGolden))
		out.Result.Status = compare.StatusNoGolden
		return
	}
	must(m.advance(StateComparing))

	invalid := func(err error) {
		must(m.advance(StateInvalidImage))
		out.Result.Status = compare.StatusInvalidImage
		out.Result.Error = err.Error()
	}

	current, err := r.decodeCapture(out.CapturePath)
	if err != nil {
		invalid(err)
		return
	}
	out.Result.Dimensions = compare.Dimensions{Width: current.Width, Height: current.Height}
	out.Current = current

	if gerr != nil {
		invalid(gerr)
		return
	}
	out.Golden = g.Frame

	res, mask := compare.Classify(g.Frame, current, r.tolerance)
	res.CaseID = c.ID
	out.Result = res
	out.Mask = mask
	must(m.advance(stateFor(res.Status)))
}

// capture runs the provider on its own goroutine so a provider that ignores
// cancellation still cannot hold the case past its timeout.
func (r *Runner) capture(ctx context.Context, req capture.Request) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- fmt.Errorf("capture: provider panic: %v", p)
			}
		}()
		done <- r.provider.Capture(ctx, req)
	}()

	select {
	case err := <-done:
		if err != nil {
			return err
		}
		return capture.Check(req)
	case <-ctx.Done():
		return fmt.Errorf("capture: %s: %w", req.CaseID, ctx.Err())
	}
}

func (r *Runner) decodeCapture(path string) (*frame.Frame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("runner: read capture: %w", err)
	}
	var opts []frame.Option
	if r.normalize {
		opts = append(opts, frame.WithNormalize())
	}
	f, err := frame.Decode(data, frame.Sniff(data), opts...)
	if err != nil {
		return nil, fmt.Errorf("capture %s: %w", filepath.Base(path), err)
	}
	return f, nil
}

// must panics on an illegal transition, which is a programming error in run.
func must(err error) {
	if err != nil {
		panic(err)
	}
}

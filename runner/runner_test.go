package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/hazyhaar/parity/capture"
	"github.com/hazyhaar/parity/compare"
	"github.com/hazyhaar/parity/fixture"
	"github.com/hazyhaar/parity/frame"
	"github.com/hazyhaar/parity/golden"
)

func TestRun_Pass(t *testing.T) {
	store := golden.New(t.TempDir())
	f := redGreen(t, 245)
	writeGolden(t, store, "about", f)

	out := New(writePPM(f), store, WithTolerance(5)).Run(context.Background(), testCase("about"), t.TempDir())
	if out.Result.Status != compare.StatusPass {
		t.Fatalf("status: %s (%s)", out.Result.Status, out.Result.Error)
	}
	wantTrace(t, out, StatePending, StateCapturing, StateCaptured, StateComparing, StatePass)
	if out.Result.CaseID != "about" || out.Result.TotalPixels != 2 {
		t.Errorf("result: %+v", out.Result)
	}
}

func TestRun_Diff(t *testing.T) {
	store := golden.New(t.TempDir())
	writeGolden(t, store, "about", redGreen(t, 255))

	out := New(writePPM(redGreen(t, 245)), store, WithTolerance(5)).Run(context.Background(), testCase("about"), t.TempDir())
	if out.Result.Status != compare.StatusDiff || out.Result.TrueDiffPixels != 1 || out.Result.DiffPercent != 50 {
		t.Fatalf("result: %+v", out.Result)
	}
	if out.Mask == nil || out.Golden == nil || out.Current == nil {
		t.Fatal("diff outcome must carry frames and mask")
	}
	if out.State().Terminal() {
		t.Error("diff must not be terminal before the packet")
	}
	if err := out.MarkPacketGenerated(); err != nil {
		t.Fatal(err)
	}
	if out.State() != StateFailurePacketGenerated {
		t.Errorf("state: %s", out.State())
	}
}

func TestRun_CaptureFailedLeavesGoldenUntouched(t *testing.T) {
	// WHAT: A failing provider yields CaptureFailed with its error and never
	// consults the golden store.
	dir := t.TempDir()
	store := golden.New(dir)
	boom := capture.ProviderFunc(func(context.Context, capture.Request) error {
		return errors.New("engine crashed: SIGSEGV")
	})
	out := New(boom, store).Run(context.Background(), testCase("shelf"), t.TempDir())
	if out.Result.Status != compare.StatusCaptureFailed || out.Result.Error == "" {
		t.Fatalf("result: %+v", out.Result)
	}
	wantTrace(t, out, StatePending, StateCapturing, StateCaptureFailed)
	if entries, _ := os.ReadDir(dir); len(entries) != 0 {
		t.Errorf("golden store touched: %v", entries)
	}
}

func TestRun_NoOutputIsCaptureFailed(t *testing.T) {
	silent := capture.ProviderFunc(func(context.Context, capture.Request) error { return nil })
	out := New(silent, golden.New(t.TempDir())).Run(context.Background(), testCase("about"), t.TempDir())
	if out.Result.Status != compare.StatusCaptureFailed {
		t.Fatalf("status: %s", out.Result.Status)
	}
}

func TestRun_NoGolden(t *testing.T) {
	out := New(writePPM(redGreen(t, 255)), golden.New(t.TempDir())).Run(context.Background(), testCase("new_tab"), t.TempDir())
	if out.Result.Status != compare.StatusNoGolden {
		t.Fatalf("status: %s", out.Result.Status)
	}
	if out.Result.Status.Failing() {
		t.Error("no_golden must not be failing")
	}
	wantTrace(t, out, StatePending, StateCapturing, StateCaptured, StateNoGolden)
}

func TestRun_InvalidCapture(t *testing.T) {
	store := golden.New(t.TempDir())
	writeGolden(t, store, "about", redGreen(t, 255))
	garbage := capture.ProviderFunc(func(_ context.Context, req capture.Request) error {
		return os.WriteFile(req.OutputPath, []byte("P6\n2 1\n255\nab"), 0o644)
	})
	out := New(garbage, store).Run(context.Background(), testCase("about"), t.TempDir())
	if out.Result.Status != compare.StatusInvalidImage || out.Result.Error == "" {
		t.Fatalf("result: %+v", out.Result)
	}
	wantTrace(t, out, StatePending, StateCapturing, StateCaptured, StateComparing, StateInvalidImage)
}

func TestRun_InvalidGolden(t *testing.T) {
	dir := t.TempDir()
	store := golden.New(dir)
	if err := os.MkdirAll(filepath.Join(dir, "about"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(store.Path("about"), []byte("not a png"), 0o644); err != nil {
		t.Fatal(err)
	}
	out := New(writePPM(redGreen(t, 255)), store).Run(context.Background(), testCase("about"), t.TempDir())
	if out.Result.Status != compare.StatusInvalidImage {
		t.Fatalf("status: %s", out.Result.Status)
	}
}

func TestRun_SizeMismatch(t *testing.T) {
	store := golden.New(t.TempDir())
	big, err := frame.New(4, 4)
	if err != nil {
		t.Fatal(err)
	}
	writeGolden(t, store, "about", big)
	out := New(writePPM(redGreen(t, 255)), store).Run(context.Background(), testCase("about"), t.TempDir())
	if out.Result.Status != compare.StatusSizeMismatch || out.Result.TotalPixels != 0 {
		t.Fatalf("result: %+v", out.Result)
	}
	wantTrace(t, out, StatePending, StateCapturing, StateCaptured, StateComparing, StateSizeMismatch)
}

func TestRun_TimeoutAbandonsStuckProvider(t *testing.T) {
	// WHAT: A provider that ignores cancellation is abandoned at the timeout
	// and the case is CaptureFailed; the provider goroutine exits once the
	// provider returns.
	// WHY: Cancellation granularity is the whole case; a hung capture must
	// not hold the run.
	defer goleak.VerifyNone(t)

	release := make(chan struct{})
	exited := make(chan struct{})
	stuck := capture.ProviderFunc(func(context.Context, capture.Request) error {
		defer close(exited)
		<-release
		return nil
	})

	start := time.Now()
	out := New(stuck, golden.New(t.TempDir()), WithTimeout(50*time.Millisecond)).
		Run(context.Background(), testCase("about"), t.TempDir())
	if out.Result.Status != compare.StatusCaptureFailed {
		t.Fatalf("status: %s", out.Result.Status)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("timeout not honoured")
	}
	close(release)
	<-exited
}

func TestRun_ProviderPanic(t *testing.T) {
	p := capture.ProviderFunc(func(context.Context, capture.Request) error { panic("driver bug") })
	out := New(p, golden.New(t.TempDir())).Run(context.Background(), testCase("about"), t.TempDir())
	if out.Result.Status != compare.StatusCaptureFailed {
		t.Fatalf("status: %s", out.Result.Status)
	}
}

func TestRun_OracleRequested(t *testing.T) {
	var got capture.Request
	inner := writePPM(redGreen(t, 255))
	p := capture.ProviderFunc(func(ctx context.Context, req capture.Request) error {
		got = req
		return inner.Capture(ctx, req)
	})
	c := testCase("about")
	New(p, golden.New(t.TempDir()), WithOracle(), WithTimeout(time.Second)).Run(context.Background(), c, t.TempDir())
	if got.OraclePath == "" || got.Width != c.Width || got.Height != c.Height || got.Budget != time.Second {
		t.Errorf("request: %+v", got)
	}
}

func TestState_Transitions(t *testing.T) {
	if !StateDiff.CanTransition(StateFailurePacketGenerated) {
		t.Error("diff -> packet must be allowed")
	}
	if StatePass.CanTransition(StateFailurePacketGenerated) {
		t.Error("pass -> packet must be refused")
	}
	if StateCaptured.CanTransition(StatePass) {
		t.Error("captured must go through comparing")
	}
	for _, s := range []State{StateCaptureFailed, StateNoGolden, StatePass, StateSizeMismatch, StateInvalidImage, StateFailurePacketGenerated} {
		if !s.Terminal() {
			t.Errorf("%s must be terminal", s)
		}
	}
	out := &Outcome{Trace: []State{StatePending, StateCapturing, StateCaptured, StateComparing, StatePass}}
	if err := out.MarkPacketGenerated(); err == nil {
		t.Error("packet on a passing case accepted")
	}
}

func testCase(id string) fixture.Case {
	return fixture.Case{ID: id, HTMLPath: "/fixtures/" + id + ".html", Width: 2, Height: 1}
}

// redGreen is the 2x1 frame [(red,0,0),(0,255,0)].
func redGreen(t *testing.T, red uint8) *frame.Frame {
	t.Helper()
	f, err := frame.FromPixels(2, 1, [][3]uint8{{red, 0, 0}, {0, 255, 0}})
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func writePPM(f *frame.Frame) capture.Provider {
	return capture.ProviderFunc(func(_ context.Context, req capture.Request) error {
		data, err := frame.EncodePPM(f)
		if err != nil {
			return err
		}
		return os.WriteFile(req.OutputPath, data, 0o644)
	})
}

func writeGolden(t *testing.T, s *golden.Store, id string, f *frame.Frame) {
	t.Helper()
	if _, err := s.Write(id, f); err != nil {
		t.Fatal(err)
	}
}

func wantTrace(t *testing.T, out *Outcome, want ...State) {
	t.Helper()
	if !slices.Equal(out.Trace, want) {
		t.Errorf("trace: got %v, want %v", out.Trace, want)
	}
}

package compare

import (
	"testing"

	"github.com/hazyhaar/parity/frame"
)

func TestCompare_Identity(t *testing.T) {
	// WHAT: A frame compared with itself never reports a diff.
	f := mustPixels(t, 3, 2, [][3]uint8{
		{0, 0, 0}, {255, 255, 255}, {12, 200, 7},
		{128, 128, 128}, {1, 2, 3}, {250, 0, 250},
	})
	for _, tol := range []uint8{0, 1, 5, 128, 255} {
		r := Compare(f, f.Clone(), tol)
		if r.Status != StatusPass || r.TrueDiffPixels != 0 || r.ToleratedDiffPixels != 0 {
			t.Errorf("tol=%d: got status=%s true=%d tolerated=%d", tol, r.Status, r.TrueDiffPixels, r.ToleratedDiffPixels)
		}
		if r.TotalPixels != 6 {
			t.Errorf("tol=%d: total: got %d, want 6", tol, r.TotalPixels)
		}
	}
}

func TestCompare_ThresholdBoundary(t *testing.T) {
	// WHAT: A delta equal to the tolerance is ignored, tolerance+1 counts.
	const tol = 5
	golden := uniform(t, 3, 3, 100)

	atTol := golden.Clone()
	atTol.Set(4, 100+tol, 100+tol, 100+tol)
	if r := Compare(golden, atTol, tol); r.Status != StatusPass || r.TrueDiffPixels+r.ToleratedDiffPixels != 0 {
		t.Fatalf("delta==tol: got status=%s true=%d tolerated=%d", r.Status, r.TrueDiffPixels, r.ToleratedDiffPixels)
	}

	over := golden.Clone()
	over.Set(4, 100, 100+tol+1, 100)
	r := Compare(golden, over, tol)
	if r.TrueDiffPixels+r.ToleratedDiffPixels != 1 {
		t.Fatalf("delta==tol+1: got %d differing pixels, want 1", r.TrueDiffPixels+r.ToleratedDiffPixels)
	}
	if r.Status != StatusDiff {
		t.Errorf("status: got %s, want diff (flat area is never anti-aliasing)", r.Status)
	}
}

func TestCompare_SizeMismatch(t *testing.T) {
	// WHAT: Different dimensions short-circuit before any pixel work.
	golden := uniform(t, 4, 4, 10)
	for _, current := range []*frame.Frame{uniform(t, 5, 4, 10), uniform(t, 4, 3, 10), uniform(t, 16, 1, 10)} {
		r, mask := Classify(golden, current, 5)
		if r.Status != StatusSizeMismatch {
			t.Errorf("%dx%d: status %s, want size_mismatch", current.Width, current.Height, r.Status)
		}
		if r.TotalPixels != 0 || r.TrueDiffPixels != 0 {
			t.Errorf("%dx%d: counters not zero: %+v", current.Width, current.Height, r)
		}
		if mask != nil {
			t.Error("mask produced for size mismatch")
		}
		if r.GoldenDimensions == nil || r.GoldenDimensions.Width != 4 || r.Dimensions.Width != current.Width {
			t.Errorf("both dimensions must be recorded: %+v", r)
		}
	}
}

func TestCompare_PercentFormula(t *testing.T) {
	golden := uniform(t, 10, 10, 50)
	current := golden.Clone()
	for _, i := range []int{0, 11, 22, 33, 44, 55, 99} {
		current.Set(i, 150, 50, 50)
	}
	r := Compare(golden, current, 5)
	if r.TrueDiffPixels != 7 {
		t.Fatalf("true diff: got %d, want 7", r.TrueDiffPixels)
	}
	if r.DiffPercent != 7.0 {
		t.Errorf("diff_percent: got %v, want 7.0", r.DiffPercent)
	}
}

func TestCompare_Scenarios(t *testing.T) {
	golden := mustPixels(t, 2, 1, [][3]uint8{{255, 0, 0}, {0, 255, 0}})

	t.Run("identical", func(t *testing.T) {
		current := mustPixels(t, 2, 1, [][3]uint8{{255, 0, 0}, {0, 255, 0}})
		r := Compare(golden, current, 5)
		if r.Status != StatusPass || r.TrueDiffPixels != 0 {
			t.Fatalf("got %+v", r)
		}
	})

	t.Run("red shifted by 10", func(t *testing.T) {
		current := mustPixels(t, 2, 1, [][3]uint8{{245, 0, 0}, {0, 255, 0}})
		r := Compare(golden, current, 5)
		if r.TrueDiffPixels != 1 {
			t.Fatalf("true diff: got %d, want 1", r.TrueDiffPixels)
		}
		if r.DiffPercent != 50.0 {
			t.Errorf("diff_percent: got %v, want 50", r.DiffPercent)
		}
		if r.Status != StatusDiff {
			t.Errorf("status: got %s, want diff", r.Status)
		}
	})
}

func TestClassify_AntiAliasedEdge(t *testing.T) {
	// WHAT: A small delta on a black/grey/white edge is tolerated, a large
	// delta on the same pixel is not.
	// WHY: Engines blend edge pixels differently; that is noise, not a regression.
	golden := edge(t)

	small := golden.Clone()
	small.Set(4, 138, 138, 138)
	r, mask := Classify(golden, small, 5)
	if r.ToleratedDiffPixels != 1 || r.TrueDiffPixels != 0 {
		t.Fatalf("small delta: tolerated=%d true=%d, want 1/0", r.ToleratedDiffPixels, r.TrueDiffPixels)
	}
	if r.Status != StatusPass {
		t.Errorf("tolerated diffs must not fail: status %s", r.Status)
	}
	if mask.Class[4] != Tolerated {
		t.Errorf("mask[4]: got %d, want Tolerated", mask.Class[4])
	}

	large := golden.Clone()
	large.Set(4, 148, 148, 148)
	r, mask = Classify(golden, large, 5)
	if r.TrueDiffPixels != 1 || mask.Class[4] != True {
		t.Fatalf("large delta: true=%d class=%d, want 1/True", r.TrueDiffPixels, mask.Class[4])
	}
}

func TestClassify_ZeroToleranceHasNoBand(t *testing.T) {
	golden := edge(t)
	current := golden.Clone()
	current.Set(4, 129, 128, 128)
	r := Compare(golden, current, 0)
	if r.TrueDiffPixels != 1 || r.ToleratedDiffPixels != 0 {
		t.Fatalf("tol=0: true=%d tolerated=%d, want 1/0", r.TrueDiffPixels, r.ToleratedDiffPixels)
	}
}

func TestClassify_CountsNeverExceedTotal(t *testing.T) {
	golden := edge(t)
	current := uniform(t, 3, 3, 200)
	r := Compare(golden, current, 40)
	if r.ToleratedDiffPixels+r.TrueDiffPixels > r.TotalPixels {
		t.Fatalf("tolerated+true=%d exceeds total=%d", r.ToleratedDiffPixels+r.TrueDiffPixels, r.TotalPixels)
	}
}

func TestStatus_Failing(t *testing.T) {
	failing := map[Status]bool{
		StatusPass:          false,
		StatusNoGolden:      false,
		StatusDiff:          true,
		StatusSizeMismatch:  true,
		StatusCaptureFailed: true,
		StatusInvalidImage:  true,
	}
	for st, want := range failing {
		if st.Failing() != want {
			t.Errorf("%s.Failing(): got %v, want %v", st, !want, want)
		}
	}
}

// edge is a 3x3 frame: black column, grey column, white column.
func edge(t *testing.T) *frame.Frame {
	t.Helper()
	k, g, w := [3]uint8{0, 0, 0}, [3]uint8{128, 128, 128}, [3]uint8{255, 255, 255}
	return mustPixels(t, 3, 3, [][3]uint8{k, g, w, k, g, w, k, g, w})
}

func uniform(t *testing.T, w, h int, v uint8) *frame.Frame {
	t.Helper()
	f, err := frame.New(w, h)
	if err != nil {
		t.Fatal(err)
	}
	for i := range f.Pix {
		f.Pix[i] = v
	}
	return f
}

func mustPixels(t *testing.T, w, h int, px [][3]uint8) *frame.Frame {
	t.Helper()
	f, err := frame.FromPixels(w, h, px)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

// CLAUDE:SUMMARY Run summary schema, gate policy and the deterministic case-id-ordered fold that scores a run.
package gate

import (
	"slices"
	"strings"
	"time"

	"github.com/hazyhaar/parity/compare"
	"github.com/hazyhaar/parity/history"
	"github.com/hazyhaar/parity/packet"
	"github.com/hazyhaar/parity/runner"
)

// Policy decides which results fail the gate.
type Policy struct {
	AATolerance uint8 `json:"aa_tolerance"`

	// MaxTrueDiffPercent lets a Diff case pass while its diff_percent stays
	// at or below it. 0 means any true diff fails.
	MaxTrueDiffPercent float64 `json:"max_true_diff_percent"`

	// MinScore fails the run when the score is lower. 0 disables.
	MinScore float64 `json:"min_score,omitempty"`

	// RegressionThreshold fails the run when a case's diff_percent rose by
	// more than this many points since the previous recorded run. 0 disables.
	RegressionThreshold float64 `json:"regression_threshold,omitempty"`
}

// Fails reports whether r fails the gate. caseMax, when set, overrides
// MaxTrueDiffPercent for this case.
func (p Policy) Fails(r compare.Result, caseMax *float64) bool {
	if !r.Status.Failing() {
		return false
	}
	if r.Status != compare.StatusDiff {
		return true
	}
	allowance := p.MaxTrueDiffPercent
	if caseMax != nil {
		allowance = *caseMax
	}
	return r.DiffPercent > allowance
}

// Totals counts cases by gate outcome. NoGolden cases are neither passed
// nor failed.
type Totals struct {
	Failed   int `json:"failed"`
	NoGolden int `json:"no_golden"`
	Passed   int `json:"passed"`
	Total    int `json:"total"`
}

// Summary is the persisted record of one run. Only the tagged fields are
// written to summary.json; their declaration order is the sorted key order.
type Summary struct {
	Cases     []compare.Result `json:"cases"`
	Policy    Policy           `json:"policy"`
	Score     float64          `json:"score"`
	Timestamp string           `json:"timestamp"`
	Totals    Totals           `json:"totals"`

	RunID       string                    `json:"-"`
	Dir         string                    `json:"-"`
	Passed      bool                      `json:"-"`
	Reasons     []string                  `json:"-"`
	Failing     []string                  `json:"-"`
	Regressions []history.Regression      `json:"-"`
	Packets     map[string]*packet.Packet `json:"-"`
}

// Summarize folds outcomes in case-id order, whatever order they finished
// in. The score is 1 - sum(true_diff_pixels)/sum(total_pixels) over the
// compared cases, or 1 when nothing was compared.
func Summarize(policy Policy, at time.Time, outcomes []*runner.Outcome) *Summary {
	sorted := slices.Clone(outcomes)
	slices.SortFunc(sorted, func(a, b *runner.Outcome) int {
		return strings.Compare(a.Case.ID, b.Case.ID)
	})

	s := &Summary{
		Cases:     make([]compare.Result, 0, len(sorted)),
		Policy:    policy,
		Timestamp: at.UTC().Format(time.RFC3339),
	}
	var diffPixels, totalPixels uint64
	for _, o := range sorted {
		r := o.Result
		s.Cases = append(s.Cases, r)
		s.Totals.Total++
		switch {
		case r.Status == compare.StatusNoGolden:
			s.Totals.NoGolden++
		case policy.Fails(r, o.Case.MaxDiffPercent):
			s.Totals.Failed++
			s.Failing = append(s.Failing, r.CaseID)
		default:
			s.Totals.Passed++
		}
		if r.Compared() {
			diffPixels += r.TrueDiffPixels
			totalPixels += r.TotalPixels
		}
	}
	s.Score = Score(diffPixels, totalPixels)
	return s
}

// Score is 1 - diff/total, or 1 when total is 0.
func Score(diff, total uint64) float64 {
	if total == 0 {
		return 1
	}
	return 1 - float64(diff)/float64(total)
}

// decide sets Passed and Reasons from the fold, the score floor and any
// regressions.
func (s *Summary) decide() {
	s.Reasons = s.Reasons[:0]
	if s.Totals.Failed > 0 {
		s.Reasons = append(s.Reasons, "failing cases: "+strings.Join(s.Failing, ", "))
	}
	if s.Policy.MinScore > 0 && s.Score < s.Policy.MinScore {
		s.Reasons = append(s.Reasons, "score below minimum")
	}
	if len(s.Regressions) > 0 {
		ids := make([]string, len(s.Regressions))
		for i, r := range s.Regressions {
			ids[i] = r.CaseID
		}
		s.Reasons = append(s.Reasons, "regressed since previous run: "+strings.Join(ids, ", "))
	}
	s.Passed = len(s.Reasons) == 0
}

// Worst returns up to n compared cases with the largest diff_percent,
// ties broken by case id.
func (s *Summary) Worst(n int) []compare.Result {
	var out []compare.Result
	for _, r := range s.Cases {
		if r.Compared() && r.TrueDiffPixels > 0 {
			out = append(out, r)
		}
	}
	slices.SortStableFunc(out, func(a, b compare.Result) int {
		switch {
		case a.DiffPercent > b.DiffPercent:
			return -1
		case a.DiffPercent < b.DiffPercent:
			return 1
		}
		return strings.Compare(a.CaseID, b.CaseID)
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

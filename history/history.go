// CLAUDE:SUMMARY Run history in SQLite: record gate runs, fetch the previous run, detect per-case regressions.
// Package history keeps past gate runs so a run can be judged against the
// one before it.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/hazyhaar/parity/compare"
)

// ErrNoRun is returned by Previous when no earlier run is recorded.
var ErrNoRun = errors.New("history: no previous run")

// Run is one recorded gate invocation.
type Run struct {
	ID        string
	StartedAt time.Time
	Score     float64
	Passed    bool
	Total     int
	Failed    int
	NoGolden  int
	Tolerance int
	Cases     []compare.Result
}

// Store is the history database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the history database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Record stores run and its case results in one transaction.
func (s *Store) Record(ctx context.Context, run Run) error {
	err := runTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO runs
			(run_id, started_at, score, passed, total, failed, no_golden, aa_tolerance)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, run.StartedAt.UnixMilli(), run.Score, boolInt(run.Passed),
			run.Total, run.Failed, run.NoGolden, run.Tolerance)
		if err != nil {
			return fmt.Errorf("history: insert run: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO case_results
			(run_id, case_id, status, diff_percent, true_diff_pixels, total_pixels, error)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("history: prepare: %w", err)
		}
		defer stmt.Close()
		for _, c := range run.Cases {
			if _, err := stmt.ExecContext(ctx, run.ID, c.CaseID, string(c.Status),
				c.DiffPercent, int64(c.TrueDiffPixels), int64(c.TotalPixels), c.Error); err != nil {
				return fmt.Errorf("history: insert case %s: %w", c.CaseID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if s.logger != nil {
		s.logger.Debug("history: run recorded", "run_id", run.ID, "cases", len(run.Cases))
	}
	return nil
}

// Previous returns the most recent run other than excludeID, with its cases.
func (s *Store) Previous(ctx context.Context, excludeID string) (*Run, error) {
	var (
		run    Run
		ms     int64
		passed int
	)
	err := s.db.QueryRowContext(ctx, `SELECT run_id, started_at, score, passed, total, failed, no_golden, aa_tolerance
		FROM runs WHERE run_id != ? ORDER BY started_at DESC, run_id DESC LIMIT 1`, excludeID).
		Scan(&run.ID, &ms, &run.Score, &passed, &run.Total, &run.Failed, &run.NoGolden, &run.Tolerance)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRun
	}
	if err != nil {
		return nil, fmt.Errorf("history: previous run: %w", err)
	}
	run.StartedAt = time.UnixMilli(ms).UTC()
	run.Passed = passed != 0

	rows, err := s.db.QueryContext(ctx, `SELECT case_id, status, diff_percent, true_diff_pixels, total_pixels, error
		FROM case_results WHERE run_id = ? ORDER BY case_id`, run.ID)
	if err != nil {
		return nil, fmt.Errorf("history: case results: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			r             compare.Result
			status        string
			trueDiff, tot int64
		)
		if err := rows.Scan(&r.CaseID, &status, &r.DiffPercent, &trueDiff, &tot, &r.Error); err != nil {
			return nil, fmt.Errorf("history: scan case: %w", err)
		}
		r.Status = compare.Status(status)
		r.TrueDiffPixels, r.TotalPixels = uint64(trueDiff), uint64(tot)
		run.Cases = append(run.Cases, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: case rows: %w", err)
	}
	return &run, nil
}

// Regression is a case whose diff percentage rose beyond the threshold.
type Regression struct {
	CaseID   string  `json:"case_id"`
	Current  float64 `json:"current_diff_percent"`
	Delta    float64 `json:"delta"`
	Previous float64 `json:"previous_diff_percent"`
}

// Regressions compares current against previous case by case. A case
// counts only if the previous run compared it; a current case that failed
// before comparing counts as 100%. NoGolden cases are skipped. The result
// is sorted by case id.
func Regressions(previous, current []compare.Result, threshold float64) []Regression {
	prev := make(map[string]float64, len(previous))
	for _, r := range previous {
		if r.Compared() {
			prev[r.CaseID] = r.DiffPercent
		}
	}
	out := []Regression{}
	for _, r := range current {
		p, ok := prev[r.CaseID]
		if !ok {
			continue
		}
		var cur float64
		switch {
		case r.Compared():
			cur = r.DiffPercent
		case r.Status.Failing():
			cur = 100
		default:
			continue
		}
		if d := cur - p; d > threshold {
			out = append(out, Regression{CaseID: r.CaseID, Current: cur, Delta: d, Previous: p})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CaseID < out[j].CaseID })
	return out
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// CLAUDE:SUMMARY Per-case comparison record: status taxonomy, pixel counters and the stable JSON schema.
package compare

// Status is the terminal classification of one case.
type Status string

const (
	StatusPass          Status = "pass"
	StatusDiff          Status = "diff"
	StatusSizeMismatch  Status = "size_mismatch"
	StatusNoGolden      Status = "no_golden"
	StatusCaptureFailed Status = "capture_failed"
	StatusInvalidImage  Status = "invalid_image"
)

// Failing reports whether the status fails the gate on its own.
// NoGolden is informational: the baseline has not been established yet.
func (s Status) Failing() bool {
	switch s {
	case StatusDiff, StatusCaptureFailed, StatusSizeMismatch, StatusInvalidImage:
		return true
	}
	return false
}

// Dimensions is a width/height pair.
type Dimensions struct {
	Height int `json:"height"`
	Width  int `json:"width"`
}

// Result is the per-case comparison record. Fields are declared in JSON key
// order so encoded reports have sorted keys.
type Result struct {
	CaseID              string      `json:"case_id"`
	DiffPercent         float64     `json:"diff_percent"`
	Dimensions          Dimensions  `json:"dimensions"`
	Error               string      `json:"error,omitempty"`
	GoldenDimensions    *Dimensions `json:"golden_dimensions,omitempty"`
	Status              Status      `json:"status"`
	ToleratedDiffPixels uint64      `json:"tolerated_diff_pixels"`
	TotalPixels         uint64      `json:"total_pixels"`
	TrueDiffPixels      uint64      `json:"true_diff_pixels"`
}

// Compared reports whether a per-pixel scan produced the counters.
func (r Result) Compared() bool {
	return r.Status == StatusPass || r.Status == StatusDiff
}

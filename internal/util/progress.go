package util

import "fmt"

// Progress is the per-run counter reported to the service layer after every
// batch.
type Progress struct {
	Processed int `json:"processed_count"`
	Total     int `json:"total_count"`
}

// Percentage returns the completed share in whole percent. An empty run is
// complete.
func (p Progress) Percentage() int32 {
	if p.Total <= 0 {
		return 100
	}
	processed := min(max(p.Processed, 0), p.Total)
	return int32(processed * 100 / p.Total)
}

// Done reports whether every item has been processed.
func (p Progress) Done() bool {
	return p.Processed >= p.Total
}

func (p Progress) String() string {
	return fmt.Sprintf("%d/%d", p.Processed, p.Total)
}

// ProgressFunc receives progress updates. It is never called concurrently for
// the same run.
type ProgressFunc func(Progress)

package pipeline

import "time"

// Summary counts the outcome of one batch.
type Summary struct {
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
	Targets         int       `json:"targets"`
	TargetsOK       int       `json:"targets_ok"`
	TargetsFailed   int       `json:"targets_failed"`
	TargetsSkipped  int       `json:"targets_skipped"`
	ItemsOK         int       `json:"items_ok"`
	ItemsFailed     int       `json:"items_failed"`
	ItemsSkipped    int       `json:"items_skipped"`
	ProductsStored  int       `json:"products_stored"`
	ProductsFailed  int       `json:"products_failed"`
	SnapshotsOK     int       `json:"snapshots_ok"`
	SnapshotsFailed int       `json:"snapshots_failed"`
	Interrupted     bool      `json:"interrupted"`
}

// Duration is the wall time of the batch.
func (s Summary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

func (s Summary) fields() map[string]interface{} {
	return map[string]interface{}{
		"targets":          s.Targets,
		"targets_ok":       s.TargetsOK,
		"targets_failed":   s.TargetsFailed,
		"targets_skipped":  s.TargetsSkipped,
		"items_ok":         s.ItemsOK,
		"items_failed":     s.ItemsFailed,
		"items_skipped":    s.ItemsSkipped,
		"products_stored":  s.ProductsStored,
		"products_failed":  s.ProductsFailed,
		"snapshots_ok":     s.SnapshotsOK,
		"snapshots_failed": s.SnapshotsFailed,
		"interrupted":      s.Interrupted,
		"duration":         s.Duration().String(),
	}
}

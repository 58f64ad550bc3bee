package types

// WatchPlan is the behavior decision for a single stimulus item.
type WatchPlan struct {
	ItemIndex             int     `json:"item_index"`
	WillWatch             bool    `json:"will_watch"`
	IsHalfWatch           bool    `json:"is_half_watch"`
	TargetDurationSeconds float64 `json:"target_duration_seconds"`
}

// Action returns a short label for the plan: "skip", "half" or "full".
func (p WatchPlan) Action() string {
	switch {
	case !p.WillWatch:
		return "skip"
	case p.IsHalfWatch:
		return "half"
	default:
		return "full"
	}
}

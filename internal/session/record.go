package session

// Record is a completed monitoring interval. Immutable once built;
// persisted exactly once. ID stays empty until first persistence assigns
// one.
type Record struct {
	ID         string `json:"id,omitempty"`
	OwnerID    string `json:"owner_id"`
	StartedAt  int64  `json:"started_at_ms"`
	EndedAt    int64  `json:"ended_at_ms"`
	DurationMS int64  `json:"duration_ms"`
	AlertCount int    `json:"alert_count"`
	BreakShown bool   `json:"break_shown"`
	GreenMM    int    `json:"green_mm"`
	RedMM      int    `json:"red_mm"`
}

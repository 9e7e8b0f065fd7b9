// Package protocol implements the line protocol spoken by the posture
// sensor firmware: the key-value status line, the command set, and the
// optional CRC/cipher envelope around both.
package protocol

// Default thresholds reported by the firmware until configured otherwise.
const (
	DefaultGreenMM = 80
	DefaultRedMM   = 120
)

// Reading is one decoded status snapshot from the device. Immutable once
// constructed.
type Reading struct {
	DistanceMM     int   `json:"distance_mm"`
	Seated         bool  `json:"seated"`
	BadPosture     bool  `json:"bad_posture"`
	SustainedAlert bool  `json:"sustained_alert"`
	GreenMM        int   `json:"green_mm"`
	RedMM          int   `json:"red_mm"`
	Paused         bool  `json:"paused"`
	CapturedAt     int64 `json:"captured_at_ms"`
}

// PostureState is the zone classification derived from a Reading.
type PostureState string

const (
	PostureCorrect PostureState = "CORRECT"
	PostureWarning PostureState = "WARNING"
	PostureBad     PostureState = "BAD"
	PostureAlert   PostureState = "ALERT"
)

// State classifies the Reading. Device-computed flags take precedence over
// the locally recomputed zone so the app never contradicts the firmware's
// LED state.
func (r Reading) State() PostureState {
	switch {
	case r.Paused:
		return PostureCorrect
	case r.SustainedAlert:
		return PostureAlert
	case r.BadPosture:
		return PostureBad
	case !r.Seated || r.DistanceMM == 0:
		return PostureCorrect
	case r.DistanceMM > r.GreenMM && r.DistanceMM <= r.RedMM:
		return PostureWarning
	default:
		return PostureCorrect
	}
}

// Good reports whether the state needs no attention.
func (s PostureState) Good() bool {
	return s == PostureCorrect || s == PostureWarning
}

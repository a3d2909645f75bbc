package anticheat

import "time"

type ViolationType string

const (
	FullscreenExit   ViolationType = "FULLSCREEN_EXIT"
	TabSwitch        ViolationType = "TAB_SWITCH"
	FocusLost        ViolationType = "FOCUS_LOST"
	KeyboardShortcut ViolationType = "KEYBOARD_SHORTCUT"
	DevToolsAttempt  ViolationType = "DEV_TOOLS_ATTEMPT"
)

// Violation is one recorded anti-cheat event. Records are append-only:
// once attached to a participant they are never mutated or removed.
type Violation struct {
	Type    ViolationType `json:"type"`
	Message string        `json:"message,omitempty"`
	At      time.Time     `json:"timestamp"`
	// BlurFor is how long focus was away. Only meaningful for FocusLost.
	BlurFor time.Duration `json:"-"`
}

func Known(t ViolationType) bool {
	switch t {
	case FullscreenExit, TabSwitch, FocusLost, KeyboardShortcut, DevToolsAttempt:
		return true
	}
	return false
}

// Policy decides which reported violations are worth recording.
// Escalation is informational-only: counts are exposed for moderation and
// scoring adjustments, nothing here force-completes a duel.
type Policy struct {
	// FocusGrace is the continuous-blur duration below which a FOCUS_LOST
	// report is treated as a non-event. Clients apply the same grace
	// period, but their self-reported severity is not trusted.
	FocusGrace time.Duration
}

func (p Policy) ShouldRecord(v Violation) bool {
	if !Known(v.Type) {
		return false
	}
	if v.Type == FocusLost && v.BlurFor < p.FocusGrace {
		return false
	}
	return true
}

// Tally counts recorded violations by type.
func Tally(vs []Violation) map[ViolationType]int {
	out := make(map[ViolationType]int, len(vs))
	for _, v := range vs {
		out[v.Type]++
	}
	return out
}

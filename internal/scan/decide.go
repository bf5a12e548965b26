package scan

import "time"

// ScanType is the final classification of a scan attempt.
type ScanType string

const (
	ScanTimeIn   ScanType = "time_in"
	ScanTimeOut  ScanType = "time_out"
	ScanRejected ScanType = "rejected"
)

// Decision reason codes. Accepted scans carry one of the window reasons;
// rejected scans carry a session or time reason.
const (
	ReasonWithinWindow      = "within_window"
	ReasonEarly             = "early"
	ReasonLate              = "late"
	ReasonSessionNotFound   = "session_not_found"
	ReasonSessionNotActive  = "session_not_active"
	ReasonSessionNotStarted = "session_not_started"
	ReasonSessionEnded      = "session_ended"
	ReasonInvalidTime       = "invalid_time"
)

// Policy controls how far outside a window a scan is still accepted.
type Policy struct {
	AllowEarly bool
	EarlyGrace time.Duration
	AllowLate  bool
	LateGrace  time.Duration
}

// DefaultPolicy allows 15 minutes early and 30 minutes late.
func DefaultPolicy() Policy {
	return Policy{
		AllowEarly: true,
		EarlyGrace: 15 * time.Minute,
		AllowLate:  true,
		LateGrace:  30 * time.Minute,
	}
}

// Decision is the outcome of the time-window state machine.
type Decision struct {
	Type     ScanType
	Reason   string
	Accepted bool
}

// Decide classifies a scan instant against the session and its resolved
// windows. Session-state checks run first and are terminal; then each window
// is tried in order (time-in before time-out) for membership, then early
// grace, then late grace. A non-empty requested type restricts the check to
// that window only.
//
// Grace comparisons floor the elapsed difference to whole minutes and use a
// strict bound, so with a 15 minute grace a scan 14m59s early is in (floors
// to 14) and one 15m01s early is out (floors to 15).
func Decide(sess *SessionContext, windows SessionWindows, now time.Time, policy Policy, requested ScanType) Decision {
	switch {
	case sess == nil:
		return Decision{Type: ScanRejected, Reason: ReasonSessionNotFound}
	case !sess.IsActive:
		return Decision{Type: ScanRejected, Reason: ReasonSessionNotActive}
	case now.Before(sess.StartTime):
		return Decision{Type: ScanRejected, Reason: ReasonSessionNotStarted}
	case now.After(sess.EndTime):
		return Decision{Type: ScanRejected, Reason: ReasonSessionEnded}
	}

	if requested != ScanTimeOut {
		if reason, ok := decideWindow(windows.TimeIn, now, policy); ok {
			return Decision{Type: ScanTimeIn, Reason: reason, Accepted: true}
		}
	}
	if requested != ScanTimeIn {
		if reason, ok := decideWindow(windows.TimeOut, now, policy); ok {
			return Decision{Type: ScanTimeOut, Reason: reason, Accepted: true}
		}
	}

	return Decision{Type: ScanRejected, Reason: ReasonInvalidTime}
}

func decideWindow(w *Window, now time.Time, policy Policy) (string, bool) {
	if w == nil {
		return "", false
	}
	if w.Active {
		return ReasonWithinWindow, true
	}
	if now.Before(w.Start) && policy.AllowEarly {
		if wholeMinutes(w.Start.Sub(now)) < wholeMinutes(policy.EarlyGrace) {
			return ReasonEarly, true
		}
	}
	if now.After(w.End) && policy.AllowLate {
		if wholeMinutes(now.Sub(w.End)) < wholeMinutes(policy.LateGrace) {
			return ReasonLate, true
		}
	}
	return "", false
}

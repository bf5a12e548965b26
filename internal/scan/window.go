package scan

import "time"

// WindowKind distinguishes the two configured scan windows of a session.
type WindowKind string

const (
	WindowTimeIn  WindowKind = "time_in"
	WindowTimeOut WindowKind = "time_out"
)

// WindowConfig is the stored start/end pair on a session. End must be after
// Start; sessions with no window of a given kind leave it nil.
type WindowConfig struct {
	Start time.Time
	End   time.Time
}

// SessionContext is the read-only session snapshot a scan is decided against.
// It is owned by the session store; the core never mutates it.
type SessionContext struct {
	ID        string
	EventID   string
	StartTime time.Time
	EndTime   time.Time
	IsActive  bool
	TimeIn    *WindowConfig
	TimeOut   *WindowConfig
}

// Window is a concrete window resolved for one instant.
type Window struct {
	Start  time.Time
	End    time.Time
	Kind   WindowKind
	Active bool
}

// SessionWindows holds the resolved windows of a session. Either side is nil
// when the session has no such window configured.
type SessionWindows struct {
	TimeIn  *Window
	TimeOut *Window
}

// ResolveWindows builds concrete windows from the session configuration.
// A window is Active iff now falls within [Start, End], both bounds
// inclusive. Pure function of its inputs; safe to call repeatedly.
func ResolveWindows(sess *SessionContext, now time.Time) SessionWindows {
	if sess == nil {
		return SessionWindows{}
	}
	var out SessionWindows
	if sess.TimeIn != nil {
		out.TimeIn = &Window{
			Start:  sess.TimeIn.Start,
			End:    sess.TimeIn.End,
			Kind:   WindowTimeIn,
			Active: withinInclusive(now, sess.TimeIn.Start, sess.TimeIn.End),
		}
	}
	if sess.TimeOut != nil {
		out.TimeOut = &Window{
			Start:  sess.TimeOut.Start,
			End:    sess.TimeOut.End,
			Kind:   WindowTimeOut,
			Active: withinInclusive(now, sess.TimeOut.Start, sess.TimeOut.End),
		}
	}
	return out
}

func withinInclusive(now, start, end time.Time) bool {
	return !now.Before(start) && !now.After(end)
}

// wholeMinutes floors an elapsed duration to whole minutes via its
// millisecond count. Rounding down keeps grace and duplicate comparisons from
// widening a window: 14m59s counts as 14 minutes, never 15.
func wholeMinutes(d time.Duration) int64 {
	return d.Milliseconds() / 60_000
}

package scan

import (
	"context"
	"log/slog"
	"time"
)

// Record is one previously persisted scan. The guard treats history as an
// ordered-by-time, read-only snapshot.
type Record struct {
	ID        string    `json:"id"`
	StudentID string    `json:"student_id"`
	SessionID string    `json:"session_id"`
	EventID   string    `json:"event_id"`
	Type      ScanType  `json:"scan_type"`
	Timestamp time.Time `json:"timestamp"`
}

// HistoryStore supplies a student's prior scans. Implementations return
// records ordered oldest first.
type HistoryStore interface {
	ListByStudentSession(ctx context.Context, studentID, sessionID string) ([]Record, error)
	ListByStudentEvent(ctx context.Context, studentID, eventID string) ([]Record, error)
}

// DedupeConfig tunes the duplicate/sequence rules.
type DedupeConfig struct {
	MinTimeBetweenScans  time.Duration
	AllowMultipleTimeIn  bool
	AllowMultipleTimeOut bool
	MaxScansPerSession   int
	DuplicateWindow      time.Duration
}

// DefaultDedupeConfig returns the standard rules: at most two scans per
// session, one minute between scans of the same type, repeats disallowed,
// and a five minute duplicate window across types.
func DefaultDedupeConfig() DedupeConfig {
	return DedupeConfig{
		MinTimeBetweenScans: time.Minute,
		MaxScansPerSession:  2,
		DuplicateWindow:     5 * time.Minute,
	}
}

// Duplicate-check reason codes, in evaluation order.
const (
	DupMaxScansReached      = "max_scans_reached"
	DupTooSoon              = "too_soon"
	DupMultipleTimeIn       = "multiple_time_in_not_allowed"
	DupMultipleTimeOut      = "multiple_time_out_not_allowed"
	DupWithinWindow         = "within_duplicate_window"
	DupTimeOutWithoutTimeIn = "time_out_without_time_in"
	DupNone                 = "no_duplicate"
)

// CheckResult is the derived outcome of one duplicate check. LastScan is the
// prior record that triggered a rejection, when there is one.
type CheckResult struct {
	Duplicate        bool    `json:"is_duplicate"`
	Reason           string  `json:"reason"`
	LastScan         *Record `json:"last_scan,omitempty"`
	TotalScans       int     `json:"total_scans"`
	MinutesSinceLast int64   `json:"minutes_since_last_scan"`
	Err              error   `json:"-"`
}

// Guard evaluates a student's scan history against the duplicate and
// sequence rules. When the history lookup itself fails the guard fails open:
// it reports no duplicate, logs the fault, and carries the error in the
// result so the caller can surface it. The backing store's uniqueness
// constraint, not this guard, is the real protection against double records.
type Guard struct {
	store  HistoryStore
	cfg    DedupeConfig
	logger *slog.Logger
}

// NewGuard builds a guard. Zero config fields fall back to the defaults.
func NewGuard(store HistoryStore, cfg DedupeConfig, logger *slog.Logger) *Guard {
	def := DefaultDedupeConfig()
	if cfg.MinTimeBetweenScans <= 0 {
		cfg.MinTimeBetweenScans = def.MinTimeBetweenScans
	}
	if cfg.MaxScansPerSession <= 0 {
		cfg.MaxScansPerSession = def.MaxScansPerSession
	}
	if cfg.DuplicateWindow <= 0 {
		cfg.DuplicateWindow = def.DuplicateWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{store: store, cfg: cfg, logger: logger}
}

// Check runs the session-scoped rules for one scan attempt.
func (g *Guard) Check(ctx context.Context, studentID, sessionID string, scanType ScanType, now time.Time) CheckResult {
	history, err := g.store.ListByStudentSession(ctx, studentID, sessionID)
	if err != nil {
		g.logger.Error("duplicate check lookup failed, allowing scan",
			"student_id", studentID, "session_id", sessionID, "error", err)
		return CheckResult{Reason: DupNone, MinutesSinceLast: -1, Err: err}
	}
	return EvaluateSession(scanType, history, now, g.cfg)
}

// CheckEvent runs the cross-session duplicate-window rule over every scan
// the student made for the event, catching rapid re-scans across sibling
// sessions.
func (g *Guard) CheckEvent(ctx context.Context, studentID, eventID string, now time.Time) CheckResult {
	history, err := g.store.ListByStudentEvent(ctx, studentID, eventID)
	if err != nil {
		g.logger.Error("event duplicate check lookup failed, allowing scan",
			"student_id", studentID, "event_id", eventID, "error", err)
		return CheckResult{Reason: DupNone, MinutesSinceLast: -1, Err: err}
	}
	return EvaluateEvent(history, now, g.cfg)
}

// EvaluateSession applies the session-scoped rules to an already loaded
// history. First matching rule wins. Pure; exported for direct use in tests
// and callers that batch their own reads.
func EvaluateSession(scanType ScanType, history []Record, now time.Time, cfg DedupeConfig) CheckResult {
	res := CheckResult{Reason: DupNone, TotalScans: len(history), MinutesSinceLast: -1}

	last := latest(history)
	if last != nil {
		res.MinutesSinceLast = wholeMinutes(now.Sub(last.Timestamp))
	}

	if len(history) >= cfg.MaxScansPerSession {
		res.Duplicate = true
		res.Reason = DupMaxScansReached
		res.LastScan = last
		return res
	}

	lastSame := latestOfType(history, scanType)
	if lastSame != nil && wholeMinutes(now.Sub(lastSame.Timestamp)) < wholeMinutes(cfg.MinTimeBetweenScans) {
		res.Duplicate = true
		res.Reason = DupTooSoon
		res.LastScan = lastSame
		return res
	}

	if lastSame != nil && !repeatAllowed(scanType, cfg) {
		res.Duplicate = true
		if scanType == ScanTimeOut {
			res.Reason = DupMultipleTimeOut
		} else {
			res.Reason = DupMultipleTimeIn
		}
		res.LastScan = lastSame
		return res
	}

	if last != nil && wholeMinutes(now.Sub(last.Timestamp)) < wholeMinutes(cfg.DuplicateWindow) {
		res.Duplicate = true
		res.Reason = DupWithinWindow
		res.LastScan = last
		return res
	}

	if scanType == ScanTimeOut && latestOfType(history, ScanTimeIn) == nil {
		res.Duplicate = true
		res.Reason = DupTimeOutWithoutTimeIn
		return res
	}

	return res
}

// EvaluateEvent applies only the duplicate-window rule, scoped to all
// sessions of an event.
func EvaluateEvent(history []Record, now time.Time, cfg DedupeConfig) CheckResult {
	res := CheckResult{Reason: DupNone, TotalScans: len(history), MinutesSinceLast: -1}

	last := latest(history)
	if last == nil {
		return res
	}
	res.MinutesSinceLast = wholeMinutes(now.Sub(last.Timestamp))
	if res.MinutesSinceLast < wholeMinutes(cfg.DuplicateWindow) {
		res.Duplicate = true
		res.Reason = DupWithinWindow
		res.LastScan = last
	}
	return res
}

func repeatAllowed(scanType ScanType, cfg DedupeConfig) bool {
	if scanType == ScanTimeOut {
		return cfg.AllowMultipleTimeOut
	}
	return cfg.AllowMultipleTimeIn
}

func latest(history []Record) *Record {
	var out *Record
	for i := range history {
		if out == nil || history[i].Timestamp.After(out.Timestamp) {
			out = &history[i]
		}
	}
	return out
}

func latestOfType(history []Record, scanType ScanType) *Record {
	var out *Record
	for i := range history {
		if history[i].Type != scanType {
			continue
		}
		if out == nil || history[i].Timestamp.After(out.Timestamp) {
			out = &history[i]
		}
	}
	return out
}

package scan

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Orchestrator-level rejection reasons. Everything else comes from the
// decider or the duplicate guard.
const (
	ReasonUnrecognizedPayload = "unrecognized_payload"
	ReasonStudentUnknown      = "student_not_identified"
)

// ScanAttempt is the ephemeral input for one scan decision. Fields already
// known to the caller (from the UI or the request) may be overridden by what
// the QR payload itself carries.
type ScanAttempt struct {
	StudentID     string
	SessionID     string
	EventID       string
	RequestedType ScanType // empty means infer from the active window
	OrganizerID   string
}

// ScanResult is the single outcome of one scan attempt. Success is true only
// when both the time-window decision and the duplicate guard accept.
type ScanResult struct {
	Success   bool           `json:"success"`
	Type      ScanType       `json:"scan_type"`
	Reason    string         `json:"reason"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   Payload        `json:"payload"`
	Duplicate *CheckResult   `json:"duplicate_check,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Recorder receives scan outcome metrics. Informational only; never part of
// the decision.
type Recorder interface {
	RecordScan(outcome string)
	RecordRejection(reason string)
	RecordFailOpen()
	RecordDuration(d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordScan(string)            {}
func (nopRecorder) RecordRejection(string)       {}
func (nopRecorder) RecordFailOpen()              {}
func (nopRecorder) RecordDuration(time.Duration) {}

// Processor composes parser, window resolver, decider, and duplicate guard
// into one pipeline per scan attempt, short-circuiting on the first
// rejection. It holds no cross-call state; now is always supplied by the
// caller so decisions stay deterministic.
type Processor struct {
	parser *Parser
	guard  *Guard
	policy Policy
	rec    Recorder
	logger *slog.Logger
}

// NewProcessor wires a processor. A nil recorder disables metrics.
func NewProcessor(parser *Parser, guard *Guard, policy Policy, rec Recorder, logger *slog.Logger) *Processor {
	if parser == nil {
		parser = NewParser()
	}
	if rec == nil {
		rec = nopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{parser: parser, guard: guard, policy: policy, rec: rec, logger: logger}
}

// Parse classifies raw QR text without running the pipeline. Callers use it
// to discover which session a scan refers to before loading that session.
func (p *Processor) Parse(raw string) Payload {
	return p.parser.Parse(raw)
}

// Process runs the full decision pipeline for one scan attempt against a
// point-in-time snapshot: parse, resolve windows, decide the scan type, then
// run the duplicate guard (session scope, then event scope). The result is
// the only output; persisting an attendance record on success is the
// caller's job.
func (p *Processor) Process(ctx context.Context, raw string, sess *SessionContext, attempt ScanAttempt, now time.Time) ScanResult {
	start := time.Now()
	defer func() { p.rec.RecordDuration(time.Since(start)) }()

	stages := []string{"parse"}
	meta := map[string]any{}

	payload := p.parser.Parse(raw)
	switch payload.Kind {
	case KindSessionMarker:
		attempt.SessionID = payload.SessionID
		attempt.EventID = payload.EventID
	case KindStudentMarker:
		attempt.StudentID = payload.StudentID
	default:
		return p.reject(payload, ReasonUnrecognizedPayload,
			"scan did not contain a session or student code", now, stages, meta, nil)
	}

	if attempt.StudentID == "" {
		return p.reject(payload, ReasonStudentUnknown,
			"no student identified for this scan", now, stages, meta, nil)
	}

	windows := ResolveWindows(sess, now)
	stages = append(stages, "resolve_windows")

	decision := Decide(sess, windows, now, p.policy, attempt.RequestedType)
	stages = append(stages, "decide")
	if !decision.Accepted {
		return p.reject(payload, decision.Reason, rejectionMessage(decision.Reason), now, stages, meta, nil)
	}

	dup := p.guard.Check(ctx, attempt.StudentID, attempt.SessionID, decision.Type, now)
	stages = append(stages, "duplicate_check")
	meta["prior_scans"] = dup.TotalScans
	if dup.Err != nil {
		meta["dedupe_error"] = dup.Err.Error()
		p.rec.RecordFailOpen()
	}
	if dup.Duplicate {
		return p.reject(payload, dup.Reason, rejectionMessage(dup.Reason), now, stages, meta, &dup)
	}

	if attempt.EventID != "" {
		evDup := p.guard.CheckEvent(ctx, attempt.StudentID, attempt.EventID, now)
		stages = append(stages, "event_duplicate_check")
		if evDup.Err != nil {
			meta["event_dedupe_error"] = evDup.Err.Error()
			p.rec.RecordFailOpen()
		}
		if evDup.Duplicate {
			return p.reject(payload, evDup.Reason,
				"another scan for this event happened moments ago", now, stages, meta, &evDup)
		}
	}

	meta["stages"] = stages
	p.rec.RecordScan("accepted")
	return ScanResult{
		Success:   true,
		Type:      decision.Type,
		Reason:    decision.Reason,
		Message:   acceptanceMessage(decision),
		Timestamp: now,
		Payload:   payload,
		Duplicate: &dup,
		Metadata:  meta,
	}
}

func (p *Processor) reject(payload Payload, reason, message string, now time.Time, stages []string, meta map[string]any, dup *CheckResult) ScanResult {
	meta["stages"] = stages
	p.rec.RecordScan("rejected")
	p.rec.RecordRejection(reason)
	return ScanResult{
		Type:      ScanRejected,
		Reason:    reason,
		Message:   message,
		Timestamp: now,
		Payload:   payload,
		Duplicate: dup,
		Metadata:  meta,
	}
}

func acceptanceMessage(d Decision) string {
	verb := "Time-in"
	if d.Type == ScanTimeOut {
		verb = "Time-out"
	}
	switch d.Reason {
	case ReasonEarly:
		return fmt.Sprintf("%s recorded (early)", verb)
	case ReasonLate:
		return fmt.Sprintf("%s recorded (late)", verb)
	default:
		return fmt.Sprintf("%s recorded", verb)
	}
}

func rejectionMessage(reason string) string {
	switch reason {
	case ReasonSessionNotFound:
		return "session not found, check the QR code"
	case ReasonSessionNotActive:
		return "this session is not accepting scans"
	case ReasonSessionNotStarted:
		return "the session has not started yet"
	case ReasonSessionEnded:
		return "the session has already ended"
	case ReasonInvalidTime:
		return "outside every scan window, contact an organizer"
	case DupMaxScansReached:
		return "maximum scans for this session reached"
	case DupTooSoon:
		return "scanned again too quickly, wait a moment"
	case DupMultipleTimeIn:
		return "time-in already recorded for this session"
	case DupMultipleTimeOut:
		return "time-out already recorded for this session"
	case DupWithinWindow:
		return "a recent scan already exists, wait a few minutes"
	case DupTimeOutWithoutTimeIn:
		return "time-out requires a prior time-in"
	default:
		return "scan rejected"
	}
}

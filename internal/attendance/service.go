package attendance

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"qrattend/internal/queue"
	"qrattend/internal/scan"
)

// Store is the persistence surface the service needs. *Repository satisfies
// it; tests substitute a mock.
type Store interface {
	GetSession(ctx context.Context, id string) (*Session, error)
	InsertRecord(ctx context.Context, rec Record) (Record, error)
	ListByStudentSession(ctx context.Context, studentID, sessionID string) ([]scan.Record, error)
	ListByStudentEvent(ctx context.Context, studentID, eventID string) ([]scan.Record, error)
}

// ScanRequest is one scan submission from an organizer device.
type ScanRequest struct {
	QRText        string
	StudentID     string
	SessionID     string
	EventID       string
	RequestedType scan.ScanType
	OrganizerID   string
}

// Service runs the scan pipeline against stored sessions and persists
// accepted scans.
type Service struct {
	store     Store
	processor *scan.Processor
	queue     queue.Queue
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a service. The clock defaults to time.Now and is only
// overridden in tests; the scan core itself always receives now explicitly.
func NewService(store Store, processor *scan.Processor, q queue.Queue, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, processor: processor, queue: q, logger: logger, now: time.Now}
}

// ProcessScan decides one scan attempt and, when accepted, persists the
// attendance record and queues it for post-processing. The returned result
// is the decision; the error covers infrastructure faults only.
func (s *Service) ProcessScan(ctx context.Context, req ScanRequest) (scan.ScanResult, error) {
	now := s.now().UTC()

	// A session-marker QR overrides the request's session hint, so parse
	// first to know which session to load.
	sessionID := req.SessionID
	payload := s.processor.Parse(req.QRText)
	if payload.Kind == scan.KindSessionMarker {
		sessionID = payload.SessionID
	}

	var sessCtx *scan.SessionContext
	if sessionID != "" {
		stored, err := s.store.GetSession(ctx, sessionID)
		if err != nil {
			return scan.ScanResult{}, err
		}
		if stored != nil {
			sessCtx = stored.Context()
		}
	}

	attempt := scan.ScanAttempt{
		StudentID:     req.StudentID,
		SessionID:     sessionID,
		EventID:       req.EventID,
		RequestedType: req.RequestedType,
		OrganizerID:   req.OrganizerID,
	}
	if sessCtx != nil {
		attempt.EventID = sessCtx.EventID
	}

	result := s.processor.Process(ctx, req.QRText, sessCtx, attempt, now)
	if !result.Success {
		return result, nil
	}

	rec, err := s.store.InsertRecord(ctx, Record{
		StudentID:   studentFor(result, req),
		SessionID:   sessionID,
		EventID:     attempt.EventID,
		Type:        result.Type,
		ScannedAt:   now,
		OrganizerID: req.OrganizerID,
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateRecord) {
			// The unique constraint caught a race the guard's snapshot
			// missed. Report it as an ordinary duplicate rejection.
			result.Success = false
			result.Type = scan.ScanRejected
			result.Reason = "already_recorded"
			result.Message = "this scan was already recorded"
			return result, nil
		}
		return scan.ScanResult{}, err
	}
	result.Metadata["record_id"] = rec.ID

	if s.queue != nil {
		if err := s.queue.Publish(ctx, queue.Message{Type: "scan", Body: []byte(rec.ID)}); err != nil {
			s.logger.Warn("scan queue publish failed", "record_id", rec.ID, "error", err)
		}
	}

	return result, nil
}

func studentFor(result scan.ScanResult, req ScanRequest) string {
	if result.Payload.Kind == scan.KindStudentMarker {
		return result.Payload.StudentID
	}
	return req.StudentID
}

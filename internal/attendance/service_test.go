package attendance

import (
	"context"
	"errors"
	"testing"
	"time"

	"qrattend/internal/queue"
	"qrattend/internal/scan"
)

// mockStore is an in-memory Store and scan.HistoryStore.
type mockStore struct {
	sessions    map[string]*Session
	records     []Record
	insertCalls int
	insertErr   error
	historyErr  error
}

func newMockStore() *mockStore {
	return &mockStore{sessions: map[string]*Session{}}
}

func (m *mockStore) GetSession(_ context.Context, id string) (*Session, error) {
	return m.sessions[id], nil
}

func (m *mockStore) InsertRecord(_ context.Context, rec Record) (Record, error) {
	m.insertCalls++
	if m.insertErr != nil {
		return Record{}, m.insertErr
	}
	if rec.ID == "" {
		rec.ID = "rec-1"
	}
	m.records = append(m.records, rec)
	return rec, nil
}

func (m *mockStore) ListByStudentSession(_ context.Context, studentID, sessionID string) ([]scan.Record, error) {
	if m.historyErr != nil {
		return nil, m.historyErr
	}
	var out []scan.Record
	for _, r := range m.records {
		if r.StudentID == studentID && r.SessionID == sessionID {
			out = append(out, scan.Record{
				ID: r.ID, StudentID: r.StudentID, SessionID: r.SessionID,
				EventID: r.EventID, Type: r.Type, Timestamp: r.ScannedAt,
			})
		}
	}
	return out, nil
}

func (m *mockStore) ListByStudentEvent(_ context.Context, studentID, eventID string) ([]scan.Record, error) {
	if m.historyErr != nil {
		return nil, m.historyErr
	}
	var out []scan.Record
	for _, r := range m.records {
		if r.StudentID == studentID && r.EventID == eventID {
			out = append(out, scan.Record{
				ID: r.ID, StudentID: r.StudentID, SessionID: r.SessionID,
				EventID: r.EventID, Type: r.Type, Timestamp: r.ScannedAt,
			})
		}
	}
	return out, nil
}

var day = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

func clock(hour, min int) time.Time {
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(min)*time.Minute)
}

func storedSession() *Session {
	tiStart, tiEnd := clock(9, 0), clock(9, 30)
	toStart, toEnd := clock(11, 0), clock(11, 30)
	return &Session{
		ID:           "sess-1",
		EventID:      "evt-1",
		Name:         "Morning Assembly",
		StartTime:    clock(8, 0),
		EndTime:      clock(12, 0),
		IsActive:     true,
		TimeInStart:  &tiStart,
		TimeInEnd:    &tiEnd,
		TimeOutStart: &toStart,
		TimeOutEnd:   &toEnd,
	}
}

func newTestService(store *mockStore, q queue.Queue) *Service {
	guard := scan.NewGuard(store, scan.DefaultDedupeConfig(), nil)
	processor := scan.NewProcessor(scan.NewParser(), guard, scan.DefaultPolicy(), nil, nil)
	svc := NewService(store, processor, q, nil)
	svc.now = func() time.Time { return clock(9, 15) }
	return svc
}

func TestProcessScanPersistsAcceptedScan(t *testing.T) {
	store := newMockStore()
	store.sessions["sess-1"] = storedSession()
	q := queue.NewInMemory(4)
	svc := newTestService(store, q)

	res, err := svc.ProcessScan(context.Background(), ScanRequest{
		QRText:      "marker:session:sess-1:evt-1",
		StudentID:   "stu-1",
		OrganizerID: "org-1",
	})
	if err != nil {
		t.Fatalf("ProcessScan: %v", err)
	}
	if !res.Success || res.Type != scan.ScanTimeIn {
		t.Fatalf("got (%v, %s), want accepted time_in (reason %s)", res.Success, res.Type, res.Reason)
	}
	if store.insertCalls != 1 {
		t.Errorf("insert calls = %d, want 1", store.insertCalls)
	}
	rec := store.records[0]
	if rec.StudentID != "stu-1" || rec.SessionID != "sess-1" || rec.EventID != "evt-1" {
		t.Errorf("record = %+v, want ids from payload and request", rec)
	}
	if _, ok := res.Metadata["record_id"]; !ok {
		t.Error("result metadata missing record id")
	}

	// An accepted scan is queued for the worker.
	msgs, err := q.Consume(context.Background())
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	select {
	case msg := <-msgs:
		if msg.Type != "scan" || string(msg.Body) != rec.ID {
			t.Errorf("queued message = %+v, want scan/%s", msg, rec.ID)
		}
	case <-time.After(time.Second):
		t.Error("no message queued for accepted scan")
	}
}

func TestProcessScanRejectionDoesNotPersist(t *testing.T) {
	store := newMockStore()
	store.sessions["sess-1"] = storedSession()
	store.records = append(store.records, Record{
		ID: "r1", StudentID: "stu-1", SessionID: "sess-1", EventID: "evt-1",
		Type: scan.ScanTimeIn, ScannedAt: clock(9, 5),
	})
	svc := newTestService(store, nil)

	res, err := svc.ProcessScan(context.Background(), ScanRequest{
		QRText:    "marker:session:sess-1:evt-1",
		StudentID: "stu-1",
	})
	if err != nil {
		t.Fatalf("ProcessScan: %v", err)
	}
	if res.Success || res.Reason != scan.DupMultipleTimeIn {
		t.Errorf("got (%v, %s), want rejected %s", res.Success, res.Reason, scan.DupMultipleTimeIn)
	}
	if store.insertCalls != 0 {
		t.Errorf("insert calls = %d, want 0", store.insertCalls)
	}
}

func TestProcessScanUnknownSession(t *testing.T) {
	svc := newTestService(newMockStore(), nil)

	res, err := svc.ProcessScan(context.Background(), ScanRequest{
		QRText:    "marker:session:missing:evt-1",
		StudentID: "stu-1",
	})
	if err != nil {
		t.Fatalf("ProcessScan: %v", err)
	}
	if res.Success || res.Reason != scan.ReasonSessionNotFound {
		t.Errorf("got (%v, %s), want rejected %s", res.Success, res.Reason, scan.ReasonSessionNotFound)
	}
}

func TestProcessScanStudentMarkerUsesRequestSession(t *testing.T) {
	store := newMockStore()
	store.sessions["sess-1"] = storedSession()
	svc := newTestService(store, nil)

	res, err := svc.ProcessScan(context.Background(), ScanRequest{
		QRText:      "marker:student:stu-9",
		SessionID:   "sess-1",
		OrganizerID: "org-1",
	})
	if err != nil {
		t.Fatalf("ProcessScan: %v", err)
	}
	if !res.Success {
		t.Fatalf("success = false, reason %s", res.Reason)
	}
	if store.records[0].StudentID != "stu-9" {
		t.Errorf("record student = %s, want stu-9 from the payload", store.records[0].StudentID)
	}
}

func TestProcessScanUniqueViolationBecomesDuplicate(t *testing.T) {
	store := newMockStore()
	store.sessions["sess-1"] = storedSession()
	store.insertErr = ErrDuplicateRecord
	svc := newTestService(store, nil)

	res, err := svc.ProcessScan(context.Background(), ScanRequest{
		QRText:    "marker:session:sess-1:evt-1",
		StudentID: "stu-1",
	})
	if err != nil {
		t.Fatalf("ProcessScan: %v", err)
	}
	if res.Success || res.Reason != "already_recorded" {
		t.Errorf("got (%v, %s), want rejected already_recorded", res.Success, res.Reason)
	}
}

func TestProcessScanFailsOpenOnHistoryError(t *testing.T) {
	store := newMockStore()
	store.sessions["sess-1"] = storedSession()
	store.historyErr = errors.New("db gone")
	svc := newTestService(store, nil)

	res, err := svc.ProcessScan(context.Background(), ScanRequest{
		QRText:    "marker:session:sess-1:evt-1",
		StudentID: "stu-1",
	})
	if err != nil {
		t.Fatalf("ProcessScan: %v", err)
	}
	if !res.Success {
		t.Fatalf("success = false, want fail-open acceptance (reason %s)", res.Reason)
	}
	if _, ok := res.Metadata["dedupe_error"]; !ok {
		t.Error("fail-open not surfaced in metadata")
	}
}

func TestProcessScanInfrastructureErrorPropagates(t *testing.T) {
	store := newMockStore()
	store.sessions["sess-1"] = storedSession()
	store.insertErr = errors.New("disk full")
	svc := newTestService(store, nil)

	_, err := svc.ProcessScan(context.Background(), ScanRequest{
		QRText:    "marker:session:sess-1:evt-1",
		StudentID: "stu-1",
	})
	if err == nil {
		t.Fatal("want insert error to propagate")
	}
}

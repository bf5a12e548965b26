package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"qrattend/internal/scan"
)

// ErrDuplicateRecord is returned when the attendance_records uniqueness
// constraint fires. The duplicate guard is a fast-path check only; this
// constraint is what actually prevents double records under concurrent scans.
var ErrDuplicateRecord = errors.New("attendance record already exists")

// Session is a stored event session with its scan window configuration.
type Session struct {
	ID           string     `json:"id"`
	EventID      string     `json:"event_id"`
	Name         string     `json:"name"`
	StartTime    time.Time  `json:"start_time"`
	EndTime      time.Time  `json:"end_time"`
	IsActive     bool       `json:"is_active"`
	TimeInStart  *time.Time `json:"time_in_start,omitempty"`
	TimeInEnd    *time.Time `json:"time_in_end,omitempty"`
	TimeOutStart *time.Time `json:"time_out_start,omitempty"`
	TimeOutEnd   *time.Time `json:"time_out_end,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Context converts the stored row into the read model the scan core uses.
func (s Session) Context() *scan.SessionContext {
	ctx := &scan.SessionContext{
		ID:        s.ID,
		EventID:   s.EventID,
		StartTime: s.StartTime,
		EndTime:   s.EndTime,
		IsActive:  s.IsActive,
	}
	if s.TimeInStart != nil && s.TimeInEnd != nil {
		ctx.TimeIn = &scan.WindowConfig{Start: *s.TimeInStart, End: *s.TimeInEnd}
	}
	if s.TimeOutStart != nil && s.TimeOutEnd != nil {
		ctx.TimeOut = &scan.WindowConfig{Start: *s.TimeOutStart, End: *s.TimeOutEnd}
	}
	return ctx
}

// Record is a persisted attendance record.
type Record struct {
	ID          string        `json:"id"`
	StudentID   string        `json:"student_id"`
	SessionID   string        `json:"session_id"`
	EventID     string        `json:"event_id"`
	Type        scan.ScanType `json:"scan_type"`
	ScannedAt   time.Time     `json:"scanned_at"`
	OrganizerID string        `json:"organizer_id,omitempty"`
	Status      string        `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Repository persists attendance data in Postgres. It also serves as the
// scan core's history store.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// UpsertOrganizer ensures an organizer record exists.
func (r *Repository) UpsertOrganizer(ctx context.Context, organizerID string, name *string) error {
	if organizerID == "" {
		return errors.New("organizer id required")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO organizers (organizer_id, name)
		VALUES ($1, $2)
		ON CONFLICT (organizer_id) DO UPDATE SET
			name = COALESCE(EXCLUDED.name, organizers.name)
	`, organizerID, name)
	return err
}

// SaveRefreshToken stores a refresh token for rotation checks.
func (r *Repository) SaveRefreshToken(ctx context.Context, organizerID, token string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (organizer_id, token, expires_at)
		VALUES ($1, $2, $3)
	`, organizerID, token, expiresAt)
	return err
}

// RevokeRefreshToken marks a token revoked.
func (r *Repository) RevokeRefreshToken(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = TRUE WHERE token = $1`, token)
	return err
}

// CreateSession writes a new session.
func (r *Repository) CreateSession(ctx context.Context, s Session) (Session, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO sessions (id, event_id, name, start_time, end_time, is_active,
			time_in_start, time_in_end, time_out_start, time_out_end)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at
	`, s.ID, s.EventID, s.Name, s.StartTime, s.EndTime, s.IsActive,
		s.TimeInStart, s.TimeInEnd, s.TimeOutStart, s.TimeOutEnd)
	if err := row.Scan(&s.CreatedAt); err != nil {
		return Session{}, err
	}
	return s, nil
}

// GetSession returns a session by id, or nil when it does not exist.
func (r *Repository) GetSession(ctx context.Context, id string) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, event_id, name, start_time, end_time, is_active,
			time_in_start, time_in_end, time_out_start, time_out_end, created_at
		FROM sessions WHERE id = $1
	`, id)
	var s Session
	if err := row.Scan(&s.ID, &s.EventID, &s.Name, &s.StartTime, &s.EndTime, &s.IsActive,
		&s.TimeInStart, &s.TimeInEnd, &s.TimeOutStart, &s.TimeOutEnd, &s.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// ListSessions returns sessions, optionally filtered by event.
func (r *Repository) ListSessions(ctx context.Context, eventID string, limit, offset int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT id, event_id, name, start_time, end_time, is_active,
		time_in_start, time_in_end, time_out_start, time_out_end, created_at FROM sessions`
	args := []any{}
	if eventID != "" {
		query += " WHERE event_id = $1"
		args = append(args, eventID)
	}
	query += fmt.Sprintf(" ORDER BY start_time DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.EventID, &s.Name, &s.StartTime, &s.EndTime, &s.IsActive,
			&s.TimeInStart, &s.TimeInEnd, &s.TimeOutStart, &s.TimeOutEnd, &s.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// InsertRecord writes a new attendance record. A unique-violation on
// (student_id, session_id, scan_type) comes back as ErrDuplicateRecord.
func (r *Repository) InsertRecord(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = "pending"
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records (id, student_id, session_id, event_id, scan_type, scanned_at, organizer_id, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at
	`, rec.ID, rec.StudentID, rec.SessionID, rec.EventID, rec.Type, rec.ScannedAt, rec.OrganizerID, rec.Status)
	if err := row.Scan(&rec.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Record{}, ErrDuplicateRecord
		}
		return Record{}, err
	}
	return rec, nil
}

// GetRecord returns a single record by id.
func (r *Repository) GetRecord(ctx context.Context, id string) (Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, student_id, session_id, event_id, scan_type, scanned_at, organizer_id, status, created_at
		FROM attendance_records WHERE id = $1
	`, id)
	var rec Record
	if err := row.Scan(&rec.ID, &rec.StudentID, &rec.SessionID, &rec.EventID, &rec.Type,
		&rec.ScannedAt, &rec.OrganizerID, &rec.Status, &rec.CreatedAt); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// UpdateRecordStatus updates a record's processing status.
func (r *Repository) UpdateRecordStatus(ctx context.Context, id, status string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE attendance_records SET status = $2 WHERE id = $1`, id, status)
	return err
}

// ListByStudentSession returns a student's scans for one session, oldest
// first. Part of the scan.HistoryStore contract.
func (r *Repository) ListByStudentSession(ctx context.Context, studentID, sessionID string) ([]scan.Record, error) {
	return r.listHistory(ctx, `
		SELECT id, student_id, session_id, event_id, scan_type, scanned_at
		FROM attendance_records
		WHERE student_id = $1 AND session_id = $2
		ORDER BY scanned_at ASC
	`, studentID, sessionID)
}

// ListByStudentEvent returns a student's scans across every session of an
// event, oldest first. Part of the scan.HistoryStore contract.
func (r *Repository) ListByStudentEvent(ctx context.Context, studentID, eventID string) ([]scan.Record, error) {
	return r.listHistory(ctx, `
		SELECT id, student_id, session_id, event_id, scan_type, scanned_at
		FROM attendance_records
		WHERE student_id = $1 AND event_id = $2
		ORDER BY scanned_at ASC
	`, studentID, eventID)
}

func (r *Repository) listHistory(ctx context.Context, query string, args ...any) ([]scan.Record, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []scan.Record
	for rows.Next() {
		var rec scan.Record
		if err := rows.Scan(&rec.ID, &rec.StudentID, &rec.SessionID, &rec.EventID, &rec.Type, &rec.Timestamp); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// ListRecords returns records with basic filters.
func (r *Repository) ListRecords(ctx context.Context, sessionID, studentID string, limit, offset int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT id, student_id, session_id, event_id, scan_type, scanned_at, organizer_id, status, created_at FROM attendance_records`
	args := []any{}
	clauses := []string{}
	if sessionID != "" {
		clauses = append(clauses, fmt.Sprintf("session_id = $%d", len(args)+1))
		args = append(args, sessionID)
	}
	if studentID != "" {
		clauses = append(clauses, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, studentID)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY scanned_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.StudentID, &rec.SessionID, &rec.EventID, &rec.Type,
			&rec.ScannedAt, &rec.OrganizerID, &rec.Status, &rec.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// CountBySession returns how many time-in and time-out records a session has.
func (r *Repository) CountBySession(ctx context.Context, sessionID string) (timeIn, timeOut int, err error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE scan_type = 'time_in'),
			COUNT(*) FILTER (WHERE scan_type = 'time_out')
		FROM attendance_records WHERE session_id = $1
	`, sessionID)
	err = row.Scan(&timeIn, &timeOut)
	return timeIn, timeOut, err
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"liveclass/internal/model"
)

// ErrDuplicateEmail is returned by CreateUser when the email is already registered.
var ErrDuplicateEmail = errors.New("email already registered")

// ErrSessionStateChanged is returned by guarded session writes when the row is no longer in the
// status the caller expected.
var ErrSessionStateChanged = errors.New("session state changed")

const uniqueViolation = "23505"

// Repository persists users, sessions, participants and session events in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Ids are UUIDs; anything else cannot match a row and would make Postgres reject the query.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

const userColumns = `id, name, email, password_hash, role, profile_picture, created_at`

func scanUser(row interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role, &u.ProfilePicture, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts a user, assigning id and creation time.
func (r *Repository) CreateUser(ctx context.Context, u *model.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO users (id, name, email, password_hash, role, profile_picture)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, u.ID, u.Name, u.Email, u.PasswordHash, string(u.Role), u.ProfilePicture).Scan(&u.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicateEmail
	}
	return err
}

// GetUserByID returns nil, nil when no user matches.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	if !validID(id) {
		return nil, nil
	}
	return scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// GetUserByEmail returns nil, nil when no user matches.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

// SetProfilePicture stores the avatar URL for a user.
func (r *Repository) SetProfilePicture(ctx context.Context, userID, url string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET profile_picture = $2 WHERE id = $1`, userID, url)
	return err
}

const sessionColumns = `s.id, s.title, s.description, s.status, s.start_time, s.end_time, s.teacher_id, s.room_name, s.created_at, s.updated_at`

func sessionDest(s *model.Session) []any {
	return []any{&s.ID, &s.Title, &s.Description, &s.Status, &s.StartTime, &s.EndTime, &s.TeacherID, &s.RoomName, &s.CreatedAt, &s.UpdatedAt}
}

// CreateSession inserts a session, assigning id and timestamps.
func (r *Repository) CreateSession(ctx context.Context, s *model.Session) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return r.db.QueryRowContext(ctx, `
		INSERT INTO sessions (id, title, description, status, start_time, teacher_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`, s.ID, s.Title, s.Description, string(s.Status), s.StartTime, s.TeacherID).Scan(&s.CreatedAt, &s.UpdatedAt)
}

// GetSession returns nil, nil when no session matches.
func (r *Repository) GetSession(ctx context.Context, id string) (*model.Session, error) {
	if !validID(id) {
		return nil, nil
	}
	var s model.Session
	err := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions s WHERE s.id = $1`, id).Scan(sessionDest(&s)...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// GetSessionDetail returns the session with its teacher and participants, or nil, nil.
func (r *Repository) GetSessionDetail(ctx context.Context, id string) (*model.SessionDetail, error) {
	if !validID(id) {
		return nil, nil
	}
	var d model.SessionDetail
	dest := append(sessionDest(&d.Session), &d.Teacher.ID, &d.Teacher.Name, &d.Teacher.Email, &d.Teacher.ProfilePicture)
	err := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`, u.id, u.name, u.email, u.profile_picture
		FROM sessions s JOIN users u ON u.id = s.teacher_id
		WHERE s.id = $1
	`, id).Scan(dest...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT p.id, p.student_id, p.session_id, p.joined_at, u.id, u.name, u.profile_picture
		FROM session_participants p JOIN users u ON u.id = p.student_id
		WHERE p.session_id = $1
		ORDER BY p.joined_at
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	d.Participants = []model.Participant{}
	for rows.Next() {
		var p model.Participant
		if err := rows.Scan(&p.ID, &p.StudentID, &p.SessionID, &p.JoinedAt, &p.Student.ID, &p.Student.Name, &p.Student.ProfilePicture); err != nil {
			return nil, err
		}
		d.Participants = append(d.Participants, p)
	}
	return &d, rows.Err()
}

// ListSessions returns sessions matching f, ordered by start time with unscheduled ones last.
func (r *Repository) ListSessions(ctx context.Context, f model.SessionFilter) ([]model.SessionSummary, error) {
	if f.TeacherID != "" && !validID(f.TeacherID) {
		return []model.SessionSummary{}, nil
	}
	if f.Now.IsZero() {
		f.Now = time.Now().UTC()
	}
	args := []any{}
	clauses := []string{}
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if f.Status != "" {
		clauses = append(clauses, "s.status = "+arg(string(f.Status)))
	}
	if f.TeacherID != "" {
		clauses = append(clauses, "s.teacher_id = "+arg(f.TeacherID))
	}
	if f.Upcoming {
		clauses = append(clauses, "s.start_time >= "+arg(f.Now))
	}
	if f.Past {
		clauses = append(clauses, "s.end_time < "+arg(f.Now))
	}
	if f.ViewerStudentID != "" && validID(f.ViewerStudentID) {
		clauses = append(clauses, "(s.status = 'SCHEDULED' OR EXISTS (SELECT 1 FROM session_participants vp WHERE vp.session_id = s.id AND vp.student_id = "+arg(f.ViewerStudentID)+"))")
	}

	query := `
		SELECT ` + sessionColumns + `, u.id, u.name, u.email, u.profile_picture,
			(SELECT COUNT(*) FROM session_participants p WHERE p.session_id = s.id)
		FROM sessions s JOIN users u ON u.id = s.teacher_id`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY s.start_time ASC NULLS LAST, s.created_at ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []model.SessionSummary{}
	for rows.Next() {
		var s model.SessionSummary
		dest := append(sessionDest(&s.Session), &s.Teacher.ID, &s.Teacher.Name, &s.Teacher.Email, &s.Teacher.ProfilePicture, &s.ParticipantCount)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// ListLiveSessions returns every session currently marked LIVE.
func (r *Repository) ListLiveSessions(ctx context.Context) ([]model.Session, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions s WHERE s.status = 'LIVE'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []model.Session
	for rows.Next() {
		var s model.Session
		if err := rows.Scan(sessionDest(&s)...); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// UpdateSession writes the title, description and start time of a session that is not yet
// completed or cancelled, and refreshes s with the stored lifecycle columns.
func (r *Repository) UpdateSession(ctx context.Context, s *model.Session) error {
	var status string
	err := r.db.QueryRowContext(ctx, `
		UPDATE sessions
		SET title = $2, description = $3, start_time = $4, updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('COMPLETED', 'CANCELLED')
		RETURNING status, end_time, room_name, updated_at
	`, s.ID, s.Title, s.Description, s.StartTime).Scan(&status, &s.EndTime, &s.RoomName, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrSessionStateChanged
	}
	if err != nil {
		return err
	}
	s.Status = model.Status(status)
	return nil
}

// MarkSessionLive moves a SCHEDULED session to LIVE on roomName.
func (r *Repository) MarkSessionLive(ctx context.Context, id, roomName string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET status = 'LIVE', room_name = $2, start_time = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'SCHEDULED'
	`, id, roomName, at)
	return guarded(res, err)
}

// MarkSessionEnded moves a session from status from to the terminal status to and clears its room.
func (r *Repository) MarkSessionEnded(ctx context.Context, id string, from, to model.Status, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET status = $3, end_time = $4, room_name = NULL, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, string(from), string(to), at)
	return guarded(res, err)
}

func guarded(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSessionStateChanged
	}
	return nil
}

// GetParticipant returns nil, nil when the student is not enrolled.
func (r *Repository) GetParticipant(ctx context.Context, sessionID, studentID string) (*model.SessionParticipant, error) {
	if !validID(sessionID) || !validID(studentID) {
		return nil, nil
	}
	var p model.SessionParticipant
	err := r.db.QueryRowContext(ctx, `
		SELECT id, student_id, session_id, joined_at
		FROM session_participants WHERE session_id = $1 AND student_id = $2
	`, sessionID, studentID).Scan(&p.ID, &p.StudentID, &p.SessionID, &p.JoinedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// AddParticipant enrols a student. created is false when the enrolment already existed,
// in which case the existing row is returned.
func (r *Repository) AddParticipant(ctx context.Context, sessionID, studentID string) (*model.SessionParticipant, bool, error) {
	p := model.SessionParticipant{ID: uuid.NewString(), StudentID: studentID, SessionID: sessionID}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO session_participants (id, student_id, session_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (student_id, session_id) DO NOTHING
		RETURNING joined_at
	`, p.ID, p.StudentID, p.SessionID).Scan(&p.JoinedAt)
	if errors.Is(err, sql.ErrNoRows) {
		existing, err := r.GetParticipant(ctx, sessionID, studentID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &p, true, nil
}

// RemoveParticipant deletes an enrolment and reports whether one existed.
func (r *Repository) RemoveParticipant(ctx context.Context, sessionID, studentID string) (bool, error) {
	if !validID(sessionID) || !validID(studentID) {
		return false, nil
	}
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM session_participants WHERE session_id = $1 AND student_id = $2
	`, sessionID, studentID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// InsertEvent writes an audit row for a lifecycle event.
func (r *Repository) InsertEvent(ctx context.Context, evt model.SessionEvent) error {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if len(evt.Payload) == 0 {
		evt.Payload = []byte("{}")
	}
	if evt.ActorID != nil && !validID(*evt.ActorID) {
		evt.ActorID = nil
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO session_events (id, session_id, type, actor_id, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, evt.ID, evt.SessionID, evt.Type, evt.ActorID, string(evt.Payload), evt.OccurredAt)
	return err
}

// ListEvents returns a session's audit trail, oldest first.
func (r *Repository) ListEvents(ctx context.Context, sessionID string) ([]model.SessionEvent, error) {
	if !validID(sessionID) {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, type, actor_id, payload, occurred_at
		FROM session_events WHERE session_id = $1
		ORDER BY occurred_at
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []model.SessionEvent
	for rows.Next() {
		var e model.SessionEvent
		var payload []byte
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Type, &e.ActorID, &payload, &e.OccurredAt); err != nil {
			return nil, err
		}
		e.Payload = payload
		res = append(res, e)
	}
	return res, rows.Err()
}

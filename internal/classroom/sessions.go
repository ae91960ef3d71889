package classroom

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"liveclass/internal/model"
	"liveclass/internal/store"
)

// CreateSessionInput is the payload for CreateSession.
type CreateSessionInput struct {
	Title       string
	Description *string
	StartTime   *time.Time
}

// UpdateSessionInput carries optional changes; nil fields are left alone.
// An empty Description clears it.
type UpdateSessionInput struct {
	Title       *string
	Description *string
	StartTime   *time.Time
	Status      *model.Status
}

// ListFilter is the caller-facing listing filter.
type ListFilter struct {
	Status    string
	TeacherID string
	Upcoming  bool
	Past      bool
}

// CreateSession schedules a new session owned by the calling teacher.
func (s *Service) CreateSession(ctx context.Context, caller *model.User, in CreateSessionInput) (*model.Session, error) {
	if caller == nil {
		return nil, ErrUnauthenticated
	}
	if caller.Role != model.RoleTeacher {
		return nil, ErrNotTeacher
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, ErrTitleRequired
	}
	sess := &model.Session{
		Title:       title,
		Description: in.Description,
		Status:      model.StatusScheduled,
		StartTime:   in.StartTime,
		TeacherID:   caller.ID,
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, s.storeErr("create_session", err)
	}
	s.logger.Info("session created", zap.String("session_id", sess.ID), zap.String("teacher_id", caller.ID))
	return sess, nil
}

// ListSessions returns sessions visible to caller. Students only see scheduled sessions and
// those they are enrolled in.
func (s *Service) ListSessions(ctx context.Context, caller *model.User, in ListFilter) ([]model.SessionSummary, error) {
	if caller == nil {
		return nil, ErrUnauthenticated
	}
	f := model.SessionFilter{
		TeacherID: in.TeacherID,
		Upcoming:  in.Upcoming,
		Past:      in.Past,
		Now:       s.now(),
	}
	if in.Status != "" {
		st := model.Status(strings.ToUpper(in.Status))
		if !st.Valid() {
			return nil, ErrInvalidStatus
		}
		f.Status = st
	}
	if caller.Role == model.RoleStudent {
		f.ViewerStudentID = caller.ID
	}
	list, err := s.store.ListSessions(ctx, f)
	if err != nil {
		return nil, s.storeErr("list_sessions", err)
	}
	return list, nil
}

// GetSession returns the session with its teacher and participants.
func (s *Service) GetSession(ctx context.Context, caller *model.User, id string) (*model.SessionDetail, error) {
	if caller == nil {
		return nil, ErrUnauthenticated
	}
	d, err := s.store.GetSessionDetail(ctx, id)
	if err != nil {
		return nil, s.storeErr("get_session", err)
	}
	if d == nil {
		return nil, ErrSessionNotFound
	}
	return d, nil
}

// UpdateSession applies in to a session owned by caller. Terminal sessions are immutable and
// the only status change allowed is to CANCELLED; cancelling a live session closes its room.
func (s *Service) UpdateSession(ctx context.Context, caller *model.User, id string, in UpdateSessionInput) (*model.Session, error) {
	if caller == nil {
		return nil, ErrUnauthenticated
	}
	sess, err := s.loadSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sess.OwnedBy(caller.ID) {
		return nil, ErrNotOwner
	}
	if sess.Status.Terminal() {
		return nil, ErrSessionClosed
	}

	cancel := false
	if in.Status != nil {
		next := model.Status(strings.ToUpper(string(*in.Status)))
		switch {
		case !next.Valid():
			return nil, ErrInvalidStatus
		case next == sess.Status:
		case next == model.StatusCancelled:
			cancel = true
		default:
			return nil, ErrInvalidTransition
		}
	}

	// a cancel of a live session tears the room down before anything is written
	var deletedRoom string
	if cancel && sess.Status == model.StatusLive && sess.RoomName != nil {
		if err := s.deleteRoom(ctx, *sess.RoomName); err != nil {
			return nil, err
		}
		deletedRoom = *sess.RoomName
	}

	changed := false
	if in.Title != nil {
		if t := strings.TrimSpace(*in.Title); t != "" {
			sess.Title = t
			changed = true
		}
	}
	if in.Description != nil {
		if *in.Description == "" {
			sess.Description = nil
		} else {
			d := *in.Description
			sess.Description = &d
		}
		changed = true
	}
	if in.StartTime != nil {
		st := *in.StartTime
		sess.StartTime = &st
		changed = true
	}
	if changed {
		if err := s.store.UpdateSession(ctx, sess); err != nil {
			if errors.Is(err, store.ErrSessionStateChanged) {
				return nil, ErrSessionClosed
			}
			return nil, s.storeErr("update_session", err)
		}
	}

	if cancel {
		return s.cancelSession(ctx, caller, sess, deletedRoom)
	}
	return sess, nil
}

// cancelSession moves sess from its current status to CANCELLED. A room still attached to a live
// session is deleted unless it is deletedRoom.
func (s *Service) cancelSession(ctx context.Context, caller *model.User, sess *model.Session, deletedRoom string) (*model.Session, error) {
	from := sess.Status
	wasLive := from == model.StatusLive
	if wasLive && sess.RoomName != nil && *sess.RoomName != deletedRoom {
		if err := s.deleteRoom(ctx, *sess.RoomName); err != nil {
			return nil, err
		}
	}
	now := s.now()
	if err := s.store.MarkSessionEnded(ctx, sess.ID, from, model.StatusCancelled, now); err != nil {
		if !errors.Is(err, store.ErrSessionStateChanged) {
			return nil, s.storeErr("cancel_session", err)
		}
		cur, loadErr := s.loadSession(ctx, sess.ID)
		if loadErr != nil {
			return nil, loadErr
		}
		if cur.Status.Terminal() {
			return nil, ErrSessionClosed
		}
		return nil, ErrSessionChanged
	}
	sess.Status = model.StatusCancelled
	sess.EndTime = &now
	sess.RoomName = nil
	if wasLive {
		roomsEnded("cancelled")
	}
	s.publish(ctx, Event{Type: EventSessionCancelled, SessionID: sess.ID, ActorID: caller.ID, At: now})
	s.logger.Info("session cancelled", zap.String("session_id", sess.ID), zap.Bool("was_live", wasLive))
	return sess, nil
}

// Join enrols a student. created is false when the student was already enrolled.
func (s *Service) Join(ctx context.Context, caller *model.User, sessionID string) (*model.SessionParticipant, bool, error) {
	if caller == nil {
		return nil, false, ErrUnauthenticated
	}
	if caller.Role != model.RoleStudent {
		return nil, false, ErrNotStudent
	}
	sess, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, false, err
	}
	if !sess.Status.Joinable() {
		return nil, false, ErrSessionNotJoinable
	}
	p, created, err := s.store.AddParticipant(ctx, sess.ID, caller.ID)
	if err != nil {
		return nil, false, s.storeErr("add_participant", err)
	}
	if created {
		s.publish(ctx, Event{Type: EventParticipantJoined, SessionID: sess.ID, ActorID: caller.ID, At: p.JoinedAt})
	}
	return p, created, nil
}

// Leave removes the caller's enrolment. Session status and live room presence are untouched.
func (s *Service) Leave(ctx context.Context, caller *model.User, sessionID string) error {
	if caller == nil {
		return ErrUnauthenticated
	}
	removed, err := s.store.RemoveParticipant(ctx, sessionID, caller.ID)
	if err != nil {
		return s.storeErr("remove_participant", err)
	}
	if !removed {
		return ErrNotAParticipant
	}
	s.publish(ctx, Event{Type: EventParticipantLeft, SessionID: sessionID, ActorID: caller.ID, At: s.now()})
	return nil
}

// Roster returns the session detail for its owner, for export.
func (s *Service) Roster(ctx context.Context, caller *model.User, sessionID string) (*model.SessionDetail, error) {
	if caller == nil {
		return nil, ErrUnauthenticated
	}
	d, err := s.GetSession(ctx, caller, sessionID)
	if err != nil {
		return nil, err
	}
	if !d.OwnedBy(caller.ID) {
		return nil, ErrNotOwner
	}
	return d, nil
}

func (s *Service) storeErr(op string, err error) error {
	collaboratorFailed("store_" + op)
	s.logger.Error("store call failed", zap.String("op", op), zap.Error(err))
	return ErrStoreFailed.Wrap(err)
}

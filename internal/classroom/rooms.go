package classroom

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"liveclass/internal/metrics"
	"liveclass/internal/model"
	"liveclass/internal/store"
	"liveclass/internal/videoroom"
)

const (
	roomPrefix     = "session-"
	minTokenLength = 10
)

// RoomName is the room handle for a session. Session ids are unique, so room names are too.
func RoomName(sessionID string) string {
	return roomPrefix + sessionID
}

// SessionIDFromRoom reverses RoomName. ok is false for rooms this service did not name.
func SessionIDFromRoom(name string) (string, bool) {
	if len(name) <= len(roomPrefix) || name[:len(roomPrefix)] != roomPrefix {
		return "", false
	}
	return name[len(roomPrefix):], true
}

// Capabilities is the grant for caller in sess: teachers broadcast, everyone else watches and chats.
func Capabilities(sess *model.Session, caller *model.User) videoroom.Grant {
	return videoroom.Grant{
		Room:           RoomName(sess.ID),
		CanPublish:     sess.OwnedBy(caller.ID),
		CanSubscribe:   true,
		CanPublishData: true,
	}
}

// RoomView is the room half of GetRoomDetails.
type RoomView struct {
	Name            string     `json:"name"`
	SID             string     `json:"sid,omitempty"`
	NumParticipants int        `json:"numParticipants"`
	MaxParticipants uint32     `json:"maxParticipants"`
	ActiveRecording bool       `json:"activeRecording"`
	CreationTime    *time.Time `json:"creationTime"`
}

// RoomSessionView is the session half of GetRoomDetails.
type RoomSessionView struct {
	ID               string            `json:"id"`
	Title            string            `json:"title"`
	Description      *string           `json:"description"`
	Status           model.Status      `json:"status"`
	Teacher          model.UserSummary `json:"teacher"`
	ParticipantCount int               `json:"participantCount"`
}

// RoomDetails merges the collaborator's room state with the session.
type RoomDetails struct {
	Room    RoomView        `json:"room"`
	Session RoomSessionView `json:"session"`
}

// CreateRoom starts the session's room. Calling it on a session that is already live returns
// the running room.
func (s *Service) CreateRoom(ctx context.Context, caller *model.User, sessionID string) (*videoroom.Room, *model.Session, error) {
	if caller == nil {
		return nil, nil, ErrUnauthenticated
	}
	sess, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if !sess.OwnedBy(caller.ID) {
		return nil, nil, ErrNotOwner
	}
	room, err := s.ensureRoomStarted(ctx, sess)
	if err != nil {
		return nil, nil, err
	}
	return room, sess, nil
}

// ensureRoomStarted moves sess to LIVE with a running room. It is shared by CreateRoom and the
// lazy start in GenerateToken; sess is updated in place.
func (s *Service) ensureRoomStarted(ctx context.Context, sess *model.Session) (*videoroom.Room, error) {
	if s.rooms == nil {
		return nil, ErrRoomsUnavailable
	}
	if sess.Status.Terminal() {
		return nil, ErrSessionEnded
	}
	name := RoomName(sess.ID)
	meta, _ := json.Marshal(map[string]string{
		"sessionId": sess.ID,
		"teacherId": sess.TeacherID,
		"title":     sess.Title,
	})
	room, err := s.rooms.CreateRoom(ctx, videoroom.RoomSpec{
		Name:            name,
		MaxParticipants: s.cfg.MaxParticipants,
		EmptyTimeout:    s.cfg.EmptyTimeout,
		Metadata:        string(meta),
	})
	if err != nil {
		collaboratorFailed("room_create")
		s.logger.Error("create room failed", zap.String("session_id", sess.ID), zap.Error(err))
		return nil, ErrRoomCreateFailed.Wrap(err)
	}

	if sess.Status == model.StatusLive && sess.RoomName != nil && *sess.RoomName == name {
		return room, nil
	}

	now := s.now()
	if err := s.store.MarkSessionLive(ctx, sess.ID, name, now); err != nil {
		if errors.Is(err, store.ErrSessionStateChanged) {
			return s.settleRaceOnStart(ctx, sess, room)
		}
		s.logger.Warn("room created but session not marked live", zap.String("room", name))
		return nil, s.storeErr("mark_live", err)
	}
	sess.Status = model.StatusLive
	sess.StartTime = &now
	sess.RoomName = &name
	metrics.RoomsCreated.Inc()
	s.publish(ctx, Event{Type: EventSessionLive, SessionID: sess.ID, ActorID: sess.TeacherID, At: now, RoomName: name})
	s.logger.Info("session live", zap.String("session_id", sess.ID), zap.String("room", name))
	return room, nil
}

// settleRaceOnStart handles a session that left SCHEDULED between load and MarkSessionLive.
// A concurrent start on the same room is adopted; a session that ended meanwhile gets its new room
// torn down.
func (s *Service) settleRaceOnStart(ctx context.Context, sess *model.Session, room *videoroom.Room) (*videoroom.Room, error) {
	cur, err := s.loadSession(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	if cur.Status == model.StatusLive && cur.RoomName != nil && *cur.RoomName == room.Name {
		*sess = *cur
		return room, nil
	}
	if err := s.rooms.DeleteRoom(ctx, room.Name); err != nil {
		collaboratorFailed("room_delete")
		s.logger.Error("delete room of ended session failed", zap.String("room", room.Name), zap.Error(err))
	}
	s.logger.Info("session ended while its room was starting", zap.String("session_id", sess.ID), zap.String("status", string(cur.Status)))
	*sess = *cur
	return nil, ErrSessionEnded
}

// GetRoomDetails returns the running room and session for the teacher or an enrolled student.
// A room missing from the collaborator's list is reported with zero values.
func (s *Service) GetRoomDetails(ctx context.Context, caller *model.User, sessionID string) (*RoomDetails, error) {
	if caller == nil {
		return nil, ErrUnauthenticated
	}
	d, err := s.store.GetSessionDetail(ctx, sessionID)
	if err != nil {
		return nil, s.storeErr("get_session", err)
	}
	if d == nil {
		return nil, ErrSessionNotFound
	}
	if d.RoomName == nil {
		return nil, ErrNoActiveRoom
	}
	if !d.OwnedBy(caller.ID) {
		p, err := s.store.GetParticipant(ctx, d.ID, caller.ID)
		if err != nil {
			return nil, s.storeErr("get_participant", err)
		}
		if p == nil {
			return nil, ErrNoRoomAccess
		}
	}
	if s.rooms == nil {
		return nil, ErrRoomsUnavailable
	}

	out := &RoomDetails{
		Room: RoomView{
			Name:            *d.RoomName,
			NumParticipants: len(d.Participants),
		},
		Session: RoomSessionView{
			ID:               d.ID,
			Title:            d.Title,
			Description:      d.Description,
			Status:           d.Status,
			Teacher:          d.Teacher,
			ParticipantCount: len(d.Participants),
		},
	}
	rooms, err := s.rooms.ListRooms(ctx, *d.RoomName)
	if err != nil {
		collaboratorFailed("room_list")
		s.logger.Error("list rooms failed", zap.String("room", *d.RoomName), zap.Error(err))
		return nil, ErrRoomLookupFailed.Wrap(err)
	}
	var found *videoroom.Room
	for i := range rooms {
		if rooms[i].Name == *d.RoomName {
			found = &rooms[i]
			break
		}
	}
	if found == nil {
		s.logger.Warn("room not listed by video service", zap.String("room", *d.RoomName))
		return out, nil
	}
	out.Room.SID = found.SID
	out.Room.MaxParticipants = found.MaxParticipants
	out.Room.ActiveRecording = found.ActiveRecording
	if !found.CreationTime.IsZero() {
		ct := found.CreationTime
		out.Room.CreationTime = &ct
	}
	return out, nil
}

// GenerateToken mints a room access token for caller. The teacher's first request on a
// session without a room starts it; students are enrolled on the way in.
func (s *Service) GenerateToken(ctx context.Context, caller *model.User, sessionID string, extra map[string]any) (string, error) {
	if caller == nil {
		return "", ErrUnauthenticated
	}
	sess, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	isTeacher := sess.OwnedBy(caller.ID)
	if sess.RoomName == nil {
		if !isTeacher {
			return "", ErrNoActiveRoomYet
		}
		if _, err := s.ensureRoomStarted(ctx, sess); err != nil {
			return "", err
		}
	}
	if s.rooms == nil {
		return "", ErrRoomsUnavailable
	}

	if caller.Role == model.RoleStudent && !isTeacher {
		s.autoEnroll(ctx, sess, caller)
	}

	identity := map[string]any{
		"userId":    caller.ID,
		"name":      caller.Name,
		"role":      caller.Role,
		"isTeacher": isTeacher,
	}
	identityJSON, err := json.Marshal(identity)
	if err != nil {
		return "", ErrTokenGenerationFailed.Wrap(err)
	}
	meta := make(map[string]any, len(identity)+len(extra)+1)
	for k, v := range identity {
		meta[k] = v
	}
	meta["profilePicture"] = caller.ProfilePicture
	for k, v := range extra {
		meta[k] = v
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return "", ErrTokenGenerationFailed.Wrap(err)
	}

	token, err := s.rooms.MintToken(videoroom.TokenRequest{
		Identity: string(identityJSON),
		Name:     caller.Name,
		Metadata: string(metaJSON),
		Grant:    Capabilities(sess, caller),
		TTL:      s.cfg.TokenTTL,
	})
	if err != nil {
		collaboratorFailed("token_mint")
		s.logger.Error("mint token failed", zap.String("session_id", sess.ID), zap.Error(err))
		return "", ErrTokenGenerationFailed.Wrap(err)
	}
	if len(token) < minTokenLength {
		collaboratorFailed("token_mint")
		s.logger.Error("minted token implausibly short", zap.String("session_id", sess.ID), zap.Int("len", len(token)))
		return "", ErrTokenGenerationFailed
	}
	role := "viewer"
	if isTeacher {
		role = "publisher"
	}
	metrics.TokensIssued.WithLabelValues(role).Inc()
	return token, nil
}

// autoEnroll adds caller to the session's participants. It never fails the caller's request;
// the outcome is logged.
func (s *Service) autoEnroll(ctx context.Context, sess *model.Session, caller *model.User) {
	log := s.logger.With(zap.String("session_id", sess.ID), zap.String("student_id", caller.ID))
	existing, err := s.store.GetParticipant(ctx, sess.ID, caller.ID)
	if err != nil {
		log.Warn("auto-enrol lookup failed", zap.Error(err))
		return
	}
	if existing != nil {
		log.Debug("auto-enrol: already a participant")
		return
	}
	p, created, err := s.store.AddParticipant(ctx, sess.ID, caller.ID)
	if err != nil {
		log.Warn("auto-enrol failed", zap.Error(err))
		return
	}
	if !created {
		log.Debug("auto-enrol: already a participant")
		return
	}
	log.Info("auto-enrolled student")
	s.publish(ctx, Event{Type: EventParticipantJoined, SessionID: sess.ID, ActorID: caller.ID, At: p.JoinedAt})
}

// EndRoom closes the session's room and completes the session. If the room cannot be deleted
// the session stays LIVE.
func (s *Service) EndRoom(ctx context.Context, caller *model.User, sessionID string) (*model.Session, error) {
	if caller == nil {
		return nil, ErrUnauthenticated
	}
	sess, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.OwnedBy(caller.ID) {
		return nil, ErrNotOwner
	}
	if sess.RoomName == nil {
		return nil, ErrNoActiveRoom
	}
	if err := s.deleteRoom(ctx, *sess.RoomName); err != nil {
		return nil, err
	}
	now := s.now()
	if err := s.store.MarkSessionEnded(ctx, sess.ID, model.StatusLive, model.StatusCompleted, now); err != nil {
		if errors.Is(err, store.ErrSessionStateChanged) {
			return nil, ErrSessionEnded
		}
		return nil, s.storeErr("mark_ended", err)
	}
	room := *sess.RoomName
	sess.Status = model.StatusCompleted
	sess.EndTime = &now
	sess.RoomName = nil
	roomsEnded("teacher")
	s.publish(ctx, Event{Type: EventSessionCompleted, SessionID: sess.ID, ActorID: caller.ID, At: now, RoomName: room})
	s.logger.Info("session completed", zap.String("session_id", sess.ID), zap.String("room", room))
	return sess, nil
}

func (s *Service) deleteRoom(ctx context.Context, name string) error {
	if s.rooms == nil {
		return ErrRoomsUnavailable
	}
	if err := s.rooms.DeleteRoom(ctx, name); err != nil {
		collaboratorFailed("room_delete")
		s.logger.Error("delete room failed", zap.String("room", name), zap.Error(err))
		return ErrRoomDeleteFailed.Wrap(err)
	}
	return nil
}

func collaboratorFailed(op string) {
	metrics.CollaboratorErrors.WithLabelValues(op).Inc()
}

func roomsEnded(reason string) {
	metrics.RoomsEnded.WithLabelValues(reason).Inc()
}

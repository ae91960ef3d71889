package classroom

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"liveclass/internal/model"
	"liveclass/internal/store"
	"liveclass/internal/videoroom"
)

// orphanGrace keeps the reconciler away from rooms whose session may still be getting marked LIVE.
const orphanGrace = time.Minute

// ReconcileResult counts what a reconcile pass changed.
type ReconcileResult struct {
	Completed      int `json:"completed"`
	OrphansDeleted int `json:"orphansDeleted"`
	Failures       int `json:"failures"`
}

// Reconcile aligns stored session state with the rooms the video service is running.
// Live sessions whose room has gone are completed; session rooms with no live session are deleted.
// Sessions are read before rooms, so a session started mid-pass shows up as a fresh room only,
// which the grace period and the re-check in orphanRoom keep alive.
func (s *Service) Reconcile(ctx context.Context) (ReconcileResult, error) {
	var res ReconcileResult
	if s.rooms == nil {
		return res, ErrRoomsUnavailable
	}
	live, err := s.store.ListLiveSessions(ctx)
	if err != nil {
		return res, s.storeErr("list_live", err)
	}
	rooms, err := s.rooms.ListRooms(ctx)
	if err != nil {
		collaboratorFailed("room_list")
		return res, ErrRoomLookupFailed.Wrap(err)
	}

	running := make(map[string]bool, len(rooms))
	for _, r := range rooms {
		running[r.Name] = true
	}
	cutoff := s.now().Add(-orphanGrace)
	owned := make(map[string]bool, len(live))
	for _, sess := range live {
		if sess.RoomName == nil {
			continue
		}
		owned[*sess.RoomName] = true
		if running[*sess.RoomName] {
			continue
		}
		if sess.StartTime != nil && sess.StartTime.After(cutoff) {
			continue
		}
		now := s.now()
		err := s.store.MarkSessionEnded(ctx, sess.ID, model.StatusLive, model.StatusCompleted, now)
		if errors.Is(err, store.ErrSessionStateChanged) {
			continue
		}
		if err != nil {
			res.Failures++
			s.logger.Error("complete expired session failed", zap.String("session_id", sess.ID), zap.Error(err))
			continue
		}
		res.Completed++
		roomsEnded("expired")
		s.publish(ctx, Event{Type: EventSessionCompleted, SessionID: sess.ID, At: now, RoomName: *sess.RoomName, Reason: "room_expired"})
	}

	for _, r := range rooms {
		if owned[r.Name] || !s.orphanRoom(ctx, r, cutoff) {
			continue
		}
		if err := s.rooms.DeleteRoom(ctx, r.Name); err != nil {
			res.Failures++
			collaboratorFailed("room_delete")
			s.logger.Error("delete orphan room failed", zap.String("room", r.Name), zap.Error(err))
			continue
		}
		res.OrphansDeleted++
		roomsEnded("orphan")
		s.logger.Info("deleted orphan room", zap.String("room", r.Name))
	}
	return res, nil
}

// orphanRoom reports whether r is a session room old enough to delete whose session is not live
// on it. Rooms of unknown age are kept.
func (s *Service) orphanRoom(ctx context.Context, r videoroom.Room, cutoff time.Time) bool {
	id, ok := SessionIDFromRoom(r.Name)
	if !ok {
		return false
	}
	if r.CreationTime.IsZero() || r.CreationTime.After(cutoff) {
		return false
	}
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		s.logger.Warn("orphan check failed", zap.String("room", r.Name), zap.Error(err))
		return false
	}
	return sess == nil || sess.Status != model.StatusLive || sess.RoomName == nil || *sess.RoomName != r.Name
}

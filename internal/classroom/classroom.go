// Package classroom owns the session lifecycle: scheduling, enrolment, room start/stop and
// room access tokens.
package classroom

import (
	"context"
	"time"

	"go.uber.org/zap"

	"liveclass/internal/model"
	"liveclass/internal/queue"
	"liveclass/internal/videoroom"
)

// Store is the persistence collaborator. Lookups return nil, nil when nothing matches.
// UpdateSession, MarkSessionLive and MarkSessionEnded are guarded on the stored status and return
// store.ErrSessionStateChanged when the guard does not hold.
type Store interface {
	CreateSession(ctx context.Context, s *model.Session) error
	GetSession(ctx context.Context, id string) (*model.Session, error)
	GetSessionDetail(ctx context.Context, id string) (*model.SessionDetail, error)
	ListSessions(ctx context.Context, f model.SessionFilter) ([]model.SessionSummary, error)
	ListLiveSessions(ctx context.Context) ([]model.Session, error)
	UpdateSession(ctx context.Context, s *model.Session) error
	MarkSessionLive(ctx context.Context, id, roomName string, at time.Time) error
	MarkSessionEnded(ctx context.Context, id string, from, to model.Status, at time.Time) error

	GetParticipant(ctx context.Context, sessionID, studentID string) (*model.SessionParticipant, error)
	AddParticipant(ctx context.Context, sessionID, studentID string) (*model.SessionParticipant, bool, error)
	RemoveParticipant(ctx context.Context, sessionID, studentID string) (bool, error)
}

// RoomService is the video-room collaborator.
type RoomService interface {
	CreateRoom(ctx context.Context, spec videoroom.RoomSpec) (*videoroom.Room, error)
	ListRooms(ctx context.Context, names ...string) ([]videoroom.Room, error)
	DeleteRoom(ctx context.Context, name string) error
	MintToken(req videoroom.TokenRequest) (string, error)
}

// EventPublisher receives lifecycle events. queue.Queue satisfies it.
type EventPublisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// RoomConfig shapes the rooms and tokens the service asks for.
type RoomConfig struct {
	MaxParticipants uint32
	EmptyTimeout    time.Duration
	TokenTTL        time.Duration
}

// Service implements session management and the room lifecycle.
type Service struct {
	store  Store
	rooms  RoomService
	events EventPublisher
	cfg    RoomConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewService wires the service. rooms may be nil, in which case room and token operations
// fail with ErrRoomsUnavailable; events may be nil to disable publishing.
func NewService(store Store, rooms RoomService, events EventPublisher, cfg RoomConfig, logger *zap.Logger) *Service {
	if cfg.MaxParticipants == 0 {
		cfg.MaxParticipants = 100
	}
	if cfg.EmptyTimeout <= 0 {
		cfg.EmptyTimeout = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  store,
		rooms:  rooms,
		events: events,
		cfg:    cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// RoomsEnabled reports whether a video-room collaborator is configured.
func (s *Service) RoomsEnabled() bool { return s.rooms != nil }

func (s *Service) loadSession(ctx context.Context, id string) (*model.Session, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, s.storeErr("get_session", err)
	}
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

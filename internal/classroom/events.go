package classroom

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"liveclass/internal/metrics"
	"liveclass/internal/model"
	"liveclass/internal/queue"
)

// Lifecycle event types.
const (
	EventSessionLive       = "session.live"
	EventSessionCompleted  = "session.completed"
	EventSessionCancelled  = "session.cancelled"
	EventParticipantJoined = "participant.joined"
	EventParticipantLeft   = "participant.left"
)

// Event is a lifecycle or membership transition.
type Event struct {
	Type      string    `json:"-"`
	SessionID string    `json:"sessionId"`
	ActorID   string    `json:"actorId,omitempty"`
	At        time.Time `json:"at"`
	RoomName  string    `json:"roomName,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// Message encodes e for the queue.
func (e Event) Message() (queue.Message, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return queue.Message{}, err
	}
	return queue.Message{Type: e.Type, Body: body}, nil
}

// DecodeEvent is the inverse of Event.Message.
func DecodeEvent(msg queue.Message) (Event, error) {
	var e Event
	if err := json.Unmarshal(msg.Body, &e); err != nil {
		return Event{}, fmt.Errorf("decode %s event: %w", msg.Type, err)
	}
	e.Type = msg.Type
	if e.SessionID == "" {
		return Event{}, fmt.Errorf("decode %s event: missing session id", msg.Type)
	}
	return e, nil
}

// publish hands e to the event publisher. Failures are logged, never returned.
func (s *Service) publish(ctx context.Context, e Event) {
	if s.events == nil {
		return
	}
	msg, err := e.Message()
	if err == nil {
		err = s.events.Publish(ctx, msg)
	}
	if err != nil {
		metrics.EventsPublished.WithLabelValues(e.Type, "error").Inc()
		s.logger.Warn("publish event failed", zap.String("type", e.Type), zap.String("session_id", e.SessionID), zap.Error(err))
		return
	}
	metrics.EventsPublished.WithLabelValues(e.Type, "ok").Inc()
}

// EventStore persists audit rows.
type EventStore interface {
	InsertEvent(ctx context.Context, evt model.SessionEvent) error
}

// EventRecorder drains lifecycle events into the audit table.
type EventRecorder struct {
	Store  EventStore
	Logger *zap.Logger
}

// Run consumes from q until ctx is done.
func (r *EventRecorder) Run(ctx context.Context, q queue.Queue) error {
	msgs, err := q.Consume(ctx)
	if err != nil {
		return err
	}
	for msg := range msgs {
		if err := r.Record(ctx, msg); err != nil {
			r.Logger.Error("record event failed", zap.String("type", msg.Type), zap.Error(err))
		}
	}
	return ctx.Err()
}

// Record writes one message as a session_events row.
func (r *EventRecorder) Record(ctx context.Context, msg queue.Message) error {
	e, err := DecodeEvent(msg)
	if err != nil {
		return err
	}
	row := model.SessionEvent{
		SessionID:  e.SessionID,
		Type:       e.Type,
		Payload:    json.RawMessage(msg.Body),
		OccurredAt: e.At,
	}
	if e.ActorID != "" {
		actor := e.ActorID
		row.ActorID = &actor
	}
	if row.OccurredAt.IsZero() {
		row.OccurredAt = time.Now().UTC()
	}
	return r.Store.InsertEvent(ctx, row)
}

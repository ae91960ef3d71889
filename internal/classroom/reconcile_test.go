package classroom

import (
	"context"
	"errors"
	"testing"
	"time"

	"liveclass/internal/model"
	"liveclass/internal/videoroom"
)

func TestReconcileCompletesExpiredSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	expired := f.session(t, "Algebra")
	running := f.session(t, "Geometry")
	for _, id := range []string{expired.ID, running.ID} {
		if _, _, err := f.svc.CreateRoom(ctx, f.teacher, id); err != nil {
			t.Fatalf("create room: %v", err)
		}
	}
	f.rooms.Drop(RoomName(expired.ID))
	f.svc.now = func() time.Time { return time.Now().UTC().Add(2 * orphanGrace) }

	res, err := f.svc.Reconcile(ctx)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.Completed != 1 || res.OrphansDeleted != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := f.reload(t, expired.ID); got.Status != model.StatusCompleted || got.RoomName != nil || got.EndTime == nil {
		t.Fatalf("expired session not completed: %+v", got)
	}
	if got := f.reload(t, running.ID); got.Status != model.StatusLive {
		t.Fatalf("running session touched: %+v", got)
	}
}

func TestReconcileDeletesOrphanRooms(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := time.Now().UTC().Add(-time.Hour)
	f.rooms.Put(videoroom.Room{Name: RoomName("gone"), CreationTime: old})
	f.rooms.Put(videoroom.Room{Name: RoomName("fresh"), CreationTime: time.Now().UTC()})
	f.rooms.Put(videoroom.Room{Name: "lobby", CreationTime: old})

	res, err := f.svc.Reconcile(ctx)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.OrphansDeleted != 1 {
		t.Fatalf("expected 1 orphan deleted, got %+v", res)
	}
	if f.rooms.Has(RoomName("gone")) {
		t.Fatalf("orphan room still running")
	}
	if !f.rooms.Has(RoomName("fresh")) || !f.rooms.Has("lobby") {
		t.Fatalf("reconciler deleted a room it should have kept")
	}
}

func TestReconcileCountsFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.rooms.Put(videoroom.Room{Name: RoomName("gone"), CreationTime: time.Now().UTC().Add(-time.Hour)})
	f.rooms.FailDelete = true

	res, err := f.svc.Reconcile(ctx)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.Failures != 1 || res.OrphansDeleted != 0 {
		t.Fatalf("unexpected result %+v", res)
	}

	f.rooms.FailList = true
	if _, err := f.svc.Reconcile(ctx); !errors.Is(err, ErrRoomLookupFailed) {
		t.Fatalf("expected room lookup failure, got %v", err)
	}
}

func TestReconcileSparesJustStartedSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.session(t, "Algebra")
	if _, _, err := f.svc.CreateRoom(ctx, f.teacher, sess.ID); err != nil {
		t.Fatalf("create room: %v", err)
	}
	// the room listing lags the start
	f.rooms.Drop(RoomName(sess.ID))

	res, err := f.svc.Reconcile(ctx)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.Completed != 0 {
		t.Fatalf("completed a session inside the grace period: %+v", res)
	}
	if got := f.reload(t, sess.ID); got.Status != model.StatusLive {
		t.Fatalf("unexpected status %s", got.Status)
	}
}

func TestReconcileKeepsRoomsOfUnknownAge(t *testing.T) {
	f := newFixture(t)
	f.rooms.Put(videoroom.Room{Name: RoomName("unknown")})

	res, err := f.svc.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.OrphansDeleted != 0 || !f.rooms.Has(RoomName("unknown")) {
		t.Fatalf("deleted a room without a creation time: %+v", res)
	}
}

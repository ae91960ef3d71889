// Package classroomtest provides in-memory collaborators for exercising the classroom service.
package classroomtest

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"liveclass/internal/model"
	"liveclass/internal/queue"
	"liveclass/internal/store"
	"liveclass/internal/videoroom"
)

// ErrInjected is returned by fakes whose failure toggle is set.
var ErrInjected = errors.New("injected failure")

// Store is an in-memory classroom.Store and account user store.
type Store struct {
	mu           sync.Mutex
	users        map[string]*model.User
	sessions     map[string]*model.Session
	participants map[string]*model.SessionParticipant // key sessionID|studentID
	events       []model.SessionEvent

	ShouldFail bool
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		users:        map[string]*model.User{},
		sessions:     map[string]*model.Session{},
		participants: map[string]*model.SessionParticipant{},
	}
}

func pkey(sessionID, studentID string) string { return sessionID + "|" + studentID }

func (s *Store) fail() error {
	if s.ShouldFail {
		return ErrInjected
	}
	return nil
}

// AddUser seeds a user and returns it. An empty id is assigned.
func (s *Store) AddUser(u model.User) *model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	cp := u
	s.users[u.ID] = &cp
	return &u
}

func (s *Store) CreateUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return store.ErrDuplicateEmail
		}
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.CreatedAt = time.Now().UTC()
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *Store) GetUserByID(_ context.Context, id string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return nil, err
	}
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return nil, err
	}
	for _, u := range s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *Store) SetProfilePicture(_ context.Context, userID, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}
	if u, ok := s.users[userID]; ok {
		u.ProfilePicture = &url
	}
	return nil
}

// PutSession seeds or overwrites a session as-is.
func (s *Store) PutSession(sess model.Session) *model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	cp := sess
	s.sessions[sess.ID] = &cp
	return &sess
}

func (s *Store) CreateSession(_ context.Context, sess *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	sess.CreatedAt, sess.UpdatedAt = now, now
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *Store) GetSession(_ context.Context, id string) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return nil, err
	}
	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *sess
	return &cp, nil
}

func (s *Store) summary(id string) model.UserSummary {
	u, ok := s.users[id]
	if !ok {
		return model.UserSummary{ID: id}
	}
	return model.UserSummary{ID: u.ID, Name: u.Name, Email: u.Email, ProfilePicture: u.ProfilePicture}
}

func (s *Store) participantsOf(sessionID string) []model.Participant {
	out := []model.Participant{}
	for _, p := range s.participants {
		if p.SessionID != sessionID {
			continue
		}
		student := s.summary(p.StudentID)
		student.Email = ""
		out = append(out, model.Participant{SessionParticipant: *p, Student: student})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out
}

func (s *Store) GetSessionDetail(_ context.Context, id string) (*model.SessionDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return nil, err
	}
	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	return &model.SessionDetail{
		Session:      *sess,
		Teacher:      s.summary(sess.TeacherID),
		Participants: s.participantsOf(id),
	}, nil
}

func (s *Store) ListSessions(_ context.Context, f model.SessionFilter) ([]model.SessionSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return nil, err
	}
	out := []model.SessionSummary{}
	for _, sess := range s.sessions {
		if f.Status != "" && sess.Status != f.Status {
			continue
		}
		if f.TeacherID != "" && sess.TeacherID != f.TeacherID {
			continue
		}
		if f.Upcoming && (sess.StartTime == nil || sess.StartTime.Before(f.Now)) {
			continue
		}
		if f.Past && (sess.EndTime == nil || !sess.EndTime.Before(f.Now)) {
			continue
		}
		if f.ViewerStudentID != "" && sess.Status != model.StatusScheduled {
			if _, ok := s.participants[pkey(sess.ID, f.ViewerStudentID)]; !ok {
				continue
			}
		}
		out = append(out, model.SessionSummary{
			Session:          *sess,
			Teacher:          s.summary(sess.TeacherID),
			ParticipantCount: len(s.participantsOf(sess.ID)),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].StartTime, out[j].StartTime
		switch {
		case a == nil && b == nil:
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		case a == nil:
			return false
		case b == nil:
			return true
		}
		return a.Before(*b)
	})
	return out, nil
}

func (s *Store) ListLiveSessions(_ context.Context) ([]model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return nil, err
	}
	var out []model.Session
	for _, sess := range s.sessions {
		if sess.Status == model.StatusLive {
			out = append(out, *sess)
		}
	}
	return out, nil
}

func (s *Store) UpdateSession(_ context.Context, sess *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}
	cur, ok := s.sessions[sess.ID]
	if !ok || cur.Status.Terminal() {
		return store.ErrSessionStateChanged
	}
	cur.Title = sess.Title
	cur.Description = sess.Description
	cur.StartTime = sess.StartTime
	cur.UpdatedAt = time.Now().UTC()
	sess.Status = cur.Status
	sess.EndTime = cur.EndTime
	sess.RoomName = cur.RoomName
	sess.UpdatedAt = cur.UpdatedAt
	return nil
}

func (s *Store) MarkSessionLive(_ context.Context, id, roomName string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}
	sess, ok := s.sessions[id]
	if !ok || sess.Status != model.StatusScheduled {
		return store.ErrSessionStateChanged
	}
	sess.Status = model.StatusLive
	sess.RoomName = &roomName
	sess.StartTime = &at
	return nil
}

func (s *Store) MarkSessionEnded(_ context.Context, id string, from, to model.Status, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}
	sess, ok := s.sessions[id]
	if !ok || sess.Status != from {
		return store.ErrSessionStateChanged
	}
	sess.Status = to
	sess.EndTime = &at
	sess.RoomName = nil
	return nil
}

func (s *Store) GetParticipant(_ context.Context, sessionID, studentID string) (*model.SessionParticipant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return nil, err
	}
	p, ok := s.participants[pkey(sessionID, studentID)]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *Store) AddParticipant(_ context.Context, sessionID, studentID string) (*model.SessionParticipant, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return nil, false, err
	}
	if p, ok := s.participants[pkey(sessionID, studentID)]; ok {
		cp := *p
		return &cp, false, nil
	}
	p := &model.SessionParticipant{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		StudentID: studentID,
		JoinedAt:  time.Now().UTC().Add(time.Duration(len(s.participants)) * time.Millisecond),
	}
	s.participants[pkey(sessionID, studentID)] = p
	cp := *p
	return &cp, true, nil
}

func (s *Store) RemoveParticipant(_ context.Context, sessionID, studentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return false, err
	}
	k := pkey(sessionID, studentID)
	if _, ok := s.participants[k]; !ok {
		return false, nil
	}
	delete(s.participants, k)
	return true, nil
}

// ParticipantCount reports the enrolment rows for a session.
func (s *Store) ParticipantCount(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.participantsOf(sessionID))
}

func (s *Store) InsertEvent(_ context.Context, evt model.SessionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}
	if evt.ID == "" {
		evt.ID = strconv.Itoa(len(s.events) + 1)
	}
	s.events = append(s.events, evt)
	return nil
}

// Events returns recorded audit rows.
func (s *Store) Events() []model.SessionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.SessionEvent(nil), s.events...)
}

// Rooms is an in-memory classroom.RoomService.
type Rooms struct {
	mu    sync.Mutex
	rooms map[string]videoroom.Room

	FailCreate bool
	FailList   bool
	FailDelete bool
	FailMint   bool
	// ShortToken makes MintToken return a value below the plausibility threshold.
	ShortToken bool

	Creates int
	Deletes []string
	Minted  []videoroom.TokenRequest
}

// NewRooms returns a service with no running rooms.
func NewRooms() *Rooms {
	return &Rooms{rooms: map[string]videoroom.Room{}}
}

// Put adds a running room directly.
func (r *Rooms) Put(room videoroom.Room) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms[room.Name] = room
}

// Has reports whether name is running.
func (r *Rooms) Has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rooms[name]
	return ok
}

// Drop removes a room without recording a delete, as if it expired.
func (r *Rooms) Drop(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms, name)
}

func (r *Rooms) CreateRoom(_ context.Context, spec videoroom.RoomSpec) (*videoroom.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Creates++
	if r.FailCreate {
		return nil, ErrInjected
	}
	if existing, ok := r.rooms[spec.Name]; ok {
		return &existing, nil
	}
	room := videoroom.Room{
		Name:            spec.Name,
		SID:             "RM_" + spec.Name,
		EmptyTimeout:    spec.EmptyTimeout,
		MaxParticipants: spec.MaxParticipants,
		CreationTime:    time.Now().UTC(),
		Metadata:        spec.Metadata,
	}
	r.rooms[spec.Name] = room
	return &room, nil
}

func (r *Rooms) ListRooms(_ context.Context, names ...string) ([]videoroom.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailList {
		return nil, ErrInjected
	}
	var out []videoroom.Room
	if len(names) == 0 {
		for _, room := range r.rooms {
			out = append(out, room)
		}
		return out, nil
	}
	for _, n := range names {
		if room, ok := r.rooms[n]; ok {
			out = append(out, room)
		}
	}
	return out, nil
}

func (r *Rooms) DeleteRoom(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailDelete {
		return ErrInjected
	}
	delete(r.rooms, name)
	r.Deletes = append(r.Deletes, name)
	return nil
}

func (r *Rooms) MintToken(req videoroom.TokenRequest) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailMint {
		return "", ErrInjected
	}
	r.Minted = append(r.Minted, req)
	if r.ShortToken {
		return "x", nil
	}
	return "token-" + req.Grant.Room + "-" + strconv.Itoa(len(r.Minted)), nil
}

// LastGrant returns the most recent token request.
func (r *Rooms) LastGrant() videoroom.TokenRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Minted) == 0 {
		return videoroom.TokenRequest{}
	}
	return r.Minted[len(r.Minted)-1]
}

// Publisher records published messages.
type Publisher struct {
	mu       sync.Mutex
	Messages []queue.Message

	ShouldFail bool
}

func (p *Publisher) Publish(_ context.Context, msg queue.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ShouldFail {
		return ErrInjected
	}
	p.Messages = append(p.Messages, msg)
	return nil
}

// Types lists published message types in order.
func (p *Publisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.Messages))
	for _, m := range p.Messages {
		out = append(out, m.Type)
	}
	return out
}

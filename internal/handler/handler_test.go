package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"liveclass/internal/account"
	"liveclass/internal/auth"
	"liveclass/internal/classroom"
	"liveclass/internal/classroom/classroomtest"
	"liveclass/internal/model"
)

const (
	testKey    = "secret"
	testIssuer = "liveclass"
)

type testAPI struct {
	router  *gin.Engine
	store   *classroomtest.Store
	rooms   *classroomtest.Rooms
	teacher *model.User
	student *model.User
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)
	api := &testAPI{store: classroomtest.NewStore(), rooms: classroomtest.NewRooms()}
	classes := classroom.NewService(api.store, api.rooms, &classroomtest.Publisher{}, classroom.RoomConfig{}, zap.NewNop())
	accounts := account.NewService(api.store, nil, account.TokenConfig{Issuer: testIssuer, SigningKey: testKey}, zap.NewNop())
	h := New(classes, accounts, zap.NewNop())

	api.router = gin.New()
	h.Register(api.router, auth.Authenticate(testKey, testIssuer, api.store, zap.NewNop()))
	api.teacher = api.store.AddUser(model.User{Name: "Grace", Email: "grace@example.com", Role: model.RoleTeacher})
	api.student = api.store.AddUser(model.User{Name: "Ada", Email: "ada@example.com", Role: model.RoleStudent})
	return api
}

func (a *testAPI) do(t *testing.T, method, path string, as *model.User, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if as != nil {
		tok, err := auth.Issue(as.ID, string(as.Role), testIssuer, testKey, time.Minute)
		if err != nil {
			t.Fatalf("issue token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+tok.Value)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

type errorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

func TestClassroomFlowOverHTTP(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodPost, "/api/session/create", a.teacher, map[string]any{"title": "Algebra"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create session: %d %s", w.Code, w.Body.String())
	}
	sess := decode[model.Session](t, w)

	w = a.do(t, http.MethodGet, "/api/session", a.student, nil)
	list := decode[[]model.SessionSummary](t, w)
	if w.Code != http.StatusOK || len(list) != 1 || list[0].Status != model.StatusScheduled || list[0].Teacher.Name != "Grace" {
		t.Fatalf("list sessions: %d %s", w.Code, w.Body.String())
	}

	if w := a.do(t, http.MethodPost, "/api/rooms/"+sess.ID, a.student, nil); w.Code != http.StatusForbidden {
		t.Fatalf("student create room: expected 403, got %d", w.Code)
	}
	w = a.do(t, http.MethodPost, "/api/rooms/"+sess.ID, a.teacher, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create room: %d %s", w.Code, w.Body.String())
	}
	w = a.do(t, http.MethodGet, "/api/session/"+sess.ID, a.student, nil)
	detail := decode[model.SessionDetail](t, w)
	if detail.Status != model.StatusLive || detail.RoomName == nil || *detail.RoomName != "session-"+sess.ID {
		t.Fatalf("session after room start: %s", w.Body.String())
	}

	w = a.do(t, http.MethodPost, "/api/token/"+sess.ID, a.student, map[string]any{"metadata": map[string]any{"seat": 3}})
	if w.Code != http.StatusOK || decode[map[string]string](t, w)["token"] == "" {
		t.Fatalf("student token: %d %s", w.Code, w.Body.String())
	}
	if a.rooms.LastGrant().Grant.CanPublish {
		t.Fatalf("student token can publish")
	}
	if n := a.store.ParticipantCount(sess.ID); n != 1 {
		t.Fatalf("expected auto-enrolment, got %d participants", n)
	}

	w = a.do(t, http.MethodGet, "/api/rooms/"+sess.ID, a.student, nil)
	details := decode[classroom.RoomDetails](t, w)
	if w.Code != http.StatusOK || details.Room.NumParticipants != 1 {
		t.Fatalf("room details: %d %s", w.Code, w.Body.String())
	}

	if w := a.do(t, http.MethodPost, "/api/rooms/"+sess.ID+"/end", a.teacher, nil); w.Code != http.StatusOK {
		t.Fatalf("end room: %d %s", w.Code, w.Body.String())
	}
	w = a.do(t, http.MethodPost, "/api/token/"+sess.ID, a.student, nil)
	if w.Code != http.StatusNotFound || decode[errorBody](t, w).Code != "no_active_room_yet" {
		t.Fatalf("token after end: %d %s", w.Code, w.Body.String())
	}

	w = a.do(t, http.MethodPut, "/api/session/"+sess.ID, a.teacher, map[string]any{"title": "Again"})
	if w.Code != http.StatusBadRequest || decode[errorBody](t, w).Code != "session_closed" {
		t.Fatalf("update completed session: %d %s", w.Code, w.Body.String())
	}
}

func TestJoinAndLeaveOverHTTP(t *testing.T) {
	a := newTestAPI(t)
	sess := a.store.PutSession(model.Session{Title: "Algebra", Status: model.StatusScheduled, TeacherID: a.teacher.ID})
	path := "/api/session/" + sess.ID

	if w := a.do(t, http.MethodPost, path+"/join", a.teacher, nil); w.Code != http.StatusForbidden {
		t.Fatalf("teacher join: expected 403, got %d", w.Code)
	}
	if w := a.do(t, http.MethodPost, path+"/join", a.student, nil); w.Code != http.StatusCreated {
		t.Fatalf("first join: %d %s", w.Code, w.Body.String())
	}
	if w := a.do(t, http.MethodPost, path+"/join", a.student, nil); w.Code != http.StatusOK {
		t.Fatalf("second join: %d %s", w.Code, w.Body.String())
	}
	if w := a.do(t, http.MethodPost, path+"/leave", a.student, nil); w.Code != http.StatusOK {
		t.Fatalf("leave: %d %s", w.Code, w.Body.String())
	}
	w := a.do(t, http.MethodPost, path+"/leave", a.student, nil)
	if w.Code != http.StatusNotFound || decode[errorBody](t, w).Code != "not_a_participant" {
		t.Fatalf("second leave: %d %s", w.Code, w.Body.String())
	}
}

func TestRosterExportOverHTTP(t *testing.T) {
	a := newTestAPI(t)
	sess := a.store.PutSession(model.Session{Title: "Algebra", Status: model.StatusScheduled, TeacherID: a.teacher.ID})
	if _, _, err := a.store.AddParticipant(context.Background(), sess.ID, a.student.ID); err != nil {
		t.Fatalf("seed participant: %v", err)
	}
	if w := a.do(t, http.MethodGet, "/api/session/"+sess.ID+"/roster.xlsx", a.student, nil); w.Code != http.StatusForbidden {
		t.Fatalf("student export: expected 403, got %d", w.Code)
	}
	w := a.do(t, http.MethodGet, "/api/session/"+sess.ID+"/roster.xlsx", a.teacher, nil)
	if w.Code != http.StatusOK || w.Body.Len() == 0 {
		t.Fatalf("export: %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet" {
		t.Fatalf("unexpected content type %s", ct)
	}
}

func TestAuthRoutes(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodPost, "/api/auth/register", nil, map[string]string{"name": "Linus", "email": "linus@example.com", "password": "pw", "role": "STUDENT"})
	if w.Code != http.StatusCreated {
		t.Fatalf("register: %d %s", w.Code, w.Body.String())
	}
	w = a.do(t, http.MethodPost, "/api/auth/register", nil, map[string]string{"name": "Linus", "email": "linus@example.com", "password": "pw", "role": "STUDENT"})
	if w.Code != http.StatusBadRequest || decode[errorBody](t, w).Message != "User already exists" {
		t.Fatalf("duplicate register: %d %s", w.Code, w.Body.String())
	}

	w = a.do(t, http.MethodPost, "/api/auth/login", nil, map[string]string{"email": "linus@example.com", "password": "pw"})
	if w.Code != http.StatusOK {
		t.Fatalf("login: %d %s", w.Code, w.Body.String())
	}
	body := decode[struct {
		User  model.User `json:"user"`
		Token string     `json:"token"`
	}](t, w)
	if body.Token == "" || body.User.Email != "linus@example.com" {
		t.Fatalf("unexpected login body %s", w.Body.String())
	}
	if bytes.Contains(w.Body.Bytes(), []byte("password")) {
		t.Fatalf("login response leaks password hash: %s", w.Body.String())
	}

	if w := a.do(t, http.MethodPost, "/api/auth/login", nil, map[string]string{"email": "linus@example.com", "password": "nope"}); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad login: expected 401, got %d", w.Code)
	}
	if w := a.do(t, http.MethodGet, "/api/auth/me", nil, nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("me without token: expected 401, got %d", w.Code)
	}
	if w := a.do(t, http.MethodGet, "/api/auth/me", a.student, nil); w.Code != http.StatusOK {
		t.Fatalf("me: %d", w.Code)
	}
	w = a.do(t, http.MethodPost, "/api/users/me/avatar", a.student, map[string]string{"data": "data:image/png;base64,AAAA"})
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("avatar without storage: expected 503, got %d", w.Code)
	}
}

func TestRoomsUnavailableOverHTTP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := classroomtest.NewStore()
	teacher := store.AddUser(model.User{Name: "Grace", Role: model.RoleTeacher})
	sess := store.PutSession(model.Session{Title: "Algebra", Status: model.StatusScheduled, TeacherID: teacher.ID})
	h := New(classroom.NewService(store, nil, nil, classroom.RoomConfig{}, nil), account.NewService(store, nil, account.TokenConfig{SigningKey: testKey}, nil), nil)
	r := gin.New()
	h.Register(r, auth.Authenticate(testKey, testIssuer, store, zap.NewNop()))
	a := &testAPI{router: r, store: store}

	w := a.do(t, http.MethodPost, "/api/rooms/"+sess.ID, teacher, nil)
	if w.Code != http.StatusServiceUnavailable || decode[errorBody](t, w).Code != "rooms_unavailable" {
		t.Fatalf("expected 503 rooms_unavailable, got %d %s", w.Code, w.Body.String())
	}
}

type fixedCheck bool

func (f fixedCheck) Healthy(context.Context) bool { return bool(f) }

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ok", Health(map[string]Checker{"db": fixedCheck(true)}))
	r.GET("/bad", Health(map[string]Checker{"db": fixedCheck(true), "redis": fixedCheck(false)}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("healthy: %d", w.Code)
	}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/bad", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("degraded: %d", w.Code)
	}
}

package model

import (
	"encoding/json"
	"time"
)

// Role is a user's fixed role in the classroom.
type Role string

const (
	RoleTeacher Role = "TEACHER"
	RoleStudent Role = "STUDENT"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleTeacher || r == RoleStudent
}

// Status is the lifecycle state of a class session.
type Status string

const (
	StatusScheduled Status = "SCHEDULED"
	StatusLive      Status = "LIVE"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusLive, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Joinable reports whether students may enrol in a session in state s.
func (s Status) Joinable() bool {
	return s == StatusScheduled || s == StatusLive
}

// User is a registered account. PasswordHash never leaves the server.
type User struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	PasswordHash   string    `json:"-"`
	Role           Role      `json:"role"`
	ProfilePicture *string   `json:"profilePicture"`
	CreatedAt      time.Time `json:"createdAt"`
}

// UserSummary is the public projection of a user embedded in other views.
type UserSummary struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Email          string  `json:"email,omitempty"`
	ProfilePicture *string `json:"profilePicture"`
}

// Session is a scheduled or running class owned by one teacher.
type Session struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description *string    `json:"description"`
	Status      Status     `json:"status"`
	StartTime   *time.Time `json:"startTime"`
	EndTime     *time.Time `json:"endTime"`
	TeacherID   string     `json:"teacherId"`
	RoomName    *string    `json:"roomName"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// OwnedBy reports whether userID is the session's teacher.
func (s *Session) OwnedBy(userID string) bool {
	return s != nil && s.TeacherID == userID
}

// SessionParticipant records a student's enrolment in a session.
type SessionParticipant struct {
	ID        string    `json:"id"`
	StudentID string    `json:"studentId"`
	SessionID string    `json:"sessionId"`
	JoinedAt  time.Time `json:"joinedAt"`
}

// Participant is an enrolment joined with the student's public profile.
type Participant struct {
	SessionParticipant
	Student UserSummary `json:"student"`
}

// SessionSummary is a list row: the session, its teacher and its enrolment count.
type SessionSummary struct {
	Session
	Teacher          UserSummary `json:"teacher"`
	ParticipantCount int         `json:"participantCount"`
}

// SessionDetail is a session with its teacher and full participant list.
type SessionDetail struct {
	Session
	Teacher      UserSummary   `json:"teacher"`
	Participants []Participant `json:"participants"`
}

// SessionEvent is an audit record of a lifecycle or membership transition.
type SessionEvent struct {
	ID         string          `json:"id"`
	SessionID  string          `json:"sessionId"`
	Type       string          `json:"type"`
	ActorID    *string         `json:"actorId"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurredAt"`
}

// SessionFilter narrows a session listing. ViewerStudentID restricts results to sessions the
// student is enrolled in plus scheduled ones.
type SessionFilter struct {
	Status          Status
	TeacherID       string
	Upcoming        bool
	Past            bool
	Now             time.Time
	ViewerStudentID string
}

package classroom

import "liveclass/internal/apperr"

var (
	ErrUnauthenticated = apperr.New(apperr.KindUnauthenticated, "unauthenticated", "Unauthorized")

	ErrNotTeacher   = apperr.New(apperr.KindForbidden, "not_teacher", "Only teachers can create sessions")
	ErrNotOwner     = apperr.New(apperr.KindForbidden, "not_owner", "Only the session teacher can perform this action")
	ErrNotStudent   = apperr.New(apperr.KindForbidden, "not_student", "Only students can join sessions")
	ErrNoRoomAccess = apperr.New(apperr.KindForbidden, "no_room_access", "You do not have access to this room")

	ErrSessionNotFound = apperr.New(apperr.KindNotFound, "session_not_found", "Session not found")
	ErrNoActiveRoom    = apperr.New(apperr.KindNotFound, "no_active_room", "This session does not have an active room")
	ErrNoActiveRoomYet = apperr.New(apperr.KindNotFound, "no_active_room_yet", "This session does not have an active room yet")
	ErrNotAParticipant = apperr.New(apperr.KindNotFound, "not_a_participant", "You are not a participant in this session")

	ErrTitleRequired      = apperr.New(apperr.KindInvalidInput, "title_required", "Title is required")
	ErrInvalidStatus      = apperr.New(apperr.KindInvalidInput, "invalid_status", "Unknown session status")
	ErrSessionClosed      = apperr.New(apperr.KindInvalidInput, "session_closed", "Cannot update a completed or cancelled session")
	ErrInvalidTransition  = apperr.New(apperr.KindInvalidInput, "invalid_transition", "Session status can only be changed to CANCELLED")
	ErrSessionNotJoinable = apperr.New(apperr.KindInvalidInput, "session_not_joinable", "This session is not available for joining")
	ErrSessionEnded       = apperr.New(apperr.KindInvalidInput, "session_ended", "This session has already ended")

	ErrRoomCreateFailed      = apperr.New(apperr.KindCollaborator, "room_create_failed", "Failed to create room")
	ErrRoomDeleteFailed      = apperr.New(apperr.KindCollaborator, "room_delete_failed", "Failed to end the room")
	ErrRoomLookupFailed      = apperr.New(apperr.KindCollaborator, "room_lookup_failed", "Failed to get room details")
	ErrTokenGenerationFailed = apperr.New(apperr.KindCollaborator, "token_generation_failed", "Failed to generate valid token")
	ErrStoreFailed           = apperr.New(apperr.KindCollaborator, "store_failed", "Failed to access session data")

	ErrRoomsUnavailable = apperr.New(apperr.KindUnavailable, "rooms_unavailable", "Video rooms are not configured")

	ErrSessionChanged = apperr.New(apperr.KindConflict, "session_changed", "The session changed while updating it, reload and retry")
)

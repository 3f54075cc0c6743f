package relay

import "fmt"

// ErrorKind identifies a non-fatal signaling failure. Errors are reported to
// the originating connection only and never tear down its WebSocket.
type ErrorKind string

const (
	// ErrDuplicateJoin: the connection already joined a room. A connection
	// joins at most one room for its lifetime; re-joining the same room is
	// rejected the same way.
	ErrDuplicateJoin ErrorKind = "duplicate_join"
	// ErrNotJoined: the operation requires room membership.
	ErrNotJoined ErrorKind = "not_joined"
	// ErrAlreadyMember: a membership-table caller added a connection that is
	// already a member. The join guard fires first, so the wire never carries
	// this kind; it stays in the vocabulary for directory-level callers.
	ErrAlreadyMember ErrorKind = "already_member"
	// ErrUnknownConnection: no registered connection with that id.
	ErrUnknownConnection ErrorKind = "unknown_connection"
	// ErrTargetNotFound: the target peer does not exist or is in another room.
	ErrTargetNotFound ErrorKind = "target_not_found"
	// ErrMalformedMessage: the message failed wire-level validation.
	ErrMalformedMessage ErrorKind = "malformed_message"
	// ErrRoomFull: MAX_PEERS_PER_ROOM reached.
	ErrRoomFull ErrorKind = "room_full"
	// ErrTooManyRooms: MAX_ROOMS reached and the target room does not exist.
	ErrTooManyRooms ErrorKind = "too_many_rooms"
)

type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

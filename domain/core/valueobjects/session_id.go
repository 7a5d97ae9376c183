package valueobjects

import (
	"github.com/oklog/ulid/v2"

	pkgerrors "topicgrader/pkg/errors"
	"topicgrader/pkg/utils"
)

// SessionID identifies an isolated conversation session
type SessionID string

// NewSessionID generates a lexically sortable session id
func NewSessionID() SessionID {
	return SessionID(ulid.Make().String())
}

// ParseSessionID validates a caller-supplied session id
func ParseSessionID(s string) (SessionID, error) {
	if !utils.IsValidSessionID(s) {
		return "", pkgerrors.Validation(pkgerrors.ErrInvalidSessionID, "invalid session id %q", s)
	}
	return SessionID(s), nil
}

// String returns the string representation
func (id SessionID) String() string {
	return string(id)
}

// IsZero reports whether the id is empty
func (id SessionID) IsZero() bool {
	return id == ""
}

package eventbus

import "github.com/google/uuid"

// NewEventID generates a fresh random event identifier, the same
// uuid.New().String() idiom used for request/session identifiers
// elsewhere in the pack.
func NewEventID() EventID {
	return EventID(uuid.New().String())
}

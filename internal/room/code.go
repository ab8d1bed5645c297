package room

import (
	"strings"

	"github.com/google/uuid"
)

// codeLength is the length of the short room code shown to participants.
const codeLength = 6

// newCode generates a candidate room code. Uniqueness against live rooms is
// the store's job; this is just the raw generator.
func newCode() string {
	return strings.ToUpper(uuid.New().String()[:codeLength])
}

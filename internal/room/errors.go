package room

import "errors"

// Sentinel errors for the room store. All are recoverable caller conditions;
// the gateway maps them to error messages for the originating connection.
var (
	ErrInvalidConfig = errors.New("room must have at least two distinct options")
	ErrRoomNotFound  = errors.New("room not found")
	ErrPollEnded     = errors.New("voting has ended for this poll")
	ErrInvalidOption = errors.New("option is not part of this poll")
	ErrAlreadyVoted  = errors.New("you have already voted")
)

package gateway

import (
	"github.com/snapvote/snapvote/internal/room"
)

// ClientMessageType identifies an inbound participant action.
type ClientMessageType string

const (
	MessageCreateRoom ClientMessageType = "create_room"
	MessageJoinRoom   ClientMessageType = "join_room"
	MessageSubmitVote ClientMessageType = "submit_vote"
)

// ClientMessage is the envelope for every inbound WebSocket message. Fields
// beyond Type are populated per message type; unused ones stay empty.
// Question and Options are optional on create_room; when omitted the store
// falls back to its default poll.
type ClientMessage struct {
	Type     ClientMessageType `json:"type"`
	Username string            `json:"username,omitempty"`
	RoomID   string            `json:"roomId,omitempty"`
	Option   string            `json:"option,omitempty"`
	Question string            `json:"question,omitempty"`
	Options  []string          `json:"options,omitempty"`
}

// ServerEventType identifies an outbound event.
type ServerEventType string

const (
	EventRoomCreated ServerEventType = "room_created"
	EventRoomJoined  ServerEventType = "room_joined"
	EventVoteUpdate  ServerEventType = "vote_update"
	EventPollEnded   ServerEventType = "poll_ended"
	EventError       ServerEventType = "error"
)

// ServerEvent is the envelope for every outbound WebSocket event. Room is
// set on snapshot-bearing events, Message on errors.
type ServerEvent struct {
	Type    ServerEventType `json:"type"`
	Room    *room.Room      `json:"room,omitempty"`
	Message string          `json:"message,omitempty"`
}

func snapshotEvent(t ServerEventType, snap room.Room) *ServerEvent {
	return &ServerEvent{Type: t, Room: &snap}
}

func errorEvent(message string) *ServerEvent {
	return &ServerEvent{Type: EventError, Message: message}
}

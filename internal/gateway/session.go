package gateway

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/snapvote/snapvote/internal/room"
)

// RoomStore defines what the gateway needs from the room store.
type RoomStore interface {
	Create(question string, options []string, creator string) (room.Room, error)
	Get(id string) (room.Room, error)
	Exists(id string) bool
	RecordVote(id, participant, option string) (room.Room, error)
	End(id string) (room.Room, bool, error)
}

// Session relays participant actions into the room store and pushes the
// resulting snapshots back out. Snapshot-bearing replies go to the
// requester only; vote_update and poll_ended fan out to every connection
// bound to the room.
type Session struct {
	store   RoomStore
	manager *ConnectionManager

	// seq holds a per-room mutex around each mutate-then-enqueue pair, so
	// broadcasts reach the fan-out channel in mutation order.
	seq sync.Map // room code -> *sync.Mutex
}

// NewSession creates the session layer and installs it as the manager's
// message handler.
func NewSession(store RoomStore, manager *ConnectionManager) *Session {
	s := &Session{store: store, manager: manager}
	manager.SetHandler(s)
	return s
}

// HandleMessage decodes one inbound message and dispatches it. Malformed
// payloads are answered with an error event and never reach the store.
func (s *Session) HandleMessage(conn *Connection, data []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Debug().
			Err(err).
			Str("connection_id", conn.ID).
			Msg("malformed client message")
		s.manager.SendToConnection(conn, errorEvent("Invalid message"))
		return
	}

	switch msg.Type {
	case MessageCreateRoom:
		s.handleCreateRoom(conn, msg)
	case MessageJoinRoom:
		s.handleJoinRoom(conn, msg)
	case MessageSubmitVote:
		s.handleSubmitVote(conn, msg)
	default:
		s.manager.SendToConnection(conn, errorEvent("Unknown message type"))
	}
}

func (s *Session) handleCreateRoom(conn *Connection, msg ClientMessage) {
	if msg.Username == "" {
		s.manager.SendToConnection(conn, errorEvent("Username is required"))
		return
	}

	snap, err := s.store.Create(msg.Question, msg.Options, msg.Username)
	if err != nil {
		s.manager.SendToConnection(conn, errorEvent(userMessage(err)))
		return
	}

	conn.Username = msg.Username
	s.manager.Bind(conn, snap.ID)
	s.manager.SendToConnection(conn, snapshotEvent(EventRoomCreated, snap))

	log.Info().
		Str("room_id", snap.ID).
		Str("username", msg.Username).
		Msg("room created by connection")
}

func (s *Session) handleJoinRoom(conn *Connection, msg ClientMessage) {
	if msg.Username == "" {
		s.manager.SendToConnection(conn, errorEvent("Username is required"))
		return
	}

	snap, err := s.store.Get(msg.RoomID)
	if err != nil {
		s.manager.SendToConnection(conn, errorEvent(userMessage(err)))
		return
	}

	conn.Username = msg.Username
	s.manager.Bind(conn, snap.ID)
	s.manager.SendToConnection(conn, snapshotEvent(EventRoomJoined, snap))

	log.Info().
		Str("room_id", snap.ID).
		Str("username", msg.Username).
		Msg("participant joined room")
}

func (s *Session) handleSubmitVote(conn *Connection, msg ClientMessage) {
	mu := s.roomSeq(msg.RoomID)
	mu.Lock()
	snap, err := s.store.RecordVote(msg.RoomID, msg.Username, msg.Option)
	if err == nil {
		// Enqueue while holding the sequence lock; the actual socket writes
		// happen on the manager's fan-out goroutine.
		s.manager.BroadcastToRoom(snap.ID, snapshotEvent(EventVoteUpdate, snap))
	}
	mu.Unlock()

	if err != nil {
		s.manager.SendToConnection(conn, errorEvent(userMessage(err)))
	}
}

// PollExpired ends a room and, if this call performed the actual
// transition, broadcasts the final snapshot. The scheduler invokes it at
// each room's deadline; duplicate invocations are harmless.
func (s *Session) PollExpired(roomID string) {
	mu := s.roomSeq(roomID)
	mu.Lock()
	snap, changed, err := s.store.End(roomID)
	if err == nil && changed {
		s.manager.BroadcastToRoom(snap.ID, snapshotEvent(EventPollEnded, snap))
	}
	mu.Unlock()

	if err != nil {
		// The room may have been evicted between scheduling and firing.
		log.Debug().Err(err).Str("room_id", roomID).Msg("expiry for unknown room")
	}
}

func (s *Session) roomSeq(roomID string) *sync.Mutex {
	mu, _ := s.seq.LoadOrStore(roomID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// userMessage maps store errors to the messages shown to participants.
func userMessage(err error) string {
	switch {
	case errors.Is(err, room.ErrRoomNotFound):
		return "Room not found"
	case errors.Is(err, room.ErrPollEnded):
		return "Voting has ended for this poll"
	case errors.Is(err, room.ErrAlreadyVoted):
		return "You have already voted"
	case errors.Is(err, room.ErrInvalidOption):
		return "That option is not part of this poll"
	case errors.Is(err, room.ErrInvalidConfig):
		return "A poll needs at least two distinct options"
	default:
		return "Something went wrong"
	}
}

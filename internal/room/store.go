package room

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// ExpiryScheduler is notified whenever a room is created so the poll can be
// ended at its deadline. The store does not own timers; the scheduler calls
// back into End when the deadline elapses.
type ExpiryScheduler interface {
	Schedule(roomID string, at time.Time)
}

// Config holds construction options for a Store.
type Config struct {
	// Duration is the voting window for every room. Defaults to 60s.
	Duration time.Duration

	// Clock is the time source. Defaults to the real clock.
	Clock clockwork.Clock

	// Scheduler receives the end deadline of every created room. Optional;
	// without one, rooms still refuse votes past their deadline but nobody
	// drives the ended-state broadcast.
	Scheduler ExpiryScheduler
}

// DefaultDuration is the fixed voting window applied when Config.Duration
// is zero.
const DefaultDuration = 60 * time.Second

// state is the live, mutable form of a room. All fields past the mutex are
// guarded by it; the exported Room type is always a deep copy.
type state struct {
	mu        sync.Mutex
	id        string
	creator   string
	question  string
	options   []string
	votes     map[string]int
	voters    map[string]string
	startTime time.Time
	endTime   time.Time
	active    bool
}

// Store is the in-memory registry of poll rooms. Construct one per process
// and hand it to the gateway and the scheduler; there is no package-level
// instance. Distinct rooms mutate in parallel; mutations to one room are
// serialized by its own lock.
type Store struct {
	mu    sync.RWMutex
	rooms map[string]*state

	duration time.Duration
	clock    clockwork.Clock
	sched    ExpiryScheduler
}

// NewStore creates an empty room store.
func NewStore(cfg Config) *Store {
	if cfg.Duration <= 0 {
		cfg.Duration = DefaultDuration
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Store{
		rooms:    make(map[string]*state),
		duration: cfg.Duration,
		clock:    cfg.Clock,
		sched:    cfg.Scheduler,
	}
}

// Create validates the poll configuration, registers a new room under a
// fresh short code and returns its initial snapshot. An empty question or
// nil options select the defaults, matching creation from a bare username.
func (s *Store) Create(question string, options []string, creator string) (Room, error) {
	if question == "" {
		question = DefaultQuestion
	}
	if len(options) == 0 {
		options = DefaultOptions()
	}
	if len(options) < 2 {
		return Room{}, ErrInvalidConfig
	}
	seen := make(map[string]struct{}, len(options))
	for _, opt := range options {
		if opt == "" {
			return Room{}, ErrInvalidConfig
		}
		if _, dup := seen[opt]; dup {
			return Room{}, ErrInvalidConfig
		}
		seen[opt] = struct{}{}
	}

	now := s.clock.Now()
	st := &state{
		creator:   creator,
		question:  question,
		options:   append([]string(nil), options...),
		votes:     make(map[string]int, len(options)),
		voters:    make(map[string]string),
		startTime: now,
		endTime:   now.Add(s.duration),
		active:    true,
	}
	for _, opt := range st.options {
		st.votes[opt] = 0
	}

	s.mu.Lock()
	for {
		code := newCode()
		if _, taken := s.rooms[code]; !taken {
			st.id = code
			s.rooms[code] = st
			break
		}
	}
	s.mu.Unlock()

	if s.sched != nil {
		s.sched.Schedule(st.id, st.endTime)
	}

	log.Info().
		Str("room_id", st.id).
		Str("creator", creator).
		Time("end_time", st.endTime).
		Msg("room created")

	return s.snapshot(st), nil
}

// Get returns the current snapshot of a room.
func (s *Store) Get(id string) (Room, error) {
	st, ok := s.lookup(id)
	if !ok {
		return Room{}, ErrRoomNotFound
	}
	return s.snapshot(st), nil
}

// Exists reports whether a room is registered. Used by the join-validation
// path before a participant attempts to join.
func (s *Store) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rooms[id]
	return ok
}

// RecordVote applies the vote ledger: the room must exist and be active, the
// option must belong to the poll and the participant must not have voted
// before. All guards run before any mutation, so a failed vote leaves the
// tally and voter set untouched. Returns the post-mutation snapshot.
func (s *Store) RecordVote(id, participant, option string) (Room, error) {
	st, ok := s.lookup(id)
	if !ok {
		return Room{}, ErrRoomNotFound
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	// The deadline check covers the window between the poll expiring and the
	// scheduler getting around to ending it: a vote racing the timer loses.
	if !st.active || !s.clock.Now().Before(st.endTime) {
		return Room{}, ErrPollEnded
	}
	if _, valid := st.votes[option]; !valid {
		return Room{}, ErrInvalidOption
	}
	if _, voted := st.voters[participant]; voted {
		return Room{}, ErrAlreadyVoted
	}

	st.votes[option]++
	st.voters[participant] = option

	log.Debug().
		Str("room_id", id).
		Str("participant", participant).
		Str("option", option).
		Msg("vote recorded")

	return s.snapshotLocked(st), nil
}

// End transitions a room to inactive. It is idempotent: the returned bool is
// true only for the call that actually performed the active->false
// transition, so the caller broadcasts the ended state exactly once.
func (s *Store) End(id string) (Room, bool, error) {
	st, ok := s.lookup(id)
	if !ok {
		return Room{}, false, ErrRoomNotFound
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	changed := st.active
	st.active = false
	if changed {
		log.Info().
			Str("room_id", id).
			Int("voters", len(st.voters)).
			Msg("poll ended")
	}
	return s.snapshotLocked(st), changed, nil
}

// Evict removes ended rooms whose deadline passed more than olderThan ago
// and returns how many were removed. Retention is an operational bound on
// the registry, not part of the poll lifecycle; live rooms are never
// touched.
func (s *Store) Evict(olderThan time.Duration) int {
	cutoff := s.clock.Now().Add(-olderThan)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, st := range s.rooms {
		st.mu.Lock()
		expired := st.endTime.Before(cutoff)
		st.mu.Unlock()
		if expired {
			delete(s.rooms, id)
			removed++
		}
	}
	if removed > 0 {
		log.Info().Int("rooms", removed).Msg("evicted ended rooms")
	}
	return removed
}

// Len reports the number of registered rooms.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}

func (s *Store) lookup(id string) (*state, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.rooms[id]
	return st, ok
}

func (s *Store) snapshot(st *state) Room {
	st.mu.Lock()
	defer st.mu.Unlock()
	return s.snapshotLocked(st)
}

// snapshotLocked deep-copies the room state. Callers must hold st.mu.
// Active is computed against the clock so observations past the deadline
// report an ended poll even before the scheduler fires.
func (s *Store) snapshotLocked(st *state) Room {
	votes := make(map[string]int, len(st.votes))
	for opt, n := range st.votes {
		votes[opt] = n
	}
	voters := make(map[string]string, len(st.voters))
	for name, opt := range st.voters {
		voters[name] = opt
	}
	return Room{
		ID:        st.id,
		Creator:   st.creator,
		Question:  st.question,
		Options:   append([]string(nil), st.options...),
		Votes:     votes,
		Voters:    voters,
		StartTime: st.startTime.UnixMilli(),
		EndTime:   st.endTime.UnixMilli(),
		Active:    st.active && s.clock.Now().Before(st.endTime),
	}
}

// Package schedule drives the poll deadline transitions. A single Scheduler
// owns a min-heap of (deadline, roomID) entries and one timer armed for the
// nearest deadline, instead of one ad hoc timer per room.
package schedule

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// ExpireFunc is invoked once for every scheduled room whose deadline has
// elapsed. It runs on the scheduler goroutine, so it must not block for
// long; the gateway hands broadcasts off to its own channel.
type ExpireFunc func(roomID string)

type entry struct {
	roomID string
	at     time.Time
}

// deadlineHeap orders entries by deadline, nearest first.
type deadlineHeap []entry

func (h deadlineHeap) Len() int            { return len(h) }
func (h deadlineHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h deadlineHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *deadlineHeap) Push(x interface{}) { *h = append(*h, x.(entry)) }
func (h *deadlineHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// Scheduler fires ExpireFunc at each scheduled deadline. Firing slightly
// late under load is acceptable; firing early is not, so the run loop
// re-arms whenever the heap head is still in the future.
type Scheduler struct {
	clock  clockwork.Clock
	expire ExpireFunc

	mu        sync.Mutex
	heap      deadlineHeap
	cancelled map[string]struct{}

	wakeCh chan struct{}
}

// NewScheduler creates a scheduler that calls expire for each elapsed
// deadline. A nil clock selects the real clock.
func NewScheduler(clock clockwork.Clock, expire ExpireFunc) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{
		clock:     clock,
		expire:    expire,
		cancelled: make(map[string]struct{}),
		wakeCh:    make(chan struct{}, 1),
	}
}

// Schedule registers a deadline for a room and wakes the run loop if the
// new deadline is nearer than whatever it is currently sleeping on.
func (s *Scheduler) Schedule(roomID string, at time.Time) {
	s.mu.Lock()
	delete(s.cancelled, roomID)
	heap.Push(&s.heap, entry{roomID: roomID, at: at})
	s.mu.Unlock()

	s.wake()

	log.Debug().
		Str("room_id", roomID).
		Time("deadline", at).
		Msg("deadline scheduled")
}

// Cancel suppresses a previously scheduled deadline. The base poll flow
// never cancels, but the hook keeps an early-close extension from needing a
// scheduler redesign.
func (s *Scheduler) Cancel(roomID string) {
	s.mu.Lock()
	s.cancelled[roomID] = struct{}{}
	s.mu.Unlock()
}

// Start runs the scheduling loop until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	log.Info().Msg("deadline scheduler started")

	for {
		next, ok := s.peek()
		if !ok {
			select {
			case <-ctx.Done():
				log.Info().Msg("deadline scheduler shutting down")
				return
			case <-s.wakeCh:
				continue
			}
		}

		d := next.Sub(s.clock.Now())
		if d <= 0 {
			s.fireDue()
			continue
		}

		timer := s.clock.NewTimer(d)
		select {
		case <-ctx.Done():
			stopAndDrainTimer(timer)
			log.Info().Msg("deadline scheduler shutting down")
			return
		case <-s.wakeCh:
			// A nearer deadline may have arrived; re-evaluate the heap.
			stopAndDrainTimer(timer)
		case <-timer.Chan():
			s.fireDue()
		}
	}
}

// fireDue pops every entry whose deadline has elapsed and invokes the
// expire callback for the ones that were not cancelled.
func (s *Scheduler) fireDue() {
	now := s.clock.Now()

	var due []string
	s.mu.Lock()
	for s.heap.Len() > 0 && !s.heap[0].at.After(now) {
		e := heap.Pop(&s.heap).(entry)
		if _, skip := s.cancelled[e.roomID]; skip {
			delete(s.cancelled, e.roomID)
			continue
		}
		due = append(due, e.roomID)
	}
	s.mu.Unlock()

	for _, roomID := range due {
		log.Debug().Str("room_id", roomID).Msg("deadline elapsed")
		s.expire(roomID)
	}
}

func (s *Scheduler) peek() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.heap.Len() == 0 {
		return time.Time{}, false
	}
	return s.heap[0].at, true
}

func (s *Scheduler) wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// stopAndDrainTimer stops a timer and drains its channel so an already
// fired timer cannot leak a stale tick into the next loop iteration.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}

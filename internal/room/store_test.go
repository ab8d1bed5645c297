package room

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	store := NewStore(Config{Clock: clock})
	return store, clock
}

func TestCreateAppliesDefaults(t *testing.T) {
	store, clock := newTestStore(t)

	snap, err := store.Create("", nil, "alice")
	require.NoError(t, err)

	assert.Len(t, snap.ID, 6)
	assert.Equal(t, "alice", snap.Creator)
	assert.Equal(t, DefaultQuestion, snap.Question)
	assert.Equal(t, []string{"Cats", "Dogs"}, snap.Options)
	assert.Equal(t, map[string]int{"Cats": 0, "Dogs": 0}, snap.Votes)
	assert.Empty(t, snap.Voters)
	assert.True(t, snap.Active)
	assert.Equal(t, clock.Now().UnixMilli(), snap.StartTime)
	assert.Equal(t, clock.Now().Add(DefaultDuration).UnixMilli(), snap.EndTime)
}

func TestCreateCustomPoll(t *testing.T) {
	store, _ := newTestStore(t)

	snap, err := store.Create("Lunch?", []string{"Pizza", "Sushi", "Tacos"}, "bob")
	require.NoError(t, err)

	assert.Equal(t, "Lunch?", snap.Question)
	assert.Equal(t, []string{"Pizza", "Sushi", "Tacos"}, snap.Options)
	assert.Equal(t, 0, snap.Votes["Sushi"])
}

func TestCreateInvalidConfig(t *testing.T) {
	store, _ := newTestStore(t)

	tests := []struct {
		name    string
		options []string
	}{
		{"single option", []string{"Only"}},
		{"duplicate options", []string{"Cats", "Cats"}},
		{"empty label", []string{"Cats", ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Create("Q?", tt.options, "alice")
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestGetAndExists(t *testing.T) {
	store, _ := newTestStore(t)

	snap, err := store.Create("", nil, "alice")
	require.NoError(t, err)

	assert.True(t, store.Exists(snap.ID))
	assert.False(t, store.Exists("NOPE42"))

	got, err := store.Get(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, snap.ID, got.ID)

	_, err = store.Get("NOPE42")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestVoteScenario(t *testing.T) {
	store, _ := newTestStore(t)

	snap, err := store.Create("", []string{"Cats", "Dogs"}, "alice")
	require.NoError(t, err)

	first, err := store.RecordVote(snap.ID, "alice", "Cats")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"Cats": 1, "Dogs": 0}, first.Votes)

	second, err := store.RecordVote(snap.ID, "bob", "Dogs")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"Cats": 1, "Dogs": 1}, second.Votes)

	_, err = store.RecordVote(snap.ID, "alice", "Cats")
	assert.ErrorIs(t, err, ErrAlreadyVoted)

	final, err := store.Get(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"Cats": 1, "Dogs": 1}, final.Votes)
	assert.Equal(t, map[string]string{"alice": "Cats", "bob": "Dogs"}, final.Voters)
}

func TestVoteTallyMatchesVoters(t *testing.T) {
	store, _ := newTestStore(t)

	snap, err := store.Create("", []string{"A", "B", "C"}, "host")
	require.NoError(t, err)

	for i := 0; i < 30; i++ {
		name := fmt.Sprintf("voter-%d", i)
		option := snap.Options[i%len(snap.Options)]

		got, err := store.RecordVote(snap.ID, name, option)
		require.NoError(t, err)

		total := 0
		for _, n := range got.Votes {
			total += n
		}
		assert.Equal(t, len(got.Voters), total)
	}
}

func TestVoteGuards(t *testing.T) {
	store, _ := newTestStore(t)

	snap, err := store.Create("", nil, "alice")
	require.NoError(t, err)

	_, err = store.RecordVote("NOPE42", "alice", "Cats")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	_, err = store.RecordVote(snap.ID, "alice", "Birds")
	assert.ErrorIs(t, err, ErrInvalidOption)

	// Failed guards must leave no partial effects.
	got, err := store.Get(snap.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Voters)
	assert.Equal(t, 0, got.Votes["Cats"])
}

func TestVoteAfterExplicitEnd(t *testing.T) {
	store, _ := newTestStore(t)

	snap, err := store.Create("", nil, "alice")
	require.NoError(t, err)

	_, changed, err := store.End(snap.ID)
	require.NoError(t, err)
	assert.True(t, changed)

	_, err = store.RecordVote(snap.ID, "bob", "Cats")
	assert.ErrorIs(t, err, ErrPollEnded)
}

func TestVoteAfterDeadline(t *testing.T) {
	store, clock := newTestStore(t)

	snap, err := store.Create("", nil, "alice")
	require.NoError(t, err)

	clock.Advance(61 * time.Second)

	// No End call yet: the deadline alone must refuse the vote and flip the
	// observed active flag.
	_, err = store.RecordVote(snap.ID, "bob", "Cats")
	assert.ErrorIs(t, err, ErrPollEnded)

	got, err := store.Get(snap.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
}

func TestActiveFlipsExactlyAtDeadline(t *testing.T) {
	store, clock := newTestStore(t)

	snap, err := store.Create("", nil, "alice")
	require.NoError(t, err)

	clock.Advance(59 * time.Second)
	got, err := store.Get(snap.ID)
	require.NoError(t, err)
	assert.True(t, got.Active)

	clock.Advance(time.Second)
	got, err = store.Get(snap.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
}

func TestEndIdempotent(t *testing.T) {
	store, _ := newTestStore(t)

	snap, err := store.Create("", nil, "alice")
	require.NoError(t, err)

	first, changed, err := store.End(snap.ID)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.False(t, first.Active)

	second, changed, err := store.End(snap.ID)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, first, second)

	_, _, err = store.End("NOPE42")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestConcurrentVotesKeepInvariant(t *testing.T) {
	store, _ := newTestStore(t)

	snap, err := store.Create("", []string{"Cats", "Dogs"}, "host")
	require.NoError(t, err)

	const voters = 50
	var wg sync.WaitGroup
	for i := 0; i < voters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			option := "Cats"
			if i%2 == 0 {
				option = "Dogs"
			}
			_, err := store.RecordVote(snap.ID, fmt.Sprintf("voter-%d", i), option)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := store.Get(snap.ID)
	require.NoError(t, err)
	assert.Len(t, got.Voters, voters)
	assert.Equal(t, voters, got.Votes["Cats"]+got.Votes["Dogs"])
}

func TestRoomCodesAreUnique(t *testing.T) {
	store, _ := newTestStore(t)

	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		snap, err := store.Create("", nil, "alice")
		require.NoError(t, err)
		_, dup := seen[snap.ID]
		require.False(t, dup, "duplicate room code %s", snap.ID)
		seen[snap.ID] = struct{}{}
	}
	assert.Equal(t, 100, store.Len())
}

type recordingScheduler struct {
	mu      sync.Mutex
	roomIDs []string
	ats     []time.Time
}

func (r *recordingScheduler) Schedule(roomID string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roomIDs = append(r.roomIDs, roomID)
	r.ats = append(r.ats, at)
}

func TestCreateSchedulesExpiry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sched := &recordingScheduler{}
	store := NewStore(Config{Clock: clock, Scheduler: sched})

	snap, err := store.Create("", nil, "alice")
	require.NoError(t, err)

	require.Len(t, sched.roomIDs, 1)
	assert.Equal(t, snap.ID, sched.roomIDs[0])
	assert.Equal(t, clock.Now().Add(DefaultDuration), sched.ats[0])
}

func TestEvict(t *testing.T) {
	store, clock := newTestStore(t)

	old, err := store.Create("", nil, "alice")
	require.NoError(t, err)

	clock.Advance(DefaultDuration + 10*time.Minute)

	fresh, err := store.Create("", nil, "bob")
	require.NoError(t, err)

	removed := store.Evict(5 * time.Minute)
	assert.Equal(t, 1, removed)
	assert.False(t, store.Exists(old.ID))
	assert.True(t, store.Exists(fresh.ID))

	// Nothing else old enough.
	assert.Equal(t, 0, store.Evict(5*time.Minute))
}

package tracker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ernie/teamwatch/internal/domain"
	"github.com/ernie/teamwatch/internal/storage"
)

func newTestTracker(t *testing.T, store *storage.Store, src *fakeSource, clock *fakeClock) *Tracker {
	t.Helper()
	tr := New(testConfig(), store, src, discard, WithClock(clock.Now))
	t.Cleanup(tr.Stop)
	return tr
}

func drainEvents(tr *Tracker) []string {
	var types []string
	for {
		select {
		case e := <-tr.Events():
			types = append(types, e.Type)
		default:
			return types
		}
	}
}

func TestTrackerTicksSessions(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	src := newFakeSource()
	clock := newClock(t0)
	tr := newTestTracker(t, store, src, clock)

	src.Set(snapshot("g1", online("a", "A", true, 1, 1)))
	tr.StartTracking(ctx, "g1")
	assert.True(t, tr.IsTracking("g1"))

	active := activeFor(t, store, "g1", "a")
	require.Len(t, active, 1)
	assert.Equal(t, t0, active[0].StartTime)

	// starting twice is a no-op
	tr.StartTracking(ctx, "g1")
	assert.Equal(t, []string{"g1"}, tr.Tracked())

	clock.Advance(time.Minute)
	src.Set(snapshot("g1", offline("a", "A")))
	tr.Tick(ctx, "g1")

	sessions := sessionsFor(t, store, "g1", "a")
	require.Len(t, sessions, 1)
	assert.False(t, sessions[0].IsActive)
	assert.EqualValues(t, 60, *sessions[0].DurationSeconds)

	assert.Equal(t, []string{domain.EventSessionOpen, domain.EventTrackingStart, domain.EventSessionClose}, drainEvents(tr))
}

func TestTrackerRestartPreservesSessionStart(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	src := newFakeSource()
	clock := newClock(t0)

	src.Set(snapshot("g1", online("a", "A", true, 1, 1)))
	first := newTestTracker(t, store, src, clock)
	first.StartTracking(ctx, "g1")
	clock.Advance(30 * time.Second)
	first.Tick(ctx, "g1")
	original := activeFor(t, store, "g1", "a")
	require.Len(t, original, 1)

	// a second process takes over without the first shutting down cleanly
	clock.Advance(5 * time.Minute)
	second := newTestTracker(t, store, src, clock)
	second.StartTracking(ctx, "g1")
	clock.Advance(30 * time.Second)
	second.Tick(ctx, "g1")

	sessions := sessionsFor(t, store, "g1", "a")
	require.Len(t, sessions, 1)
	assert.Equal(t, original[0].ID, sessions[0].ID)
	assert.Equal(t, t0, sessions[0].StartTime)
	assert.True(t, sessions[0].IsActive)
}

func TestTrackerResumesAfterCleanStop(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	src := newFakeSource()
	clock := newClock(t0)

	src.Set(snapshot("g1", online("a", "A", true, 1, 1)))
	first := newTestTracker(t, store, src, clock)
	first.StartTracking(ctx, "g1")
	clock.Advance(10 * time.Minute)
	first.Stop()
	assert.Empty(t, activeFor(t, store, "g1", "a"))

	clock.Advance(2 * time.Minute)
	second := newTestTracker(t, store, src, clock)
	second.StartTracking(ctx, "g1")

	sessions := sessionsFor(t, store, "g1", "a")
	require.Len(t, sessions, 1)
	assert.True(t, sessions[0].IsActive)
	assert.Equal(t, t0, sessions[0].StartTime)
}

func TestTrackerDowntimeGate(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	src := newFakeSource()
	clock := newClock(t0)

	src.Set(snapshot("g1", online("a", "A", true, 1, 1)))
	first := newTestTracker(t, store, src, clock)
	first.StartTracking(ctx, "g1")
	clock.Advance(30 * time.Second)
	first.Tick(ctx, "g1")

	// down for longer than the reconnect grace
	clock.Advance(3 * time.Hour)
	second := newTestTracker(t, store, src, clock)
	second.StartTracking(ctx, "g1")

	sessions := sessionsFor(t, store, "g1", "a")
	require.Len(t, sessions, 2)
	assert.True(t, sessions[0].IsActive)
	assert.Equal(t, clock.Now(), sessions[0].StartTime)
	assert.False(t, sessions[1].IsActive)
	assert.Equal(t, t0.Add(30*time.Second), *sessions[1].EndTime)
	assert.EqualValues(t, 30, *sessions[1].DurationSeconds)
}

func TestTrackerDiscoverAndStop(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	src := newFakeSource()
	clock := newClock(t0)
	tr := newTestTracker(t, store, src, clock)

	src.Set(snapshot("g1", online("a", "A", true, 1, 1)))
	src.Set(snapshot("g2", online("b", "B", true, 1, 1)))
	tr.Discover(ctx)
	assert.Equal(t, []string{"g1", "g2"}, tr.Tracked())

	clock.Advance(time.Minute)
	src.Remove("g2")
	tr.Discover(ctx)
	assert.Equal(t, []string{"g1"}, tr.Tracked())
	assert.False(t, tr.IsTracking("g2"))

	sessions := sessionsFor(t, store, "g2", "b")
	require.Len(t, sessions, 1)
	assert.False(t, sessions[0].IsActive)
	assert.Equal(t, t0.Add(time.Minute), *sessions[0].EndTime)
	assert.Len(t, activeFor(t, store, "g1", "a"), 1)

	// stopping an untracked tenant is a no-op
	tr.StopTracking(ctx, "g2")
}

func TestTrackerResetTenant(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	src := newFakeSource()
	clock := newClock(t0)
	tr := newTestTracker(t, store, src, clock)

	src.Set(snapshot("g1", online("a", "A", true, 1, 1)))
	tr.StartTracking(ctx, "g1")
	clock.Advance(30 * time.Second)
	tr.Tick(ctx, "g1")

	n, err := tr.ResetTenant(ctx, "g1")
	require.NoError(t, err)
	assert.Greater(t, n, int64(0))
	assert.Empty(t, sessionsFor(t, store, "g1", "a"))
	assert.True(t, tr.IsTracking("g1"))

	// the ledger forgot the player, so the next tick starts over
	clock.Advance(30 * time.Second)
	tr.Tick(ctx, "g1")
	active := activeFor(t, store, "g1", "a")
	require.Len(t, active, 1)
	assert.Equal(t, t0.Add(time.Minute), active[0].StartTime)
}

func TestTrackerSweepOrphans(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	src := newFakeSource()
	clock := newClock(t0)
	tr := newTestTracker(t, store, src, clock)

	src.Set(snapshot("g1", online("a", "A", true, 1, 1)))
	tr.StartTracking(ctx, "g1")
	seedSession(t, store, "g1", "ghost", t0, nil)

	clock.Advance(10 * time.Minute)
	res := tr.SweepOrphans(ctx)
	assert.Equal(t, SweepResult{Tenants: 1, Closed: 1}, res)
	assert.Empty(t, activeFor(t, store, "g1", "ghost"))
	assert.Len(t, activeFor(t, store, "g1", "a"), 1)
}

func TestTrackerRunMaintenance(t *testing.T) {
	store := newTestStore(t)
	tr := newTestTracker(t, store, newFakeSource(), newClock(t0))

	report := tr.RunMaintenance(context.Background())
	assert.False(t, report.Failed)
	assert.Len(t, report.Steps, 5)
}

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

func newTestReconciler(t *testing.T, clock *fakeClock) (*Reconciler, *storage.Store) {
	t.Helper()
	store := newTestStore(t)
	cfg := testConfig()
	return NewReconciler(cfg.Tracking, store, discard, clock.Now, nil), store
}

func TestStartWithinGraceRequiresReconcile(t *testing.T) {
	ctx := context.Background()
	clock := newClock(t0.Add(10 * time.Minute))
	r, store := newTestReconciler(t, clock)
	sess := seedSession(t, store, "g1", "a", t0, nil)
	require.NoError(t, store.RecordConnection(ctx, &domain.ConnectionSnapshot{TenantID: "g1", Timestamp: t0.Add(5 * time.Minute)}))

	assert.True(t, r.Start(ctx, "g1"))
	active := activeFor(t, store, "g1", "a")
	require.Len(t, active, 1)
	assert.Equal(t, sess.ID, active[0].ID)
}

func TestStartWithoutHistoryRequiresReconcile(t *testing.T) {
	clock := newClock(t0)
	r, _ := newTestReconciler(t, clock)
	assert.True(t, r.Start(context.Background(), "g1"))
}

func TestStartAfterDowntimeClosesAtLastActivity(t *testing.T) {
	ctx := context.Background()
	clock := newClock(t0.Add(3 * time.Hour))
	r, store := newTestReconciler(t, clock)
	sess := seedSession(t, store, "g1", "a", t0, nil)
	last := t0.Add(20 * time.Minute)
	require.NoError(t, store.RecordPosition(ctx, &domain.PositionSample{TenantID: "g1", PlayerID: "a", Timestamp: last, IsAlive: true}))

	assert.False(t, r.Start(ctx, "g1"))

	sessions := sessionsFor(t, store, "g1", "a")
	require.Len(t, sessions, 1)
	assert.Equal(t, sess.ID, sessions[0].ID)
	assert.False(t, sessions[0].IsActive)
	require.NotNil(t, sessions[0].EndTime)
	assert.Equal(t, last, *sessions[0].EndTime)
	assert.EqualValues(t, 20*60, *sessions[0].DurationSeconds)
}

func TestReconcileRepairsLedger(t *testing.T) {
	ctx := context.Background()
	clock := newClock(t0.Add(30 * time.Minute))
	r, store := newTestReconciler(t, clock)
	now := clock.Now()

	// still online: kept as is
	kept := seedSession(t, store, "g1", "kept", t0, nil)
	// went offline while the tracker was down: closed at now
	gone := seedSession(t, store, "g1", "gone", t0, nil)
	// briefly closed before the restart: resumed with its original start
	resumed := seedSession(t, store, "g1", "resumed", t0, ptr(t0.Add(25*time.Minute)))
	// closed long ago: a fresh session is opened
	seedSession(t, store, "g1", "old", t0.Add(-5*time.Hour), ptr(t0.Add(-4*time.Hour)))

	r.Reconcile(ctx, snapshot("g1",
		online("kept", "K", true, 0, 0),
		offline("gone", "G"),
		online("resumed", "R", true, 0, 0),
		online("old", "O", true, 0, 0),
		online("new", "N", true, 0, 0),
	))

	active := activeFor(t, store, "g1", "kept")
	require.Len(t, active, 1)
	assert.Equal(t, kept.ID, active[0].ID)

	assert.Empty(t, activeFor(t, store, "g1", "gone"))
	goneSessions := sessionsFor(t, store, "g1", "gone")
	require.Len(t, goneSessions, 1)
	assert.Equal(t, gone.ID, goneSessions[0].ID)
	assert.Equal(t, now, *goneSessions[0].EndTime)

	active = activeFor(t, store, "g1", "resumed")
	require.Len(t, active, 1)
	assert.Equal(t, resumed.ID, active[0].ID)
	assert.Equal(t, t0, active[0].StartTime)

	active = activeFor(t, store, "g1", "old")
	require.Len(t, active, 1)
	assert.Equal(t, now, active[0].StartTime)
	assert.Len(t, sessionsFor(t, store, "g1", "old"), 2)

	active = activeFor(t, store, "g1", "new")
	require.Len(t, active, 1)
	assert.Equal(t, now, active[0].StartTime)
}

func TestMergeSweepCoalescesFragments(t *testing.T) {
	ctx := context.Background()
	clock := newClock(t0.Add(2 * time.Hour))
	r, store := newTestReconciler(t, clock)

	seedSession(t, store, "g1", "a", t0, ptr(t0.Add(10*time.Minute)))
	seedSession(t, store, "g1", "a", t0.Add(11*time.Minute), ptr(t0.Add(20*time.Minute)))
	seedSession(t, store, "g1", "a", t0.Add(21*time.Minute), ptr(t0.Add(30*time.Minute)))
	// too far apart to merge
	seedSession(t, store, "g1", "a", t0.Add(time.Hour), ptr(t0.Add(70*time.Minute)))

	merged, err := r.MergeSweep(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, 2, merged)

	sessions := sessionsFor(t, store, "g1", "a")
	require.Len(t, sessions, 2)
	// newest first
	assert.Equal(t, t0, sessions[1].StartTime)
	assert.Equal(t, t0.Add(30*time.Minute), *sessions[1].EndTime)
	assert.EqualValues(t, 30*60, *sessions[1].DurationSeconds)

	merged, err = r.MergeSweep(ctx, "g1")
	require.NoError(t, err)
	assert.Zero(t, merged)
	assert.Len(t, sessionsFor(t, store, "g1", "a"), 2)
}

func TestMergeSweepKeepsActiveFragmentActive(t *testing.T) {
	ctx := context.Background()
	clock := newClock(t0.Add(40 * time.Minute))
	r, store := newTestReconciler(t, clock)

	seedSession(t, store, "g1", "a", t0, ptr(t0.Add(10*time.Minute)))
	seedSession(t, store, "g1", "a", t0.Add(11*time.Minute), nil)

	merged, err := r.MergeSweep(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, 1, merged)

	active := activeFor(t, store, "g1", "a")
	require.Len(t, active, 1)
	assert.Equal(t, t0, active[0].StartTime)
	assert.Nil(t, active[0].EndTime)
	assert.Nil(t, active[0].DurationSeconds)
}

func fragment(id int64, start time.Time, minutes int, active bool) domain.Session {
	s := domain.Session{ID: id, TenantID: "g1", PlayerID: "a", PlayerName: "A", StartTime: start, IsActive: active}
	if !active {
		end := start.Add(time.Duration(minutes) * time.Minute)
		d := int64(minutes * 60)
		s.EndTime = &end
		s.DurationSeconds = &d
	}
	return s
}

func TestMergeFragments(t *testing.T) {
	now := t0.Add(3 * time.Hour)
	gap := 2 * time.Minute

	tests := []struct {
		name     string
		input    []domain.Session
		want     int
		sources  [][]int64
		duration []int64
	}{
		{
			name:  "empty",
			input: nil,
			want:  0,
		},
		{
			name:     "single session untouched",
			input:    []domain.Session{fragment(1, t0, 10, false)},
			want:     1,
			sources:  [][]int64{{1}},
			duration: []int64{600},
		},
		{
			name: "gap within limit merges",
			input: []domain.Session{
				fragment(1, t0, 10, false),
				fragment(2, t0.Add(12*time.Minute), 10, false),
			},
			want:     1,
			sources:  [][]int64{{1, 2}},
			duration: []int64{22 * 60},
		},
		{
			name: "gap beyond limit stays apart",
			input: []domain.Session{
				fragment(1, t0, 10, false),
				fragment(2, t0.Add(13*time.Minute), 10, false),
			},
			want:     2,
			sources:  [][]int64{{1}, {2}},
			duration: []int64{600, 600},
		},
		{
			name: "zero gap merges",
			input: []domain.Session{
				fragment(1, t0, 10, false),
				fragment(2, t0.Add(10*time.Minute), 5, false),
			},
			want:     1,
			sources:  [][]int64{{1, 2}},
			duration: []int64{15 * 60},
		},
		{
			name: "overlap does not merge",
			input: []domain.Session{
				fragment(1, t0, 10, false),
				fragment(2, t0.Add(5*time.Minute), 10, false),
			},
			want:     2,
			sources:  [][]int64{{1}, {2}},
			duration: []int64{600, 600},
		},
		{
			name: "input order does not matter",
			input: []domain.Session{
				fragment(3, t0.Add(22*time.Minute), 10, false),
				fragment(1, t0, 10, false),
				fragment(2, t0.Add(11*time.Minute), 10, false),
			},
			want:     1,
			sources:  [][]int64{{1, 2, 3}},
			duration: []int64{32 * 60},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := MergeFragments(tt.input, gap, now)
			require.Len(t, out, tt.want)
			for i, m := range out {
				assert.Equal(t, tt.sources[i], m.Sources)
				require.NotNil(t, m.Session.DurationSeconds)
				assert.Equal(t, tt.duration[i], *m.Session.DurationSeconds)
				assert.Equal(t, m.Session.EndTime.Unix()-m.Session.StartTime.Unix(), *m.Session.DurationSeconds)
			}
		})
	}
}

func TestMergeFragmentsIsIdempotent(t *testing.T) {
	now := t0.Add(time.Hour)
	input := []domain.Session{
		fragment(1, t0, 10, false),
		fragment(2, t0.Add(11*time.Minute), 10, false),
		fragment(3, t0.Add(40*time.Minute), 5, false),
		fragment(4, t0.Add(46*time.Minute), 0, true),
	}
	first := MergeFragments(input, 2*time.Minute, now)
	require.Len(t, first, 2)
	assert.True(t, first[1].Session.IsActive)
	assert.Nil(t, first[1].Session.EndTime)

	again := make([]domain.Session, 0, len(first))
	for i, m := range first {
		s := m.Session
		s.ID = int64(100 + i)
		again = append(again, s)
	}
	second := MergeFragments(again, 2*time.Minute, now)
	require.Len(t, second, 2)
	for i := range second {
		assert.Len(t, second[i].Sources, 1)
		assert.Equal(t, first[i].Session.StartTime, second[i].Session.StartTime)
		assert.Equal(t, first[i].Session.EndTime, second[i].Session.EndTime)
		assert.Equal(t, first[i].Session.IsActive, second[i].Session.IsActive)
	}
}

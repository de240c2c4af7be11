package tracker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ernie/teamwatch/internal/config"
	"github.com/ernie/teamwatch/internal/domain"
	"github.com/ernie/teamwatch/internal/storage"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(at time.Time) *fakeClock {
	return &fakeClock{now: at}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Set(at time.Time) {
	c.mu.Lock()
	c.now = at
	c.mu.Unlock()
}

type fakeSource struct {
	mu    sync.Mutex
	snaps map[string]domain.Snapshot
}

func newFakeSource() *fakeSource {
	return &fakeSource{snaps: make(map[string]domain.Snapshot)}
}

func (f *fakeSource) Set(snap domain.Snapshot) {
	f.mu.Lock()
	f.snaps[snap.TenantID] = snap
	f.mu.Unlock()
}

func (f *fakeSource) Remove(tenantID string) {
	f.mu.Lock()
	delete(f.snaps, tenantID)
	f.mu.Unlock()
}

func (f *fakeSource) Tenants() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.snaps))
	for id := range f.snaps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (f *fakeSource) Latest(tenantID string) (domain.Snapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.snaps[tenantID]
	return s, ok
}

// faultyStore fails selected writes of a real store
type faultyStore struct {
	*storage.Store
	mu       sync.Mutex
	failOpen map[string]bool
	failTrim map[string]error
}

func newFaultyStore(s *storage.Store) *faultyStore {
	return &faultyStore{Store: s, failOpen: make(map[string]bool), failTrim: make(map[string]error)}
}

func (f *faultyStore) OpenSession(ctx context.Context, sess *domain.Session) error {
	f.mu.Lock()
	fail := f.failOpen[sess.PlayerID]
	f.mu.Unlock()
	if fail {
		return errors.New("open boom")
	}
	return f.Store.OpenSession(ctx, sess)
}

func (f *faultyStore) TrimTable(ctx context.Context, table string, max int64, batch int) (int64, error) {
	f.mu.Lock()
	err := f.failTrim[table]
	f.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return f.Store.TrimTable(ctx, table, max, batch)
}

func (f *faultyStore) heal() {
	f.mu.Lock()
	f.failOpen = make(map[string]bool)
	f.failTrim = make(map[string]error)
	f.mu.Unlock()
}

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(filepath.Join(t.TempDir(), "teamwatch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testConfig() *config.Config {
	cfg := config.Default()
	// ticks are driven by hand
	cfg.Tracking.TickInterval = time.Hour
	cfg.Tracking.DiscoverInterval = time.Hour
	cfg.Orphans.Interval = time.Hour
	cfg.Maintenance.Interval = time.Hour
	return cfg
}

func online(id, name string, alive bool, x, y float64) domain.PlayerSnapshot {
	return domain.PlayerSnapshot{PlayerID: id, Name: name, IsOnline: true, IsAlive: alive, Position: &domain.Position{X: x, Y: y}}
}

func offline(id, name string) domain.PlayerSnapshot {
	return domain.PlayerSnapshot{PlayerID: id, Name: name}
}

func snapshot(tenant string, players ...domain.PlayerSnapshot) domain.Snapshot {
	return domain.Snapshot{TenantID: tenant, ServerID: "srv-1", Players: players}
}

func activeFor(t *testing.T, s *storage.Store, tenant, player string) []domain.Session {
	t.Helper()
	active, err := s.ActiveSessionsForPlayer(context.Background(), tenant, player)
	require.NoError(t, err)
	return active
}

func sessionsFor(t *testing.T, s *storage.Store, tenant, player string) []domain.Session {
	t.Helper()
	sessions, err := s.GetSessions(context.Background(), domain.SessionFilter{TenantID: tenant, PlayerID: player})
	require.NoError(t, err)
	return sessions
}

func seedSession(t *testing.T, s *storage.Store, tenant, player string, start time.Time, end *time.Time) domain.Session {
	t.Helper()
	ctx := context.Background()
	sess := domain.Session{TenantID: tenant, ServerID: "srv-1", PlayerID: player, PlayerName: "name-" + player, StartTime: start}
	require.NoError(t, s.OpenSession(ctx, &sess))
	if end != nil {
		_, err := s.CloseSession(ctx, sess.ID, *end)
		require.NoError(t, err)
	}
	return sess
}

func ptr[T any](v T) *T { return &v }

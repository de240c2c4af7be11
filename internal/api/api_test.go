package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ernie/teamwatch/internal/auth"
	"github.com/ernie/teamwatch/internal/colors"
	"github.com/ernie/teamwatch/internal/config"
	"github.com/ernie/teamwatch/internal/domain"
	"github.com/ernie/teamwatch/internal/storage"
	"github.com/ernie/teamwatch/internal/tracker"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeControl struct {
	events chan domain.Event
	mu     sync.Mutex
	resets []string
}

func (f *fakeControl) Events() <-chan domain.Event { return f.events }
func (f *fakeControl) Tracked() []string          { return []string{"g1"} }

func (f *fakeControl) ResetTenant(_ context.Context, tenantID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets = append(f.resets, tenantID)
	return 3, nil
}

type testEnv struct {
	router  *Router
	store   *storage.Store
	control *fakeControl
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := storage.Open(filepath.Join(t.TempDir(), "teamwatch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := config.Default()
	cfg.Auth.BcryptCost = bcrypt.MinCost
	svc := tracker.NewService(store, colors.NewResolver(store, nil, cfg.Cache, logger), logger)
	secrets := auth.NewSecrets(store, cfg.Auth, logger)
	control := &fakeControl{events: make(chan domain.Event, 10)}
	router := NewRouter(svc, control, secrets, auth.NewService("test-secret", time.Hour), logger, "")
	return &testEnv{router: router, store: store, control: control}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (e *testEnv) seedSession(t *testing.T, tenant, player string, start time.Time, end *time.Time) {
	t.Helper()
	ctx := context.Background()
	sess := domain.Session{TenantID: tenant, ServerID: "srv-1", PlayerID: player, PlayerName: "name-" + player, StartTime: start}
	require.NoError(t, e.store.OpenSession(ctx, &sess))
	if end != nil {
		_, err := e.store.CloseSession(ctx, sess.ID, *end)
		require.NoError(t, err)
	}
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestGetSessionsUnprotected(t *testing.T) {
	e := newTestEnv(t)
	end := t0.Add(time.Hour)
	e.seedSession(t, "g1", "a", t0, &end)
	e.seedSession(t, "g1", "b", t0.Add(time.Minute), nil)

	rec := e.do(t, http.MethodGet, "/api/tenants/g1/sessions", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sessions := decode[[]domain.Session](t, rec)
	require.Len(t, sessions, 2)
	assert.Equal(t, "b", sessions[0].PlayerID)

	rec = e.do(t, http.MethodGet, "/api/tenants/g1/sessions?player=a", "", nil)
	assert.Len(t, decode[[]domain.Session](t, rec), 1)

	rec = e.do(t, http.MethodGet, "/api/tenants/g1/sessions?from=nonsense", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/tenants/nobody/sessions", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestInvalidTenantRejected(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodGet, "/api/tenants/bad%20tenant/sessions", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPinGate(t *testing.T) {
	e := newTestEnv(t)
	e.seedSession(t, "g1", "a", t0, nil)

	rec := e.do(t, http.MethodGet, "/api/tenants/g1/pin-status", "", nil)
	assert.Equal(t, map[string]bool{"has_pin": false}, decode[map[string]bool](t, rec))

	rec = e.do(t, http.MethodPost, "/api/tenants/g1/pin", "", PinRequest{Pin: "12"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/tenants/g1/pin", "", PinRequest{Pin: "1234"})
	require.Equal(t, http.StatusOK, rec.Code)
	token := decode[TokenResponse](t, rec).Token
	require.NotEmpty(t, token)

	rec = e.do(t, http.MethodPost, "/api/tenants/g1/pin", "", PinRequest{Pin: "9999"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/tenants/g1/sessions", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = e.do(t, http.MethodGet, "/api/tenants/g1/sessions", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// a token for another tenant does not open this one
	rec = e.do(t, http.MethodPost, "/api/tenants/g2/pin", "", PinRequest{Pin: "5555"})
	other := decode[TokenResponse](t, rec).Token
	rec = e.do(t, http.MethodGet, "/api/tenants/g1/sessions", other, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/tenants/g1/pin/verify", "", PinRequest{Pin: "0000"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = e.do(t, http.MethodPost, "/api/tenants/g1/pin/verify", "", PinRequest{Pin: "1234"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "g1", decode[TokenResponse](t, rec).TenantID)
}

func TestPinTooLongIsBadRequest(t *testing.T) {
	e := newTestEnv(t)
	long := strings.Repeat("1", auth.MaxSecretBytes+1)

	rec := e.do(t, http.MethodPost, "/api/tenants/g1/pin", "", PinRequest{Pin: long})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/tenants/g1/pin", "", PinRequest{Pin: "1234"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = e.do(t, http.MethodPut, "/api/tenants/g1/pin", "", UpdatePinRequest{CurrentPin: "1234", NewPin: long})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = e.do(t, http.MethodPost, "/api/tenants/g1/pin/verify", "", PinRequest{Pin: "1234"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUpdateAndRemovePin(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPut, "/api/tenants/g1/pin", "", UpdatePinRequest{CurrentPin: "1234", NewPin: "5678"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/tenants/g1/pin", "", PinRequest{Pin: "1234"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodPut, "/api/tenants/g1/pin", "", UpdatePinRequest{CurrentPin: "0000", NewPin: "5678"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, http.MethodPut, "/api/tenants/g1/pin", "", UpdatePinRequest{CurrentPin: "1234", NewPin: "5678"})
	require.Equal(t, http.StatusOK, rec.Code)
	token := decode[TokenResponse](t, rec).Token

	rec = e.do(t, http.MethodDelete, "/api/tenants/g1/pin", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = e.do(t, http.MethodDelete, "/api/tenants/g1/pin", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]bool{"removed": true}, decode[map[string]bool](t, rec))

	rec = e.do(t, http.MethodGet, "/api/tenants/g1/pin-status", "", nil)
	assert.Equal(t, map[string]bool{"has_pin": false}, decode[map[string]bool](t, rec))
}

func TestResetTenant(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodPost, "/api/tenants/g1/reset", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]int64{"deleted": 3}, decode[map[string]int64](t, rec))
	assert.Equal(t, []string{"g1"}, e.control.resets)
}

func TestStatsEndpoints(t *testing.T) {
	e := newTestEnv(t)
	now := time.Now().UTC().Truncate(time.Second)
	end := now.Add(-30 * time.Minute)
	e.seedSession(t, "g1", "a", now.Add(-time.Hour), &end)
	e.seedSession(t, "g1", "b", now.Add(-2*time.Hour), &end)

	rec := e.do(t, http.MethodGet, "/api/tenants/g1/players/a/stats", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[domain.PlayerStats](t, rec)
	assert.EqualValues(t, 1800, stats.TotalPlaytimeSeconds)

	rec = e.do(t, http.MethodGet, "/api/tenants/g1/team", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	team := decode[domain.TeamStats](t, rec)
	assert.Equal(t, 2, team.PlayerCount)
	assert.EqualValues(t, 1800+5400, team.TotalPlaytimeSeconds)

	rec = e.do(t, http.MethodGet, "/api/tenants/g1/team?players=a", "", nil)
	assert.Equal(t, 1, decode[domain.TeamStats](t, rec).PlayerCount)

	rec = e.do(t, http.MethodGet, "/api/tenants/g1/server-stats?days=1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	server := decode[domain.ServerStats](t, rec)
	assert.EqualValues(t, 2, server.UniquePlayers)

	for _, path := range []string{
		"/api/tenants/g1/players/a/positions",
		"/api/tenants/g1/deaths",
		"/api/tenants/g1/connections",
		"/api/tenants/g1/chat",
		"/api/tenants/g1/commands",
		"/api/tenants/g1/replay",
	} {
		rec = e.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "[]\n", rec.Body.String(), path)
	}
}

func TestSyncChat(t *testing.T) {
	e := newTestEnv(t)
	body := map[string]interface{}{
		"messages": []map[string]interface{}{
			{"player_id": "a", "player_name": "A", "message": "one", "timestamp": t0},
			{"player_id": "a", "player_name": "A", "message": "one", "timestamp": t0.Add(time.Second)},
			{"player_id": "a", "player_name": "A", "message": ""},
		},
	}
	rec := e.do(t, http.MethodPost, "/api/tenants/g1/chat/sync", "", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]int{"synced": 1, "skipped": 1}, decode[map[string]int](t, rec))

	rec = e.do(t, http.MethodGet, "/api/tenants/g1/chat", "", nil)
	assert.Len(t, decode[[]domain.ChatMessage](t, rec), 1)
}

func TestGetCommands(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	for i, cmd := range []string{"!stats", "!time", "!events"} {
		require.NoError(t, e.store.RecordCommand(ctx, &domain.CommandRecord{
			TenantID: "g1", ServerID: "s1", PlayerID: "a", Command: cmd, Timestamp: t0.Add(time.Duration(i) * time.Minute),
		}))
	}

	rec := e.do(t, http.MethodGet, "/api/tenants/g1/commands?limit=2", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	commands := decode[[]domain.CommandRecord](t, rec)
	require.Len(t, commands, 2)
	assert.Equal(t, "!events", commands[0].Command)
	assert.Equal(t, "!time", commands[1].Command)

	rec = e.do(t, http.MethodGet, "/api/tenants/g1/commands?server=other", "", nil)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestColorsAndGzip(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodGet, "/api/colors", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/colors?players=1,12", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]string{"1": colors.Derive("1"), "12": colors.Derive("12")}, decode[map[string]string](t, rec))

	ids := make([]string, 100)
	for i := range ids {
		ids[i] = fmt.Sprintf("player-%03d", i)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/colors?players="+strings.Join(ids, ","), nil)
	req.Header.Set("Accept-Encoding", "gzip")
	gz := httptest.NewRecorder()
	e.router.ServeHTTP(gz, req)
	require.Equal(t, http.StatusOK, gz.Code)
	assert.Equal(t, "gzip", gz.Header().Get("Content-Encoding"))
}

func TestInfo(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodGet, "/api/info", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]json.RawMessage](t, rec)
	assert.Contains(t, body, "database")
	assert.JSONEq(t, `["g1"]`, string(body["tracked"]))
}

func TestWebSocketRelaysTenantEvents(t *testing.T) {
	e := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.router.StartWebSocketHub(ctx)

	srv := httptest.NewServer(e.router)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?tenant=g1"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return e.router.wsHub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	e.control.events <- domain.Event{Type: domain.EventSessionOpen, TenantID: "g2", Timestamp: t0}
	e.control.events <- domain.Event{Type: domain.EventPlayerDeath, TenantID: "g1", Timestamp: t0}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var event domain.Event
	require.NoError(t, json.Unmarshal(data, &event))
	assert.Equal(t, domain.EventPlayerDeath, event.Type)
	assert.Equal(t, "g1", event.TenantID)
}

func TestWebSocketRequiresPinToken(t *testing.T) {
	e := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.router.StartWebSocketHub(ctx)

	rec := e.do(t, http.MethodPost, "/api/tenants/g1/pin", "", PinRequest{Pin: "1234"})
	token := decode[TokenResponse](t, rec).Token

	srv := httptest.NewServer(e.router)
	defer srv.Close()
	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?tenant=g1"

	_, resp, err := websocket.DefaultDialer.Dial(base, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(base+"&token="+token, nil)
	require.NoError(t, err)
	conn.Close()
}

package tracker

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/ernie/teamwatch/internal/domain"
	"github.com/ernie/teamwatch/internal/observability"
	"github.com/ernie/teamwatch/internal/storage"
)

// playerState is the last known state of a team member
type playerState struct {
	name   string
	online bool
	alive  bool
	pos    *domain.Position
}

// Ledger is the per-tenant state machine that turns snapshots into session
// transitions. It is not safe for concurrent use; the owning tenant task
// serializes calls.
type Ledger struct {
	tenantID string
	store    Store
	logger   *slog.Logger
	now      func() time.Time
	emit     func(domain.Event)

	serverID string
	known    map[string]playerState
}

// NewLedger creates an empty ledger for a tenant
func NewLedger(tenantID string, store Store, logger *slog.Logger, now func() time.Time, emit func(domain.Event)) *Ledger {
	if emit == nil {
		emit = func(domain.Event) {}
	}
	return &Ledger{
		tenantID: tenantID,
		store:    store,
		logger:   logger.With("tenant", tenantID),
		now:      now,
		emit:     emit,
		known:    make(map[string]playerState),
	}
}

// Reset forgets all last known player state
func (l *Ledger) Reset() {
	l.known = make(map[string]playerState)
}

// ServerID returns the server of the most recent snapshot
func (l *Ledger) ServerID() string {
	return l.serverID
}

// OnlinePlayers returns player ID -> name for every player last seen online
func (l *Ledger) OnlinePlayers() map[string]string {
	online := make(map[string]string)
	for id, st := range l.known {
		if st.online {
			online[id] = st.name
		}
	}
	return online
}

// Tick applies one snapshot. While reconciling, online transitions do not
// open sessions because reconciliation already did. A failure for one player
// is logged and does not stop the others.
func (l *Ledger) Tick(ctx context.Context, snap domain.Snapshot, reconciling bool) {
	now := l.now()
	l.serverID = snap.ServerID

	if snap.Population != nil {
		err := l.store.RecordConnection(ctx, &domain.ConnectionSnapshot{
			TenantID:    l.tenantID,
			ServerID:    snap.ServerID,
			Timestamp:   now,
			OnlineCount: snap.Population.Online,
			MaxCount:    snap.Population.Max,
			QueuedCount: snap.Population.Queued,
		})
		if err != nil {
			l.logger.Error("recording population", "error", err)
		}
	}

	current := make(map[string]playerState, len(snap.Players))
	handled := make(map[string]bool, len(snap.Players))
	for _, p := range snap.Players {
		if p.PlayerID == "" {
			continue
		}
		// The first entry for a player wins
		if handled[p.PlayerID] {
			l.logger.Warn("duplicate player in snapshot", "player", p.PlayerID)
			continue
		}
		handled[p.PlayerID] = true
		prev, seen := l.known[p.PlayerID]
		next := playerState{name: p.Name, online: p.IsOnline, alive: p.IsAlive, pos: p.Position}

		if err := l.applyPlayer(ctx, snap.ServerID, p, prev, seen, reconciling, now); err != nil {
			l.logger.Error("processing player", "player", p.PlayerID, "error", err)
			// Keep the previous state so the transition is retried next tick
			if seen {
				current[p.PlayerID] = prev
			}
			continue
		}
		current[p.PlayerID] = next
	}

	// Players who left the team count as going offline
	departed := make([]string, 0)
	for id, prev := range l.known {
		if _, ok := current[id]; !ok && prev.online {
			departed = append(departed, id)
		}
	}
	sort.Strings(departed)
	for _, id := range departed {
		prev := l.known[id]
		if err := l.closePlayer(ctx, id, prev.name, now, domain.CloseDeparted); err != nil {
			l.logger.Error("closing departed player", "player", id, "error", err)
			current[id] = prev
		}
	}

	l.known = current
}

func (l *Ledger) applyPlayer(ctx context.Context, serverID string, p domain.PlayerSnapshot, prev playerState, seen, reconciling bool, now time.Time) error {
	wasOnline := seen && prev.online

	if p.IsOnline && !wasOnline && !reconciling {
		if err := l.openSession(ctx, serverID, p.PlayerID, p.Name, now); err != nil {
			return err
		}
	}
	if !p.IsOnline && wasOnline {
		if err := l.closePlayer(ctx, p.PlayerID, p.Name, now, domain.CloseOffline); err != nil {
			return err
		}
	}

	// Deaths use the position from before this tick
	if p.IsOnline && !p.IsAlive && seen && prev.alive {
		death := &domain.DeathEvent{
			TenantID:   l.tenantID,
			ServerID:   serverID,
			PlayerID:   p.PlayerID,
			PlayerName: p.Name,
			Position:   prev.pos,
			DeathTime:  now,
		}
		if err := l.store.RecordDeath(ctx, death); err != nil {
			l.logger.Error("recording death", "player", p.PlayerID, "error", err)
		} else {
			l.logger.Info("player died", "player", p.PlayerID, "name", p.Name)
			l.emit(domain.Event{
				Type:      domain.EventPlayerDeath,
				TenantID:  l.tenantID,
				Timestamp: now,
				Data:      domain.DeathEventData{PlayerID: p.PlayerID, PlayerName: p.Name, Position: prev.pos},
			})
		}
	}

	if p.IsOnline && p.Position != nil {
		err := l.store.RecordPosition(ctx, &domain.PositionSample{
			TenantID:  l.tenantID,
			ServerID:  serverID,
			PlayerID:  p.PlayerID,
			X:         p.Position.X,
			Y:         p.Position.Y,
			Timestamp: now,
			IsAlive:   p.IsAlive,
		})
		if err != nil {
			l.logger.Error("recording position", "player", p.PlayerID, "error", err)
		}
	}
	return nil
}

// openSession starts a session, first closing any active one the player
// should not have
func (l *Ledger) openSession(ctx context.Context, serverID, playerID, name string, now time.Time) error {
	existing, err := l.store.ActiveSessionsForPlayer(ctx, l.tenantID, playerID)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		l.logger.Warn("player came online with an active session, closing it", "player", playerID, "sessions", len(existing))
		if _, err := l.store.ClosePlayerSessions(ctx, l.tenantID, playerID, now); err != nil {
			return err
		}
		observability.RecordRepair(ctx, l.tenantID, domain.CloseDuplicate, int64(len(existing)))
	}

	sess := domain.Session{TenantID: l.tenantID, ServerID: serverID, PlayerID: playerID, PlayerName: name, StartTime: now}
	err = l.store.OpenSession(ctx, &sess)
	if errors.Is(err, storage.ErrActiveSessionExists) {
		l.logger.Warn("active session appeared concurrently, replacing it", "player", playerID)
		if _, err := l.store.ClosePlayerSessions(ctx, l.tenantID, playerID, now); err != nil {
			return err
		}
		observability.RecordRepair(ctx, l.tenantID, domain.CloseDuplicate, 1)
		err = l.store.OpenSession(ctx, &sess)
	}
	if err != nil {
		return err
	}

	l.logger.Info("session opened", "player", playerID, "name", name)
	observability.RecordTransition(ctx, l.tenantID, "open", "online")
	l.emit(domain.Event{
		Type:      domain.EventSessionOpen,
		TenantID:  l.tenantID,
		Timestamp: now,
		Data:      domain.SessionEvent{PlayerID: playerID, PlayerName: name},
	})
	return nil
}

func (l *Ledger) closePlayer(ctx context.Context, playerID, name string, now time.Time, reason string) error {
	n, err := l.store.ClosePlayerSessions(ctx, l.tenantID, playerID, now)
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	l.logger.Info("session closed", "player", playerID, "name", name, "reason", reason)
	observability.RecordTransition(ctx, l.tenantID, "close", reason)
	l.emit(domain.Event{
		Type:      domain.EventSessionClose,
		TenantID:  l.tenantID,
		Timestamp: now,
		Data:      domain.SessionEvent{PlayerID: playerID, PlayerName: name, Reason: reason},
	})
	return nil
}

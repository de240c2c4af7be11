package tracker

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ernie/teamwatch/internal/config"
	"github.com/ernie/teamwatch/internal/domain"
	"github.com/ernie/teamwatch/internal/observability"
)

// SweepTarget is a tracked tenant the orphan sweep can inspect
type SweepTarget interface {
	TenantID() string
	// WithPresence calls fn with the server and the players last seen online
	// (ID -> name) while holding the tenant's lock. It reports false without
	// calling fn while the tenant still awaits reconciliation.
	WithPresence(fn func(serverID string, online map[string]string)) bool
}

// SweepResult counts the repairs made by an orphan sweep
type SweepResult struct {
	Tenants int `json:"tenants"`
	Closed  int `json:"closed"`
	Opened  int `json:"opened"`
}

// OrphanValidator closes sessions whose player is no longer online and opens
// sessions for online players that lack one
type OrphanValidator struct {
	store   Store
	logger  *slog.Logger
	now     func() time.Time
	emit    func(domain.Event)
	minAge  time.Duration
	workers int
}

// NewOrphanValidator creates a validator from orphan sweep settings
func NewOrphanValidator(cfg config.OrphanConfig, store Store, logger *slog.Logger, now func() time.Time, emit func(domain.Event)) *OrphanValidator {
	if emit == nil {
		emit = func(domain.Event) {}
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	return &OrphanValidator{
		store:   store,
		logger:  logger.With("component", "orphans"),
		now:     now,
		emit:    emit,
		minAge:  cfg.MinAge,
		workers: workers,
	}
}

// Sweep validates every target, a bounded number at a time. A failing
// tenant is logged and does not affect the others.
func (v *OrphanValidator) Sweep(ctx context.Context, targets []SweepTarget) SweepResult {
	var mu sync.Mutex
	var total SweepResult

	var g errgroup.Group
	g.SetLimit(v.workers)
	for _, target := range targets {
		g.Go(func() error {
			var res SweepResult
			ran := target.WithPresence(func(serverID string, online map[string]string) {
				res = v.SweepTenant(ctx, target.TenantID(), serverID, online)
			})
			if !ran {
				return nil
			}
			mu.Lock()
			total.Tenants++
			total.Closed += res.Closed
			total.Opened += res.Opened
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return total
}

// SweepTenant validates one tenant's active sessions against its online set
func (v *OrphanValidator) SweepTenant(ctx context.Context, tenantID, serverID string, online map[string]string) SweepResult {
	now := v.now()
	logger := v.logger.With("tenant", tenantID)
	res := SweepResult{Tenants: 1}

	active, err := v.store.ActiveSessions(ctx, tenantID)
	if err != nil {
		logger.Error("loading active sessions", "error", err)
		return res
	}

	hasActive := make(map[string]bool, len(active))
	for _, s := range active {
		hasActive[s.PlayerID] = true
		if _, ok := online[s.PlayerID]; ok {
			continue
		}
		age := s.Age(now)
		if age <= v.minAge {
			continue
		}
		closed, err := v.store.CloseSession(ctx, s.ID, now)
		if err != nil {
			logger.Error("closing orphaned session", "player", s.PlayerID, "error", err)
			continue
		}
		if closed {
			res.Closed++
			logger.Info("closed orphaned session", "player", s.PlayerID, "age", age.Round(time.Second))
			v.emit(domain.Event{
				Type:      domain.EventSessionClose,
				TenantID:  tenantID,
				Timestamp: now,
				Data:      domain.SessionEvent{PlayerID: s.PlayerID, PlayerName: s.PlayerName, Reason: domain.CloseOrphan},
			})
		}
	}

	missing := make([]string, 0)
	for id := range online {
		if !hasActive[id] {
			missing = append(missing, id)
		}
	}
	sort.Strings(missing)
	for _, id := range missing {
		sess := domain.Session{TenantID: tenantID, ServerID: serverID, PlayerID: id, PlayerName: online[id], StartTime: now}
		if err := v.store.OpenSession(ctx, &sess); err != nil {
			logger.Error("opening missing session", "player", id, "error", err)
			continue
		}
		res.Opened++
		logger.Info("opened missing session", "player", id)
		v.emit(domain.Event{
			Type:      domain.EventSessionOpen,
			TenantID:  tenantID,
			Timestamp: now,
			Data:      domain.SessionEvent{PlayerID: id, PlayerName: online[id]},
		})
	}

	observability.RecordRepair(ctx, tenantID, domain.CloseOrphan, int64(res.Closed))
	observability.RecordRepair(ctx, tenantID, "missing", int64(res.Opened))
	return res
}

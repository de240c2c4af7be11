package tracker

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/ernie/teamwatch/internal/config"
	"github.com/ernie/teamwatch/internal/domain"
	"github.com/ernie/teamwatch/internal/observability"
	"github.com/ernie/teamwatch/internal/storage"
)

// Reconciler repairs a tenant's session ledger when tracking (re)starts
type Reconciler struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
	emit   func(domain.Event)

	grace        time.Duration
	mergeGap     time.Duration
	lookback     time.Duration
	resumeMaxAge time.Duration
}

// NewReconciler creates a reconciler from tracking settings
func NewReconciler(cfg config.TrackingConfig, store Store, logger *slog.Logger, now func() time.Time, emit func(domain.Event)) *Reconciler {
	if emit == nil {
		emit = func(domain.Event) {}
	}
	return &Reconciler{
		store:        store,
		logger:       logger.With("component", "reconciler"),
		now:          now,
		emit:         emit,
		grace:        cfg.ReconnectGrace,
		mergeGap:     cfg.MergeGap,
		lookback:     cfg.MergeLookback,
		resumeMaxAge: cfg.ResumeMaxAge,
	}
}

// Start applies the downtime gate for a tenant that is about to be tracked.
// When the tenant has been silent for longer than the reconnect grace every
// active session is closed at the last recorded activity and Start returns
// false. Otherwise it returns true and reconciliation must run against the
// first snapshot.
func (r *Reconciler) Start(ctx context.Context, tenantID string) bool {
	now := r.now()
	last, err := r.store.LastActivity(ctx, tenantID)
	if err != nil {
		r.logger.Error("reading last activity, reconciling instead", "tenant", tenantID, "error", err)
		return true
	}
	if last == nil || now.Sub(*last) <= r.grace {
		return true
	}

	closed, err := r.store.CloseAllActive(ctx, tenantID, *last)
	if err != nil {
		r.logger.Error("closing sessions after downtime", "tenant", tenantID, "error", err)
		return false
	}
	if closed > 0 {
		r.logger.Info("tracker was down past grace, closed active sessions",
			"tenant", tenantID, "downtime", now.Sub(*last).Round(time.Second), "closed", closed)
		observability.RecordRepair(ctx, tenantID, domain.CloseDowntime, closed)
	}
	return false
}

// Reconcile diffs stored active sessions against the snapshot's online
// players, resumes or opens sessions for online players and merges
// fragments. Per-player failures are logged and skipped.
func (r *Reconciler) Reconcile(ctx context.Context, snap domain.Snapshot) {
	now := r.now()
	tenantID := snap.TenantID
	logger := r.logger.With("tenant", tenantID)
	online := snap.OnlineSet()

	active, err := r.store.ActiveSessions(ctx, tenantID)
	if err != nil {
		logger.Error("loading active sessions", "error", err)
		active = nil
	}

	hasActive := make(map[string]bool, len(active))
	for _, s := range active {
		if _, ok := online[s.PlayerID]; ok {
			hasActive[s.PlayerID] = true
			continue
		}
		closed, err := r.store.CloseSession(ctx, s.ID, now)
		if err != nil {
			logger.Error("closing offline session", "player", s.PlayerID, "error", err)
			continue
		}
		if closed {
			logger.Info("closed session for player offline after restart", "player", s.PlayerID)
			observability.RecordRepair(ctx, tenantID, domain.CloseReconcile, 1)
			r.emit(domain.Event{
				Type:      domain.EventSessionClose,
				TenantID:  tenantID,
				Timestamp: now,
				Data:      domain.SessionEvent{PlayerID: s.PlayerID, PlayerName: s.PlayerName, Reason: domain.CloseReconcile},
			})
		}
	}

	ids := make([]string, 0, len(online))
	for id := range online {
		if !hasActive[id] {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := r.resumeOrOpen(ctx, tenantID, snap.ServerID, online[id], now); err != nil {
			logger.Error("restoring session", "player", id, "error", err)
		}
	}

	if merged, err := r.MergeSweep(ctx, tenantID); err != nil {
		logger.Error("merging fragments", "error", err)
	} else if merged > 0 {
		logger.Info("merged fragmented sessions", "merged", merged)
	}
}

// resumeOrOpen reopens the player's most recent closed session when it ended
// recently enough, preserving its start time; otherwise it opens a new one
func (r *Reconciler) resumeOrOpen(ctx context.Context, tenantID, serverID string, p domain.PlayerSnapshot, now time.Time) error {
	last, err := r.store.MostRecentClosedSession(ctx, tenantID, p.PlayerID)
	if err != nil {
		return err
	}

	if last != nil && last.EndTime != nil && (r.resumeMaxAge <= 0 || now.Sub(*last.EndTime) <= r.resumeMaxAge) {
		err := r.store.ReopenSession(ctx, last.ID)
		if errors.Is(err, storage.ErrActiveSessionExists) {
			return nil
		}
		if err != nil {
			return err
		}
		r.logger.Info("resumed session after restart", "tenant", tenantID, "player", p.PlayerID, "started", last.StartTime)
		observability.RecordTransition(ctx, tenantID, "resume", domain.CloseReconcile)
		r.emit(domain.Event{
			Type:      domain.EventSessionResume,
			TenantID:  tenantID,
			Timestamp: now,
			Data:      domain.SessionEvent{PlayerID: p.PlayerID, PlayerName: p.Name},
		})
		return nil
	}

	sess := domain.Session{TenantID: tenantID, ServerID: serverID, PlayerID: p.PlayerID, PlayerName: p.Name, StartTime: now}
	if err := r.store.OpenSession(ctx, &sess); err != nil {
		if errors.Is(err, storage.ErrActiveSessionExists) {
			return nil
		}
		return err
	}
	r.logger.Info("opened session for online player after restart", "tenant", tenantID, "player", p.PlayerID)
	observability.RecordTransition(ctx, tenantID, "open", domain.CloseReconcile)
	r.emit(domain.Event{
		Type:      domain.EventSessionOpen,
		TenantID:  tenantID,
		Timestamp: now,
		Data:      domain.SessionEvent{PlayerID: p.PlayerID, PlayerName: p.Name},
	})
	return nil
}

// MergeSweep coalesces fragments for every player with sessions inside the
// lookback window and returns how many sessions were absorbed
func (r *Reconciler) MergeSweep(ctx context.Context, tenantID string) (int, error) {
	now := r.now()
	since := now.Add(-r.lookback)
	players, err := r.store.SessionPlayers(ctx, tenantID, since)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, playerID := range players {
		sessions, err := r.store.SessionsStartedSince(ctx, tenantID, playerID, since)
		if err != nil {
			r.logger.Error("loading sessions for merge", "tenant", tenantID, "player", playerID, "error", err)
			continue
		}
		if len(sessions) < 2 {
			continue
		}

		var deleteIDs []int64
		var inserts []domain.Session
		absorbed := 0
		for _, m := range MergeFragments(sessions, r.mergeGap, now) {
			if len(m.Sources) < 2 {
				continue
			}
			deleteIDs = append(deleteIDs, m.Sources...)
			inserts = append(inserts, m.Session)
			absorbed += len(m.Sources) - 1
		}
		if absorbed == 0 {
			continue
		}
		if err := r.store.ReplaceSessions(ctx, deleteIDs, inserts); err != nil {
			r.logger.Error("persisting merged sessions", "tenant", tenantID, "player", playerID, "error", err)
			continue
		}
		total += absorbed
	}

	if total > 0 {
		observability.RecordRepair(ctx, tenantID, "merge", int64(total))
		r.emit(domain.Event{
			Type:      domain.EventSessionsMerged,
			TenantID:  tenantID,
			Timestamp: now,
			Data:      domain.MergeEvent{Merged: total},
		})
	}
	return total, nil
}

// Merge is one session produced by MergeFragments and the IDs it replaces
type Merge struct {
	Session domain.Session
	Sources []int64
}

// MergeFragments coalesces one player's sessions whose gap (next start minus
// previous end, or now while the previous is open) lies in [0, gap]. The
// result spans the union, starts at the earliest start and is active when
// any fragment was. Input order does not matter.
func MergeFragments(sessions []domain.Session, gap time.Duration, now time.Time) []Merge {
	if len(sessions) == 0 {
		return nil
	}
	sorted := make([]domain.Session, len(sessions))
	copy(sorted, sessions)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].StartTime.Equal(sorted[j].StartTime) {
			return sorted[i].StartTime.Before(sorted[j].StartTime)
		}
		return sorted[i].ID < sorted[j].ID
	})

	maxGap := int64(gap / time.Second)
	nowUnix := now.Unix()
	endOf := func(s domain.Session) int64 {
		if s.IsActive || s.EndTime == nil {
			return nowUnix
		}
		return s.EndTime.Unix()
	}

	var out []Merge
	var cur domain.Session
	var curEnd int64
	var sources []int64
	flush := func() {
		m := cur
		if m.IsActive {
			m.EndTime = nil
			m.DurationSeconds = nil
		} else {
			end := time.Unix(curEnd, 0).UTC()
			d := curEnd - m.StartTime.Unix()
			m.EndTime = &end
			m.DurationSeconds = &d
		}
		if len(sources) > 1 {
			m.ID = 0
		}
		out = append(out, Merge{Session: m, Sources: sources})
	}

	for i, s := range sorted {
		if i == 0 {
			cur, curEnd, sources = s, endOf(s), []int64{s.ID}
			continue
		}
		g := s.StartTime.Unix() - curEnd
		if g >= 0 && g <= maxGap {
			if e := endOf(s); e > curEnd {
				curEnd = e
			}
			cur.IsActive = cur.IsActive || s.IsActive
			if s.PlayerName != "" {
				cur.PlayerName = s.PlayerName
			}
			sources = append(sources, s.ID)
			continue
		}
		flush()
		cur, curEnd, sources = s, endOf(s), []int64{s.ID}
	}
	flush()
	return out
}

package tracker

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ernie/teamwatch/internal/config"
	"github.com/ernie/teamwatch/internal/domain"
)

// Tracker owns one tracking task per operational tenant plus the global
// orphan sweep and retention loops
type Tracker struct {
	cfg    *config.Config
	store  Store
	source Source
	logger *slog.Logger
	now    func() time.Time
	events chan domain.Event

	reconciler *Reconciler
	orphans    *OrphanValidator
	retention  *Retention

	mu       sync.Mutex
	tasks    map[string]*tenantTask
	done     chan struct{}
	wg       sync.WaitGroup // background loops, not tenant tasks
	stopOnce sync.Once
}

// tenantTask is the tick loop of one tenant. mu serializes ticks, orphan
// sweeps and resets for the tenant.
type tenantTask struct {
	tenantID string
	cancel   context.CancelFunc
	finished chan struct{}

	mu      sync.Mutex
	ledger  *Ledger
	pending bool // reconciliation has not run yet
	stopped bool
}

// Option configures a Tracker
type Option func(*Tracker)

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// New creates a tracker. Nothing runs until Start or StartTracking.
func New(cfg *config.Config, store Store, source Source, logger *slog.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		cfg:    cfg,
		store:  store,
		source: source,
		logger: logger.With("component", "tracker"),
		now:    func() time.Time { return time.Now().UTC() },
		events: make(chan domain.Event, 100),
		tasks:  make(map[string]*tenantTask),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.reconciler = NewReconciler(cfg.Tracking, store, logger, t.now, t.emitEvent)
	t.orphans = NewOrphanValidator(cfg.Orphans, store, logger, t.now, t.emitEvent)
	t.retention = NewRetention(cfg.Maintenance, store, logger, t.now)
	return t
}

// Events returns the event channel for WebSocket broadcasting
func (t *Tracker) Events() <-chan domain.Event {
	return t.events
}

// emitEvent sends an event to the event channel
func (t *Tracker) emitEvent(event domain.Event) {
	select {
	case t.events <- event:
	default:
		// Channel full, drop event
	}
}

// Start launches discovery, orphan sweep and retention loops
func (t *Tracker) Start(ctx context.Context) {
	t.wg.Add(3)
	go t.loop(ctx, t.cfg.Tracking.DiscoverInterval, true, t.Discover)
	go t.loop(ctx, t.cfg.Orphans.Interval, false, func(ctx context.Context) { t.SweepOrphans(ctx) })
	go t.loop(ctx, t.cfg.Maintenance.Interval, false, func(ctx context.Context) { t.RunMaintenance(ctx) })
	t.logger.Info("tracker started",
		"tick", t.cfg.Tracking.TickInterval,
		"orphan_interval", t.cfg.Orphans.Interval,
		"maintenance_interval", t.cfg.Maintenance.Interval)
}

// Stop halts all loops and stops tracking every tenant, closing their
// active sessions
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() {
		t.logger.Info("tracker: stopping...")
		close(t.done)
		t.wg.Wait()
		for _, id := range t.Tracked() {
			t.StopTracking(context.Background(), id)
		}
		t.logger.Info("tracker: shutdown complete")
	})
}

func (t *Tracker) loop(ctx context.Context, interval time.Duration, immediate bool, fn func(context.Context)) {
	defer t.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if immediate {
		fn(ctx)
	}
	for {
		select {
		case <-t.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// Discover starts tracking operational tenants and stops tracking the rest
func (t *Tracker) Discover(ctx context.Context) {
	operational := make(map[string]bool)
	for _, id := range t.source.Tenants() {
		operational[id] = true
		t.StartTracking(ctx, id)
	}
	for _, id := range t.Tracked() {
		if !operational[id] {
			t.StopTracking(ctx, id)
		}
	}
}

// Tracked returns the IDs of tenants currently tracked
func (t *Tracker) Tracked() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.tasks))
	for id := range t.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsTracking reports whether a tenant has a running task
func (t *Tracker) IsTracking(tenantID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.tasks[tenantID]
	return ok
}

// StartTracking begins ticking a tenant. It applies the downtime gate and
// runs the first tick before returning. Starting a tracked tenant is a no-op.
func (t *Tracker) StartTracking(ctx context.Context, tenantID string) {
	t.mu.Lock()
	if _, ok := t.tasks[tenantID]; ok {
		t.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	task := &tenantTask{
		tenantID: tenantID,
		cancel:   cancel,
		finished: make(chan struct{}),
		ledger:   NewLedger(tenantID, t.store, t.logger, t.now, t.emitEvent),
	}
	t.tasks[tenantID] = task
	task.mu.Lock()
	t.mu.Unlock()

	t.logger.Info("starting tracking", "tenant", tenantID)
	task.pending = t.reconciler.Start(loopCtx, tenantID)
	t.tickLocked(loopCtx, task)
	task.mu.Unlock()

	t.emitEvent(domain.Event{Type: domain.EventTrackingStart, TenantID: tenantID, Timestamp: t.now()})
	go t.runTenant(loopCtx, task)
}

func (t *Tracker) runTenant(ctx context.Context, task *tenantTask) {
	defer close(task.finished)
	ticker := time.NewTicker(t.cfg.Tracking.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Tick(ctx, task.tenantID)
		}
	}
}

// Tick runs one tick for a tracked tenant
func (t *Tracker) Tick(ctx context.Context, tenantID string) {
	task := t.task(tenantID)
	if task == nil {
		return
	}
	task.mu.Lock()
	defer task.mu.Unlock()
	// A tick always finishes the player set it started with
	t.tickLocked(context.WithoutCancel(ctx), task)
}

func (t *Tracker) tickLocked(ctx context.Context, task *tenantTask) {
	snap, ok := t.source.Latest(task.tenantID)
	if !ok {
		return
	}
	if snap.TenantID == "" {
		snap.TenantID = task.tenantID
	}
	if task.pending {
		t.reconciler.Reconcile(ctx, snap)
		task.ledger.Tick(ctx, snap, true)
		task.pending = false
		return
	}
	task.ledger.Tick(ctx, snap, false)
}

func (t *Tracker) task(tenantID string) *tenantTask {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tasks[tenantID]
}

// StopTracking cancels a tenant's tick loop, waits for an in-flight tick and
// closes every active session of the tenant before returning
func (t *Tracker) StopTracking(ctx context.Context, tenantID string) {
	t.mu.Lock()
	task, ok := t.tasks[tenantID]
	if ok {
		delete(t.tasks, tenantID)
	}
	t.mu.Unlock()
	if !ok {
		return
	}

	task.cancel()
	<-task.finished

	task.mu.Lock()
	defer task.mu.Unlock()
	now := t.now()
	closed, err := t.store.CloseAllActive(context.WithoutCancel(ctx), tenantID, now)
	if err != nil {
		t.logger.Error("closing sessions on stop", "tenant", tenantID, "error", err)
	}
	task.ledger.Reset()
	task.stopped = true
	t.logger.Info("stopped tracking", "tenant", tenantID, "closed", closed)
	t.emitEvent(domain.Event{Type: domain.EventTrackingStop, TenantID: tenantID, Timestamp: now})
}

// ResetTenant deletes all of a tenant's sessions and telemetry. A tracked
// tenant keeps being tracked with a fresh ledger.
func (t *Tracker) ResetTenant(ctx context.Context, tenantID string) (int64, error) {
	if task := t.task(tenantID); task != nil {
		task.mu.Lock()
		defer task.mu.Unlock()
		defer task.ledger.Reset()
	}
	n, err := t.store.ResetTenant(ctx, tenantID, uuid.NewString(), t.now())
	if err != nil {
		return 0, err
	}
	t.logger.Info("tenant reset", "tenant", tenantID, "deleted", n)
	return n, nil
}

// SweepOrphans runs the orphan validator over every tracked tenant
func (t *Tracker) SweepOrphans(ctx context.Context) SweepResult {
	t.mu.Lock()
	targets := make([]SweepTarget, 0, len(t.tasks))
	for _, task := range t.tasks {
		targets = append(targets, task)
	}
	t.mu.Unlock()

	res := t.orphans.Sweep(ctx, targets)
	if res.Closed > 0 || res.Opened > 0 {
		t.logger.Info("orphan sweep", "tenants", res.Tenants, "closed", res.Closed, "opened", res.Opened)
	}
	return res
}

// RunMaintenance runs one retention pass
func (t *Tracker) RunMaintenance(ctx context.Context) MaintenanceReport {
	return t.retention.Run(ctx)
}

// MergeSweep runs the fragment merge for one tenant
func (t *Tracker) MergeSweep(ctx context.Context, tenantID string) (int, error) {
	if task := t.task(tenantID); task != nil {
		task.mu.Lock()
		defer task.mu.Unlock()
	}
	return t.reconciler.MergeSweep(ctx, tenantID)
}

func (task *tenantTask) TenantID() string {
	return task.tenantID
}

func (task *tenantTask) WithPresence(fn func(serverID string, online map[string]string)) bool {
	task.mu.Lock()
	defer task.mu.Unlock()
	if task.pending || task.stopped {
		return false
	}
	fn(task.ledger.ServerID(), task.ledger.OnlinePlayers())
	return true
}

package tracker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ernie/teamwatch/internal/config"
	"github.com/ernie/teamwatch/internal/domain"
	"github.com/ernie/teamwatch/internal/observability"
	"github.com/ernie/teamwatch/internal/storage"
)

// StepResult is the outcome of one retention sub-task
type StepResult struct {
	Name     string `json:"name"`
	Affected int64  `json:"affected"`
	Error    string `json:"error,omitempty"`
}

// MaintenanceReport summarizes one retention run
type MaintenanceReport struct {
	RunID  string       `json:"run_id"`
	Total  int64        `json:"total"`
	Failed bool         `json:"failed"`
	Steps  []StepResult `json:"steps"`
}

// Retention bounds storage growth. Sessions are only ever closed, never
// deleted; high-volume telemetry is pruned by age and capped by count.
type Retention struct {
	store  Store
	cfg    config.MaintenanceConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewRetention creates a retention runner
func NewRetention(cfg config.MaintenanceConfig, store Store, logger *slog.Logger, now func() time.Time) *Retention {
	return &Retention{store: store, cfg: cfg, logger: logger.With("component", "retention"), now: now}
}

// Run executes every retention step. A failing step is recorded and the
// remaining steps still run. The outcome is appended to the maintenance log.
func (r *Retention) Run(ctx context.Context) MaintenanceReport {
	now := r.now()
	report := MaintenanceReport{RunID: uuid.NewString()}

	step := func(name string, fn func() (int64, error)) {
		n, err := fn()
		res := StepResult{Name: name, Affected: n}
		if err != nil {
			res.Error = err.Error()
			report.Failed = true
			r.logger.Error("retention step failed", "step", name, "error", err)
		} else if n > 0 {
			r.logger.Info("retention step", "step", name, "affected", n)
		}
		observability.RecordRetention(ctx, name, n)
		report.Total += n
		report.Steps = append(report.Steps, res)
	}

	step("close_stale_sessions", func() (int64, error) {
		return r.store.CloseStaleSessions(ctx, now.Add(-r.cfg.MaxSessionAge), now)
	})
	step("prune_connections", func() (int64, error) {
		return r.store.DeleteConnectionsBefore(ctx, now.Add(-r.cfg.ConnectionRetention), r.cfg.DeleteBatch)
	})
	step("cap_positions", func() (int64, error) {
		return r.store.TrimTable(ctx, storage.TablePositions, r.cfg.MaxPositions, r.cfg.DeleteBatch)
	})
	step("cap_chat", func() (int64, error) {
		return r.store.TrimTable(ctx, storage.TableChat, r.cfg.MaxChat, r.cfg.DeleteBatch)
	})
	step("cap_connections", func() (int64, error) {
		return r.store.TrimTable(ctx, storage.TableConnections, r.cfg.MaxConnections, r.cfg.DeleteBatch)
	})
	step("cap_commands", func() (int64, error) {
		return r.store.TrimTable(ctx, storage.TableCommands, r.cfg.MaxCommands, r.cfg.DeleteBatch)
	})

	details, err := json.Marshal(report.Steps)
	if err != nil {
		details = []byte("[]")
	}
	rec := &domain.MaintenanceRecord{
		RunID:           report.RunID,
		Type:            domain.MaintenanceScheduled,
		RecordsAffected: report.Total,
		Failed:          report.Failed,
		Details:         string(details),
		Timestamp:       now,
	}
	if err := r.store.RecordMaintenance(ctx, rec); err != nil {
		r.logger.Error("recording maintenance run", "error", err)
	}
	if err := r.store.Optimize(ctx); err != nil {
		r.logger.Warn("optimize failed", "error", err)
	}

	r.logger.Info("maintenance complete", "run_id", report.RunID, "affected", report.Total, "failed", report.Failed)
	return report
}

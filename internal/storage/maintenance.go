package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/ernie/teamwatch/internal/domain"
)

// Tables that hold high-volume telemetry and can be capped
const (
	TablePositions   = "positions"
	TableChat        = "chat_messages"
	TableConnections = "connection_snapshots"
	TableCommands    = "command_history"
)

var trimmable = map[string]bool{
	TablePositions:   true,
	TableChat:        true,
	TableConnections: true,
	TableCommands:    true,
}

// tenantTables hold per-tenant data removed by ResetTenant. Tenant secrets
// survive a reset.
var tenantTables = []string{"sessions", "positions", "deaths", "chat_messages", "connection_snapshots", "command_history"}

// DeleteConnectionsBefore removes connection snapshots older than cutoff in
// chunks of batch rows
func (s *Store) DeleteConnectionsBefore(ctx context.Context, cutoff time.Time, batch int) (int64, error) {
	if batch <= 0 {
		batch = 5000
	}
	var total int64
	for {
		n, err := s.execBuilder(ctx, qb.Delete(TableConnections).Where(
			sq.Expr("id IN (SELECT id FROM connection_snapshots WHERE timestamp < ? ORDER BY id LIMIT ?)", unix(cutoff), batch)))
		if err != nil {
			return total, fmt.Errorf("deleting old connections: %w", err)
		}
		total += n
		if n < int64(batch) || ctx.Err() != nil {
			return total, ctx.Err()
		}
	}
}

// CountRows returns the number of rows in a trimmable table
func (s *Store) CountRows(ctx context.Context, table string) (int64, error) {
	if !trimmable[table] {
		return 0, fmt.Errorf("table %q is not trimmable", table)
	}
	var n int64
	if err := s.ro.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting %s: %w", table, err)
	}
	return n, nil
}

// TrimTable deletes the oldest rows of table until at most max remain,
// removing at most batch rows per statement
func (s *Store) TrimTable(ctx context.Context, table string, max int64, batch int) (int64, error) {
	count, err := s.CountRows(ctx, table)
	if err != nil {
		return 0, err
	}
	if batch <= 0 {
		batch = 5000
	}

	var total int64
	for excess := count - max; excess > 0; {
		chunk := int64(batch)
		if excess < chunk {
			chunk = excess
		}
		n, err := s.execBuilder(ctx, qb.Delete(table).Where(
			sq.Expr("id IN (SELECT id FROM "+table+" ORDER BY id LIMIT ?)", chunk)))
		if err != nil {
			return total, fmt.Errorf("trimming %s: %w", table, err)
		}
		total += n
		excess -= n
		if n == 0 || ctx.Err() != nil {
			break
		}
	}
	return total, ctx.Err()
}

// RecordMaintenance appends a record to the maintenance log
func (s *Store) RecordMaintenance(ctx context.Context, rec *domain.MaintenanceRecord) error {
	res, err := s.exec(ctx, `
		INSERT INTO maintenance_log (run_id, maintenance_type, records_affected, failed, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.RunID, rec.Type, rec.RecordsAffected, rec.Failed, rec.Details, unix(rec.Timestamp))
	if err != nil {
		return fmt.Errorf("recording maintenance: %w", err)
	}
	rec.ID, err = res.LastInsertId()
	return err
}

// GetMaintenanceLog returns the most recent maintenance records
func (s *Store) GetMaintenanceLog(ctx context.Context, limit int) ([]domain.MaintenanceRecord, error) {
	b := qb.Select(maintenanceColumns...).From("maintenance_log").OrderBy("timestamp DESC", "id DESC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	rows, err := s.query(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("querying maintenance log: %w", err)
	}
	defer rows.Close()

	var records []domain.MaintenanceRecord
	for rows.Next() {
		r, err := scanMaintenance(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// ResetTenant deletes every session and telemetry row of a tenant and logs
// the reset, all in one transaction. It returns the number of rows deleted.
func (s *Store) ResetTenant(ctx context.Context, tenantID, runID string, now time.Time) (int64, error) {
	var total int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		total = 0
		perTable := make(map[string]int64, len(tenantTables))
		for _, table := range tenantTables {
			res, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE tenant_id = ?", tenantID)
			if err != nil {
				return fmt.Errorf("clearing %s: %w", table, err)
			}
			n, _ := res.RowsAffected()
			perTable[table] = n
			total += n
		}
		details, err := json.Marshal(map[string]any{"tenant_id": tenantID, "tables": perTable})
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO maintenance_log (run_id, maintenance_type, records_affected, failed, details, timestamp)
			VALUES (?, ?, ?, 0, ?, ?)
		`, runID, domain.MaintenanceTenantReset, total, string(details), unix(now))
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("resetting tenant %s: %w", tenantID, err)
	}
	return total, nil
}

// DatabaseSize returns the size of the main database file in bytes
func (s *Store) DatabaseSize(ctx context.Context) (int64, error) {
	var pages, pageSize int64
	if err := s.ro.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pages); err != nil {
		return 0, fmt.Errorf("reading page count: %w", err)
	}
	if err := s.ro.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0, fmt.Errorf("reading page size: %w", err)
	}
	return pages * pageSize, nil
}

// Optimize asks SQLite to refresh query planner statistics
func (s *Store) Optimize(ctx context.Context) error {
	if _, err := s.exec(ctx, "PRAGMA optimize"); err != nil {
		return fmt.Errorf("optimizing database: %w", err)
	}
	return nil
}

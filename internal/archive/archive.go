// Package archive writes a SQLite record of simulation runs: flow tables,
// balance sheets and bankruptcies per period. It is a report sink; runs
// are never resumed from it.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/stockflow-dev/stockflow/internal/balance"
	"github.com/stockflow-dev/stockflow/internal/flow"
	"github.com/stockflow-dev/stockflow/internal/model"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusHalted    = "halted"
	StatusFailed    = "failed"
)

// Archive is an open SQLite archive.
type Archive struct {
	db *sql.DB
}

// Open creates or opens the archive at path.
func Open(ctx context.Context, path string) (*Archive, error) {
	if path == "" {
		return nil, fmt.Errorf("empty archive path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating archive dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Archive{db: db}, nil
}

func initPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("archive pragma %q: %w", p, err)
		}
	}
	return nil
}

func initSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			periods INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS flow_cells (
			run_id TEXT NOT NULL REFERENCES runs(run_id),
			period INTEGER NOT NULL,
			subject TEXT NOT NULL,
			label TEXT NOT NULL,
			kind TEXT NOT NULL,
			amount TEXT NOT NULL,
			PRIMARY KEY (run_id, period, subject, label, kind)
		);`,
		`CREATE TABLE IF NOT EXISTS balance_rows (
			run_id TEXT NOT NULL REFERENCES runs(run_id),
			period INTEGER NOT NULL,
			agent TEXT NOT NULL,
			class TEXT NOT NULL,
			item TEXT NOT NULL,
			assets TEXT NOT NULL,
			equity TEXT NOT NULL,
			liabilities TEXT NOT NULL,
			PRIMARY KEY (run_id, period, agent, item)
		);`,
		`CREATE TABLE IF NOT EXISTS bankruptcies (
			run_id TEXT NOT NULL REFERENCES runs(run_id),
			period INTEGER NOT NULL,
			agent TEXT NOT NULL,
			reason TEXT NOT NULL,
			ledger TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS bankruptcies_run ON bankruptcies(run_id, period);`,
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("archive schema: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (a *Archive) Close() error {
	return a.db.Close()
}

// StartRun registers a new run and returns its id.
func (a *Archive) StartRun(ctx context.Context, name string, started time.Time) (string, error) {
	runID := uuid.NewString()
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, name, started_at, status) VALUES (?, ?, ?, ?)`,
		runID, name, started.UTC().Format(time.RFC3339), StatusRunning)
	if err != nil {
		return "", fmt.Errorf("starting run: %w", err)
	}
	return runID, nil
}

// FinishRun stamps the run's final status and period count.
func (a *Archive) FinishRun(ctx context.Context, runID string, periods int, status string, finished time.Time) error {
	res, err := a.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, periods = ?, status = ? WHERE run_id = ?`,
		finished.UTC().Format(time.RFC3339), periods, status, runID)
	if err != nil {
		return fmt.Errorf("finishing run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finishing run: unknown run %s", runID)
	}
	return nil
}

// RecordPeriod stores the period's ungrouped flow table and every sheet's
// rows in one transaction. Zero cells are skipped.
func (a *Archive) RecordPeriod(ctx context.Context, runID string, period int, table *flow.Table, sheets []*balance.Sheet) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("recording period %d: %w", period, err)
	}
	defer tx.Rollback()

	cell, err := tx.PrepareContext(ctx,
		`INSERT INTO flow_cells (run_id, period, subject, label, kind, amount) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("recording period %d: %w", period, err)
	}
	defer cell.Close()
	if table != nil {
		for i, subject := range table.Subjects {
			for j, col := range table.Columns {
				v := table.Cells[i][j]
				if v.IsZero() {
					continue
				}
				if _, err := cell.ExecContext(ctx, runID, period, subject, col.Label, col.Kind.String(), v.String()); err != nil {
					return fmt.Errorf("recording flow cell %s/%s: %w", subject, col, err)
				}
			}
		}
	}

	row, err := tx.PrepareContext(ctx,
		`INSERT INTO balance_rows (run_id, period, agent, class, item, assets, equity, liabilities) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("recording period %d: %w", period, err)
	}
	defer row.Close()
	for _, s := range sheets {
		ref := s.OwnerRef()
		for _, item := range append(s.Items(), model.TotalRow) {
			e := s.Item(item)
			if _, err := row.ExecContext(ctx, runID, period, ref.Name, ref.Class, item,
				e.Assets.String(), e.Equity.String(), e.Liabilities.String()); err != nil {
				return fmt.Errorf("recording balance row %s/%s: %w", ref.Name, item, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("recording period %d: %w", period, err)
	}
	return nil
}

// RecordBankruptcy stores one bankruptcy event.
func (a *Archive) RecordBankruptcy(ctx context.Context, runID string, period int, ev balance.BankruptcyEvent) error {
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO bankruptcies (run_id, period, agent, reason, ledger) VALUES (?, ?, ?, ?, ?)`,
		runID, period, ev.Owner.Name, ev.Reason, ev.Dump)
	if err != nil {
		return fmt.Errorf("recording bankruptcy of %s: %w", ev.Owner.Name, err)
	}
	return nil
}

// Run is a row of the runs table.
type Run struct {
	ID       string
	Name     string
	Started  string
	Finished string
	Periods  int
	Status   string
}

// Runs lists all archived runs, oldest first.
func (a *Archive) Runs(ctx context.Context) ([]Run, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT run_id, name, started_at, COALESCE(finished_at, ''), periods, status FROM runs ORDER BY started_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Name, &r.Started, &r.Finished, &r.Periods, &r.Status); err != nil {
			return nil, fmt.Errorf("listing runs: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SubjectTotal sums one subject's archived cells for a run and period.
func (a *Archive) SubjectTotal(ctx context.Context, runID string, period int, subject string) (decimal.Decimal, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT amount FROM flow_cells WHERE run_id = ? AND period = ? AND subject = ?`, runID, period, subject)
	if err != nil {
		return decimal.Zero, fmt.Errorf("querying flow cells: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return decimal.Zero, err
		}
		v, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, fmt.Errorf("parsing archived amount %q: %w", s, err)
		}
		total = total.Add(v)
	}
	return total, rows.Err()
}

// Count returns the number of rows of table for a run. table must be one
// of flow_cells, balance_rows or bankruptcies.
func (a *Archive) Count(ctx context.Context, table, runID string) (int, error) {
	switch table {
	case "flow_cells", "balance_rows", "bankruptcies":
	default:
		return 0, fmt.Errorf("unknown archive table %q", table)
	}
	var n int
	err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table+` WHERE run_id = ?`, runID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting %s: %w", table, err)
	}
	return n, nil
}

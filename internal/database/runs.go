package database

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// Run statuses.
const (
	StatusRunning  = "running"
	StatusFinished = "finished"
	StatusFailed   = "failed"
)

const runColumns = `id, batch_id, round, output_dir, seed, seeded, user_count,
	config_yaml, report_markdown, status, started_at, finished_at`

// InsertRun stores a new run in the running state. An empty ID is replaced
// with a fresh UUID. Returns the run ID.
func (db *DB) InsertRun(r Run) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.BatchID == "" {
		r.BatchID = r.ID
	}
	if r.Round == 0 {
		r.Round = 1
	}
	_, err := db.conn.Exec(
		`INSERT INTO runs (id, batch_id, round, output_dir, seed, seeded, user_count, config_yaml, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.BatchID, r.Round, r.OutputDir, int64(r.Seed), boolToInt(r.Seeded), r.UserCount, r.ConfigYAML, StatusRunning,
	)
	if err != nil {
		return "", fmt.Errorf("inserting run: %w", err)
	}
	return r.ID, nil
}

// FinishRun marks a run finished or failed and stores its rendered report.
func (db *DB) FinishRun(id, status, reportMarkdown string) error {
	result, err := db.conn.Exec(
		`UPDATE runs SET status = ?, report_markdown = ?, finished_at = datetime('now') WHERE id = ?`,
		status, reportMarkdown, id,
	)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run %s not found", id)
	}
	return nil
}

// GetRun returns the run with the given ID, or nil if there is none.
func (db *DB) GetRun(id string) (*Run, error) {
	row := db.conn.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// GetRuns returns up to limit runs, newest first. limit <= 0 returns all.
func (db *DB) GetRuns(limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, batch_id, round DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// GetLastRunDate returns when the most recent run started, or "" if no
// runs exist.
func (db *DB) GetLastRunDate() (string, error) {
	var started string
	err := db.conn.QueryRow("SELECT started_at FROM runs ORDER BY started_at DESC LIMIT 1").Scan(&started)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return started, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var r Run
	var seed int64
	var seeded int
	var cfg, report sql.NullString
	if err := s.Scan(&r.ID, &r.BatchID, &r.Round, &r.OutputDir, &seed, &seeded, &r.UserCount,
		&cfg, &report, &r.Status, &r.StartedAt, &r.FinishedAt); err != nil {
		return nil, err
	}
	r.Seed = uint64(seed)
	r.Seeded = seeded == 1
	r.ConfigYAML = cfg.String
	r.ReportMarkdown = report.String
	return &r, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    batch_id TEXT NOT NULL,
    round INTEGER NOT NULL DEFAULT 1,
    output_dir TEXT NOT NULL,
    seed INTEGER,
    seeded INTEGER DEFAULT 0,
    user_count INTEGER DEFAULT 0,
    config_yaml TEXT,
    report_markdown TEXT,
    status TEXT NOT NULL DEFAULT 'running' CHECK(status IN ('running', 'finished', 'failed')),
    started_at TEXT DEFAULT (datetime('now')),
    finished_at TEXT
);

CREATE TABLE IF NOT EXISTS model_scores (
    run_id TEXT NOT NULL REFERENCES runs(id),
    model TEXT NOT NULL,
    mean_apk REAL NOT NULL,
    users INTEGER DEFAULT 0,
    skipped INTEGER DEFAULT 0,
    failures INTEGER DEFAULT 0,
    elapsed_ms INTEGER DEFAULT 0,
    PRIMARY KEY (run_id, model)
);

CREATE TABLE IF NOT EXISTS user_results (
    run_id TEXT NOT NULL REFERENCES runs(id),
    model TEXT NOT NULL,
    user_id INTEGER NOT NULL,
    total_ratings INTEGER NOT NULL,
    best_horizon INTEGER NOT NULL,
    best_apk REAL NOT NULL,
    best_pk REAL NOT NULL,
    best_rk REAL NOT NULL,
    skipped INTEGER DEFAULT 0,
    failures INTEGER DEFAULT 0,
    PRIMARY KEY (run_id, model, user_id)
);

CREATE INDEX IF NOT EXISTS idx_runs_batch ON runs(batch_id);
CREATE INDEX IF NOT EXISTS idx_user_results_run_model ON user_results(run_id, model);
CREATE INDEX IF NOT EXISTS idx_user_results_user ON user_results(user_id);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}

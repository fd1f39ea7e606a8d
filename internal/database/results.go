package database

import "fmt"

// InsertModelScore stores or replaces the population score of a model.
func (db *DB) InsertModelScore(s ModelScore) error {
	_, err := db.conn.Exec(
		`INSERT OR REPLACE INTO model_scores
		(run_id, model, mean_apk, users, skipped, failures, elapsed_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.RunID, s.Model, s.MeanAPK, s.Users, s.Skipped, s.Failures, s.ElapsedMS,
	)
	if err != nil {
		return fmt.Errorf("inserting score for %s: %w", s.Model, err)
	}
	return nil
}

// GetModelScores returns the model scores of a run, best first.
func (db *DB) GetModelScores(runID string) ([]ModelScore, error) {
	return db.queryModelScores(
		`SELECT run_id, model, mean_apk, users, skipped, failures, elapsed_ms
		FROM model_scores WHERE run_id = ? ORDER BY mean_apk DESC, model`, runID,
	)
}

// GetLatestModelScores returns the model scores of the most recently
// finished run, best first.
func (db *DB) GetLatestModelScores() ([]ModelScore, error) {
	return db.queryModelScores(
		`SELECT run_id, model, mean_apk, users, skipped, failures, elapsed_ms
		FROM model_scores WHERE run_id = (
			SELECT id FROM runs WHERE status = 'finished'
			ORDER BY finished_at DESC, started_at DESC, round DESC LIMIT 1
		) ORDER BY mean_apk DESC, model`,
	)
}

func (db *DB) queryModelScores(query string, args ...any) ([]ModelScore, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scores []ModelScore
	for rows.Next() {
		var s ModelScore
		if err := rows.Scan(&s.RunID, &s.Model, &s.MeanAPK, &s.Users, &s.Skipped, &s.Failures, &s.ElapsedMS); err != nil {
			return nil, err
		}
		scores = append(scores, s)
	}
	return scores, rows.Err()
}

// InsertUserResult stores or replaces one user's record for a model.
func (db *DB) InsertUserResult(r UserResult) error {
	_, err := db.conn.Exec(
		`INSERT OR REPLACE INTO user_results
		(run_id, model, user_id, total_ratings, best_horizon, best_apk, best_pk, best_rk, skipped, failures)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Model, r.UserID, r.TotalRatings, r.BestHorizon,
		r.BestAPK, r.BestPK, r.BestRK, boolToInt(r.Skipped), r.Failures,
	)
	if err != nil {
		return fmt.Errorf("inserting result for user %d: %w", r.UserID, err)
	}
	return nil
}

// GetUserResults returns the per-user records of a model in a run,
// ordered by user ID.
func (db *DB) GetUserResults(runID, model string) ([]UserResult, error) {
	rows, err := db.conn.Query(
		`SELECT run_id, model, user_id, total_ratings, best_horizon, best_apk, best_pk, best_rk, skipped, failures
		FROM user_results WHERE run_id = ? AND model = ? ORDER BY user_id`, runID, model,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []UserResult
	for rows.Next() {
		var r UserResult
		var skipped int
		if err := rows.Scan(&r.RunID, &r.Model, &r.UserID, &r.TotalRatings, &r.BestHorizon,
			&r.BestAPK, &r.BestPK, &r.BestRK, &skipped, &r.Failures); err != nil {
			return nil, err
		}
		r.Skipped = skipped == 1
		results = append(results, r)
	}
	return results, rows.Err()
}

// GetStats returns aggregate database statistics.
func (db *DB) GetStats() (*Stats, error) {
	s := &Stats{}

	queries := []struct {
		sql  string
		dest *int
	}{
		{"SELECT COUNT(*) FROM runs", &s.Runs},
		{"SELECT COUNT(*) FROM runs WHERE status = 'finished'", &s.FinishedRuns},
		{"SELECT COUNT(DISTINCT batch_id) FROM runs", &s.Batches},
		{"SELECT COUNT(*) FROM model_scores", &s.ModelScores},
		{"SELECT COUNT(*) FROM user_results", &s.UserResults},
		{"SELECT COUNT(DISTINCT user_id) FROM user_results", &s.DistinctUsers},
	}

	for _, q := range queries {
		if err := db.conn.QueryRow(q.sql).Scan(q.dest); err != nil {
			return nil, err
		}
	}

	return s, nil
}

package database

// Run is one evaluation pass over a sampled user population.
type Run struct {
	ID             string
	BatchID        string
	Round          int
	OutputDir      string
	Seed           uint64
	Seeded         bool
	UserCount      int
	ConfigYAML     string
	ReportMarkdown string
	Status         string // "running", "finished" or "failed"
	StartedAt      *string
	FinishedAt     *string
}

// ModelScore is the population result of one model in a run.
type ModelScore struct {
	RunID     string
	Model     string
	MeanAPK   float64
	Users     int
	Skipped   int
	Failures  int
	ElapsedMS int64
}

// UserResult is one user's best-horizon record for a model.
type UserResult struct {
	RunID        string
	Model        string
	UserID       int64
	TotalRatings int
	BestHorizon  int
	BestAPK      float64
	BestPK       float64
	BestRK       float64
	Skipped      bool
	Failures     int
}

// Stats contains aggregate database statistics.
type Stats struct {
	Runs          int
	FinishedRuns  int
	Batches       int
	ModelScores   int
	UserResults   int
	DistinctUsers int
}

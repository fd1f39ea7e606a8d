// Package pipeline runs a complete evaluation: load the ingestion outputs,
// sample users, evaluate every configured model and write the reports.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/TobiSchelling/recbench/internal/backtest"
	"github.com/TobiSchelling/recbench/internal/compute"
	"github.com/TobiSchelling/recbench/internal/config"
	"github.com/TobiSchelling/recbench/internal/database"
	"github.com/TobiSchelling/recbench/internal/dataset"
	"github.com/TobiSchelling/recbench/internal/evaluate"
	"github.com/TobiSchelling/recbench/internal/geo"
	"github.com/TobiSchelling/recbench/internal/logger"
	"github.com/TobiSchelling/recbench/internal/report"
	"github.com/TobiSchelling/recbench/internal/telemetry"
)

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// Round is one evaluation pass over a freshly sampled population.
type Round struct {
	Index     int
	RunID     string
	Dir       string
	Seed      uint64
	Seeded    bool
	Users     []int64
	Summaries []*evaluate.Summary
}

// Result holds the results of a full pipeline run.
type Result struct {
	BatchID string
	Dir     string
	Steps   []StepResult
	Rounds  []*Round
}

// Err returns the first failed step's error.
func (r *Result) Err() error {
	for _, s := range r.Steps {
		if s.Err != nil {
			return fmt.Errorf("%s: %w", s.Name, s.Err)
		}
	}
	return nil
}

// Pipeline orchestrates evaluation runs.
type Pipeline struct {
	cfg     *config.Config
	db      *database.DB
	log     *logger.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
	marshal func(any) ([]byte, error)
}

// New creates a new pipeline. db, log and m may be nil.
func New(cfg *config.Config, db *database.DB, log *logger.Logger, m *telemetry.Metrics) *Pipeline {
	if log == nil {
		log = logger.Nop()
	}
	return &Pipeline{cfg: cfg, db: db, log: log, metrics: m, now: time.Now, marshal: yaml.Marshal}
}

// inputs are the frozen stores shared by every backtest of a run.
type inputs struct {
	data  *dataset.Dataset
	index *geo.Index
}

// Run executes every configured round.
func (p *Pipeline) Run(ctx context.Context) *Result {
	r := &Result{}

	in, step := p.load()
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return r
	}

	dir, err := report.NewRunDir(p.cfg.GetResultsDir(), p.now())
	if err != nil {
		r.Steps = append(r.Steps, StepResult{Name: "Prepare", Err: err})
		return r
	}
	r.Dir = dir
	r.BatchID = filepath.Base(dir)

	session := compute.NewSession(r.BatchID, p.cfg.Evaluation.ComputeSlots)
	defer func() {
		if err := session.Close(); err != nil {
			p.log.Error("compute session leaked", "error", err)
		}
	}()

	rounds := p.cfg.Evaluation.Rounds
	if rounds < 1 {
		rounds = 1
	}
	for i := 0; i < rounds; i++ {
		roundDir := dir
		if rounds > 1 {
			roundDir = filepath.Join(dir, fmt.Sprintf("round-%02d", i+1))
		}
		round, steps := p.runRound(ctx, in, session, r.BatchID, i, roundDir)
		r.Steps = append(r.Steps, steps...)
		if round != nil {
			r.Rounds = append(r.Rounds, round)
		}
		if r.Err() != nil {
			return r
		}
	}
	return r
}

func (p *Pipeline) load() (*inputs, StepResult) {
	p.log.Info("loading ratings", "dir", p.cfg.Data.Dir)
	data, index, err := Load(p.cfg)
	if err != nil {
		return nil, StepResult{Name: "Load", Err: err}
	}
	return &inputs{data: data, index: index}, StepResult{
		Name: "Load",
		Summary: fmt.Sprintf("Loaded %d ratings from %d users on %d items (%d located)",
			data.Ratings.Len(), len(data.Ratings.Users()), len(data.Ratings.Items()), len(data.ItemCities)),
	}
}

// Load reads the configured data files and builds the location index.
func Load(cfg *config.Config) (*dataset.Dataset, *geo.Index, error) {
	data, err := dataset.Load(dataset.Paths{
		Ratings:    cfg.DataPath(cfg.Data.Ratings),
		ItemCities: cfg.DataPath(cfg.Data.ItemCities),
		UserCities: optional(cfg.DataPath(cfg.Data.UserCities)),
		LegacyIDs:  optional(cfg.DataPath(cfg.Data.LegacyIDs)),
		Separator:  cfg.Data.Separator,
	})
	if err != nil {
		return nil, nil, err
	}
	index := geo.Build(data.Ratings, data.ItemCities, geo.Options{
		LatestOnly:    cfg.Location.LatestOnly,
		LatestLimiter: cfg.Location.LatestLimiter,
		UserCities:    data.UserCities,
	})
	return data, index, nil
}

// optional drops paths of files that do not exist.
func optional(path string) string {
	if path == "" {
		return ""
	}
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

func (p *Pipeline) sampling(round int) evaluate.Sampling {
	s := p.cfg.Sampling
	return evaluate.Sampling{
		Mode:       s.Mode,
		Users:      s.Users,
		Size:       s.Size,
		MinRatings: s.MinRatings,
		Seed:       p.cfg.SeedForRound(round),
	}
}

func (p *Pipeline) runRound(ctx context.Context, in *inputs, session *compute.Session, batchID string, index int, dir string) (*Round, []StepResult) {
	var steps []StepResult
	log := p.log.With("round", index+1)

	users, seed, err := evaluate.SelectUsers(in.data.Ratings.CountsByUser(), p.sampling(index), log)
	if err != nil {
		return nil, append(steps, StepResult{Name: "Sample", Err: err})
	}
	round := &Round{Index: index, Dir: dir, Seed: seed, Seeded: p.cfg.SeedForRound(index) != nil, Users: users}
	steps = append(steps, StepResult{
		Name:    "Sample",
		Summary: fmt.Sprintf("Round %d: %d users (%s, seed %d)", index+1, len(users), p.cfg.Sampling.Mode, seed),
	})

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return round, append(steps, StepResult{Name: "Prepare", Err: err})
	}
	fields := p.echo(round)
	rep := report.NewReport(dir, p.cfg.Data.Separator)
	if err := rep.WriteHeader(fields); err != nil {
		return round, append(steps, StepResult{Name: "Report", Err: err})
	}

	files := report.NewFileSink(dir, p.cfg.Data.Separator)
	defer files.Close()
	sink := report.MultiSink{files}

	if p.db != nil {
		cfgYAML, err := p.marshal(p.cfg)
		if err != nil {
			log.Warn("failed to encode config for the run record", "error", err)
			cfgYAML = nil
		}
		round.RunID, err = p.db.InsertRun(database.Run{
			BatchID:    batchID,
			Round:      index + 1,
			OutputDir:  dir,
			Seed:       seed,
			Seeded:     round.Seeded,
			UserCount:  len(users),
			ConfigYAML: string(cfgYAML),
		})
		if err != nil {
			return round, append(steps, StepResult{Name: "Record", Err: err})
		}
		sink = append(sink, report.NewDBSink(p.db, round.RunID))
	}

	status := database.StatusFinished
	for _, model := range p.cfg.Evaluation.Models {
		summary, err := p.evaluateModel(ctx, in, session, model, users, sink, log)
		if err != nil {
			status = database.StatusFailed
			steps = append(steps, StepResult{Name: "Evaluate " + model, Err: err})
			break
		}
		round.Summaries = append(round.Summaries, summary)
		if err := rep.AppendScore(model, summary.MeanAPK); err != nil {
			status = database.StatusFailed
			steps = append(steps, StepResult{Name: "Report", Err: err})
			break
		}
		if p.db != nil {
			err := p.db.InsertModelScore(database.ModelScore{
				RunID:     round.RunID,
				Model:     model,
				MeanAPK:   summary.MeanAPK,
				Users:     summary.Attempted,
				Skipped:   summary.Skipped,
				Failures:  summary.Failures,
				ElapsedMS: summary.Elapsed.Milliseconds(),
			})
			if err != nil {
				p.log.Warn("failed to store model score", "model", model, "error", err)
			}
		}
		steps = append(steps, StepResult{
			Name: "Evaluate " + model,
			Summary: fmt.Sprintf("Round %d: mean AP@%d %.4f over %d users (%d skipped, %d failed backtests)",
				index+1, p.cfg.Evaluation.TopK, summary.MeanAPK, summary.Attempted, summary.Skipped, summary.Failures),
		})
	}

	if p.db != nil {
		title := fmt.Sprintf("Run %s round %d", batchID, index+1)
		md := report.Markdown(title, fields, round.Summaries)
		if err := p.db.FinishRun(round.RunID, status, md); err != nil {
			p.log.Warn("failed to finish run record", "run", round.RunID, "error", err)
		}
	}
	return round, steps
}

func (p *Pipeline) evaluateModel(ctx context.Context, in *inputs, session *compute.Session, model string, users []int64, sink evaluate.Sink, log *logger.Logger) (*evaluate.Summary, error) {
	ev := p.cfg.Evaluation
	bt, err := backtest.New(in.data.Ratings, in.index, backtest.Config{
		Model:      model,
		K:          ev.TopK,
		RemoveSeen: ev.RemoveSeen,
		Threshold:  ev.Threshold,
	}, p.cfg.Models, session, log, p.metrics)
	if err != nil {
		return nil, err
	}
	log.Info("evaluating model", "model", model, "users", len(users))
	e := evaluate.New(bt, in.data.Ratings, evaluate.Config{
		Model:         model,
		Horizons:      ev.Horizons.Values,
		RatioHorizons: ev.Horizons.Ratio,
		Workers:       ev.Workers,
		Timeout:       ev.Timeout,
	}, log, p.metrics)
	return e.Run(ctx, users, sink)
}

// echo lists the configuration values written at the top of report.data.
func (p *Pipeline) echo(round *Round) []report.Field {
	c := p.cfg
	seed := "none"
	if s := c.SeedForRound(round.Index); s != nil {
		seed = fmt.Sprint(*s)
	}
	return []report.Field{
		{Key: "models", Value: "[" + strings.Join(c.Evaluation.Models, ", ") + "]"},
		{Key: "sampling_mode", Value: c.Sampling.Mode},
		{Key: "sample_list", Value: report.FormatUsers(c.Sampling.Users)},
		{Key: "sample_size", Value: fmt.Sprint(c.Sampling.Size)},
		{Key: "seed", Value: seed},
		{Key: "actual seed", Value: fmt.Sprint(round.Seed)},
		{Key: "min_ratings", Value: fmt.Sprint(c.Sampling.MinRatings)},
		{Key: "k", Value: fmt.Sprint(c.Evaluation.TopK)},
		{Key: "threshold", Value: report.FormatFloat(c.Evaluation.Threshold)},
		{Key: "remove_seen", Value: fmt.Sprint(c.Evaluation.RemoveSeen)},
		{Key: "latest_only", Value: fmt.Sprint(c.Location.LatestOnly)},
		{Key: "latest_limiter", Value: fmt.Sprint(c.Location.LatestLimiter)},
		{Key: "horizons", Value: fmt.Sprint(c.Evaluation.Horizons.Values)},
		{Key: "horizons_ratio", Value: fmt.Sprint(c.Evaluation.Horizons.Ratio)},
		{Key: "model_params", Value: fmt.Sprintf("%+v", c.Models)},
		{Key: "separator", Value: fmt.Sprintf("%q", c.Data.Separator)},
		{Key: "user_list", Value: report.FormatUsers(round.Users)},
	}
}

// DryRun loads the data and shows which users and horizons a run would
// evaluate, without training anything.
func (p *Pipeline) DryRun() *Result {
	r := &Result{}

	in, step := p.load()
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return r
	}

	counts := in.data.Ratings.CountsByUser()
	eligible := evaluate.Eligible(counts, p.cfg.Sampling.MinRatings)
	users, seed, err := evaluate.SelectUsers(counts, p.sampling(0), p.log)
	if err != nil {
		r.Steps = append(r.Steps, StepResult{Name: "Sample", Err: err})
		return r
	}
	r.Steps = append(r.Steps, StepResult{
		Name: "Sample",
		Summary: fmt.Sprintf("[dry-run] %d of %d eligible users selected (%s, seed %d): %s",
			len(users), len(eligible), p.cfg.Sampling.Mode, seed, report.FormatUsers(users)),
	})

	cfg := evaluate.Config{Horizons: p.cfg.Evaluation.Horizons.Values, RatioHorizons: p.cfg.Evaluation.Horizons.Ratio}
	var lines []string
	for _, u := range users {
		lines = append(lines, fmt.Sprintf("user %d (%d ratings): %v", u, counts[u], cfg.ResolveHorizons(counts[u])))
	}
	r.Steps = append(r.Steps, StepResult{
		Name:    "Horizons",
		Summary: "[dry-run] " + strings.Join(lines, "; "),
	})
	r.Steps = append(r.Steps, StepResult{
		Name: "Evaluate",
		Summary: fmt.Sprintf("[dry-run] Would evaluate %s for %d round(s) into %s",
			strings.Join(p.cfg.Evaluation.Models, ", "), p.cfg.Evaluation.Rounds, p.cfg.GetResultsDir()),
	})
	return r
}

// ErrNoRounds is returned by Best when a result has no finished round.
var ErrNoRounds = errors.New("no finished rounds")

// Best returns the model with the highest mean AP in the last round.
func (r *Result) Best() (*evaluate.Summary, error) {
	if len(r.Rounds) == 0 || len(r.Rounds[len(r.Rounds)-1].Summaries) == 0 {
		return nil, ErrNoRounds
	}
	var best *evaluate.Summary
	for _, s := range r.Rounds[len(r.Rounds)-1].Summaries {
		if best == nil || s.MeanAPK > best.MeanAPK {
			best = s
		}
	}
	return best, nil
}

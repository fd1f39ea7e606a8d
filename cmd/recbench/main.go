package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/TobiSchelling/recbench/internal/compute"
	"github.com/TobiSchelling/recbench/internal/config"
	"github.com/TobiSchelling/recbench/internal/database"
	"github.com/TobiSchelling/recbench/internal/logger"
	"github.com/TobiSchelling/recbench/internal/pipeline"
	"github.com/TobiSchelling/recbench/internal/recommend"
	"github.com/TobiSchelling/recbench/internal/server"
	"github.com/TobiSchelling/recbench/internal/strategy"
	"github.com/TobiSchelling/recbench/internal/telemetry"
	"github.com/spf13/cobra"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
	log        *logger.Logger
)

func main() {
	err := rootCmd.Execute()
	if log != nil {
		log.Sync()
	}
	if err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "recbench",
	Short:   "Backtest personalized recommenders",
	Long:    "recbench replays each user's rating history, trains ranking models on the past and scores them against what the user rated next.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			log = logger.Nop()
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		log, err = logger.New(cfg.Logging.Mode, level)
		if err != nil {
			return fmt.Errorf("creating logger: %w", err)
		}
		log.Debug("config loaded", "path", path)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(recommendCmd)
	rootCmd.AddCommand(serveCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("recbench", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/recbench/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to point data.dir at the ingestion output and pick the models to compare.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database and system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}
		last, err := db.GetLastRunDate()
		if err != nil {
			return fmt.Errorf("getting last run: %w", err)
		}
		if last == "" {
			last = "never"
		}

		fmt.Printf("Data: %s\n", cfg.Data.Dir)
		fmt.Printf("Models: %s\n", strings.Join(cfg.Evaluation.Models, ", "))
		fmt.Printf("Last run: %s\n\n", last)
		fmt.Println("Runs:")
		fmt.Printf("  Total: %d\n", stats.Runs)
		fmt.Printf("  Finished: %d\n", stats.FinishedRuns)
		fmt.Printf("  Batches: %d\n", stats.Batches)
		fmt.Println("\nResults:")
		fmt.Printf("  Model scores: %d\n", stats.ModelScores)
		fmt.Printf("  User results: %d\n", stats.UserResults)
		fmt.Printf("  Distinct users: %d\n", stats.DistinctUsers)
		return nil
	},
}

// --- run command ---

var (
	dryRun      bool
	rounds      int
	models      []string
	metricsAddr string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the evaluation: load -> sample -> backtest every model -> report",
	RunE: func(cmd *cobra.Command, args []string) error {
		if rounds > 0 {
			cfg.Evaluation.Rounds = rounds
		}
		if len(models) > 0 {
			cfg.Evaluation.Models = models
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		var metrics *telemetry.Metrics
		if metricsAddr != "" {
			metrics = telemetry.New()
			srv := &http.Server{Addr: metricsAddr, Handler: metrics.Handler()}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("metrics server stopped", "addr", metricsAddr, "error", err)
				}
			}()
			defer srv.Close()
			fmt.Printf("Serving metrics at http://%s/metrics\n", metricsAddr)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		pipe := pipeline.New(cfg, db, log, metrics)

		var result *pipeline.Result
		if dryRun {
			result = pipe.DryRun()
		} else {
			result = pipe.Run(ctx)
		}

		for i, step := range result.Steps {
			fmt.Printf("\nStep %d/%d: %s\n", i+1, len(result.Steps), step.Name)
			if step.Err != nil {
				fmt.Printf("  Error: %v\n", step.Err)
			} else {
				fmt.Printf("  %s\n", step.Summary)
			}
		}
		if err := result.Err(); err != nil {
			return err
		}

		if !dryRun {
			if best, err := result.Best(); err == nil {
				fmt.Printf("\nBest model: %s (mean AP %.4f)\n", best.Model, best.MeanAPK)
			}
			fmt.Printf("Reports written to %s\n", result.Dir)
			fmt.Println("Run 'recbench serve' to browse the results.")
		}
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be evaluated without training")
	runCmd.Flags().IntVar(&rounds, "rounds", 0, "Override the number of sampling rounds")
	runCmd.Flags().StringSliceVarP(&models, "model", "m", nil, "Evaluate only these models")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running")
}

// --- runs command ---

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded evaluation runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		runs, err := db.GetRuns(runsLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded yet. Start one with: recbench run")
			return nil
		}

		for _, r := range runs {
			started := ""
			if r.StartedAt != nil {
				started = *r.StartedAt
			}
			id := r.ID
			if len(id) > 8 {
				id = id[:8]
			}
			fmt.Printf("%s  %s  round %d  %-8s  %d users\n", id, started, r.Round, r.Status, r.UserCount)
			scores, err := db.GetModelScores(r.ID)
			if err != nil {
				return err
			}
			for _, s := range scores {
				fmt.Printf("    %-10s %.4f\n", s.Model, s.MeanAPK)
			}
		}
		return nil
	},
}

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Maximum number of runs to list")
}

// --- recommend command ---

var (
	recommendModel string
	recommendK     int
)

var recommendCmd = &cobra.Command{
	Use:   "recommend [user]",
	Short: "Recommend items for one user from their full history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid user ID: %s", args[0])
		}

		model := recommendModel
		if model == "" && len(cfg.Evaluation.Models) > 0 {
			model = cfg.Evaluation.Models[0]
		}
		if err := strategy.Validate([]string{model}); err != nil {
			return err
		}
		k := recommendK
		if k <= 0 {
			k = cfg.Evaluation.TopK
		}

		data, index, err := pipeline.Load(cfg)
		if err != nil {
			return err
		}

		session := compute.NewSession("recommend", cfg.Evaluation.ComputeSlots)
		defer session.Close()

		rec, err := recommend.New(data, index, recommend.Config{
			Model:      model,
			K:          k,
			RemoveSeen: cfg.Evaluation.RemoveSeen,
		}, cfg.Models, session, log)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		items, err := rec.Recommend(ctx, user)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Printf("No recommendations for user %d.\n", user)
			return nil
		}

		fmt.Printf("Top %d for user %d (%s), cities: %s\n\n", k, user, model, strings.Join(index.UserCities(user), ", "))
		for i, it := range items {
			legacy := strings.Join(it.LegacyIDs, ", ")
			if legacy == "" {
				legacy = "-"
			}
			fmt.Printf("  %2d. item %d  score %.4f  legacy %s\n", i+1, it.Item, it.Score, legacy)
		}
		return nil
	},
}

func init() {
	recommendCmd.Flags().StringVarP(&recommendModel, "model", "m", "", "Model to train (default: first configured model)")
	recommendCmd.Flags().IntVarP(&recommendK, "top", "k", 0, "Number of items (default: evaluation.top_k)")
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local web server",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		metrics := telemetry.New()
		if err := metrics.WatchHistory(db); err != nil {
			return fmt.Errorf("registering run history metrics: %w", err)
		}

		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port = servePort
		}
		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(db, port, metrics, log)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8000, "Port to run server on")
}

func openDB() (*database.DB, error) {
	if err := os.MkdirAll(cfg.GetDataDir(), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return database.Open(cfg.DBPath(), log)
}

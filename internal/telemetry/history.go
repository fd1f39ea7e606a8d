package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/TobiSchelling/recbench/internal/database"
)

// HistorySource reads the stored run history.
type HistorySource interface {
	GetStats() (*database.Stats, error)
	GetLatestModelScores() ([]database.ModelScore, error)
}

// historyCollector reports the run history at scrape time, so a viewer
// process exposes the results of runs made by other processes.
type historyCollector struct {
	src HistorySource

	runs         *prometheus.Desc
	finishedRuns *prometheus.Desc
	userResults  *prometheus.Desc
	latestAPK    *prometheus.Desc
}

func newHistoryCollector(src HistorySource) *historyCollector {
	return &historyCollector{
		src: src,
		runs: prometheus.NewDesc("recbench_history_runs",
			"Evaluation runs recorded in the database.", nil, nil),
		finishedRuns: prometheus.NewDesc("recbench_history_finished_runs",
			"Evaluation runs that finished successfully.", nil, nil),
		userResults: prometheus.NewDesc("recbench_history_user_results",
			"Per-user best-horizon records stored.", nil, nil),
		latestAPK: prometheus.NewDesc("recbench_latest_run_mean_average_precision",
			"Population mean average precision at k of the last finished run.", []string{"model"}, nil),
	}
}

func (c *historyCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.runs
	ch <- c.finishedRuns
	ch <- c.userResults
	ch <- c.latestAPK
}

func (c *historyCollector) Collect(ch chan<- prometheus.Metric) {
	stats, err := c.src.GetStats()
	if err != nil {
		ch <- prometheus.NewInvalidMetric(c.runs, err)
	} else {
		ch <- prometheus.MustNewConstMetric(c.runs, prometheus.GaugeValue, float64(stats.Runs))
		ch <- prometheus.MustNewConstMetric(c.finishedRuns, prometheus.GaugeValue, float64(stats.FinishedRuns))
		ch <- prometheus.MustNewConstMetric(c.userResults, prometheus.GaugeValue, float64(stats.UserResults))
	}

	scores, err := c.src.GetLatestModelScores()
	if err != nil {
		ch <- prometheus.NewInvalidMetric(c.latestAPK, err)
		return
	}
	for _, s := range scores {
		ch <- prometheus.MustNewConstMetric(c.latestAPK, prometheus.GaugeValue, s.MeanAPK, s.Model)
	}
}

// WatchHistory registers collectors that read src on every scrape.
func (m *Metrics) WatchHistory(src HistorySource) error {
	return m.registry.Register(newHistoryCollector(src))
}

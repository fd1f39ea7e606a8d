// Package report writes evaluation results: the append-only run report,
// per-model user record files, and the stored copy in the database.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RunDirLayout names run directories by their start time.
const RunDirLayout = "2006-01-02-15:04:05"

// ReportFile is the name of the run report inside a run directory.
const ReportFile = "report.data"

// Field is one echoed configuration value.
type Field struct {
	Key   string
	Value string
}

// NewRunDir creates <outputDir>/<timestamp> and returns its path.
func NewRunDir(outputDir string, now time.Time) (string, error) {
	dir := filepath.Join(outputDir, now.Format(RunDirLayout))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating run directory: %w", err)
	}
	return dir, nil
}

// Report is the append-only report.data of one run.
type Report struct {
	path string
	sep  string
	mu   sync.Mutex
}

// NewReport returns a report writing to dir/report.data with sep between
// the model name and its score.
func NewReport(dir, sep string) *Report {
	if sep == "" {
		sep = "\t"
	}
	return &Report{path: filepath.Join(dir, ReportFile), sep: sep}
}

// Path returns the report file path.
func (r *Report) Path() string {
	return r.path
}

// WriteHeader appends the echoed configuration as "key = value" lines.
func (r *Report) WriteHeader(fields []Field) error {
	var b strings.Builder
	for _, f := range fields {
		fmt.Fprintf(&b, "%s = %s\n", f.Key, f.Value)
	}
	return r.appendString(b.String())
}

// AppendScore appends one "model<sep>mean" line.
func (r *Report) AppendScore(model string, meanAPK float64) error {
	return r.appendString(model + r.sep + FormatFloat(meanAPK) + "\n")
}

func (r *Report) appendString(s string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening report: %w", err)
	}
	if _, err := f.WriteString(s); err != nil {
		f.Close()
		return fmt.Errorf("writing report: %w", err)
	}
	return f.Close()
}

// FormatFloat renders a score with the shortest exact representation.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// FormatUsers renders a user list as "[1, 2, 3]".
func FormatUsers(users []int64) string {
	parts := make([]string, len(users))
	for i, u := range users {
		parts[i] = strconv.FormatInt(u, 10)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

package report

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/TobiSchelling/recbench/internal/database"
	"github.com/TobiSchelling/recbench/internal/evaluate"
)

// UserFileName returns the per-user record file name for model.
func UserFileName(model string) string {
	return model + "_user_rating_info.data"
}

// FileSink appends one line per record to <dir>/<model>_user_rating_info.data:
// user, total ratings, best horizon, AP@k, P@k, R@k.
type FileSink struct {
	dir string
	sep string

	mu    sync.Mutex
	files map[string]*os.File
}

// NewFileSink writes record files into dir.
func NewFileSink(dir, sep string) *FileSink {
	if sep == "" {
		sep = "\t"
	}
	return &FileSink{dir: dir, sep: sep, files: make(map[string]*os.File)}
}

func (s *FileSink) Write(model string, rec evaluate.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[model]
	if !ok {
		var err error
		f, err = os.OpenFile(filepath.Join(s.dir, UserFileName(model)), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("opening record file: %w", err)
		}
		s.files[model] = f
	}
	line := strings.Join([]string{
		strconv.FormatInt(rec.User, 10),
		strconv.Itoa(rec.TotalRatings),
		strconv.Itoa(rec.BestHorizon),
		FormatFloat(rec.BestAPK),
		FormatFloat(rec.BestPK),
		FormatFloat(rec.BestRK),
	}, s.sep)
	_, err := f.WriteString(line + "\n")
	return err
}

// Close closes every open record file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for model, f := range s.files {
		if err := f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s records: %w", model, err))
		}
		delete(s.files, model)
	}
	return errors.Join(errs...)
}

// DBSink stores records as user results of one run.
type DBSink struct {
	db    *database.DB
	runID string
	mu    sync.Mutex
}

func NewDBSink(db *database.DB, runID string) *DBSink {
	return &DBSink{db: db, runID: runID}
}

func (s *DBSink) Write(model string, rec evaluate.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.InsertUserResult(database.UserResult{
		RunID:        s.runID,
		Model:        model,
		UserID:       rec.User,
		TotalRatings: rec.TotalRatings,
		BestHorizon:  rec.BestHorizon,
		BestAPK:      rec.BestAPK,
		BestPK:       rec.BestPK,
		BestRK:       rec.BestRK,
		Skipped:      rec.Skipped,
		Failures:     rec.Failures,
	})
}

// MultiSink fans a record out to every sink in order, stopping at the
// first error.
type MultiSink []evaluate.Sink

func (m MultiSink) Write(model string, rec evaluate.Record) error {
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Write(model, rec); err != nil {
			return err
		}
	}
	return nil
}

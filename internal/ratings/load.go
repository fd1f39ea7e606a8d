package ratings

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"
)

// DefaultSeparator is the column separator used by the ingestion pipeline.
const DefaultSeparator = "\t"

// MalformedInputError reports a record that does not match its expected shape.
type MalformedInputError struct {
	Source string
	Line   int
	Record string
	Err    error
}

func (e *MalformedInputError) Error() string {
	src := e.Source
	if src == "" {
		src = "input"
	}
	return fmt.Sprintf("%s:%d: malformed record %q: %v", src, e.Line, e.Record, e.Err)
}

func (e *MalformedInputError) Unwrap() error {
	return e.Err
}

// LoadFile reads a rating log from disk.
func LoadFile(path, sep string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening ratings: %w", err)
	}
	defer f.Close()

	t, err := Load(f, sep)
	if err != nil {
		var me *MalformedInputError
		if errors.As(err, &me) {
			me.Source = path
		}
		return nil, err
	}
	return t, nil
}

// Load parses separated (user, item, rating, timestamp) records, one per line.
// Blank lines are skipped. Uniqueness of (user, item) is not checked.
func Load(r io.Reader, sep string) (*Table, error) {
	var events []Event
	err := ScanRecords(r, sep, 4, func(fields []string) error {
		e, err := parseEvent(fields)
		if err != nil {
			return err
		}
		events = append(events, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return New(events), nil
}

// ScanRecords reads sep-delimited records with exactly n fields and hands the
// trimmed fields to fn. Blank lines are skipped. Shape and fn errors come back
// as *MalformedInputError naming the line.
func ScanRecords(r io.Reader, sep string, n int, fn func(fields []string) error) error {
	if sep == "" {
		sep = DefaultSeparator
	}
	comma, size := utf8.DecodeRuneInString(sep)
	if size != len(sep) || comma == utf8.RuneError {
		return fmt.Errorf("separator %q must be a single character", sep)
	}

	rd := csv.NewReader(bufio.NewReader(r))
	rd.Comma = comma
	rd.LazyQuotes = true
	rd.FieldsPerRecord = -1
	rd.ReuseRecord = true

	for {
		rec, err := rd.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				return &MalformedInputError{Line: pe.StartLine, Record: strings.Join(rec, sep), Err: pe.Err}
			}
			return fmt.Errorf("reading records: %w", err)
		}
		line, _ := rd.FieldPos(0)
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		text := strings.Join(rec, sep)
		if len(rec) != n {
			return &MalformedInputError{Line: line, Record: text, Err: fmt.Errorf("expected %d fields, got %d", n, len(rec))}
		}
		for i := range rec {
			rec[i] = strings.TrimSpace(rec[i])
		}
		if err := fn(rec); err != nil {
			return &MalformedInputError{Line: line, Record: text, Err: err}
		}
	}
}

func parseEvent(fields []string) (Event, error) {
	user, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return Event{}, fmt.Errorf("user id: %w", err)
	}
	item, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return Event{}, fmt.Errorf("item id: %w", err)
	}
	rating, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return Event{}, fmt.Errorf("rating: %w", err)
	}
	ts, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return Event{}, fmt.Errorf("timestamp: %w", err)
	}
	return Event{User: user, Item: item, Rating: rating, Timestamp: ts}, nil
}

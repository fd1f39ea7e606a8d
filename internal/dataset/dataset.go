package dataset

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/TobiSchelling/recbench/internal/ratings"
)

// Paths locates the ingestion pipeline's output files.
type Paths struct {
	Ratings    string
	UserCities string
	ItemCities string
	LegacyIDs  string
	Separator  string
}

// Dataset bundles the materialized inputs of a backtest run.
type Dataset struct {
	Ratings    *ratings.Table
	UserCities map[int64][]string
	ItemCities map[int64]string
	LegacyIDs  map[string]int64 // legacy item id -> item id
}

// Load reads every configured input. The ratings and item-city files are
// required; the user-city and legacy id files are optional.
func Load(p Paths) (*Dataset, error) {
	sep := p.Separator
	if sep == "" {
		sep = ratings.DefaultSeparator
	}

	table, err := ratings.LoadFile(p.Ratings, sep)
	if err != nil {
		return nil, err
	}

	ds := &Dataset{
		Ratings:    table,
		UserCities: map[int64][]string{},
		LegacyIDs:  map[string]int64{},
	}

	ds.ItemCities, err = LoadItemCities(p.ItemCities, sep)
	if err != nil {
		return nil, err
	}

	if p.UserCities != "" {
		ds.UserCities, err = LoadUserCities(p.UserCities, sep)
		if err != nil {
			return nil, err
		}
	}

	if p.LegacyIDs != "" {
		ds.LegacyIDs, err = LoadLegacyIDs(p.LegacyIDs, sep)
		if err != nil {
			return nil, err
		}
	}
	return ds, nil
}

// LoadItemCities reads (item id, city) rows. A later row for the same item wins.
func LoadItemCities(path, sep string) (map[int64]string, error) {
	out := make(map[int64]string)
	err := readPairs(path, sep, func(key, val string) error {
		item, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return fmt.Errorf("item id: %w", err)
		}
		out[item] = val
		return nil
	})
	return out, err
}

// LoadUserCities reads (user id, city) rows, repeated once per city.
func LoadUserCities(path, sep string) (map[int64][]string, error) {
	out := make(map[int64][]string)
	err := readPairs(path, sep, func(key, val string) error {
		user, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return fmt.Errorf("user id: %w", err)
		}
		out[user] = append(out[user], val)
		return nil
	})
	return out, err
}

// LoadLegacyIDs reads (legacy item id, item id) rows.
func LoadLegacyIDs(path, sep string) (map[string]int64, error) {
	out := make(map[string]int64)
	err := readPairs(path, sep, func(key, val string) error {
		item, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return fmt.Errorf("item id: %w", err)
		}
		out[key] = item
		return nil
	})
	return out, err
}

// InvertLegacyIDs maps each item id to every legacy id pointing at it.
func InvertLegacyIDs(legacy map[string]int64) map[int64][]string {
	out := make(map[int64][]string)
	for id, item := range legacy {
		out[item] = append(out[item], id)
	}
	for item := range out {
		sort.Strings(out[item])
	}
	return out
}

func readPairs(path, sep string, fn func(key, val string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	return scanPairs(f, path, sep, fn)
}

func scanPairs(r io.Reader, source, sep string, fn func(key, val string) error) error {
	err := ratings.ScanRecords(r, sep, 2, func(fields []string) error {
		return fn(fields[0], fields[1])
	})
	var me *ratings.MalformedInputError
	if errors.As(err, &me) {
		me.Source = source
		return me
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", source, err)
	}
	return nil
}

package dataset

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/TobiSchelling/recbench/internal/ratings"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestLoadDataset(t *testing.T) {
	dir := t.TempDir()
	p := Paths{
		Ratings:    writeFile(t, dir, "reviews.data", "1\t10\t5\t100\n2\t11\t3\t200\n"),
		ItemCities: writeFile(t, dir, "items.data", "10\tLas Vegas\n11\tPhoenix\n"),
		UserCities: writeFile(t, dir, "users.data", "1\tLas Vegas\n1\tPhoenix\n"),
		LegacyIDs:  writeFile(t, dir, "legacy.data", "abc\t10\nxyz\t10\ndef\t11\n"),
	}

	ds, err := Load(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ds.Ratings.Len() != 2 {
		t.Errorf("expected 2 ratings, got %d", ds.Ratings.Len())
	}
	if ds.ItemCities[11] != "Phoenix" {
		t.Errorf("expected Phoenix, got %q", ds.ItemCities[11])
	}
	if len(ds.UserCities[1]) != 2 {
		t.Errorf("expected 2 cities for user 1, got %v", ds.UserCities[1])
	}

	inv := InvertLegacyIDs(ds.LegacyIDs)
	if got := inv[10]; len(got) != 2 || got[0] != "abc" || got[1] != "xyz" {
		t.Errorf("unexpected inverted ids %v", got)
	}
}

func TestLoadOptionalFiles(t *testing.T) {
	dir := t.TempDir()
	ds, err := Load(Paths{
		Ratings:    writeFile(t, dir, "reviews.data", "1\t10\t5\t100\n"),
		ItemCities: writeFile(t, dir, "items.data", "10\tLas Vegas\n"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ds.UserCities) != 0 || len(ds.LegacyIDs) != 0 {
		t.Error("expected empty optional mappings")
	}
}

func TestLoadMalformedMapping(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(Paths{
		Ratings:    writeFile(t, dir, "reviews.data", "1\t10\t5\t100\n"),
		ItemCities: writeFile(t, dir, "items.data", "10\tLas Vegas\nnotanid\tPhoenix\n"),
	})
	var me *ratings.MalformedInputError
	if !errors.As(err, &me) {
		t.Fatalf("expected MalformedInputError, got %v", err)
	}
	if me.Line != 2 {
		t.Errorf("expected line 2, got %d", me.Line)
	}
}

func TestLoadMissingRatings(t *testing.T) {
	_, err := Load(Paths{Ratings: filepath.Join(t.TempDir(), "missing.data")})
	if err == nil {
		t.Fatal("expected error for missing ratings file")
	}
}

func TestLoadLegacyIDsWithQuotes(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "legacy.data", "joe's \"bbq\" pit\t7\n  plain-id \t8\n")
	legacy, err := LoadLegacyIDs(path, "\t")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if legacy[`joe's "bbq" pit`] != 7 {
		t.Errorf("expected quoted legacy id kept verbatim, got %v", legacy)
	}
	if legacy["plain-id"] != 8 {
		t.Errorf("expected trimmed legacy id, got %v", legacy)
	}
}

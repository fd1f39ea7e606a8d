package ratings

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad(t *testing.T) {
	input := "1\t10\t4.5\t100\n1\t11\t3\t50\n\n2\t10\t5\t70\n"
	table, err := Load(strings.NewReader(input), "\t")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if table.Len() != 3 {
		t.Errorf("expected 3 events, got %d", table.Len())
	}
	if table.Count(1) != 2 {
		t.Errorf("expected 2 ratings for user 1, got %d", table.Count(1))
	}
	if table.LatestTimestamp() != 100 {
		t.Errorf("expected latest timestamp 100, got %d", table.LatestTimestamp())
	}
}

func TestLoadMalformed(t *testing.T) {
	cases := map[string]string{
		"too few fields": "1\t10\t4\n",
		"bad user":       "x\t10\t4\t100\n",
		"bad rating":     "1\t10\tgood\t100\n",
		"bad timestamp":  "1\t10\t4\t1.5\n",
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(strings.NewReader("1\t1\t1\t1\n"+input), "\t")
			var me *MalformedInputError
			if !errors.As(err, &me) {
				t.Fatalf("expected MalformedInputError, got %v", err)
			}
			if me.Line != 2 {
				t.Errorf("expected line 2, got %d", me.Line)
			}
		})
	}
}

func TestLoadToleratesQuotesAndCRLF(t *testing.T) {
	input := "1\t10\t4\t100\r\n   \n2\t1\"1\t3\t200\r\n"
	_, err := Load(strings.NewReader(input), "\t")
	var me *MalformedInputError
	if !errors.As(err, &me) {
		t.Fatalf("expected MalformedInputError for quoted item id, got %v", err)
	}
	if me.Line != 3 {
		t.Errorf("expected line 3, got %d", me.Line)
	}

	table, err := Load(strings.NewReader("1,10,4,100\r\n2,11,3,200\r\n"), ",")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if table.Len() != 2 || table.LatestTimestamp() != 200 {
		t.Errorf("expected 2 comma separated events, got %d", table.Len())
	}
}

func TestScanRecordsRejectsLongSeparator(t *testing.T) {
	err := ScanRecords(strings.NewReader("1::2\n"), "::", 2, func([]string) error { return nil })
	if err == nil {
		t.Error("expected separator error")
	}
}

func TestLoadFileNamesSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reviews.data")
	if err := os.WriteFile(path, []byte("1\t2\n"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	_, err := LoadFile(path, "")
	var me *MalformedInputError
	if !errors.As(err, &me) {
		t.Fatalf("expected MalformedInputError, got %v", err)
	}
	if me.Source != path {
		t.Errorf("expected source %q, got %q", path, me.Source)
	}
}

func TestRatingsForStableOrder(t *testing.T) {
	table := New([]Event{
		{User: 1, Item: 3, Timestamp: 20},
		{User: 1, Item: 1, Timestamp: 10},
		{User: 2, Item: 9, Timestamp: 5},
		{User: 1, Item: 2, Timestamp: 10},
	})

	got := table.RatingsFor(1)
	want := []int64{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(got))
	}
	for i, e := range got {
		if e.Item != want[i] {
			t.Errorf("position %d: expected item %d, got %d", i, want[i], e.Item)
		}
	}
}

func TestFilterDoesNotMutate(t *testing.T) {
	table := New([]Event{
		{User: 1, Item: 1, Timestamp: 10},
		{User: 1, Item: 2, Timestamp: 20},
		{User: 2, Item: 1, Timestamp: 30},
	})

	early := table.Filter(func(e Event) bool { return e.Timestamp <= 20 })
	if early.Len() != 2 {
		t.Errorf("expected 2 filtered events, got %d", early.Len())
	}
	if table.Len() != 3 {
		t.Errorf("expected original to keep 3 events, got %d", table.Len())
	}
	if early.Count(2) != 0 {
		t.Errorf("expected no events for user 2, got %d", early.Count(2))
	}
}

func TestDuplicatesTolerated(t *testing.T) {
	table := New([]Event{
		{User: 1, Item: 1, Rating: 4, Timestamp: 10},
		{User: 1, Item: 1, Rating: 2, Timestamp: 11},
	})
	if table.Count(1) != 2 {
		t.Errorf("expected duplicates to be kept, got %d", table.Count(1))
	}
	if len(table.Items()) != 1 {
		t.Errorf("expected 1 distinct item, got %d", len(table.Items()))
	}
}

func TestCountsByUserIsCopy(t *testing.T) {
	table := New([]Event{{User: 1, Item: 1}, {User: 1, Item: 2}, {User: 3, Item: 1}})
	counts := table.CountsByUser()
	counts[1] = 99
	if table.Count(1) != 2 {
		t.Errorf("expected internal count to stay 2, got %d", table.Count(1))
	}
	users := table.Users()
	if len(users) != 2 || users[0] != 1 || users[1] != 3 {
		t.Errorf("unexpected users %v", users)
	}
}

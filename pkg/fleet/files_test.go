package fleet

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shiftwatch/shiftwatch/pkg/scraper"
)

func TestUserFilesMarkers(t *testing.T) {
	files := NewUserFiles(t.TempDir(), "alice")
	if err := files.EnsureDir(); err != nil {
		t.Fatalf("failed to create directory: %v", err)
	}

	if files.WarningSent() {
		t.Error("warning marker present on a fresh directory")
	}
	if err := files.SetWarningSent(); err != nil {
		t.Fatalf("failed to set warning marker: %v", err)
	}
	if !files.WarningSent() {
		t.Error("warning marker not visible after set")
	}
	if err := files.ClearWarningSent(); err != nil {
		t.Fatalf("failed to clear warning marker: %v", err)
	}
	if err := files.ClearWarningSent(); err != nil {
		t.Errorf("clearing an absent marker must succeed: %v", err)
	}

	if err := files.WriteActiveMarker(StartRequest{Kind: TimerRequest}); err != nil {
		t.Fatalf("failed to write active marker: %v", err)
	}
	if err := files.RemoveActiveMarker(); err != nil {
		t.Fatalf("failed to remove active marker: %v", err)
	}
	if err := files.RemoveActiveMarker(); err != nil {
		t.Errorf("removing an absent marker must succeed: %v", err)
	}
}

func TestUserFilesName(t *testing.T) {
	files := NewUserFiles(t.TempDir(), "bob")
	if err := files.EnsureDir(); err != nil {
		t.Fatalf("failed to create directory: %v", err)
	}

	if name := files.ReadName(); name != "" {
		t.Errorf("expected empty name, got %q", name)
	}

	if err := files.WriteName("Bob Kelso\n"); err != nil {
		t.Fatalf("failed to write name: %v", err)
	}
	if name := files.ReadName(); name != "Bob Kelso" {
		t.Errorf("expected trimmed name, got %q", name)
	}
}

func TestLogbookRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logbook.json")

	empty, err := LoadLogbook(path)
	if err != nil {
		t.Fatalf("expected empty logbook for missing file: %v", err)
	}
	if empty.TotalShifts != 0 || len(empty.Shifts) != 0 {
		t.Errorf("missing logbook is not empty: %+v", empty)
	}

	logbook := &Logbook{
		ExitCode:    scraper.FailureOK,
		TotalShifts: 2,
		AddedShifts: 2,
		UpdatedAt:   time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC),
		Shifts: []scraper.Shift{
			{
				Number:   "1",
				Date:     "2026-03-11",
				Start:    time.Date(2026, time.March, 11, 8, 0, 0, 0, time.UTC),
				End:      time.Date(2026, time.March, 11, 16, 0, 0, 0, time.UTC),
				Location: "ER",
				Kind:     "day",
			},
			{
				Number:   "2",
				Date:     "2026-03-12",
				Start:    time.Date(2026, time.March, 12, 20, 0, 0, 0, time.UTC),
				End:      time.Date(2026, time.March, 13, 4, 0, 0, 0, time.UTC),
				Location: "ER",
				Kind:     "night",
			},
		},
	}
	if err := logbook.Save(path); err != nil {
		t.Fatalf("failed to save logbook: %v", err)
	}

	loaded, err := LoadLogbook(path)
	if err != nil {
		t.Fatalf("failed to load logbook: %v", err)
	}
	if loaded.TotalShifts != 2 || len(loaded.Shifts) != 2 {
		t.Errorf("logbook round trip mismatch: %+v", loaded)
	}
	if loaded.Shifts[1].Kind != "night" {
		t.Errorf("shift detail lost: %+v", loaded.Shifts[1])
	}
}

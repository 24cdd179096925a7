package ical

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shiftwatch/shiftwatch/pkg/scraper"
)

func testShifts() []scraper.Shift {
	day := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	return []scraper.Shift{
		{
			Number:   "101",
			Date:     "2026-03-01",
			Start:    day.Add(8 * time.Hour),
			End:      day.Add(16 * time.Hour),
			Location: "north",
			Kind:     "regular",
		},
	}
}

func TestWriteAndPatch(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "alice.ics")

	if err := Write(path, testShifts(), "OK"); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)

	for _, want := range []string{
		"BEGIN:VCALENDAR",
		"X-SHIFTWATCH-STATUS:OK",
		"SUMMARY:Shift 101 (regular)",
		"DTSTART:20260301T080000Z",
		"LOCATION:north",
		"END:VCALENDAR",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("calendar is missing %q:\n%s", want, content)
		}
	}

	if err := PatchStatus(path, "ConnectError"); err != nil {
		t.Fatal(err)
	}

	patchedData, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	patched := string(patchedData)

	if !strings.Contains(patched, "X-SHIFTWATCH-STATUS:ConnectError") {
		t.Error("status not patched")
	}

	// everything except the status line must be untouched
	if !strings.Contains(patched, "SUMMARY:Shift 101 (regular)") {
		t.Error("patch destroyed event content")
	}

	if strings.Count(patched, "BEGIN:VEVENT") != 1 {
		t.Error("patch changed the event count")
	}
}

func TestPatchStatusMissingFile(t *testing.T) {
	t.Parallel()

	if err := PatchStatus(filepath.Join(t.TempDir(), "nope.ics"), "OK"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestURL(t *testing.T) {
	t.Parallel()

	got := URL("cal.example.com", "alice", "schedule")
	want := "webcal://cal.example.com/alice/schedule.ics"
	if got != want {
		t.Errorf("URL = %q, want %q", got, want)
	}
}

func TestEscapeText(t *testing.T) {
	t.Parallel()

	if got := escapeText("a,b;c\nd"); got != "a\\,b\\;c\\nd" {
		t.Errorf("escapeText = %q", got)
	}
}

package scraper

import (
	"testing"
	"time"
)

func mkShift(number, date string, startHour, endHour int, location string) Shift {
	day, _ := time.Parse("2006-01-02", date)
	return Shift{
		Number:   number,
		Date:     date,
		Start:    day.Add(time.Duration(startHour) * time.Hour),
		End:      day.Add(time.Duration(endHour) * time.Hour),
		Location: location,
		Kind:     "regular",
	}
}

func TestDiffShifts(t *testing.T) {
	t.Parallel()

	old := []Shift{
		mkShift("101", "2026-03-01", 8, 16, "north"),
		mkShift("102", "2026-03-02", 8, 16, "north"),
		mkShift("103", "2026-03-03", 8, 16, "north"),
	}

	current := []Shift{
		mkShift("101", "2026-03-01", 8, 16, "north"), // unchanged
		mkShift("102", "2026-03-02", 9, 17, "north"), // time moved
		mkShift("104", "2026-03-04", 8, 16, "south"), // new
	}

	added, updated, removed := DiffShifts(old, current)

	if len(added) != 1 || added[0].Number != "104" {
		t.Errorf("added = %+v", added)
	}

	if len(updated) != 1 || updated[0].Number != "102" {
		t.Errorf("updated = %+v", updated)
	}

	if len(removed) != 1 || removed[0].Number != "103" {
		t.Errorf("removed = %+v", removed)
	}
}

func TestDiffShiftsEmpty(t *testing.T) {
	t.Parallel()

	added, updated, removed := DiffShifts(nil, nil)
	if len(added)+len(updated)+len(removed) != 0 {
		t.Error("empty diff should be empty")
	}

	added, _, _ = DiffShifts(nil, []Shift{mkShift("1", "2026-01-01", 8, 16, "x")})
	if len(added) != 1 {
		t.Error("everything is new on first run")
	}
}

func TestMagicNumberStability(t *testing.T) {
	t.Parallel()

	a := mkShift("101", "2026-03-01", 8, 16, "north")
	b := mkShift("101", "2026-03-01", 8, 16, "north")

	if a.MagicNumber() != b.MagicNumber() {
		t.Error("identical shifts must share a magic number")
	}

	b.Location = "south"
	if a.MagicNumber() == b.MagicNumber() {
		t.Error("changed shift must change its magic number")
	}
}

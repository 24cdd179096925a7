package scraper

import (
	"fmt"
	"hash/fnv"
	"time"
)

// Shift is one harvested roster entry. MagicNumber is its stable identity
// across runs and doubles as the calendar event UID.
type Shift struct {
	Number   string    `json:"number"`
	Date     string    `json:"date"` // YYYY-MM-DD
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Location string    `json:"location"`
	Kind     string    `json:"kind"`
}

func (s *Shift) MagicNumber() uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%d|%d|%s|%s", s.Number, s.Date, s.Start.Unix(), s.End.Unix(), s.Location, s.Kind)
	return h.Sum64()
}

// key identifies the slot a shift occupies; two shifts with the same key
// but different magic numbers are one shift that changed.
func (s *Shift) key() string {
	return s.Date + "/" + s.Number
}

// DiffShifts splits the current roster against the previous one.
func DiffShifts(old, current []Shift) (added, updated, removed []Shift) {
	oldByKey := make(map[string]*Shift, len(old))
	for i := range old {
		oldByKey[old[i].key()] = &old[i]
	}

	seen := make(map[string]struct{}, len(current))
	for i := range current {
		shift := current[i]
		seen[shift.key()] = struct{}{}

		prev, ok := oldByKey[shift.key()]
		if !ok {
			added = append(added, shift)
		} else if prev.MagicNumber() != shift.MagicNumber() {
			updated = append(updated, shift)
		}
	}

	for i := range old {
		if _, ok := seen[old[i].key()]; !ok {
			removed = append(removed, old[i])
		}
	}

	return added, updated, removed
}

package fleet

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/shiftwatch/shiftwatch/pkg/scraper"
)

// Logbook is the per-user on-disk summary of the last run. The field names
// are part of the compatibility surface; the stored shift set is the
// baseline for the next run's diff.
type Logbook struct {
	ExitCode      scraper.FailureKind `json:"exitCode"`
	TotalShifts   int                 `json:"totalShifts"`
	AddedShifts   int                 `json:"addedShifts"`
	UpdatedShifts int                 `json:"updatedShifts"`
	RemovedShifts int                 `json:"removedShifts"`
	UpdatedAt     time.Time           `json:"updatedAt"`
	Shifts        []scraper.Shift     `json:"shifts,omitempty"`
}

// LoadLogbook returns an empty logbook when none exists yet.
func LoadLogbook(path string) (*Logbook, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Logbook{}, nil
	} else if err != nil {
		return nil, err
	}

	var lb Logbook
	if err := json.Unmarshal(data, &lb); err != nil {
		return nil, err
	}

	return &lb, nil
}

func (lb *Logbook) Save(path string) error {
	data, err := json.MarshalIndent(lb, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}

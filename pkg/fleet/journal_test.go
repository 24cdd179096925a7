package fleet

import (
	"path/filepath"
	"testing"

	"github.com/shiftwatch/shiftwatch/pkg/db"
	"github.com/shiftwatch/shiftwatch/pkg/notify"
	"github.com/shiftwatch/shiftwatch/pkg/scraper"
)

func journalProps() *db.GeneralProperties {
	return &db.GeneralProperties{
		SigninFailExecutionReduce: 4,
		SigninFailMailReduce:      8,
	}
}

func TestJournalRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sign_in_failure_count.json")

	missing, err := LoadJournal(path)
	if err != nil {
		t.Fatalf("expected empty journal for missing file: %v", err)
	}
	if missing.RetryCount != 0 || missing.Error != nil {
		t.Errorf("missing journal is not empty: %+v", missing)
	}

	failure := scraper.SignInTooManyTries
	hash := uint64(42)
	journal := &Journal{RetryCount: 3, Error: &failure, PreviousPasswordHash: &hash}
	if err := journal.Save(path); err != nil {
		t.Fatalf("failed to save journal: %v", err)
	}

	loaded, err := LoadJournal(path)
	if err != nil {
		t.Fatalf("failed to load journal: %v", err)
	}
	if loaded.RetryCount != 3 || loaded.Error == nil || *loaded.Error != scraper.SignInTooManyTries {
		t.Errorf("journal round trip mismatch: %+v", loaded)
	}
	if loaded.PreviousPasswordHash == nil || *loaded.PreviousPasswordHash != 42 {
		t.Errorf("password hash lost in round trip: %+v", loaded)
	}
}

func TestDecideResume(t *testing.T) {
	oldHash, newHash := uint64(1), uint64(2)
	incorrect := scraper.SignInIncorrectCredentials
	tooMany := scraper.SignInTooManyTries

	for _, tc := range []struct {
		name     string
		journal  Journal
		hash     uint64
		reason   ResumeReason
		reminder bool
	}{
		{name: "clean journal runs", journal: Journal{}, hash: oldHash, reason: ResumeOk},
		{
			name:    "rotated password always wins",
			journal: Journal{RetryCount: 9, Error: &incorrect, PreviousPasswordHash: &oldHash},
			hash:    newHash,
			reason:  ResumeNewPassword,
		},
		{
			name:    "incorrect credentials skip without rotation",
			journal: Journal{RetryCount: 1, Error: &incorrect, PreviousPasswordHash: &oldHash},
			hash:    oldHash,
			reason:  ResumeIncorrectCredentials,
		},
		{
			name:    "transient failures throttle off the reduce cadence",
			journal: Journal{RetryCount: 1, Error: &tooMany, PreviousPasswordHash: &oldHash},
			hash:    oldHash,
			reason:  ResumeSigninFailureReduce,
		},
		{
			name:    "transient failures run on the reduce cadence",
			journal: Journal{RetryCount: 3, Error: &tooMany, PreviousPasswordHash: &oldHash},
			hash:    oldHash,
			reason:  ResumeOk,
		},
		{
			name:     "reminder on the mail cadence",
			journal:  Journal{RetryCount: 7, Error: &incorrect, PreviousPasswordHash: &oldHash},
			hash:     oldHash,
			reason:   ResumeIncorrectCredentials,
			reminder: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			reason, reminder := tc.journal.DecideResume(tc.hash, journalProps())
			if reason != tc.reason {
				t.Errorf("expected reason %s, got %s", tc.reason.String(), reason.String())
			}
			if reminder != tc.reminder {
				t.Errorf("expected reminder %v, got %v", tc.reminder, reminder)
			}
		})
	}
}

func TestDecideResumeAdvancesCounter(t *testing.T) {
	oldHash := uint64(1)
	tooMany := scraper.SignInTooManyTries
	journal := &Journal{RetryCount: 1, Error: &tooMany, PreviousPasswordHash: &oldHash}

	// two throttled cycles, then the cadence grants a run
	for _, want := range []ResumeReason{ResumeSigninFailureReduce, ResumeSigninFailureReduce, ResumeOk} {
		reason, _ := journal.DecideResume(oldHash, journalProps())
		if reason != want {
			t.Fatalf("expected %s at count %d, got %s", want.String(), journal.RetryCount, reason.String())
		}
	}

	if journal.RetryCount != 3 {
		t.Errorf("expected the granted run to leave the counter at 3, got %d", journal.RetryCount)
	}
}

func TestDecideResumeZeroReduceValues(t *testing.T) {
	tooMany := scraper.SignInTooManyTries
	journal := Journal{RetryCount: 5, Error: &tooMany}

	reason, _ := journal.DecideResume(1, &db.GeneralProperties{})
	if reason != ResumeOk {
		t.Errorf("zero reduce values must never skip, got %s", reason.String())
	}
}

func TestUpdateSigninFailureFirstFailureMailsOnce(t *testing.T) {
	journal := &Journal{}
	tooMany := scraper.SignInTooManyTries

	events := journal.UpdateSigninFailure(true, ResumeOk, &tooMany, 1)
	if len(events) != 1 || events[0].Kind != notify.SignInFailedEvent {
		t.Fatalf("expected a single SignInFailed event, got %+v", events)
	}
	if !events[0].FirstTime || events[0].FailureCount != 1 {
		t.Errorf("unexpected first-failure event: %+v", events[0])
	}

	events = journal.UpdateSigninFailure(true, ResumeOk, &tooMany, 1)
	if len(events) != 0 {
		t.Errorf("repeat failure must not mail again, got %+v", events)
	}
	if journal.RetryCount != 2 {
		t.Errorf("expected retry count 2, got %d", journal.RetryCount)
	}
}

func TestUpdateSigninFailureRecovery(t *testing.T) {
	tooMany := scraper.SignInTooManyTries
	journal := &Journal{RetryCount: 5, Error: &tooMany}

	events := journal.UpdateSigninFailure(false, ResumeOk, nil, 7)
	if len(events) != 1 || events[0].Kind != notify.SignInRecoveredEvent {
		t.Fatalf("expected SignInRecovered, got %+v", events)
	}
	if journal.RetryCount != 0 || journal.Error != nil {
		t.Errorf("journal not reset after recovery: %+v", journal)
	}
	if journal.PreviousPasswordHash == nil || *journal.PreviousPasswordHash != 7 {
		t.Errorf("password hash not stored on success: %+v", journal)
	}

	events = journal.UpdateSigninFailure(false, ResumeOk, nil, 7)
	if len(events) != 0 {
		t.Errorf("clean run after clean run must be silent, got %+v", events)
	}
}

func TestUpdateSigninFailureIncorrectNewPassword(t *testing.T) {
	incorrect := scraper.SignInIncorrectCredentials
	journal := &Journal{RetryCount: 2, Error: &incorrect}

	events := journal.UpdateSigninFailure(true, ResumeNewPassword, &incorrect, 99)

	kinds := make(map[notify.EventKind]bool)
	for _, event := range events {
		kinds[event.Kind] = true
	}

	if !kinds[notify.IncorrectNewPasswordEvent] {
		t.Errorf("expected IncorrectNewPassword when the rotated password fails too, got %+v", events)
	}
	if kinds[notify.SignInFailedEvent] {
		t.Errorf("third consecutive failure must not re-mail SignInFailed: %+v", events)
	}
}

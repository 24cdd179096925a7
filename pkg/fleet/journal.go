package fleet

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/shiftwatch/shiftwatch/pkg/db"
	"github.com/shiftwatch/shiftwatch/pkg/notify"
	"github.com/shiftwatch/shiftwatch/pkg/scraper"
)

// Journal is the per-user record of consecutive sign-in failures. It
// throttles both retry runs and reminder emails, and detects password
// rotation via the stored hash. Field names are on-disk format.
type Journal struct {
	RetryCount           int32                  `json:"retryCount"`
	Error                *scraper.SignInFailure `json:"error,omitempty"`
	PreviousPasswordHash *uint64                `json:"previousPasswordHash,omitempty"`
}

// LoadJournal returns an empty journal when none exists yet.
func LoadJournal(path string) (*Journal, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Journal{}, nil
	} else if err != nil {
		return nil, err
	}

	var j Journal
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}

	return &j, nil
}

// Save keeps the journal private: it stores a credential hash.
func (j *Journal) Save(path string) error {
	data, err := json.Marshal(j)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

type ResumeReason int

const (
	ResumeOk ResumeReason = iota
	ResumeNewPassword
	ResumeIncorrectCredentials
	ResumeSigninFailureReduce
)

func (rr ResumeReason) String() string {
	switch rr {
	case ResumeOk:
		return "Ok"
	case ResumeNewPassword:
		return "NewPassword"
	case ResumeIncorrectCredentials:
		return "IncorrectCredentials"
	case ResumeSigninFailureReduce:
		return "SigninFailureReduce"
	default:
		return fmt.Sprintf("ResumeReason(%d)", int(rr))
	}
}

// Skip reports whether the scraper run should not happen at all.
func (rr ResumeReason) Skip() bool {
	return rr == ResumeIncorrectCredentials || rr == ResumeSigninFailureReduce
}

// DecideResume is evaluated before every run and advances the throttle
// counter; the caller persists the journal afterwards. A rotated password
// always wins: the user gets a fresh chance no matter how locked out they
// were. sendReminder asks the caller to re-send the failure email on this
// cycle.
func (j *Journal) DecideResume(passwordHash uint64, props *db.GeneralProperties) (reason ResumeReason, sendReminder bool) {
	executionReduce := int32(props.SigninFailExecutionReduce)
	if executionReduce <= 0 {
		executionReduce = 1
	}

	mailReduce := int32(props.SigninFailMailReduce)
	if mailReduce <= 0 {
		mailReduce = 1
	}

	if j.PreviousPasswordHash != nil && *j.PreviousPasswordHash != passwordHash {
		return ResumeNewPassword, false
	}

	if j.Error == nil {
		return ResumeOk, false
	}

	j.RetryCount++

	switch {
	case *j.Error == scraper.SignInIncorrectCredentials:
		reason = ResumeIncorrectCredentials
	case j.RetryCount%executionReduce == 0:
		// the granted retry reports its own outcome, do not double-count
		j.RetryCount--
		reason = ResumeOk
	default:
		reason = ResumeSigninFailureReduce
	}

	sendReminder = j.RetryCount%mailReduce == 0

	return reason, sendReminder
}

// UpdateSigninFailure folds one finished run into the journal and returns
// the notifications the caller must send. Skipped runs never come here;
// only the pre-run check moves the journal for them.
func (j *Journal) UpdateSigninFailure(failed bool, reason ResumeReason, failure *scraper.SignInFailure, passwordHash uint64) []notify.Event {
	var events []notify.Event

	if failed && failure != nil &&
		*failure == scraper.SignInIncorrectCredentials && reason == ResumeNewPassword {
		events = append(events, notify.IncorrectNewPassword())
	}

	j.PreviousPasswordHash = &passwordHash

	if failed {
		firstTime := j.RetryCount == 0
		j.RetryCount++
		j.Error = failure

		if firstTime {
			events = append(events, notify.SignInFailed(int(j.RetryCount), true))
		}

		return events
	}

	if j.Error != nil {
		events = append(events, notify.SignInRecovered())
	}

	j.RetryCount = 0
	j.Error = nil

	return events
}

package fleet

import (
	"fmt"
	"time"

	"github.com/shiftwatch/shiftwatch/pkg/db"
)

const (
	standingDeleteAfter    = 31 * 24 * time.Hour
	standingWarnAfter      = 24 * 24 * time.Hour
	standingFreshDeadAfter = 24 * time.Hour
)

// InstanceStanding classifies how close an account is to auto-deletion.
type InstanceStanding int

const (
	StandingSafe InstanceStanding = iota
	StandingFresh
	StandingInDanger
	StandingAlmostDeleted
	StandingMustDelete
	StandingMustDeleteFresh
)

func (is InstanceStanding) String() string {
	switch is {
	case StandingSafe:
		return "Safe"
	case StandingFresh:
		return "Fresh"
	case StandingInDanger:
		return "InDanger"
	case StandingAlmostDeleted:
		return "AlmostDeleted"
	case StandingMustDelete:
		return "MustDelete"
	case StandingMustDeleteFresh:
		return "MustDeleteFresh"
	default:
		return fmt.Sprintf("InstanceStanding(%d)", int(is))
	}
}

// ComputeStanding is pure: identical (user, now) always classify the same.
func ComputeStanding(user *db.User, now time.Time) InstanceStanding {
	if !user.Settings.AutoDeleteAccount {
		return StandingSafe
	}

	lastSuccess := user.LastSuccessfulSignInDate

	if lastSuccess != nil {
		if user.LastExecutionDate != nil && lastSuccess.Equal(*user.LastExecutionDate) {
			return StandingSafe
		}

		silence := now.Sub(*lastSuccess)
		switch {
		case silence >= standingDeleteAfter:
			return StandingMustDelete
		case silence >= standingWarnAfter:
			return StandingAlmostDeleted
		default:
			return StandingInDanger
		}
	}

	if now.Sub(user.CreationDate) >= standingFreshDeadAfter {
		return StandingMustDeleteFresh
	}

	return StandingFresh
}

// StandingInformation is the API-facing view of ComputeStanding.
type StandingInformation struct {
	Standing             string     `json:"standing"`
	DaysSinceLastSuccess *int       `json:"daysSinceLastSuccess,omitempty"`
	DeletionDate         *time.Time `json:"deletionDate,omitempty"`
	AutoDelete           bool       `json:"autoDelete"`
}

func NewStandingInformation(user *db.User, now time.Time) *StandingInformation {
	info := &StandingInformation{
		Standing:   ComputeStanding(user, now).String(),
		AutoDelete: user.Settings.AutoDeleteAccount,
	}

	if user.LastSuccessfulSignInDate != nil {
		days := int(now.Sub(*user.LastSuccessfulSignInDate).Hours() / 24)
		info.DaysSinceLastSuccess = &days
	}

	if user.Settings.AutoDeleteAccount {
		var deletion time.Time
		if user.LastSuccessfulSignInDate != nil {
			deletion = user.LastSuccessfulSignInDate.Add(standingDeleteAfter)
		} else {
			deletion = user.CreationDate.Add(standingFreshDeadAfter)
		}
		info.DeletionDate = &deletion
	}

	return info
}

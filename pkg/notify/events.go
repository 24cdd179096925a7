package notify

import (
	"fmt"

	"github.com/shiftwatch/shiftwatch/pkg/scraper"
)

type EventKind int

const (
	NewShiftsEvent EventKind = iota
	UpdatedShiftsEvent
	RemovedShiftsEvent
	WelcomeEvent
	DeletionWarningEvent
	AccountDeletedEvent
	SignInFailedEvent
	SignInRecoveredEvent
	IncorrectNewPasswordEvent
	OperatorErrorsEvent
)

func (ek EventKind) String() string {
	switch ek {
	case NewShiftsEvent:
		return "NewShifts"
	case UpdatedShiftsEvent:
		return "UpdatedShifts"
	case RemovedShiftsEvent:
		return "RemovedShifts"
	case WelcomeEvent:
		return "Welcome"
	case DeletionWarningEvent:
		return "DeletionWarning"
	case AccountDeletedEvent:
		return "AccountDeleted"
	case SignInFailedEvent:
		return "SignInFailed"
	case SignInRecoveredEvent:
		return "SignInRecovered"
	case IncorrectNewPasswordEvent:
		return "IncorrectNewPassword"
	case OperatorErrorsEvent:
		return "OperatorErrors"
	default:
		return fmt.Sprintf("EventKind(%d)", int(ek))
	}
}

type DeleteReason int

const (
	DeleteManual DeleteReason = iota
	DeleteOldAge
	DeleteNewDead
)

func (dr DeleteReason) String() string {
	switch dr {
	case DeleteManual:
		return "Manual"
	case DeleteOldAge:
		return "OldAge"
	case DeleteNewDead:
		return "NewDead"
	default:
		return fmt.Sprintf("DeleteReason(%d)", int(dr))
	}
}

// Event is a closed tagged union; only the fields relevant to Kind are set.
type Event struct {
	Kind EventKind
	// NewShifts / UpdatedShifts / RemovedShifts
	Shifts []scraper.Shift
	// Welcome
	Force bool
	// AccountDeleted
	Reason DeleteReason
	// SignInFailed
	FailureCount int
	FirstTime    bool
	// OperatorErrors
	Errors []string
}

func NewShifts(shifts []scraper.Shift) Event {
	return Event{Kind: NewShiftsEvent, Shifts: shifts}
}

func UpdatedShifts(shifts []scraper.Shift) Event {
	return Event{Kind: UpdatedShiftsEvent, Shifts: shifts}
}

func RemovedShifts(shifts []scraper.Shift) Event {
	return Event{Kind: RemovedShiftsEvent, Shifts: shifts}
}

func Welcome(force bool) Event {
	return Event{Kind: WelcomeEvent, Force: force}
}

func DeletionWarning() Event {
	return Event{Kind: DeletionWarningEvent}
}

func AccountDeleted(reason DeleteReason) Event {
	return Event{Kind: AccountDeletedEvent, Reason: reason}
}

func SignInFailed(count int, firstTime bool) Event {
	return Event{Kind: SignInFailedEvent, FailureCount: count, FirstTime: firstTime}
}

func SignInRecovered() Event {
	return Event{Kind: SignInRecoveredEvent}
}

func IncorrectNewPassword() Event {
	return Event{Kind: IncorrectNewPasswordEvent}
}

func OperatorErrors(errs []string) Event {
	return Event{Kind: OperatorErrorsEvent, Errors: errs}
}

package fleet

import (
	"fmt"
	"strings"

	"github.com/shiftwatch/shiftwatch/pkg/scraper"
)

// RequestKind is the closed set of events a user instance services. The
// names double as API action names and are matched case-insensitively.
type RequestKind int

const (
	TimerRequest RequestKind = iota
	ApiRequest
	ForceRequest
	SingleRequest
	LogbookRequest
	NameRequest
	IsActiveRequest
	ExitCodeRequest
	UserDataRequest
	WelcomeRequest
	CalendarRequest
	StandingRequest
	DeleteRequest
	executionFinishedRequest
)

var requestKindNames = map[RequestKind]string{
	TimerRequest:             "Timer",
	ApiRequest:               "Api",
	ForceRequest:             "Force",
	SingleRequest:            "Single",
	LogbookRequest:           "Logbook",
	NameRequest:              "Name",
	IsActiveRequest:          "IsActive",
	ExitCodeRequest:          "ExitCode",
	UserDataRequest:          "UserData",
	WelcomeRequest:           "Welcome",
	CalendarRequest:          "Calendar",
	StandingRequest:          "Standing",
	DeleteRequest:            "Delete",
	executionFinishedRequest: "ExecutionFinished",
}

func (rk RequestKind) String() string {
	if name, ok := requestKindNames[rk]; ok {
		return name
	}

	return fmt.Sprintf("RequestKind(%d)", int(rk))
}

func (rk RequestKind) MarshalText() ([]byte, error) {
	return []byte(rk.String()), nil
}

func (rk *RequestKind) UnmarshalText(data []byte) error {
	parsed, err := ParseRequestKind(string(data))
	if err != nil {
		return err
	}

	*rk = parsed
	return nil
}

func ParseRequestKind(s string) (RequestKind, error) {
	for kind, name := range requestKindNames {
		if strings.EqualFold(name, s) {
			return kind, nil
		}
	}

	return 0, fmt.Errorf("unknown request kind %q", s)
}

// IsExecutionTrigger reports whether the request may launch a scraper.
func (rk RequestKind) IsExecutionTrigger() bool {
	switch rk {
	case TimerRequest, ApiRequest, ForceRequest, SingleRequest:
		return true
	default:
		return false
	}
}

// StartRequest is one inbox event. The JSON form is written to the per-user
// `active` marker file while a run is in flight.
type StartRequest struct {
	Kind RequestKind `json:"kind"`
	// set on ExecutionFinished only
	Failure *scraper.Failure `json:"failure,omitempty"`
	Trigger RequestKind      `json:"trigger,omitempty"`
}

func executionFinished(trigger RequestKind, failure *scraper.Failure) StartRequest {
	return StartRequest{Kind: executionFinishedRequest, Trigger: trigger, Failure: failure}
}

// RequestResponse is the tagged reply to a single request; only the fields
// matching Kind are populated.
type RequestResponse struct {
	Kind     RequestKind          `json:"kind"`
	Active   bool                 `json:"active,omitempty"`
	Text     string               `json:"text,omitempty"`
	ExitCode scraper.FailureKind  `json:"exitCode,omitempty"`
	Logbook  *Logbook             `json:"logbook,omitempty"`
	UserData *UserData            `json:"userData,omitempty"`
	Standing *StandingInformation `json:"standing,omitempty"`
}

package scraper

import (
	"encoding/json"
	"errors"
	"fmt"
)

// FailureKind is the exit code of a scraper run. The JSON names are part of
// the on-disk logbook format and must stay stable.
type FailureKind int

const (
	FailureOK FailureKind = iota
	FailureTriesExceeded
	FailureBrowserEngine
	FailureSignInFailed
	FailureConnectError
	FailureOther
)

var failureKindNames = map[FailureKind]string{
	FailureOK:            "OK",
	FailureTriesExceeded: "TriesExceeded",
	FailureBrowserEngine: "BrowserEngine",
	FailureSignInFailed:  "SignInFailed",
	FailureConnectError:  "ConnectError",
	FailureOther:         "Other",
}

func (fk FailureKind) String() string {
	if name, ok := failureKindNames[fk]; ok {
		return name
	}

	return fmt.Sprintf("FailureKind(%d)", int(fk))
}

func (fk FailureKind) MarshalText() ([]byte, error) {
	return []byte(fk.String()), nil
}

func (fk *FailureKind) UnmarshalText(data []byte) error {
	for kind, name := range failureKindNames {
		if name == string(data) {
			*fk = kind
			return nil
		}
	}

	return fmt.Errorf("unknown failure kind %q", data)
}

// SignInFailure narrows FailureSignInFailed.
type SignInFailure int

const (
	SignInUnknown SignInFailure = iota
	SignInTooManyTries
	SignInIncorrectCredentials
	SignInRemoteDown
	SignInOther
)

var signInFailureNames = map[SignInFailure]string{
	SignInUnknown:              "Unknown",
	SignInTooManyTries:         "TooManyTries",
	SignInIncorrectCredentials: "IncorrectCredentials",
	SignInRemoteDown:           "RemoteDown",
	SignInOther:                "Other",
}

func (sf SignInFailure) String() string {
	if name, ok := signInFailureNames[sf]; ok {
		return name
	}

	return fmt.Sprintf("SignInFailure(%d)", int(sf))
}

func (sf SignInFailure) MarshalText() ([]byte, error) {
	return []byte(sf.String()), nil
}

func (sf *SignInFailure) UnmarshalText(data []byte) error {
	for failure, name := range signInFailureNames {
		if name == string(data) {
			*sf = failure
			return nil
		}
	}

	return fmt.Errorf("unknown sign-in failure %q", data)
}

// Failure is the typed error every scraper run resolves to. A nil *Failure
// or FailureOK both mean success.
type Failure struct {
	Kind    FailureKind   `json:"kind"`
	SignIn  SignInFailure `json:"signin,omitempty"`
	Message string        `json:"message,omitempty"`
}

var _ error = (*Failure)(nil)

func (f *Failure) Error() string {
	switch f.Kind {
	case FailureSignInFailed:
		return fmt.Sprintf("sign-in failed: %v", f.SignIn)
	case FailureOther:
		return fmt.Sprintf("scraper failed: %v", f.Message)
	default:
		return f.Kind.String()
	}
}

func NewFailure(kind FailureKind) *Failure {
	return &Failure{Kind: kind}
}

func NewSignInFailure(signIn SignInFailure) *Failure {
	return &Failure{Kind: FailureSignInFailed, SignIn: signIn}
}

func NewOtherFailure(message string) *Failure {
	return &Failure{Kind: FailureOther, Message: message}
}

// FromError promotes an arbitrary error to a Failure. Typed failures pass
// through unchanged, everything else becomes FailureOther.
func FromError(err error) *Failure {
	if err == nil {
		return nil
	}

	var failure *Failure
	if errors.As(err, &failure) {
		return failure
	}

	return NewOtherFailure(err.Error())
}

// ExitCode returns the FailureKind of err, FailureOK for nil.
func ExitCode(err error) FailureKind {
	if err == nil {
		return FailureOK
	}

	return FromError(err).Kind
}

func (f *Failure) MarshalJSON() ([]byte, error) {
	type wire struct {
		Kind    string `json:"kind"`
		SignIn  string `json:"signin,omitempty"`
		Message string `json:"message,omitempty"`
	}

	w := wire{Kind: f.Kind.String(), Message: f.Message}
	if f.Kind == FailureSignInFailed {
		w.SignIn = f.SignIn.String()
	}

	return json.Marshal(&w)
}

func (f *Failure) UnmarshalJSON(data []byte) error {
	type wire struct {
		Kind    string `json:"kind"`
		SignIn  string `json:"signin"`
		Message string `json:"message"`
	}

	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	if err := f.Kind.UnmarshalText([]byte(w.Kind)); err != nil {
		return err
	}

	if len(w.SignIn) > 0 {
		if err := f.SignIn.UnmarshalText([]byte(w.SignIn)); err != nil {
			return err
		}
	}

	f.Message = w.Message

	return nil
}

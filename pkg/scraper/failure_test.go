package scraper

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestFailureJSONStability(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		failure *Failure
		want    string
	}{
		{NewFailure(FailureOK), `{"kind":"OK"}`},
		{NewFailure(FailureTriesExceeded), `{"kind":"TriesExceeded"}`},
		{NewSignInFailure(SignInIncorrectCredentials), `{"kind":"SignInFailed","signin":"IncorrectCredentials"}`},
		{NewOtherFailure("boom"), `{"kind":"Other","message":"boom"}`},
	} {
		data, err := json.Marshal(tc.failure)
		if err != nil {
			t.Fatal(err)
		}

		if string(data) != tc.want {
			t.Errorf("marshal = %s, want %s", data, tc.want)
		}

		var back Failure
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatal(err)
		}

		if back.Kind != tc.failure.Kind || back.SignIn != tc.failure.SignIn || back.Message != tc.failure.Message {
			t.Errorf("round trip changed the failure: %+v != %+v", back, tc.failure)
		}
	}
}

func TestFromError(t *testing.T) {
	t.Parallel()

	if FromError(nil) != nil {
		t.Error("nil error should stay nil")
	}

	typed := NewSignInFailure(SignInTooManyTries)
	if got := FromError(fmt.Errorf("wrapped: %w", typed)); got != typed {
		t.Error("typed failure should pass through unwrapped")
	}

	plain := FromError(errors.New("plain"))
	if plain.Kind != FailureOther || plain.Message != "plain" {
		t.Errorf("plain error should promote to Other: %+v", plain)
	}
}

func TestExitCode(t *testing.T) {
	t.Parallel()

	if code := ExitCode(nil); code != FailureOK {
		t.Errorf("ExitCode(nil) = %v", code)
	}

	if code := ExitCode(NewFailure(FailureConnectError)); code != FailureConnectError {
		t.Errorf("ExitCode = %v", code)
	}
}

func TestUnknownFailureKindText(t *testing.T) {
	t.Parallel()

	var fk FailureKind
	if err := fk.UnmarshalText([]byte("NoSuchKind")); err == nil {
		t.Error("expected error for unknown kind")
	}
}

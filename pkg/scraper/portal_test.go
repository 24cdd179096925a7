package scraper

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shiftwatch/shiftwatch/pkg/common"
)

const rosterPage = `<html><body>
<table class="roster"><tbody>
<tr><td class="date">2026-03-01</td><td class="shift-number">101</td>
<td class="start">08:00</td><td class="end">16:00</td>
<td class="location">north</td><td class="kind">regular</td></tr>
<tr><td class="date">2026-03-02</td><td class="shift-number"></td></tr>
<tr><td class="date">2026-03-03</td><td class="shift-number">102</td>
<td class="start">22:00</td><td class="end">06:00</td>
<td class="location">south</td><td class="kind">night</td></tr>
</tbody></table>
</body></html>`

func newPortalServer(t *testing.T, loginStatus int, loginBody string) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+signInPath, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(loginStatus)
		_, _ = w.Write([]byte(loginBody))
	})
	mux.HandleFunc("GET "+rosterPath, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(rosterPage))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func testCredentials() Credentials {
	return Credentials{UserName: "alice", EmployeeNumber: "12345", Password: "hunter2"}
}

func TestPortalScraperHappyPath(t *testing.T) {
	t.Parallel()

	server := newPortalServer(t, http.StatusOK,
		`<html><body><span class="user-display-name">Alice A.</span></body></html>`)

	ps := NewPortalScraper(server.URL, nil, false, common.NewFakeClock(time.Now()))

	result, err := ps.Run(t.Context(), testCredentials())
	if err != nil {
		t.Fatal(err)
	}

	if result.DisplayName != "Alice A." {
		t.Errorf("display name = %q", result.DisplayName)
	}

	if len(result.Shifts) != 2 {
		t.Fatalf("shifts = %+v", result.Shifts)
	}

	night := result.Shifts[1]
	if !night.End.After(night.Start) {
		t.Errorf("overnight shift end %v not after start %v", night.End, night.Start)
	}
	if night.End.Day() == night.Start.Day() {
		t.Error("overnight shift should end the next day")
	}
}

func TestPortalScraperSignInClassification(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		banner string
		want   SignInFailure
	}{
		{"Too many failed attempts, try again later", SignInTooManyTries},
		{"Incorrect employee number or password", SignInIncorrectCredentials},
		{"The portal is unavailable due to maintenance", SignInRemoteDown},
		{"Something unexpected happened", SignInOther},
	} {
		server := newPortalServer(t, http.StatusOK,
			`<html><body><div class="alert">`+tc.banner+`</div></body></html>`)

		ps := NewPortalScraper(server.URL, nil, false, common.NewFakeClock(time.Now()))

		_, err := ps.Run(t.Context(), testCredentials())
		failure := FromError(err)
		if failure == nil || failure.Kind != FailureSignInFailed {
			t.Fatalf("banner %q: expected sign-in failure, got %v", tc.banner, err)
		}

		if failure.SignIn != tc.want {
			t.Errorf("banner %q classified as %v, want %v", tc.banner, failure.SignIn, tc.want)
		}
	}
}

func TestPortalScraperRemoteDown(t *testing.T) {
	t.Parallel()

	server := newPortalServer(t, http.StatusServiceUnavailable, "")

	ps := NewPortalScraper(server.URL, nil, false, common.NewFakeClock(time.Now()))

	_, err := ps.Run(t.Context(), testCredentials())
	failure := FromError(err)
	if failure == nil || failure.SignIn != SignInRemoteDown {
		t.Errorf("expected RemoteDown, got %v", err)
	}
}

func TestPortalScraperFallbackURL(t *testing.T) {
	t.Parallel()

	good := newPortalServer(t, http.StatusOK, `<html><body></body></html>`)

	// primary URL refuses connections, fallback succeeds
	dead := httptest.NewServer(http.NotFoundHandler())
	dead.Close()

	ps := NewPortalScraper(dead.URL, []string{good.URL}, false, common.NewFakeClock(time.Now()))

	result, err := ps.Run(t.Context(), testCredentials())
	if err != nil {
		t.Fatalf("fallback should have succeeded: %v", err)
	}

	if len(result.Shifts) != 2 {
		t.Errorf("shifts = %+v", result.Shifts)
	}
}

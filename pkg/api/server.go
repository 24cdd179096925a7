package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/justinas/alice"
	"github.com/realclientip/realclientip-go"
	"github.com/rs/cors"

	"github.com/shiftwatch/shiftwatch/pkg/common"
	"github.com/shiftwatch/shiftwatch/pkg/db"
	"github.com/shiftwatch/shiftwatch/pkg/fleet"
	"github.com/shiftwatch/shiftwatch/pkg/monitoring"
)

// ResponseTimeout bounds how long a handler waits on an instance outbox.
const ResponseTimeout = 2 * time.Second

var (
	errUnknownAction = errors.New("unknown action")
)

type Metrics interface {
	Handler(h http.Handler) http.Handler
}

// Server is the admin surface. Every route requires the process API key
// and talks to instances only through their bounded request channels.
type Server struct {
	Stage    string
	Watchdog *fleet.Watchdog
	Cipher   *db.Cipher
	APIKey   db.Secret
	Metrics  Metrics

	clientIP realclientip.Strategy
}

func (s *Server) Setup(router *http.ServeMux) {
	// behind a reverse proxy the peer address is useless for audit logs
	strategy, err := realclientip.NewRightmostNonPrivateStrategy("X-Forwarded-For")
	if err == nil {
		s.clientIP = strategy
	} else {
		s.clientIP = realclientip.RemoteAddrStrategy{}
	}

	corsHandler := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
	}).Handler

	chain := alice.New(common.Recovered, corsHandler, s.keyAuth, s.Metrics.Handler, monitoring.Traced, monitoring.Logged)

	router.Handle(http.MethodGet+" /api/{user}/{action}", chain.ThenFunc(s.userActionHandler))
	router.Handle(http.MethodGet+" /api/refresh", chain.ThenFunc(s.refreshHandler))
	router.Handle(http.MethodGet+" /api/refresh/{user}", chain.ThenFunc(s.refreshUserHandler))
	router.Handle(http.MethodGet+" /api/kuma/{action}/{user}", chain.ThenFunc(s.kumaHandler))
	router.Handle(http.MethodPost+" /api/encrypt", chain.ThenFunc(s.encryptHandler))

	router.Handle("/api/", chain.Then(common.HttpStatus(http.StatusNotFound)))
}

// keyAuth compares the ?key= query parameter against the configured API
// key in constant time.
func (s *Server) keyAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get(common.ParamKey)
		expected := s.APIKey.Expose()

		if len(expected) == 0 ||
			subtle.ConstantTimeCompare([]byte(key), []byte(expected)) != 1 {
			slog.WarnContext(r.Context(), "Rejecting request with a bad key",
				"path", r.URL.Path, "client", s.clientIP.ClientIP(r.Header, r.RemoteAddr))
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// actionToRequest maps the URL action to an instance request. Internal
// kinds are not reachable over HTTP.
func actionToRequest(action string) (fleet.RequestKind, error) {
	// "start" is the historical name of an API-triggered run
	if strings.EqualFold(action, "start") {
		return fleet.ApiRequest, nil
	}

	kind, err := fleet.ParseRequestKind(action)
	if err != nil {
		return 0, err
	}

	switch kind {
	case fleet.ApiRequest, fleet.ForceRequest, fleet.LogbookRequest, fleet.NameRequest,
		fleet.IsActiveRequest, fleet.ExitCodeRequest, fleet.UserDataRequest,
		fleet.WelcomeRequest, fleet.CalendarRequest, fleet.StandingRequest, fleet.DeleteRequest:
		return kind, nil
	default:
		return 0, errUnknownAction
	}
}

func (s *Server) userActionHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userName := r.PathValue(common.ParamUser)
	action := r.PathValue(common.ParamAction)

	kind, err := actionToRequest(action)
	if err != nil {
		slog.WarnContext(ctx, "Rejecting unknown action", "action", action)
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	instance := s.Watchdog.Instance(userName)
	if instance == nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	ctx = common.UserContext(ctx, userName)

	resp, err := instance.Request(ctx, fleet.StartRequest{Kind: kind}, ResponseTimeout)
	if err != nil {
		slog.ErrorContext(ctx, "Instance request failed", "request", kind.String(), common.ErrAttr(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	s.writeResponse(ctx, w, &resp)
}

func (s *Server) writeResponse(ctx context.Context, w http.ResponseWriter, resp *fleet.RequestResponse) {
	switch resp.Kind {
	case fleet.LogbookRequest:
		common.SendJSONResponse(ctx, w, resp.Logbook)
	case fleet.UserDataRequest:
		common.SendJSONResponse(ctx, w, resp.UserData)
	case fleet.StandingRequest:
		common.SendJSONResponse(ctx, w, resp.Standing)
	case fleet.ApiRequest, fleet.ForceRequest, fleet.IsActiveRequest:
		writePlain(ctx, w, fmt.Sprintf("%t", resp.Active))
	case fleet.ExitCodeRequest:
		writePlain(ctx, w, resp.ExitCode.String())
	default:
		writePlain(ctx, w, resp.Text)
	}
}

func writePlain(ctx context.Context, w http.ResponseWriter, body string) {
	w.Header()[common.HeaderContentType] = []string{common.ContentTypePlain}
	if _, err := w.Write([]byte(body)); err != nil {
		slog.ErrorContext(ctx, "Failed to send response", common.ErrAttr(err))
	}
}

func (s *Server) refreshHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !s.Watchdog.RequestReconcile() {
		slog.WarnContext(ctx, "Reconcile queue is full")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writePlain(ctx, w, "scheduled")
}

func (s *Server) refreshUserHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userName := r.PathValue(common.ParamUser)

	if s.Watchdog.Instance(userName) == nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !s.Watchdog.RequestRefresh(userName) {
		slog.WarnContext(ctx, "Refresh queue is full", "user", userName)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writePlain(ctx, w, "scheduled")
}

func (s *Server) kumaHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	action, err := fleet.ParseMonitorAction(r.PathValue(common.ParamAction))
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	target := r.PathValue(common.ParamUser)

	if err := s.Watchdog.ApplyMonitorAction(ctx, action, target); err != nil {
		if errors.Is(err, fleet.ErrUnknownUser) {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}

		slog.ErrorContext(ctx, "Monitor action failed", "target", target, common.ErrAttr(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writePlain(ctx, w, "done")
}

func (s *Server) encryptHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	input := r.URL.Query().Get(common.ParamInput)
	if len(input) == 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	encrypted, err := s.Cipher.Encrypt(db.NewSecret(input))
	if err != nil {
		slog.ErrorContext(ctx, "Failed to encrypt input", common.ErrAttr(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writePlain(ctx, w, encrypted)
}

package fleet

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/shiftwatch/shiftwatch/pkg/common"
	"github.com/shiftwatch/shiftwatch/pkg/db"
	"github.com/shiftwatch/shiftwatch/pkg/ical"
	"github.com/shiftwatch/shiftwatch/pkg/notify"
	"github.com/shiftwatch/shiftwatch/pkg/schedule"
	"github.com/shiftwatch/shiftwatch/pkg/scraper"
)

var (
	ErrInstanceBusy    = errors.New("instance inbox is full")
	ErrResponseTimeout = errors.New("no response from instance")
)

// Instance is the per-user actor. A single worker goroutine services its
// inbox in FIFO order; at most one scraper task is in flight, and the
// scraper reports back only through the actor's own inbox.
type Instance struct {
	mux           sync.RWMutex
	user          *db.User
	props         *db.GeneralProperties
	nextExecution time.Time

	inbox  chan StartRequest
	outbox chan RequestResponse

	deps Deps

	// actor-loop state, touched only by the worker goroutine
	running      bool
	runTrigger   RequestKind
	singleRun    bool
	lastExitCode scraper.FailureKind
	cancelRun    context.CancelFunc
}

var _ schedule.Instance = (*Instance)(nil)

func NewInstance(user *db.User, props *db.GeneralProperties, deps Deps) *Instance {
	now := deps.Clock.Now()

	inst := &Instance{
		user:   user,
		props:  props,
		inbox:  make(chan StartRequest, 1),
		outbox: make(chan RequestResponse, 1),
		deps:   deps,
		nextExecution: schedule.PlanInitial(now, user.LastSystemExecutionDate,
			user.Settings.ExecutionIntervalMinutes, user.Settings.ExecutionMinute),
	}

	return inst
}

// Snapshot returns the current user and properties views. The watchdog is
// the only writer, during refresh.
func (i *Instance) Snapshot() (*db.User, *db.GeneralProperties) {
	i.mux.RLock()
	defer i.mux.RUnlock()
	return i.user, i.props
}

func (i *Instance) UpdateSnapshot(user *db.User, props *db.GeneralProperties) {
	i.mux.Lock()
	i.user = user
	i.props = props
	i.mux.Unlock()
}

func (i *Instance) UserName() string {
	i.mux.RLock()
	defer i.mux.RUnlock()
	return i.user.UserName
}

func (i *Instance) NextExecution() time.Time {
	i.mux.RLock()
	defer i.mux.RUnlock()
	return i.nextExecution
}

func (i *Instance) SetNextExecution(t time.Time) {
	i.mux.Lock()
	i.nextExecution = t
	i.mux.Unlock()
}

func (i *Instance) PlanParameters() (int, int) {
	i.mux.RLock()
	defer i.mux.RUnlock()
	return i.user.Settings.ExecutionIntervalMinutes, i.user.Settings.ExecutionMinute
}

func (i *Instance) TriggerTimer(ctx context.Context) bool {
	return i.post(StartRequest{Kind: TimerRequest})
}

// post is the non-blocking inbox send every producer must use.
func (i *Instance) post(req StartRequest) bool {
	select {
	case i.inbox <- req:
		return true
	default:
		return false
	}
}

// Request posts req and waits up to timeout for the reply. A stale reply
// from an earlier timed-out request is discarded first.
func (i *Instance) Request(ctx context.Context, req StartRequest, timeout time.Duration) (RequestResponse, error) {
	select {
	case <-i.outbox:
	default:
	}

	if !i.post(req) {
		return RequestResponse{}, ErrInstanceBusy
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-i.outbox:
		return resp, nil
	case <-timer.C:
		return RequestResponse{}, ErrResponseTimeout
	case <-ctx.Done():
		return RequestResponse{}, ctx.Err()
	}
}

func (i *Instance) respond(resp RequestResponse) {
	select {
	case i.outbox <- resp:
	default:
		// the caller has timed out, nobody is listening
	}
}

func (i *Instance) files() UserFiles {
	user, props := i.Snapshot()
	return NewUserFiles(props.FileTarget, user.UserName)
}

func (i *Instance) recipient() *notify.Recipient {
	user, props := i.Snapshot()

	displayName := user.DisplayName.Expose()
	if cached := i.files().ReadName(); len(cached) > 0 {
		displayName = cached
	}

	return &notify.Recipient{
		UserName:    user.UserName,
		DisplayName: displayName,
		Email:       user.Email.Expose(),
		Properties:  props,
	}
}

func (i *Instance) notify(ctx context.Context, event notify.Event) {
	if err := i.deps.Notifier.Send(ctx, i.recipient(), event); err != nil {
		slog.WarnContext(ctx, "Notification failed", "event", event.Kind.String(), common.ErrAttr(err))
	}
}

// Run is the actor loop. It exits on context cancel, on Delete, after a
// Single run completes, or when the lifecycle policy terminates the user.
func (i *Instance) Run(ctx context.Context) {
	ctx = common.UserContext(ctx, i.UserName())
	slog.DebugContext(ctx, "Instance started", "next", i.NextExecution())

	if err := i.files().EnsureDir(); err != nil {
		slog.ErrorContext(ctx, "Failed to create user directory", common.ErrAttr(err))
	}

	for {
		select {
		case <-ctx.Done():
			i.abortRun()
			slog.DebugContext(ctx, "Instance finished")
			return

		case req, ok := <-i.inbox:
			if !ok {
				i.abortRun()
				return
			}

			if exit := i.handle(ctx, req); exit {
				slog.InfoContext(ctx, "Instance terminating", "request", req.Kind.String())
				return
			}
		}
	}
}

func (i *Instance) abortRun() {
	if i.cancelRun != nil {
		i.cancelRun()
		i.cancelRun = nil
	}
}

func (i *Instance) handle(ctx context.Context, req StartRequest) (exit bool) {
	slog.Log(ctx, common.LevelTrace, "Handling request", "request", req.Kind.String())

	switch req.Kind {
	case TimerRequest:
		i.launch(ctx, req.Kind)

	case ApiRequest, ForceRequest, SingleRequest:
		launched := i.launch(ctx, req.Kind)
		i.respond(RequestResponse{Kind: req.Kind, Active: launched})
		if req.Kind == SingleRequest {
			// terminate once the current (or just-launched) run completes
			i.singleRun = true
		}

	case executionFinishedRequest:
		return i.finishRun(ctx, req)

	case LogbookRequest:
		logbook, err := LoadLogbook(i.files().LogbookPath())
		if err != nil {
			slog.WarnContext(ctx, "Failed to load logbook", common.ErrAttr(err))
			logbook = &Logbook{}
		}
		i.respond(RequestResponse{Kind: req.Kind, Logbook: logbook})

	case NameRequest:
		i.respond(RequestResponse{Kind: req.Kind, Text: i.recipient().DisplayName})

	case IsActiveRequest:
		i.respond(RequestResponse{Kind: req.Kind, Active: i.running})

	case ExitCodeRequest:
		i.respond(RequestResponse{Kind: req.Kind, ExitCode: i.lastExitCode})

	case UserDataRequest:
		i.respond(RequestResponse{Kind: req.Kind, UserData: i.userData()})

	case WelcomeRequest:
		i.notify(ctx, notify.Welcome(true))
		i.respond(RequestResponse{Kind: req.Kind, Text: "welcome email sent"})

	case CalendarRequest:
		user, props := i.Snapshot()
		url := ical.URL(props.ICalDomain, user.UserName, user.CalendarFileName())
		i.respond(RequestResponse{Kind: req.Kind, Text: url})

	case StandingRequest:
		user, _ := i.Snapshot()
		info := NewStandingInformation(user, i.deps.Clock.Now())
		i.respond(RequestResponse{Kind: req.Kind, Standing: info})

	case DeleteRequest:
		i.abortRun()
		i.deleteAccount(ctx, notify.DeleteManual)
		i.respond(RequestResponse{Kind: req.Kind, Text: "account deleted"})
		return true

	default:
		slog.WarnContext(ctx, "Ignoring unknown request", "request", req.Kind.String())
	}

	return false
}

// launch starts a scraper task unless one is already running. Force
// bypasses the journal's skip decision.
func (i *Instance) launch(ctx context.Context, trigger RequestKind) bool {
	if i.running {
		slog.DebugContext(ctx, "Scraper already running, ignoring trigger", "trigger", trigger.String())
		return false
	}

	user, props := i.Snapshot()
	files := i.files()

	journal, err := LoadJournal(files.JournalPath())
	if err != nil {
		slog.WarnContext(ctx, "Failed to load sign-in journal", common.ErrAttr(err))
		journal = &Journal{}
	}

	passwordHash := user.Password.Hash()
	reason, sendReminder := journal.DecideResume(passwordHash, props)

	if err := journal.Save(files.JournalPath()); err != nil {
		slog.WarnContext(ctx, "Failed to save sign-in journal", common.ErrAttr(err))
	}

	if sendReminder {
		i.notify(ctx, notify.SignInFailed(int(journal.RetryCount), false))
	}

	skip := reason.Skip() && trigger != ForceRequest

	i.running = true
	i.runTrigger = trigger

	if err := files.WriteActiveMarker(StartRequest{Kind: trigger}); err != nil {
		slog.WarnContext(ctx, "Failed to write active marker", common.ErrAttr(err))
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	i.cancelRun = cancel

	go i.scrape(runCtx, user, props, journal, reason, skip, trigger)

	slog.InfoContext(ctx, "Launched run", "trigger", trigger.String(), "resume", reason.String(), "skip", skip)

	return true
}

// scrape is the single in-flight scraper task. It owns the run end to end
// and communicates with the actor only via the ExecutionFinished event.
func (i *Instance) scrape(ctx context.Context, user *db.User, props *db.GeneralProperties,
	journal *Journal, reason ResumeReason, skip bool, trigger RequestKind) {
	var failure *scraper.Failure

	if skip {
		// a skipped run reports the stored failure; its journal already
		// moved in the pre-run check
		stored := scraper.SignInIncorrectCredentials
		if journal.Error != nil {
			stored = *journal.Error
		}
		failure = scraper.NewSignInFailure(stored)
	} else {
		failure = i.executeRun(ctx, user, props)
		i.updateJournal(ctx, journal, reason, failure, user.Password.Hash())
	}

	finished := executionFinished(trigger, failure)
	select {
	case i.inbox <- finished:
	case <-ctx.Done():
	}
}

func (i *Instance) executeRun(ctx context.Context, user *db.User, props *db.GeneralProperties) *scraper.Failure {
	creds := scraper.Credentials{
		UserName:       user.UserName,
		EmployeeNumber: user.EmployeeNumber,
		Password:       user.Password.Expose(),
	}

	retryCount := props.ExecutionRetryCount
	if retryCount < 1 {
		retryCount = 1
	}

	var transientErrors []string

	for attempt := 0; attempt < retryCount; attempt++ {
		result, err := i.deps.Scraper.Run(ctx, creds)
		if err == nil {
			i.publishResult(ctx, user, props, result)
			return nil
		}

		failure := scraper.FromError(err)

		switch failure.Kind {
		case scraper.FailureSignInFailed, scraper.FailureConnectError:
			return failure
		default:
			transientErrors = append(transientErrors, failure.Error())
			slog.WarnContext(ctx, "Scraper attempt failed", "attempt", attempt, common.ErrAttr(failure))
		}

		if ctx.Err() != nil {
			return scraper.NewFailure(scraper.FailureConnectError)
		}
	}

	i.notify(ctx, notify.OperatorErrors(transientErrors))

	return scraper.NewFailure(scraper.FailureTriesExceeded)
}

// publishResult diffs the harvested shifts against the previous run, sends
// the per-kind emails, rewrites the calendar and caches the display name.
func (i *Instance) publishResult(ctx context.Context, user *db.User, props *db.GeneralProperties, result *scraper.Result) {
	files := NewUserFiles(props.FileTarget, user.UserName)

	logbook, err := LoadLogbook(files.LogbookPath())
	if err != nil {
		slog.WarnContext(ctx, "Failed to load logbook for diff", common.ErrAttr(err))
		logbook = &Logbook{}
	}

	added, updated, removed := scraper.DiffShifts(logbook.Shifts, result.Shifts)

	if len(added) > 0 && user.Settings.MailNewShifts {
		i.notify(ctx, notify.NewShifts(added))
	}
	if len(updated) > 0 && user.Settings.MailUpdatedShifts {
		i.notify(ctx, notify.UpdatedShifts(updated))
	}
	if len(removed) > 0 && user.Settings.MailRemovedShifts {
		i.notify(ctx, notify.RemovedShifts(removed))
	}

	calendarPath := files.CalendarPath(user.CalendarFileName())
	_, statErr := os.Stat(calendarPath)
	firstPublish := errors.Is(statErr, os.ErrNotExist)

	if err := ical.Write(calendarPath, result.Shifts, scraper.FailureOK.String()); err != nil {
		slog.ErrorContext(ctx, "Failed to write calendar", common.ErrAttr(err))
	} else if firstPublish {
		i.notify(ctx, notify.Welcome(false))
	}

	if len(result.DisplayName) > 0 && result.DisplayName != files.ReadName() {
		if err := files.WriteName(result.DisplayName); err != nil {
			slog.WarnContext(ctx, "Failed to cache display name", common.ErrAttr(err))
		}
		if err := i.deps.Store.UpdateDisplayName(ctx, user.ID, db.NewSecret(result.DisplayName)); err != nil {
			slog.WarnContext(ctx, "Failed to store display name", common.ErrAttr(err))
		}
	}

	logbook.Shifts = result.Shifts
	logbook.TotalShifts = len(result.Shifts)
	logbook.AddedShifts = len(added)
	logbook.UpdatedShifts = len(updated)
	logbook.RemovedShifts = len(removed)
	logbook.UpdatedAt = i.deps.Clock.Now()

	if err := logbook.Save(files.LogbookPath()); err != nil {
		slog.ErrorContext(ctx, "Failed to save logbook", common.ErrAttr(err))
	}
}

func (i *Instance) updateJournal(ctx context.Context, journal *Journal, reason ResumeReason,
	failure *scraper.Failure, passwordHash uint64) {
	var signIn *scraper.SignInFailure

	switch {
	case failure == nil || failure.Kind == scraper.FailureOK:
	case failure.Kind == scraper.FailureSignInFailed:
		signIn = &failure.SignIn
	default:
		// engine trouble says nothing about the credentials
		return
	}

	events := journal.UpdateSigninFailure(signIn != nil, reason, signIn, passwordHash)

	if err := journal.Save(i.files().JournalPath()); err != nil {
		slog.WarnContext(ctx, "Failed to save sign-in journal", common.ErrAttr(err))
	}

	for _, event := range events {
		i.notify(ctx, event)
	}
}

// finishRun is the post-run pipeline, executed by the actor loop.
func (i *Instance) finishRun(ctx context.Context, req StartRequest) (exit bool) {
	i.running = false
	i.cancelRun = nil

	code := scraper.FailureOK
	if req.Failure != nil {
		code = req.Failure.Kind
	}

	previousCode := i.lastExitCode
	i.lastExitCode = code

	slog.InfoContext(ctx, "Run finished", "exitCode", code.String(), "trigger", req.Trigger.String())

	if i.deps.Metrics != nil {
		i.deps.Metrics.ObserveRun(code.String())
	}

	files := i.files()
	if err := files.RemoveActiveMarker(); err != nil {
		slog.WarnContext(ctx, "Failed to remove active marker", common.ErrAttr(err))
	}

	i.persistTimestamps(ctx, req)

	if result := i.checkAndMaybeDelete(ctx); result == lifecycleTerminated {
		return true
	}

	if previousCode != code {
		i.publishExitCode(ctx, code)
	}

	i.persistLogbookExitCode(ctx, code)

	return i.singleRun
}

func (i *Instance) persistTimestamps(ctx context.Context, req StartRequest) {
	user, _ := i.Snapshot()
	now := i.deps.Clock.Now()

	update := db.TimestampUpdate{LastExecution: &now}

	incorrectCredentials := req.Failure != nil &&
		req.Failure.Kind == scraper.FailureSignInFailed &&
		req.Failure.SignIn == scraper.SignInIncorrectCredentials
	if !incorrectCredentials {
		update.LastSuccessfulSignIn = &now
	}

	if req.Trigger == TimerRequest {
		update.LastSystemExecution = &now
	}

	if err := i.deps.Store.UpdateUserTimestamps(ctx, user.ID, update); err != nil {
		slog.WarnContext(ctx, "Failed to persist timestamps", common.ErrAttr(err))
		return
	}

	// refresh the local snapshot so standing checks see the new timestamps
	i.mux.Lock()
	refreshed := *user
	refreshed.LastExecutionDate = update.LastExecution
	if update.LastSuccessfulSignIn != nil {
		refreshed.LastSuccessfulSignInDate = update.LastSuccessfulSignIn
	}
	if update.LastSystemExecution != nil {
		refreshed.LastSystemExecutionDate = update.LastSystemExecution
	}
	i.user = &refreshed
	i.mux.Unlock()
}

// publishExitCode patches the calendar status in place and pushes a
// heartbeat. TriesExceeded sends no heartbeat at all: the monitor goes
// stale and its own alert fires.
func (i *Instance) publishExitCode(ctx context.Context, code scraper.FailureKind) {
	user, _ := i.Snapshot()
	files := i.files()

	calendarPath := files.CalendarPath(user.CalendarFileName())
	if err := ical.PatchStatus(calendarPath, code.String()); err != nil {
		slog.WarnContext(ctx, "Failed to patch calendar status", common.ErrAttr(err))
	}

	if code == scraper.FailureTriesExceeded {
		return
	}

	up := code == scraper.FailureOK
	if err := i.deps.Monitors.Heartbeat(ctx, user.UserName, up, code.String()); err != nil {
		slog.WarnContext(ctx, "Failed to push heartbeat", common.ErrAttr(err))
	}
}

func (i *Instance) persistLogbookExitCode(ctx context.Context, code scraper.FailureKind) {
	files := i.files()

	logbook, err := LoadLogbook(files.LogbookPath())
	if err != nil {
		slog.WarnContext(ctx, "Failed to load logbook", common.ErrAttr(err))
		logbook = &Logbook{}
	}

	logbook.ExitCode = code

	if err := logbook.Save(files.LogbookPath()); err != nil {
		slog.WarnContext(ctx, "Failed to save logbook", common.ErrAttr(err))
	}
}

type lifecycleResult int

const (
	lifecycleContinue lifecycleResult = iota
	lifecycleTerminated
)

// checkAndMaybeDelete applies the account-lifecycle policy after a run.
func (i *Instance) checkAndMaybeDelete(ctx context.Context) lifecycleResult {
	user, _ := i.Snapshot()
	files := i.files()

	standing := ComputeStanding(user, i.deps.Clock.Now())
	slog.DebugContext(ctx, "Computed standing", "standing", standing.String())

	switch standing {
	case StandingSafe:
		if files.WarningSent() {
			if err := files.ClearWarningSent(); err != nil {
				slog.WarnContext(ctx, "Failed to clear warning marker", common.ErrAttr(err))
			}
		}

	case StandingAlmostDeleted:
		if !files.WarningSent() {
			i.notify(ctx, notify.DeletionWarning())
			if err := files.SetWarningSent(); err != nil {
				slog.WarnContext(ctx, "Failed to set warning marker", common.ErrAttr(err))
			}
		}

	case StandingMustDelete:
		i.deleteAccount(ctx, notify.DeleteOldAge)
		return lifecycleTerminated

	case StandingMustDeleteFresh:
		i.deleteAccount(ctx, notify.DeleteNewDead)
		return lifecycleTerminated
	}

	return lifecycleContinue
}

// deleteAccount removes the per-user directory, the database row and the
// uptime mirror entries, then says goodbye.
func (i *Instance) deleteAccount(ctx context.Context, reason notify.DeleteReason) {
	user, _ := i.Snapshot()
	files := i.files()
	recipient := i.recipient()

	slog.InfoContext(ctx, "Deleting account", "reason", reason.String())

	if err := files.RemoveAll(); err != nil {
		slog.WarnContext(ctx, "Failed to remove user directory", common.ErrAttr(err))
	}

	if err := i.deps.Store.DeleteUser(ctx, user.ID); err != nil {
		slog.WarnContext(ctx, "Failed to delete user row", common.ErrAttr(err))
	}

	if err := i.deps.Monitors.DeleteMonitor(ctx, user.UserName); err != nil {
		slog.WarnContext(ctx, "Failed to delete monitor", common.ErrAttr(err))
	}
	if err := i.deps.Monitors.DeleteNotification(ctx, user.UserName); err != nil {
		slog.WarnContext(ctx, "Failed to delete notification", common.ErrAttr(err))
	}

	if err := i.deps.Notifier.Send(ctx, recipient, notify.AccountDeleted(reason)); err != nil {
		slog.WarnContext(ctx, "Goodbye notification failed", common.ErrAttr(err))
	}
}

func (i *Instance) userData() *UserData {
	user, _ := i.Snapshot()

	return &UserData{
		UserName:                 user.UserName,
		EmployeeNumber:           user.EmployeeNumber,
		Email:                    common.MaskEmail(user.Email.Expose(), '*'),
		FileName:                 user.CalendarFileName(),
		CreationDate:             user.CreationDate,
		LastExecutionDate:        user.LastExecutionDate,
		LastSuccessfulSignInDate: user.LastSuccessfulSignInDate,
		ExecutionIntervalMinutes: user.Settings.ExecutionIntervalMinutes,
		ExecutionMinute:          user.Settings.ExecutionMinute,
		AutoDeleteAccount:        user.Settings.AutoDeleteAccount,
	}
}

// UserData is the redacted snapshot returned by the API; secrets are
// masked, never exposed.
type UserData struct {
	UserName                 string     `json:"userName"`
	EmployeeNumber           string     `json:"employeeNumber"`
	Email                    string     `json:"email"`
	FileName                 string     `json:"fileName"`
	CreationDate             time.Time  `json:"creationDate"`
	LastExecutionDate        *time.Time `json:"lastExecutionDate,omitempty"`
	LastSuccessfulSignInDate *time.Time `json:"lastSuccessfulSignInDate,omitempty"`
	ExecutionIntervalMinutes int        `json:"executionIntervalMinutes"`
	ExecutionMinute          int        `json:"executionMinute"`
	AutoDeleteAccount        bool       `json:"autoDeleteAccount"`
}

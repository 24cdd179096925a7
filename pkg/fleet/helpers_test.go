package fleet

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shiftwatch/shiftwatch/pkg/common"
	"github.com/shiftwatch/shiftwatch/pkg/db"
	"github.com/shiftwatch/shiftwatch/pkg/monitor"
	"github.com/shiftwatch/shiftwatch/pkg/notify"
	"github.com/shiftwatch/shiftwatch/pkg/scraper"
)

type fakeStore struct {
	mux     sync.Mutex
	users   map[string]*db.User
	props   *db.GeneralProperties
	deleted []int32
}

var _ Store = (*fakeStore)(nil)

func newFakeStore(props *db.GeneralProperties) *fakeStore {
	return &fakeStore{users: make(map[string]*db.User), props: props}
}

func (fs *fakeStore) addUser(user *db.User) {
	fs.mux.Lock()
	fs.users[user.UserName] = user
	fs.mux.Unlock()
}

func (fs *fakeStore) removeUser(name string) {
	fs.mux.Lock()
	delete(fs.users, name)
	fs.mux.Unlock()
}

func (fs *fakeStore) ListUserNames(ctx context.Context) ([]string, error) {
	fs.mux.Lock()
	defer fs.mux.Unlock()

	names := make([]string, 0, len(fs.users))
	for name := range fs.users {
		names = append(names, name)
	}

	return names, nil
}

func (fs *fakeStore) GetUserByName(ctx context.Context, name string) (*db.User, error) {
	fs.mux.Lock()
	defer fs.mux.Unlock()

	user, ok := fs.users[name]
	if !ok {
		return nil, db.ErrRecordNotFound
	}

	clone := *user
	return &clone, nil
}

func (fs *fakeStore) EffectiveProperties(ctx context.Context, user *db.User) (*db.GeneralProperties, error) {
	return fs.props, nil
}

func (fs *fakeStore) DefaultProperties(ctx context.Context) (*db.GeneralProperties, error) {
	return fs.props, nil
}

func (fs *fakeStore) UpdateUserTimestamps(ctx context.Context, id int32, update db.TimestampUpdate) error {
	fs.mux.Lock()
	defer fs.mux.Unlock()

	for _, user := range fs.users {
		if user.ID != id {
			continue
		}
		if update.LastExecution != nil {
			user.LastExecutionDate = update.LastExecution
		}
		if update.LastSuccessfulSignIn != nil {
			user.LastSuccessfulSignInDate = update.LastSuccessfulSignIn
		}
		if update.LastSystemExecution != nil {
			user.LastSystemExecutionDate = update.LastSystemExecution
		}
		return nil
	}

	return db.ErrRecordNotFound
}

func (fs *fakeStore) UpdateDisplayName(ctx context.Context, id int32, displayName db.Secret) error {
	fs.mux.Lock()
	defer fs.mux.Unlock()

	for _, user := range fs.users {
		if user.ID == id {
			user.DisplayName = displayName
			return nil
		}
	}

	return db.ErrRecordNotFound
}

func (fs *fakeStore) DeleteUser(ctx context.Context, id int32) error {
	fs.mux.Lock()
	defer fs.mux.Unlock()

	fs.deleted = append(fs.deleted, id)
	for name, user := range fs.users {
		if user.ID == id {
			delete(fs.users, name)
			return nil
		}
	}

	return nil
}

func (fs *fakeStore) deletedCount() int {
	fs.mux.Lock()
	defer fs.mux.Unlock()
	return len(fs.deleted)
}

type fakeScraper struct {
	mux    sync.Mutex
	calls  int
	result *scraper.Result
	err    error
	// when set, Run blocks until the channel is closed
	block chan struct{}
}

var _ scraper.Scraper = (*fakeScraper)(nil)

func (fs *fakeScraper) Run(ctx context.Context, creds scraper.Credentials) (*scraper.Result, error) {
	fs.mux.Lock()
	fs.calls++
	result, err, block := fs.result, fs.err, fs.block
	fs.mux.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, scraper.NewFailure(scraper.FailureConnectError)
		}
	}

	if err != nil {
		return nil, err
	}

	return result, nil
}

func (fs *fakeScraper) callCount() int {
	fs.mux.Lock()
	defer fs.mux.Unlock()
	return fs.calls
}

func (fs *fakeScraper) set(result *scraper.Result, err error) {
	fs.mux.Lock()
	fs.result, fs.err = result, err
	fs.mux.Unlock()
}

type recordingNotifier struct {
	mux    sync.Mutex
	events []notify.Event
}

var _ notify.Notifier = (*recordingNotifier)(nil)

func (rn *recordingNotifier) Send(ctx context.Context, recipient *notify.Recipient, event notify.Event) error {
	rn.mux.Lock()
	rn.events = append(rn.events, event)
	rn.mux.Unlock()
	return nil
}

func (rn *recordingNotifier) count(kind notify.EventKind) int {
	rn.mux.Lock()
	defer rn.mux.Unlock()

	total := 0
	for _, event := range rn.events {
		if event.Kind == kind {
			total++
		}
	}

	return total
}

func testProperties(fileTarget string) *db.GeneralProperties {
	return &db.GeneralProperties{
		ID:                           1,
		FileTarget:                   fileTarget,
		ICalDomain:                   "cal.example.com",
		SignupURL:                    "https://shiftwatch.example.com/signup",
		PasswordResetURL:             "https://shiftwatch.example.com/reset",
		SupportEmail:                 "support@example.com",
		ExpectedExecutionTimeSeconds: 120,
		ExecutionRetryCount:          2,
		SigninFailExecutionReduce:    4,
		SigninFailMailReduce:         8,
		Kuma:                         db.KumaProperties{GroupName: "shiftwatch"},
	}
}

var testUserID int32

func testUser(name string, creation time.Time) *db.User {
	testUserID++

	return &db.User{
		ID:             testUserID,
		UserName:       name,
		EmployeeNumber: fmt.Sprintf("E%04d", testUserID),
		Password:       db.NewSecret("hunter2"),
		Email:          db.NewSecret(name + "@example.com"),
		CreationDate:   creation,
		Settings: db.UserSettings{
			ExecutionIntervalMinutes: 60,
			ExecutionMinute:          30,
			MailNewShifts:            true,
			MailUpdatedShifts:        true,
			MailRemovedShifts:        true,
		},
	}
}

type testEnv struct {
	deps     Deps
	store    *fakeStore
	scraper  *fakeScraper
	notifier *recordingNotifier
	monitors *monitor.RecordingClient
	clock    *common.FakeClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := newFakeStore(testProperties(t.TempDir()))
	scr := &fakeScraper{}
	notifier := &recordingNotifier{}
	monitors := monitor.NewRecordingClient()
	clock := common.NewFakeClock(time.Date(2026, time.March, 10, 9, 15, 0, 0, time.UTC))

	return &testEnv{
		deps: Deps{
			Store:    store,
			Scraper:  scr,
			Notifier: notifier,
			Monitors: monitors,
			Clock:    clock,
		},
		store:    store,
		scraper:  scr,
		notifier: notifier,
		monitors: monitors,
		clock:    clock,
	}
}

// startInstance runs the actor until the test ends; done closes when the
// actor loop returns on its own or on cleanup.
func (te *testEnv) startInstance(t *testing.T, user *db.User) (*Instance, <-chan struct{}) {
	t.Helper()

	te.store.addUser(user)

	snapshot, err := te.store.GetUserByName(t.Context(), user.UserName)
	if err != nil {
		t.Fatalf("failed to load user: %v", err)
	}

	instance := NewInstance(snapshot, te.store.props, te.deps)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		instance.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
	})

	return instance, done
}

// request retries while the inbox is occupied by a pending completion event.
func request(t *testing.T, instance *Instance, req StartRequest) RequestResponse {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := instance.Request(t.Context(), req, time.Second)
		if err == nil {
			return resp
		}
		if time.Now().After(deadline) {
			t.Fatalf("request %s never answered: %v", req.Kind.String(), err)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// waitIdle polls until the in-flight run has finished.
func waitIdle(t *testing.T, instance *Instance) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for {
		resp := request(t, instance, StartRequest{Kind: IsActiveRequest})
		if !resp.Active {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("instance never became idle")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

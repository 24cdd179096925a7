package monitor

import (
	"context"
	"sync"
)

// RecordingClient is an in-memory Client used in tests and when no monitor
// server is configured. It keeps enough state to assert the mirror property.
type RecordingClient struct {
	mux           sync.Mutex
	nextID        int64
	Groups        map[string]int64
	Monitors      map[string]int64
	Notifications map[string]int64
	Heartbeats    []string
	CreateCalls   int
	DeleteCalls   int
}

var _ Client = (*RecordingClient)(nil)

func NewRecordingClient() *RecordingClient {
	return &RecordingClient{
		nextID:        1,
		Groups:        make(map[string]int64),
		Monitors:      make(map[string]int64),
		Notifications: make(map[string]int64),
	}
}

func (rc *RecordingClient) EnsureGroup(ctx context.Context, name string) (int64, error) {
	rc.mux.Lock()
	defer rc.mux.Unlock()

	if id, ok := rc.Groups[name]; ok {
		return id, nil
	}

	rc.CreateCalls++
	rc.nextID++
	rc.Groups[name] = rc.nextID
	return rc.nextID, nil
}

func (rc *RecordingClient) EnsureMonitor(ctx context.Context, userName string, params MonitorParams) (int64, error) {
	rc.mux.Lock()
	defer rc.mux.Unlock()

	if id, ok := rc.Monitors[userName]; ok {
		return id, nil
	}

	rc.CreateCalls++
	rc.nextID++
	rc.Monitors[userName] = rc.nextID
	return rc.nextID, nil
}

func (rc *RecordingClient) EnsureNotification(ctx context.Context, userName, address string, templates NotificationTemplates) (int64, error) {
	rc.mux.Lock()
	defer rc.mux.Unlock()

	name := NotificationName(userName)
	if id, ok := rc.Notifications[name]; ok {
		return id, nil
	}

	rc.CreateCalls++
	rc.nextID++
	rc.Notifications[name] = rc.nextID
	return rc.nextID, nil
}

func (rc *RecordingClient) DeleteMonitor(ctx context.Context, userName string) error {
	rc.mux.Lock()
	defer rc.mux.Unlock()

	if _, ok := rc.Monitors[userName]; ok {
		rc.DeleteCalls++
		delete(rc.Monitors, userName)
	}

	return nil
}

func (rc *RecordingClient) DeleteNotification(ctx context.Context, userName string) error {
	rc.mux.Lock()
	defer rc.mux.Unlock()

	name := NotificationName(userName)
	if _, ok := rc.Notifications[name]; ok {
		rc.DeleteCalls++
		delete(rc.Notifications, name)
	}

	return nil
}

func (rc *RecordingClient) Heartbeat(ctx context.Context, userName string, up bool, message string) error {
	rc.mux.Lock()
	defer rc.mux.Unlock()

	rc.Heartbeats = append(rc.Heartbeats, userName)
	return nil
}

func (rc *RecordingClient) HasMonitor(userName string) bool {
	rc.mux.Lock()
	defer rc.mux.Unlock()

	_, ok := rc.Monitors[userName]
	return ok
}

func (rc *RecordingClient) HasNotification(userName string) bool {
	rc.mux.Lock()
	defer rc.mux.Unlock()

	_, ok := rc.Notifications[NotificationName(userName)]
	return ok
}

package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jpillora/backoff"
	"github.com/shiftwatch/shiftwatch/pkg/common"
	"github.com/shiftwatch/shiftwatch/pkg/db"
)

const (
	maxAttempts    = 3
	requestTimeout = 15 * time.Second

	monitorTypePush  = "push"
	monitorTypeGroup = "group"
)

var (
	ErrMonitorNotFound = errors.New("monitor not found")
	errServerFailure   = errors.New("monitor server failure")
)

// NotificationTemplates are the per-user SMTP notification bodies pushed to
// the monitor service so that its own alerts match ours.
type NotificationTemplates struct {
	SubjectUp   string
	SubjectDown string
	BodyUp      string
	BodyDown    string
}

type MonitorParams struct {
	IntervalSeconds int
	MaxRetries      int
	NotificationID  int64
	GroupID         int64
}

// Interval computes the push-monitor interval for a user: the scrape cadence
// plus the expected run duration, so the monitor alerts only on a truly
// missed run.
func Interval(userIntervalMinutes, expectedExecutionTimeSeconds int) int {
	return userIntervalMinutes*60 + expectedExecutionTimeSeconds
}

func NotificationName(userName string) string {
	return userName + "_mail"
}

// Client mirrors the instance fleet into an external uptime service. All
// Ensure/Delete operations are idempotent: they look up by name first and
// succeed whenever the desired end state already holds.
type Client interface {
	EnsureGroup(ctx context.Context, name string) (int64, error)
	EnsureNotification(ctx context.Context, userName, address string, templates NotificationTemplates) (int64, error)
	EnsureMonitor(ctx context.Context, userName string, params MonitorParams) (int64, error)
	DeleteMonitor(ctx context.Context, userName string) error
	DeleteNotification(ctx context.Context, userName string) error
	Heartbeat(ctx context.Context, userName string, up bool, message string) error
}

type kumaClient struct {
	baseURL  string
	username string
	password db.Secret
	client   *http.Client
}

var _ Client = (*kumaClient)(nil)

func NewKumaClient(props *db.KumaProperties) *kumaClient {
	return &kumaClient{
		baseURL:  strings.TrimRight(props.ServerURL, "/"),
		username: props.Username,
		password: props.Password,
		client:   &http.Client{Timeout: requestTimeout},
	}
}

type monitorRecord struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	PushToken string `json:"pushToken,omitempty"`
}

type notificationRecord struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func (kc *kumaClient) doJSON(ctx context.Context, method, path string, body, out any) error {
	b := &backoff.Backoff{
		Min:    200 * time.Millisecond,
		Max:    2 * time.Second,
		Jitter: true,
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(b.Duration()):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = kc.doJSONOnce(ctx, method, path, body, out)
		if lastErr == nil || !errors.Is(lastErr, errServerFailure) {
			return lastErr
		}

		slog.WarnContext(ctx, "Monitor server request failed, retrying",
			"path", path, "attempt", attempt, common.ErrAttr(lastErr))
	}

	return lastErr
}

func (kc *kumaClient) doJSONOnce(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, kc.baseURL+path, reader)
	if err != nil {
		return err
	}

	req.SetBasicAuth(kc.username, kc.password.Expose())
	if body != nil {
		req.Header.Set(common.HeaderContentType, common.ContentTypeJSON)
	}

	resp, err := kc.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", errServerFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: status %v", errServerFailure, resp.StatusCode)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("monitor server rejected %v %v: status %v", method, path, resp.StatusCode)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}

	return nil
}

func (kc *kumaClient) findMonitor(ctx context.Context, name, monitorType string) (*monitorRecord, error) {
	var monitors []monitorRecord
	if err := kc.doJSON(ctx, http.MethodGet, "/api/monitors", nil, &monitors); err != nil {
		return nil, err
	}

	for i := range monitors {
		if monitors[i].Name == name && monitors[i].Type == monitorType {
			return &monitors[i], nil
		}
	}

	return nil, ErrMonitorNotFound
}

func (kc *kumaClient) EnsureGroup(ctx context.Context, name string) (int64, error) {
	if existing, err := kc.findMonitor(ctx, name, monitorTypeGroup); err == nil {
		return existing.ID, nil
	} else if err != ErrMonitorNotFound {
		return 0, err
	}

	var created monitorRecord
	err := kc.doJSON(ctx, http.MethodPost, "/api/monitors", map[string]any{
		"name": name,
		"type": monitorTypeGroup,
	}, &created)
	if err != nil {
		return 0, err
	}

	slog.InfoContext(ctx, "Created monitor group", "name", name, "monitorID", created.ID)

	return created.ID, nil
}

func (kc *kumaClient) EnsureMonitor(ctx context.Context, userName string, params MonitorParams) (int64, error) {
	if existing, err := kc.findMonitor(ctx, userName, monitorTypePush); err == nil {
		return existing.ID, nil
	} else if err != ErrMonitorNotFound {
		return 0, err
	}

	var created monitorRecord
	err := kc.doJSON(ctx, http.MethodPost, "/api/monitors", map[string]any{
		"name":           userName,
		"type":           monitorTypePush,
		"interval":       params.IntervalSeconds,
		"maxretries":     params.MaxRetries,
		"parent":         params.GroupID,
		"notificationID": params.NotificationID,
	}, &created)
	if err != nil {
		return 0, err
	}

	slog.InfoContext(ctx, "Created push monitor", "monitorID", created.ID)

	return created.ID, nil
}

func (kc *kumaClient) findNotification(ctx context.Context, name string) (*notificationRecord, error) {
	var notifications []notificationRecord
	if err := kc.doJSON(ctx, http.MethodGet, "/api/notifications", nil, &notifications); err != nil {
		return nil, err
	}

	for i := range notifications {
		if notifications[i].Name == name {
			return &notifications[i], nil
		}
	}

	return nil, ErrMonitorNotFound
}

func (kc *kumaClient) EnsureNotification(ctx context.Context, userName, address string, templates NotificationTemplates) (int64, error) {
	name := NotificationName(userName)

	if existing, err := kc.findNotification(ctx, name); err == nil {
		return existing.ID, nil
	} else if err != ErrMonitorNotFound {
		return 0, err
	}

	var created notificationRecord
	err := kc.doJSON(ctx, http.MethodPost, "/api/notifications", map[string]any{
		"name":        name,
		"address":     address,
		"subjectUp":   templates.SubjectUp,
		"subjectDown": templates.SubjectDown,
		"bodyUp":      templates.BodyUp,
		"bodyDown":    templates.BodyDown,
	}, &created)
	if err != nil {
		return 0, err
	}

	slog.InfoContext(ctx, "Created monitor notification", "name", name, "notificationID", created.ID)

	return created.ID, nil
}

func (kc *kumaClient) DeleteMonitor(ctx context.Context, userName string) error {
	existing, err := kc.findMonitor(ctx, userName, monitorTypePush)
	if err == ErrMonitorNotFound {
		return nil
	} else if err != nil {
		return err
	}

	if err := kc.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/api/monitors/%d", existing.ID), nil, nil); err != nil {
		return err
	}

	slog.InfoContext(ctx, "Deleted push monitor", "monitorID", existing.ID)

	return nil
}

func (kc *kumaClient) DeleteNotification(ctx context.Context, userName string) error {
	existing, err := kc.findNotification(ctx, NotificationName(userName))
	if err == ErrMonitorNotFound {
		return nil
	} else if err != nil {
		return err
	}

	if err := kc.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/api/notifications/%d", existing.ID), nil, nil); err != nil {
		return err
	}

	slog.InfoContext(ctx, "Deleted monitor notification", "notificationID", existing.ID)

	return nil
}

func (kc *kumaClient) Heartbeat(ctx context.Context, userName string, up bool, message string) error {
	existing, err := kc.findMonitor(ctx, userName, monitorTypePush)
	if err != nil {
		return err
	}

	if len(existing.PushToken) == 0 {
		return fmt.Errorf("monitor %v has no push token", existing.ID)
	}

	status := "down"
	if up {
		status = "up"
	}

	path := fmt.Sprintf("/api/push/%s?status=%s&msg=%s",
		url.PathEscape(existing.PushToken), status, url.QueryEscape(message))

	return kc.doJSON(ctx, http.MethodGet, path, nil, nil)
}

// Package backend calls the tracking backend's HTTP API: session start and
// stop, the authoritative active-session list, recent alerts and alert
// acknowledgement.
package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/GABRIELS562/RFID-Evidence-Tracking-System-sub001/common/config"
	"github.com/GABRIELS562/RFID-Evidence-Tracking-System-sub001/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ErrBackend is wrapped by every non-2xx response error.
var ErrBackend = errors.New("backend request failed")

// StatusError a non-2xx response from the backend
type StatusError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: backend returned %d: %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: backend returned %d", e.Op, e.StatusCode)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrBackend
}

// errorBody the backend's error response
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (b *errorBody) text() string {
	if b.Message != "" {
		return b.Message
	}
	return b.Error
}

type startRequest struct {
	TagID string `json:"tagId"`
}

// Client tracking backend API client
type Client struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewClient creates a backend client. token is sent as a bearer token on
// every request.
func NewClient(cfg *config.BackendConfig, token string, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if token != "" {
		client.SetAuthToken(token)
	}

	return &Client{
		httpClient: client,
		logger:     logger,
	}
}

// StartSession asks the backend to start tracking tagID and returns the
// created session. A 409 means the backend already tracks the tag.
func (c *Client) StartSession(ctx context.Context, tagID string) (models.TrackingSession, error) {
	var session models.TrackingSession
	var apiErr errorBody
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(startRequest{TagID: tagID}).
		SetResult(&session).
		SetError(&apiErr).
		Post("/api/tracking/sessions")
	if err != nil {
		return models.TrackingSession{}, fmt.Errorf("failed to start session for tag %s: %w", tagID, err)
	}
	if resp.StatusCode() == http.StatusConflict {
		return models.TrackingSession{}, &models.DuplicateSessionError{TagID: tagID}
	}
	if resp.IsError() {
		return models.TrackingSession{}, c.statusError("start session", resp, &apiErr)
	}
	if session.SessionID == "" {
		return models.TrackingSession{}, fmt.Errorf("start session for tag %s: response has no sessionId", tagID)
	}
	if session.TagID == "" {
		session.TagID = tagID
	}

	c.logger.Info("Tracking session started",
		zap.String("session_id", session.SessionID),
		zap.String("tag_id", session.TagID),
	)
	return session, nil
}

// StopSession ends a session. A 404 is reported as models.ErrUnknownEntity.
func (c *Client) StopSession(ctx context.Context, sessionID string) error {
	var apiErr errorBody
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetError(&apiErr).
		SetPathParam("id", sessionID).
		Delete("/api/tracking/sessions/{id}")
	if err != nil {
		return fmt.Errorf("failed to stop session %s: %w", sessionID, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return fmt.Errorf("stop session %s: %w", sessionID, models.ErrUnknownEntity)
	}
	if resp.IsError() {
		return c.statusError("stop session", resp, &apiErr)
	}
	return nil
}

// FetchActiveSessions returns the backend's authoritative list of active
// sessions.
func (c *Client) FetchActiveSessions(ctx context.Context) ([]models.TrackingSession, error) {
	var sessions []models.TrackingSession
	var apiErr errorBody
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetResult(&sessions).
		SetError(&apiErr).
		Get("/api/tracking/sessions/active")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch active sessions: %w", err)
	}
	if resp.IsError() {
		return nil, c.statusError("fetch active sessions", resp, &apiErr)
	}
	if sessions == nil {
		sessions = []models.TrackingSession{}
	}
	return sessions, nil
}

// FetchRecentAlerts returns up to limit recent alerts, most recent first.
func (c *Client) FetchRecentAlerts(ctx context.Context, limit int) ([]models.Alert, error) {
	var alerts []models.Alert
	var apiErr errorBody
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParam("limit", strconv.Itoa(limit)).
		SetResult(&alerts).
		SetError(&apiErr).
		Get("/api/alerts/recent")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch recent alerts: %w", err)
	}
	if resp.IsError() {
		return nil, c.statusError("fetch recent alerts", resp, &apiErr)
	}

	// drop entries the dispatcher could not classify
	valid := alerts[:0]
	for _, a := range alerts {
		sev, ok := models.ParseSeverity(string(a.Severity))
		if !ok {
			c.logger.Warn("Skipping alert with unknown severity",
				zap.String("alert_id", a.ID),
				zap.String("severity", string(a.Severity)),
			)
			continue
		}
		a.Severity = sev
		valid = append(valid, a)
	}
	return valid, nil
}

// AcknowledgeAlert records the acknowledgement on the backend.
func (c *Client) AcknowledgeAlert(ctx context.Context, alertID string) error {
	var apiErr errorBody
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetError(&apiErr).
		SetPathParam("id", alertID).
		Post("/api/alerts/{id}/acknowledge")
	if err != nil {
		return fmt.Errorf("failed to acknowledge alert %s: %w", alertID, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return fmt.Errorf("acknowledge alert %s: %w", alertID, models.ErrUnknownEntity)
	}
	if resp.IsError() {
		return c.statusError("acknowledge alert", resp, &apiErr)
	}
	return nil
}

func (c *Client) statusError(op string, resp *resty.Response, body *errorBody) error {
	err := &StatusError{Op: op, StatusCode: resp.StatusCode(), Message: body.text()}
	c.logger.Error("Backend API returned error",
		zap.String("op", op),
		zap.Int("status_code", resp.StatusCode()),
		zap.String("msg", body.text()),
	)
	return err
}

// ABOUTME: In-memory stub implementation of the Client interface
// ABOUTME: Used as the default client in serve mode and as a test double

package zalo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StubClient is an in-memory Client implementation with deterministic
// state transitions. It stands in for the real platform connection until
// one is wired, and doubles as a test fake: SendFunc and ImportErr allow
// tests to script dispatch results and import failures.
type StubClient struct {
	mu     sync.RWMutex
	status Status
	logger *slog.Logger

	// SendFunc, when set, overrides the default send behavior.
	SendFunc func(ctx context.Context, payload MessagePayload, threadID string, threadType ThreadType) (*SendResult, error)

	// ImportErr, when set, is returned by ImportSession after the state
	// transition to logging_in.
	ImportErr error
}

// NewStubClient creates a logged-out stub client
func NewStubClient(logger *slog.Logger) *StubClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &StubClient{
		status: Status{State: StateLoggedOut},
		logger: logger.With("component", "zalo"),
	}
}

// GetStatus returns the current login status
func (c *StubClient) GetStatus() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// SetStatus replaces the login status. Used by tests and by the session
// import flow.
func (c *StubClient) SetStatus(status Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = status
}

// SendMessage dispatches a message. The default behavior requires a
// logged-in state and echoes a generated platform message identifier.
func (c *StubClient) SendMessage(ctx context.Context, payload MessagePayload, threadID string, threadType ThreadType) (*SendResult, error) {
	if c.SendFunc != nil {
		return c.SendFunc(ctx, payload, threadID, threadType)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.status.State != StateLoggedIn {
		return nil, errors.New("not logged in")
	}

	msgID := fmt.Sprintf("platform_%d", time.Now().UnixNano())
	raw, _ := json.Marshal(map[string]any{
		"message": map[string]any{"msgId": msgID},
	})

	c.logger.Debug("stub dispatch", "thread_id", threadID, "thread_type", threadType.String())

	return &SendResult{MessageID: msgID, Raw: raw}, nil
}

// LoginInitiate transitions to logging_in and returns a QR payload
func (c *StubClient) LoginInitiate(ctx context.Context) (*Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status.State == StateLoggedIn {
		status := c.status
		return &status, nil
	}

	c.status = Status{
		State:  StateLoggingIn,
		QRCode: "zalo-qr-" + uuid.New().String(),
	}
	c.logger.Info("login initiated")

	status := c.status
	return &status, nil
}

// ImportSession transitions to logging_in, then logged_in (or back to
// logged_out when scripted to fail).
func (c *StubClient) ImportSession(ctx context.Context, imei, userAgent string, cookies []json.RawMessage) error {
	c.mu.Lock()
	c.status = Status{State: StateLoggingIn}
	c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		c.SetStatus(Status{State: StateLoggedOut})
		return err
	}

	if c.ImportErr != nil {
		c.SetStatus(Status{State: StateLoggedOut})
		return c.ImportErr
	}

	userID := "stub-" + imei
	c.SetStatus(Status{
		State:     StateLoggedIn,
		UserID:    userID,
		Listening: true,
	})
	c.logger.Info("session imported", "user_id", userID, "cookies", len(cookies))
	return nil
}

// Logout transitions to logged_out
func (c *StubClient) Logout(ctx context.Context) error {
	c.SetStatus(Status{State: StateLoggedOut})
	c.logger.Info("logged out")
	return nil
}

// Ensure StubClient implements Client
var _ Client = (*StubClient)(nil)

// ABOUTME: Messaging client adapter contract for the Zalo platform
// ABOUTME: Defines Status, ThreadType, SendResult and the Client interface

package zalo

import (
	"context"
	"encoding/json"
	"fmt"
)

// State values for the login lifecycle
const (
	StateLoggedOut = "logged_out"
	StateLoggingIn = "logging_in"
	StateLoggedIn  = "logged_in"
)

// ThreadType identifies the kind of thread a message is addressed to
type ThreadType int

const (
	// ThreadUser addresses a direct (1:1) chat
	ThreadUser ThreadType = 0
	// ThreadGroup addresses a group chat
	ThreadGroup ThreadType = 1
)

// String returns the thread type name
func (t ThreadType) String() string {
	if t == ThreadGroup {
		return "group"
	}
	return "user"
}

// CodeInvalidRecipient is the platform error code reported when the
// recipient does not exist or has blocked the sender.
const CodeInvalidRecipient = 114

// APIError is a platform-reported failure with its numeric error code
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("zalo api error %d: %s", e.Code, e.Message)
}

// Status is the current login status projection
type Status struct {
	State     string `json:"status"`
	UserID    string `json:"userId"`
	QRCode    string `json:"qrCode"`
	Listening bool   `json:"isListening"`
}

// MessagePayload is the outbound message payload
type MessagePayload struct {
	Msg string `json:"msg"`
}

// SendResult is the platform's response to a dispatched message.
// MessageID may be empty when the platform does not echo an identifier;
// Raw carries the platform-native response for attachment recovery.
type SendResult struct {
	MessageID string
	Raw       json.RawMessage
}

// Client is the messaging platform adapter. Implementations wrap the
// actual Zalo connection; the gateway consumes this capability and never
// manages the login protocol itself.
type Client interface {
	// GetStatus returns the current login status.
	GetStatus() Status

	// SendMessage dispatches a message to the given thread. A platform
	// rejection surfaces as *APIError.
	SendMessage(ctx context.Context, payload MessagePayload, threadID string, threadType ThreadType) (*SendResult, error)

	// LoginInitiate starts a QR code login and returns the status
	// carrying the QR payload.
	LoginInitiate(ctx context.Context) (*Status, error)

	// ImportSession imports a cookie-based session. Slow: callers are
	// expected to run this off the request path.
	ImportSession(ctx context.Context, imei, userAgent string, cookies []json.RawMessage) error

	// Logout terminates the current session.
	Logout(ctx context.Context) error
}

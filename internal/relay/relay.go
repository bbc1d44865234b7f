// Package relay defines the outbound message-sending capability as the
// engine consumes it. The concrete transport lives outside the engine; the
// engine only needs Verify as a connectivity probe and Send as a
// best-effort delivery attempt.
package relay

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnavailable signals that the relay is unreachable as a whole, as
// opposed to rejecting one recipient. The batch processor treats it as an
// unrecoverable fault for the current campaign run.
var ErrUnavailable = errors.New("relay unavailable")

// Message is one personalized outbound message.
type Message struct {
	From     string
	FromName string
	To       string
	Subject  string
	HTML     string
	Text     string
	Headers  map[string]string
}

// Result identifies an accepted message on the relay side.
type Result struct {
	ID string
}

// SendError is a per-recipient delivery rejection. Code carries the
// SMTP-style reply code when the relay provided one, 0 otherwise.
type SendError struct {
	Code int
	Text string
}

func (e *SendError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%d %s", e.Code, e.Text)
	}
	return e.Text
}

type Relay interface {
	// Verify probes connectivity and credentials without sending.
	Verify(ctx context.Context) error

	// Send attempts delivery of one message.
	Send(ctx context.Context, msg *Message) (*Result, error)
}

// Credentials configures a concrete relay. The engine never persists these
// beyond a campaign's lifetime.
type Credentials struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	FromEmail string `json:"from_email"`
	FromName  string `json:"from_name"`
}

// Factory builds a relay from campaign credentials.
type Factory func(creds Credentials) Relay

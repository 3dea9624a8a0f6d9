package bayeux

import (
	"errors"
	"fmt"
)

// Sentinel errors for fixed protocol-level failures.
var (
	ErrClientNotConnected = errors.New("bayeux: client is not connected")
	ErrTooManyMessages    = errors.New("bayeux: handshake response contained too many messages")
	ErrBadChannel         = errors.New("bayeux: response did not contain the expected channel")
	ErrFailedToConnect    = errors.New("bayeux: /meta/connect reported failure")
	ErrAborted            = errors.New("bayeux: transport aborted")
)

// IllegalStateError is returned by any operation performed against a
// released Channel, or against a session that can no longer accept
// it (original spec §3, §4.5).
type IllegalStateError struct {
	Op      string
	Channel Channel
}

func (e IllegalStateError) Error() string {
	return fmt.Sprintf("bayeux: %s: channel %q is released", e.Op, e.Channel)
}

// HandshakeFailedError wraps any error encountered performing the
// /meta/handshake exchange.
type HandshakeFailedError struct{ Err error }

func (e HandshakeFailedError) Error() string { return "bayeux: handshake failed: " + e.Err.Error() }
func (e HandshakeFailedError) Unwrap() error { return e.Err }

func newHandshakeError(reason string) error {
	if reason == "" {
		return HandshakeFailedError{errors.New("unknown handshake error")}
	}
	return HandshakeFailedError{errors.New(reason)}
}

// ConnectionFailedError wraps any error encountered performing a
// /meta/connect exchange.
type ConnectionFailedError struct{ Err error }

func (e ConnectionFailedError) Error() string { return "bayeux: connect failed: " + e.Err.Error() }
func (e ConnectionFailedError) Unwrap() error { return e.Err }

// SubscriptionFailedError wraps a failed /meta/subscribe exchange,
// retaining the channels that were requested.
type SubscriptionFailedError struct {
	Channels []Channel
	Err      error
}

func (e SubscriptionFailedError) Error() string {
	return fmt.Sprintf("bayeux: subscribe %v failed: %s", e.Channels, e.Err)
}
func (e SubscriptionFailedError) Unwrap() error { return e.Err }

func newSubscribeError(reason string) error {
	if reason == "" {
		return errors.New("unknown subscribe error")
	}
	return errors.New(reason)
}

// UnsubscribeFailedError wraps a failed /meta/unsubscribe exchange.
type UnsubscribeFailedError struct {
	Channels []Channel
	Err      error
}

func (e UnsubscribeFailedError) Error() string {
	return fmt.Sprintf("bayeux: unsubscribe %v failed: %s", e.Channels, e.Err)
}
func (e UnsubscribeFailedError) Unwrap() error { return e.Err }

func newUnsubscribeError(reason string) error {
	if reason == "" {
		return errors.New("unknown unsubscribe error")
	}
	return errors.New(reason)
}

// DisconnectFailedError wraps a failed /meta/disconnect exchange.
type DisconnectFailedError struct{ Err error }

func (e DisconnectFailedError) Error() string {
	if e.Err == nil {
		return "bayeux: disconnect failed"
	}
	return "bayeux: disconnect failed: " + e.Err.Error()
}
func (e DisconnectFailedError) Unwrap() error { return e.Err }

// PublishFailedError wraps a failed publish exchange.
type PublishFailedError struct {
	Channel Channel
	Err     error
}

func (e PublishFailedError) Error() string {
	return fmt.Sprintf("bayeux: publish to %q failed: %s", e.Channel, e.Err)
}
func (e PublishFailedError) Unwrap() error { return e.Err }

// BadResponseError records a non-200 HTTP response from the
// long-polling transport.
type BadResponseError struct {
	StatusCode int
	Status     string
	Body       []byte
}

func (e BadResponseError) Error() string {
	return fmt.Sprintf("bayeux: bad response: %s", e.Status)
}

// AlreadyRegisteredError is returned by AddExtension when an extension
// is already registered under the same name.
type AlreadyRegisteredError struct{ Name string }

func (e AlreadyRegisteredError) Error() string {
	return fmt.Sprintf("bayeux: extension %q is already registered", e.Name)
}

// TimeoutError is delivered to a pending exchange's listener when its
// expiry timer fires before a reply arrives.
type TimeoutError struct{ Reason string }

func (e TimeoutError) Error() string { return "bayeux: timeout: " + e.Reason }

// UpgradeRejectedError records a WebSocket upgrade that the server
// refused, per original spec §4.3.
type UpgradeRejectedError struct {
	HTTPStatus int
	CloseCode  int
}

func (e UpgradeRejectedError) Error() string {
	return fmt.Sprintf("bayeux: websocket upgrade rejected: http status %d, close code %d", e.HTTPStatus, e.CloseCode)
}

package bayeux

import (
	"context"
	"time"
)

// transportListener receives the outcomes of a batch send: the
// correlated reply/failure for each message the session cares about,
// plus any server-pushed (non-reply) messages. onSending fires before
// the batch is written to the wire, satisfying the ordering guarantee
// in the original spec §5 ("onSending strictly precedes the
// corresponding reply or timeout notification").
type transportListener interface {
	onSending(batch []Message)
	onMessages(batch []Message)
	onReply(msg Message)
	onFailure(msg Message, err error)
}

// Transport abstracts how a batch of Bayeux messages is sent to and
// received from the server (original spec C4). Lifecycle:
// Init -> Accept -> Send* -> Terminate, with Abort/Reset available at
// any point.
type Transport interface {
	// Init applies configuration. It must be safe to call again after
	// Reset.
	Init(opts TransportOptions) error
	// Accept reports whether this transport can be used for the given
	// Bayeux protocol version, allowing it to veto itself based on
	// prior failures (e.g. a rejected WebSocket upgrade).
	Accept(bayeuxVersion string) bool
	// Send delivers a batch of messages, registering a pending
	// exchange for each and reporting outcomes to listener.
	Send(ctx context.Context, listener transportListener, batch []Message) error
	// Abort synchronously fails every pending exchange with
	// ErrAborted and tears down any live connection.
	Abort()
	// Reset releases resources created at Init (e.g. an owned
	// Scheduler), returning the transport to its pre-Init state.
	Reset()
	// Terminate performs a graceful shutdown after the last reply has
	// been processed.
	Terminate()
	// transportType identifies the connection type advertised during
	// handshake negotiation.
	transportType() string
}

// TransportOptions are the configuration keys recognized by the
// transports, per the original spec §6.
type TransportOptions struct {
	Protocol        string
	ConnectTimeout  time.Duration
	IdleTimeout     time.Duration
	MaxMessageSize  int64
	MaxNetworkDelay time.Duration
}

// DefaultTransportOptions returns the configuration defaults named in
// the original spec §4.3/§6.
func DefaultTransportOptions() TransportOptions {
	return TransportOptions{
		Protocol:        "cometd",
		ConnectTimeout:  30 * time.Second,
		IdleTimeout:     60 * time.Second,
		MaxMessageSize:  0,
		MaxNetworkDelay: 15 * time.Second,
	}
}

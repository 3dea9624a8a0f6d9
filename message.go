package bayeux

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Channel is a Bayeux channel path, either a meta channel
// ("/meta/handshake") or an application channel ("/foo/bar").
type Channel string

const emptyChannel Channel = ""

// Meta channels defined by the Bayeux protocol.
const (
	MetaHandshake   Channel = "/meta/handshake"
	MetaConnect     Channel = "/meta/connect"
	MetaSubscribe   Channel = "/meta/subscribe"
	MetaUnsubscribe Channel = "/meta/unsubscribe"
	MetaDisconnect  Channel = "/meta/disconnect"
)

// Connection types a transport may advertise during handshake.
const (
	ConnectionTypeLongPolling = "long-polling"
	ConnectionTypeWebsocket   = "websocket"
)

// IsMeta reports whether c is one of the reserved /meta/* channels.
func (c Channel) IsMeta() bool {
	return len(c) >= 6 && c[:6] == "/meta/"
}

// Advice carries server-supplied reconnect hints. See original spec
// §3 and §4.7.
type Advice struct {
	Reconnect string `json:"reconnect,omitempty"`
	Interval  int64  `json:"interval,omitempty"` // ms
	Timeout   int64  `json:"timeout,omitempty"`  // ms
}

// Reconnect advice values.
const (
	ReconnectRetry     = "retry"
	ReconnectHandshake = "handshake"
	ReconnectNone      = "none"
)

// ShouldHandshake reports whether the server is asking the client to
// re-handshake before reconnecting.
func (a *Advice) ShouldHandshake() bool {
	return a != nil && a.Reconnect == ReconnectHandshake
}

// ShouldStop reports whether the server is asking the client to give
// up reconnecting entirely.
func (a *Advice) ShouldStop() bool {
	return a != nil && a.Reconnect == ReconnectNone
}

// Message is the Bayeux envelope exchanged with the server. Once sent
// it is treated as immutable by the core; extensions mutate a copy
// before the batch is serialized.
type Message struct {
	ID                       string          `json:"id,omitempty"`
	Channel                  Channel         `json:"channel"`
	ClientID                 string          `json:"clientId,omitempty"`
	Successful               bool            `json:"successful,omitempty"`
	Data                     json.RawMessage `json:"data,omitempty"`
	Ext                      json.RawMessage `json:"ext,omitempty"`
	Advice                   *Advice         `json:"advice,omitempty"`
	Error                    string          `json:"error,omitempty"`
	Subscription             string          `json:"subscription,omitempty"`
	Version                  string          `json:"version,omitempty"`
	MinimumVersion           string          `json:"minimumVersion,omitempty"`
	SupportedConnectionTypes []string        `json:"supportedConnectionTypes,omitempty"`
	ConnectionType           string          `json:"connectionType,omitempty"`
}

// IsMeta reports whether the message targets a /meta/* channel.
func (m Message) IsMeta() bool {
	return m.Channel.IsMeta()
}

// IsPublishReply reports whether m looks like the reply to a publish
// on an application channel: non-meta and carrying no data payload
// (broadcasts delivered to subscribers always carry one).
func (m Message) IsPublishReply() bool {
	return !m.IsMeta() && len(m.Data) == 0
}

// newMessageID returns a collision-free correlation id for an
// outgoing message. The exchange table keys on this value.
func newMessageID() string {
	return uuid.NewString()
}

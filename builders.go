package bayeux

import "fmt"

// requestBuilder assembles a single outgoing Message for one of the
// five Bayeux meta channels. Each exported New*RequestBuilder wraps
// one for its channel so callers can't build the wrong shape.
type requestBuilder struct {
	msg Message
}

func newRequestBuilder(channel Channel) *requestBuilder {
	return &requestBuilder{msg: Message{Channel: channel}}
}

func (b *requestBuilder) AddClientID(id string) *requestBuilder {
	b.msg.ClientID = id
	return b
}

func (b *requestBuilder) build() ([]Message, error) {
	return []Message{b.msg}, nil
}

// HandshakeRequestBuilder builds a /meta/handshake request.
type HandshakeRequestBuilder struct{ b *requestBuilder }

// NewHandshakeRequestBuilder returns a builder for the /meta/handshake
// request.
func NewHandshakeRequestBuilder() *HandshakeRequestBuilder {
	return &HandshakeRequestBuilder{b: newRequestBuilder(MetaHandshake)}
}

// AddVersion sets the Bayeux protocol version offered by the client.
func (hb *HandshakeRequestBuilder) AddVersion(version string) error {
	if version == "" {
		return fmt.Errorf("bayeux: version must not be empty")
	}
	hb.b.msg.Version = version
	hb.b.msg.MinimumVersion = version
	return nil
}

// AddSupportedConnectionType appends a connection type the client is
// willing to use, in preference order.
func (hb *HandshakeRequestBuilder) AddSupportedConnectionType(connType string) error {
	if connType == "" {
		return fmt.Errorf("bayeux: connection type must not be empty")
	}
	hb.b.msg.SupportedConnectionTypes = append(hb.b.msg.SupportedConnectionTypes, connType)
	return nil
}

// Build finalizes the handshake request.
func (hb *HandshakeRequestBuilder) Build() ([]Message, error) {
	if hb.b.msg.Version == "" {
		return nil, fmt.Errorf("bayeux: handshake requires a version")
	}
	if len(hb.b.msg.SupportedConnectionTypes) == 0 {
		return nil, fmt.Errorf("bayeux: handshake requires at least one supported connection type")
	}
	return hb.b.build()
}

// ConnectRequestBuilder builds a /meta/connect request.
type ConnectRequestBuilder struct{ b *requestBuilder }

// NewConnectRequestBuilder returns a builder for the /meta/connect
// request.
func NewConnectRequestBuilder() *ConnectRequestBuilder {
	return &ConnectRequestBuilder{b: newRequestBuilder(MetaConnect)}
}

// AddClientID sets the clientId assigned during handshake.
func (cb *ConnectRequestBuilder) AddClientID(id string) *ConnectRequestBuilder {
	cb.b.AddClientID(id)
	return cb
}

// AddConnectionType sets the connection type this connect is issued
// over.
func (cb *ConnectRequestBuilder) AddConnectionType(connType string) error {
	if connType == "" {
		return fmt.Errorf("bayeux: connection type must not be empty")
	}
	cb.b.msg.ConnectionType = connType
	return nil
}

// Build finalizes the connect request.
func (cb *ConnectRequestBuilder) Build() ([]Message, error) {
	if cb.b.msg.ClientID == "" {
		return nil, fmt.Errorf("bayeux: connect requires a clientId")
	}
	return cb.b.build()
}

// SubscribeRequestBuilder builds a /meta/subscribe request. A single
// request may carry multiple subscriptions; the teacher and this
// implementation instead issue one message per subscription to keep
// per-subscription error reporting simple, matching how the exchange
// table keys on a single id per message.
type SubscribeRequestBuilder struct {
	clientID      string
	subscriptions []Channel
}

// NewSubscribeRequestBuilder returns a builder for /meta/subscribe
// requests.
func NewSubscribeRequestBuilder() *SubscribeRequestBuilder {
	return &SubscribeRequestBuilder{}
}

// AddClientID sets the clientId assigned during handshake.
func (sb *SubscribeRequestBuilder) AddClientID(id string) *SubscribeRequestBuilder {
	sb.clientID = id
	return sb
}

// AddSubscription appends a channel to subscribe to.
func (sb *SubscribeRequestBuilder) AddSubscription(ch Channel) error {
	if ch == emptyChannel {
		return fmt.Errorf("bayeux: subscription channel must not be empty")
	}
	sb.subscriptions = append(sb.subscriptions, ch)
	return nil
}

// Build finalizes the subscribe requests, one Message per channel.
func (sb *SubscribeRequestBuilder) Build() ([]Message, error) {
	if sb.clientID == "" {
		return nil, fmt.Errorf("bayeux: subscribe requires a clientId")
	}
	if len(sb.subscriptions) == 0 {
		return nil, fmt.Errorf("bayeux: subscribe requires at least one channel")
	}
	msgs := make([]Message, 0, len(sb.subscriptions))
	for _, ch := range sb.subscriptions {
		msgs = append(msgs, Message{
			Channel:      MetaSubscribe,
			ClientID:     sb.clientID,
			Subscription: string(ch),
		})
	}
	return msgs, nil
}

// UnsubscribeRequestBuilder builds /meta/unsubscribe requests.
type UnsubscribeRequestBuilder struct {
	clientID      string
	subscriptions []Channel
}

// NewUnsubscribeRequestBuilder returns a builder for /meta/unsubscribe
// requests.
func NewUnsubscribeRequestBuilder() *UnsubscribeRequestBuilder {
	return &UnsubscribeRequestBuilder{}
}

// AddClientID sets the clientId assigned during handshake.
func (ub *UnsubscribeRequestBuilder) AddClientID(id string) *UnsubscribeRequestBuilder {
	ub.clientID = id
	return ub
}

// AddSubscription appends a channel to unsubscribe from.
func (ub *UnsubscribeRequestBuilder) AddSubscription(ch Channel) error {
	if ch == emptyChannel {
		return fmt.Errorf("bayeux: unsubscription channel must not be empty")
	}
	ub.subscriptions = append(ub.subscriptions, ch)
	return nil
}

// Build finalizes the unsubscribe requests, one Message per channel.
func (ub *UnsubscribeRequestBuilder) Build() ([]Message, error) {
	if ub.clientID == "" {
		return nil, fmt.Errorf("bayeux: unsubscribe requires a clientId")
	}
	if len(ub.subscriptions) == 0 {
		return nil, fmt.Errorf("bayeux: unsubscribe requires at least one channel")
	}
	msgs := make([]Message, 0, len(ub.subscriptions))
	for _, ch := range ub.subscriptions {
		msgs = append(msgs, Message{
			Channel:      MetaUnsubscribe,
			ClientID:     ub.clientID,
			Subscription: string(ch),
		})
	}
	return msgs, nil
}

// DisconnectRequestBuilder builds the /meta/disconnect request.
type DisconnectRequestBuilder struct{ b *requestBuilder }

// NewDisconnectRequestBuilder returns a builder for the
// /meta/disconnect request.
func NewDisconnectRequestBuilder() *DisconnectRequestBuilder {
	return &DisconnectRequestBuilder{b: newRequestBuilder(MetaDisconnect)}
}

// AddClientID sets the clientId assigned during handshake.
func (db *DisconnectRequestBuilder) AddClientID(id string) *DisconnectRequestBuilder {
	db.b.AddClientID(id)
	return db
}

// Build finalizes the disconnect request.
func (db *DisconnectRequestBuilder) Build() ([]Message, error) {
	if db.b.msg.ClientID == "" {
		return nil, fmt.Errorf("bayeux: disconnect requires a clientId")
	}
	return db.b.build()
}

// PublishRequestBuilder builds a publish request on an application
// channel. Not part of the teacher's fragment -- the original spec
// lists publish as in-scope (§4.6) though the teacher stubs it.
type PublishRequestBuilder struct {
	msg Message
}

// NewPublishRequestBuilder returns a builder for a publish request on
// ch.
func NewPublishRequestBuilder(ch Channel) *PublishRequestBuilder {
	return &PublishRequestBuilder{msg: Message{Channel: ch}}
}

// AddClientID sets the clientId assigned during handshake.
func (pb *PublishRequestBuilder) AddClientID(id string) *PublishRequestBuilder {
	pb.msg.ClientID = id
	return pb
}

// AddData sets the opaque application payload.
func (pb *PublishRequestBuilder) AddData(data []byte) *PublishRequestBuilder {
	pb.msg.Data = data
	return pb
}

// Build finalizes the publish request.
func (pb *PublishRequestBuilder) Build() ([]Message, error) {
	if pb.msg.Channel == emptyChannel || pb.msg.Channel.IsMeta() {
		return nil, fmt.Errorf("bayeux: publish requires a non-meta channel")
	}
	if pb.msg.ClientID == "" {
		return nil, fmt.Errorf("bayeux: publish requires a clientId")
	}
	pb.msg.ID = newMessageID()
	return []Message{pb.msg}, nil
}

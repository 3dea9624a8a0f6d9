package bayeux

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketTransport multiplexes many in-flight Bayeux messages over
// a single socket with per-message timeouts (original spec C5). It is
// the primary transport; transport_http.go provides the long-polling
// fallback used once a WebSocket upgrade is permanently rejected.
type WebSocketTransport struct {
	logger        Logger
	serverAddress *url.URL
	opts          TransportOptions
	scheduler     Scheduler
	ownsScheduler bool
	table         *exchangeTable

	mu             sync.Mutex
	conn           *websocket.Conn
	listener       transportListener
	supported      bool
	connectPending bool
	disconnected   bool
	lastAdvice     *Advice
	terminated     bool
	aborted        bool
}

// NewWebSocketTransport creates a transport that will dial
// serverAddress (an http(s):// URL, rewritten to ws(s)://) on first
// Send.
func NewWebSocketTransport(serverAddress string, logger Logger) (*WebSocketTransport, error) {
	wsURL, err := toWebSocketURL(serverAddress)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = newNullLogger()
	}
	return &WebSocketTransport{
		logger:        logger,
		serverAddress: wsURL,
		supported:     true,
		table:         newExchangeTable(),
	}, nil
}

// toWebSocketURL rewrites an http(s) scheme to ws(s); other schemes
// pass through unchanged (original spec §6).
func toWebSocketURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	return u, nil
}

func (t *WebSocketTransport) transportType() string { return ConnectionTypeWebsocket }

// Init applies configuration, adopting a caller-supplied Scheduler if
// one was set via WithScheduler, else owning a fresh one.
func (t *WebSocketTransport) Init(opts TransportOptions) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.opts = opts
	if t.scheduler == nil {
		t.scheduler = NewScheduler()
		t.ownsScheduler = true
	}
	t.terminated = false
	t.aborted = false
	return nil
}

// WithScheduler injects an externally owned Scheduler, which Reset
// will not shut down.
func (t *WebSocketTransport) WithScheduler(s Scheduler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scheduler = s
	t.ownsScheduler = false
}

// Accept reports whether the WebSocket upgrade has not been
// permanently rejected for this transport instance.
func (t *WebSocketTransport) Accept(bayeuxVersion string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.supported
}

// connect dials the WebSocket session if one isn't already open and
// starts the single persistent reader goroutine that serves every
// subsequent Send (original spec §4.3 "Connect"). Only one goroutine
// ever calls conn.ReadMessage, since gorilla's Conn permits at most
// one concurrent reader.
func (t *WebSocketTransport) connect(ctx context.Context, listener transportListener) error {
	t.mu.Lock()
	if t.conn != nil {
		t.mu.Unlock()
		return nil
	}
	if t.aborted {
		t.mu.Unlock()
		return ErrAborted
	}
	timeout := t.opts.ConnectTimeout
	if timeout == 0 {
		timeout = DefaultTransportOptions().ConnectTimeout
	}
	t.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, t.serverAddress.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode != 0 {
			t.mu.Lock()
			t.supported = false
			t.mu.Unlock()
			return UpgradeRejectedError{HTTPStatus: resp.StatusCode, CloseCode: websocket.CloseProtocolError}
		}
		return err
	}

	t.mu.Lock()
	if t.aborted {
		t.mu.Unlock()
		conn.Close()
		return ErrAborted
	}
	t.conn = conn
	t.listener = listener
	t.mu.Unlock()

	go t.readLoop(conn, listener)
	return nil
}

// Send serializes batch to JSON and writes it as a single frame,
// registering a per-message exchange with a scheduled expiry first
// (original spec §4.3 "Send").
func (t *WebSocketTransport) Send(ctx context.Context, listener transportListener, batch []Message) error {
	if len(batch) == 0 {
		return nil
	}
	if err := t.connect(ctx, listener); err != nil {
		for _, m := range batch {
			listener.onFailure(m, err)
		}
		return err
	}

	for i := range batch {
		m := batch[i]
		if m.ID == "" {
			m.ID = newMessageID()
			batch[i] = m
		}
		delay := t.maxNetworkDelayFor(m)
		x := &exchange{msg: m, listener: &transportExchangeAdapter{msg: m, listener: listener}}
		id := m.ID
		// Schedule and attach the cancel func before the exchange is
		// registered, so a reply racing in immediately after register
		// can never observe a nil x.cancel. table.complete/drain cancel
		// it again on removal, so no other caller needs to.
		x.cancel = t.scheduler.Schedule(delay, func() { t.expire(id) })
		t.table.register(id, x)

		if m.Channel == MetaConnect {
			t.mu.Lock()
			t.connectPending = true
			t.mu.Unlock()
		}
	}

	listener.onSending(batch)

	raw, err := json.Marshal(batch)
	if err != nil {
		t.failBatch(batch, err)
		return err
	}

	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		err := ErrAborted
		t.failBatch(batch, err)
		return err
	}

	t.mu.Lock()
	writeErr := conn.WriteMessage(websocket.TextMessage, raw)
	t.mu.Unlock()
	if writeErr != nil {
		t.closeWithReason("Exception")
		t.failBatch(batch, writeErr)
		return writeErr
	}
	return nil
}

// failBatch completes and fails every exchange registered for batch.
// table.complete cancels each exchange's expiry timer as part of
// removal.
func (t *WebSocketTransport) failBatch(batch []Message, err error) {
	for _, m := range batch {
		if x, ok := t.table.complete(m.ID); ok {
			x.listener.onFailure(err)
		}
	}
}

// maxNetworkDelayFor computes the per-exchange timeout: the
// configured base plus, for a meta-connect, the last observed advice
// timeout (original spec §4.3 step 1, §5).
func (t *WebSocketTransport) maxNetworkDelayFor(m Message) time.Duration {
	base := t.opts.MaxNetworkDelay
	if base == 0 {
		base = DefaultTransportOptions().MaxNetworkDelay
	}
	if m.Channel != MetaConnect {
		return base
	}
	t.mu.Lock()
	advice := t.lastAdvice
	t.mu.Unlock()
	if advice == nil || advice.Timeout <= 0 {
		return base
	}
	return base + time.Duration(advice.Timeout)*time.Millisecond
}

// expire fires when an exchange's timer elapses. It only notifies if
// the timer won the race against a concurrent reply and the transport
// is still running (original spec §4.3 "Expiry").
func (t *WebSocketTransport) expire(id string) {
	t.mu.Lock()
	running := !t.terminated && !t.aborted
	t.mu.Unlock()

	x, ok := t.table.complete(id)
	if !ok {
		return
	}
	if !running {
		return
	}
	x.listener.onFailure(TimeoutError{Reason: "Exchange expired"})
}

// readLoop is the single goroutine reading frames off conn for the
// lifetime of the session, dispatching replies to their exchange and
// pushes to listener.onMessages (original spec §4.3 "Receive").
func (t *WebSocketTransport) readLoop(conn *websocket.Conn, listener transportListener) {
	for {
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			t.handleReadError(err)
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var messages []Message
		if err := json.Unmarshal(raw, &messages); err != nil {
			t.handleReadError(err)
			return
		}
		t.dispatch(messages, listener)

		t.mu.Lock()
		shouldClose := t.disconnected && !t.connectPending
		t.mu.Unlock()
		if shouldClose {
			t.closeWithReason("Disconnect")
			return
		}
	}
}

func (t *WebSocketTransport) handleReadError(err error) {
	t.closeWithReason("Exception")
	for _, x := range t.table.drain() {
		x.listener.onFailure(err)
	}
}

// dispatch correlates replies (meta messages and publish replies)
// against the exchange table and forwards everything else as a server
// push.
func (t *WebSocketTransport) dispatch(messages []Message, listener transportListener) {
	var pushes []Message
	for _, m := range messages {
		if m.ID == "" || (!m.IsMeta() && !m.IsPublishReply()) {
			pushes = append(pushes, m)
			continue
		}
		x, ok := t.table.complete(m.ID)
		if !ok {
			// A reply with no matching exchange arrived after its
			// exchange already expired; dropping it avoids double
			// delivery (invariant 1, §8).
			continue
		}

		if m.Channel == MetaConnect {
			t.mu.Lock()
			t.connectPending = false
			if m.Successful {
				t.lastAdvice = m.Advice
			}
			t.mu.Unlock()
		}
		if m.Channel == MetaDisconnect && m.Successful {
			t.mu.Lock()
			t.disconnected = true
			t.mu.Unlock()
		}
		x.listener.onReply(m)
	}
	if len(pushes) > 0 {
		listener.onMessages(pushes)
	}
}

func (t *WebSocketTransport) closeWithReason(reason string) {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn == nil {
		return
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	t.mu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	t.mu.Unlock()
	conn.Close()
}

// Abort synchronously fails every pending exchange and closes the
// socket, winning any race against a reply or timer (original spec
// §4.2, §5).
func (t *WebSocketTransport) Abort() {
	t.mu.Lock()
	t.aborted = true
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	for _, x := range t.table.drain() {
		x.listener.onFailure(ErrAborted)
	}
}

// Reset releases resources created at Init, shutting down the
// scheduler only if the transport owns it.
func (t *WebSocketTransport) Reset() {
	t.mu.Lock()
	owns := t.ownsScheduler
	sched := t.scheduler
	t.scheduler = nil
	t.conn = nil
	t.mu.Unlock()
	if owns && sched != nil {
		sched.Shutdown()
	}
}

// Terminate performs a graceful shutdown: the socket is closed with a
// normal close code after the caller has stopped sending.
func (t *WebSocketTransport) Terminate() {
	t.mu.Lock()
	t.terminated = true
	t.mu.Unlock()
	t.closeWithReason("Disconnect")
}

// transportExchangeAdapter bridges the per-exchange exchangeListener
// contract to the batch-oriented transportListener the caller
// supplied to Send.
type transportExchangeAdapter struct {
	msg      Message
	listener transportListener
}

func (a *transportExchangeAdapter) onReply(m Message)   { a.listener.onReply(m) }
func (a *transportExchangeAdapter) onFailure(err error) { a.listener.onFailure(a.msg, err) }

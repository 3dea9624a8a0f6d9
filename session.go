package bayeux

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/tomb.v2"
)

// IgnoreErrorFunc inspects an error returned by a /meta/connect issued
// from the session's event loop and decides whether the loop should
// treat it as non-fatal and keep running. Carried from the
// teacher unchanged (SPEC_FULL.md §5).
type IgnoreErrorFunc func(error) bool

// Options configures a ClientSession. See the With* constructors.
type Options struct {
	Logger          Logger
	IgnoreError     IgnoreErrorFunc
	Scheduler       Scheduler
	TransportOpts   TransportOptions
	ExtraExtensions map[string]MessageExtender
}

// Option mutates Options during NewClientSession.
type Option func(*Options)

// WithLogger configures the Logger used for diagnostics (original
// spec C10).
func WithLogger(logger Logger) Option {
	return func(o *Options) { o.Logger = logger }
}

// WithFieldLogger adapts a logrus.FieldLogger for use as the session
// Logger.
func WithFieldLogger(logger logrus.FieldLogger) Option {
	return func(o *Options) { o.Logger = &wrappedFieldLogger{logger} }
}

// WithIgnoreError sets the predicate used to decide whether a
// /meta/connect error in the event loop is tolerable. The default
// never tolerates an error.
func WithIgnoreError(f IgnoreErrorFunc) Option {
	return func(o *Options) { o.IgnoreError = f }
}

// WithScheduler injects a Scheduler the WebSocket transport should use
// instead of owning its own.
func WithScheduler(s Scheduler) Option {
	return func(o *Options) { o.Scheduler = s }
}

// WithTransportOptions overrides the WebSocket transport's connect
// timeout, idle timeout, max message size and max network delay
// (original spec §6).
func WithTransportOptions(opts TransportOptions) Option {
	return func(o *Options) { o.TransportOpts = opts }
}

// WithExtension pre-registers a named extension before the session
// starts, equivalent to calling AddExtension immediately after
// NewClientSession.
func WithExtension(name string, ext MessageExtender) Option {
	return func(o *Options) {
		if o.ExtraExtensions == nil {
			o.ExtraExtensions = make(map[string]MessageExtender)
		}
		o.ExtraExtensions[name] = ext
	}
}

// ClientSession drives the Bayeux handshake -> connect -> subscribe ->
// publish -> disconnect lifecycle over a Transport, dispatches replies
// to the ChannelRegistry, and runs the ExtensionChain on every message
// (original spec C8).
type ClientSession struct {
	logger      Logger
	transport   Transport
	fallback    Transport
	registry    *ChannelRegistry
	extensions  *extensionChain
	stateMachine *ConnectionStateMachine
	backoff     *BackoffPolicy
	ignoreError IgnoreErrorFunc

	mu         sync.Mutex
	clientID   string
	lastAdvice *Advice
	pending    map[string]chan replyOrError
	aborted    bool
	looping    bool

	t                         tomb.Tomb
	subscribeRequestChannel   chan subscribeRequest
	unsubscribeRequestChannel chan unsubscribeRequest
	publishRequestChannel     chan publishRequest
	handshakeRequestChannel   chan struct{}
	connectRequestChannel     chan struct{}
}

type replyOrError struct {
	msg Message
	err error
}

type subscribeRequest struct {
	channel  Channel
	listener MessageListener
	result   chan subscribeResult
}

type subscribeResult struct {
	id  SubscriptionID
	err error
}

type unsubscribeRequest struct {
	channel Channel
	id      SubscriptionID
	result  chan error
}

type publishRequest struct {
	channel Channel
	data    []byte
	result  chan error
}

// NewClientSession prepares transports for serverAddress (rewritten
// http->ws per original spec §6) and returns a session ready for
// Handshake. No connection is opened until the first request is sent.
func NewClientSession(serverAddress string, opts ...Option) (*ClientSession, error) {
	options := &Options{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}
	if options.Logger == nil {
		options.Logger = newNullLogger()
	}
	if options.IgnoreError == nil {
		options.IgnoreError = func(error) bool { return false }
	}
	if options.TransportOpts == (TransportOptions{}) {
		options.TransportOpts = DefaultTransportOptions()
	}

	ws, err := NewWebSocketTransport(serverAddress, options.Logger)
	if err != nil {
		return nil, err
	}
	if options.Scheduler != nil {
		ws.WithScheduler(options.Scheduler)
	}
	if err := ws.Init(options.TransportOpts); err != nil {
		return nil, err
	}

	fallback, err := NewHTTPTransport(nil, nil, serverAddress)
	if err != nil {
		return nil, err
	}
	if err := fallback.Init(options.TransportOpts); err != nil {
		return nil, err
	}

	s := &ClientSession{
		logger:                    options.Logger,
		transport:                 ws,
		fallback:                  fallback,
		registry:                  NewChannelRegistry(),
		extensions:                newExtensionChain(),
		stateMachine:              NewConnectionStateMachine(),
		backoff:                   DefaultBackoffPolicy(),
		ignoreError:               options.IgnoreError,
		pending:                   make(map[string]chan replyOrError),
		subscribeRequestChannel:   make(chan subscribeRequest, 16),
		unsubscribeRequestChannel: make(chan unsubscribeRequest, 16),
		publishRequestChannel:     make(chan publishRequest, 16),
		handshakeRequestChannel:   make(chan struct{}, 1),
		connectRequestChannel:     make(chan struct{}, 1),
	}

	s.registry.bindSession(s)

	for name, ext := range options.ExtraExtensions {
		_ = s.extensions.register(name, ext)
	}

	return s, nil
}

// GetChannel returns the interned ChannelHandle for path (original
// spec §6).
func (s *ClientSession) GetChannel(path Channel) *ChannelHandle {
	return s.registry.Get(path)
}

// AddExtension registers a named extension (original spec §6).
func (s *ClientSession) AddExtension(name string, ext MessageExtender) error {
	return s.extensions.register(name, ext)
}

// RemoveExtension unregisters a named extension (original spec §6).
func (s *ClientSession) RemoveExtension(name string) bool {
	return s.extensions.unregister(name)
}

// SetLogLevel adjusts the verbosity of the underlying logger when it
// is a logrus-backed Logger; a no-op otherwise (original spec C10).
func (s *ClientSession) SetLogLevel(level logrus.Level) {
	if w, ok := s.logger.(*wrappedFieldLogger); ok {
		if l, ok := w.FieldLogger.(*logrus.Logger); ok {
			l.SetLevel(level)
		}
	}
}

// IsConnected reports whether the session has completed handshake and
// is at least attempting to maintain a meta-connect loop.
func (s *ClientSession) IsConnected() bool {
	return s.stateMachine.IsConnected()
}

func (s *ClientSession) getClientID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientID
}

func (s *ClientSession) setClientID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clientID = id
}

// Handshake sends /meta/handshake, and on success starts the
// meta-connect loop (original spec §4.6).
func (s *ClientSession) Handshake(ctx context.Context) error {
	logger := s.logger.WithField("at", "handshake")
	// A re-handshake requested by connect advice arrives already in
	// HANDSHAKING (see doConnect).
	if s.stateMachine.State() != stateHandshaking {
		if err := s.stateMachine.ProcessEvent(handshakeSent); err != nil {
			return HandshakeFailedError{err}
		}
	}

	builder := NewHandshakeRequestBuilder()
	if err := builder.AddVersion("1.0"); err != nil {
		return HandshakeFailedError{err}
	}
	if err := builder.AddSupportedConnectionType(ConnectionTypeWebsocket); err != nil {
		return HandshakeFailedError{err}
	}
	if err := builder.AddSupportedConnectionType(ConnectionTypeLongPolling); err != nil {
		return HandshakeFailedError{err}
	}
	msgs, err := builder.Build()
	if err != nil {
		return HandshakeFailedError{err}
	}

	resp, err := s.request(ctx, msgs)
	if err != nil {
		logger.WithError(err).Debug("handshake request failed")
		return HandshakeFailedError{err}
	}
	if len(resp) > 1 {
		return HandshakeFailedError{ErrTooManyMessages}
	}

	var reply Message
	found := false
	for _, m := range resp {
		if m.Channel == MetaHandshake {
			reply = m
			found = true
		}
	}
	if !found {
		return HandshakeFailedError{ErrBadChannel}
	}
	if !reply.Successful {
		return newHandshakeError(reply.Error)
	}

	s.setClientID(reply.ClientID)
	_ = s.stateMachine.ProcessEvent(successfullyConnected)
	s.backoff.Reset()

	s.mu.Lock()
	started := s.looping
	s.looping = true
	s.mu.Unlock()
	if !started {
		s.t.Go(s.loop)
	}
	s.enqueueConnect()
	return nil
}

// Disconnect sends /meta/disconnect and stops the meta-connect loop
// (original spec §4.6). The state machine moves to DISCONNECTING when
// the request is sent; if no reply has arrived after 2 seconds it is
// forced to DISCONNECTED locally, so a vetoed or lost reply cannot
// leave it in DISCONNECTING.
func (s *ClientSession) Disconnect(ctx context.Context) error {
	clientID := s.getClientID()
	if clientID == "" {
		return DisconnectFailedError{ErrClientNotConnected}
	}

	builder := NewDisconnectRequestBuilder().AddClientID(clientID)
	msgs, err := builder.Build()
	if err != nil {
		return DisconnectFailedError{err}
	}

	_ = s.stateMachine.ProcessEvent(disconnectSent)

	gracePeriod := time.AfterFunc(2*time.Second, func() {
		_ = s.stateMachine.ProcessEvent(aborted)
	})

	resp, err := s.request(ctx, msgs)
	gracePeriod.Stop()
	if err != nil {
		return DisconnectFailedError{err}
	}
	for _, m := range resp {
		if m.Channel == MetaDisconnect && !m.Successful {
			return DisconnectFailedError{nil}
		}
	}

	_ = s.stateMachine.ProcessEvent(disconnectAcked)
	s.t.Kill(nil)
	_ = s.t.Wait()
	s.transport.Terminate()
	s.fallback.Terminate()
	return nil
}

// Abort synchronously fails every pending exchange and tears down the
// transport (original spec §4.2).
func (s *ClientSession) Abort() {
	s.mu.Lock()
	s.aborted = true
	s.mu.Unlock()
	s.transport.Abort()
	s.fallback.Abort()
	_ = s.stateMachine.ProcessEvent(aborted)
	s.t.Kill(ErrAborted)
}

// Publish sends data to ch (original spec §4.6, supplemented feature
// per SPEC_FULL.md §5 -- the teacher leaves this unimplemented).
func (s *ClientSession) Publish(ctx context.Context, ch Channel, data []byte) error {
	clientID := s.getClientID()
	if clientID == "" {
		return PublishFailedError{ch, ErrClientNotConnected}
	}
	builder := NewPublishRequestBuilder(ch).AddClientID(clientID).AddData(data)
	msgs, err := builder.Build()
	if err != nil {
		return PublishFailedError{ch, err}
	}

	resp, err := s.request(ctx, msgs)
	if err != nil {
		return PublishFailedError{ch, err}
	}
	for _, m := range resp {
		if m.Channel == ch && !m.Successful {
			return PublishFailedError{ch, newSubscribeError(m.Error)}
		}
	}
	return nil
}

// Subscribe registers listener on ch, issuing /meta/subscribe if this
// is the channel's first subscriber (original spec §4.6).
func (s *ClientSession) Subscribe(ctx context.Context, ch Channel, listener MessageListener) (SubscriptionID, error) {
	result := make(chan subscribeResult, 1)
	req := subscribeRequest{channel: ch, listener: listener, result: result}
	select {
	case s.subscribeRequestChannel <- req:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case r := <-result:
		return r.id, r.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Unsubscribe removes a previously registered subscriber and, if it
// was the last one on the channel, issues /meta/unsubscribe.
func (s *ClientSession) Unsubscribe(ctx context.Context, ch Channel, id SubscriptionID) error {
	result := make(chan error, 1)
	req := unsubscribeRequest{channel: ch, id: id, result: result}
	select {
	case s.unsubscribeRequestChannel <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ClientSession) enqueueConnect() {
	select {
	case s.connectRequestChannel <- struct{}{}:
	default:
	}
}

// loop is the meta-connect / subscribe / unsubscribe / publish event
// loop, supervised by a tomb.Tomb the way Llandy3d-go-bayeux-client
// supervises its polling worker (SPEC_FULL.md §3).
func (s *ClientSession) loop() error {
	logger := s.logger.WithField("at", "loop")
	for {
		select {
		case <-s.t.Dying():
			return nil

		case req := <-s.subscribeRequestChannel:
			s.handleSubscribe(req)

		case req := <-s.unsubscribeRequestChannel:
			s.handleUnsubscribe(req)

		case req := <-s.publishRequestChannel:
			err := s.Publish(context.Background(), req.channel, req.data)
			req.result <- err

		case <-s.handshakeRequestChannel:
			if err := s.Handshake(context.Background()); err != nil {
				logger.WithError(err).Debug("re-handshake failed")
				return err
			}

		case <-s.connectRequestChannel:
			if err := s.doConnect(); err != nil {
				if s.ignoreError(err) {
					logger.WithError(err).Debug("ignoring connect error")
					s.scheduleNextConnect()
					continue
				}
				return err
			}
		}
	}
}

func (s *ClientSession) handleSubscribe(req subscribeRequest) {
	handle := s.registry.Get(req.channel)
	id, err := handle.Subscribe(req.listener)
	if err != nil {
		req.result <- subscribeResult{0, err}
		return
	}
	if subs, _ := handle.GetSubscribers(); len(subs) > 1 {
		req.result <- subscribeResult{id, nil}
		return
	}

	clientID := s.getClientID()
	builder := NewSubscribeRequestBuilder().AddClientID(clientID)
	_ = builder.AddSubscription(req.channel)
	msgs, err := builder.Build()
	if err != nil {
		req.result <- subscribeResult{0, err}
		return
	}

	resp, err := s.request(context.Background(), msgs)
	if err != nil {
		req.result <- subscribeResult{0, SubscriptionFailedError{[]Channel{req.channel}, err}}
		return
	}
	for _, m := range resp {
		if m.Channel == MetaSubscribe && !m.Successful {
			req.result <- subscribeResult{0, SubscriptionFailedError{[]Channel{req.channel}, newSubscribeError(m.Error)}}
			return
		}
	}
	req.result <- subscribeResult{id, nil}
}

func (s *ClientSession) handleUnsubscribe(req unsubscribeRequest) {
	handle := s.registry.Get(req.channel)
	if err := handle.Unsubscribe(req.id); err != nil {
		req.result <- err
		return
	}

	subs, _ := handle.GetSubscribers()
	if len(subs) > 0 {
		req.result <- nil
		return
	}

	clientID := s.getClientID()
	builder := NewUnsubscribeRequestBuilder().AddClientID(clientID)
	_ = builder.AddSubscription(req.channel)
	msgs, err := builder.Build()
	if err != nil {
		req.result <- err
		return
	}

	resp, err := s.request(context.Background(), msgs)
	if err != nil {
		req.result <- UnsubscribeFailedError{[]Channel{req.channel}, err}
		return
	}
	for _, m := range resp {
		if m.Channel == MetaUnsubscribe && !m.Successful {
			req.result <- UnsubscribeFailedError{[]Channel{req.channel}, newUnsubscribeError(m.Error)}
			return
		}
	}
	req.result <- nil
}

// doConnect issues one /meta/connect and schedules the next one per
// the returned advice (original spec §4.6 "Connect loop", §4.7).
func (s *ClientSession) doConnect() error {
	clientID := s.getClientID()
	if clientID == "" {
		return ErrClientNotConnected
	}
	builder := NewConnectRequestBuilder().AddClientID(clientID)
	_ = builder.AddConnectionType(s.transport.transportType())
	msgs, err := builder.Build()
	if err != nil {
		return ConnectionFailedError{err}
	}

	_ = s.stateMachine.ProcessEvent(connectSent)

	resp, err := s.request(context.Background(), msgs)
	if err != nil {
		s.backoff.Fail()
		return ConnectionFailedError{err}
	}

	var advice *Advice
	for _, m := range resp {
		if m.Channel == MetaConnect {
			if !m.Successful {
				s.backoff.Fail()
				return ConnectionFailedError{ErrFailedToConnect}
			}
			advice = m.Advice
		}
	}
	_ = s.stateMachine.ProcessEvent(connectAcked)
	s.backoff.Reset()

	if advice.ShouldHandshake() {
		s.setClientID("")
		_ = s.stateMachine.ProcessEvent(transportFailedRehandshake)
		select {
		case s.handshakeRequestChannel <- struct{}{}:
		default:
		}
		return nil
	}
	if advice.ShouldStop() {
		return nil
	}

	s.mu.Lock()
	s.lastAdvice = advice
	s.mu.Unlock()

	delay := s.backoff.NextDelay(advice)
	if delay <= 0 {
		s.enqueueConnect()
		return nil
	}
	time.AfterFunc(delay, s.enqueueConnect)
	return nil
}

func (s *ClientSession) scheduleNextConnect() {
	delay := s.backoff.NextDelay(nil)
	if delay <= 0 {
		s.enqueueConnect()
		return
	}
	time.AfterFunc(delay, s.enqueueConnect)
}

// request runs outgoing extensions, sends msgs as one batch, waits for
// every correlated reply or failure, runs incoming extensions on each
// reply, and returns the survivors (original spec C6, §4.4 invariant:
// the chain runs exactly once per message per direction).
func (s *ClientSession) request(ctx context.Context, msgs []Message) ([]Message, error) {
	toSend := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.ID == "" {
			m.ID = newMessageID()
		}
		if !s.extensions.runOutgoing(&m) {
			continue
		}
		toSend = append(toSend, m)
	}
	if len(toSend) == 0 {
		return nil, nil
	}

	waiters := make(map[string]chan replyOrError, len(toSend))
	s.mu.Lock()
	for _, m := range toSend {
		ch := make(chan replyOrError, 1)
		waiters[m.ID] = ch
		s.pending[m.ID] = ch
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		for id := range waiters {
			delete(s.pending, id)
		}
		s.mu.Unlock()
	}()

	transport := s.currentTransport()
	if err := transport.Send(ctx, s, toSend); err != nil {
		s.logger.WithError(err).Debug("transport send reported an error")
	}

	replies := make([]Message, 0, len(toSend))
	var firstErr error
	for _, m := range toSend {
		select {
		case roe := <-waiters[m.ID]:
			if roe.err != nil {
				if firstErr == nil {
					firstErr = roe.err
				}
				continue
			}
			reply := roe.msg
			if s.extensions.runIncoming(&reply) {
				replies = append(replies, reply)
			}
		case <-ctx.Done():
			if firstErr == nil {
				firstErr = ctx.Err()
			}
		}
	}
	if len(replies) == 0 && firstErr != nil {
		return nil, firstErr
	}
	return replies, nil
}

// currentTransport returns the WebSocket transport unless it has
// permanently vetoed itself, in which case the long-polling fallback
// takes over (original spec §4.3 "session falls back to the next
// transport").
func (s *ClientSession) currentTransport() Transport {
	if s.transport.Accept("1.0") {
		return s.transport
	}
	return s.fallback
}

// transportListener implementation -- ClientSession is the single
// stable listener passed to every transport.Send call.

func (s *ClientSession) onSending(batch []Message) {
	s.logger.WithField("count", fmt.Sprint(len(batch))).Debug("sending batch")
}

func (s *ClientSession) onMessages(batch []Message) {
	for _, m := range batch {
		mc := m
		if !s.extensions.runIncoming(&mc) {
			continue
		}
		s.registry.Dispatch(mc)
	}
}

func (s *ClientSession) onReply(msg Message) {
	s.mu.Lock()
	ch, ok := s.pending[msg.ID]
	s.mu.Unlock()
	if !ok {
		// No caller is waiting (e.g. a duplicate/late reply); still
		// worth a dispatch attempt in case it doubles as a broadcast.
		s.registry.Dispatch(msg)
		return
	}
	ch <- replyOrError{msg: msg}
}

func (s *ClientSession) onFailure(msg Message, err error) {
	s.mu.Lock()
	ch, ok := s.pending[msg.ID]
	s.mu.Unlock()
	if !ok {
		s.logger.WithError(err).Debug("failure for an id with no waiter")
		return
	}
	ch <- replyOrError{err: err}
}

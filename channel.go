package bayeux

import (
	"context"
	"strings"
	"sync"

	"github.com/obeattie/ohmyglob"
)

// GeneralListener observes every message delivered to a channel,
// meta or application (original spec §3, "listeners").
type GeneralListener func(channel Channel, msg Message)

// MessageListener observes application messages delivered to a
// non-meta channel (original spec §3, "subscribers").
type MessageListener func(channel Channel, msg Message)

// ChannelHandle is the interned entity behind a Channel path: the
// "Channel" object of the original spec's public API (§6), named
// ChannelHandle here because this package already uses Channel for
// the bare path type the teacher's wire-level code passes around
// (see DESIGN.md).
type ChannelHandle struct {
	path     Channel
	registry *ChannelRegistry

	mu          sync.Mutex
	listeners   map[int]GeneralListener
	subscribers map[int]MessageListener
	attributes  map[string]interface{}
	released    bool
	nextID      int
}

// SubscriptionID identifies a previously registered listener or
// subscriber so it can be removed again.
type SubscriptionID int

func newChannelHandle(path Channel, registry *ChannelRegistry) *ChannelHandle {
	return &ChannelHandle{
		path:        path,
		registry:    registry,
		listeners:   make(map[int]GeneralListener),
		subscribers: make(map[int]MessageListener),
		attributes:  make(map[string]interface{}),
	}
}

// Path returns the channel's path.
func (c *ChannelHandle) Path() Channel { return c.path }

// GetSession returns the ClientSession that owns this channel's
// registry (original spec §6, §9: "Channels hold a back reference to
// the session ... lookup-only").
func (c *ChannelHandle) GetSession() (*ClientSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkReleased("GetSession"); err != nil {
		return nil, err
	}
	return c.registry.session, nil
}

// Publish sends data on this (necessarily non-meta) channel through
// the owning session (original spec §6).
func (c *ChannelHandle) Publish(data []byte) error {
	c.mu.Lock()
	err := c.checkReleased("Publish")
	session := c.registry.session
	c.mu.Unlock()
	if err != nil {
		return err
	}
	if session == nil {
		return IllegalStateError{Op: "Publish", Channel: c.path}
	}
	return session.Publish(context.Background(), c.path, data)
}

func (c *ChannelHandle) checkReleased(op string) error {
	if c.released {
		return IllegalStateError{Op: op, Channel: c.path}
	}
	return nil
}

// AddListener registers a GeneralListener and returns an id for later
// removal.
func (c *ChannelHandle) AddListener(l GeneralListener) (SubscriptionID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkReleased("AddListener"); err != nil {
		return 0, err
	}
	id := c.nextID
	c.nextID++
	c.listeners[id] = l
	return SubscriptionID(id), nil
}

// RemoveListener removes a previously added GeneralListener.
func (c *ChannelHandle) RemoveListener(id SubscriptionID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkReleased("RemoveListener"); err != nil {
		return err
	}
	delete(c.listeners, int(id))
	return nil
}

// Subscribe registers a MessageListener for this (necessarily
// non-meta) channel.
func (c *ChannelHandle) Subscribe(l MessageListener) (SubscriptionID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkReleased("Subscribe"); err != nil {
		return 0, err
	}
	id := c.nextID
	c.nextID++
	c.subscribers[id] = l
	return SubscriptionID(id), nil
}

// Unsubscribe removes a previously registered MessageListener.
func (c *ChannelHandle) Unsubscribe(id SubscriptionID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkReleased("Unsubscribe"); err != nil {
		return err
	}
	delete(c.subscribers, int(id))
	return nil
}

// GetListeners returns a snapshot of currently registered general
// listeners.
func (c *ChannelHandle) GetListeners() ([]GeneralListener, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkReleased("GetListeners"); err != nil {
		return nil, err
	}
	out := make([]GeneralListener, 0, len(c.listeners))
	for _, l := range c.listeners {
		out = append(out, l)
	}
	return out, nil
}

// GetSubscribers returns a snapshot of currently registered message
// subscribers.
func (c *ChannelHandle) GetSubscribers() ([]MessageListener, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkReleased("GetSubscribers"); err != nil {
		return nil, err
	}
	out := make([]MessageListener, 0, len(c.subscribers))
	for _, l := range c.subscribers {
		out = append(out, l)
	}
	return out, nil
}

// IsReleased reports whether Release has already succeeded for this
// channel.
func (c *ChannelHandle) IsReleased() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released
}

// Release evicts the channel from its registry iff it currently has
// no listeners and no subscribers (original spec §3, §4.5). It is a
// no-op returning true if already released.
func (c *ChannelHandle) Release() bool {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return true
	}
	if len(c.listeners) > 0 || len(c.subscribers) > 0 {
		c.mu.Unlock()
		return false
	}
	c.released = true
	c.mu.Unlock()

	c.registry.evict(c.path, c)
	return true
}

// SetAttribute stores an opaque, channel-scoped key/value pair.
func (c *ChannelHandle) SetAttribute(key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkReleased("SetAttribute"); err != nil {
		return err
	}
	c.attributes[key] = value
	return nil
}

// GetAttribute retrieves a previously set attribute.
func (c *ChannelHandle) GetAttribute(key string) (interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkReleased("GetAttribute"); err != nil {
		return nil, err
	}
	v := c.attributes[key]
	return v, nil
}

// RemoveAttribute deletes a previously set attribute.
func (c *ChannelHandle) RemoveAttribute(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkReleased("RemoveAttribute"); err != nil {
		return err
	}
	delete(c.attributes, key)
	return nil
}

// GetAttributeNames lists the keys currently set on this channel.
func (c *ChannelHandle) GetAttributeNames() ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkReleased("GetAttributeNames"); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(c.attributes))
	for k := range c.attributes {
		names = append(names, k)
	}
	return names, nil
}

// deliver fan-outs msg to this channel's subscribers (if non-meta)
// and general listeners, outside of c.mu so that callbacks never run
// while the channel's internal lock is held (original spec §5).
func (c *ChannelHandle) deliver(msg Message) {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return
	}
	listeners := make([]GeneralListener, 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	var subscribers []MessageListener
	if !c.path.IsMeta() {
		subscribers = make([]MessageListener, 0, len(c.subscribers))
		for _, s := range c.subscribers {
			subscribers = append(subscribers, s)
		}
	}
	c.mu.Unlock()

	for _, l := range listeners {
		safeCallListener(func() { l(c.path, msg) })
	}
	for _, s := range subscribers {
		safeCallListener(func() { s(c.path, msg) })
	}
}

func safeCallListener(f func()) {
	defer func() { _ = recover() }()
	f()
}

// ChannelRegistry interns ChannelHandle instances per path and
// dispatches incoming messages to them, including wildcard channels
// (original spec C7, §4.5).
type ChannelRegistry struct {
	mu       sync.RWMutex
	entries  map[Channel]*ChannelHandle
	wildcard map[Channel]ohmyglob.Glob
	session  *ClientSession
}

// NewChannelRegistry returns an empty registry.
func NewChannelRegistry() *ChannelRegistry {
	return &ChannelRegistry{
		entries:  make(map[Channel]*ChannelHandle),
		wildcard: make(map[Channel]ohmyglob.Glob),
	}
}

// bindSession records the ClientSession that owns this registry, so
// every ChannelHandle it interns can resolve GetSession/Publish. It
// is called once, from NewClientSession, before the session is handed
// to its caller -- no lock is needed since no channel lookup can race
// it before that point.
func (r *ChannelRegistry) bindSession(s *ClientSession) {
	r.session = s
}

// Get returns the interned ChannelHandle for path, creating one if
// none is interned (original spec "Interning": "registry.get(p) ==
// registry.get(p) so long as no successful release() has
// intervened").
func (r *ChannelRegistry) Get(path Channel) *ChannelHandle {
	r.mu.RLock()
	if h, ok := r.entries[path]; ok {
		r.mu.RUnlock()
		return h
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.entries[path]; ok {
		return h
	}
	h := newChannelHandle(path, r)
	r.entries[path] = h
	if isWildcardPath(path) {
		if g, err := ohmyglob.Compile(string(path), &ohmyglob.Options{Separator: "/"}); err == nil {
			r.wildcard[path] = g
		}
	}
	return h
}

func isWildcardPath(path Channel) bool {
	return strings.Contains(string(path), "*")
}

// evict removes h from the registry iff it is still the interned
// instance for its path (guards against a racing Get that already
// created a replacement).
func (r *ChannelRegistry) evict(path Channel, h *ChannelHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.entries[path]; ok && current == h {
		delete(r.entries, path)
		delete(r.wildcard, path)
	}
}

// Dispatch delivers msg to the exact-path channel for msg.Channel, if
// interned, plus every interned wildcard channel whose glob matches
// msg.Channel (original spec §4.5 "Dispatch").
func (r *ChannelRegistry) Dispatch(msg Message) {
	r.mu.RLock()
	exact := r.entries[msg.Channel]
	var matches []*ChannelHandle
	for path, g := range r.wildcard {
		if g.MatchString(string(msg.Channel)) {
			if h, ok := r.entries[path]; ok {
				matches = append(matches, h)
			}
		}
	}
	r.mu.RUnlock()

	if exact != nil {
		exact.deliver(msg)
	}
	for _, h := range matches {
		h.deliver(msg)
	}
}

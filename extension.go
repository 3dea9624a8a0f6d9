package bayeux

import "sync"

// MessageExtender is a named interceptor with optional incoming and
// outgoing hooks (original spec C6, glossary "Extension"). Both hooks
// are always called; one with nothing to do returns true. A veto
// (returning false) short-circuits further processing of that message
// in that direction.
type MessageExtender interface {
	// Incoming runs on every message received from the server. It may
	// mutate msg in place. Returning false vetoes delivery.
	Incoming(msg *Message) bool
	// Outgoing runs on every message about to be sent. It may mutate
	// msg in place. Returning false drops the message instead of
	// sending it.
	Outgoing(msg *Message) bool
}

// namedExtension pairs a MessageExtender with the name it was
// registered under.
type namedExtension struct {
	name string
	ext  MessageExtender
}

// extensionChain is an ordered list of named extensions run against
// every outgoing and incoming message (original spec C6). Both
// directions run in registration order; the original spec leaves
// incoming order as an open question and this implementation resolves
// it to match outgoing (see SPEC_FULL.md §6).
type extensionChain struct {
	mu   sync.RWMutex
	exts []namedExtension
}

func newExtensionChain() *extensionChain {
	return &extensionChain{}
}

// register appends ext under name. It fails if name is already used.
func (c *extensionChain) register(name string, ext MessageExtender) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.exts {
		if e.name == name {
			return AlreadyRegisteredError{Name: name}
		}
	}
	c.exts = append(c.exts, namedExtension{name, ext})
	return nil
}

// unregister removes the extension registered under name, reporting
// whether one was found.
func (c *extensionChain) unregister(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, e := range c.exts {
		if e.name == name {
			c.exts = append(c.exts[:i], c.exts[i+1:]...)
			return true
		}
	}
	return false
}

// runIncoming runs every extension's Incoming hook in registration
// order against msg. It returns false the moment one vetoes,
// preventing dispatch of that message.
func (c *extensionChain) runIncoming(msg *Message) bool {
	c.mu.RLock()
	exts := make([]namedExtension, len(c.exts))
	copy(exts, c.exts)
	c.mu.RUnlock()

	for _, e := range exts {
		if !e.ext.Incoming(msg) {
			return false
		}
	}
	return true
}

// runOutgoing runs every extension's Outgoing hook in registration
// order against msg. It returns false the moment one vetoes,
// preventing the message from being sent.
func (c *extensionChain) runOutgoing(msg *Message) bool {
	c.mu.RLock()
	exts := make([]namedExtension, len(c.exts))
	copy(exts, c.exts)
	c.mu.RUnlock()

	for _, e := range exts {
		if !e.ext.Outgoing(msg) {
			return false
		}
	}
	return true
}

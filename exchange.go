package bayeux

import (
	"sync"
)

// exchangeListener is notified exactly once when an exchange
// completes, expires, or is aborted.
type exchangeListener interface {
	onReply(Message)
	onFailure(error)
}

// exchange is the tracking record for a single in-flight request
// (original spec §3, "Exchange"). Completion is exactly-once: the
// table itself enforces that by removing the entry before notifying.
type exchange struct {
	msg      Message
	listener exchangeListener
	cancel   CancelFunc
}

// exchangeTable maps outgoing message id to its pending exchange
// (original spec §4.1). It is safe for concurrent use by the send
// path, the receive path and the scheduler's expiry firings.
type exchangeTable struct {
	mu      sync.Mutex
	entries map[string]*exchange
}

func newExchangeTable() *exchangeTable {
	return &exchangeTable{entries: make(map[string]*exchange)}
}

// register inserts x under id. A prior entry for the same id is a
// programming error: the caller generated a colliding correlation
// key, which should never happen with newMessageID. That invariant is
// fatal per the original spec ("insertion must observe no prior
// entry... violation is a programming error").
func (t *exchangeTable) register(id string, x *exchange) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.entries[id]; exists {
		panic("bayeux: duplicate exchange id " + id)
	}
	t.entries[id] = x
}

// complete removes and returns the exchange for id, or (nil, false)
// if it is already gone -- either completed by a racing reply/timer,
// or never registered (e.g. an expired reply arriving late). The
// expiry timer is cancelled after removal, per the original spec
// §4.1: deregistration must not leave a timer armed.
func (t *exchangeTable) complete(id string) (*exchange, bool) {
	t.mu.Lock()
	x, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	t.mu.Unlock()
	if !ok {
		return nil, false
	}
	if x.cancel != nil {
		x.cancel()
	}
	return x, true
}

// drain removes and returns every pending exchange, used on transport
// shutdown to fail everything outstanding. Every timer is cancelled
// after removal, same as complete.
func (t *exchangeTable) drain() []*exchange {
	t.mu.Lock()
	out := make([]*exchange, 0, len(t.entries))
	for id, x := range t.entries {
		out = append(out, x)
		delete(t.entries, id)
	}
	t.mu.Unlock()
	for _, x := range out {
		if x.cancel != nil {
			x.cancel()
		}
	}
	return out
}

// len reports how many exchanges are currently pending. Intended for
// tests and diagnostics only.
func (t *exchangeTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

package bayeux

import "testing"

type fnExtension struct {
	incoming func(*Message) bool
	outgoing func(*Message) bool
}

func (f *fnExtension) Incoming(m *Message) bool {
	if f.incoming == nil {
		return true
	}
	return f.incoming(m)
}

func (f *fnExtension) Outgoing(m *Message) bool {
	if f.outgoing == nil {
		return true
	}
	return f.outgoing(m)
}

func TestExtensionChainRunsInRegistrationOrder(t *testing.T) {
	c := newExtensionChain()
	var order []string

	_ = c.register("first", &fnExtension{outgoing: func(m *Message) bool {
		order = append(order, "first")
		return true
	}})
	_ = c.register("second", &fnExtension{outgoing: func(m *Message) bool {
		order = append(order, "second")
		return true
	}})

	msg := Message{Channel: "/chat/demo"}
	if !c.runOutgoing(&msg) {
		t.Fatal("runOutgoing should not veto when no extension vetoes")
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("extensions ran out of registration order: %v", order)
	}
}

func TestExtensionChainVetoShortCircuits(t *testing.T) {
	c := newExtensionChain()
	ranSecond := false

	_ = c.register("vetoer", &fnExtension{incoming: func(m *Message) bool { return false }})
	_ = c.register("never-runs", &fnExtension{incoming: func(m *Message) bool {
		ranSecond = true
		return true
	}})

	msg := Message{Channel: "/chat/demo"}
	if c.runIncoming(&msg) {
		t.Fatal("runIncoming should report false once an extension vetoes")
	}
	if ranSecond {
		t.Fatal("an extension after the vetoing one should not run")
	}
}

func TestExtensionChainDuplicateNameRejected(t *testing.T) {
	c := newExtensionChain()
	ext := &fnExtension{}
	if err := c.register("dup", ext); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := c.register("dup", ext); err == nil {
		t.Fatal("registering the same name twice should fail")
	}
}

func TestExtensionChainUnregister(t *testing.T) {
	c := newExtensionChain()
	_ = c.register("only", &fnExtension{})

	if !c.unregister("only") {
		t.Fatal("unregister should report true for a registered name")
	}
	if c.unregister("only") {
		t.Fatal("unregister should report false the second time")
	}
}

func TestExtensionChainMutatesInPlace(t *testing.T) {
	c := newExtensionChain()
	_ = c.register("stamp", &fnExtension{outgoing: func(m *Message) bool {
		m.Ext = []byte(`{"stamped":true}`)
		return true
	}})

	msg := Message{Channel: "/chat/demo"}
	c.runOutgoing(&msg)
	if string(msg.Ext) != `{"stamped":true}` {
		t.Fatalf("extension mutation did not propagate: %s", msg.Ext)
	}
}

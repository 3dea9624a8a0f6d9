package bayeux

import "testing"

func TestChannelIsMeta(t *testing.T) {
	cases := map[Channel]bool{
		MetaHandshake:  true,
		MetaConnect:    true,
		"/chat/demo":   false,
		emptyChannel:   false,
		"/meta":        false,
	}
	for ch, want := range cases {
		if got := ch.IsMeta(); got != want {
			t.Errorf("Channel(%q).IsMeta() = %v, want %v", ch, got, want)
		}
	}
}

func TestAdviceShouldHandshake(t *testing.T) {
	var nilAdvice *Advice
	if nilAdvice.ShouldHandshake() {
		t.Error("nil advice should never request a re-handshake")
	}

	a := &Advice{Reconnect: ReconnectHandshake}
	if !a.ShouldHandshake() {
		t.Error("advice with reconnect=handshake should request a re-handshake")
	}
	if a.ShouldStop() {
		t.Error("reconnect=handshake should not also mean stop")
	}
}

func TestAdviceShouldStop(t *testing.T) {
	a := &Advice{Reconnect: ReconnectNone}
	if !a.ShouldStop() {
		t.Error("advice with reconnect=none should mean stop")
	}
}

func TestNewMessageIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := newMessageID()
		if seen[id] {
			t.Fatalf("newMessageID returned a duplicate: %s", id)
		}
		seen[id] = true
	}
}

package bayeux

import (
	"context"
	"testing"
)

// fakeTransport is a minimal Transport that answers every message with
// a successful reply on the spot, letting tests drive doConnect
// without a real socket.
type fakeTransport struct {
	kind string
}

func (f *fakeTransport) Init(TransportOptions) error { return nil }
func (f *fakeTransport) Accept(string) bool          { return true }

func (f *fakeTransport) Send(ctx context.Context, listener transportListener, batch []Message) error {
	for _, m := range batch {
		reply := m
		reply.Successful = true
		if m.Channel == MetaConnect {
			reply.Advice = &Advice{Reconnect: ReconnectRetry, Interval: 0}
		}
		listener.onReply(reply)
	}
	return nil
}

func (f *fakeTransport) Abort()                {}
func (f *fakeTransport) Reset()                {}
func (f *fakeTransport) Terminate()            {}
func (f *fakeTransport) transportType() string { return f.kind }

func TestDoConnectAdvancesStateMachineToConnected(t *testing.T) {
	session, err := NewClientSession("http://example.invalid")
	if err != nil {
		t.Fatalf("NewClientSession: %v", err)
	}
	session.transport = &fakeTransport{kind: ConnectionTypeWebsocket}
	session.setClientID("client-1")
	if err := session.stateMachine.ProcessEvent(handshakeSent); err != nil {
		t.Fatalf("handshakeSent: %v", err)
	}
	if err := session.stateMachine.ProcessEvent(successfullyConnected); err != nil {
		t.Fatalf("successfullyConnected: %v", err)
	}
	if session.stateMachine.State() != stateConnecting {
		t.Fatalf("precondition: state = %v, want CONNECTING", session.stateMachine.State())
	}

	if err := session.doConnect(); err != nil {
		t.Fatalf("doConnect: %v", err)
	}

	if session.stateMachine.State() != stateConnected {
		t.Fatalf("state after first successful /meta/connect = %v, want CONNECTED", session.stateMachine.State())
	}
}

func TestDoConnectStaysConnectedOnSubsequentConnects(t *testing.T) {
	session, err := NewClientSession("http://example.invalid")
	if err != nil {
		t.Fatalf("NewClientSession: %v", err)
	}
	session.transport = &fakeTransport{kind: ConnectionTypeWebsocket}
	session.setClientID("client-1")
	_ = session.stateMachine.ProcessEvent(handshakeSent)
	_ = session.stateMachine.ProcessEvent(successfullyConnected)

	if err := session.doConnect(); err != nil {
		t.Fatalf("first doConnect: %v", err)
	}
	if err := session.doConnect(); err != nil {
		t.Fatalf("second doConnect: %v", err)
	}
	if session.stateMachine.State() != stateConnected {
		t.Fatalf("state = %v, want CONNECTED", session.stateMachine.State())
	}
}

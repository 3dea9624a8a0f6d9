package bayeux

import "testing"

func TestHandshakeRequestBuilderRequiresVersionAndType(t *testing.T) {
	if _, err := NewHandshakeRequestBuilder().Build(); err == nil {
		t.Fatal("Build should fail without a version or connection type")
	}

	b := NewHandshakeRequestBuilder()
	if err := b.AddVersion("1.0"); err != nil {
		t.Fatalf("AddVersion: %v", err)
	}
	if _, err := b.Build(); err == nil {
		t.Fatal("Build should still fail without a connection type")
	}

	if err := b.AddSupportedConnectionType(ConnectionTypeWebsocket); err != nil {
		t.Fatalf("AddSupportedConnectionType: %v", err)
	}
	msgs, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Channel != MetaHandshake {
		t.Fatalf("unexpected handshake message: %+v", msgs)
	}
}

func TestConnectRequestBuilderRequiresClientID(t *testing.T) {
	b := NewConnectRequestBuilder()
	if _, err := b.Build(); err == nil {
		t.Fatal("Build should fail without a clientId")
	}

	b.AddClientID("abc123")
	if err := b.AddConnectionType(ConnectionTypeWebsocket); err != nil {
		t.Fatalf("AddConnectionType: %v", err)
	}
	msgs, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if msgs[0].ClientID != "abc123" || msgs[0].ConnectionType != ConnectionTypeWebsocket {
		t.Fatalf("unexpected connect message: %+v", msgs[0])
	}
}

func TestSubscribeRequestBuilderOneMessagePerChannel(t *testing.T) {
	b := NewSubscribeRequestBuilder().AddClientID("abc123")
	if err := b.AddSubscription("/chat/a"); err != nil {
		t.Fatalf("AddSubscription: %v", err)
	}
	if err := b.AddSubscription("/chat/b"); err != nil {
		t.Fatalf("AddSubscription: %v", err)
	}

	msgs, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected one message per subscription, got %d", len(msgs))
	}
	for _, m := range msgs {
		if m.Channel != MetaSubscribe || m.ClientID != "abc123" {
			t.Fatalf("unexpected subscribe message: %+v", m)
		}
	}
}

func TestUnsubscribeRequestBuilderRequiresChannel(t *testing.T) {
	b := NewUnsubscribeRequestBuilder().AddClientID("abc123")
	if _, err := b.Build(); err == nil {
		t.Fatal("Build should fail without any subscription")
	}
}

func TestDisconnectRequestBuilder(t *testing.T) {
	msgs, err := NewDisconnectRequestBuilder().AddClientID("abc123").Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if msgs[0].Channel != MetaDisconnect {
		t.Fatalf("unexpected channel: %v", msgs[0].Channel)
	}
}

func TestPublishRequestBuilderRejectsMetaChannel(t *testing.T) {
	_, err := NewPublishRequestBuilder(MetaHandshake).AddClientID("abc123").AddData([]byte(`"x"`)).Build()
	if err == nil {
		t.Fatal("publishing on a meta channel should be rejected")
	}
}

func TestPublishRequestBuilderAssignsID(t *testing.T) {
	msgs, err := NewPublishRequestBuilder("/chat/demo").AddClientID("abc123").AddData([]byte(`"hi"`)).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if msgs[0].ID == "" {
		t.Fatal("Build should assign a message id")
	}
}

package bayeux_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cstub/bayeux"
	"github.com/cstub/bayeux/bayeuxtest"
)

func TestClientSessionHandshakeAndSubscribe(t *testing.T) {
	srv := bayeuxtest.NewServer(t)
	defer srv.Close()
	srv.Handle("/meta/handshake", bayeuxtest.HandshakeReply("client-123"))
	srv.Handle("/meta/connect", bayeuxtest.ConnectReply(bayeux.ReconnectRetry, 0))

	session, err := bayeux.NewClientSession(srv.URL())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, session.Handshake(ctx))
	require.True(t, session.IsConnected())

	var mu sync.Mutex
	var received []bayeux.Message
	_, err = session.Subscribe(ctx, "/chat/demo", func(ch bayeux.Channel, msg bayeux.Message) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, msg)
	})
	require.NoError(t, err)

	srv.Push("/chat/demo", "hello")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClientSessionDisconnect(t *testing.T) {
	srv := bayeuxtest.NewServer(t)
	defer srv.Close()
	srv.Handle("/meta/handshake", bayeuxtest.HandshakeReply("client-456"))
	srv.Handle("/meta/connect", bayeuxtest.ConnectReply(bayeux.ReconnectRetry, 0))

	session, err := bayeux.NewClientSession(srv.URL())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, session.Handshake(ctx))
	require.NoError(t, session.Disconnect(ctx))
}

func TestClientSessionPublishWithoutHandshakeFails(t *testing.T) {
	srv := bayeuxtest.NewServer(t)
	defer srv.Close()

	session, err := bayeux.NewClientSession(srv.URL())
	require.NoError(t, err)

	err = session.Publish(context.Background(), "/chat/demo", []byte(`"hi"`))
	require.Error(t, err)
}

func TestClientSessionAddExtensionRejectsDuplicateName(t *testing.T) {
	srv := bayeuxtest.NewServer(t)
	defer srv.Close()
	srv.Handle("/meta/handshake", bayeuxtest.HandshakeReply("client-789"))
	srv.Handle("/meta/connect", bayeuxtest.ConnectReply(bayeux.ReconnectRetry, 0))

	session, err := bayeux.NewClientSession(srv.URL())
	require.NoError(t, err)

	require.NoError(t, session.AddExtension("blocker", &passThroughExtension{}))

	err = session.AddExtension("blocker", &passThroughExtension{})
	require.Error(t, err, "registering the same extension name twice should fail")
}

type passThroughExtension struct{}

func (passThroughExtension) Incoming(*bayeux.Message) bool { return true }
func (passThroughExtension) Outgoing(*bayeux.Message) bool { return true }

package bayeux

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// echoUpgraderServer accepts WebSocket connections and echoes every
// batch back as a successful reply per message, enough to drive Send
// without a full bayeuxtest.Server.
func echoUpgraderServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for {
			var batch []map[string]interface{}
			if err := conn.ReadJSON(&batch); err != nil {
				return
			}
			replies := make([]map[string]interface{}, 0, len(batch))
			for _, m := range batch {
				replies = append(replies, map[string]interface{}{
					"id":         m["id"],
					"channel":    m["channel"],
					"successful": true,
				})
			}
			if err := conn.WriteJSON(replies); err != nil {
				return
			}
		}
	}))
}

func TestWebSocketTransportSendAndReceive(t *testing.T) {
	srv := echoUpgraderServer(t)
	defer srv.Close()

	transport, err := NewWebSocketTransport(srv.URL, nil)
	require.NoError(t, err)
	require.NoError(t, transport.Init(DefaultTransportOptions()))
	defer transport.Reset()

	type outcome struct {
		msg Message
		err error
	}
	replies := make(chan outcome, 1)
	listener := &funcTransportListener{
		reply:   func(m Message) { replies <- outcome{msg: m} },
		failure: func(m Message, err error) { replies <- outcome{msg: m, err: err} },
	}

	msg := Message{ID: "req-1", Channel: MetaHandshake}
	err = transport.Send(context.Background(), listener, []Message{msg})
	require.NoError(t, err)

	select {
	case o := <-replies:
		require.NoError(t, o.err)
		require.True(t, o.msg.Successful)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reply")
	}
}

func TestWebSocketTransportAbortFailsPending(t *testing.T) {
	srv := echoUpgraderServer(t)
	defer srv.Close()

	transport, err := NewWebSocketTransport(srv.URL, nil)
	require.NoError(t, err)
	require.NoError(t, transport.Init(DefaultTransportOptions()))

	failures := make(chan error, 1)
	listener := &funcTransportListener{
		failure: func(m Message, err error) { failures <- err },
	}

	// Register an exchange directly so Abort has something pending,
	// without racing the server's own (fast) reply.
	transport.table.register("pending-1", &exchange{
		msg:      Message{ID: "pending-1"},
		listener: &transportExchangeAdapter{msg: Message{ID: "pending-1"}, listener: listener},
	})

	transport.Abort()

	select {
	case err := <-failures:
		require.ErrorIs(t, err, ErrAborted)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for abort failure")
	}
}

func TestToWebSocketURLRewritesScheme(t *testing.T) {
	cases := map[string]string{
		"http://example.com/bayeux":  "ws://example.com/bayeux",
		"https://example.com/bayeux": "wss://example.com/bayeux",
	}
	for in, want := range cases {
		got, err := toWebSocketURL(in)
		require.NoError(t, err)
		require.Equal(t, want, got.String())
	}
}

// funcTransportListener adapts plain funcs to the transportListener
// interface for tests that only care about one or two hooks.
type funcTransportListener struct {
	sending func(batch []Message)
	onMsgs  func(batch []Message)
	reply   func(m Message)
	failure func(m Message, err error)
}

func (f *funcTransportListener) onSending(batch []Message) {
	if f.sending != nil {
		f.sending(batch)
	}
}

func (f *funcTransportListener) onMessages(batch []Message) {
	if f.onMsgs != nil {
		f.onMsgs(batch)
	}
}

func (f *funcTransportListener) onReply(m Message) {
	if f.reply != nil {
		f.reply(m)
	}
}

func (f *funcTransportListener) onFailure(m Message, err error) {
	if f.failure != nil {
		f.failure(m, err)
	}
}

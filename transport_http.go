package bayeux

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"

	"golang.org/x/net/publicsuffix"
)

// HTTPTransport is the long-polling fallback used once the WebSocket
// transport has permanently rejected its upgrade (original spec §4.3,
// "session falls back to the next transport"). Adapted from the
// teacher's BayeuxTransportHttp: one HTTP POST per batch, correlating
// replies by channel rather than by a persistent connection.
type HTTPTransport struct {
	client        *http.Client
	serverAddress *url.URL

	mu         sync.Mutex
	terminated bool
	aborted    bool
}

// NewHTTPTransport creates an HTTP long-polling transport posting
// batches to serverAddress. A nil client gets a default one with a
// public-suffix-aware cookie jar, matching the teacher.
func NewHTTPTransport(client *http.Client, roundTripper http.RoundTripper, serverAddress string) (*HTTPTransport, error) {
	if client == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, err
		}
		client = &http.Client{Jar: jar}
	}
	if roundTripper == nil {
		roundTripper = http.DefaultTransport
	}
	client.Transport = roundTripper

	parsed, err := url.Parse(serverAddress)
	if err != nil {
		return nil, err
	}

	return &HTTPTransport{client: client, serverAddress: parsed}, nil
}

func (t *HTTPTransport) transportType() string { return ConnectionTypeLongPolling }

// Init only clears the terminated/aborted flags: the http.Client is
// fully configured at construction and there is no owned Scheduler.
func (t *HTTPTransport) Init(opts TransportOptions) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.terminated = false
	t.aborted = false
	return nil
}

// Accept always reports true: the long-polling transport has no
// upgrade step to be rejected on.
func (t *HTTPTransport) Accept(bayeuxVersion string) bool { return true }

// Send posts batch as a single JSON array and dispatches the parsed
// response by channel, not by id: messages whose channel matches a
// message in the batch are replies, everything else is a push.
func (t *HTTPTransport) Send(ctx context.Context, listener transportListener, batch []Message) error {
	t.mu.Lock()
	aborted := t.aborted
	t.mu.Unlock()
	if aborted {
		for _, m := range batch {
			listener.onFailure(m, ErrAborted)
		}
		return ErrAborted
	}

	for i := range batch {
		if batch[i].ID == "" {
			batch[i].ID = newMessageID()
		}
	}
	listener.onSending(batch)

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(batch); err != nil {
		for _, m := range batch {
			listener.onFailure(m, err)
		}
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.serverAddress.String(), &buf)
	if err != nil {
		for _, m := range batch {
			listener.onFailure(m, err)
		}
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		for _, m := range batch {
			listener.onFailure(m, err)
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		badResp := BadResponseError{resp.StatusCode, resp.Status, body}
		for _, m := range batch {
			listener.onFailure(m, badResp)
		}
		return badResp
	}

	var reply []Message
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		for _, m := range batch {
			listener.onFailure(m, err)
		}
		return err
	}

	requested := make(map[Channel]Message, len(batch))
	for _, m := range batch {
		requested[m.Channel] = m
	}

	var pushes []Message
	for _, m := range reply {
		if _, ok := requested[m.Channel]; ok {
			listener.onReply(m)
			continue
		}
		pushes = append(pushes, m)
	}
	if len(pushes) > 0 {
		listener.onMessages(pushes)
	}
	return nil
}

// Abort marks the transport so future Send calls fail immediately.
// The long-polling transport has no persistent connection to tear
// down and no pending exchanges of its own to drain.
func (t *HTTPTransport) Abort() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.aborted = true
}

// Reset clears the aborted/terminated flags so the transport can be
// reused after Init.
func (t *HTTPTransport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.aborted = false
	t.terminated = false
}

// Terminate marks the transport as shut down.
func (t *HTTPTransport) Terminate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.terminated = true
}

package wsworker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/didcomm-mediator/mediator/acl"
	"github.com/didcomm-mediator/mediator/did"
	"github.com/didcomm-mediator/mediator/dispatcher"
	"github.com/didcomm-mediator/mediator/live"
	"github.com/didcomm-mediator/mediator/session"
)

type fixedACLs struct {
	set acl.Set
}

func (f fixedACLs) Get(ctx context.Context, didHash string) (acl.Set, error) {
	return f.set, nil
}

func withLocal() acl.Set {
	s := acl.NewSet()
	s.Set(acl.BitLocal)
	return s
}

func newTestServer(t *testing.T, acls ACLProvider, coord Coordinator) (*Server, *session.Record) {
	t.Helper()
	rec := &session.Record{ID: "sess-1", DID: "did:web:alice.example"}
	d := &dispatcher.Dispatcher{MediatorDID: "did:web:mediator.example"}
	s := NewServer(nil, nil, d, coord, acls, 0)
	return s, rec
}

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(url, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return conn
}

func TestHandlerRejectsWithoutLocalBit(t *testing.T) {
	s, rec := newTestServer(t, fixedACLs{set: acl.NewSet()}, live.NewCoordinator(live.NewMemoryPubSub(), live.NewMemoryStateStore(), "CHANNEL:test"))
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rw := httptest.NewRecorder()

	err := s.Handler(rw, req, rec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not permitted")
}

func TestWorkerRegistersAndReceivesCoordinatorPush(t *testing.T) {
	ps := live.NewMemoryPubSub()
	state := live.NewMemoryStateStore()
	coord := live.NewCoordinator(ps, state, "CHANNEL:test-mediator")
	ctx, cancel := context.WithCancel(context.Background())
	coord.Start(ctx)
	t.Cleanup(func() { cancel(); coord.Close() })

	s, rec := newTestServer(t, fixedACLs{set: withLocal()}, coord)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		_ = s.Handler(w, r, rec)
	})
	testServer := httptest.NewServer(mux)
	defer testServer.Close()

	conn := dialWS(t, testServer.URL+"/ws")
	defer conn.Close()

	require.NoError(t, coord.SetActive(didHashOf(rec.DID), true))
	require.NoError(t, ps.Publish(context.Background(), "CHANNEL:test-mediator", live.PubSubMessage{
		DIDHash: didHashOf(rec.DID),
		Message: []byte("hello"),
	}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	assert.Equal(t, "hello", string(data))
}

func TestWorkerIgnoresOversizedFrame(t *testing.T) {
	ps := live.NewMemoryPubSub()
	state := live.NewMemoryStateStore()
	coord := live.NewCoordinator(ps, state, "CHANNEL:test-mediator")
	ctx, cancel := context.WithCancel(context.Background())
	coord.Start(ctx)
	t.Cleanup(func() { cancel(); coord.Close() })

	s, rec := newTestServer(t, fixedACLs{set: withLocal()}, coord)
	s.MaxFrameLen = 4
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		_ = s.Handler(w, r, rec)
	})
	testServer := httptest.NewServer(mux)
	defer testServer.Close()

	conn := dialWS(t, testServer.URL+"/ws")
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("way too long for the cap")))

	// A forced push still arrives, proving the oversized frame above never
	// reached the dispatcher (it would have errored on garbage ciphertext,
	// not crashed the worker either way, but this keeps the assertion tight).
	require.NoError(t, ps.Publish(context.Background(), "CHANNEL:test-mediator", live.PubSubMessage{
		DIDHash:       didHashOf(rec.DID),
		Message:       []byte("still-alive"),
		ForceDelivery: true,
	}))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "still-alive", string(data))
}

func TestCoordinatorCloseSendsDuplicateChannelReport(t *testing.T) {
	ps := live.NewMemoryPubSub()
	state := live.NewMemoryStateStore()
	coord := live.NewCoordinator(ps, state, "CHANNEL:test-mediator")
	ctx, cancel := context.WithCancel(context.Background())
	coord.Start(ctx)
	t.Cleanup(func() { cancel(); coord.Close() })

	s, rec := newTestServer(t, fixedACLs{set: withLocal()}, coord)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		_ = s.Handler(w, r, rec)
	})
	testServer := httptest.NewServer(mux)
	defer testServer.Close()

	first := dialWS(t, testServer.URL+"/ws")
	defer first.Close()

	// A second registration for the same DID hash replaces the first and
	// triggers Close("duplicate-channel") on it.
	second := dialWS(t, testServer.URL+"/ws")
	defer second.Close()

	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := first.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), "duplicate-channel")
}

func didHashOf(d string) string {
	return did.DID(d).Hash()
}

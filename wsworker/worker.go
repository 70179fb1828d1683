// Package wsworker bridges an accepted websocket connection to the
// dispatcher and live-delivery coordinator (spec §4.10). One worker task is
// bound to exactly one authenticated session, grounded on the teacher's
// pkg/agent/transport/websocket/server.go Upgrader/Handler/handleConnection
// shape but reworked around a per-connection coordinator registration rather
// than a plain request/response handler.
package wsworker

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/didcomm-mediator/mediator/acl"
	"github.com/didcomm-mediator/mediator/apperr"
	"github.com/didcomm-mediator/mediator/did"
	"github.com/didcomm-mediator/mediator/dispatcher"
	"github.com/didcomm-mediator/mediator/envelope"
	"github.com/didcomm-mediator/mediator/live"
	"github.com/didcomm-mediator/mediator/session"
)

// Coordinator is the subset of live.Coordinator the worker drives.
type Coordinator interface {
	Register(didHash string, endpoint live.Endpoint) error
	Deregister(didHash string) error
}

// ACLProvider resolves the ACL bitfield the worker needs for its upgrade
// precondition (the `local` bit, spec §4.10).
type ACLProvider interface {
	Get(ctx context.Context, didHash string) (acl.Set, error)
}

// Server upgrades authenticated HTTP requests to websocket connections and
// runs one worker task per accepted socket.
type Server struct {
	Resolver    did.Resolver
	Decryptor   *envelope.Decryptor
	Dispatcher  *dispatcher.Dispatcher
	Coordinator Coordinator
	ACLs        ACLProvider
	MaxFrameLen int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	upgrader websocket.Upgrader
}

// NewServer builds a Server with the teacher's upgrader defaults (1024-byte
// read/write buffers, CheckOrigin left permissive pending an allowlist
// configuration knob upstream).
func NewServer(resolver did.Resolver, decryptor *envelope.Decryptor, d *dispatcher.Dispatcher, coord Coordinator, acls ACLProvider, maxFrameLen int) *Server {
	return &Server{
		Resolver:     resolver,
		Decryptor:    decryptor,
		Dispatcher:   d,
		Coordinator:  coord,
		ACLs:         acls,
		MaxFrameLen:  maxFrameLen,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Second,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handler upgrades the connection bound to rec (the already-authenticated
// bearer session, resolved by the caller's HTTP middleware) and blocks for
// the lifetime of the socket.
func (s *Server) Handler(w http.ResponseWriter, r *http.Request, rec *session.Record) error {
	didHash := did.DID(rec.DID).Hash()

	set, err := s.ACLs.Get(r.Context(), didHash)
	if err != nil {
		return err
	}
	if !set.Has(acl.BitLocal) {
		return apperr.New(apperr.KindACLDenied, "session is not permitted to open a websocket")
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return apperr.Wrap(apperr.KindInternalError, "upgrade websocket", err)
	}

	worker := &workerConn{
		server:  s,
		conn:    conn,
		rec:     rec,
		didHash: didHash,
		push:    make(chan []byte, 16),
		closeCh: make(chan string, 1),
		done:    make(chan struct{}),
	}
	return worker.run(r.Context())
}

// workerConn is one live.Endpoint backed by one open socket.
type workerConn struct {
	server  *Server
	conn    *websocket.Conn
	rec     *session.Record
	didHash string

	push    chan []byte
	closeCh chan string
	done    chan struct{}
}

var _ live.Endpoint = (*workerConn)(nil)

// Send implements live.Endpoint: queues a text frame for the writer side of
// the event loop.
func (w *workerConn) Send(message []byte) error {
	select {
	case w.push <- message:
		return nil
	case <-w.done:
		return apperr.New(apperr.KindInternalError, "websocket worker has exited")
	}
}

// Close implements live.Endpoint: the coordinator is replacing this
// registration with a newer one (spec's duplicate-channel case).
func (w *workerConn) Close(reason string) error {
	select {
	case w.closeCh <- reason:
		return nil
	case <-w.done:
		return nil
	}
}

func (w *workerConn) run(ctx context.Context) error {
	defer close(w.done)
	defer w.conn.Close()

	if err := w.server.Coordinator.Register(w.didHash, w); err != nil {
		return err
	}
	deregisterOnExit := true
	defer func() {
		if deregisterOnExit {
			_ = w.server.Coordinator.Deregister(w.didHash)
		}
	}()

	inbound := make(chan []byte)
	readErrs := make(chan error, 1)
	go w.readLoop(inbound, readErrs)

	for {
		select {
		case <-ctx.Done():
			return nil

		case reason := <-w.closeCh:
			deregisterOnExit = false // coordinator already cleared its registration
			w.sendDuplicateChannelReport(reason)
			_ = w.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
			return nil

		case msg := <-w.push:
			if err := w.writeText(msg); err != nil {
				return err
			}

		case frame, ok := <-inbound:
			if !ok {
				return <-readErrs
			}
			w.handleFrame(ctx, frame)
		}
	}
}

func (w *workerConn) readLoop(out chan<- []byte, errs chan<- error) {
	defer close(out)
	for {
		_ = w.conn.SetReadDeadline(time.Now().Add(w.server.ReadTimeout))
		kind, data, err := w.conn.ReadMessage()
		if err != nil {
			errs <- nil
			return
		}
		if kind != websocket.TextMessage {
			continue // non-text frames are ignored
		}
		if w.server.MaxFrameLen > 0 && len(data) > w.server.MaxFrameLen {
			continue
		}
		select {
		case out <- data:
		case <-w.done:
			return
		}
	}
}

func (w *workerConn) handleFrame(ctx context.Context, frame []byte) {
	req, err := dispatcher.BuildRequest(ctx, frame, w.server.Resolver, w.server.Decryptor, w.rec, time.Now())
	if err != nil {
		return
	}
	resp, err := w.server.Dispatcher.Dispatch(ctx, req)
	if err != nil || resp == nil || resp.Inline == nil {
		return
	}
	// A response addressed back to this same DID arrives through the
	// coordinator's push path rather than being written inline here, so a
	// single task always owns the socket's write side.
	if did.DID(resp.ToDID).Hash() == w.didHash {
		return
	}
	body := resp.Packed
	if body == nil {
		var err error
		body, err = json.Marshal(resp.Inline)
		if err != nil {
			return
		}
	}
	_ = w.writeText(body)
}

func (w *workerConn) writeText(msg []byte) error {
	_ = w.conn.SetWriteDeadline(time.Now().Add(w.server.WriteTimeout))
	return w.conn.WriteMessage(websocket.TextMessage, msg)
}

// sendDuplicateChannelReport emits the report-problem/2.0 the spec requires
// when the coordinator replaces this registration with a newer socket.
func (w *workerConn) sendDuplicateChannelReport(reason string) {
	report := map[string]interface{}{
		"type": "https://didcomm.org/report-problem/2.0/problem-report",
		"body": map[string]string{
			"code":    "duplicate-channel",
			"comment": reason,
		},
	}
	payload, err := json.Marshal(report)
	if err != nil {
		return
	}
	_ = w.writeText(payload)
}

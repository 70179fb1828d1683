package main

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/didcomm-mediator/mediator/apperr"
	"github.com/didcomm-mediator/mediator/auth"
	"github.com/didcomm-mediator/mediator/did"
	"github.com/didcomm-mediator/mediator/dispatcher"
	"github.com/didcomm-mediator/mediator/envelope"
	"github.com/didcomm-mediator/mediator/internal/logger"
	"github.com/didcomm-mediator/mediator/internal/metrics"
	"github.com/didcomm-mediator/mediator/oob"
	"github.com/didcomm-mediator/mediator/session"
	"github.com/didcomm-mediator/mediator/wsworker"
)

// httpServer owns the HTTP surface named by the external interfaces
// (authentication, messaging, websocket, health/metrics). It is a thin
// transport shim: every handler's real work is one call into a capability
// built in main.go.
type httpServer struct {
	cfg           *config
	log           logger.Logger
	resolver      did.Resolver
	decryptor     *envelope.Decryptor
	dispatcher    *dispatcher.Dispatcher
	authenticator *auth.Authenticator
	issuer        *session.TokenIssuer
	sessions      *session.Manager
	ws            *wsworker.Server
	oob           oob.Store
}

func (s *httpServer) mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/authenticate/challenge", s.handleChallenge)
	mux.HandleFunc("/authenticate/refresh", s.handleRefresh)
	mux.HandleFunc("/authenticate", s.handleAuthenticate)
	mux.HandleFunc("/inbound", s.withBearer(s.handleInbound))
	mux.HandleFunc("/ws", s.withBearer(s.handleWS))
	mux.HandleFunc("/oob/", s.handleOOBGet)
	mux.HandleFunc("/oob", s.handleOOBCollection)
	mux.HandleFunc("/.well-known/did", s.handleWellKnownDID)
	mux.HandleFunc("/healthchecker", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeErr(w http.ResponseWriter, err error) {
	if appErr, ok := err.(*apperr.Error); ok {
		writeJSON(w, apperr.HTTPStatus(appErr.Kind), map[string]string{"error": appErr.Reason})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func readBody(r *http.Request, limit int64) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(io.LimitReader(r.Body, limit))
}

// withBearer resolves the Authorization header to an authenticated session
// record before calling next; every messaging/websocket endpoint requires
// this per spec §6.
func (s *httpServer) withBearer(next func(http.ResponseWriter, *http.Request, *session.Record)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeErr(w, apperr.New(apperr.KindSessionError, "missing bearer token"))
			return
		}
		token := strings.TrimPrefix(header, "Bearer ")
		sessionID, kind, err := s.issuer.Parse(token)
		if err != nil || kind != "access" {
			writeErr(w, apperr.New(apperr.KindSessionError, "invalid or expired access token"))
			return
		}
		rec, ok := s.sessions.Get(sessionID)
		if !ok || rec.State != session.Authenticated {
			writeErr(w, apperr.New(apperr.KindSessionError, "session not found or not authenticated"))
			return
		}
		next(w, r, rec)
	}
}

type challengeRequest struct {
	DID string `json:"did"`
}

func (s *httpServer) handleChallenge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := readBody(r, 4<<10)
	if err != nil {
		writeErr(w, apperr.Wrap(apperr.KindMalformed, "read challenge body", err))
		return
	}
	var req challengeRequest
	if err := json.Unmarshal(body, &req); err != nil || req.DID == "" {
		writeErr(w, apperr.New(apperr.KindMalformed, "body must be {\"did\": ...}"))
		return
	}
	resp, err := s.authenticator.Challenge(req.DID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *httpServer) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := readBody(r, 64<<10)
	if err != nil {
		writeErr(w, apperr.Wrap(apperr.KindMalformed, "read authenticate body", err))
		return
	}
	result, err := s.authenticator.Authenticate(r.Context(), body, s.resolver)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result.Tokens)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (s *httpServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := readBody(r, 4<<10)
	if err != nil {
		writeErr(w, apperr.Wrap(apperr.KindMalformed, "read refresh body", err))
		return
	}
	var req refreshRequest
	if err := json.Unmarshal(body, &req); err != nil || req.RefreshToken == "" {
		writeErr(w, apperr.New(apperr.KindMalformed, "body must be {\"refresh_token\": ...}"))
		return
	}
	result, err := s.authenticator.Refresh(req.RefreshToken)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result.Tokens)
}

// handleInbound implements POST /inbound: the single entry point for every
// packed DIDComm envelope (trust-ping, pickup protocol, forward, mediator
// administration). The response variant (Ephemeral/Forwarded/Empty) is
// inferred from what Dispatch produced, since Response itself carries no
// explicit discriminant.
func (s *httpServer) handleInbound(w http.ResponseWriter, r *http.Request, rec *session.Record) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := readBody(r, int64(s.cfg.MaxFrameLen))
	if err != nil {
		writeErr(w, apperr.Wrap(apperr.KindMalformed, "read inbound body", err))
		return
	}
	req, err := dispatcher.BuildRequest(r.Context(), body, s.resolver, s.decryptor, rec, time.Now())
	if err != nil {
		writeErr(w, err)
		return
	}
	wasForward := dispatcher.Classify(req.Inner.Type) == dispatcher.TypeForwardRequest

	resp, err := s.dispatcher.Dispatch(r.Context(), req)
	if err != nil {
		writeErr(w, err)
		return
	}
	switch {
	case resp != nil && resp.Packed != nil:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(resp.Packed)
	case resp != nil && resp.Inline != nil:
		writeJSON(w, http.StatusOK, resp.Inline)
	case wasForward:
		writeJSON(w, http.StatusOK, map[string]string{"status": "Forwarded"})
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "Empty"})
	}
}

func (s *httpServer) handleWS(w http.ResponseWriter, r *http.Request, rec *session.Record) {
	if err := s.ws.Handler(w, r, rec); err != nil {
		s.log.Warn("websocket handler exited with error", logger.String("did", rec.DID), logger.Error(err))
	}
}

type createInviteRequest struct {
	Label      string `json:"label"`
	ExpiresSec int64  `json:"expires_in_seconds"`
}

// handleOOBCollection implements POST /oob (mint an invite) and DELETE
// /oob?_oobid=<id> (revoke one), both bearer-authenticated per the original
// mediator's oob_discovery protocol.
func (s *httpServer) handleOOBCollection(w http.ResponseWriter, r *http.Request) {
	s.withBearer(func(w http.ResponseWriter, r *http.Request, rec *session.Record) {
		switch r.Method {
		case http.MethodPost:
			body, err := readBody(r, 4<<10)
			if err != nil {
				writeErr(w, apperr.Wrap(apperr.KindMalformed, "read oob invite body", err))
				return
			}
			var req createInviteRequest
			if len(body) > 0 {
				if err := json.Unmarshal(body, &req); err != nil {
					writeErr(w, apperr.New(apperr.KindMalformed, "invalid oob invite body"))
					return
				}
			}
			expiresAt := time.Time{}
			if req.ExpiresSec > 0 {
				expiresAt = time.Now().Add(time.Duration(req.ExpiresSec) * time.Second)
			} else {
				expiresAt = time.Now().Add(24 * time.Hour)
			}
			id, err := s.oob.CreateInvite(r.Context(), oob.Invite{
				FromDID:   rec.DID,
				Label:     req.Label,
				ExpiresAt: expiresAt,
			})
			if err != nil {
				writeErr(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]string{"oob_id": id})
		case http.MethodDelete:
			id := r.URL.Query().Get("_oobid")
			if id == "" {
				writeErr(w, apperr.New(apperr.KindMalformed, "missing _oobid query parameter"))
				return
			}
			if err := s.oob.DeleteInvite(r.Context(), id); err != nil {
				writeErr(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})(w, r)
}

// handleOOBGet implements GET /oob/{id}: unauthenticated by design, since
// an OOB invite exists precisely to be discoverable without a prior
// DIDComm channel.
func (s *httpServer) handleOOBGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/oob/")
	if id == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	inv, ok, err := s.oob.GetInvite(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (s *httpServer) handleWellKnownDID(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"did": s.cfg.MediatorDID})
}

func (s *httpServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

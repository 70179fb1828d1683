package dispatcher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/didcomm-mediator/mediator/acl"
	"github.com/didcomm-mediator/mediator/apperr"
	"github.com/didcomm-mediator/mediator/did"
	"github.com/didcomm-mediator/mediator/msgstore"
	"github.com/didcomm-mediator/mediator/session"
)

// ACLProvider resolves the ACL bitfield and access list cached for a DID
// hash; both the dispatcher and the forward expander consult it.
type ACLProvider interface {
	Get(ctx context.Context, didHash string) (acl.Set, error)
	AccessList(ctx context.Context, didHash string) (*acl.List, error)
}

// Coordinator is the subset of the live-delivery coordinator's API the
// dispatcher drives directly (Pickup/LiveDeliveryChange).
type Coordinator interface {
	SetActive(didHash string, active bool) error
	IsActive(didHash string) bool
}

// Forwarder hands a routing/forward message to the forward expander.
type Forwarder interface {
	Forward(ctx context.Context, in ForwardInput) error
}

// AccountIndex is the mutation-capable account store handleAdmin drives for
// MediatorAdministration/MediatorAccountManagement/MediatorACLManagement
// (spec §4.4, §4.8). It is keyed by DID hash throughout, since request-path
// code never carries a bare DID past the envelope-resolution step.
type AccountIndex interface {
	RemoveAccount(ctx context.Context, didHash string) error
	SetACLBit(ctx context.Context, didHash string, bit acl.Bit, value bool) error
	PromoteAdminByHash(ctx context.Context, didHash string) error
	DemoteAdminByHash(ctx context.Context, didHash string) error
}

// Sealer packs a plaintext reply body into a wire-ready envelope addressed
// to toDID (envelope.Sealer's Pack signature). A nil Sealer leaves
// Response.Packed unset and callers fall back to an unsealed Inline body.
type Sealer interface {
	Pack(ctx context.Context, plaintext []byte, toDID, toKid string) ([]byte, error)
}

// ForwardInput is what the dispatcher extracts from a ForwardRequest before
// handing off; the forward expander owns resolution, ACL, and fan-out.
type ForwardInput struct {
	Next        string
	NextKid     string // optional explicit kid restriction
	Ciphertext  []byte
	FromHash    string // "" for anonymous
	ExpiresTime int64  // unix seconds, from the envelope
}

// Request is everything a handler needs: the classified inner message plus
// the session and hash context the envelope pipeline already resolved.
type Request struct {
	Session  *session.Record
	FromHash string // "" when the envelope was anonymous
	ToHash   string // DID hash the envelope was addressed to (mediator's own, for control messages)
	Inner    *Inner
	Now      time.Time
}

// Response is what a handler produces: an inline reply (never stored, per
// spec) destined for ToDID, or nothing at all. Packed holds the same reply
// sealed into a wire envelope once Dispatch's centralized sealing step has
// run; transports should prefer Packed over marshaling Inline themselves.
type Response struct {
	Inline *Inner
	Packed []byte
	ToDID  string
}

// Dispatcher routes classified inner messages to their handlers.
type Dispatcher struct {
	MediatorDID string
	Store       msgstore.Store
	ACLs        ACLProvider
	Accounts    AccountIndex
	Sessions    *session.Manager
	Coordinator Coordinator
	Forwarder   Forwarder
	Sealer      Sealer
	Limits      Limits
}

// Limits bounds dispatcher-level request shapes.
type Limits struct {
	MaxListLimit int
}

// Dispatch applies the universal expiry pre-check, classifies req.Inner by
// its type field, and routes to the matching handler.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) (*Response, error) {
	if req.Inner.ExpiresTime != nil && *req.Inner.ExpiresTime <= req.Now.Unix() {
		return nil, apperr.New(apperr.KindMessageExpired, "message expired")
	}

	if req.FromHash != "" && d.ACLs != nil {
		fromACL, err := d.ACLs.Get(ctx, req.FromHash)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindDatabaseError, "load sender acl", err)
		}
		if acl.AccountBlocked(fromACL, fromACL.AccessListMode()) {
			return nil, apperr.New(apperr.KindPermissionError, "account is blocked")
		}
	}

	var resp *Response
	var err error
	switch Classify(req.Inner.Type) {
	case TypeTrustPing:
		resp, err = d.handleTrustPing(req)
	case TypePickupStatusRequest:
		resp, err = d.handlePickupStatusRequest(ctx, req)
	case TypePickupDeliveryRequest:
		resp, err = d.handlePickupDeliveryRequest(ctx, req)
	case TypePickupMessagesReceived:
		resp, err = d.handlePickupMessagesReceived(ctx, req)
	case TypePickupLiveDeliveryChange:
		resp, err = d.handlePickupLiveDeliveryChange(ctx, req)
	case TypeMediatorAdministration, TypeMediatorAccountManage, TypeMediatorACLManagement:
		resp, err = d.handleAdmin(ctx, req)
	case TypeAffinidiAuthenticate, TypeAffinidiAuthRefresh:
		return nil, apperr.New(apperr.KindPermissionError, "authentication messages must be submitted to the authenticate endpoint")
	case TypeForwardRequest:
		return nil, d.handleForward(ctx, req)
	case TypeProblemReport:
		return nil, nil
	default:
		return nil, apperr.New(apperr.KindUnsupported, "message type not implemented")
	}
	if err != nil || resp == nil {
		return resp, err
	}
	d.seal(ctx, resp)
	return resp, nil
}

// seal packs resp.Inline into resp.Packed when a Sealer is configured. It
// never turns a successful handler result into an error: a sealing failure
// just leaves Packed unset and the caller falls back to an unsealed body,
// since failing to produce an envelope is not the same failure mode as
// failing to produce a reply at all.
func (d *Dispatcher) seal(ctx context.Context, resp *Response) {
	if d.Sealer == nil || resp.Inline == nil || resp.ToDID == "" {
		return
	}
	plaintext, err := json.Marshal(resp.Inline)
	if err != nil {
		return
	}
	packed, err := d.Sealer.Pack(ctx, plaintext, resp.ToDID, "")
	if err != nil {
		return
	}
	resp.Packed = packed
}

func (d *Dispatcher) handleTrustPing(req *Request) (*Response, error) {
	if !req.Inner.ResponseReqd {
		return nil, nil
	}
	if req.FromHash == "" {
		return nil, apperr.New(apperr.KindMalformed, "trust ping response requested from an anonymous sender")
	}
	return &Response{
		Inline: &Inner{
			ID:   req.Inner.ID + "-pong",
			Type: "https://didcomm.org/trust-ping/2.0/ping-response",
		},
		ToDID: req.Inner.From,
	}, nil
}

func (d *Dispatcher) handlePickupStatusRequest(ctx context.Context, req *Request) (*Response, error) {
	if req.Inner.ReturnRoute != "all" {
		return nil, apperr.New(apperr.KindMalformed, "status request requires return_route=all")
	}
	if !containsDID(req.Inner.To, d.MediatorDID) {
		return nil, apperr.New(apperr.KindMalformed, "status request not addressed to the mediator")
	}
	status, err := d.statusFor(ctx, did.DID(req.Session.DID).Hash())
	if err != nil {
		return nil, err
	}
	return &Response{Inline: status, ToDID: req.Inner.From}, nil
}

type statusBody struct {
	RecipientDID string `json:"recipient_did,omitempty"`
	MessageCount int    `json:"message_count"`
	LongestWait  int64  `json:"longest_waited_seconds,omitempty"`
	LiveDelivery bool   `json:"live_delivery"`
	TotalBytes   int64  `json:"total_bytes"`
}

func (d *Dispatcher) statusFor(ctx context.Context, didHashOrDID string) (*Inner, error) {
	live := d.Coordinator != nil && d.Coordinator.IsActive(didHashOrDID)
	stats, err := d.Store.Stats(ctx, didHashOrDID, live)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseError, "queue stats lookup failed", err)
	}
	body := statusBody{
		MessageCount: stats.Count,
		LiveDelivery: stats.LiveDelivery,
		TotalBytes:   stats.Bytes,
	}
	if stats.OldestMs != 0 {
		body.LongestWait = (time.Now().UnixMilli() - stats.OldestMs) / 1000
	}
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternalError, "encode status body", err)
	}
	return &Inner{
		Type: "https://didcomm.org/messagepickup/3.0/status",
		Body: bodyBytes,
	}, nil
}

func (d *Dispatcher) handlePickupDeliveryRequest(ctx context.Context, req *Request) (*Response, error) {
	var body struct {
		Limit int `json:"limit"`
	}
	if err := json.Unmarshal(req.Inner.Body, &body); err != nil {
		return nil, apperr.Wrap(apperr.KindMalformed, "decode delivery-request body", err)
	}
	limit := body.Limit
	if d.Limits.MaxListLimit > 0 && (limit <= 0 || limit > d.Limits.MaxListLimit) {
		limit = d.Limits.MaxListLimit
	}
	entries, bodies, err := d.Store.Fetch(ctx, did.DID(req.Session.DID).Hash(), limit, "", msgstore.NoDelete)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseError, "fetch queue entries", err)
	}

	type attachment struct {
		ID   string `json:"id"`
		Data []byte `json:"data"`
	}
	atts := make([]attachment, 0, len(entries))
	for _, e := range entries {
		atts = append(atts, attachment{ID: e.MsgID, Data: bodies[e.MsgID]})
	}
	attBytes, err := json.Marshal(atts)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternalError, "encode delivery attachments", err)
	}
	return &Response{
		Inline: &Inner{
			Type:        "https://didcomm.org/messagepickup/3.0/delivery",
			Attachments: attBytes,
		},
		ToDID: req.Inner.From,
	}, nil
}

func (d *Dispatcher) handlePickupMessagesReceived(ctx context.Context, req *Request) (*Response, error) {
	var body struct {
		MessageIDList []string `json:"message_id_list"`
	}
	if err := json.Unmarshal(req.Inner.Body, &body); err != nil {
		return nil, apperr.Wrap(apperr.KindMalformed, "decode messages-received body", err)
	}
	_, errs, err := d.Store.Delete(ctx, did.DID(req.Session.DID).Hash(), body.MessageIDList)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseError, "delete delivered messages", err)
	}
	status, statusErr := d.statusFor(ctx, did.DID(req.Session.DID).Hash())
	if statusErr != nil {
		return nil, statusErr
	}
	_ = errs // per-id errors are tolerated: re-acking an already-deleted id is a no-op, not a failure
	return &Response{Inline: status, ToDID: req.Inner.From}, nil
}

func (d *Dispatcher) handlePickupLiveDeliveryChange(ctx context.Context, req *Request) (*Response, error) {
	var body struct {
		LiveDelivery bool `json:"live_delivery"`
	}
	if err := json.Unmarshal(req.Inner.Body, &body); err != nil {
		return nil, apperr.Wrap(apperr.KindMalformed, "decode live-delivery-change body", err)
	}
	if d.Coordinator == nil {
		return nil, apperr.New(apperr.KindInternalError, "no live-delivery coordinator configured")
	}
	if err := d.Coordinator.SetActive(did.DID(req.Session.DID).Hash(), body.LiveDelivery); err != nil {
		return nil, apperr.Wrap(apperr.KindInternalError, "flip live-delivery flag", err)
	}
	status, err := d.statusFor(ctx, did.DID(req.Session.DID).Hash())
	if err != nil {
		return nil, err
	}
	return &Response{Inline: status, ToDID: req.Inner.From}, nil
}

func (d *Dispatcher) handleForward(ctx context.Context, req *Request) error {
	if d.Forwarder == nil {
		return apperr.New(apperr.KindInternalError, "no forward expander configured")
	}
	var body struct {
		Next string `json:"next"`
	}
	if err := json.Unmarshal(req.Inner.Body, &body); err != nil {
		return apperr.Wrap(apperr.KindMalformed, "decode forward body", err)
	}
	var ciphertext []byte
	if len(req.Inner.Attachments) > 0 {
		var atts []struct {
			Data []byte `json:"data"`
		}
		if err := json.Unmarshal(req.Inner.Attachments, &atts); err != nil {
			return apperr.Wrap(apperr.KindMalformed, "decode forward attachment", err)
		}
		if len(atts) > 0 {
			ciphertext = atts[0].Data
		}
	}
	expires := req.Now.Add(24 * time.Hour).Unix()
	if req.Inner.ExpiresTime != nil {
		expires = *req.Inner.ExpiresTime
	}
	return d.Forwarder.Forward(ctx, ForwardInput{
		Next:        body.Next,
		Ciphertext:  ciphertext,
		FromHash:    req.FromHash,
		ExpiresTime: expires,
	})
}

// adminRequestBody is the shared body shape for MediatorAdministration,
// MediatorAccountManagement, and MediatorACLManagement messages (spec
// §4.4). DIDHash names the target account; an empty DIDHash means "the
// caller's own account," which is the only target a non-admin session may
// ever name.
type adminRequestBody struct {
	Op      string `json:"op"`
	DIDHash string `json:"did_hash,omitempty"`
	Bit     string `json:"bit,omitempty"`
	Value   bool   `json:"value,omitempty"`
}

// handleAdmin implements spec §4.4's administration/account-management/
// ACL-management handler: "require admin privilege; operate on the
// session/account index; reply inline." An admin or root-admin session may
// target any account; a standard session may only ever act on itself, and
// even then only a set_acl whose bit carries its own self-change grant
// (acl.SelfChangeAllowed) is permitted (spec §4.8).
func (d *Dispatcher) handleAdmin(ctx context.Context, req *Request) (*Response, error) {
	if req.Session == nil {
		return nil, apperr.New(apperr.KindPermissionError, "admin operation requires an authenticated session")
	}
	if d.Accounts == nil {
		return nil, apperr.New(apperr.KindInternalError, "no account index configured")
	}

	var body adminRequestBody
	if len(req.Inner.Body) > 0 {
		if err := json.Unmarshal(req.Inner.Body, &body); err != nil {
			return nil, apperr.Wrap(apperr.KindMalformed, "decode admin request body", err)
		}
	}

	target := body.DIDHash
	if target == "" {
		target = req.FromHash
	}
	isAdmin := req.Session.IsAdmin()
	isSelf := target != "" && target == req.FromHash

	switch body.Op {
	case "account_remove":
		if !isAdmin {
			return nil, apperr.New(apperr.KindPermissionError, "account removal requires an admin or root-admin session")
		}
		if target == "" {
			return nil, apperr.New(apperr.KindMalformed, "account_remove requires did_hash")
		}
		if err := d.Accounts.RemoveAccount(ctx, target); err != nil {
			return nil, err
		}

	case "set_acl":
		bit, ok := acl.BitByName(body.Bit)
		if !ok {
			return nil, apperr.New(apperr.KindMalformed, "unknown acl bit "+body.Bit)
		}
		if !isAdmin {
			if !isSelf {
				return nil, apperr.New(apperr.KindPermissionError, "standard accounts may only change their own acl")
			}
			callerACL, err := d.ACLs.Get(ctx, target)
			if err != nil {
				return nil, apperr.Wrap(apperr.KindDatabaseError, "load caller acl", err)
			}
			if !acl.SelfChangeAllowed(callerACL, bit) {
				return nil, apperr.New(apperr.KindPermissionError, "self-change not permitted for this bit")
			}
		}
		if err := d.Accounts.SetACLBit(ctx, target, bit, body.Value); err != nil {
			return nil, err
		}

	case "promote_admin":
		if !isAdmin {
			return nil, apperr.New(apperr.KindPermissionError, "promote_admin requires an admin or root-admin session")
		}
		if target == "" {
			return nil, apperr.New(apperr.KindMalformed, "promote_admin requires did_hash")
		}
		if err := d.Accounts.PromoteAdminByHash(ctx, target); err != nil {
			return nil, err
		}

	case "demote_admin":
		if !isAdmin {
			return nil, apperr.New(apperr.KindPermissionError, "demote_admin requires an admin or root-admin session")
		}
		if target == "" {
			return nil, apperr.New(apperr.KindMalformed, "demote_admin requires did_hash")
		}
		if err := d.Accounts.DemoteAdminByHash(ctx, target); err != nil {
			return nil, err
		}

	default:
		return nil, apperr.New(apperr.KindUnsupported, "unknown admin operation "+body.Op)
	}

	return &Response{
		Inline: &Inner{Type: "https://didcomm.org/mediator-administration/1.0/ack"},
		ToDID:  req.Inner.From,
	}, nil
}

func containsDID(to []string, did string) bool {
	for _, d := range to {
		if d == did {
			return true
		}
	}
	return false
}

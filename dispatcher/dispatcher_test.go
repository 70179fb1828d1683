package dispatcher

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/didcomm-mediator/mediator/acl"
	"github.com/didcomm-mediator/mediator/apperr"
	"github.com/didcomm-mediator/mediator/did"
	"github.com/didcomm-mediator/mediator/msgstore"
	"github.com/didcomm-mediator/mediator/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeACLs struct{}

func (fakeACLs) Get(ctx context.Context, didHash string) (acl.Set, error) { return acl.NewSet(), nil }
func (fakeACLs) AccessList(ctx context.Context, didHash string) (*acl.List, error) {
	return acl.NewList(acl.ExplicitDeny), nil
}

type fakeAccounts struct {
	removed  []string
	promoted []string
	demoted  []string
	setBits  map[string]acl.Bit
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{setBits: map[string]acl.Bit{}}
}

func (f *fakeAccounts) RemoveAccount(ctx context.Context, didHash string) error {
	f.removed = append(f.removed, didHash)
	return nil
}

func (f *fakeAccounts) SetACLBit(ctx context.Context, didHash string, bit acl.Bit, value bool) error {
	f.setBits[didHash] = bit
	return nil
}

func (f *fakeAccounts) PromoteAdminByHash(ctx context.Context, didHash string) error {
	f.promoted = append(f.promoted, didHash)
	return nil
}

func (f *fakeAccounts) DemoteAdminByHash(ctx context.Context, didHash string) error {
	f.demoted = append(f.demoted, didHash)
	return nil
}

func newTestDispatcher() *Dispatcher {
	return &Dispatcher{
		MediatorDID: "did:web:mediator.example",
		Store:       msgstore.NewMemoryStore(msgstore.Limits{}, 0),
		ACLs:        fakeACLs{},
		Accounts:    newFakeAccounts(),
	}
}

type fakeCoordinator struct {
	active map[string]bool
}

func newFakeCoordinator() *fakeCoordinator { return &fakeCoordinator{active: map[string]bool{}} }

func (f *fakeCoordinator) SetActive(didHash string, active bool) error {
	f.active[didHash] = active
	return nil
}

func (f *fakeCoordinator) IsActive(didHash string) bool { return f.active[didHash] }

func TestDispatchRejectsExpiredMessage(t *testing.T) {
	d := newTestDispatcher()
	expired := time.Now().Add(-time.Second).Unix()
	req := &Request{
		Session: &session.Record{DID: "did:web:alice.example"},
		Inner:   &Inner{Type: "https://didcomm.org/trust-ping/2.0/ping", ExpiresTime: &expired},
		Now:     time.Now(),
	}
	_, err := d.Dispatch(context.Background(), req)
	assert.True(t, apperr.Is(err, apperr.KindMessageExpired))
}

func TestDispatchTrustPingNoResponseRequested(t *testing.T) {
	d := newTestDispatcher()
	req := &Request{
		Session: &session.Record{DID: "did:web:alice.example"},
		Inner:   &Inner{Type: "https://didcomm.org/trust-ping/2.0/ping"},
		Now:     time.Now(),
	}
	resp, err := d.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestDispatchTrustPingResponseRequested(t *testing.T) {
	d := newTestDispatcher()
	req := &Request{
		Session:  &session.Record{DID: "did:web:alice.example"},
		FromHash: "alice-hash",
		Inner: &Inner{
			ID:           "msg-1",
			Type:         "https://didcomm.org/trust-ping/2.0/ping",
			From:         "did:web:alice.example",
			ResponseReqd: true,
		},
		Now: time.Now(),
	}
	resp, err := d.Dispatch(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, "did:web:alice.example", resp.ToDID)
	assert.Contains(t, resp.Inline.Type, "ping-response")
}

func TestDispatchStatusRequestRequiresReturnRouteAll(t *testing.T) {
	d := newTestDispatcher()
	req := &Request{
		Session: &session.Record{DID: "did:web:alice.example"},
		Inner: &Inner{
			Type: "https://didcomm.org/messagepickup/3.0/status-request",
			To:   []string{d.MediatorDID},
		},
		Now: time.Now(),
	}
	_, err := d.Dispatch(context.Background(), req)
	assert.True(t, apperr.Is(err, apperr.KindMalformed))
}

func TestDispatchStatusRequestHappyPath(t *testing.T) {
	d := newTestDispatcher()
	_, err := d.Store.Store(context.Background(), []byte("x"), did.DID("did:web:alice.example").Hash(), "", time.Now().Add(time.Hour))
	require.NoError(t, err)

	req := &Request{
		Session: &session.Record{DID: "did:web:alice.example"},
		Inner: &Inner{
			Type:        "https://didcomm.org/messagepickup/3.0/status-request",
			To:          []string{d.MediatorDID},
			ReturnRoute: "all",
			From:        "did:web:alice.example",
		},
		Now: time.Now(),
	}
	resp, err := d.Dispatch(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, resp)
	var body statusBody
	require.NoError(t, json.Unmarshal(resp.Inline.Body, &body))
	assert.Equal(t, 1, body.MessageCount)
}

func TestDispatchMessagesReceivedDeletesAndAcks(t *testing.T) {
	d := newTestDispatcher()
	msgID, err := d.Store.Store(context.Background(), []byte("x"), did.DID("did:web:alice.example").Hash(), "", time.Now().Add(time.Hour))
	require.NoError(t, err)

	bodyBytes, _ := json.Marshal(map[string]interface{}{"message_id_list": []string{msgID}})
	req := &Request{
		Session: &session.Record{DID: "did:web:alice.example"},
		Inner: &Inner{
			Type: "https://didcomm.org/messagepickup/3.0/messages-received",
			Body: bodyBytes,
			From: "did:web:alice.example",
		},
		Now: time.Now(),
	}
	resp, err := d.Dispatch(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, resp)

	entries, err := d.Store.List(context.Background(), did.DID("did:web:alice.example").Hash(), msgstore.FolderReceive, msgstore.Range{}, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDispatchLiveDeliveryChangeFlipsCoordinatorAndReportsStatus(t *testing.T) {
	d := newTestDispatcher()
	coord := newFakeCoordinator()
	d.Coordinator = coord

	bodyBytes, _ := json.Marshal(map[string]bool{"live_delivery": true})
	req := &Request{
		Session: &session.Record{DID: "did:web:alice.example"},
		Inner: &Inner{
			Type: "https://didcomm.org/messagepickup/3.0/live-delivery-change",
			Body: bodyBytes,
			From: "did:web:alice.example",
		},
		Now: time.Now(),
	}
	resp, err := d.Dispatch(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.True(t, coord.IsActive(did.DID("did:web:alice.example").Hash()))

	var body statusBody
	require.NoError(t, json.Unmarshal(resp.Inline.Body, &body))
	assert.True(t, body.LiveDelivery)
}

func TestDispatchAffinidiAuthenticateRejected(t *testing.T) {
	d := newTestDispatcher()
	req := &Request{
		Session: &session.Record{DID: "did:web:alice.example"},
		Inner:   &Inner{Type: "https://affinidi.com/atm/1.0/authenticate"},
		Now:     time.Now(),
	}
	_, err := d.Dispatch(context.Background(), req)
	assert.True(t, apperr.Is(err, apperr.KindPermissionError))
}

func TestDispatchOtherIsUnsupported(t *testing.T) {
	d := newTestDispatcher()
	req := &Request{
		Session: &session.Record{DID: "did:web:alice.example"},
		Inner:   &Inner{Type: "https://example.com/something-else/1.0/frobnicate"},
		Now:     time.Now(),
	}
	_, err := d.Dispatch(context.Background(), req)
	assert.True(t, apperr.Is(err, apperr.KindUnsupported))
}

func TestDispatchAdminRequiresAdminSession(t *testing.T) {
	d := newTestDispatcher()
	accounts := d.Accounts.(*fakeAccounts)
	body, _ := json.Marshal(adminRequestBody{Op: "account_remove", DIDHash: "bob-hash"})
	req := &Request{
		Session: &session.Record{DID: "did:web:alice.example", AccountType: session.Standard},
		Inner:   &Inner{Type: "https://affinidi.com/atm/1.0/mediator-administration", Body: body},
		Now:     time.Now(),
	}
	_, err := d.Dispatch(context.Background(), req)
	assert.True(t, apperr.Is(err, apperr.KindPermissionError))
	assert.Empty(t, accounts.removed)

	req.Session.AccountType = session.Admin
	req.Inner.From = "did:web:alice.example"
	resp, err := d.Dispatch(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, []string{"bob-hash"}, accounts.removed)
}

func TestDispatchAdminSetACLAllowsAdminBypassOfSelfChange(t *testing.T) {
	d := newTestDispatcher()
	accounts := d.Accounts.(*fakeAccounts)
	body, _ := json.Marshal(adminRequestBody{Op: "set_acl", DIDHash: "bob-hash", Bit: "send_messages", Value: true})
	req := &Request{
		Session:  &session.Record{DID: "did:web:admin.example", AccountType: session.Admin},
		FromHash: "admin-hash",
		Inner:    &Inner{Type: "https://affinidi.com/atm/1.0/mediator-acl-management", From: "did:web:admin.example", Body: body},
		Now:      time.Now(),
	}
	resp, err := d.Dispatch(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, acl.BitSendMessages, accounts.setBits["bob-hash"])
}

func TestDispatchAdminSetACLRejectsStandardSelfChangeWithoutGrant(t *testing.T) {
	d := newTestDispatcher()
	body, _ := json.Marshal(adminRequestBody{Op: "set_acl", Bit: "send_messages", Value: true})
	req := &Request{
		Session:  &session.Record{DID: "did:web:alice.example", AccountType: session.Standard},
		FromHash: "alice-hash",
		Inner:    &Inner{Type: "https://affinidi.com/atm/1.0/mediator-acl-management", From: "did:web:alice.example", Body: body},
		Now:      time.Now(),
	}
	_, err := d.Dispatch(context.Background(), req)
	assert.True(t, apperr.Is(err, apperr.KindPermissionError))
}

func TestDispatchAdminSetACLAllowsStandardSelfChangeWithGrant(t *testing.T) {
	d := newTestDispatcher()
	accounts := d.Accounts.(*fakeAccounts)
	d.ACLs = grantingACLs{bit: acl.BitSendMessagesSelf}
	body, _ := json.Marshal(adminRequestBody{Op: "set_acl", Bit: "send_messages", Value: true})
	req := &Request{
		Session:  &session.Record{DID: "did:web:alice.example", AccountType: session.Standard},
		FromHash: "alice-hash",
		Inner:    &Inner{Type: "https://affinidi.com/atm/1.0/mediator-acl-management", From: "did:web:alice.example", Body: body},
		Now:      time.Now(),
	}
	resp, err := d.Dispatch(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, acl.BitSendMessages, accounts.setBits["alice-hash"])
}

func TestDispatchRejectsBlockedAccount(t *testing.T) {
	d := newTestDispatcher()
	d.ACLs = grantingACLs{bit: acl.BitBlocked}
	req := &Request{
		Session:  &session.Record{DID: "did:web:alice.example"},
		FromHash: "alice-hash",
		Inner:    &Inner{Type: "https://didcomm.org/trust-ping/2.0/ping", From: "did:web:alice.example", ResponseReqd: true},
		Now:      time.Now(),
	}
	_, err := d.Dispatch(context.Background(), req)
	assert.True(t, apperr.Is(err, apperr.KindPermissionError))
}

// grantingACLs is a fakeACLs variant whose ACL set carries exactly one bit,
// for exercising self-change and blocked-account gating in isolation.
type grantingACLs struct{ bit acl.Bit }

func (g grantingACLs) Get(ctx context.Context, didHash string) (acl.Set, error) {
	return acl.NewSet().Set(g.bit), nil
}

func (g grantingACLs) AccessList(ctx context.Context, didHash string) (*acl.List, error) {
	return acl.NewList(acl.ExplicitDeny), nil
}

func TestDispatchForwardRequestWithoutForwarder(t *testing.T) {
	d := newTestDispatcher()
	bodyBytes, _ := json.Marshal(map[string]string{"next": "did:web:carol.example"})
	req := &Request{
		Session: &session.Record{DID: "did:web:alice.example"},
		Inner: &Inner{
			Type: "https://didcomm.org/routing/2.0/forward",
			Body: bodyBytes,
		},
		Now: time.Now(),
	}
	_, err := d.Dispatch(context.Background(), req)
	assert.True(t, apperr.Is(err, apperr.KindInternalError))
}

// Package dispatcher classifies an unpacked DIDComm message by its `type`
// field and routes it to the per-type handler, enforcing the universal
// expiry pre-check and the ACL/admin gates each operation requires.
package dispatcher

import "encoding/json"

// MessageType is the closed set of inner message kinds the dispatcher
// recognizes.
type MessageType string

const (
	TypeTrustPing                MessageType = "TrustPing"
	TypePickupStatusRequest      MessageType = "Pickup/StatusRequest"
	TypePickupDeliveryRequest    MessageType = "Pickup/DeliveryRequest"
	TypePickupMessagesReceived   MessageType = "Pickup/MessagesReceived"
	TypePickupLiveDeliveryChange MessageType = "Pickup/LiveDeliveryChange"
	TypeMediatorAdministration   MessageType = "MediatorAdministration"
	TypeMediatorAccountManage    MessageType = "MediatorAccountManagement"
	TypeMediatorACLManagement    MessageType = "MediatorACLManagement"
	TypeAffinidiAuthenticate     MessageType = "AffinidiAuthenticate"
	TypeAffinidiAuthRefresh      MessageType = "AffinidiAuthenticateRefresh"
	TypeForwardRequest           MessageType = "ForwardRequest"
	TypeProblemReport            MessageType = "ProblemReport"
	TypeOther                    MessageType = "Other"
)

// Inner is the generic shape of an unpacked DIDComm plaintext message:
// enough header fields to classify and expiry-check it, with the rest left
// as raw JSON for the per-type handler to decode.
type Inner struct {
	ID             string          `json:"id"`
	Type           string          `json:"type"`
	From           string          `json:"from,omitempty"`
	To             []string        `json:"to,omitempty"`
	ExpiresTime    *int64          `json:"expires_time,omitempty"` // unix seconds
	ReturnRoute    string          `json:"return_route,omitempty"`
	Body           json.RawMessage `json:"body,omitempty"`
	Attachments    json.RawMessage `json:"attachments,omitempty"`
	ResponseReqd   bool            `json:"response_requested,omitempty"`
}

// ParseInner decodes the decrypted plaintext into an Inner header.
func ParseInner(plaintext []byte) (*Inner, error) {
	var in Inner
	if err := json.Unmarshal(plaintext, &in); err != nil {
		return nil, err
	}
	return &in, nil
}

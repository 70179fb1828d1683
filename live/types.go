// Package live implements the live-delivery coordinator: a single task
// owning the websocket registration map and the pub/sub subscription used
// to fan inbound store writes out to whichever mediator instance currently
// holds the recipient's socket (spec §4.9).
package live

import "context"

// Endpoint is the coordinator's view of a registered websocket worker: just
// enough to push a frame or force a close. The concrete frame/connection
// handling lives in the websocket worker package.
type Endpoint interface {
	// Send delivers a text message to the client.
	Send(message []byte) error
	// Close tells the endpoint to terminate, carrying the reason the
	// coordinator is severing it ("duplicate-channel" on replace).
	Close(reason string) error
}

// StateStore is the shared (cross-instance) record of which DID hashes
// currently have an active live-delivery registration. Start/Stop/
// Deregister mirror it so other mediator instances route correctly, per
// spec §4.9.
type StateStore interface {
	SetActive(ctx context.Context, didHash string, active bool) error
	Clear(ctx context.Context, didHash string) error
}

// PubSubMessage is one record received on the coordinator's subscription
// channel: a store write that may need live delivery.
type PubSubMessage struct {
	DIDHash       string `json:"did_hash"`
	Message       []byte `json:"message"`
	ForceDelivery bool   `json:"force_delivery"`
}

// PubSub is the coordinator's publish/subscribe capability. Publish delivers
// a record to the coordinator listening on a channel, in this process or a
// peer instance; the message stores in msgstore do not call it. Subscribe
// starts (or restarts, on reconnect) the coordinator's own receive loop.
type PubSub interface {
	Publish(ctx context.Context, channel string, msg PubSubMessage) error
	Subscribe(ctx context.Context, channel string) (<-chan PubSubMessage, error)
}

// Package msgstore implements the mediator's queue store: per-DID receive
// and send streams, a message body map, and the global counters, read back
// through Store.Counters.
package msgstore

import "time"

// Folder selects which of a DID's two streams an operation targets.
type Folder string

const (
	FolderReceive Folder = "receive"
	FolderSend    Folder = "send"
)

// Record is one queue entry as held by MESSAGE_STORE, addressable by MsgID
// from either the recipient's receive stream or the sender's send stream.
type Record struct {
	MsgID      string
	ToHash     string
	FromHash   string // empty for anonymous sends
	Body       []byte
	Bytes      int
	Timestamp  int64 // ms since epoch; also the stream-entry id prefix
	ExpiresAt  time.Time
}

// Entry is the shape returned by List/Fetch: enough to address a message
// without paying for its body.
type Entry struct {
	MsgID     string
	StreamID  string
	Bytes     int
	Timestamp int64
	To        string
	From      string
}

// Range is an inclusive pair of stream ids; a zero Range means "full range".
type Range struct {
	From string
	To   string
}

func (r Range) isZero() bool { return r.From == "" && r.To == "" }

// DeletePolicy controls Fetch's optimistic delete.
type DeletePolicy int

const (
	NoDelete DeletePolicy = iota
	DeleteOnFetch
)

// Counters mirrors the mediator-wide counters. RedisStore bumps the message
// counters in the same transaction as the write or final delete step that
// produced them; nothing in the mediator updates the websocket and session
// counters, so they read zero.
type Counters struct {
	ReceivedBytes   int64
	SentBytes       int64
	DeletedBytes    int64
	ReceivedCount   int64
	SentCount       int64
	DeletedCount    int64
	WebsocketOpen   int64
	WebsocketClose  int64
	SessionsCreated int64
	SessionsSuccess int64
}

// QueueStats answers a Pickup/StatusRequest: the live state of one DID's
// receive queue.
type QueueStats struct {
	Count         int
	OldestMs      int64
	NewestMs      int64
	Bytes         int64
	LiveDelivery  bool
}

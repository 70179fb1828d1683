package msgstore

import (
	"context"
	"time"
)

// Store is the message-store capability (spec'd operations: store, list,
// get, delete, fetch, expire_sweep). Every method is safe for concurrent
// use; failures that originate below this interface surface as
// apperr.KindDatabaseError, and capacity failures as
// apperr.KindServiceLimitError.
type Store interface {
	// Store appends body to toHash's receive stream (and fromHash's send
	// stream, when fromHash is non-empty), inserting the body and bumping
	// counters as one atomic unit. Returns the assigned msg id.
	Store(ctx context.Context, body []byte, toHash, fromHash string, expiresAt time.Time) (string, error)

	// List returns queue entries for hash's folder within r (full range
	// when r is zero), newest-last, clamped to limit.
	List(ctx context.Context, hash string, folder Folder, r Range, limit int) ([]Entry, error)

	// Get returns the body for each requested id. When del is true,
	// matched bodies are deleted atomically after being read. Per-id
	// failures are reported in the returned error map without failing
	// the ids that did resolve.
	Get(ctx context.Context, ids []string, del bool) (map[string][]byte, map[string]error, error)

	// Delete removes the named ids, provided callerHash matches either
	// the id's to-hash or from-hash. Anonymous messages (no from-hash)
	// can only be deleted by their recipient.
	Delete(ctx context.Context, callerHash string, ids []string) (successes []string, errs map[string]error, err error)

	// Fetch is a streaming list+get combined, with an optional
	// optimistic delete.
	Fetch(ctx context.Context, hash string, limit int, startID string, policy DeletePolicy) ([]Entry, map[string][]byte, error)

	// ExpireSweep deletes every record whose ExpiresAt is at or before
	// now, updating counters and stream membership. Intended to be
	// driven by a background job, not the request path.
	ExpireSweep(ctx context.Context, now time.Time) (int, error)

	// Stats reports queue statistics for hash's receive queue, for
	// Pickup/StatusRequest.
	Stats(ctx context.Context, hash string, liveDelivery bool) (QueueStats, error)

	// Counters returns a snapshot of the global counters.
	Counters(ctx context.Context) (Counters, error)
}

// Limits bounds per-DID queue growth; exceeding either triggers
// apperr.KindServiceLimitError on Store.
type Limits struct {
	MaxBytesPerDID int64
	MaxCountPerDID int64
}

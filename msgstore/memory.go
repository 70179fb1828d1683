package msgstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/didcomm-mediator/mediator/apperr"
	"github.com/google/uuid"
)

type streamEntry struct {
	id    string // "<13-digit ms>-<6-digit seq>", sorts lexicographically
	msgID string
}

// MemoryStore is an in-process Store, modeled on the mediator's memory
// session store: one mutex guards every map because Store/Delete/ExpireSweep
// all need to update the body, both streams, and the counters as one unit.
type MemoryStore struct {
	mu sync.Mutex

	bodies  map[string]*Record
	receive map[string][]streamEntry // toHash -> stream
	send    map[string][]streamEntry // fromHash -> stream
	seq     uint64

	limits       Limits
	maxListLimit int
	counters     Counters
}

// NewMemoryStore creates an empty in-memory Store. A zero Limits means no
// per-DID caps; maxListLimit <= 0 means no clamp.
func NewMemoryStore(limits Limits, maxListLimit int) *MemoryStore {
	return &MemoryStore{
		bodies:       make(map[string]*Record),
		receive:      make(map[string][]streamEntry),
		send:         make(map[string][]streamEntry),
		limits:       limits,
		maxListLimit: maxListLimit,
	}
}

func (s *MemoryStore) nextStreamID(ts int64) string {
	s.seq++
	return fmt.Sprintf("%013d-%06d", ts, s.seq)
}

func (s *MemoryStore) Store(ctx context.Context, body []byte, toHash, fromHash string, expiresAt time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.limits.MaxCountPerDID > 0 && int64(len(s.receive[toHash])) >= s.limits.MaxCountPerDID {
		return "", apperr.New(apperr.KindServiceLimitError, "receive queue message count limit reached")
	}
	if s.limits.MaxBytesPerDID > 0 {
		var total int64
		for _, e := range s.receive[toHash] {
			if rec, ok := s.bodies[e.msgID]; ok {
				total += int64(rec.Bytes)
			}
		}
		if total+int64(len(body)) > s.limits.MaxBytesPerDID {
			return "", apperr.New(apperr.KindServiceLimitError, "receive queue byte limit reached")
		}
	}

	msgID := uuid.NewString()
	ts := time.Now().UnixMilli()
	bodyCopy := append([]byte(nil), body...)
	rec := &Record{
		MsgID:     msgID,
		ToHash:    toHash,
		FromHash:  fromHash,
		Body:      bodyCopy,
		Bytes:     len(bodyCopy),
		Timestamp: ts,
		ExpiresAt: expiresAt,
	}
	s.bodies[msgID] = rec
	s.receive[toHash] = append(s.receive[toHash], streamEntry{id: s.nextStreamID(ts), msgID: msgID})
	s.counters.ReceivedBytes += int64(rec.Bytes)
	s.counters.ReceivedCount++
	if fromHash != "" {
		s.send[fromHash] = append(s.send[fromHash], streamEntry{id: s.nextStreamID(ts), msgID: msgID})
		s.counters.SentBytes += int64(rec.Bytes)
		s.counters.SentCount++
	}
	return msgID, nil
}

func (s *MemoryStore) streamFor(hash string, folder Folder) []streamEntry {
	if folder == FolderSend {
		return s.send[hash]
	}
	return s.receive[hash]
}

func (s *MemoryStore) List(ctx context.Context, hash string, folder Folder, r Range, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit == 0 {
		return []Entry{}, nil
	}
	if s.maxListLimit > 0 && limit > s.maxListLimit {
		limit = s.maxListLimit
	}

	stream := s.streamFor(hash, folder)
	entries := make([]Entry, 0, len(stream))
	for _, se := range stream {
		if !r.isZero() {
			if r.From != "" && se.id < r.From {
				continue
			}
			if r.To != "" && se.id > r.To {
				continue
			}
		}
		rec, ok := s.bodies[se.msgID]
		if !ok {
			continue
		}
		entries = append(entries, Entry{
			MsgID:     se.msgID,
			StreamID:  se.id,
			Bytes:     rec.Bytes,
			Timestamp: rec.Timestamp,
			To:        rec.ToHash,
			From:      rec.FromHash,
		})
		if len(entries) >= limit {
			break
		}
	}
	return entries, nil
}

func (s *MemoryStore) Get(ctx context.Context, ids []string, del bool) (map[string][]byte, map[string]error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bodies := make(map[string][]byte, len(ids))
	errs := make(map[string]error)
	for _, id := range ids {
		rec, ok := s.bodies[id]
		if !ok {
			errs[id] = apperr.New(apperr.KindMalformed, "message not found")
			continue
		}
		bodies[id] = append([]byte(nil), rec.Body...)
		if del {
			s.removeLocked(id)
		}
	}
	return bodies, errs, nil
}

func (s *MemoryStore) Delete(ctx context.Context, callerHash string, ids []string) ([]string, map[string]error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var successes []string
	errs := make(map[string]error)
	for _, id := range ids {
		rec, ok := s.bodies[id]
		if !ok {
			errs[id] = apperr.New(apperr.KindMalformed, "message not found")
			continue
		}
		if rec.FromHash == "" {
			if rec.ToHash != callerHash {
				errs[id] = apperr.New(apperr.KindPermissionError, "only the recipient may delete an anonymous message")
				continue
			}
		} else if rec.ToHash != callerHash && rec.FromHash != callerHash {
			errs[id] = apperr.New(apperr.KindPermissionError, "caller is neither sender nor recipient")
			continue
		}
		s.removeLocked(id)
		successes = append(successes, id)
	}
	return successes, errs, nil
}

// removeLocked deletes a record and its stream entries, updating counters.
// Caller must hold s.mu.
func (s *MemoryStore) removeLocked(id string) {
	rec, ok := s.bodies[id]
	if !ok {
		return
	}
	delete(s.bodies, id)
	s.receive[rec.ToHash] = removeEntry(s.receive[rec.ToHash], id)
	if rec.FromHash != "" {
		s.send[rec.FromHash] = removeEntry(s.send[rec.FromHash], id)
	}
	s.counters.DeletedBytes += int64(rec.Bytes)
	s.counters.DeletedCount++
}

func removeEntry(stream []streamEntry, msgID string) []streamEntry {
	for i, se := range stream {
		if se.msgID == msgID {
			return append(stream[:i], stream[i+1:]...)
		}
	}
	return stream
}

func (s *MemoryStore) Fetch(ctx context.Context, hash string, limit int, startID string, policy DeletePolicy) ([]Entry, map[string][]byte, error) {
	entries, err := s.List(ctx, hash, FolderReceive, Range{From: startID}, limit)
	if err != nil {
		return nil, nil, err
	}
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.MsgID
	}
	bodies, _, err := s.Get(ctx, ids, policy == DeleteOnFetch)
	if err != nil {
		return nil, nil, err
	}
	return entries, bodies, nil
}

func (s *MemoryStore) ExpireSweep(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []string
	for id, rec := range s.bodies {
		if !rec.ExpiresAt.IsZero() && !rec.ExpiresAt.After(now) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		s.removeLocked(id)
	}
	return len(expired), nil
}

func (s *MemoryStore) Stats(ctx context.Context, hash string, liveDelivery bool) (QueueStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stream := s.receive[hash]
	stats := QueueStats{LiveDelivery: liveDelivery}
	if len(stream) == 0 {
		return stats, nil
	}
	stats.Count = len(stream)
	for i, se := range stream {
		rec, ok := s.bodies[se.msgID]
		if !ok {
			continue
		}
		stats.Bytes += int64(rec.Bytes)
		if i == 0 {
			stats.OldestMs = rec.Timestamp
		}
		stats.NewestMs = rec.Timestamp
	}
	return stats, nil
}

func (s *MemoryStore) Counters(ctx context.Context) (Counters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters, nil
}

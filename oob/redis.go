package oob

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/didcomm-mediator/mediator/apperr"
)

// RedisStore is the durable OOB_INVITES backend (spec §6): each invite is a
// JSON value under OOB_INVITES:<id>, with its lifetime modeled as a native
// Redis key TTL rather than an expires_at field a sweeper has to check,
// since unlike msgstore.RedisStore's queues an invite is a single key with
// no secondary index to keep consistent. Constructor shape follows
// msgstore.RedisStore's Config/NewRedisStore/Close pattern.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore dials Redis and verifies connectivity before returning. It
// takes the same address, password and DB fields as msgstore.Config; callers
// typically point both stores at the same Redis deployment under different
// key prefixes.
func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, apperr.Wrap(apperr.KindDatabaseError, "ping redis", err)
	}
	return &RedisStore{client: client}, nil
}

// Close releases the underlying Redis connection pool.
func (s *RedisStore) Close() error { return s.client.Close() }

func inviteKey(id string) string { return "OOB_INVITES:" + id }

type wireInvite struct {
	ID      string `json:"id"`
	FromDID string `json:"from_did"`
	Label   string `json:"label"`
}

func (s *RedisStore) CreateInvite(ctx context.Context, inv Invite) (string, error) {
	id, err := newInviteID()
	if err != nil {
		return "", err
	}
	inv.ID = id

	payload, err := json.Marshal(wireInvite{ID: inv.ID, FromDID: inv.FromDID, Label: inv.Label})
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternalError, "encode invite", err)
	}

	var ttl time.Duration
	if !inv.ExpiresAt.IsZero() {
		ttl = time.Until(inv.ExpiresAt)
		if ttl <= 0 {
			return "", apperr.New(apperr.KindMalformed, "invite already expired")
		}
	}
	if err := s.client.Set(ctx, inviteKey(id), payload, ttl).Err(); err != nil {
		return "", apperr.Wrap(apperr.KindDatabaseError, "store invite", err)
	}
	return id, nil
}

func (s *RedisStore) GetInvite(ctx context.Context, id string) (Invite, bool, error) {
	raw, err := s.client.Get(ctx, inviteKey(id)).Bytes()
	if err == redis.Nil {
		return Invite{}, false, nil
	}
	if err != nil {
		return Invite{}, false, apperr.Wrap(apperr.KindDatabaseError, "read invite", err)
	}

	var w wireInvite
	if err := json.Unmarshal(raw, &w); err != nil {
		return Invite{}, false, apperr.Wrap(apperr.KindInternalError, "decode invite", err)
	}

	var expiresAt time.Time
	if ttl, err := s.client.TTL(ctx, inviteKey(id)).Result(); err == nil && ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	return Invite{ID: w.ID, FromDID: w.FromDID, Label: w.Label, ExpiresAt: expiresAt}, true, nil
}

func (s *RedisStore) DeleteInvite(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, inviteKey(id)).Err(); err != nil {
		return apperr.Wrap(apperr.KindDatabaseError, "delete invite", err)
	}
	return nil
}

var _ Store = (*RedisStore)(nil)

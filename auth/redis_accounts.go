package auth

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/didcomm-mediator/mediator/acl"
	"github.com/didcomm-mediator/mediator/apperr"
	"github.com/didcomm-mediator/mediator/did"
	"github.com/didcomm-mediator/mediator/session"
)

// RedisAccountIndex is the durable counterpart of MemoryAccountIndex,
// following msgstore.RedisStore's key-naming convention: ADMINS is a Redis
// set of raw admin DIDs, KNOWN_DIDS a hash of did-hash -> raw DID, ACL:<hash>
// a per-account bitfield, GLOBAL_ACL the mediator-wide default, and
// ACCESS_LIST:<hash> a JSON-encoded acl.List (spec §6 names ADMINS,
// KNOWN_DIDS, and the per-account ACL/access-list keys). Exists so
// cmd/mediatorctl can administer accounts against the same store the
// mediator process itself runs against, rather than only an in-memory copy.
type RedisAccountIndex struct {
	client *redis.Client

	rootAdmin   string
	mediatorDID string
}

const (
	redisAdminsKey    = "ADMINS"
	redisKnownDIDsKey = "KNOWN_DIDS"
	redisGlobalACLKey = "GLOBAL_ACL"
)

func redisACLKey(hash string) string        { return "ACL:" + hash }
func redisAccessListKey(hash string) string { return "ACCESS_LIST:" + hash }

// NewRedisAccountIndex dials Redis and verifies connectivity before
// returning. rootAdminDID/mediatorDID name the two accounts that may never
// be removed or demoted, mirroring NewMemoryAccountIndex's bootstrapping.
func NewRedisAccountIndex(ctx context.Context, addr, password string, db int, rootAdminDID, mediatorDID string) (*RedisAccountIndex, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, apperr.Wrap(apperr.KindDatabaseError, "ping redis", err)
	}
	r := &RedisAccountIndex{client: client, rootAdmin: rootAdminDID, mediatorDID: mediatorDID}
	if err := r.remember(ctx, rootAdminDID); err != nil {
		return nil, err
	}
	if err := r.remember(ctx, mediatorDID); err != nil {
		return nil, err
	}
	return r, nil
}

// Close releases the underlying Redis connection pool.
func (r *RedisAccountIndex) Close() error { return r.client.Close() }

func (r *RedisAccountIndex) remember(ctx context.Context, d string) error {
	if d == "" {
		return nil
	}
	if err := r.client.HSet(ctx, redisKnownDIDsKey, did.DID(d).Hash(), d).Err(); err != nil {
		return apperr.Wrap(apperr.KindDatabaseError, "record known did", err)
	}
	return nil
}

func (r *RedisAccountIndex) isProtected(d string) bool {
	return d == r.rootAdmin || d == r.mediatorDID
}

func (r *RedisAccountIndex) isProtectedHash(hash string) bool {
	return hash == did.DID(r.rootAdmin).Hash() || hash == did.DID(r.mediatorDID).Hash()
}

func (r *RedisAccountIndex) AccountType(ctx context.Context, d string) (session.AccountType, error) {
	if err := r.remember(ctx, d); err != nil {
		return session.Standard, err
	}
	if d == r.rootAdmin {
		return session.RootAdmin, nil
	}
	isMember, err := r.client.SIsMember(ctx, redisAdminsKey, d).Result()
	if err != nil {
		return session.Standard, apperr.Wrap(apperr.KindDatabaseError, "read admin membership", err)
	}
	if isMember {
		return session.Admin, nil
	}
	return session.Standard, nil
}

func (r *RedisAccountIndex) ACL(ctx context.Context, d string) (acl.Set, error) {
	if err := r.remember(ctx, d); err != nil {
		return acl.NewSet(), err
	}
	return r.Get(ctx, did.DID(d).Hash())
}

// Get implements dispatcher.ACLProvider/forward.ACLProvider/
// wsworker.ACLProvider, unioning the mediator-wide global default
// underneath the per-account bitfield.
func (r *RedisAccountIndex) Get(ctx context.Context, didHash string) (acl.Set, error) {
	global, err := r.GlobalACL(ctx)
	if err != nil {
		return acl.NewSet(), err
	}
	raw, err := r.client.Get(ctx, redisACLKey(didHash)).Uint64()
	if err == redis.Nil {
		return global, nil
	}
	if err != nil {
		return acl.NewSet(), apperr.Wrap(apperr.KindDatabaseError, "read acl", err)
	}
	return global.Union(acl.FromUint64(raw)), nil
}

func (r *RedisAccountIndex) AccessList(ctx context.Context, didHash string) (*acl.List, error) {
	raw, err := r.client.Get(ctx, redisAccessListKey(didHash)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabaseError, "read access list", err)
	}
	return acl.UnmarshalList(raw)
}

func (r *RedisAccountIndex) SetAccessList(ctx context.Context, didHash string, list *acl.List) error {
	raw, err := acl.MarshalList(list)
	if err != nil {
		return apperr.Wrap(apperr.KindInternalError, "encode access list", err)
	}
	if err := r.client.Set(ctx, redisAccessListKey(didHash), raw, 0).Err(); err != nil {
		return apperr.Wrap(apperr.KindDatabaseError, "store access list", err)
	}
	return nil
}

func (r *RedisAccountIndex) GlobalACL(ctx context.Context) (acl.Set, error) {
	raw, err := r.client.Get(ctx, redisGlobalACLKey).Uint64()
	if err == redis.Nil {
		return acl.NewSet(), nil
	}
	if err != nil {
		return acl.NewSet(), apperr.Wrap(apperr.KindDatabaseError, "read global acl", err)
	}
	return acl.FromUint64(raw), nil
}

func (r *RedisAccountIndex) SetGlobalACL(ctx context.Context, set acl.Set) error {
	if err := r.client.Set(ctx, redisGlobalACLKey, strconv.FormatUint(set.Uint64(), 10), 0).Err(); err != nil {
		return apperr.Wrap(apperr.KindDatabaseError, "store global acl", err)
	}
	return nil
}

func (r *RedisAccountIndex) SetACL(ctx context.Context, d string, set acl.Set) error {
	if err := r.remember(ctx, d); err != nil {
		return err
	}
	hash := did.DID(d).Hash()
	if err := r.client.Set(ctx, redisACLKey(hash), strconv.FormatUint(set.Uint64(), 10), 0).Err(); err != nil {
		return apperr.Wrap(apperr.KindDatabaseError, "store acl", err)
	}
	return nil
}

// SetACLBit implements dispatcher.AccountIndex.
func (r *RedisAccountIndex) SetACLBit(ctx context.Context, didHash string, bit acl.Bit, value bool) error {
	raw, err := r.client.Get(ctx, redisACLKey(didHash)).Uint64()
	if err != nil && err != redis.Nil {
		return apperr.Wrap(apperr.KindDatabaseError, "read acl", err)
	}
	set := acl.FromUint64(raw)
	if value {
		set = set.Set(bit)
	} else {
		set = set.Clear(bit)
	}
	if err := r.client.Set(ctx, redisACLKey(didHash), strconv.FormatUint(set.Uint64(), 10), 0).Err(); err != nil {
		return apperr.Wrap(apperr.KindDatabaseError, "store acl", err)
	}
	return nil
}

// RemoveAccount implements dispatcher.AccountIndex.
func (r *RedisAccountIndex) RemoveAccount(ctx context.Context, didHash string) error {
	if r.isProtectedHash(didHash) {
		return apperr.New(apperr.KindPermissionError, "root-admin and the mediator's own account may not be removed")
	}
	rawDID, err := r.client.HGet(ctx, redisKnownDIDsKey, didHash).Result()
	if err != nil && err != redis.Nil {
		return apperr.Wrap(apperr.KindDatabaseError, "resolve known did", err)
	}
	pipe := r.client.TxPipeline()
	if rawDID != "" {
		pipe.SRem(ctx, redisAdminsKey, rawDID)
	}
	pipe.Del(ctx, redisACLKey(didHash))
	pipe.Del(ctx, redisAccessListKey(didHash))
	pipe.HDel(ctx, redisKnownDIDsKey, didHash)
	if _, err := pipe.Exec(ctx); err != nil {
		return apperr.Wrap(apperr.KindDatabaseError, "remove account", err)
	}
	return nil
}

func (r *RedisAccountIndex) PromoteAdmin(ctx context.Context, d string) error {
	if err := r.remember(ctx, d); err != nil {
		return err
	}
	if err := r.client.SAdd(ctx, redisAdminsKey, d).Err(); err != nil {
		return apperr.Wrap(apperr.KindDatabaseError, "promote admin", err)
	}
	return nil
}

func (r *RedisAccountIndex) RemoveAdmin(ctx context.Context, d string) error {
	if r.isProtected(d) {
		return apperr.New(apperr.KindPermissionError, "root-admin and the mediator's own account may not be demoted")
	}
	if err := r.client.SRem(ctx, redisAdminsKey, d).Err(); err != nil {
		return apperr.Wrap(apperr.KindDatabaseError, "demote admin", err)
	}
	return nil
}

// PromoteAdminByHash implements dispatcher.AccountIndex.
func (r *RedisAccountIndex) PromoteAdminByHash(ctx context.Context, didHash string) error {
	rawDID, err := r.client.HGet(ctx, redisKnownDIDsKey, didHash).Result()
	if err == redis.Nil {
		return apperr.New(apperr.KindMalformed, "unknown did hash: account has never been seen")
	}
	if err != nil {
		return apperr.Wrap(apperr.KindDatabaseError, "resolve known did", err)
	}
	return r.PromoteAdmin(ctx, rawDID)
}

// DemoteAdminByHash implements dispatcher.AccountIndex.
func (r *RedisAccountIndex) DemoteAdminByHash(ctx context.Context, didHash string) error {
	if r.isProtectedHash(didHash) {
		return apperr.New(apperr.KindPermissionError, "root-admin and the mediator's own account may not be demoted")
	}
	rawDID, err := r.client.HGet(ctx, redisKnownDIDsKey, didHash).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return apperr.Wrap(apperr.KindDatabaseError, "resolve known did", err)
	}
	if err := r.client.SRem(ctx, redisAdminsKey, rawDID).Err(); err != nil {
		return apperr.Wrap(apperr.KindDatabaseError, "demote admin", err)
	}
	return nil
}

var _ AccountIndex = (*RedisAccountIndex)(nil)

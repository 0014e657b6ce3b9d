package presence

import (
	"context"
	"errors"
	"fmt"

	"telecom-signaling/internal/accounts"

	"github.com/redis/go-redis/v9"
)

var ErrInvalidArgument = errors.New("presence: invalid argument")

const keyPrefix = "presence:"

// Registry maps (role, participant id) to the participant's current
// connection handle. State lives in Redis so every instance sees the same view
// and a restart does not trust stale entries.
//
// Every mutation is a single Lua script, so there is never a window where two
// handles are valid for the same identity.
type Registry struct {
	rdb redis.UniversalClient
}

func NewRegistry(rdb redis.UniversalClient) *Registry {
	return &Registry{rdb: rdb}
}

func connKey(role accounts.Role, id string) string {
	return fmt.Sprintf("%s%s:conn:%s", keyPrefix, role, id)
}

func membersKey(role accounts.Role) string {
	return fmt.Sprintf("%s%s:members", keyPrefix, role)
}

var setOnlineScript = redis.NewScript(`
-- KEYS[1] = conn key
-- KEYS[2] = members set
-- ARGV[1] = handle
-- ARGV[2] = participant id
--
-- Returns the superseded handle, or "" when there was none.
local prev = redis.call('GET', KEYS[1])
redis.call('SET', KEYS[1], ARGV[1])
redis.call('SADD', KEYS[2], ARGV[2])
if prev then
  return prev
end
return ''
`)

var setOfflineScript = redis.NewScript(`
-- KEYS[1] = conn key
-- KEYS[2] = members set
-- ARGV[1] = expected handle ("" removes unconditionally)
-- ARGV[2] = participant id
--
-- Returns 1 when the entry was removed, 0 when it belonged to another connection.
local cur = redis.call('GET', KEYS[1])
if ARGV[1] ~= '' and cur ~= ARGV[1] then
  return 0
end
redis.call('DEL', KEYS[1])
redis.call('SREM', KEYS[2], ARGV[2])
if cur then
  return 1
end
return 0
`)

// SetOnline records h as the only valid handle for the identity and returns
// the handle it superseded, if any.
func (r *Registry) SetOnline(ctx context.Context, role accounts.Role, id string, h Handle) (Handle, error) {
	if id == "" || h.IsZero() {
		return Handle{}, ErrInvalidArgument
	}
	prev, err := setOnlineScript.Run(ctx, r.rdb, []string{connKey(role, id), membersKey(role)}, h.String(), id).Text()
	if err != nil {
		return Handle{}, fmt.Errorf("presence: set online: %w", err)
	}
	if prev == "" || prev == h.String() {
		return Handle{}, nil
	}
	old, err := ParseHandle(prev)
	if err != nil {
		return Handle{}, nil
	}
	return old, nil
}

// SetOffline removes the entry. With a non-zero handle the removal only
// happens if the stored handle still matches, so a late disconnect of a
// superseded connection cannot evict its replacement.
func (r *Registry) SetOffline(ctx context.Context, role accounts.Role, id string, h Handle) (bool, error) {
	if id == "" {
		return false, ErrInvalidArgument
	}
	n, err := setOfflineScript.Run(ctx, r.rdb, []string{connKey(role, id), membersKey(role)}, h.String(), id).Int()
	if err != nil {
		return false, fmt.Errorf("presence: set offline: %w", err)
	}
	return n == 1, nil
}

// GetHandle returns the current handle, or ok=false when the identity is absent.
func (r *Registry) GetHandle(ctx context.Context, role accounts.Role, id string) (Handle, bool, error) {
	v, err := r.rdb.Get(ctx, connKey(role, id)).Result()
	if errors.Is(err, redis.Nil) {
		return Handle{}, false, nil
	}
	if err != nil {
		return Handle{}, false, fmt.Errorf("presence: get handle: %w", err)
	}
	h, err := ParseHandle(v)
	if err != nil {
		return Handle{}, false, nil
	}
	return h, true, nil
}

func (r *Registry) IsOnline(ctx context.Context, role accounts.Role, id string) (bool, error) {
	n, err := r.rdb.Exists(ctx, connKey(role, id)).Result()
	if err != nil {
		return false, fmt.Errorf("presence: is online: %w", err)
	}
	return n == 1, nil
}

func (r *Registry) Count(ctx context.Context, role accounts.Role) (int64, error) {
	n, err := r.rdb.SCard(ctx, membersKey(role)).Result()
	if err != nil {
		return 0, fmt.Errorf("presence: count: %w", err)
	}
	return n, nil
}

// Reset drops every presence entry for every role. Called on startup before
// connections are admitted.
func (r *Registry) Reset(ctx context.Context) (int, error) {
	var removed int
	iter := r.rdb.Scan(ctx, 0, keyPrefix+"*", 200).Iterator()
	batch := make([]string, 0, 200)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := r.rdb.Del(ctx, batch...).Err(); err != nil {
			return err
		}
		removed += len(batch)
		batch = batch[:0]
		return nil
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return removed, fmt.Errorf("presence: reset: %w", err)
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("presence: reset: %w", err)
	}
	if err := flush(); err != nil {
		return removed, fmt.Errorf("presence: reset: %w", err)
	}
	return removed, nil
}

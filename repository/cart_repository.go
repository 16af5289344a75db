package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/imramesh222/ecommerce/models"
)

// CartRepository is the persistence port for working carts. Save and
// Delete are compare-and-set operations on the cart version; a cart that
// does not exist yet is at version zero.
type CartRepository interface {
	Get(ctx context.Context, ownerID string) (*models.Cart, error)
	Save(ctx context.Context, cart *models.Cart, expectedVersion int64) error
	Delete(ctx context.Context, ownerID string, expectedVersion int64) error
}

// RedisCartRepository stores each cart as a Redis hash with a version
// field and a JSON payload. Lua scripts compare the version and write in
// one step so concurrent writers cannot interleave.
type RedisCartRepository struct {
	client *redis.Client
	ttl    time.Duration
}

var saveCartScript = redis.NewScript(`
local ver = redis.call('HGET', KEYS[1], 'version')
if ver then
  if ver ~= ARGV[1] then return 0 end
elseif ARGV[1] ~= '0' then
  return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[2], 'data', ARGV[3])
if tonumber(ARGV[4]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[4])
end
return 1
`)

var deleteCartScript = redis.NewScript(`
local ver = redis.call('HGET', KEYS[1], 'version')
if not ver then return 1 end
if ver ~= ARGV[1] then return 0 end
redis.call('DEL', KEYS[1])
return 1
`)

// NewRedisCartRepository builds a cart store on the given client. With a
// zero ttl carts never expire.
func NewRedisCartRepository(client *redis.Client, ttl time.Duration) *RedisCartRepository {
	return &RedisCartRepository{client: client, ttl: ttl}
}

func cartKey(ownerID string) string {
	return fmt.Sprintf("cart:user:%s", ownerID)
}

// Get returns the stored cart, or nil when the owner has no cart yet.
func (r *RedisCartRepository) Get(ctx context.Context, ownerID string) (*models.Cart, error) {
	vals, err := r.client.HMGet(ctx, cartKey(ownerID), "version", "data").Result()
	if err != nil {
		return nil, err
	}
	if vals[0] == nil || vals[1] == nil {
		return nil, nil
	}

	raw, ok := vals[1].(string)
	if !ok {
		return nil, fmt.Errorf("unexpected cart payload type %T for %s", vals[1], ownerID)
	}
	var cart models.Cart
	if err := json.Unmarshal([]byte(raw), &cart); err != nil {
		return nil, fmt.Errorf("decode cart for %s: %w", ownerID, err)
	}

	// the hash field is authoritative for the version
	if vs, ok := vals[0].(string); ok {
		if v, err := strconv.ParseInt(vs, 10, 64); err == nil {
			cart.Version = v
		}
	}
	return &cart, nil
}

// Save writes the cart if the stored version still equals expectedVersion
// and bumps the version by one. On success the caller's cart reflects the
// new version.
func (r *RedisCartRepository) Save(ctx context.Context, cart *models.Cart, expectedVersion int64) error {
	next := expectedVersion + 1
	snap := cart.Clone()
	snap.Version = next
	snap.UpdatedAt = time.Now().UTC()

	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	ok, err := saveCartScript.Run(ctx, r.client, []string{cartKey(cart.OwnerID)},
		expectedVersion, next, payload, r.ttl.Milliseconds()).Int()
	if err != nil {
		return err
	}
	if ok == 0 {
		return ErrVersionConflict
	}
	cart.Version = next
	cart.UpdatedAt = snap.UpdatedAt
	return nil
}

// Delete removes the cart if the stored version still equals
// expectedVersion. Deleting an absent cart succeeds.
func (r *RedisCartRepository) Delete(ctx context.Context, ownerID string, expectedVersion int64) error {
	ok, err := deleteCartScript.Run(ctx, r.client, []string{cartKey(ownerID)}, expectedVersion).Int()
	if err != nil {
		return err
	}
	if ok == 0 {
		return ErrVersionConflict
	}
	return nil
}

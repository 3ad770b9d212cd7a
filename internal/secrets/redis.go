package secrets

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	fieldDigest   = "digest"
	fieldPayload  = "payload"
	fieldAttempts = "attempts"

	redeemStatusAbsent   = 0
	redeemStatusMismatch = 1
	redeemStatusAccepted = 2
)

// redeemScript compares ARGV[1] with the stored digest. ARGV[2] is the attempt
// limit (0 disables), ARGV[3] is "1" to consume on match.
var redeemScript = redis.NewScript(`
local digest = redis.call('HGET', KEYS[1], 'digest')
if not digest then
  return {0, ''}
end
if digest ~= ARGV[1] then
  local attempts = redis.call('HINCRBY', KEYS[1], 'attempts', 1)
  local limit = tonumber(ARGV[2])
  if limit > 0 and attempts >= limit then
    redis.call('DEL', KEYS[1])
  end
  return {1, ''}
end
local payload = redis.call('HGET', KEYS[1], 'payload') or ''
if ARGV[3] == '1' then
  redis.call('DEL', KEYS[1])
end
return {2, payload}
`)

// RedisStore keeps each record as a hash with a native key TTL.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps an existing go-redis client.
func NewRedisStore(client redis.UniversalClient) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("secrets: redis client required")
	}
	return &RedisStore{client: client}, nil
}

// Put deletes, writes and expires the key inside one MULTI/EXEC.
func (s *RedisStore) Put(ctx context.Context, key string, record Record, ttl time.Duration) error {
	if err := validatePut(key, ttl); err != nil {
		return err
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			fieldDigest, record.Digest,
			fieldPayload, record.Payload,
			fieldAttempts, 0,
		)
		pipe.PExpire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: put: %v", ErrUnavailable, err)
	}
	return nil
}

// Redeem runs the compare-and-consume script.
func (s *RedisStore) Redeem(ctx context.Context, key string, digest string, options RedeemOptions) (Match, error) {
	if key == "" {
		return Match{}, ErrInvalidKey
	}
	consume := "0"
	if options.Consume {
		consume = "1"
	}
	values, err := redeemScript.Run(ctx, s.client, []string{key}, digest, options.MaxAttempts, consume).Slice()
	if err != nil {
		return Match{}, fmt.Errorf("%w: redeem: %v", ErrUnavailable, err)
	}
	return parseRedeemReply(values)
}

// Delete removes the key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: delete: %v", ErrUnavailable, err)
	}
	return nil
}

func parseRedeemReply(values []interface{}) (Match, error) {
	if len(values) != 2 {
		return Match{}, fmt.Errorf("%w: unexpected redeem reply of %d values", ErrUnavailable, len(values))
	}
	status, ok := values[0].(int64)
	if !ok {
		return Match{}, fmt.Errorf("%w: unexpected redeem status %T", ErrUnavailable, values[0])
	}
	payload, _ := values[1].(string)
	switch status {
	case redeemStatusAccepted:
		return Match{Status: MatchAccepted, Payload: payload}, nil
	case redeemStatusMismatch:
		return Match{Status: MatchMismatch}, nil
	case redeemStatusAbsent:
		return Match{Status: MatchAbsent}, nil
	default:
		return Match{}, fmt.Errorf("%w: unknown redeem status %d", ErrUnavailable, status)
	}
}

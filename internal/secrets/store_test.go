package secrets

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
)

type storeHarness struct {
	store   Store
	advance func(time.Duration)
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newHarnesses(t *testing.T) map[string]func(t *testing.T) storeHarness {
	t.Helper()
	return map[string]func(t *testing.T) storeHarness{
		"memory": func(t *testing.T) storeHarness {
			clock := &manualClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
			return storeHarness{store: NewMemoryStore(clock.Now), advance: clock.Advance}
		},
		"redis": func(t *testing.T) storeHarness {
			server := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: server.Addr()})
			t.Cleanup(func() { _ = client.Close() })
			store, err := NewRedisStore(client)
			require.NoError(t, err)
			return storeHarness{store: store, advance: server.FastForward}
		},
	}
}

func TestStoreRedeemConsumesOnce(t *testing.T) {
	for name, build := range newHarnesses(t) {
		t.Run(name, func(t *testing.T) {
			h := build(t)
			ctx := context.Background()
			require.NoError(t, h.store.Put(ctx, "invite:user-1", Record{Digest: "d1", Payload: "p"}, time.Hour))

			match, err := h.store.Redeem(ctx, "invite:user-1", "d1", RedeemOptions{Consume: true})
			require.NoError(t, err)
			require.Equal(t, MatchAccepted, match.Status)
			require.Equal(t, "p", match.Payload)

			match, err = h.store.Redeem(ctx, "invite:user-1", "d1", RedeemOptions{Consume: true})
			require.NoError(t, err)
			require.Equal(t, MatchAbsent, match.Status)
		})
	}
}

func TestStoreMismatchKeepsRecordUntilLimit(t *testing.T) {
	for name, build := range newHarnesses(t) {
		t.Run(name, func(t *testing.T) {
			h := build(t)
			ctx := context.Background()
			require.NoError(t, h.store.Put(ctx, "reset_code:user-1", Record{Digest: "good"}, time.Minute))

			options := RedeemOptions{Consume: true, MaxAttempts: 3}
			for attempt := 0; attempt < 2; attempt++ {
				match, err := h.store.Redeem(ctx, "reset_code:user-1", "bad", options)
				require.NoError(t, err)
				require.Equal(t, MatchMismatch, match.Status)
			}

			match, err := h.store.Redeem(ctx, "reset_code:user-1", "good", RedeemOptions{MaxAttempts: 3})
			require.NoError(t, err)
			require.Equal(t, MatchAccepted, match.Status, "check without consume still matches after two misses")

			match, err = h.store.Redeem(ctx, "reset_code:user-1", "bad", options)
			require.NoError(t, err)
			require.Equal(t, MatchMismatch, match.Status)

			match, err = h.store.Redeem(ctx, "reset_code:user-1", "good", options)
			require.NoError(t, err)
			require.Equal(t, MatchAbsent, match.Status, "third miss exhausts the record")
		})
	}
}

func TestStorePutReplacesPriorRecord(t *testing.T) {
	for name, build := range newHarnesses(t) {
		t.Run(name, func(t *testing.T) {
			h := build(t)
			ctx := context.Background()
			require.NoError(t, h.store.Put(ctx, "invite:user-2", Record{Digest: "old"}, time.Hour))
			_, err := h.store.Redeem(ctx, "invite:user-2", "nope", RedeemOptions{MaxAttempts: 2})
			require.NoError(t, err)
			require.NoError(t, h.store.Put(ctx, "invite:user-2", Record{Digest: "new"}, time.Hour))

			match, err := h.store.Redeem(ctx, "invite:user-2", "old", RedeemOptions{Consume: true, MaxAttempts: 2})
			require.NoError(t, err)
			require.Equal(t, MatchMismatch, match.Status, "attempts reset on replace")

			match, err = h.store.Redeem(ctx, "invite:user-2", "new", RedeemOptions{Consume: true})
			require.NoError(t, err)
			require.Equal(t, MatchAccepted, match.Status)
		})
	}
}

func TestStoreExpiresRecords(t *testing.T) {
	for name, build := range newHarnesses(t) {
		t.Run(name, func(t *testing.T) {
			h := build(t)
			ctx := context.Background()
			ttl := 10 * time.Minute
			require.NoError(t, h.store.Put(ctx, "reset_code:a", Record{Digest: "x"}, ttl))
			require.NoError(t, h.store.Put(ctx, "reset_code:b", Record{Digest: "y"}, ttl))

			h.advance(ttl - time.Second)
			match, err := h.store.Redeem(ctx, "reset_code:a", "x", RedeemOptions{Consume: true})
			require.NoError(t, err)
			require.Equal(t, MatchAccepted, match.Status)

			h.advance(2 * time.Second)
			match, err = h.store.Redeem(ctx, "reset_code:b", "y", RedeemOptions{Consume: true})
			require.NoError(t, err)
			require.Equal(t, MatchAbsent, match.Status)
		})
	}
}

func TestStoreConcurrentRedeemAcceptsExactlyOnce(t *testing.T) {
	for name, build := range newHarnesses(t) {
		t.Run(name, func(t *testing.T) {
			h := build(t)
			ctx := context.Background()
			require.NoError(t, h.store.Put(ctx, "invite:race", Record{Digest: "d"}, time.Hour))

			const workers = 32
			var accepted int32
			var wg sync.WaitGroup
			wg.Add(workers)
			for i := 0; i < workers; i++ {
				go func() {
					defer wg.Done()
					match, err := h.store.Redeem(ctx, "invite:race", "d", RedeemOptions{Consume: true})
					if err == nil && match.Status == MatchAccepted {
						atomic.AddInt32(&accepted, 1)
					}
				}()
			}
			wg.Wait()
			require.Equal(t, int32(1), accepted)
		})
	}
}

func TestStoreDeleteIsIdempotent(t *testing.T) {
	for name, build := range newHarnesses(t) {
		t.Run(name, func(t *testing.T) {
			h := build(t)
			ctx := context.Background()
			require.NoError(t, h.store.Delete(ctx, "email_change:none"))
			require.NoError(t, h.store.Put(ctx, "email_change:u", Record{Digest: "d"}, time.Minute))
			require.NoError(t, h.store.Delete(ctx, "email_change:u"))
			match, err := h.store.Redeem(ctx, "email_change:u", "d", RedeemOptions{})
			require.NoError(t, err)
			require.Equal(t, MatchAbsent, match.Status)
		})
	}
}

func TestStoreRejectsInvalidInput(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx := context.Background()
	require.ErrorIs(t, store.Put(ctx, "", Record{}, time.Minute), ErrInvalidKey)
	require.ErrorIs(t, store.Put(ctx, "k", Record{}, 0), ErrInvalidTTL)
	_, err := store.Redeem(ctx, "", "d", RedeemOptions{})
	require.ErrorIs(t, err, ErrInvalidKey)
}

func TestRedisStoreReportsUnavailable(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	store, err := NewRedisStore(client)
	require.NoError(t, err)
	server.Close()

	err = store.Put(context.Background(), "invite:x", Record{Digest: "d"}, time.Minute)
	require.ErrorIs(t, err, ErrUnavailable)

	_, err = store.Redeem(context.Background(), "invite:x", "d", RedeemOptions{Consume: true})
	require.ErrorIs(t, err, ErrUnavailable)
}

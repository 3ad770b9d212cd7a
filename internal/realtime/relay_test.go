package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
)

func TestRedisRelayFansOutAcrossInstances(t *testing.T) {
	server := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	newInstance := func() (*Registry, *RedisRelay) {
		client := redis.NewClient(&redis.Options{Addr: server.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		registry := NewRegistry()
		local, err := NewLocalPublisher(registry, nil)
		require.NoError(t, err)
		relay, err := NewRedisRelay(RelayConfig{Client: client, Local: local})
		require.NoError(t, err)
		go func() { _ = relay.Run(ctx) }()
		select {
		case <-relay.Ready():
		case <-time.After(2 * time.Second):
			t.Fatal("relay did not subscribe")
		}
		return registry, relay
	}

	firstRegistry, firstRelay := newInstance()
	secondRegistry, _ := newInstance()

	local := &fakeConnection{id: "conn-1"}
	remote := &fakeConnection{id: "conn-2"}
	bystander := &fakeConnection{id: "conn-3"}
	require.NoError(t, firstRegistry.Join(local, "user-c"))
	require.NoError(t, secondRegistry.Join(remote, "user-c"))
	require.NoError(t, secondRegistry.Join(bystander, "user-d"))

	require.NoError(t, firstRelay.Publish(ctx, "user-c", "notification:new", map[string]string{"id": "n-1"}))
	require.Eventually(t, func() bool {
		return len(local.received()) == 1 && len(remote.received()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Empty(t, bystander.received())
	require.Equal(t, "notification:new", remote.received()[0].Name)

	require.NoError(t, firstRelay.PublishAll(ctx, "activity:created", map[string]string{"id": "a-1"}))
	require.Eventually(t, func() bool {
		return len(bystander.received()) == 1 && len(local.received()) == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRedisRelayRejectsEmptyRecipient(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer client.Close()
	local, err := NewLocalPublisher(NewRegistry(), nil)
	require.NoError(t, err)
	relay, err := NewRedisRelay(RelayConfig{Client: client, Local: local})
	require.NoError(t, err)
	require.ErrorIs(t, relay.Publish(context.Background(), " ", "notification:new", nil), ErrEmptyRecipient)
}

package backplane_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okian/parcelcast/internal/adapters/backplane"
	"github.com/okian/parcelcast/internal/domain/event"
)

func newClient(t *testing.T, mr *miniredis.Miniredis) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisBackplaneFanOut(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	nodeA := backplane.NewRedis(newClient(t, mr))
	nodeB := backplane.NewRedis(newClient(t, mr))
	t.Cleanup(func() { _ = nodeA.Close(); _ = nodeB.Close() })

	received := make(chan backplane.Envelope, 4)
	sub, err := nodeB.Subscribe(ctx, func(env backplane.Envelope) { received <- env })
	require.NoError(t, err)
	defer sub.Close()

	sent := backplane.Envelope{
		Origin: "node-a",
		Type:   event.PackageCreated,
		Class:  event.Reliable,
		Rooms:  []event.Room{event.PackageRoom("PKG-1"), event.Admin},
		Frame:  json.RawMessage(`{"event":"package.created","data":{"packageId":"PKG-1"}}`),
	}
	require.NoError(t, nodeA.Publish(ctx, sent))

	select {
	case got := <-received:
		assert.Equal(t, sent.Origin, got.Origin)
		assert.Equal(t, sent.Rooms, got.Rooms)
		assert.Equal(t, sent.Class, got.Class)
		assert.JSONEq(t, string(sent.Frame), string(got.Frame))
	case <-time.After(2 * time.Second):
		t.Fatal("envelope not delivered across nodes")
	}
	assert.True(t, nodeA.Shared())
}

func TestRedisBackplanePreservesOrder(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	bp := backplane.NewRedis(newClient(t, mr), backplane.WithChannel("test:rt"))
	t.Cleanup(func() { _ = bp.Close() })

	received := make(chan string, 10)
	_, err := bp.Subscribe(ctx, func(env backplane.Envelope) { received <- env.Origin })
	require.NoError(t, err)

	for _, origin := range []string{"1", "2", "3", "4", "5"} {
		require.NoError(t, bp.Publish(ctx, backplane.Envelope{Origin: origin, Frame: json.RawMessage(`{}`)}))
	}
	for _, want := range []string{"1", "2", "3", "4", "5"} {
		select {
		case got := <-received:
			assert.Equal(t, want, got)
		case <-time.After(2 * time.Second):
			t.Fatalf("missing envelope %s", want)
		}
	}
}

func TestRedisBackplaneSkipsGarbage(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	client := newClient(t, mr)
	bp := backplane.NewRedis(client)
	t.Cleanup(func() { _ = bp.Close() })

	received := make(chan backplane.Envelope, 2)
	_, err := bp.Subscribe(ctx, func(env backplane.Envelope) { received <- env })
	require.NoError(t, err)

	require.NoError(t, client.Publish(ctx, backplane.DefaultChannel, "not json").Err())
	require.NoError(t, bp.Publish(ctx, backplane.Envelope{Origin: "ok", Frame: json.RawMessage(`{}`)}))

	select {
	case got := <-received:
		assert.Equal(t, "ok", got.Origin)
	case <-time.After(2 * time.Second):
		t.Fatal("valid envelope not delivered after garbage")
	}
}

func TestRedisBackplaneClose(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	bp := backplane.NewRedis(newClient(t, mr))

	sub, err := bp.Subscribe(ctx, func(backplane.Envelope) {})
	require.NoError(t, err)

	require.NoError(t, bp.Close())
	assert.NoError(t, sub.Close(), "closing twice is harmless")
	assert.ErrorIs(t, bp.Publish(ctx, backplane.Envelope{}), backplane.ErrClosed)
	_, err = bp.Subscribe(ctx, func(backplane.Envelope) {})
	assert.ErrorIs(t, err, backplane.ErrClosed)
}

func TestLocal(t *testing.T) {
	var bp backplane.Backplane = backplane.Local{}
	ctx := context.Background()

	assert.False(t, bp.Shared())
	assert.NoError(t, bp.Publish(ctx, backplane.Envelope{Origin: "x"}))
	sub, err := bp.Subscribe(ctx, func(backplane.Envelope) { t.Fatal("local backplane delivered an envelope") })
	require.NoError(t, err)
	assert.NoError(t, sub.Close())
	assert.NoError(t, bp.Close())
}

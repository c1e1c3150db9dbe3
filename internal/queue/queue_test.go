package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemory_PublishPop(t *testing.T) {
	q := NewInMemory(4)
	ctx := context.Background()

	require.NoError(t, q.Publish(ctx, Message{Type: TypeScan, Body: []byte("S1;Alice;B1;1")}))

	msg, err := q.Pop(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, TypeScan, msg.Type)
	assert.Equal(t, "S1;Alice;B1;1", string(msg.Body))
}

func TestInMemory_PopTimesOut(t *testing.T) {
	q := NewInMemory(1)
	_, err := q.Pop(context.Background(), 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestInMemory_CloseDrainsThenReportsClosed(t *testing.T) {
	q := NewInMemory(2)
	ctx := context.Background()
	require.NoError(t, q.Publish(ctx, Message{Type: TypeScan, Body: []byte("a")}))
	require.NoError(t, q.Close())

	assert.ErrorIs(t, q.Publish(ctx, Message{Type: TypeScan}), ErrClosed)

	msg, err := q.Pop(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "a", string(msg.Body))

	_, err = q.Pop(ctx, time.Second)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestInMemory_PopHonoursContext(t *testing.T) {
	q := NewInMemory(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Pop(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRedisQueue_FIFO(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	q := NewRedisQueue(client, ScanKey("B1"))
	assert.Equal(t, "attendance:scans:B1", q.Key())

	ctx := context.Background()
	require.NoError(t, q.Publish(ctx, Message{Type: TypeScan, Body: []byte("first|with pipe")}))
	require.NoError(t, q.Publish(ctx, Message{Type: TypeScan, Body: []byte("second")}))

	msg, err := q.Pop(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, TypeScan, msg.Type)
	assert.Equal(t, "first|with pipe", string(msg.Body))

	msg, err = q.Pop(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "second", string(msg.Body))
}

func TestRedisQueue_EmptyAndClosed(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := NewRedisQueue(client, "")
	assert.Equal(t, "attendance:queue", q.Key())

	_, err := q.Pop(context.Background(), time.Second)
	assert.ErrorIs(t, err, ErrEmpty)

	require.NoError(t, client.Close())
	_, err = q.Pop(context.Background(), time.Second)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDeserialize_NoSeparator(t *testing.T) {
	msg := deserialize("raw")
	assert.Equal(t, "", msg.Type)
	assert.Equal(t, "raw", string(msg.Body))
}

package queue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TypeScan tags a decoded QR payload waiting for reconciliation.
const TypeScan = "scan"

var (
	// ErrEmpty means nothing arrived before the pop timeout.
	ErrEmpty = errors.New("queue empty")
	// ErrClosed means the queue will never deliver again.
	ErrClosed = errors.New("queue closed")
)

// Message represents work to be processed.
type Message struct {
	Type string
	Body []byte
}

// Queue is the abstraction over different backends.
type Queue interface {
	Publish(ctx context.Context, msg Message) error
	// Pop waits up to timeout for the next message.
	Pop(ctx context.Context, timeout time.Duration) (Message, error)
}

// ScanKey is the list a batch's scans are queued on.
func ScanKey(batch string) string {
	return "attendance:scans:" + batch
}

// InMemory is a channel-backed queue for single-process runs and tests.
type InMemory struct {
	ch     chan Message
	done   chan struct{}
	closer sync.Once
}

// NewInMemory creates a bounded in-memory queue.
func NewInMemory(size int) *InMemory {
	return &InMemory{ch: make(chan Message, size), done: make(chan struct{})}
}

// Publish enqueues a message, blocking while the buffer is full.
func (q *InMemory) Publish(ctx context.Context, msg Message) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case q.ch <- msg:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop returns the next message. Buffered messages are still delivered after
// Close; ErrClosed comes once the buffer is drained.
func (q *InMemory) Pop(ctx context.Context, timeout time.Duration) (Message, error) {
	select {
	case msg := <-q.ch:
		return msg, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg := <-q.ch:
		return msg, nil
	case <-q.done:
		select {
		case msg := <-q.ch:
			return msg, nil
		default:
			return Message{}, ErrClosed
		}
	case <-timer.C:
		return Message{}, ErrEmpty
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Close stops further publishing.
func (q *InMemory) Close() error {
	q.closer.Do(func() { close(q.done) })
	return nil
}

// RedisQueue implements a Redis list-backed queue.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue builds a queue using LPUSH/BRPOP semantics.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = "attendance:queue"
	}
	return &RedisQueue{client: client, key: key}
}

// Key returns the Redis list name.
func (q *RedisQueue) Key() string { return q.key }

// Publish enqueues a message.
func (q *RedisQueue) Publish(ctx context.Context, msg Message) error {
	return q.client.LPush(ctx, q.key, serialize(msg)).Err()
}

// Pop blocks on BRPOP for up to timeout.
func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) (Message, error) {
	res, err := q.client.BRPop(ctx, timeout, q.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Message{}, ErrEmpty
		}
		if errors.Is(err, redis.ErrClosed) {
			return Message{}, ErrClosed
		}
		return Message{}, err
	}
	if len(res) != 2 {
		return Message{}, ErrEmpty
	}
	return deserialize(res[1]), nil
}

// serialize stores messages as Type|Body.
func serialize(msg Message) string {
	return msg.Type + "|" + string(msg.Body)
}

func deserialize(s string) Message {
	typ, body, ok := strings.Cut(s, "|")
	if !ok {
		return Message{Body: []byte(s)}
	}
	return Message{Type: typ, Body: []byte(body)}
}

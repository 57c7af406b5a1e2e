package bus

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// memBus is an in-process Bus double: Publish fans out synchronously to
// every queue-grouped handler registered for a subject (one handler per
// queue group wins per delivery, mirroring NATS queue-group semantics
// closely enough for unit tests).
type memBus struct {
	mu   sync.Mutex
	subs map[string]map[string]Handler // subject -> queue -> handler
}

func newMemBus() *memBus {
	return &memBus{subs: make(map[string]map[string]Handler)}
}

func (b *memBus) Publish(ctx context.Context, subject, correlationID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return NewBusError("publish", ErrCodeDecodeFailed, "marshal failed", err)
	}
	b.mu.Lock()
	queues := b.subs[subject]
	handlers := make([]Handler, 0, len(queues))
	for _, h := range queues {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		if ctx.Err() != nil {
			return nil
		}
		_ = h(ctx, correlationID, data)
	}
	return nil
}

func (b *memBus) Subscribe(subject, queue string, handler Handler) (func() error, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[subject] == nil {
		b.subs[subject] = make(map[string]Handler)
	}
	b.subs[subject][queue] = handler
	return func() error {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[subject], queue)
		return nil
	}, nil
}

// Request is not exercised by this package's tests (request/response is a
// thin wrapper over NATS's native correlation inbox, not reimplemented
// in-process); it returns an error if called.
func (b *memBus) Request(ctx context.Context, subject, correlationID string, payload any, timeout time.Duration) ([]byte, error) {
	return nil, NewBusError("request", ErrCodeRequestTimeout, "memBus does not support request/response", nil)
}

func (b *memBus) Close() error { return nil }

package bus

import (
	"context"
	"encoding/json"
	"testing"
)

type pingCommand struct {
	Value string `json:"value"`
}

func TestMemBus_PublishDeliversToQueueGroup(t *testing.T) {
	b := newMemBus()
	received := make(chan string, 1)

	unsub, err := b.Subscribe("activity.execute", "workers", func(ctx context.Context, correlationID string, payload []byte) error {
		var cmd pingCommand
		if err := json.Unmarshal(payload, &cmd); err != nil {
			t.Errorf("unmarshal failed: %v", err)
		}
		received <- cmd.Value
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer unsub()

	if err := b.Publish(context.Background(), "activity.execute", "corr-1", pingCommand{Value: "hello"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case v := <-received:
		if v != "hello" {
			t.Fatalf("received = %q, want hello", v)
		}
	default:
		t.Fatalf("handler was not invoked")
	}
}

func TestMemBus_PublishHonorsCancellation(t *testing.T) {
	b := newMemBus()
	called := false
	_, err := b.Subscribe("subj", "q", func(ctx context.Context, correlationID string, payload []byte) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := b.Publish(ctx, "subj", "corr", pingCommand{Value: "x"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if called {
		t.Fatalf("handler was invoked after context cancellation")
	}
}

func TestMemBus_UnsubscribeStopsDelivery(t *testing.T) {
	b := newMemBus()
	calls := 0
	unsub, _ := b.Subscribe("subj", "q", func(ctx context.Context, correlationID string, payload []byte) error {
		calls++
		return nil
	})
	_ = unsub()

	if err := b.Publish(context.Background(), "subj", "corr", pingCommand{Value: "x"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if calls != 0 {
		t.Fatalf("calls = %d after unsubscribe, want 0", calls)
	}
}

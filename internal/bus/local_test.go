package bus

import (
	"context"
	"encoding/json"
	"testing"
)

func TestLocalBusDeliversInPublishOrder(t *testing.T) {
	b := NewLocalBus()
	var got []string
	unsubscribe, err := b.Subscribe(TopicNotificationNew, func(_ context.Context, e Event) {
		var s string
		_ = json.Unmarshal(e.Payload, &s)
		got = append(got, s)
	})
	if err != nil {
		t.Fatalf("subscribe error: %v", err)
	}
	defer unsubscribe()

	for _, s := range []string{"a", "b", "c"} {
		payload, _ := json.Marshal(s)
		if err := b.Publish(context.Background(), Event{Topic: TopicNotificationNew, Payload: payload}); err != nil {
			t.Fatalf("publish error: %v", err)
		}
	}

	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("expected in-order delivery, got %v", got)
	}
}

func TestLocalBusUnsubscribe(t *testing.T) {
	b := NewLocalBus()
	count := 0
	unsubscribe, err := b.Subscribe("topic", func(_ context.Context, _ Event) { count++ })
	if err != nil {
		t.Fatalf("subscribe error: %v", err)
	}
	_ = b.Publish(context.Background(), Event{Topic: "topic"})
	unsubscribe()
	unsubscribe()
	_ = b.Publish(context.Background(), Event{Topic: "topic"})
	if count != 1 {
		t.Fatalf("expected one delivery, got %d", count)
	}
}

func TestLocalBusUnsubscribeRemovesOnlyItsHandler(t *testing.T) {
	b := NewLocalBus()
	var first, second, third int
	unsubFirst, _ := b.Subscribe("topic", func(_ context.Context, _ Event) { first++ })
	_, _ = b.Subscribe("topic", func(_ context.Context, _ Event) { second++ })
	unsubThird, _ := b.Subscribe("topic", func(_ context.Context, _ Event) { third++ })

	unsubFirst()
	unsubThird()
	_ = b.Publish(context.Background(), Event{Topic: "topic"})

	if first != 0 || third != 0 {
		t.Fatalf("expected removed handlers silent, got first=%d third=%d", first, third)
	}
	if second != 1 {
		t.Fatalf("expected remaining handler delivered once, got %d", second)
	}
}

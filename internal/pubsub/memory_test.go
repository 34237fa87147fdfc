package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemoryPubSub_PublishSubscribe(t *testing.T) {
	ps := NewMemoryPubSub()
	defer ps.Close()

	topic := Topics.Presence()
	received := make(chan *Message, 1)

	sub, err := ps.Subscribe(context.Background(), topic, func(ctx context.Context, msg *Message) {
		received <- msg
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	payload, _ := json.Marshal(map[string]interface{}{"user_id": "user-42", "online": true})
	msg := &Message{
		Topic:   topic,
		Type:    "presence.changed",
		Payload: payload,
	}

	if err := ps.Publish(context.Background(), topic, msg); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case got := <-received:
		if got.Type != msg.Type {
			t.Errorf("got type %q, want %q", got.Type, msg.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestMemoryPubSub_MultipleSubscribers(t *testing.T) {
	ps := NewMemoryPubSub()
	defer ps.Close()

	topic := Topics.Presence()
	var count atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 3; i++ {
		wg.Add(1)
		sub, err := ps.Subscribe(context.Background(), topic, func(ctx context.Context, msg *Message) {
			count.Add(1)
			wg.Done()
		})
		if err != nil {
			t.Fatalf("Subscribe %d failed: %v", i, err)
		}
		defer sub.Unsubscribe()
	}

	msg := &Message{Topic: topic, Type: "presence.changed"}
	if err := ps.Publish(context.Background(), topic, msg); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if count.Load() != 3 {
			t.Errorf("got %d deliveries, want 3", count.Load())
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for subscribers")
	}
}

func TestMemoryPubSub_TopicIsolation(t *testing.T) {
	ps := NewMemoryPubSub()
	defer ps.Close()

	var wrongTopic atomic.Int32
	sub, err := ps.Subscribe(context.Background(), Topics.User("user-a"), func(ctx context.Context, msg *Message) {
		wrongTopic.Add(1)
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	msg := &Message{Topic: Topics.User("user-b"), Type: "test"}
	if err := ps.Publish(context.Background(), Topics.User("user-b"), msg); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if wrongTopic.Load() != 0 {
		t.Errorf("subscriber received message for a different topic")
	}
}

func TestMemoryPubSub_Unsubscribe(t *testing.T) {
	ps := NewMemoryPubSub()
	defer ps.Close()

	topic := Topics.Presence()
	var count atomic.Int32

	sub, err := ps.Subscribe(context.Background(), topic, func(ctx context.Context, msg *Message) {
		count.Add(1)
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}

	msg := &Message{Topic: topic, Type: "test"}
	if err := ps.Publish(context.Background(), topic, msg); err != nil {
		t.Fatalf("Publish after unsubscribe failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if count.Load() != 0 {
		t.Errorf("unsubscribed handler received %d messages", count.Load())
	}

	if ps.SubscriberCount(topic) != 0 {
		t.Errorf("got %d subscribers after unsubscribe, want 0", ps.SubscriberCount(topic))
	}
	if ps.TopicCount() != 0 {
		t.Errorf("empty topic was not pruned")
	}
}

func TestMemoryPubSub_PublishNoSubscribers(t *testing.T) {
	ps := NewMemoryPubSub()
	defer ps.Close()

	msg := &Message{Topic: Topics.Presence(), Type: "test"}
	if err := ps.Publish(context.Background(), Topics.Presence(), msg); err != nil {
		t.Errorf("Publish with no subscribers should succeed, got: %v", err)
	}
}

func TestMemoryPubSub_Closed(t *testing.T) {
	ps := NewMemoryPubSub()
	ps.Close()

	if _, err := ps.Subscribe(context.Background(), Topics.Presence(), func(context.Context, *Message) {}); !errors.Is(err, ErrClosed) {
		t.Errorf("Subscribe on closed bus: got %v, want ErrClosed", err)
	}

	msg := &Message{Topic: Topics.Presence(), Type: "test"}
	if err := ps.Publish(context.Background(), Topics.Presence(), msg); !errors.Is(err, ErrClosed) {
		t.Errorf("Publish on closed bus: got %v, want ErrClosed", err)
	}
}

func TestTopicBuilder(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"presence", Topics.Presence(), "presence"},
		{"user", Topics.User("user-7"), "user:user-7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

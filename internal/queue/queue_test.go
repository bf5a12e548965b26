package queue

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryPublishConsume(t *testing.T) {
	q := NewInMemory(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := q.Publish(ctx, Message{Type: "scan", Body: []byte("rec-1")}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	msgs, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	select {
	case msg := <-msgs:
		if msg.Type != "scan" || string(msg.Body) != "rec-1" {
			t.Errorf("got %+v, want scan/rec-1", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}
}

func TestInMemoryPublishRespectsCancel(t *testing.T) {
	q := NewInMemory(1)
	ctx, cancel := context.WithCancel(context.Background())

	_ = q.Publish(ctx, Message{Type: "scan"})
	cancel()
	// Queue is full and the context is done; Publish must not block.
	if err := q.Publish(ctx, Message{Type: "scan"}); err == nil {
		t.Error("publish on cancelled context returned nil error")
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{"plain", Message{Type: "scan", Body: []byte("rec-1")}},
		{"body with separator", Message{Type: "scan", Body: []byte("a|b|c")}},
		{"empty body", Message{Type: "scan", Body: []byte("")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := deserialize(serialize(tt.msg))
			if got.Type != tt.msg.Type || string(got.Body) != string(tt.msg.Body) {
				t.Errorf("round trip = %+v, want %+v", got, tt.msg)
			}
		})
	}
}

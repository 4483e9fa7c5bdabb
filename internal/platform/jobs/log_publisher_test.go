package jobs

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogPublisherWritesNotification(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	pub := NewLogPublisher(zap.New(core))

	id, err := pub.Publish(context.Background(), NotificationMessage{Type: EventOrderCreated, OrderID: "ord_1", Status: "PENDING"})
	if err != nil || id == "" {
		t.Fatalf("Publish returned %q %v", id, err)
	}
	entries := logs.FilterField(zap.String("type", EventOrderCreated)).All()
	if len(entries) != 1 {
		t.Fatalf("expected one log entry, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["order_id"]; got != "ord_1" {
		t.Fatalf("unexpected order_id %v", got)
	}
}

func TestTopicCheckWithoutTopic(t *testing.T) {
	if err := TopicCheck(nil)(context.Background()); err == nil {
		t.Fatal("expected error for nil topic")
	}
}

package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
)

// Notification event types carried in the `type` message attribute.
const (
	EventOrderCreated        = "order.created"
	EventOrderStatusChanged  = "order.status_changed"
	EventReturnStatusChanged = "return.status_changed"
)

// NotificationMessage is the payload delivered to downstream consumers via Pub/Sub.
type NotificationMessage struct {
	Type           string    `json:"type"`
	OrderID        string    `json:"orderId"`
	RequestID      string    `json:"requestId,omitempty"`
	UserID         string    `json:"userId"`
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previousStatus,omitempty"`
	RequestType    string    `json:"requestType,omitempty"`
	Total          int64     `json:"total,omitempty"`
	Currency       string    `json:"currency,omitempty"`
	TrackingNumber string    `json:"trackingNumber,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// Publisher delivers a single notification message.
type Publisher interface {
	Publish(ctx context.Context, message NotificationMessage) (string, error)
}

// PubSubNotificationPublisher publishes lifecycle notifications to a Pub/Sub topic.
type PubSubNotificationPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubNotificationPublisher constructs a Pub/Sub backed notification publisher.
func NewPubSubNotificationPublisher(topic *pubsub.Topic) (*PubSubNotificationPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub notification publisher: topic is required")
	}
	return &PubSubNotificationPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// Publish sends the message and waits for the server-assigned id.
func (p *PubSubNotificationPublisher) Publish(ctx context.Context, message NotificationMessage) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub notification publisher: not initialised")
	}

	data, err := p.marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal notification: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "type", message.Type)
	setAttr(attrs, "orderId", message.OrderID)
	setAttr(attrs, "requestId", message.RequestID)
	setAttr(attrs, "status", message.Status)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish %s: %w", message.Type, err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}

// TopicCheck reports whether the topic exists, for readiness probes.
func TopicCheck(topic *pubsub.Topic) func(context.Context) error {
	return func(ctx context.Context) error {
		if topic == nil {
			return errors.New("pubsub: topic not configured")
		}
		ok, err := topic.Exists(ctx)
		if err != nil {
			return fmt.Errorf("pubsub: topic lookup: %w", err)
		}
		if !ok {
			return fmt.Errorf("pubsub: topic %s does not exist", topic.ID())
		}
		return nil
	}
}

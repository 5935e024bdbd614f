package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
)

// BookingEvent is the payload published to the storefront dashboard channel
// whenever a booking is created or changes state.
type BookingEvent struct {
	Type        string    `json:"type"`
	BookingID   string    `json:"bookingId"`
	OrderNumber string    `json:"orderNumber,omitempty"`
	SessionRef  string    `json:"sessionRef,omitempty"`
	Status      string    `json:"status,omitempty"`
	DueDate     string    `json:"dueDate,omitempty"`
	OccurredAt  time.Time `json:"occurredAt"`
}

const (
	// EventBookingCreated signals a new booking materialised after payment.
	EventBookingCreated = "booking.created"
	// EventBookingUpdated signals a status or schedule change on an existing booking.
	EventBookingUpdated = "booking.updated"
)

// PubSubBookingPublisher publishes booking events to a Pub/Sub topic.
type PubSubBookingPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubBookingPublisher constructs a Pub/Sub backed booking event publisher.
func NewPubSubBookingPublisher(topic *pubsub.Topic) (*PubSubBookingPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub booking publisher: topic is required")
	}
	return &PubSubBookingPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishBookingEvent enqueues a booking event message on the configured topic.
func (p *PubSubBookingPublisher) PublishBookingEvent(ctx context.Context, event BookingEvent) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub booking publisher: not initialised")
	}

	data, err := p.marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal booking event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "type", event.Type)
	setAttr(attrs, "bookingId", event.BookingID)
	setAttr(attrs, "sessionRef", event.SessionRef)
	setAttr(attrs, "status", event.Status)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish booking event: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}

// Package events publishes account lifecycle events for downstream consumers.
// Publication is best effort: callers log failures and carry on.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Type identifies an account event.
type Type string

const (
	UserRegistered Type = "user.registered"
	UserLoggedIn   Type = "user.logged_in"
)

// Event describes something that happened to an account. It never carries
// credentials or tokens.
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	UserID     string    `json:"user_id"`
	Username   string    `json:"username"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Broker is the subset of *mq.MQ used to deliver events.
type Broker interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// BrokerPublisher encodes events as JSON and publishes them to one channel.
type BrokerPublisher struct {
	broker  Broker
	channel string
}

func NewBrokerPublisher(broker Broker, channel string) *BrokerPublisher {
	return &BrokerPublisher{broker: broker, channel: channel}
}

func (p *BrokerPublisher) Publish(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	_, err = p.broker.Publish(ctx, p.channel, data, map[string]string{
		"event_type": string(event.Type),
		"event_id":   event.ID,
	})
	return err
}

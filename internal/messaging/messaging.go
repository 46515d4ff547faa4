package messaging

import "context"

// Topics carried on the bus. Each topic carries exactly one event schema.
const (
	TopicOrderPlaced        = "orders.placed"
	TopicOrderStatusChanged = "orders.status_changed"
	TopicPaymentsConfirmed  = "payments.confirmed"
)

// Publisher defines an interface for publishing events to a message broker.
// Publishing is fire-and-forget for callers: a failed publish is logged and
// never unwinds the operation that produced the event.
type Publisher interface {
	PublishEvent(ctx context.Context, topic string, key string, event any) error
}

// Subscriber defines an interface for subscribing to a message topic. The
// handler is invoked per message; handler errors are logged and consumption
// continues. Consume returns when ctx is cancelled.
type Subscriber interface {
	Consume(ctx context.Context, topic string, groupID string, handler func(ctx context.Context, payload []byte) error)
}

// NopPublisher drops every event. It stands in when the bus is not
// configured, keeping publish call sites unconditional.
type NopPublisher struct{}

func (NopPublisher) PublishEvent(ctx context.Context, topic string, key string, event any) error {
	return nil
}

// Package bus provides the publish/subscribe abstraction the job monitor
// uses in message-bus mode, trimmed from the request/reply and task-queue
// surface of the pack's agent message bus down to what completion
// notifications actually need.
package bus

import (
	"context"
	"errors"
)

// ErrClosed is returned when operating on a closed bus or subscription.
var ErrClosed = errors.New("bus: closed")

// MessageBus is the subject-addressed publish/subscribe surface the
// monitor's message-bus mode runs against. Implementations must be safe
// for concurrent use.
type MessageBus interface {
	// Publish sends data to every current subscriber of subject. It
	// returns immediately and does not wait for delivery.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers handler for messages on subject. handler runs
	// off the publisher's goroutine, one message at a time per
	// subscription; it must not block indefinitely.
	Subscribe(ctx context.Context, subject string, handler MessageHandler) (Subscription, error)

	// Close shuts down the bus and every outstanding subscription.
	Close() error
}

// MessageHandler processes one inbound message.
type MessageHandler func(msg *Message)

// Message is one inbound message delivered to a MessageHandler.
type Message struct {
	Subject string
	Data    []byte
}

// Subscription is an active subscription that can be cancelled.
type Subscription interface {
	Unsubscribe() error
}

// CompletionSubject returns the subject the job monitor listens on for
// call-completion notices for one job, replacing spec.md §6's
// `lithops-{executor_id}-{job_id}` AMQP exchange name (see DESIGN.md for
// why NATS replaces AMQP as the transport).
func CompletionSubject(executorID, jobID string) string {
	return "invoker." + executorID + "." + jobID
}

// EndMessageType is the payload.type value the monitor treats as "a call
// finished", matching spec.md §6's `"__end__"` sentinel.
const EndMessageType = "__end__"

// Package queue carries encoded job messages from the dispatcher to the
// processor pool with at-least-once delivery.
package queue

import "context"

type Publisher interface {
	// Publish stores body durably before returning.
	Publish(ctx context.Context, body []byte) error
}

type Consumer interface {
	// Receive blocks for at most the backend's poll interval. It returns
	// (nil, nil) when no message arrived in that window.
	Receive(ctx context.Context) (*Delivery, error)
}

// Delivery is one received message. A delivery that is never acked is
// redelivered by the broker.
type Delivery struct {
	ID   string
	Body []byte

	ack func(ctx context.Context) error
}

func NewDelivery(id string, body []byte, ack func(ctx context.Context) error) *Delivery {
	return &Delivery{ID: id, Body: body, ack: ack}
}

func (d *Delivery) Ack(ctx context.Context) error {
	if d.ack == nil {
		return nil
	}
	return d.ack(ctx)
}

package job

import "context"

// Delivery is a message read from a topic stream, together with the
// record it arrived in.
type Delivery struct {
	// ID is the stream record id assigned by the broker.
	ID string

	// Stream is the key the record was read from.
	Stream string

	// Job is the job name from the record's job field. It selects the
	// handler and is normally equal to Message.Job.
	Job string

	// Message is the decoded message.
	Message Message
}

type deliveryKey struct{}

// WithDelivery returns a context carrying the delivery being handled.
func WithDelivery(ctx context.Context, d *Delivery) context.Context {
	return context.WithValue(ctx, deliveryKey{}, d)
}

// DeliveryFromContext returns the delivery being handled, if any.
// Handlers only receive the payload; this lets them reach record details
// such as the retry count when they need to.
func DeliveryFromContext(ctx context.Context) (*Delivery, bool) {
	d, ok := ctx.Value(deliveryKey{}).(*Delivery)
	return d, ok
}

package punt

import "errors"

var (
	// Broker errors.
	ErrNoBroker     = errors.New("punt: no broker configured")
	ErrBrokerClosed = errors.New("punt: broker closed")

	// Dispatch errors.
	ErrUnknownHandler = errors.New("punt: no handler registered for job")
	ErrEmptyMessage   = errors.New("punt: empty message")

	// Retry errors.
	ErrMalformedEntry = errors.New("punt: malformed retry entry")
)

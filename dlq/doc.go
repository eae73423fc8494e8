// Package dlq provides the dead letter sink for messages that have
// exhausted their retry budget.
//
// Dead-lettered messages are appended to the stream
// "__punt__:__deadletter__" with the same job and message fields as a
// live delivery. Nothing in punt reads that stream back for dispatch; it
// is there for operators.
//
// # Service
//
//	svc := dlq.NewService(session)
//
//	// Push is called by the executor when retries run out.
//	svc.Push(ctx, msg)
//
//	// Inspection.
//	entries, _ := svc.List(ctx, 50)
//	n, _ := svc.Count(ctx)
//
// The same entries are exposed by the admin API under /v1/deadletter and
// by the "punt deadletter list" command.
package dlq

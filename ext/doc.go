// Package ext defines the extension system for punt.
//
// Extensions are notified of lifecycle events and can react to them,
// for example by recording metrics or writing audit logs. Each lifecycle
// hook is a separate interface so extensions opt in only to the events
// they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnJobCompleted(ctx context.Context, d *job.Delivery, elapsed time.Duration) error {
//	    log.Printf("job %s (%s) completed in %s", d.Job, d.ID, elapsed)
//	    return nil
//	}
//
// # Lifecycle Hooks
//
//   - [JobEnqueued]: a producer appended a new message
//   - [JobStarted]: the dispatch loop is about to call the handler
//   - [JobCompleted]: the handler returned nil
//   - [JobRetrying]: the handler failed and the message waits in the retry set
//   - [JobDeadLettered]: the message ran out of retries
//   - [RetryPromoted]: a due retry was moved back onto the stream
//   - [Shutdown]: the engine is stopping
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface.
package ext

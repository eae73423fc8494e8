// Package audithook is a punt extension that turns lifecycle events into
// audit records.
//
// Every job and worker lifecycle hook emits a structured [AuditEvent]
// through the [Recorder] interface. Severity is info for normal operation,
// warning for retries and critical for dead letters. Metadata carries the
// job name, delivery id, retry count, elapsed time and last error.
//
// # Writing audit records to the log
//
//	eng, _ := engine.Build(cfg, dispatch, retries,
//	    engine.WithExtension(audithook.New(audithook.LogRecorder(logger))),
//	)
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionJobRetrying,
//	        audithook.ActionJobDeadLettered,
//	    ),
//	)
package audithook

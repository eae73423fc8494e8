// Package job defines the message carried on the stream, the delivery
// wrapper the dispatch path works with, typed job definitions, and the
// handler registry.
//
// # Message
//
// A [Message] is the unit of work. It names a job, carries an opaque JSON
// payload, and records the outcome of previous attempts:
//
//	{"job":"sayHello","data":{"name":"Punt"},"retryCount":0,
//	 "lastAttemptedAt":null,"lastError":null}
//
// A fresh message has no attempts. Every failed attempt produces a new
// snapshot via [Message.Failed]; messages are never modified in place.
//
// # Defining a Job
//
// Use [Definition] with a typed handler. The payload is unmarshalled into T
// before the handler runs:
//
//	var SayHello = job.NewDefinition("sayHello",
//	    func(ctx context.Context, in HelloInput) error {
//	        fmt.Println("Hello", in.Name)
//	        return nil
//	    },
//	    job.WithMaxRetries(5),
//	)
//
// # Registry
//
// [Registry] maps job names to handlers and their resolved retry cap.
// Register everything during startup; the registry is only read once the
// worker is running:
//
//	job.RegisterDefinition(registry, SayHello)
//	registry.Register("cleanup", cleanupHandler, job.WithoutRetry())
package job

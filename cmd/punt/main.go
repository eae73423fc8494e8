// Command punt runs a punt worker with a sample handler. Real deployments
// build their own binary around cli.Execute with their own handlers.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/xraph/punt/cli"
	"github.com/xraph/punt/engine"
	"github.com/xraph/punt/job"
)

type helloPayload struct {
	Name string `json:"name"`
}

var sayHello = job.NewDefinition("sayHello", func(ctx context.Context, p helloPayload) error {
	if p.Name == "" {
		return fmt.Errorf("sayHello: name is required")
	}
	attrs := []any{slog.String("name", p.Name)}
	if d, ok := job.DeliveryFromContext(ctx); ok {
		attrs = append(attrs, slog.String("delivery_id", d.ID))
	}
	slog.InfoContext(ctx, "hello", attrs...)
	return nil
})

func main() {
	os.Exit(cli.Execute(func(eng *engine.Engine) error {
		engine.Register(eng, sayHello)
		return nil
	}))
}

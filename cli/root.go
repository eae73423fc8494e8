// Package cli implements the punt command line: a long-running worker, a
// one-shot enqueue, dead letter inspection and the HTTP admin server.
//
// Handlers are Go code, so a deployment builds its own binary around
// [Execute] and registers its handlers in the setup callback:
//
//	func main() {
//	    os.Exit(cli.Execute(func(eng *engine.Engine) error {
//	        eng.Register("sayHello", sayHello)
//	        return nil
//	    }))
//	}
package cli

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	audithook "github.com/xraph/punt/audit_hook"
	"github.com/xraph/punt/broker"
	puntredis "github.com/xraph/punt/broker/redis"
	"github.com/xraph/punt/config"
	"github.com/xraph/punt/engine"
)

// Setup registers handlers, extensions or middleware on a freshly built
// engine.
type Setup func(eng *engine.Engine) error

// Connector opens the dispatch and retry sessions for cfg.
type Connector func(cfg *config.Config) (dispatch, retry broker.Session, err error)

// Option configures the root command.
type Option func(*app)

// WithConnector replaces the Redis connector.
func WithConnector(c Connector) Option {
	return func(a *app) { a.connect = c }
}

// WithEngineOptions adds options to every engine the commands build.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(a *app) { a.engineOpts = append(a.engineOpts, opts...) }
}

type app struct {
	setup      Setup
	connect    Connector
	engineOpts []engine.Option

	configPath string
	redisURL   string
	topic      string
	verbose    bool
}

// Execute runs the root command and returns the process exit code.
func Execute(setup Setup, opts ...Option) int {
	cmd := NewRootCommand(setup, opts...)
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "punt:", err)
		return 1
	}
	return 0
}

// NewRootCommand builds the punt command tree.
func NewRootCommand(setup Setup, opts ...Option) *cobra.Command {
	a := &app{setup: setup, connect: connectRedis}
	for _, opt := range opts {
		opt(a)
	}

	root := &cobra.Command{
		Use:           "punt",
		Short:         "punt manages background workers",
		Long:          "punt runs background jobs from a Redis stream with retries and a dead letter stream.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Config file (default: punt.config.{yaml,yml,json} in the working directory)")
	root.PersistentFlags().StringVar(&a.redisURL, "redis-url", "", "Redis URL (overrides REDIS_URL and the config file)")
	root.PersistentFlags().StringVar(&a.topic, "topic", "", "Topic to read from or append to")
	root.PersistentFlags().BoolVar(&a.verbose, "verbose", false, "Enable debug logging")

	root.AddCommand(
		a.workerCommand(),
		a.enqueueCommand(),
		a.deadletterCommand(),
		a.serveCommand(),
	)
	return root
}

// loadConfig reads the file and environment, then applies the persistent
// flags that were set explicitly.
func (a *app) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("redis-url") {
		cfg.RedisURL = a.redisURL
	}
	if flags.Changed("topic") {
		cfg.Topic = a.topic
	}
	if flags.Changed("verbose") {
		cfg.Verbose = a.verbose
	}
	return cfg, nil
}

func (a *app) logger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// open connects and builds an engine with the user's setup applied.
func (a *app) open(cmd *cobra.Command, cfg *config.Config) (*engine.Engine, error) {
	logger := a.logger(cmd, cfg)

	dispatch, retry, err := a.connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	opts := []engine.Option{engine.WithLogger(logger)}
	if cfg.Audit {
		opts = append(opts, engine.WithExtension(audithook.New(audithook.LogRecorder(logger), audithook.WithLogger(logger))))
	}
	opts = append(opts, a.engineOpts...)
	eng, err := engine.Build(cfg.Punt(), dispatch, retry, opts...)
	if err != nil {
		_ = dispatch.Close()
		_ = retry.Close()
		return nil, err
	}

	if err := eng.Ping(cmd.Context()); err != nil {
		_ = eng.Close()
		return nil, fmt.Errorf("connect %s: %w", cfg.RedisURL, err)
	}

	if a.setup != nil {
		if err := a.setup(eng); err != nil {
			_ = eng.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}
	return eng, nil
}

// connectRedis opens one client per session so the retry scheduler never
// queues behind a blocking read.
func connectRedis(cfg *config.Config) (broker.Session, broker.Session, error) {
	opts, err := cfg.RedisOptions()
	if err != nil {
		return nil, nil, err
	}
	retryOpts := *opts
	return puntredis.New(goredis.NewClient(opts)), puntredis.New(goredis.NewClient(&retryOpts)), nil
}

package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/xraph/punt/shutdown"
)

type workerFlags struct {
	timeoutMs  int64
	worker     string
	group      string
	maxRetries int
	audit      bool
}

func (a *app) workerCommand() *cobra.Command {
	var f workerFlags

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Start a background worker",
		Long: "Start a background worker. It replays deliveries left pending by a previous run, " +
			"then processes new jobs until SIGINT or SIGTERM.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig(cmd)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("timeout") {
				cfg.TimeoutMs = f.timeoutMs
			}
			if flags.Changed("worker") {
				cfg.Worker = f.worker
			}
			if flags.Changed("group") {
				cfg.Group = f.group
			}
			if flags.Changed("max-retries") {
				cfg.MaxRetries = f.maxRetries
			}
			if flags.Changed("audit") {
				cfg.Audit = f.audit
			}

			eng, err := a.open(cmd, cfg)
			if err != nil {
				return err
			}
			defer eng.Close()

			coord := shutdown.New(shutdown.WithLogger(eng.Logger()))
			stop := coord.Notify()
			defer stop()
			ctx, cancel := coord.Context(cmd.Context())
			defer cancel()

			eng.Logger().Info("worker started",
				slog.Int("pid", os.Getpid()),
				slog.String("stream", eng.Config().StreamKey()),
				slog.String("consumer", eng.Config().Consumer),
				slog.String("run_id", eng.Worker().RunID().String()),
			)

			if err := eng.StartUp(ctx); err != nil {
				return err
			}
			return eng.Run(ctx)
		},
	}

	cmd.Flags().Int64Var(&f.timeoutMs, "timeout", 0, "Live read block timeout in milliseconds (default 5000)")
	cmd.Flags().StringVar(&f.worker, "worker", "", "Consumer name; must be stable across restarts (default \"worker\")")
	cmd.Flags().StringVar(&f.group, "group", "", "Consumer group (default \"workers\")")
	cmd.Flags().IntVar(&f.maxRetries, "max-retries", 0, "Retry cap for handlers without one (default 20)")
	cmd.Flags().BoolVar(&f.audit, "audit", false, "Log an audit record for every lifecycle event")
	return cmd
}

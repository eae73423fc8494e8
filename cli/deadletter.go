package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func (a *app) deadletterCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "deadletter",
		Aliases: []string{"dlq"},
		Short:   "Inspect the dead letter stream",
	}

	var limit int64
	list := &cobra.Command{
		Use:   "list",
		Short: "Print dead-lettered messages as JSON lines, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig(cmd)
			if err != nil {
				return err
			}
			eng, err := a.open(cmd, cfg)
			if err != nil {
				return err
			}
			defer eng.Close()

			entries, err := eng.DLQService().List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, e := range entries {
				if err := enc.Encode(e); err != nil {
					return err
				}
			}
			return nil
		},
	}
	list.Flags().Int64Var(&limit, "limit", 100, "Maximum entries to print (0 for all)")

	count := &cobra.Command{
		Use:   "count",
		Short: "Print the number of dead-lettered messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig(cmd)
			if err != nil {
				return err
			}
			eng, err := a.open(cmd, cfg)
			if err != nil {
				return err
			}
			defer eng.Close()

			n, err := eng.DLQService().Count(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}

	cmd.AddCommand(list, count)
	return cmd
}

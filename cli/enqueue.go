package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func (a *app) enqueueCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue <job> [json]",
		Short: "Append a job to the topic stream",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data json.RawMessage
			if len(args) == 2 {
				if !json.Valid([]byte(args[1])) {
					return fmt.Errorf("payload is not valid JSON: %s", args[1])
				}
				data = json.RawMessage(args[1])
			}

			cfg, err := a.loadConfig(cmd)
			if err != nil {
				return err
			}
			eng, err := a.open(cmd, cfg)
			if err != nil {
				return err
			}
			defer eng.Close()

			deliveryID, err := eng.EnqueueRaw(cmd.Context(), args[0], data)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), deliveryID)
			return nil
		},
	}
}

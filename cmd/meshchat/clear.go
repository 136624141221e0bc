package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newClearCmd(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Clear a session's history on the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if gf.sessionID == "" {
				return errors.New("--session is required")
			}
			cfg, err := gf.loadConfig()
			if err != nil {
				return err
			}
			client, err := gf.newClient(cmd, cfg, nil)
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.Clear(cmd.Context(), gf.sessionID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", gf.sessionID)
			return nil
		},
	}
}

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newPlanCmd(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "plan [message]",
		Short: "Show the agents the router picks for a message",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := gf.loadConfig()
			if err != nil {
				return err
			}
			client, err := gf.newClient(cmd, cfg, nil)
			if err != nil {
				return err
			}
			defer client.Close()

			message := strings.Join(args, " ")
			plan, err := client.Plan(cmd.Context(), gf.session(), message)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, id := range plan.Agents {
				fmt.Fprintf(out, "%s: %s\n", id, plan.TaskFor(id, message))
			}
			if plan.Reasoning != "" {
				fmt.Fprintf(out, "reasoning: %s\n", plan.Reasoning)
			}
			return nil
		},
	}
}

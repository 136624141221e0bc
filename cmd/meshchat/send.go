package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hupe1980/meshchat/orchestrator"
)

func newSendCmd(gf *globalFlags) *cobra.Command {
	var (
		multi   bool
		single  bool
		asJSON  bool
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "send [message]",
		Short: "Send a message and print the reply",
		Long: `Send one user message. With --multi the router picks a team of agents
and every agent's reply is printed under its own heading.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if multi && single {
				return fmt.Errorf("--multi and --single are mutually exclusive")
			}
			cfg, err := gf.loadConfig()
			if err != nil {
				return err
			}

			var obs *printObserver
			if verbose {
				obs = newPrintObserver(cmd.ErrOrStderr())
			}
			client, err := gf.newClient(cmd, cfg, observerOrNil(obs))
			if err != nil {
				return err
			}
			defer client.Close()

			mode := orchestrator.ModeAuto
			switch {
			case multi:
				mode = orchestrator.ModeMulti
			case single:
				mode = orchestrator.ModeSingle
			}

			sessionID := gf.session()
			res, err := client.SendMode(cmd.Context(), sessionID, strings.Join(args, " "), mode)
			if res != nil {
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					if encErr := enc.Encode(res); encErr != nil {
						return encErr
					}
				} else {
					printResult(cmd, sessionID, res)
				}
			}
			return err
		},
	}

	cmd.Flags().BoolVarP(&multi, "multi", "m", false, "plan and fan out over several agents")
	cmd.Flags().BoolVar(&single, "single", false, "force the single-agent path")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the turn result as JSON")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print live progress to stderr")
	return cmd
}

func printResult(cmd *cobra.Command, sessionID string, res *orchestrator.TurnResult) {
	out := cmd.OutOrStdout()
	if res.Plan != nil && res.Plan.Reasoning != "" {
		fmt.Fprintf(out, "plan: %s\n\n", res.Plan.Reasoning)
	}
	for i, m := range res.Messages {
		if i > 0 {
			fmt.Fprintln(out)
		}
		if m.AgentID != "" {
			fmt.Fprintf(out, "[%s]\n", m.AgentID)
		}
		fmt.Fprintln(out, m.Content)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "session: %s\n", sessionID)
}

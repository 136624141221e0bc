package main

import (
	"github.com/spf13/cobra"

	"github.com/hupe1980/meshchat"
	"github.com/hupe1980/meshchat/config"
	"github.com/hupe1980/meshchat/core"
)

// globalFlags are shared by every subcommand. Flags override the config
// file and environment.
type globalFlags struct {
	configPath string
	baseURL    string
	agentID    string
	sessionID  string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	gf := &globalFlags{}

	root := &cobra.Command{
		Use:   "meshchat",
		Short: "Chat with single agents or planned agent teams",
		Long: `meshchat talks to an agent backend over its streaming chat API.

Available subcommands:
  send  - Send a message and stream the reply
  plan  - Show which agents the router would pick for a message
  clear - Clear a session's history`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&gf.configPath, "config", "c", "meshchat.yaml", "path to the YAML config file")
	pf.StringVar(&gf.baseURL, "base-url", "", "agent backend URL")
	pf.StringVarP(&gf.agentID, "agent", "a", "", "agent id sent with every request")
	pf.StringVarP(&gf.sessionID, "session", "s", "", "session id (a new one is generated when empty)")
	pf.StringVar(&gf.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(newSendCmd(gf), newPlanCmd(gf), newClearCmd(gf))
	return root
}

// loadConfig resolves file, environment and flag settings in that order.
func (gf *globalFlags) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(gf.configPath)
	if err != nil {
		return nil, err
	}
	if gf.baseURL != "" {
		cfg.BaseURL = gf.baseURL
	}
	if gf.agentID != "" {
		cfg.AgentID = gf.agentID
	}
	if gf.logLevel != "" {
		cfg.Logging.Level = gf.logLevel
	}
	return cfg, nil
}

func (gf *globalFlags) session() string {
	if gf.sessionID == "" {
		gf.sessionID = core.NewID()
	}
	return gf.sessionID
}

func (gf *globalFlags) newClient(cmd *cobra.Command, cfg *config.Config, observer core.Observer) (*meshchat.Client, error) {
	return meshchat.New(func(o *meshchat.Options) {
		o.Config = cfg
		o.LogOutput = cmd.ErrOrStderr()
		if observer != nil {
			o.Observer = observer
		}
	})
}

// Package main provides the stageflow CLI: a guided, stage-aware conversation front end for
// hosted LLM providers.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"stageflow/internal/config"
	"stageflow/internal/logger"
	"stageflow/internal/services"
	"stageflow/internal/shell"
)

// app carries state shared by the commands of one invocation.
type app struct {
	v          *viper.Viper
	configFile string
	cfg        *config.Config
	mock       *services.MockClient
}

func main() {
	if err := newRootCmd(&app{}).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	a.v = viper.New()

	rootCmd := &cobra.Command{
		Use:   "stageflow",
		Short: "stageflow - stage-aware guided conversations",
		Long: `stageflow guides a conversation through Understanding, Planning, Execution, Refinement and
Completion, adapting the system prompt to each stage and delegating replies to an LLM provider.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return a.loadConfig()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "Config file (default: ./stageflow.yaml or <user config>/stageflow/stageflow.yaml)")
	flags.String("log-level", "", "Set log level (debug|info|warn|error) [default: info]")
	flags.String("log-file", "", "Write logs to file instead of stderr")
	flags.String("provider", "", "LLM provider (openai|anthropic|gemini|compatible|mock)")
	flags.String("model", "", "Provider model name")
	flags.String("base-url", "", "API base URL for compatible or proxied providers")
	flags.String("stage-policy", "", "Stage policy (free-jump|forward-only)")
	flags.String("store", "", "Conversation store (memory|sqlite)")
	flags.String("db-path", "", "SQLite database path")
	flags.Int("max-history-tokens", 0, "Token budget for history sent to the provider (0 disables)")
	flags.Bool("color", true, "Colorize output")

	bindings := map[string]string{
		config.KeyLogLevel:         "log-level",
		config.KeyLogFile:          "log-file",
		config.KeyProvider:         "provider",
		config.KeyModel:            "model",
		config.KeyBaseURL:          "base-url",
		config.KeyStagePolicy:      "stage-policy",
		config.KeyStore:            "store",
		config.KeyDBPath:           "db-path",
		config.KeyMaxHistoryTokens: "max-history-tokens",
		config.KeyColor:            "color",
	}
	for key, flag := range bindings {
		if err := a.v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			fmt.Fprintf(os.Stderr, "Error binding %s flag: %v\n", flag, err)
			os.Exit(1)
		}
	}

	rootCmd.AddCommand(
		newChatCmd(a),
		newAskCmd(a),
		newStageCmd(a),
		newPromptCmd(a),
		newConversationsCmd(a),
		newModelsCmd(a),
		newVersionCmd(),
	)
	return rootCmd
}

func (a *app) loadConfig() error {
	cfg, err := config.Load(a.v, config.Options{
		ConfigFile: a.configFile,
		EnvFiles:   config.DefaultEnvFiles(),
	})
	if err != nil {
		return err
	}
	if err := logger.Configure(cfg.LogLevel, cfg.LogFile); err != nil {
		return fmt.Errorf("error configuring logger: %w", err)
	}
	a.cfg = cfg
	return nil
}

func (a *app) environment() (*shell.Environment, error) {
	return shell.InitializeServices(a.cfg, shell.Options{MockClient: a.mock})
}

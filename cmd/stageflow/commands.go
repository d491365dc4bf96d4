package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"stageflow/internal/services"
	"stageflow/internal/shell"
	"stageflow/internal/store"
	"stageflow/internal/version"
	"stageflow/internal/workflow"
	"stageflow/pkg/flowtypes"
)

func newChatCmd(a *app) *cobra.Command {
	var noStream bool
	var history string

	cmd := &cobra.Command{
		Use:   "chat [conversation]",
		Short: "Start an interactive conversation",
		Long: `Start an interactive conversation, or resume one by name, ID or unique ID prefix.
Type /help inside the session for commands. Ctrl-C cancels the reply being streamed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := a.environment()
			if err != nil {
				return err
			}
			defer env.Close()

			identifier := ""
			if len(args) == 1 {
				identifier = args[0]
			}
			out := cmd.OutOrStdout()
			session, err := shell.NewSession(cmd.Context(), env, out, identifier, !noStream)
			if err != nil {
				return err
			}

			input, err := shell.NewLineInput(history)
			if err != nil {
				// readline is unavailable when stdin is not a terminal
				fmt.Fprintf(cmd.ErrOrStderr(), "line editing disabled: %v\n", err)
			}
			defer input.Close()

			fmt.Fprintf(out, "stageflow %s - conversation %s (%s, %s)\n", version.Version, session.ConversationID(), a.cfg.Provider, env.Engine.Policy())
			fmt.Fprintln(out, "Type /help for commands or /exit to quit.")
			return shell.Run(cmd.Context(), session, input)
		},
	}
	cmd.Flags().BoolVar(&noStream, "no-stream", false, "Wait for complete replies instead of streaming")
	cmd.Flags().StringVar(&history, "history-file", defaultHistoryFile(), "Readline history file")
	return cmd
}

func defaultHistoryFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "stageflow", "history")
}

func newAskCmd(a *app) *cobra.Command {
	var conversationID string

	cmd := &cobra.Command{
		Use:   "ask <message>",
		Short: "Send one message and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := a.environment()
			if err != nil {
				return err
			}
			defer env.Close()

			session, err := shell.NewSession(cmd.Context(), env, cmd.OutOrStdout(), conversationID, false)
			if err != nil {
				return err
			}
			_, err = session.ProcessInput(cmd.Context(), strings.Join(args, " "))
			return err
		},
	}
	cmd.Flags().StringVarP(&conversationID, "conversation", "c", "", "Continue an existing conversation (name or ID)")
	return cmd
}

func newStageCmd(a *app) *cobra.Command {
	var current string
	var historyLen int

	cmd := &cobra.Command{
		Use:   "stage <message>",
		Short: "Show which stage a message would move a conversation to",
		Long:  `Determine the stage offline, without contacting a provider.`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stage, err := flowtypes.ParseStage(current)
			if err != nil {
				return err
			}
			if historyLen < 0 {
				return fmt.Errorf("history length must be non-negative, got %d", historyLen)
			}

			engine := workflow.NewEngine(nil, nil, workflow.WithStagePolicy(a.cfg.Policy()))
			conv := flowtypes.ConversationContext{Stage: stage, History: make([]flowtypes.Message, historyLen)}
			next := engine.DetermineStage(strings.Join(args, " "), conv)
			fmt.Fprintln(cmd.OutOrStdout(), next)
			return nil
		},
	}
	cmd.Flags().StringVar(&current, "current", flowtypes.StageInitial.String(), "Current stage")
	cmd.Flags().IntVar(&historyLen, "history", 0, "Number of messages already in the conversation")
	return cmd
}

func newPromptCmd(a *app) *cobra.Command {
	var stageName string

	cmd := &cobra.Command{
		Use:   "prompt",
		Short: "Print the system prompt for a stage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stage, err := flowtypes.ParseStage(stageName)
			if err != nil {
				return err
			}
			conv := flowtypes.NewConversationContext(a.cfg.Metadata())
			conv.Stage = stage
			fmt.Fprintln(cmd.OutOrStdout(), workflow.BuildSystemPrompt(conv))
			return nil
		},
	}
	cmd.Flags().StringVar(&stageName, "stage", flowtypes.StageInitial.String(), "Stage to render")
	return cmd
}

func newConversationsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv"},
		Short:   "Manage stored conversations",
		Long: `Manage stored conversations.
Conversations are kept in the SQLite database at db_path (the default store). With
--store memory nothing outlives a single invocation, so these commands see no conversations.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := a.environment()
			if err != nil {
				return err
			}
			defer env.Close()

			list, err := env.Conversations.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No conversations.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSTAGE\tUPDATED")
			for _, conv := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", conv.ID, conv.Name, conv.Stage, conv.UpdatedAt.Local().Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	})

	var asJSON bool
	show := &cobra.Command{
		Use:   "show <conversation>",
		Short: "Print a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := a.environment()
			if err != nil {
				return err
			}
			defer env.Close()

			conv, err := env.Conversations.Find(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				encoder := json.NewEncoder(out)
				encoder.SetIndent("", "  ")
				return encoder.Encode(conv)
			}
			fmt.Fprintf(out, "%s %s %s\n", conv.ID, conv.Name, env.Renderer.StageBadge(conv.Stage))
			for _, msg := range conv.History {
				fmt.Fprintf(out, "\n%s %s\n", env.Renderer.StageBadge(msg.Stage), msg.Role)
				fmt.Fprintln(out, env.Renderer.Reply(msg))
			}
			return nil
		},
	}
	show.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	cmd.AddCommand(show)

	var output string
	export := &cobra.Command{
		Use:   "export <conversation>",
		Short: "Export a conversation transcript as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := a.environment()
			if err != nil {
				return err
			}
			defer env.Close()

			conv, err := env.Conversations.Find(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				return store.ExportYAML(cmd.OutOrStdout(), conv)
			}
			file, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", output, err)
			}
			if err := store.ExportYAML(file, conv); err != nil {
				_ = file.Close()
				return err
			}
			return file.Close()
		},
	}
	export.Flags().StringVarP(&output, "output", "o", "", "Output file (default stdout)")
	cmd.AddCommand(export)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <conversation>",
		Short: "Delete a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := a.environment()
			if err != nil {
				return err
			}
			defer env.Close()

			conv, err := env.Conversations.Find(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := env.Conversations.Delete(cmd.Context(), conv.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted conversation %s\n", conv.ID)
			return nil
		},
	})

	return cmd
}

func newModelsCmd(a *app) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "models [provider]",
		Short: "List catalog models",
		Long:  "List the catalog models of the configured provider, a named provider, or every provider with --all.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog := services.NewModelCatalogService()
			if err := catalog.Initialize(); err != nil {
				return err
			}

			var models []flowtypes.ModelCatalogEntry
			var err error
			switch {
			case all:
				models, err = catalog.GetModelCatalog()
			case len(args) == 1:
				models, err = catalog.GetModelCatalogByProvider(args[0])
			default:
				models, err = catalog.GetModelCatalogByProvider(a.cfg.Provider)
			}
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PROVIDER\tMODEL\tNAME\tCONTEXT\tDEFAULT")
			for _, m := range models {
				def := ""
				if services.DefaultModel(m.Provider) == m.ID {
					def = "*"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", m.Provider, m.ID, m.DisplayName, m.ContextWindow, def)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "List models of every provider")
	return cmd
}

func newVersionCmd() *cobra.Command {
	var detailed bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		// version needs no config
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			if detailed {
				fmt.Fprintln(cmd.OutOrStdout(), version.GetDetailedVersion())
				return
			}
			fmt.Fprintln(cmd.OutOrStdout(), version.GetFormattedVersion())
		},
	}
	cmd.Flags().BoolVar(&detailed, "detailed", false, "Show build details")
	return cmd
}

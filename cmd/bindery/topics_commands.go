package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"bindery/internal/registry"
)

func newTopicsCommand(ctx *commandContext) *cobra.Command {
	topicsCmd := &cobra.Command{
		Use:   "topics",
		Short: "Manage the corpus topic registry",
	}

	topicsCmd.AddCommand(newTopicsSyncCommand(ctx))
	topicsCmd.AddCommand(newTopicsListCommand(ctx))

	return topicsCmd
}

func newTopicsSyncCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync <definitions.json>",
		Short: "Upsert topic definitions and re-export topics.json",
		Long: `Sync topic definitions into the registry from a JSON array of topic
objects. Entries without a topic_id get one allocated; well-formed ids are
kept and bump the allocator floor so later allocations never collide.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.newLogger(cfg)
			if err != nil {
				return err
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read topic definitions: %w", err)
			}
			var inputs []registry.TopicInput
			if err := json.Unmarshal(data, &inputs); err != nil {
				return fmt.Errorf("parse topic definitions: %w", err)
			}
			if len(inputs) == 0 {
				return fmt.Errorf("no topic definitions in %s", args[0])
			}

			store, err := ctx.openStore(cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			topics, err := store.SyncTopics(cmd.Context(), inputs)
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(topics))
			for _, topic := range topics {
				rows = append(rows, []string{topic.TopicID, topic.DisplayTitle, topic.Status, topic.FolderName()})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Synced %d topics\n", len(topics))
			fmt.Fprintln(out, renderTable(
				[]string{"id", "title", "status", "folder"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft},
			))
			return nil
		},
	}
	return cmd
}

func newTopicsListCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registry topics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.newLogger(cfg)
			if err != nil {
				return err
			}

			store, err := ctx.openStore(cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			topics, err := store.ListTopics(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, topics)
			}
			if len(topics) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No topics registered")
				return nil
			}

			rows := make([][]string, 0, len(topics))
			for _, topic := range topics {
				rows = append(rows, []string{
					topic.TopicID,
					topic.DisplayTitle,
					topic.ParentTopicID,
					strings.Join(topic.Aliases, ", "),
					strconv.Itoa(len(topic.Exemplars)),
					topic.Status,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"id", "title", "parent", "aliases", "exemplars", "status"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON instead of a table")
	return cmd
}

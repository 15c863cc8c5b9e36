package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var knowledgeFlags struct {
	bot          string
	k            int
	conversation string
	yes          bool
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List a bot's documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireBot(); err != nil {
			return err
		}
		store, err := openRecords(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		docs, err := store.ListDocuments(cmd.Context(), knowledgeFlags.bot)
		if err != nil {
			return err
		}
		for _, d := range docs {
			fmt.Printf("%s  %-10s %-5s %4d chunks  %s\n", d.ID, d.Status, d.Kind, d.ChunkCount, d.OriginalName)
		}
		fmt.Printf("%d document(s)\n", len(docs))
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Run a similarity search against a bot's knowledge base",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireBot(); err != nil {
			return err
		}
		ctx, a, done, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer done()

		owner, err := a.Records.BotOwner(ctx, knowledgeFlags.bot)
		if err != nil {
			return err
		}
		hits, err := a.Knowledge.Search(ctx, owner, knowledgeFlags.bot, strings.Join(args, " "), knowledgeFlags.k)
		if err != nil {
			return err
		}
		if len(hits) == 0 {
			fmt.Println("No results")
			return nil
		}
		for i, h := range hits {
			fmt.Printf("%d. %.3f  %s #%d", i+1, h.Score, h.FileName, h.Index)
			if h.Heading != "" {
				fmt.Printf("  (%s)", h.Heading)
			}
			fmt.Println()
			fmt.Println("   " + preview(h.Content, 200))
		}
		return nil
	},
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question from a bot's knowledge base",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireBot(); err != nil {
			return err
		}
		ctx, a, done, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer done()

		ans := a.Chat.Ask(ctx, knowledgeFlags.bot, knowledgeFlags.conversation, strings.Join(args, " "))
		fmt.Println(ans.Content)
		if len(ans.Sources) > 0 {
			fmt.Println()
			fmt.Println("Sources:")
			for _, s := range ans.Sources {
				fmt.Printf("  - %s", s.FileName)
				if s.PageNumber != nil {
					fmt.Printf(" p.%d", *s.PageNumber)
				}
				if s.Score != nil {
					fmt.Printf(" (%.3f)", *s.Score)
				}
				fmt.Println()
			}
		}
		fmt.Printf("\n%d tokens, %dms, model %s\n", ans.TokensUsed, ans.ResponseTimeMS, ans.Model)
		if ans.Error != "" {
			return fmt.Errorf("answer failed: %s", ans.Error)
		}
		return nil
	},
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete a bot's vectors and mark its documents deleted",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireBot(); err != nil {
			return err
		}
		if !knowledgeFlags.yes {
			return fmt.Errorf("refusing to purge %s without --yes", knowledgeFlags.bot)
		}
		ctx, a, done, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer done()

		if err := a.Knowledge.DeleteKnowledge(ctx, knowledgeFlags.bot); err != nil {
			return err
		}
		n, err := a.Records.MarkBotDocumentsDeleted(ctx, knowledgeFlags.bot)
		if err != nil {
			return err
		}
		fmt.Printf("Purged knowledge base of %s (%d document(s))\n", knowledgeFlags.bot, n)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{listCmd, searchCmd, askCmd, purgeCmd} {
		c.Flags().StringVar(&knowledgeFlags.bot, "bot", "", "bot id")
	}
	searchCmd.Flags().IntVar(&knowledgeFlags.k, "k", 5, "number of results")
	askCmd.Flags().StringVar(&knowledgeFlags.conversation, "conversation", "", "conversation id for history")
	purgeCmd.Flags().BoolVar(&knowledgeFlags.yes, "yes", false, "confirm the purge")
}

func requireBot() error {
	if knowledgeFlags.bot == "" {
		return fmt.Errorf("--bot is required")
	}
	return nil
}

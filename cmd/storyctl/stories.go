package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pburglin/EpicSagaBuilder/internal/session"
	"github.com/pburglin/EpicSagaBuilder/pkg/storage"
	"github.com/pburglin/EpicSagaBuilder/pkg/story"
	"github.com/pburglin/EpicSagaBuilder/pkg/transcript"
)

func (c *cli) storiesCmd() *cobra.Command {
	stories := &cobra.Command{
		Use:   "stories",
		Short: "Inspect stories",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List stories, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, _ := cmd.Flags().GetString("status")
			return c.withStore(func(s storage.Storage) error {
				list, err := s.ListStories(cmd.Context(), story.Status(status))
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if c.format == "json" {
					return c.printJSON(out, list)
				}
				for _, st := range list {
					fmt.Fprintf(out, "%s  %-9s  %d/%d  %s\n", st.ID, st.Status, st.CurrentAuthors, st.MaxAuthors, st.Title)
				}
				return nil
			})
		},
	}
	list.Flags().String("status", "", "Filter by status: active or completed")

	stories.AddCommand(list)
	return stories
}

func (c *cli) restartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart <story-id>",
		Short: "Delete every message after the story's introduction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseStoryID(args[0])
			if err != nil {
				return err
			}
			return c.withStore(func(s storage.Storage) error {
				st, err := s.LoadStory(cmd.Context(), id)
				if err != nil {
					return err
				}
				if st.IsCompleted() {
					return fmt.Errorf("story %s is completed and cannot be restarted", id)
				}
				removed, err := s.RestartStory(cmd.Context(), id, session.RestartKeepMessages)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Restarted %q: removed %d messages.\n", st.Title, removed)
				return nil
			})
		},
	}
}

func (c *cli) exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <story-id>",
		Short: "Print a story's transcript as plain text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseStoryID(args[0])
			if err != nil {
				return err
			}
			width, _ := cmd.Flags().GetInt("width")
			return c.withStore(func(s storage.Storage) error {
				st, err := s.LoadStory(cmd.Context(), id)
				if err != nil {
					return err
				}
				messages, err := s.LoadMessages(cmd.Context(), id)
				if err != nil {
					return err
				}
				_, err = fmt.Fprint(cmd.OutOrStdout(), transcript.Render(st, messages, st.Characters, width))
				return err
			})
		},
	}
	cmd.Flags().IntP("width", "w", transcript.DefaultWidth, "Wrap width")
	return cmd
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pburglin/EpicSagaBuilder/pkg/storage"
)

func (c *cli) leaderboardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "leaderboard stories|users",
		Short:     "Print the karma leaderboard",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"stories", "users"},
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			if limit < 1 {
				return fmt.Errorf("limit must be at least 1")
			}
			out := cmd.OutOrStdout()

			return c.withStore(func(s storage.Storage) error {
				if args[0] == "stories" {
					rows, err := s.StoryLeaderboard(cmd.Context(), limit)
					if err != nil {
						return err
					}
					if c.format == "json" {
						return c.printJSON(out, rows)
					}
					for i, r := range rows {
						fmt.Fprintf(out, "%2d. %-40s %5d karma\n", i+1, r.Story.Title, r.TotalKarma)
					}
					return nil
				}

				rows, err := s.UserLeaderboard(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if c.format == "json" {
					return c.printJSON(out, rows)
				}
				for i, r := range rows {
					fmt.Fprintf(out, "%2d. %-40s %5d karma  %d stories\n", i+1, r.UserID, r.TotalKarma, r.StoriesCount)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntP("limit", "l", 10, "Max rows")
	return cmd
}

package main

import (
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/mcdev12/coopblocks/go/internal/config"
)

func newLeaderboardCmd(cfg *config.Config) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Show the best team scores",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			repo, closeRepo, err := setupLeaderboard(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer closeRepo()

			scores, err := repo.Top(ctx, limit)
			if err != nil {
				return err
			}
			if len(scores) == 0 {
				pterm.Info.Println("No scores yet")
				return nil
			}

			rows := pterm.TableData{{"#", "Team", "Total", "P1", "P2", "Lines", "Played"}}
			for i, s := range scores {
				rows = append(rows, []string{
					strconv.Itoa(i + 1),
					s.Player1Name + " & " + s.Player2Name,
					strconv.Itoa(s.TotalScore),
					strconv.Itoa(s.ScoreP1),
					strconv.Itoa(s.ScoreP2),
					strconv.Itoa(s.LinesP1 + s.LinesP2),
					s.Timestamp.Local().Format(time.DateTime),
				})
			}
			return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "number of scores to show")
	return cmd
}

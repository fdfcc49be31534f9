package cmd

import (
	"context"
	"fmt"

	"github.com/BimilLog/BimilLog-sub001/internal/rank"
	"github.com/BimilLog/BimilLog-sub001/internal/redisclient"

	"github.com/spf13/cobra"
)

var topN int

// topCmd prints the current score ranking, for diagnostics.
var topCmd = &cobra.Command{
	Use:   "top",
	Short: "Print the current popularity ranking",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()

		rdb := redisclient.New(cfg.Redis)
		defer rdb.Close()

		store := rank.NewRedisStore(rdb)
		ctx := context.Background()
		ids, err := store.TopN(ctx, int64(topN))
		if err != nil {
			return err
		}
		for i, id := range ids {
			score, _, err := store.Score(ctx, id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%2d. item %d\t%.2f\n", i+1, id, score)
		}
		if len(ids) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "(no ranked items)")
		}
		return nil
	},
}

func init() {
	topCmd.Flags().IntVar(&topN, "n", 20, "number of entries to print")
	rootCmd.AddCommand(topCmd)
}

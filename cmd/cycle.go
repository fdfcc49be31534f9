package cmd

import (
	"context"
	"fmt"

	"github.com/BimilLog/BimilLog-sub001/internal/source"

	"github.com/spf13/cobra"
)

// cycleCmd runs one scheduled ranking cycle and exits, for cron-style
// deployments and manual operation. The scheduler lock still applies: a
// cycle already running elsewhere makes this a no-op.
var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run one decay/rebuild/flush cycle and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		setupLogging(cfg.App.LogLevel)

		eng, rdb, _, err := buildEngine(cfg, source.NewMemory())
		if err != nil {
			return err
		}
		defer rdb.Close()

		if err := eng.RunCycle(context.Background()); err != nil {
			return fmt.Errorf("cycle failed: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cycleCmd)
}

package cmd

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/BimilLog/BimilLog-sub001/internal/source"
	"github.com/BimilLog/BimilLog-sub001/worker"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ranking cycle and counter flush workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		setupLogging(cfg.App.LogLevel)

		// The system-of-record adapter is wired by the embedding service;
		// standalone the engine runs against an empty in-memory reader.
		eng, rdb, durs, err := buildEngine(cfg, source.NewMemory())
		if err != nil {
			return err
		}
		defer rdb.Close()

		mgr := worker.NewManager(
			&worker.RankingJob{Engine: eng, Interval: durs.cycle},
			&worker.CounterFlush{Engine: eng, Interval: durs.counter},
		)
		slog.Info("starting ranking workers", "cycle_interval", durs.cycle.String(), "counter_interval", durs.counter.String())

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Signal handling for systemd
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			s := <-sigc
			log.Printf("received signal: %s, shutting down", s)
			cancel()
		}()

		return mgr.Start(ctx)
	},
}

func setupLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/B-Whitt/skillwatch/cmd/skillwatch/tui"
	"github.com/B-Whitt/skillwatch/pkg/config"
	"github.com/B-Whitt/skillwatch/pkg/execution"
	"github.com/B-Whitt/skillwatch/pkg/feed"
	"github.com/B-Whitt/skillwatch/pkg/history"
	"github.com/B-Whitt/skillwatch/pkg/logger"
	"github.com/B-Whitt/skillwatch/pkg/store"
	"github.com/B-Whitt/skillwatch/pkg/sweep"
	"github.com/B-Whitt/skillwatch/pkg/tracker"
)

var version = "dev"

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:     "skillwatch",
		Short:   "Track skill-runner executions from the shared state file",
		Long:    "skillwatch watches the skill runner's state file, reaps dead executions,\nand surfaces live progress to terminal and websocket consumers.",
		Version: version,
		RunE:    runWatch,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.ConfigPath(), "config file path")

	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newClearCommand())
	rootCmd.AddCommand(newClearStaleCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newSimulateCommand())
	rootCmd.AddCommand(newInitCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

// buildTracker assembles a tracker with the history archive hooked to
// completions. The archive is best effort: a failure to open it degrades
// to tracking without history rather than refusing to start.
func buildTracker(cfg *config.Config) (*tracker.Tracker, func()) {
	trk := tracker.New(cfg)

	archive, err := history.Open(cfg.HistoryPath())
	if err != nil {
		logger.WarnCF("main", "History archive unavailable", map[string]interface{}{
			"path":  cfg.HistoryPath(),
			"error": err.Error(),
		})
		return trk, func() { trk.Dispose() }
	}

	trk.OnCompletion(func(exec *execution.Execution) {
		if err := archive.Add(exec); err != nil {
			logger.WarnCF("main", "History archive write failed", map[string]interface{}{
				"executionId": exec.ID,
				"error":       err.Error(),
			})
		}
	})
	return trk, func() {
		trk.Dispose()
		archive.Close()
	}
}

func newWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Interactive terminal viewer",
		RunE:  runWatch,
	}
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	trk, cleanup := buildTracker(cfg)
	defer cleanup()

	if err := trk.Start(); err != nil {
		return err
	}

	sweeper := sweep.New(cfg.SweepCron, cfg.SweepInterval, trk)
	sweeper.Start()
	defer sweeper.Stop()

	return tui.Run(trk)
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Headless tracker with websocket feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			trk, cleanup := buildTracker(cfg)
			defer cleanup()

			if err := trk.Start(); err != nil {
				return err
			}

			sweeper := sweep.New(cfg.SweepCron, cfg.SweepInterval, trk)
			sweeper.Start()
			defer sweeper.Stop()

			srv := feed.New(cfg.FeedAddr, trk.Bus())
			if err := srv.Start(); err != nil {
				return fmt.Errorf("starting feed on %s: %w", cfg.FeedAddr, err)
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			<-sig
			logger.InfoC("main", "Shutting down")
			return nil
		},
	}
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "One-shot snapshot of tracked executions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			data, err := os.ReadFile(cfg.StatePath())
			if err != nil {
				if os.IsNotExist(err) {
					fmt.Println("No state file. Nothing tracked yet.")
					return nil
				}
				return err
			}
			sf, err := execution.DecodeStateFile(data)
			if err != nil {
				return err
			}

			s := store.New()
			s.Reload(sf)
			all := s.All()
			if len(all) == 0 {
				fmt.Println("Nothing tracked.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSKILL\tSTATUS\tSTEP\tSTARTED\tSOURCE")
			for _, sum := range all {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
					shortID(sum.ID), sum.SkillName, sum.Status,
					sum.CurrentStepIndex+1, sum.TotalSteps,
					sum.StartTime.Local().Format("15:04:05"), sum.Source)
			}
			return w.Flush()
		},
	}
}

func newClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <execution-id>",
		Short: "Mark one execution failed and drop it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			trk, cleanup := buildTracker(cfg)
			defer cleanup()

			trk.Refresh()
			persisted, err := trk.ClearOne(args[0])
			if err != nil {
				return err
			}
			if !persisted {
				fmt.Println("Cleared from view, but the state file was busy; the runner may resurface it.")
				return nil
			}
			fmt.Printf("Cleared %s.\n", args[0])
			return nil
		},
	}
}

func newClearStaleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-stale",
		Short: "Mark every stale running execution failed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			trk, cleanup := buildTracker(cfg)
			defer cleanup()

			trk.Refresh()
			count, err := trk.ClearStale()
			if err != nil {
				return err
			}
			fmt.Printf("Persisted %d stale execution(s) as failed.\n", count)
			return nil
		},
	}
}

func newHistoryCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List archived executions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			archive, err := history.Open(cfg.HistoryPath())
			if err != nil {
				return err
			}
			defer archive.Close()

			records, err := archive.List(limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("No archived executions.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SKILL\tSTATUS\tSTARTED\tDURATION\tERROR")
			for _, r := range records {
				duration := "-"
				if r.EndTime != nil {
					duration = r.EndTime.Sub(r.StartTime).Round(time.Second).String()
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					r.SkillName, r.Status,
					r.StartTime.Local().Format("Jan 02 15:04"),
					duration, r.Error)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum rows to show")
	return cmd
}

func newInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if _, err := os.Stat(path); err == nil {
				fmt.Printf("Config already exists at %s.\n", path)
				return nil
			}
			if err := config.Save(path, config.Default()); err != nil {
				return err
			}
			fmt.Printf("Wrote default config to %s.\n", path)
			return nil
		},
	}
}

func shortID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12]
}

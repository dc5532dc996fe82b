// Command livewatch runs the live feed session pool scheduler.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/livewatch"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "livewatch",
		Short:         "Live feed session pool scheduler",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRunCmd() *cobra.Command {
	var (
		configPath       string
		tick             time.Duration
		recheckInterval  time.Duration
		cleanupThreshold int
		categories       []string
		singleCycle      bool
		dataDir          string
		listen           string
		logLevel         string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Watch the configured feeds",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(logLevel)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			if !cmd.Flags().Changed("config") {
				configPath = env("LIVEWATCH_CONFIG", configPath)
			}
			cfg, err := livewatch.LoadConfig(configPath)
			if err != nil {
				return err
			}

			// Env fills in what the file left out; flags beat both.
			if cfg.DataDir == "" || cfg.DataDir == "data" {
				cfg.DataDir = env("LIVEWATCH_DATA_DIR", cfg.DataDir)
			}
			if cfg.Listen == "" {
				cfg.Listen = os.Getenv("LIVEWATCH_LISTEN")
			}
			if cmd.Flags().Changed("tick") {
				cfg.Scheduler.Tick = tick
			}
			if cmd.Flags().Changed("recheck-interval") {
				cfg.Scheduler.RecheckInterval = recheckInterval
			}
			if cmd.Flags().Changed("cleanup-threshold") {
				cfg.Session.CleanupThreshold = cleanupThreshold
			}
			if cmd.Flags().Changed("data-dir") {
				cfg.DataDir = dataDir
			}
			if cmd.Flags().Changed("listen") {
				cfg.Listen = listen
			}
			if len(categories) > 0 {
				cfg.Endpoints = filterEndpoints(cfg.Endpoints, categories)
				if len(cfg.Endpoints) == 0 {
					return fmt.Errorf("no configured endpoint matches --categories %s",
						strings.Join(categories, ","))
				}
			}

			svc, err := livewatch.New(cfg, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(),
				syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if singleCycle {
				return svc.RunOnce(ctx)
			}
			return svc.Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "livewatch.yaml", "configuration file")
	cmd.Flags().DurationVar(&tick, "tick", 0, "override cycle interval")
	cmd.Flags().DurationVar(&recheckInterval, "recheck-interval", 0, "override parked-session recheck interval")
	cmd.Flags().IntVar(&cleanupThreshold, "cleanup-threshold", 0, "override empty extractions before a session is closed")
	cmd.Flags().StringSliceVar(&categories, "categories", nil, "watch only these categories")
	cmd.Flags().BoolVar(&singleCycle, "single-cycle", false, "run one cycle and exit")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "override snapshot directory")
	cmd.Flags().StringVar(&listen, "listen", "", "override API listen address")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("livewatch", version)
		},
	}
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(h), nil
}

func filterEndpoints(eps []livewatch.Endpoint, categories []string) []livewatch.Endpoint {
	want := make(map[string]bool, len(categories))
	for _, c := range categories {
		want[strings.TrimSpace(c)] = true
	}
	var out []livewatch.Endpoint
	for _, ep := range eps {
		if want[ep.Category] {
			out = append(out, ep)
		}
	}
	return out
}

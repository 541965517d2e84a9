package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"vigil/internal/app"
	"vigil/internal/config"
)

var version = "dev"

var verbose bool

var rootCmd = &cobra.Command{
	Use:           "vigil",
	Short:         "Metrics, alerting and auto-scaling recommendation daemon",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sampling, evaluation and persistence loops",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		level := slog.LevelInfo
		if viper.GetBool("verbose") {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
		logger.Info("starting vigil", "version", version, "db", cfg.DBPath,
			"sample_interval", cfg.SampleInterval, "evaluate_interval", cfg.EvaluateInterval)

		a, err := app.New(cfg, logger)
		if err != nil {
			logger.Error("init failed", "err", err)
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return a.Run(ctx)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

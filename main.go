// ABOUTME: Entry point for the Chromecast audio relay
// ABOUTME: Parses CLI flags and config, then runs the relay server
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/Resonate-Protocol/cast-relay/internal/app"
	"github.com/Resonate-Protocol/cast-relay/internal/config"
	"github.com/Resonate-Protocol/cast-relay/internal/server"
	"github.com/Resonate-Protocol/cast-relay/internal/version"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var (
	configFile string
	v          = config.New()

	rootCmd = &cobra.Command{
		Use:           "cast-relay",
		Short:         "Relay audio and speech to Chromecast receivers on the local network",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          serve,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
)

func init() {
	rootCmd.Version = version.Version

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default searches the user config dir and .)")
	rootCmd.Flags().String("addr", ":5000", "HTTP listen address")
	rootCmd.Flags().String("public-host", "", "host receivers use to fetch audio (default: detected LAN address)")
	rootCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.Flags().String("log-file", "cast-relay.log", "log file path")
	rootCmd.Flags().Bool("tui", false, "show the status TUI, logging only to the file")
	rootCmd.Flags().Bool("discovery", true, "browse for receivers with mDNS")

	_ = v.BindPFlag("http.addr", rootCmd.Flags().Lookup("addr"))
	_ = v.BindPFlag("http.public_host", rootCmd.Flags().Lookup("public-host"))
	_ = v.BindPFlag("log.level", rootCmd.Flags().Lookup("log-level"))
	_ = v.BindPFlag("log.file", rootCmd.Flags().Lookup("log-file"))
	_ = v.BindPFlag("tui", rootCmd.Flags().Lookup("tui"))
	_ = v.BindPFlag("discovery.enabled", rootCmd.Flags().Lookup("discovery"))

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func serve(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(v, configFile)
	if err != nil {
		return err
	}

	logger, closer, err := setupLog(cfg)
	if err != nil {
		return err
	}
	defer closer()

	logger.Info("Starting "+version.String(), "addr", cfg.HTTP.Addr, "log_file", cfg.Log.File)
	if used := v.ConfigFileUsed(); used != "" {
		logger.Info("Loaded config", "file", used)
	}

	svc, err := app.New(cfg, logger, app.Deps{})
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	if sum := svc.Summary(); sum.URL != "" {
		logger.Info("Setup page available", "url", sum.URL)
	} else {
		logger.Warn("No LAN address found; receivers will not be able to fetch audio")
	}

	var tui *server.TUI
	if cfg.TUI {
		tui = server.NewTUI()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return server.New(svc, tui).Run(ctx)
}

// setupLog logs to the file and stdout, or only to the file when the TUI owns the terminal
func setupLog(cfg config.Config) (*log.Logger, func(), error) {
	f, err := os.OpenFile(cfg.Log.File, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("error opening log file: %w", err)
	}

	var w io.Writer = io.MultiWriter(os.Stdout, f)
	if cfg.TUI {
		w = f
	}

	level, _ := log.ParseLevel(cfg.Log.Level)
	logger := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		Level:           level,
	})
	return logger, func() { _ = f.Close() }, nil
}

// executeContext is used by tests to run the command tree
func executeContext(ctx context.Context, args ...string) error {
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}

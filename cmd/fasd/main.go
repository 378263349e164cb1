// Package main provides the fasd daemon binary: the frame-aware
// CPU-frequency governor described by the core packages under internal/.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/framepacer/fasd/internal/cleaner"
	"github.com/framepacer/fasd/internal/cpucontrol"
	"github.com/framepacer/fasd/internal/extension"
	"github.com/framepacer/fasd/internal/frameanalyzer"
	"github.com/framepacer/fasd/internal/logging"
	"github.com/framepacer/fasd/internal/looper"
	"github.com/framepacer/fasd/internal/modeconfig"
	"github.com/framepacer/fasd/internal/privilege"
	"github.com/framepacer/fasd/internal/sysnode"
	"github.com/framepacer/fasd/internal/thermal"
	"github.com/framepacer/fasd/internal/topapp"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "fasd",
		Short:         "fasd - frame-aware CPU frequency governor",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newStartCmd())
	rootCmd.AddCommand(newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("fasd (frame-aware scheduling daemon)")
		},
	}
}

func newStartCmd() *cobra.Command {
	var (
		configPath string
		nodePath   string
		maskPath   string
		cpufreqDir string
		logPretty  bool
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the fasd daemon",
		Long: `Start the frame-aware scheduling daemon as a long-running process.

The daemon reads its current Mode from a filesystem node (re-created fresh
at startup) and its game list / per-mode tuning from a reloadable TOML
file, then drives CPU frequency from observed frame timing until
terminated by signal.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(startOptions{
				configPath: configPath,
				nodePath:   nodePath,
				maskPath:   maskPath,
				cpufreqDir: cpufreqDir,
				logPretty:  logPretty,
				logLevel:   logLevel,
			})
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "/etc/fasd/fas.toml", "Path to the reloadable TOML configuration")
	cmd.Flags().StringVar(&nodePath, "node", "/dev/fasd", "Mode node directory, recreated fresh at startup")
	cmd.Flags().StringVar(&maskPath, "mask-dir", "/dev/fasd/mask", "Directory for the Cleaner's bind-mount source files")
	cmd.Flags().StringVar(&cpufreqDir, "cpufreq-root", "", "cpufreq sysfs root (default /sys/devices/system/cpu/cpufreq)")
	cmd.Flags().BoolVar(&logPretty, "log-pretty", false, "Use human-readable console logging instead of JSON")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	return cmd
}

type startOptions struct {
	configPath string
	nodePath   string
	maskPath   string
	cpufreqDir string
	logPretty  bool
	logLevel   string
}

func runStart(opts startOptions) error {
	logger := logging.NewWithComponent(logging.Config{
		Level:  opts.logLevel,
		Pretty: opts.logPretty,
	}, "fasd")

	if !privilege.IsRoot() {
		logger.Warn().Msg("not running as root: sysfs writes and bind mounts will likely fail")
	}

	config, err := modeconfig.Load(opts.configPath, logger)
	if err != nil {
		return fmt.Errorf("fasd: initial config load failed: %w", err)
	}

	watcher := modeconfig.NewWatcher(opts.configPath, logger)

	node, err := sysnode.New(opts.nodePath, logger)
	if err != nil {
		return fmt.Errorf("fasd: mode node init failed: %w", err)
	}

	cl, err := cleaner.New(opts.maskPath, logger)
	if err != nil {
		return fmt.Errorf("fasd: cleaner init failed: %w", err)
	}

	dispatcher := extension.NewDispatcher(logger)
	cpu := cpucontrol.New(cpucontrol.Config{CPUFreqRoot: opts.cpufreqDir}, dispatcher, logger)
	th := thermal.New("", logger)

	topappWatcher := topapp.NewDumpsysWatcher()
	resolver := topapp.CmdlinePackageResolver{}

	// No in-tree implementation of the binder-based frame-timing source
	// exists (out of scope, per internal/frameanalyzer's doc comment): an
	// idle Fake is wired so the daemon still runs end-to-end, simply never
	// observing frame events until a real Source is plugged in here.
	analyzer := frameanalyzer.NewFake(64)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go dispatcher.Run(ctx, nil)
	go func() {
		if err := watcher.Run(ctx); err != nil {
			logger.Warn().Err(err).Msg("config watcher stopped")
		}
	}()

	l := looper.New(
		looper.DefaultConfig(),
		analyzer,
		topappWatcher,
		resolver,
		node,
		cl,
		cpu,
		th,
		dispatcher,
		config,
		watcher.Updates(),
		logger,
	)

	go l.Run(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("received shutdown signal, stopping")

	cancel()
	cl.UndoCleanup()
	cpu.InitDefault()

	return nil
}

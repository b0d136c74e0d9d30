// Package main is the entry point for the sidetree explorer.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gdamore/tcell/v2"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dshills/sidetree/internal/config"
	"github.com/dshills/sidetree/internal/termhost"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

type options struct {
	configPath  string
	logLevel    string
	metricsAddr string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options
	root := &cobra.Command{
		Use:           "sidetree [dir]",
		Short:         "Terminal sidebar explorer for files, git status, buffers and symbols",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUI(cmd, opts, args)
		},
	}
	f := root.PersistentFlags()
	f.StringVarP(&opts.configPath, "config", "c", "", "configuration file (TOML or YAML); defaults to $"+config.EnvConfig)
	f.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	root.AddCommand(newTreeCmd(&opts), newConfigCmd(&opts))
	return root
}

// loadConfig reads the configuration and applies flag overrides.
func loadConfig(cmd *cobra.Command, opts options) (*config.Config, error) {
	path := opts.configPath
	if path == "" {
		path = os.Getenv(config.EnvConfig)
	}
	if path == "" {
		if dir, err := os.UserConfigDir(); err == nil {
			path = filepath.Join(dir, "sidetree", "config.toml")
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Logging.Level = opts.logLevel
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr = opts.metricsAddr
	}
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// workDir resolves the optional directory argument.
func workDir(args []string) (string, error) {
	if len(args) > 0 {
		return filepath.Abs(args[0])
	}
	return os.Getwd()
}

func runUI(cmd *cobra.Command, opts options, args []string) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return errors.New("stdout is not a terminal; use the tree command for plain output")
	}
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	// The screen owns the terminal, so console log output goes to a file.
	switch cfg.Logging.Output {
	case "", "stderr", "stdout":
		cfg.Logging.Output = filepath.Join(os.TempDir(), "sidetree.log")
	}
	dir, err := workDir(args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	screen, err := tcell.NewScreen()
	if err != nil {
		return fmt.Errorf("create screen: %w", err)
	}
	if err := screen.Init(); err != nil {
		return fmt.Errorf("init screen: %w", err)
	}
	defer screen.Fini()

	rt, err := newRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	th := termhost.New(screen, dir, termhost.WithLogger(rt.logger.Logger))
	mgr, err := rt.manager(th, th, th)
	if err != nil {
		return err
	}
	th.SetTheme(mgr.Theme())
	if err := mgr.Execute(ctx, "open"); err != nil {
		rt.logger.Warn("default panel did not open")
	}
	err = th.Run(ctx, mgr)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

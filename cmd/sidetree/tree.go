package main

import (
	"fmt"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/dshills/sidetree/internal/config"
	"github.com/dshills/sidetree/internal/host"
)

// newTreeCmd prints one panel once, without a terminal UI.
func newTreeCmd(opts *options) *cobra.Command {
	var (
		panelName string
		reveal    string
	)
	cmd := &cobra.Command{
		Use:   "tree [dir]",
		Short: "Print a panel as plain text",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, *opts)
			if err != nil {
				return err
			}
			// Watching is pointless for a single frame.
			cfg.Watcher.Enabled = false
			cfg.Git.PollInterval = 0
			dir, err := workDir(args)
			if err != nil {
				return err
			}

			rt, err := newRuntime(cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			h := host.NewFake(dir)
			mgr, err := rt.manager(h, h, h)
			if err != nil {
				return err
			}
			line := "open " + panelName
			if reveal != "" {
				line += " " + reveal
			}
			if err := mgr.Execute(cmd.Context(), line); err != nil {
				return err
			}
			mgr.Wait()

			p, ok := mgr.Current().Panel(panelName)
			if !ok {
				return fmt.Errorf("panel %s did not open", panelName)
			}
			d, ok := h.LastDraw(p.ID())
			if !ok {
				return fmt.Errorf("panel %s drew nothing", panelName)
			}
			out := cmd.OutOrStdout()
			for _, l := range d.Lines {
				fmt.Fprintln(out, strings.TrimRight(l, " "))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&panelName, "panel", "p", config.PanelFiles,
		"panel to print ("+strings.Join(config.PanelNames, ", ")+")")
	cmd.Flags().StringVar(&reveal, "reveal", "", "path to expand to before printing")
	return cmd
}

// newConfigCmd prints the effective configuration as TOML.
func newConfigCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, *opts)
			if err != nil {
				return err
			}
			data, err := toml.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

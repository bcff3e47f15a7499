// Package main is the entry point for the cronkeep daemon and CLI.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"cronkeep/internal/api"
	"cronkeep/internal/config"
)

// Set by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		if !errors.Is(err, errSilentFailure) {
			fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
		}
		os.Exit(1)
	}
}

type globalFlags struct {
	config string
	addr   string
}

func rootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "cronkeep",
		Short:         "Manage recurring jobs across launchd, systemd and crontab",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.config, "config", "", "config file (default $XDG_CONFIG_HOME/cronkeep/cronkeep.yaml)")
	root.PersistentFlags().StringVar(&g.addr, "addr", "", "daemon address (default api.addr from config)")

	root.AddCommand(
		versionCmd(),
		serveCmd(g),
		jobCmd(g),
		logsCmd(g),
		crontabCmd(g),
		soundsCmd(g),
		reconcileCmd(g),
	)
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "cronkeep %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

// configPath returns the explicit path, the first existing candidate, or
// the XDG location. A missing file loads as defaults.
func (g *globalFlags) configPath() string {
	if g.config != "" {
		return g.config
	}
	var candidates []string
	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok && xdg != "" {
		candidates = append(candidates, filepath.Join(xdg, "cronkeep", "cronkeep.yaml"))
	} else if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "cronkeep", "cronkeep.yaml"))
	}
	candidates = append(candidates, "cronkeep.yaml")
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return candidates[0]
}

func (g *globalFlags) client() (*api.Client, error) {
	addr := g.addr
	if addr == "" {
		cfg, err := config.NewConfigManager(g.configPath()).Load()
		if err != nil {
			return nil, err
		}
		addr = cfg.API.Addr
	}
	return api.NewClient(addr), nil
}

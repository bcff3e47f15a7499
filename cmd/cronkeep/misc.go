package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// errSilentFailure exits non-zero after the command already reported why.
var errSilentFailure = errors.New("command failed")

func logsCmd(g *globalFlags) *cobra.Command {
	var (
		jobID string
		prune bool
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent executions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			if prune {
				if jobID == "" {
					return errors.New("--prune needs --job")
				}
				res, err := c.PruneLogs(cmd.Context(), jobID)
				return report(cmd, res, err)
			}
			logs, err := c.Logs(cmd.Context(), jobID)
			if err != nil {
				return err
			}
			printLogs(cmd.OutOrStdout(), logs)
			return nil
		},
	}
	cmd.Flags().StringVar(&jobID, "job", "", "only this job")
	cmd.Flags().BoolVar(&prune, "prune", false, "delete the job's execution history")
	return cmd
}

func crontabCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crontab",
		Short: "Export to, import from and sync with the user crontab",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "export",
			Short: "Write enabled jobs to the tagged crontab section",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				c, err := g.client()
				if err != nil {
					return err
				}
				res, err := c.ExportCrontab(cmd.Context())
				return report(cmd, res, err)
			},
		},
		&cobra.Command{
			Use:   "import",
			Short: "Create jobs from the current crontab",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				c, err := g.client()
				if err != nil {
					return err
				}
				res, err := c.ImportCrontab(cmd.Context())
				return report(cmd, res, err)
			},
		},
		&cobra.Command{
			Use:       "autosync [on|off]",
			Short:     "Show or set crontab auto-sync",
			Args:      cobra.MaximumNArgs(1),
			ValidArgs: []string{"on", "off"},
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := g.client()
				if err != nil {
					return err
				}
				if len(args) == 0 {
					on, err := c.AutoSync(cmd.Context())
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "autosync", onOff(on))
					return nil
				}
				on, err := parseOnOff(args[0])
				if err != nil {
					return err
				}
				res, err := c.SetAutoSync(cmd.Context(), on)
				return report(cmd, res, err)
			},
		},
	)
	return cmd
}

func soundsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sounds",
		Short: "List the available system sounds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			sounds, err := c.Sounds(cmd.Context())
			if err != nil {
				return err
			}
			for _, s := range sounds {
				fmt.Fprintln(cmd.OutOrStdout(), s)
			}
			return nil
		},
	}
}

func reconcileCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Re-register every job with every backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			res, err := c.Reconcile(cmd.Context())
			return report(cmd, res, err)
		},
	}
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "true", "yes", "1":
		return true, nil
	case "off", "false", "no", "0":
		return false, nil
	}
	return false, fmt.Errorf("want on or off, got %q", s)
}

func onOff(b bool) string {
	if b {
		return okColor.Sprint("on")
	}
	return dimColor.Sprint("off")
}

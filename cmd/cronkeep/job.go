package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"cronkeep/internal/job"
	"cronkeep/internal/manager"
)

func jobCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "job",
		Aliases: []string{"jobs"},
		Short:   "Create, inspect and run jobs",
	}
	cmd.AddCommand(
		jobListCmd(g),
		jobGetCmd(g),
		jobAddCmd(g),
		jobUpdateCmd(g),
		jobIDCmd(g, "rm ID", "Delete a job and its native descriptors", deleteOp),
		jobIDCmd(g, "toggle ID", "Enable or disable a job", toggleOp),
		jobIDCmd(g, "dup ID", "Duplicate a job (the copy starts disabled)", duplicateOp),
		jobIDCmd(g, "terminal ID", "Open the job in a terminal window", terminalOp),
		jobRunCmd(g),
	)
	return cmd
}

func jobListCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List jobs",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			jobs, err := c.List(cmd.Context())
			if err != nil {
				return err
			}
			printJobs(cmd.OutOrStdout(), jobs)
			return nil
		},
	}
}

func jobGetCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			j, err := c.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printJob(cmd.OutOrStdout(), j)
			return nil
		},
	}
}

// jobFlags are shared by add and update.
type jobFlags struct {
	id          string
	name        string
	command     string
	schedule    string
	description string
	disabled    bool
	terminal    bool

	sound     string
	say       string
	audioFile string
	noAudio   bool
	audioOn   string
}

func (f *jobFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.name, "name", "", "display name")
	fs.StringVar(&f.command, "command", "", "shell command to run")
	fs.StringVar(&f.schedule, "schedule", "", "5-field cron expression")
	fs.StringVar(&f.description, "description", "", "free-form description")
	fs.BoolVar(&f.disabled, "disabled", false, "create or leave the job disabled")
	fs.BoolVar(&f.terminal, "terminal", false, "run in a terminal window instead of the background")
	fs.StringVar(&f.sound, "sound", "", "play a system sound after runs")
	fs.StringVar(&f.say, "say", "", "speak this text after runs")
	fs.StringVar(&f.audioFile, "audio-file", "", "play this audio file after runs")
	fs.BoolVar(&f.noAudio, "no-audio", false, "turn audio notification off")
	fs.StringVar(&f.audioOn, "audio-on", "both", "when to play: success, error or both")
}

// audio builds the notification from the flags onto base. ok is false when
// no audio flag was given.
func (f *jobFlags) audio(fs *pflag.FlagSet, base job.AudioConfig) (job.AudioConfig, bool, error) {
	a := base
	changed := false
	switch {
	case f.noAudio:
		a.Enabled = false
		changed = true
	case fs.Changed("sound"):
		a.Enabled, a.Type, a.SystemSound = true, job.AudioSystem, f.sound
		changed = true
	case fs.Changed("say"):
		a.Enabled, a.Type, a.TTSText = true, job.AudioTTS, f.say
		changed = true
	case fs.Changed("audio-file"):
		a.Enabled, a.Type, a.AudioFilePath = true, job.AudioFile, f.audioFile
		changed = true
	}
	if fs.Changed("audio-on") || changed {
		switch strings.ToLower(strings.TrimSpace(f.audioOn)) {
		case "both", "":
			a.PlayOnSuccess, a.PlayOnError = true, true
		case "success":
			a.PlayOnSuccess, a.PlayOnError = true, false
		case "error":
			a.PlayOnSuccess, a.PlayOnError = false, true
		default:
			return a, false, fmt.Errorf("--audio-on: want success, error or both, got %q", f.audioOn)
		}
		changed = true
	}
	return a, changed, nil
}

func (f *jobFlags) mode() job.RunMode {
	if f.terminal {
		return job.RunTerminal
	}
	return job.RunBackground
}

func (f *jobFlags) newJob(fs *pflag.FlagSet) (job.Job, error) {
	j := job.Job{
		ID:          f.id,
		Name:        f.name,
		Command:     f.command,
		Schedule:    f.schedule,
		Description: f.description,
		Enabled:     !f.disabled,
		RunMode:     f.mode(),
		Audio:       job.DefaultAudio(),
	}
	a, _, err := f.audio(fs, j.Audio)
	if err != nil {
		return j, err
	}
	j.Audio = a
	return j, nil
}

func (f *jobFlags) patch(fs *pflag.FlagSet, current job.Job) (job.Patch, error) {
	var p job.Patch
	if fs.Changed("name") {
		p.Name = &f.name
	}
	if fs.Changed("command") {
		p.Command = &f.command
	}
	if fs.Changed("schedule") {
		p.Schedule = &f.schedule
	}
	if fs.Changed("description") {
		p.Description = &f.description
	}
	if fs.Changed("disabled") {
		enabled := !f.disabled
		p.Enabled = &enabled
	}
	if fs.Changed("terminal") {
		m := f.mode()
		p.RunMode = &m
	}
	a, changed, err := f.audio(fs, current.Audio)
	if err != nil {
		return p, err
	}
	if changed {
		p.Audio = &a
	}
	return p, nil
}

func jobAddCmd(g *globalFlags) *cobra.Command {
	f := &jobFlags{}
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			j, err := f.newJob(cmd.Flags())
			if err != nil {
				return err
			}
			c, err := g.client()
			if err != nil {
				return err
			}
			res, err := c.Add(cmd.Context(), j)
			return report(cmd, res, err)
		},
	}
	f.register(cmd.Flags())
	cmd.Flags().StringVar(&f.id, "id", "", "job id (generated when empty)")
	_ = cmd.MarkFlagRequired("command")
	_ = cmd.MarkFlagRequired("schedule")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func jobUpdateCmd(g *globalFlags) *cobra.Command {
	f := &jobFlags{}
	cmd := &cobra.Command{
		Use:   "update ID",
		Short: "Change fields of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			current, err := c.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			p, err := f.patch(cmd.Flags(), current)
			if err != nil {
				return err
			}
			res, err := c.Update(cmd.Context(), args[0], p)
			return report(cmd, res, err)
		},
	}
	f.register(cmd.Flags())
	return cmd
}

type jobOp int

const (
	deleteOp jobOp = iota
	toggleOp
	duplicateOp
	terminalOp
)

func jobIDCmd(g *globalFlags, use, short string, op jobOp) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			ctx, id := cmd.Context(), args[0]
			var res manager.OperationResult
			switch op {
			case deleteOp:
				res, err = c.Delete(ctx, id)
			case toggleOp:
				res, err = c.Toggle(ctx, id)
			case duplicateOp:
				res, err = c.Duplicate(ctx, id)
			case terminalOp:
				res, err = c.Terminal(ctx, id)
			}
			return report(cmd, res, err)
		},
	}
}

func jobRunCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run ID",
		Short: "Run a job once now and print its output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			j, err := c.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			res, err := c.TestRun(cmd.Context(), j)
			if err != nil {
				return err
			}
			printTestRun(cmd.OutOrStdout(), res)
			if !res.Success {
				return errSilentFailure
			}
			return nil
		},
	}
}

// report prints res and turns an unsuccessful result into an error exit.
func report(cmd *cobra.Command, res manager.OperationResult, err error) error {
	if err != nil {
		return err
	}
	printResult(cmd.OutOrStdout(), res)
	if !res.Success {
		return errSilentFailure
	}
	return nil
}

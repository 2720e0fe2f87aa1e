package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show audio system activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := ctx.clientValue()
			if err != nil {
				return err
			}
			status, err := cli.Status(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, status)
			}

			colorize := shouldColorize(cmd.OutOrStdout())
			fmt.Fprintln(cmd.OutOrStdout(), renderStatusLine("Audio server", activityKind(status.CoreActive), activityLabel(status.CoreActive), colorize))
			fmt.Fprintln(cmd.OutOrStdout(), renderStatusLine("Capture pipe", activityKind(status.PipeActive), activityLabel(status.PipeActive), colorize))
			fmt.Fprintln(cmd.OutOrStdout(), renderStatusLine("System", activityKind(status.BothActive), systemLabel(status.BothActive), colorize))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit machine readable JSON")
	return cmd
}

func newStartCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the audio server and capture pipe",
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := ctx.clientValue()
			if err != nil {
				return err
			}
			if err := cli.Start(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Audio system starting")
			return nil
		},
	}
}

func newStopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the audio server and capture pipe",
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := ctx.clientValue()
			if err != nil {
				return err
			}
			if _, err := cli.Stop(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Audio system stopped")
			return nil
		},
	}
}

func newEnableCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "enable",
		Short: "Enable the audio system at boot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := ctx.clientValue()
			if err != nil {
				return err
			}
			if err := cli.Enable(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Audio system enabled at boot")
			return nil
		},
	}
}

func newDisableCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "disable",
		Short: "Disable the audio system at boot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := ctx.clientValue()
			if err != nil {
				return err
			}
			if err := cli.Disable(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Audio system disabled at boot")
			return nil
		},
	}
}

func activityKind(active bool) statusKind {
	if active {
		return statusOK
	}
	return statusWarn
}

func activityLabel(active bool) string {
	if active {
		return "active"
	}
	return "inactive"
}

func systemLabel(bothActive bool) string {
	if bothActive {
		return "running"
	}
	return "not running"
}

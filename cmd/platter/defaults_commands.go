package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"platter/internal/api"
)

func newDefaultsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "defaults",
		Short: "Show persisted default outputs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := ctx.clientValue()
			if err != nil {
				return err
			}
			defaults, err := cli.Defaults(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, api.DefaultsResponse{Defaults: defaults})
			}
			if len(defaults) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No default outputs configured")
				return nil
			}

			rows := make([][]string, 0, len(defaults))
			for id, volume := range defaults {
				rows = append(rows, []string{id, strconv.Itoa(volume)})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Output ID", "Volume"},
				rows,
				[]columnAlignment{alignLeft, alignRight},
			))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit machine readable JSON")
	cmd.AddCommand(newDefaultsSetCommand(ctx))
	cmd.AddCommand(newDefaultsRemoveCommand(ctx))
	return cmd
}

func newDefaultsSetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "set <output-id> <volume>",
		Short: "Mark an output as default with the given volume",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			volume, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("volume must be an integer: %w", err)
			}
			isDefault := true
			cli, err := ctx.clientValue()
			if err != nil {
				return err
			}
			req := api.OutputUpdateRequest{Default: &isDefault, DefaultVolume: &volume}
			if err := cli.UpdateOutput(cmd.Context(), args[0], req); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Default saved")
			return nil
		},
	}
}

func newDefaultsRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <output-id>",
		Short: "Remove an output from the defaults",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			isDefault := false
			cli, err := ctx.clientValue()
			if err != nil {
				return err
			}
			req := api.OutputUpdateRequest{Default: &isDefault}
			if err := cli.UpdateOutput(cmd.Context(), args[0], req); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Default removed")
			return nil
		},
	}
}

package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"platter/internal/api"
)

func newOutputsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "outputs",
		Short: "List audio outputs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := ctx.clientValue()
			if err != nil {
				return err
			}
			outputs, err := cli.Outputs(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, api.OutputsResponse{Outputs: outputs})
			}
			if len(outputs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No outputs visible (is the audio system running?)")
				return nil
			}

			rows := make([][]string, 0, len(outputs))
			for _, output := range outputs {
				defaultCell := ""
				if output.Default {
					defaultCell = "yes"
					if output.DefaultVolume != nil {
						defaultCell = fmt.Sprintf("yes (%d)", *output.DefaultVolume)
					}
				}
				rows = append(rows, []string{
					output.ID,
					output.Name,
					boolCell(output.Selected),
					strconv.Itoa(output.Volume),
					defaultCell,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Name", "Selected", "Volume", "Default"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit machine readable JSON")
	cmd.AddCommand(newOutputsSetCommand(ctx))
	return cmd
}

func newOutputsSetCommand(ctx *commandContext) *cobra.Command {
	var (
		selected      boolFlag
		volume        intFlag
		isDefault     boolFlag
		defaultVolume intFlag
	)

	cmd := &cobra.Command{
		Use:   "set <output-id>",
		Short: "Update one output (selection, volume, default)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := api.OutputUpdateRequest{
				Selected:      selected.ptr(),
				Volume:        volume.ptr(),
				Default:       isDefault.ptr(),
				DefaultVolume: defaultVolume.ptr(),
			}
			if req.Empty() {
				return fmt.Errorf("nothing to update; pass at least one of --selected, --volume, --default, --default-volume")
			}
			cli, err := ctx.clientValue()
			if err != nil {
				return err
			}
			if err := cli.UpdateOutput(cmd.Context(), args[0], req); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Output updated")
			return nil
		},
	}

	cmd.Flags().Var(&selected, "selected", "Select (true) or deselect (false) the output")
	cmd.Flags().Var(&volume, "volume", "Set the output volume (0-100)")
	cmd.Flags().Var(&isDefault, "default", "Mark (true) or clear (false) the output as a default")
	cmd.Flags().Var(&defaultVolume, "default-volume", "Volume applied when the default is activated (0-100)")
	return cmd
}

func boolCell(value bool) string {
	if value {
		return "yes"
	}
	return ""
}

// boolFlag distinguishes "not passed" from an explicit true/false.
type boolFlag struct {
	set   bool
	value bool
}

func (f *boolFlag) String() string {
	if !f.set {
		return ""
	}
	return strconv.FormatBool(f.value)
}

func (f *boolFlag) Set(raw string) error {
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return err
	}
	f.set = true
	f.value = parsed
	return nil
}

func (f *boolFlag) Type() string { return "bool" }

func (f *boolFlag) ptr() *bool {
	if !f.set {
		return nil
	}
	value := f.value
	return &value
}

// intFlag distinguishes "not passed" from an explicit value.
type intFlag struct {
	set   bool
	value int
}

func (f *intFlag) String() string {
	if !f.set {
		return ""
	}
	return strconv.Itoa(f.value)
}

func (f *intFlag) Set(raw string) error {
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return err
	}
	f.set = true
	f.value = parsed
	return nil
}

func (f *intFlag) Type() string { return "int" }

func (f *intFlag) ptr() *int {
	if !f.set {
		return nil
	}
	value := f.value
	return &value
}

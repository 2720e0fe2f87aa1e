package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"platter/internal/api"
	"platter/internal/client"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream live status and output changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := ctx.clientValue()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			return cli.Watch(cmd.Context(), func(event client.Event) {
				if asJSON {
					fmt.Fprintln(out, string(event.Data))
					return
				}
				switch event.Type {
				case api.EventTypeStatus:
					var status api.StatusEvent
					if json.Unmarshal(event.Data, &status) != nil {
						return
					}
					fmt.Fprintf(out, "status: core=%s pipe=%s\n",
						activityLabel(status.CoreActive), activityLabel(status.PipeActive))
				case api.EventTypeOutputs:
					var outputs api.OutputsEvent
					if json.Unmarshal(event.Data, &outputs) != nil {
						return
					}
					fmt.Fprintf(out, "outputs: %d visible\n", len(outputs.Outputs))
					for _, output := range outputs.Outputs {
						marker := " "
						if output.Selected {
							marker = "*"
						}
						fmt.Fprintf(out, "  %s %s (%s) volume=%d\n", marker, output.Name, output.ID, output.Volume)
					}
				}
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit raw event JSON, one object per line")
	return cmd
}

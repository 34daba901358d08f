package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"colabsfm/internal/apiclient"
)

func newUploadsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "uploads <region>",
		Short: "List the upload ledger for a region",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				uploads, err := client.Uploads(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, uploads)
				}
				if len(uploads) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "No uploads recorded for %s\n", args[0])
					return nil
				}
				rows := make([][]string, 0, len(uploads))
				for _, u := range uploads {
					rows = append(rows, []string{
						u.Filename,
						u.UserID,
						formatBytes(u.SizeBytes),
						valueOrDash(u.Camera),
						valueOrDash(u.CreatedAt),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"File", "User", "Size", "Camera", "Uploaded"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

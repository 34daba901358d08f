package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"colabsfm/internal/apiclient"
)

func newReconstructCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reconstruct <region>",
		Short: "Queue matching and mapping for a region",
		Long: "Queue matching and mapping for a region. The job runs after any\n" +
			"feature extraction already queued for the same region.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				ack, err := client.Reconstruct(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s: %s\n", ack.Region, ack.Message)
				fmt.Fprintf(out, "  output: %s\n", ack.OutputDir)
				if ack.JobID != "" {
					fmt.Fprintf(out, "  job:    %s\n", ack.JobID)
				}
				return nil
			})
		},
	}
}

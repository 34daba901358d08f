package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"colabsfm/internal/api"
	"colabsfm/internal/apiclient"
)

func newUploadCommand(ctx *commandContext) *cobra.Command {
	var userID string

	uploadCmd := &cobra.Command{
		Use:   "upload",
		Short: "Upload images into a region and start feature extraction",
	}
	uploadCmd.PersistentFlags().StringVarP(&userID, "user", "u", "", "Uploader id recorded in the ledger (default unknown)")

	uploadCmd.AddCommand(&cobra.Command{
		Use:   "images <region> <file>...",
		Short: "Upload individual image files",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				ack, err := client.UploadImages(cmd.Context(), args[0], userID, args[1:])
				if err != nil {
					return err
				}
				printUploadAck(cmd.OutOrStdout(), ack)
				return nil
			})
		},
	})

	uploadCmd.AddCommand(&cobra.Command{
		Use:   "folder <region> <dir>",
		Short: "Upload every file under a directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				ack, err := client.UploadFolder(cmd.Context(), args[0], userID, args[1])
				if err != nil {
					return err
				}
				printUploadAck(cmd.OutOrStdout(), ack)
				return nil
			})
		},
	})

	uploadCmd.AddCommand(&cobra.Command{
		Use:     "zip <region> <archive>",
		Aliases: []string{"archive"},
		Short:   "Upload an archive; its images are extracted and flattened",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				ack, err := client.UploadArchive(cmd.Context(), args[0], userID, args[1])
				if err != nil {
					return err
				}
				printUploadAck(cmd.OutOrStdout(), ack)
				return nil
			})
		},
	})

	return uploadCmd
}

func printUploadAck(out io.Writer, ack api.Ack) {
	fmt.Fprintf(out, "%s: %s\n", ack.Region, ack.Message)
	fmt.Fprintf(out, "  stored:  %d file(s)\n", len(ack.Files))
	if len(ack.Skipped) > 0 {
		fmt.Fprintf(out, "  skipped: %s\n", strings.Join(ack.Skipped, ", "))
	}
	if ack.JobID != "" {
		fmt.Fprintf(out, "  job:     %s\n", ack.JobID)
	}
}

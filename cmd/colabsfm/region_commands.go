package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"colabsfm/internal/apiclient"
)

func newRegionCommand(ctx *commandContext) *cobra.Command {
	regionCmd := &cobra.Command{
		Use:   "region",
		Short: "Create and list regions",
	}
	regionCmd.AddCommand(newRegionCreateCommand(ctx))
	regionCmd.AddCommand(newRegionListCommand(ctx))
	return regionCmd
}

func newRegionCreateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Create a region (existing regions are left untouched)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				ack, err := client.CreateRegion(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", ack.Region, ack.Message)
				return nil
			})
		},
	}
}

func newRegionListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List regions with their upload counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				regions, err := client.Regions(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, regions)
				}
				if len(regions) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No regions")
					return nil
				}
				rows := make([][]string, 0, len(regions))
				for _, r := range regions {
					rows = append(rows, []string{r.Name, strconv.Itoa(r.Uploads)})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Region", "Uploads"}, rows, []columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"colabsfm/internal/api"
	"colabsfm/internal/apiclient"
)

var titleCaser = cases.Title(language.English)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, dependency, and job queue status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				status, err := client.Status(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, status)
				}
				out := cmd.OutOrStdout()
				for _, line := range renderStatus(status, shouldColorize(out)) {
					fmt.Fprintln(out, line)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func renderStatus(status api.DaemonStatus, colorize bool) []string {
	sheet := &statusSheet{colorize: colorize}

	sheet.section("Daemon")
	uptime := time.Duration(status.UptimeSeconds) * time.Second
	sheet.line("Process", statusOK, fmt.Sprintf("pid %d, up %s", status.PID, uptime))
	sheet.line("Root", statusInfo, fmt.Sprintf("%s (%s free)", status.RootDir, formatBytes(int64(status.FreeBytes))))
	sheet.line("Queue", statusInfo, fmt.Sprintf("%s, %d worker(s)", status.QueueBackend, status.Workers))

	sheet.section("Dependencies")
	for _, dep := range status.Dependencies {
		if dep.Available {
			sheet.line(dep.Name, statusOK, dep.Command)
		} else {
			sheet.line(dep.Name, statusError, valueOrDash(dep.Detail))
		}
	}

	if len(status.QueueStats) > 0 {
		sheet.section("Jobs")
		keys := make([]string, 0, len(status.QueueStats))
		for key := range status.QueueStats {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			kind := statusInfo
			if key == "failed" && status.QueueStats[key] > 0 {
				kind = statusWarn
			}
			sheet.line(titleCaser.String(key), kind, fmt.Sprintf("%d", status.QueueStats[key]))
		}
	}
	return sheet.lines
}

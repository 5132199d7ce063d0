package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"bookdrop/internal/api"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			status, err := client.Status(cmd.Context())
			if err != nil {
				if asJSON {
					return err
				}
				colorize := shouldColorize(out)
				for _, line := range renderSectionHeader("Daemon", colorize) {
					fmt.Fprintln(out, line)
				}
				fmt.Fprintln(out, renderStatusLine("Daemon", statusError, "not reachable: "+err.Error(), colorize))
				return nil
			}
			if asJSON {
				return writeJSON(cmd, status)
			}
			fmt.Fprint(out, renderStatus(status, shouldColorize(out)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func renderStatus(status api.DaemonStatus, colorize bool) string {
	var b strings.Builder
	lines := renderSectionHeader("Daemon", colorize)
	if status.Running {
		lines = append(lines, renderStatusLine("Daemon", statusOK, "running (pid "+strconv.Itoa(status.PID)+")", colorize))
	} else {
		lines = append(lines, renderStatusLine("Daemon", statusWarn, "stopped", colorize))
	}
	lines = append(lines,
		renderStatusLine("Database", statusInfo, status.DatabasePath, colorize),
		renderStatusLine("Lock file", statusInfo, status.LockFilePath, colorize),
		"",
	)
	lines = append(lines, renderSectionHeader("Delivery", colorize)...)
	lines = append(lines,
		renderStatusLine("Staging dir", statusInfo, status.StagingDir, colorize),
		renderStatusLine("Staged files", statusInfo, fmt.Sprintf("%d (%s)", status.StagedFiles, formatBytes(status.StagedBytes)), colorize),
		renderStatusLine("Cached handles", statusInfo, strconv.Itoa(status.Handles), colorize),
	)
	switch {
	case status.LastSweep == nil:
		lines = append(lines, renderStatusLine("Last sweep", statusInfo, "none yet", colorize))
	case status.LastSweep.Failures > 0:
		lines = append(lines, renderStatusLine("Last sweep", statusWarn,
			fmt.Sprintf("%s, %d failures", status.LastSweep.At, status.LastSweep.Failures), colorize))
	default:
		removed := 0
		for _, n := range status.LastSweep.Removed {
			removed += n
		}
		lines = append(lines, renderStatusLine("Last sweep", statusOK,
			fmt.Sprintf("%s, %d removed (%d sweeps)", status.LastSweep.At, removed, status.Sweeps), colorize))
	}
	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

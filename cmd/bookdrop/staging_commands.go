package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"bookdrop/internal/api"
)

func newStagingCommand(ctx *commandContext) *cobra.Command {
	stagingCmd := &cobra.Command{
		Use:   "staging",
		Short: "Inspect and reclaim staged files",
	}
	stagingCmd.AddCommand(newStagingListCommand(ctx))
	stagingCmd.AddCommand(newStagingSweepCommand(ctx))
	return stagingCmd
}

func newStagingListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List files in the staging directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			local, err := ctx.openLocal()
			if err != nil {
				return err
			}
			defer local.Close()

			files, err := local.staging.List(cmd.Context())
			if err != nil {
				return err
			}
			listing := api.FromStagedFiles(files, time.Now())
			if asJSON {
				return writeJSON(cmd, listing)
			}
			out := cmd.OutOrStdout()
			if len(listing.Items) == 0 {
				fmt.Fprintln(out, "Staging directory is empty")
				return nil
			}
			rows := make([][]string, 0, len(listing.Items))
			for _, item := range listing.Items {
				expires := item.ExpiresAt
				switch {
				case !item.Tracked:
					expires = "untracked"
				case item.Expired:
					expires += " (expired)"
				}
				rows = append(rows, []string{item.Name, formatBytes(item.Size), expires})
			}
			fmt.Fprintln(out, renderTable(stagingColumns, rows))
			fmt.Fprintf(out, "%d files, %s\n", len(listing.Items), formatBytes(listing.TotalBytes))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newStagingSweepCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one eviction sweep now",
		RunE: func(cmd *cobra.Command, args []string) error {
			local, err := ctx.openLocal()
			if err != nil {
				return err
			}
			defer local.Close()

			now := time.Now()
			result := local.sweeper().Sweep(cmd.Context(), now)
			summary := api.FromSweepResult(result, now)
			if asJSON {
				return writeJSON(cmd, summary)
			}
			out := cmd.OutOrStdout()
			reasons := make([]string, 0, len(summary.Removed))
			for reason := range summary.Removed {
				reasons = append(reasons, reason)
			}
			sort.Strings(reasons)
			parts := make([]string, 0, len(reasons))
			for _, reason := range reasons {
				parts = append(parts, fmt.Sprintf("%s=%d", reason, summary.Removed[reason]))
			}
			removed := "none"
			if len(parts) > 0 {
				removed = strings.Join(parts, " ")
			}
			fmt.Fprintf(out, "Removed: %s\n", removed)
			fmt.Fprintf(out, "Kept: %d (%s)\n", summary.Kept, formatBytes(summary.RemainingBytes))
			for _, fe := range result.Errors {
				fmt.Fprintf(out, "Failed: %s: %v\n", fe.Name, fe.Err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

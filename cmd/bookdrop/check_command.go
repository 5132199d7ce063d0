package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"bookdrop/internal/mirror"
	"bookdrop/internal/preflight"
	"bookdrop/internal/telegram"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	var skipRemote bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check directories, mirrors, the catalog, and the bot token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			checkCfg := *cfg
			var targets preflight.Targets
			if skipRemote {
				checkCfg.Catalog.BaseURL = ""
			} else {
				downloader, err := mirror.NewFromConfig(cfg)
				if err != nil {
					return err
				}
				targets.Mirrors = downloader
				if cfg.Telegram.BotToken != "" {
					bot, err := telegram.NewFromConfig(cfg)
					if err != nil {
						return err
					}
					targets.Bot = bot
				}
			}

			results := preflight.RunAll(cmd.Context(), &checkCfg, targets)
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			for _, line := range renderSectionHeader("Checks", colorize) {
				fmt.Fprintln(out, line)
			}
			for _, r := range results {
				kind := statusOK
				if !r.Passed {
					kind = statusError
				}
				fmt.Fprintln(out, renderStatusLine(r.Name, kind, r.Detail, colorize))
			}
			if !skipRemote && cfg.Telegram.BotToken == "" {
				fmt.Fprintln(out, renderStatusLine("Telegram bot", statusWarn, "bot_token not set", colorize))
			}
			if failed := preflight.Failed(results); len(failed) > 0 {
				return fmt.Errorf("%d of %d checks failed", len(failed), len(results))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipRemote, "offline", false, "Only check local directories")
	return cmd
}

package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"bookdrop/internal/api"
	"bookdrop/internal/books"
	"bookdrop/internal/handlecache"
	"bookdrop/internal/services"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the delivery handle cache",
	}
	cacheCmd.AddCommand(newCacheGetCommand(ctx))
	cacheCmd.AddCommand(newCacheInvalidateCommand(ctx))
	cacheCmd.AddCommand(newCacheListCommand(ctx))
	return cacheCmd
}

func parseHandleKey(args []string) (int64, books.Format, error) {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, "", services.Wrap(services.ErrValidation, "cli", "parse", fmt.Sprintf("invalid book id %q", args[0]), nil)
	}
	format, err := books.ParseFormat(args[1])
	if err != nil {
		return 0, "", err
	}
	return id, format, nil
}

func newCacheGetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "get <book-id> <format>",
		Short: "Show the cached handle for a book",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, format, err := parseHandleKey(args)
			if err != nil {
				return err
			}
			return ctx.withHandleCache(cmd.Context(), func(cache handlecache.Cache) error {
				handle, ok, err := cache.Get(cmd.Context(), id, format)
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintf(cmd.OutOrStdout(), "No cached handle for %d/%s\n", id, format)
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), handle)
				return nil
			})
		},
	}
}

func newCacheInvalidateCommand(ctx *commandContext) *cobra.Command {
	var local bool
	cmd := &cobra.Command{
		Use:   "invalidate <book-id> <format>",
		Short: "Drop a cached handle so the next request re-uploads the file",
		Long: "Drop a cached handle so the next request re-uploads the file.\n\n" +
			"The request goes through the running daemon so its in-memory cache is cleared too.\n" +
			"When no daemon is reachable the handle is removed from the store directly.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, format, err := parseHandleKey(args)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !local {
				client, err := ctx.apiClient()
				if err != nil {
					return err
				}
				err = client.InvalidateHandle(cmd.Context(), id, string(format))
				if err == nil {
					fmt.Fprintf(out, "Invalidated %d/%s (daemon)\n", id, format)
					return nil
				}
				if !errors.Is(err, api.ErrUnreachable) {
					return err
				}
			}
			return ctx.withHandleCache(cmd.Context(), func(cache handlecache.Cache) error {
				if err := cache.Invalidate(cmd.Context(), id, format); err != nil {
					return err
				}
				fmt.Fprintf(out, "Invalidated %d/%s\n", id, format)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "Skip the daemon and edit the store directly")
	return cmd
}

func newCacheListCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cached handles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withHandleCache(cmd.Context(), func(cache handlecache.Cache) error {
				lister, ok := cache.(handlecache.Lister)
				if !ok {
					return errors.New("the configured handle cache backend cannot list entries")
				}
				entries, err := lister.List(cmd.Context(), limit)
				if err != nil {
					return err
				}
				items := api.FromHandleEntries(entries)
				if asJSON {
					return writeJSON(cmd, api.HandleListResponse{Items: items})
				}
				if len(items) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Handle cache is empty")
					return nil
				}
				rows := make([][]string, 0, len(items))
				for _, item := range items {
					rows = append(rows, []string{strconv.FormatInt(item.BookID, 10), item.Format, item.Handle, item.UpdatedAt})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(handleColumns, rows))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum entries to show (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"bookdrop/internal/api"
	"bookdrop/internal/books"
	"bookdrop/internal/daemonrun"
	"bookdrop/internal/delivery"
	"bookdrop/internal/logging"
	"bookdrop/internal/services"
)

type deliveryFlags struct {
	chatID    int64
	replyTo   int64
	messageID int64
	local     bool
	json      bool
}

func newDeliverCommand(ctx *commandContext) *cobra.Command {
	var flags deliveryFlags
	cmd := &cobra.Command{
		Use:   "deliver <format> <book-id>",
		Short: "Deliver a book to a chat",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := parseDeliveryArgs(args, flags)
			if err != nil {
				return err
			}
			return runDelivery(cmd, ctx, flags, req, false)
		},
	}
	cmd.Flags().Int64Var(&flags.chatID, "chat", 0, "Destination chat id")
	cmd.Flags().Int64Var(&flags.replyTo, "reply-to", 0, "Message id to reply to")
	cmd.Flags().BoolVar(&flags.local, "local", false, "Run the delivery in this process instead of through the daemon")
	cmd.Flags().BoolVar(&flags.json, "json", false, "Print the outcome as JSON")
	_ = cmd.MarkFlagRequired("chat")
	return cmd
}

func newRefreshCommand(ctx *commandContext) *cobra.Command {
	var flags deliveryFlags
	cmd := &cobra.Command{
		Use:   "refresh <format> <book-id>",
		Short: "Extend a staged file's lifetime and resend its link",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := parseDeliveryArgs(args, flags)
			if err != nil {
				return err
			}
			return runDelivery(cmd, ctx, flags, req, true)
		},
	}
	cmd.Flags().Int64Var(&flags.chatID, "chat", 0, "Destination chat id")
	cmd.Flags().Int64Var(&flags.messageID, "message", 0, "Link message id to edit in place")
	cmd.Flags().BoolVar(&flags.local, "local", false, "Run the refresh in this process instead of through the daemon")
	cmd.Flags().BoolVar(&flags.json, "json", false, "Print the outcome as JSON")
	_ = cmd.MarkFlagRequired("chat")
	return cmd
}

func parseDeliveryArgs(args []string, flags deliveryFlags) (api.DeliveryRequest, error) {
	format, err := books.ParseFormat(args[0])
	if err != nil {
		return api.DeliveryRequest{}, err
	}
	id, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || id <= 0 {
		return api.DeliveryRequest{}, services.Wrap(services.ErrValidation, "cli", "parse", fmt.Sprintf("invalid book id %q", args[1]), nil)
	}
	return api.DeliveryRequest{
		BookID:        id,
		Format:        string(format),
		ChatID:        flags.chatID,
		ReplyTo:       flags.replyTo,
		EditMessageID: flags.messageID,
	}, nil
}

func runDelivery(cmd *cobra.Command, ctx *commandContext, flags deliveryFlags, req api.DeliveryRequest, refresh bool) error {
	var (
		outcome api.DeliveryOutcome
		err     error
	)
	if flags.local {
		outcome, err = runLocalDelivery(cmd.Context(), ctx, req, refresh)
	} else {
		client, clientErr := ctx.apiClient()
		if clientErr != nil {
			return clientErr
		}
		if refresh {
			outcome, err = client.Refresh(cmd.Context(), req)
		} else {
			outcome, err = client.Deliver(cmd.Context(), req)
		}
	}
	if err != nil {
		return err
	}
	if flags.json {
		return writeJSON(cmd, outcome)
	}
	printOutcome(cmd.OutOrStdout(), outcome)
	if outcome.Kind == string(delivery.KindFailed) {
		return fmt.Errorf("delivery failed: %s", outcome.Reason)
	}
	return nil
}

func runLocalDelivery(cmdCtx context.Context, ctx *commandContext, req api.DeliveryRequest, refresh bool) (api.DeliveryOutcome, error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return api.DeliveryOutcome{}, err
	}
	logger, err := logging.New(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format, OutputPaths: []string{"stderr"}})
	if err != nil {
		return api.DeliveryOutcome{}, err
	}
	comps, err := daemonrun.Build(cmdCtx, cfg, logger)
	if err != nil {
		return api.DeliveryOutcome{}, err
	}
	defer comps.Close()

	dreq := delivery.Request{
		BookID: req.BookID,
		Format: books.Format(req.Format),
		To: delivery.Recipient{
			ChatID:        req.ChatID,
			ReplyTo:       req.ReplyTo,
			EditMessageID: req.EditMessageID,
		},
	}
	if refresh {
		return api.FromOutcome(comps.Deliverer.Refresh(cmdCtx, dreq)), nil
	}
	return api.FromOutcome(comps.Deliverer.Deliver(cmdCtx, dreq)), nil
}

func printOutcome(out io.Writer, o api.DeliveryOutcome) {
	rows := [][]string{
		{"Outcome", o.Kind},
		{"Request", o.RequestID},
	}
	if o.Handle != "" {
		rows = append(rows, []string{"Handle", o.Handle}, []string{"From cache", yesNo(o.FromCache)})
	}
	if o.Filename != "" {
		rows = append(rows, []string{"File", o.Filename})
	}
	if o.ShareURL != "" {
		rows = append(rows, []string{"Link", o.ShareURL}, []string{"Expires", o.ExpiresAt})
	}
	if o.Reason != "" {
		rows = append(rows, []string{"Reason", o.Reason})
	}
	if o.Error != "" {
		rows = append(rows, []string{"Error", o.Error})
	}
	fmt.Fprintln(out, renderTable(outcomeColumns, rows))
}

package router

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"bookdrop/internal/books"
	"bookdrop/internal/delivery"
	"bookdrop/internal/logging"
	"bookdrop/internal/services"
	"bookdrop/internal/telegram"
)

// Route names of the book table.
const (
	RouteDownload    = "download"
	RouteStart       = "start"
	RouteHelp        = "help"
	RouteRefreshLink = "refresh_link"
	RouteRemoveCache = "remove_cache"
)

const (
	welcomeText = "Hi! Send a download command such as /fb2_12345 and I will deliver the book.\n" +
		"Large files arrive as a temporary download link. Type /help for the list of formats."
	brokenText   = "The cached copy was dropped. Request the book again to get a fresh file."
	notFoundText = "Book not found!"
	tryLaterText = "The library is not reachable right now. Please try again later."
	internalText = "Something went wrong while sending the book."
)

// Deliverer is the slice of the delivery coordinator the routes use.
type Deliverer interface {
	Deliver(ctx context.Context, req delivery.Request) delivery.Outcome
	Refresh(ctx context.Context, req delivery.Request) delivery.Outcome
	ReportBroken(ctx context.Context, bookID int64, format books.Format) error
}

// Replier sends the short text answers of the routes.
type Replier interface {
	SendMessage(ctx context.Context, chatID int64, text string, opts telegram.SendOptions) (*telegram.Message, error)
	AnswerCallbackQuery(ctx context.Context, callbackID, text string) error
}

var _ Replier = (*telegram.Client)(nil)

type bookRoutes struct {
	svc     Deliverer
	replies Replier
	logger  *slog.Logger
}

// NewBookRouter builds the bot's routing table.
func NewBookRouter(svc Deliverer, replies Replier, logger *slog.Logger) (*Router, error) {
	if svc == nil || replies == nil {
		return nil, services.Wrap(services.ErrConfiguration, "router", "init", "deliverer and replier required", nil)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	h := &bookRoutes{svc: svc, replies: replies, logger: logging.NewComponentLogger(logger, "router")}
	formats := formatAlternation()
	return NewBuilder(logger).
		Command(RouteDownload, `^/(`+formats+`)_(\d+)$`, h.download).
		Command(RouteStart, `^/start(?:\s+(\S+))?$`, h.start).
		Command(RouteHelp, `^/help$`, h.help).
		Callback(RouteRefreshLink, `^`+telegram.CallbackRefreshLink+`_(\d+)_(`+formats+`)$`, h.refresh).
		Callback(RouteRemoveCache, `^`+telegram.CallbackRemoveCache+`_(\d+)_(`+formats+`)$`, h.removeCache).
		Build()
}

func formatAlternation() string {
	names := make([]string, len(books.Formats))
	for i, f := range books.Formats {
		names[i] = string(f)
	}
	return strings.Join(names, "|")
}

func (h *bookRoutes) download(ctx context.Context, ev Event, match []string) error {
	id, err := strconv.ParseInt(match[2], 10, 64)
	if err != nil {
		return h.reply(ctx, ev, notFoundText)
	}
	return h.deliver(ctx, ev, books.Format(match[1]), id)
}

// start handles both the bare greeting and shared-book deep links of the
// form "/start fb2_123".
func (h *bookRoutes) start(ctx context.Context, ev Event, match []string) error {
	payload := match[1]
	if payload == "" {
		return h.reply(ctx, ev, welcomeText)
	}
	rawFormat, rawID, ok := strings.Cut(payload, "_")
	format, fmtErr := books.ParseFormat(rawFormat)
	id, idErr := strconv.ParseInt(rawID, 10, 64)
	if !ok || fmtErr != nil || idErr != nil || id <= 0 {
		h.logger.Debug("ignoring malformed start payload", logging.String("payload", payload))
		return h.reply(ctx, ev, welcomeText)
	}
	return h.deliver(ctx, ev, format, id)
}

func (h *bookRoutes) help(ctx context.Context, ev Event, _ []string) error {
	var b strings.Builder
	b.WriteString("Download commands:\n")
	for _, f := range books.Formats {
		fmt.Fprintf(&b, "/%s_<id> sends the book as %s\n", f, strings.ToUpper(string(f)))
	}
	b.WriteString("Files above the upload limit arrive as a link that stays valid for a while; press \"Refresh link\" to extend it.")
	return h.reply(ctx, ev, b.String())
}

func (h *bookRoutes) refresh(ctx context.Context, ev Event, match []string) error {
	id, format, err := parseCallback(match)
	if err != nil {
		return h.answer(ctx, ev, notFoundText)
	}
	outcome := h.svc.Refresh(ctx, delivery.Request{
		BookID: id,
		Format: format,
		To:     delivery.Recipient{ChatID: ev.ChatID, EditMessageID: ev.MessageID},
	})
	if outcome.Kind == delivery.KindFailed {
		return h.answer(ctx, ev, failureText(outcome.Reason))
	}
	return h.answer(ctx, ev, "")
}

func (h *bookRoutes) removeCache(ctx context.Context, ev Event, match []string) error {
	id, format, err := parseCallback(match)
	if err != nil {
		return h.answer(ctx, ev, notFoundText)
	}
	if err := h.svc.ReportBroken(ctx, id, format); err != nil {
		logging.WarnWithContext(h.logger, "cached handle removal failed", "handle_invalidate_failed",
			logging.BookID(id),
			logging.Format(string(format)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the handle cache backend"),
			logging.String(logging.FieldImpact, "the broken file will be resent from cache"),
		)
		return h.answer(ctx, ev, failureText(services.ReasonFor(err)))
	}
	return h.answer(ctx, ev, brokenText)
}

func (h *bookRoutes) deliver(ctx context.Context, ev Event, format books.Format, id int64) error {
	outcome := h.svc.Deliver(ctx, delivery.Request{
		BookID: id,
		Format: format,
		To:     delivery.Recipient{ChatID: ev.ChatID, ReplyTo: ev.MessageID},
	})
	if outcome.Kind != delivery.KindFailed {
		return nil
	}
	return h.reply(ctx, ev, failureText(outcome.Reason))
}

func (h *bookRoutes) reply(ctx context.Context, ev Event, text string) error {
	_, err := h.replies.SendMessage(ctx, ev.ChatID, text, telegram.SendOptions{ReplyToMessageID: ev.MessageID})
	return err
}

func (h *bookRoutes) answer(ctx context.Context, ev Event, text string) error {
	if ev.CallbackID == "" {
		return nil
	}
	return h.replies.AnswerCallbackQuery(ctx, ev.CallbackID, text)
}

func parseCallback(match []string) (int64, books.Format, error) {
	id, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		return 0, "", services.Wrap(services.ErrValidation, "router", "parse callback", "book id", err)
	}
	return id, books.Format(match[2]), nil
}

func failureText(reason services.Reason) string {
	switch reason {
	case services.ReasonNotFound:
		return notFoundText
	case services.ReasonTryLater:
		return tryLaterText
	default:
		return internalText
	}
}

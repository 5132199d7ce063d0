package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"bookdrop/internal/logging"
	"bookdrop/internal/services"
	"bookdrop/internal/telegram"
)

// Source says which part of an update a route matches against.
type Source string

const (
	SourceCommand  Source = "command"
	SourceCallback Source = "callback"
)

// Event is the routed view of one update.
type Event struct {
	UpdateID   int64
	ChatID     int64
	UserID     int64
	MessageID  int64
	CallbackID string
	Text       string
}

// Handler processes one matched event. match holds the regexp submatches of
// the route pattern, match[0] being the full text.
type Handler func(ctx context.Context, ev Event, match []string) error

// Route is one entry of the routing table.
type Route struct {
	Name    string
	Source  Source
	Pattern *regexp.Regexp
	Handler Handler
}

// ErrNoRoute is returned by Dispatch when nothing in the table matched.
var ErrNoRoute = errors.New("no route matched")

// Builder assembles a routing table. The first registration error is kept
// and returned by Build.
type Builder struct {
	routes []Route
	names  map[string]struct{}
	logger *slog.Logger
	err    error
}

// NewBuilder starts an empty table.
func NewBuilder(logger *slog.Logger) *Builder {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Builder{names: make(map[string]struct{}), logger: logger}
}

// Command registers a handler for message text matching pattern.
func (b *Builder) Command(name, pattern string, h Handler) *Builder {
	return b.add(name, SourceCommand, pattern, h)
}

// Callback registers a handler for callback data matching pattern.
func (b *Builder) Callback(name, pattern string, h Handler) *Builder {
	return b.add(name, SourceCallback, pattern, h)
}

func (b *Builder) add(name string, source Source, pattern string, h Handler) *Builder {
	if b.err != nil {
		return b
	}
	name = strings.TrimSpace(name)
	if name == "" {
		b.err = services.Wrap(services.ErrValidation, "router", "register", "route name required", nil)
		return b
	}
	if _, dup := b.names[name]; dup {
		b.err = services.Wrap(services.ErrValidation, "router", "register", fmt.Sprintf("route %q registered twice", name), nil)
		return b
	}
	if h == nil {
		b.err = services.Wrap(services.ErrValidation, "router", "register", fmt.Sprintf("route %q has no handler", name), nil)
		return b
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		b.err = services.Wrap(services.ErrValidation, "router", "register", fmt.Sprintf("route %q pattern", name), err)
		return b
	}
	b.names[name] = struct{}{}
	b.routes = append(b.routes, Route{Name: name, Source: source, Pattern: re, Handler: h})
	return b
}

// Build freezes the table.
func (b *Builder) Build() (*Router, error) {
	if b.err != nil {
		return nil, b.err
	}
	routes := make([]Route, len(b.routes))
	copy(routes, b.routes)
	return &Router{routes: routes, logger: logging.NewComponentLogger(b.logger, "router")}, nil
}

// Router dispatches updates through a fixed routing table. Routes are tried
// in registration order and the first match wins.
type Router struct {
	routes []Route
	logger *slog.Logger
}

// Routes returns the table in match order.
func (r *Router) Routes() []Route {
	out := make([]Route, len(r.routes))
	copy(out, r.routes)
	return out
}

// Dispatch routes update to its handler and returns the route name.
func (r *Router) Dispatch(ctx context.Context, update telegram.Update) (string, error) {
	ev, source, ok := eventFor(update)
	if !ok {
		return "", ErrNoRoute
	}
	for _, route := range r.routes {
		if route.Source != source {
			continue
		}
		match := route.Pattern.FindStringSubmatch(ev.Text)
		if match == nil {
			continue
		}
		r.logger.Debug("route matched",
			logging.String("route", route.Name),
			logging.Int64(logging.FieldChatID, ev.ChatID),
			logging.Int64("update_id", ev.UpdateID),
		)
		return route.Name, route.Handler(ctx, ev, match)
	}
	return "", ErrNoRoute
}

func eventFor(update telegram.Update) (Event, Source, bool) {
	switch {
	case update.CallbackQuery != nil:
		q := update.CallbackQuery
		ev := Event{
			UpdateID:   update.UpdateID,
			UserID:     q.From.ID,
			CallbackID: q.ID,
			Text:       strings.TrimSpace(q.Data),
		}
		if q.Message != nil {
			ev.ChatID = q.Message.Chat.ID
			ev.MessageID = q.Message.MessageID
		}
		return ev, SourceCallback, true
	case update.Message != nil:
		m := update.Message
		ev := Event{
			UpdateID:  update.UpdateID,
			ChatID:    m.Chat.ID,
			MessageID: m.MessageID,
			Text:      stripBotMention(strings.TrimSpace(m.Text)),
		}
		if m.From != nil {
			ev.UserID = m.From.ID
		}
		return ev, SourceCommand, true
	default:
		return Event{}, "", false
	}
}

// stripBotMention turns "/fb2_1@somebot arg" into "/fb2_1 arg".
func stripBotMention(text string) string {
	if !strings.HasPrefix(text, "/") {
		return text
	}
	head, rest, _ := strings.Cut(text, " ")
	if at := strings.IndexByte(head, '@'); at > 0 {
		head = head[:at]
	}
	if rest == "" {
		return head
	}
	return head + " " + rest
}

package router

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"

	"bookdrop/internal/books"
	"bookdrop/internal/delivery"
	"bookdrop/internal/services"
	"bookdrop/internal/telegram"
)

type fakeDeliverer struct {
	mu        sync.Mutex
	delivered []delivery.Request
	refreshed []delivery.Request
	broken    []string
	outcome   delivery.Outcome
	brokenErr error
}

func (f *fakeDeliverer) Deliver(_ context.Context, req delivery.Request) delivery.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, req)
	return f.outcome
}

func (f *fakeDeliverer) Refresh(_ context.Context, req delivery.Request) delivery.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed = append(f.refreshed, req)
	return f.outcome
}

func (f *fakeDeliverer) ReportBroken(_ context.Context, bookID int64, format books.Format) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broken = append(f.broken, string(format)+":"+strconv.FormatInt(bookID, 10))
	return f.brokenErr
}

type sentMessage struct {
	ChatID  int64
	ReplyTo int64
	Text    string
}

type fakeReplier struct {
	mu       sync.Mutex
	messages []sentMessage
	answers  map[string]string
}

func (f *fakeReplier) SendMessage(_ context.Context, chatID int64, text string, opts telegram.SendOptions) (*telegram.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, sentMessage{ChatID: chatID, ReplyTo: opts.ReplyToMessageID, Text: text})
	return &telegram.Message{MessageID: 1000, Chat: telegram.Chat{ID: chatID}}, nil
}

func (f *fakeReplier) AnswerCallbackQuery(_ context.Context, callbackID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.answers == nil {
		f.answers = map[string]string{}
	}
	f.answers[callbackID] = text
	return nil
}

func newBookRouter(t *testing.T, svc *fakeDeliverer, replies *fakeReplier) *Router {
	t.Helper()
	r, err := NewBookRouter(svc, replies, nil)
	if err != nil {
		t.Fatalf("NewBookRouter: %v", err)
	}
	return r
}

func messageUpdate(text string) telegram.Update {
	return telegram.Update{
		UpdateID: 1,
		Message: &telegram.Message{
			MessageID: 5,
			From:      &telegram.User{ID: 9},
			Chat:      telegram.Chat{ID: 100},
			Text:      text,
		},
	}
}

func callbackUpdate(data string) telegram.Update {
	return telegram.Update{
		UpdateID: 2,
		CallbackQuery: &telegram.CallbackQuery{
			ID:      "cb-1",
			From:    telegram.User{ID: 9},
			Data:    data,
			Message: &telegram.Message{MessageID: 77, Chat: telegram.Chat{ID: 100}},
		},
	}
}

func TestDownloadCommandsRouteToDeliver(t *testing.T) {
	for _, format := range books.Formats {
		svc := &fakeDeliverer{outcome: delivery.Outcome{Kind: delivery.KindSentInline}}
		replies := &fakeReplier{}
		r := newBookRouter(t, svc, replies)

		name, err := r.Dispatch(context.Background(), messageUpdate("/"+string(format)+"_123"))
		if err != nil {
			t.Fatalf("%s: Dispatch: %v", format, err)
		}
		if name != RouteDownload {
			t.Fatalf("%s: expected download route, got %q", format, name)
		}
		want := delivery.Request{BookID: 123, Format: format, To: delivery.Recipient{ChatID: 100, ReplyTo: 5}}
		if len(svc.delivered) != 1 || svc.delivered[0] != want {
			t.Fatalf("%s: unexpected requests %+v", format, svc.delivered)
		}
		if len(replies.messages) != 0 {
			t.Fatalf("%s: successful delivery should not send a text reply", format)
		}
	}
}

func TestDownloadCommandWithBotMention(t *testing.T) {
	svc := &fakeDeliverer{outcome: delivery.Outcome{Kind: delivery.KindSentAsLink}}
	r := newBookRouter(t, svc, &fakeReplier{})
	if _, err := r.Dispatch(context.Background(), messageUpdate("/epub_7@bookdrop_bot")); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(svc.delivered) != 1 || svc.delivered[0].BookID != 7 || svc.delivered[0].Format != books.FormatEPUB {
		t.Fatalf("unexpected requests %+v", svc.delivered)
	}
}

func TestFailedDeliveryRepliesByReason(t *testing.T) {
	tests := []struct {
		reason services.Reason
		want   string
	}{
		{services.ReasonNotFound, notFoundText},
		{services.ReasonTryLater, tryLaterText},
		{services.ReasonInternal, internalText},
	}
	for _, tt := range tests {
		svc := &fakeDeliverer{outcome: delivery.Outcome{Kind: delivery.KindFailed, Reason: tt.reason}}
		replies := &fakeReplier{}
		r := newBookRouter(t, svc, replies)
		if _, err := r.Dispatch(context.Background(), messageUpdate("/fb2_1")); err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
		if len(replies.messages) != 1 || replies.messages[0].Text != tt.want || replies.messages[0].ReplyTo != 5 {
			t.Fatalf("reason %q: unexpected replies %+v", tt.reason, replies.messages)
		}
	}
}

func TestStartDeepLinkAndGreeting(t *testing.T) {
	svc := &fakeDeliverer{outcome: delivery.Outcome{Kind: delivery.KindSentInline}}
	replies := &fakeReplier{}
	r := newBookRouter(t, svc, replies)
	ctx := context.Background()

	if _, err := r.Dispatch(ctx, messageUpdate("/start mobi_55")); err != nil {
		t.Fatalf("Dispatch deep link: %v", err)
	}
	if len(svc.delivered) != 1 || svc.delivered[0].BookID != 55 || svc.delivered[0].Format != books.FormatMOBI {
		t.Fatalf("unexpected deep-link request %+v", svc.delivered)
	}

	for _, text := range []string{"/start", "/start garbage", "/start txt_5"} {
		if name, err := r.Dispatch(ctx, messageUpdate(text)); err != nil || name != RouteStart {
			t.Fatalf("%q: route %q err %v", text, name, err)
		}
	}
	if len(svc.delivered) != 1 {
		t.Fatalf("malformed payloads must not deliver, got %+v", svc.delivered)
	}
	if len(replies.messages) != 3 || replies.messages[0].Text != welcomeText {
		t.Fatalf("expected three greetings, got %+v", replies.messages)
	}
}

func TestRefreshCallbackEditsOriginalMessage(t *testing.T) {
	svc := &fakeDeliverer{outcome: delivery.Outcome{Kind: delivery.KindSentAsLink}}
	replies := &fakeReplier{}
	r := newBookRouter(t, svc, replies)

	name, err := r.Dispatch(context.Background(), callbackUpdate(telegram.RefreshCallbackData(42, books.FormatFB2)))
	if err != nil || name != RouteRefreshLink {
		t.Fatalf("route %q err %v", name, err)
	}
	want := delivery.Request{BookID: 42, Format: books.FormatFB2, To: delivery.Recipient{ChatID: 100, EditMessageID: 77}}
	if len(svc.refreshed) != 1 || svc.refreshed[0] != want {
		t.Fatalf("unexpected refresh %+v", svc.refreshed)
	}
	if text, ok := replies.answers["cb-1"]; !ok || text != "" {
		t.Fatalf("expected a silent callback answer, got %q (answered=%v)", text, ok)
	}
}

func TestRefreshFailureAnswersCallback(t *testing.T) {
	svc := &fakeDeliverer{outcome: delivery.Outcome{Kind: delivery.KindFailed, Reason: services.ReasonTryLater}}
	replies := &fakeReplier{}
	r := newBookRouter(t, svc, replies)
	if _, err := r.Dispatch(context.Background(), callbackUpdate("updatelink_42_fb2")); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if replies.answers["cb-1"] != tryLaterText {
		t.Fatalf("unexpected answer %q", replies.answers["cb-1"])
	}
}

func TestRemoveCacheCallback(t *testing.T) {
	svc := &fakeDeliverer{}
	replies := &fakeReplier{}
	r := newBookRouter(t, svc, replies)

	name, err := r.Dispatch(context.Background(), callbackUpdate(telegram.RemoveCacheCallbackData(7, books.FormatEPUB)))
	if err != nil || name != RouteRemoveCache {
		t.Fatalf("route %q err %v", name, err)
	}
	if len(svc.broken) != 1 || svc.broken[0] != "epub:7" {
		t.Fatalf("unexpected report %+v", svc.broken)
	}
	if replies.answers["cb-1"] != brokenText {
		t.Fatalf("unexpected answer %q", replies.answers["cb-1"])
	}

	svc.brokenErr = services.Wrap(services.ErrStorage, "handlecache", "invalidate", "", errors.New("disk"))
	if _, err := r.Dispatch(context.Background(), callbackUpdate("remove_cache_7_epub")); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if replies.answers["cb-1"] != internalText {
		t.Fatalf("expected internal failure answer, got %q", replies.answers["cb-1"])
	}
}

func TestUnroutedUpdates(t *testing.T) {
	svc := &fakeDeliverer{}
	r := newBookRouter(t, svc, &fakeReplier{})
	ctx := context.Background()
	for _, update := range []telegram.Update{
		messageUpdate("hello"),
		messageUpdate("/fb2_abc"),
		messageUpdate("/txt_12"),
		callbackUpdate("updatelink_42_txt"),
		callbackUpdate("remove_cache"),
		{UpdateID: 3},
	} {
		if _, err := r.Dispatch(ctx, update); !errors.Is(err, ErrNoRoute) {
			t.Fatalf("expected ErrNoRoute for %+v, got %v", update, err)
		}
	}
	if len(svc.delivered)+len(svc.refreshed)+len(svc.broken) != 0 {
		t.Fatal("unrouted updates must not reach the coordinator")
	}
}

func TestBuilderRejectsBadRegistrations(t *testing.T) {
	noop := func(context.Context, Event, []string) error { return nil }
	tests := []struct {
		name  string
		build func(*Builder) *Builder
	}{
		{"duplicate", func(b *Builder) *Builder { return b.Command("a", "^a$", noop).Callback("a", "^b$", noop) }},
		{"bad pattern", func(b *Builder) *Builder { return b.Command("a", "(", noop) }},
		{"nil handler", func(b *Builder) *Builder { return b.Command("a", "^a$", nil) }},
		{"empty name", func(b *Builder) *Builder { return b.Callback(" ", "^a$", noop) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.build(NewBuilder(nil)).Build(); !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestRoutesKeepRegistrationOrder(t *testing.T) {
	r := newBookRouter(t, &fakeDeliverer{}, &fakeReplier{})
	var names []string
	for _, route := range r.Routes() {
		names = append(names, route.Name)
	}
	want := []string{RouteDownload, RouteStart, RouteHelp, RouteRefreshLink, RouteRemoveCache}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected table %v", names)
	}
}

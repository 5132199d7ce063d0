package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"bookdrop/internal/books"
	"bookdrop/internal/delivery"
	"bookdrop/internal/services"
)

// Callback data prefixes understood by the router.
const (
	CallbackRefreshLink = "updatelink"
	CallbackRemoveCache = "remove_cache"
	InlineSharePrefix   = "share_"
)

const maxCaptionRunes = 1024

// RefreshCallbackData encodes the refresh-link button payload.
func RefreshCallbackData(bookID int64, format books.Format) string {
	return fmt.Sprintf("%s_%d_%s", CallbackRefreshLink, bookID, format)
}

// RemoveCacheCallbackData encodes the "does not open" button payload.
func RemoveCacheCallbackData(bookID int64, format books.Format) string {
	return fmt.Sprintf("%s_%d_%s", CallbackRemoveCache, bookID, format)
}

// Surface adapts Client to the delivery coordinator.
type Surface struct {
	client *Client
	loc    *time.Location
}

var _ delivery.Surface = (*Surface)(nil)

// NewSurface wraps client. Link expiry times are rendered in loc (UTC when nil).
func NewSurface(client *Client, loc *time.Location) *Surface {
	if loc == nil {
		loc = time.UTC
	}
	return &Surface{client: client, loc: loc}
}

// Resend sends a previously issued file_id.
func (s *Surface) Resend(ctx context.Context, to delivery.Recipient, handle string, doc delivery.Document) error {
	_, err := s.client.SendDocumentByID(ctx, to.ChatID, handle, SendOptions{
		Caption:          truncateRunes(doc.Caption, maxCaptionRunes),
		ReplyToMessageID: to.ReplyTo,
		ReplyMarkup:      documentMarkup(doc.BookID, doc.Format),
	})
	return err
}

// Upload sends data as a new document and returns its file_id.
func (s *Surface) Upload(ctx context.Context, to delivery.Recipient, data []byte, doc delivery.Document) (string, error) {
	msg, err := s.client.SendDocumentUpload(ctx, to.ChatID, doc.FileName, data, SendOptions{
		Caption:          truncateRunes(doc.Caption, maxCaptionRunes),
		ReplyToMessageID: to.ReplyTo,
		ReplyMarkup:      documentMarkup(doc.BookID, doc.Format),
	})
	if err != nil {
		return "", err
	}
	return msg.Document.FileID, nil
}

// SendLink posts (or, for refreshes, edits) the share-link message.
func (s *Surface) SendLink(ctx context.Context, to delivery.Recipient, link delivery.Link) error {
	text := s.linkText(link)
	opts := SendOptions{
		ParseMode:        "HTML",
		ReplyToMessageID: to.ReplyTo,
		ReplyMarkup: (&InlineKeyboardMarkup{}).Row(
			CallbackButton("Refresh link", RefreshCallbackData(link.BookID, link.Format)),
		),
	}
	if to.EditMessageID != 0 {
		err := s.client.EditMessageText(ctx, to.ChatID, to.EditMessageID, text, opts)
		if isNotModified(err) {
			return nil
		}
		return err
	}
	_, err := s.client.SendMessage(ctx, to.ChatID, text, opts)
	return err
}

func (s *Surface) linkText(link delivery.Link) string {
	text := ""
	if link.Caption != "" {
		text = "<b>" + html.EscapeString(link.Caption) + "</b>\n\n"
	}
	return text + fmt.Sprintf(
		"The file is too large to send here, but it can be downloaded:\n📎 <a href=\"%s\">Download</a>\nThe link is valid until %s.",
		html.EscapeString(link.URL),
		link.ExpiresAt.In(s.loc).Format("15:04 MST"),
	)
}

func documentMarkup(bookID int64, format books.Format) *InlineKeyboardMarkup {
	return (&InlineKeyboardMarkup{}).
		Row(SwitchInlineButton("Share", fmt.Sprintf("%s%d", InlineSharePrefix, bookID))).
		Row(CallbackButton("Does not open?", RemoveCacheCallbackData(bookID, format)))
}

// isNotModified reports the harmless error returned when an edit would not
// change the message.
func isNotModified(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return errors.Is(err, services.ErrDeliveryRejected) &&
		strings.Contains(strings.ToLower(apiErr.Description), "message is not modified")
}

func truncateRunes(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-1]) + "…"
}

package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"golang.org/x/time/rate"

	"bookdrop/internal/config"
	"bookdrop/internal/logging"
	"bookdrop/internal/services"
)

const (
	defaultBaseURL = "https://api.telegram.org"
	userAgent      = "bookdrop/1.0"
)

// APIError is a failed Bot API call. Code is the HTTP status of the
// response, zero when no response arrived.
type APIError struct {
	Method      string
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Code, e.Description)
}

// Client wraps a go-telegram bot with rate limiting and the delivery error
// taxonomy.
type Client struct {
	api        *bot.Bot
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL points the client at a different Bot API server.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/"); baseURL != "" {
			c.baseURL = baseURL
		}
	}
}

// WithRateLimit caps outbound calls per second. Zero disables limiting.
func WithRateLimit(perSecond float64) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		burst := max(int(perSecond), 1)
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logging.NewComponentLogger(logger, "telegram")
		}
	}
}

// New creates a client for the bot identified by token. No request is made
// until the first call.
func New(token string, opts ...Option) (*Client, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, services.Wrap(services.ErrConfiguration, "telegram", "init", "bot token required", nil)
	}
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	api, err := bot.New(token,
		bot.WithServerURL(c.baseURL),
		bot.WithHTTPClient(time.Minute, &statusRecorder{client: c.httpClient}),
		bot.WithSkipGetMe(),
	)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "telegram", "init", "create bot", err)
	}
	c.api = api
	return c, nil
}

// NewFromConfig creates a client from the [telegram] section.
func NewFromConfig(cfg *config.Config, opts ...Option) (*Client, error) {
	base := []Option{
		WithBaseURL(cfg.Telegram.BaseURL),
		WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Telegram.TimeoutSeconds) * time.Second}),
		WithRateLimit(cfg.Telegram.RequestsPerSecond),
	}
	return New(cfg.Telegram.BotToken, append(base, opts...)...)
}

// SendOptions are the optional parameters shared by send methods.
type SendOptions struct {
	Caption          string
	ParseMode        string
	ReplyToMessageID int64
	ReplyMarkup      *InlineKeyboardMarkup
}

func (o SendOptions) replyParameters() *models.ReplyParameters {
	if o.ReplyToMessageID == 0 {
		return nil
	}
	return &models.ReplyParameters{MessageID: int(o.ReplyToMessageID)}
}

func (o SendOptions) replyMarkup() models.ReplyMarkup {
	if o.ReplyMarkup == nil {
		return nil
	}
	return o.ReplyMarkup.toModel()
}

// SendDocumentByID resends a previously uploaded document.
func (c *Client) SendDocumentByID(ctx context.Context, chatID int64, fileID string, opts SendOptions) (*Message, error) {
	var sent *models.Message
	err := c.call(ctx, "sendDocument", func(ctx context.Context) (err error) {
		sent, err = c.api.SendDocument(ctx, &bot.SendDocumentParams{
			ChatID:          chatID,
			Document:        &models.InputFileString{Data: fileID},
			Caption:         opts.Caption,
			ParseMode:       models.ParseMode(opts.ParseMode),
			ReplyParameters: opts.replyParameters(),
			ReplyMarkup:     opts.replyMarkup(),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return messageFromModel(sent), nil
}

// SendDocumentUpload uploads data as a new document. The returned message
// carries the issued file_id.
func (c *Client) SendDocumentUpload(ctx context.Context, chatID int64, fileName string, data []byte, opts SendOptions) (*Message, error) {
	var sent *models.Message
	err := c.call(ctx, "sendDocument", func(ctx context.Context) (err error) {
		sent, err = c.api.SendDocument(ctx, &bot.SendDocumentParams{
			ChatID:          chatID,
			Document:        &models.InputFileUpload{Filename: fileName, Data: bytes.NewReader(data)},
			Caption:         opts.Caption,
			ParseMode:       models.ParseMode(opts.ParseMode),
			ReplyParameters: opts.replyParameters(),
			ReplyMarkup:     opts.replyMarkup(),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	msg := messageFromModel(sent)
	if msg.Document == nil || msg.Document.FileID == "" {
		return nil, services.Wrap(services.ErrDeliveryRejected, "telegram", "sendDocument", "response carried no document", nil)
	}
	return msg, nil
}

// SendMessage sends a text message.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, opts SendOptions) (*Message, error) {
	var sent *models.Message
	err := c.call(ctx, "sendMessage", func(ctx context.Context) (err error) {
		sent, err = c.api.SendMessage(ctx, &bot.SendMessageParams{
			ChatID:          chatID,
			Text:            text,
			ParseMode:       models.ParseMode(opts.ParseMode),
			ReplyParameters: opts.replyParameters(),
			ReplyMarkup:     opts.replyMarkup(),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return messageFromModel(sent), nil
}

// EditMessageText replaces the text and keyboard of an existing message.
func (c *Client) EditMessageText(ctx context.Context, chatID, messageID int64, text string, opts SendOptions) error {
	return c.call(ctx, "editMessageText", func(ctx context.Context) error {
		_, err := c.api.EditMessageText(ctx, &bot.EditMessageTextParams{
			ChatID:      chatID,
			MessageID:   int(messageID),
			Text:        text,
			ParseMode:   models.ParseMode(opts.ParseMode),
			ReplyMarkup: opts.replyMarkup(),
		})
		return err
	})
}

// AnswerCallbackQuery acknowledges a button press.
func (c *Client) AnswerCallbackQuery(ctx context.Context, callbackID, text string) error {
	return c.call(ctx, "answerCallbackQuery", func(ctx context.Context) error {
		_, err := c.api.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
			CallbackQueryID: callbackID,
			Text:            text,
		})
		return err
	})
}

// GetMe returns the bot account the token belongs to.
func (c *Client) GetMe(ctx context.Context) (*User, error) {
	var me *models.User
	err := c.call(ctx, "getMe", func(ctx context.Context) (err error) {
		me, err = c.api.GetMe(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return userFromModel(me), nil
}

// SetWebhook registers the public webhook URL.
func (c *Client) SetWebhook(ctx context.Context, webhookURL, secretToken string) error {
	return c.call(ctx, "setWebhook", func(ctx context.Context) error {
		_, err := c.api.SetWebhook(ctx, &bot.SetWebhookParams{
			URL:         webhookURL,
			SecretToken: secretToken,
		})
		return err
	})
}

// call runs one Bot API request under the rate limiter and maps its failure
// onto the delivery error taxonomy.
func (c *Client) call(ctx context.Context, method string, fn func(context.Context) error) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return services.Wrap(services.ErrTimeout, "telegram", method, "rate limiter wait", err)
		}
	}
	trace := &callTrace{}
	start := time.Now()
	err := fn(withTrace(ctx, trace))
	latency := time.Since(start)
	if err == nil {
		return nil
	}
	if trace.status == 0 {
		marker := services.ErrTransientNetwork
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			marker = services.ErrTimeout
		}
		return services.Wrap(marker, "telegram", method, fmt.Sprintf("latency=%v", latency), err)
	}
	apiErr := &APIError{Method: method, Code: trace.status, Description: err.Error()}
	c.logger.Debug("bot api call failed",
		logging.String("method", method),
		logging.Int("code", apiErr.Code),
		logging.String("description", apiErr.Description),
		logging.Duration("latency", latency),
	)
	return services.Wrap(classify(apiErr.Code), "telegram", method, "", apiErr)
}

// classify maps Bot API status codes onto the delivery error taxonomy. Bad
// requests (expired file ids, oversized uploads) and refusals are rejections
// the caller recovers from; throttling and server errors are transient.
func classify(code int) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusNotFound:
		return services.ErrConfiguration
	case code == http.StatusBadRequest || code == http.StatusForbidden || code == http.StatusRequestEntityTooLarge:
		return services.ErrDeliveryRejected
	default:
		return services.ErrTransientNetwork
	}
}

type traceKey struct{}

// callTrace carries the HTTP status of a Bot API response back to call.
type callTrace struct {
	status int
}

func withTrace(ctx context.Context, trace *callTrace) context.Context {
	return context.WithValue(ctx, traceKey{}, trace)
}

// statusRecorder is the HTTP client handed to the bot library. It records
// the response status on the request's trace and strips the request URL,
// which carries the bot token, from transport errors.
type statusRecorder struct {
	client *http.Client
}

func (s *statusRecorder) Do(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", userAgent)
	resp, err := s.client.Do(req)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return nil, err
	}
	if trace, ok := req.Context().Value(traceKey{}).(*callTrace); ok && resp.StatusCode != http.StatusOK {
		trace.status = resp.StatusCode
	}
	return resp, nil
}

package telegram

import "github.com/go-telegram/bot/models"

// User is the sender of a message or callback.
type User struct {
	ID           int64  `json:"id"`
	IsBot        bool   `json:"is_bot"`
	FirstName    string `json:"first_name"`
	Username     string `json:"username,omitempty"`
	LanguageCode string `json:"language_code,omitempty"`
}

// Chat identifies a conversation.
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// Document is an uploaded file as returned by the Bot API.
type Document struct {
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id"`
	FileName     string `json:"file_name,omitempty"`
	MimeType     string `json:"mime_type,omitempty"`
	FileSize     int64  `json:"file_size,omitempty"`
}

// Message is the subset of the Bot API message object bookdrop reads.
type Message struct {
	MessageID int64     `json:"message_id"`
	From      *User     `json:"from,omitempty"`
	Chat      Chat      `json:"chat"`
	Date      int64     `json:"date"`
	Text      string    `json:"text,omitempty"`
	Caption   string    `json:"caption,omitempty"`
	Document  *Document `json:"document,omitempty"`
}

// CallbackQuery is sent when a user presses an inline keyboard button.
type CallbackQuery struct {
	ID      string   `json:"id"`
	From    User     `json:"from"`
	Message *Message `json:"message,omitempty"`
	Data    string   `json:"data,omitempty"`
}

// Update is one webhook delivery.
type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message,omitempty"`
	CallbackQuery *CallbackQuery `json:"callback_query,omitempty"`
}

// InlineKeyboardButton is one button of an inline keyboard.
type InlineKeyboardButton struct {
	Text              string  `json:"text"`
	CallbackData      string  `json:"callback_data,omitempty"`
	URL               string  `json:"url,omitempty"`
	SwitchInlineQuery *string `json:"switch_inline_query,omitempty"`
}

// InlineKeyboardMarkup is attached to messages as reply_markup.
type InlineKeyboardMarkup struct {
	InlineKeyboard [][]InlineKeyboardButton `json:"inline_keyboard"`
}

// Row appends a row of buttons and returns the markup.
func (m *InlineKeyboardMarkup) Row(buttons ...InlineKeyboardButton) *InlineKeyboardMarkup {
	m.InlineKeyboard = append(m.InlineKeyboard, buttons)
	return m
}

// CallbackButton builds a button that sends data back to the bot.
func CallbackButton(text, data string) InlineKeyboardButton {
	return InlineKeyboardButton{Text: text, CallbackData: data}
}

// SwitchInlineButton builds a button that opens an inline query in another chat.
func SwitchInlineButton(text, query string) InlineKeyboardButton {
	return InlineKeyboardButton{Text: text, SwitchInlineQuery: &query}
}

func (m *InlineKeyboardMarkup) toModel() *models.InlineKeyboardMarkup {
	rows := make([][]models.InlineKeyboardButton, 0, len(m.InlineKeyboard))
	for _, row := range m.InlineKeyboard {
		buttons := make([]models.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			button := models.InlineKeyboardButton{Text: b.Text, CallbackData: b.CallbackData, URL: b.URL}
			if b.SwitchInlineQuery != nil {
				button.SwitchInlineQuery = *b.SwitchInlineQuery
			}
			buttons = append(buttons, button)
		}
		rows = append(rows, buttons)
	}
	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func userFromModel(u *models.User) *User {
	if u == nil {
		return nil
	}
	return &User{
		ID:           u.ID,
		IsBot:        u.IsBot,
		FirstName:    u.FirstName,
		Username:     u.Username,
		LanguageCode: u.LanguageCode,
	}
}

func messageFromModel(m *models.Message) *Message {
	if m == nil {
		return &Message{}
	}
	msg := &Message{
		MessageID: int64(m.ID),
		From:      userFromModel(m.From),
		Chat:      Chat{ID: m.Chat.ID, Type: string(m.Chat.Type)},
		Date:      int64(m.Date),
		Text:      m.Text,
		Caption:   m.Caption,
	}
	if d := m.Document; d != nil {
		msg.Document = &Document{
			FileID:       d.FileID,
			FileUniqueID: d.FileUniqueID,
			FileName:     d.FileName,
			MimeType:     d.MimeType,
			FileSize:     int64(d.FileSize),
		}
	}
	return msg
}

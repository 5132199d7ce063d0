package telegram

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"bookdrop/internal/services"
)

// SecretTokenHeader carries the secret registered with SetWebhook.
const SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

const maxUpdateBytes = 1 << 20

// DecodeUpdate reads one webhook update body.
func DecodeUpdate(r io.Reader) (*Update, error) {
	var update Update
	dec := json.NewDecoder(io.LimitReader(r, maxUpdateBytes))
	if err := dec.Decode(&update); err != nil {
		return nil, services.Wrap(services.ErrValidation, "telegram", "decode update", "", err)
	}
	if update.UpdateID == 0 && update.Message == nil && update.CallbackQuery == nil {
		return nil, services.Wrap(services.ErrValidation, "telegram", "decode update", "empty update", nil)
	}
	return &update, nil
}

// VerifyWebhook checks the secret token header when a secret is configured.
func VerifyWebhook(r *http.Request, secret string) error {
	if secret == "" {
		return nil
	}
	got := r.Header.Get(SecretTokenHeader)
	if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
		return fmt.Errorf("webhook secret mismatch")
	}
	return nil
}

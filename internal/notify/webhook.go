package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/fetcharr/fetcharr/internal/model"
)

type webhookSender struct {
	httpCli *http.Client
}

type webhookConfig struct {
	URL string `json:"url"`
}

type webhookSecret struct {
	// SigningKey, when set, produces an X-Fetcharr-Signature header:
	// hex(HMAC-SHA256(body)).
	SigningKey string `json:"signingKey"`
}

type webhookBody struct {
	Event   string   `json:"event"`
	Payload *Payload `json:"payload"`
}

func (w *webhookSender) Send(ctx context.Context, ch *model.NotificationChannel, secret string, p *Payload) error {
	var cfg webhookConfig
	if err := json.Unmarshal([]byte(ch.Config), &cfg); err != nil {
		return fmt.Errorf("notify: webhook channel config: %w", err)
	}
	if cfg.URL == "" {
		return fmt.Errorf("notify: webhook channel %q has no url", ch.Name)
	}
	var sec webhookSecret
	if secret != "" {
		if err := json.Unmarshal([]byte(secret), &sec); err != nil {
			return fmt.Errorf("notify: webhook secret config: %w", err)
		}
	}

	raw, err := json.Marshal(webhookBody{Event: p.Title, Payload: p})
	if err != nil {
		return fmt.Errorf("notify: webhook body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("notify: webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if sec.SigningKey != "" {
		mac := hmac.New(sha256.New, []byte(sec.SigningKey))
		mac.Write(raw)
		req.Header.Set("X-Fetcharr-Signature", hex.EncodeToString(mac.Sum(nil)))
	}
	resp, err := w.httpCli.Do(req)
	if err != nil {
		return fmt.Errorf("notify: webhook send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("notify: webhook send: HTTP %d", resp.StatusCode)
	}
	return nil
}

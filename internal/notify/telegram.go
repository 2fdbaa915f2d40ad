package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/fetcharr/fetcharr/internal/model"
)

type telegramSender struct {
	httpCli *http.Client
}

type telegramSecret struct {
	BotToken string `json:"botToken"`
}

type telegramConfig struct {
	ChatID string `json:"chatId"`
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

func (t *telegramSender) Send(ctx context.Context, ch *model.NotificationChannel, secret string, p *Payload) error {
	var sec telegramSecret
	if err := json.Unmarshal([]byte(secret), &sec); err != nil {
		return fmt.Errorf("notify: telegram secret config: %w", err)
	}
	var cfg telegramConfig
	if err := json.Unmarshal([]byte(ch.Config), &cfg); err != nil {
		return fmt.Errorf("notify: telegram channel config: %w", err)
	}
	if sec.BotToken == "" || cfg.ChatID == "" {
		return fmt.Errorf("notify: telegram channel %q missing bot token or chat id", ch.Name)
	}

	text := fmt.Sprintf("*%s*\n%s", p.Title, p.Message)
	for _, f := range p.Fields {
		text += fmt.Sprintf("\n_%s_: %s", f.Name, f.Value)
	}
	raw, err := json.Marshal(telegramMessage{ChatID: cfg.ChatID, Text: text, ParseMode: "Markdown"})
	if err != nil {
		return fmt.Errorf("notify: telegram body: %w", err)
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", sec.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("notify: telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.httpCli.Do(req)
	if err != nil {
		return fmt.Errorf("notify: telegram send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("notify: telegram send: HTTP %d", resp.StatusCode)
	}
	return nil
}

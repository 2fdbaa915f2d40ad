package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/fetcharr/fetcharr/internal/model"
)

type discordSender struct {
	httpCli *http.Client
}

type discordSecret struct {
	WebhookURL string `json:"webhookUrl"`
}

type discordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Color       int                 `json:"color"`
	Fields      []discordEmbedField `json:"fields,omitempty"`
	Timestamp   string              `json:"timestamp"`
}

type discordWebhookBody struct {
	Embeds []discordEmbed `json:"embeds"`
}

func (d *discordSender) Send(ctx context.Context, ch *model.NotificationChannel, secret string, p *Payload) error {
	var sec discordSecret
	if err := json.Unmarshal([]byte(secret), &sec); err != nil {
		return fmt.Errorf("notify: discord secret config: %w", err)
	}
	if sec.WebhookURL == "" {
		return fmt.Errorf("notify: discord channel %q has no webhook url", ch.Name)
	}

	fields := make([]discordEmbedField, 0, len(p.Fields))
	for _, f := range p.Fields {
		fields = append(fields, discordEmbedField{Name: f.Name, Value: f.Value, Inline: true})
	}
	body := discordWebhookBody{Embeds: []discordEmbed{{
		Title:       p.Title,
		Description: p.Message,
		Color:       hexColorToInt(p.Color),
		Fields:      fields,
		Timestamp:   p.Timestamp.Format(time.RFC3339),
	}}}
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("notify: discord body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sec.WebhookURL, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("notify: discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.httpCli.Do(req)
	if err != nil {
		return fmt.Errorf("notify: discord webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("notify: discord webhook: HTTP %d", resp.StatusCode)
	}
	return nil
}

// hexColorToInt maps "#2eb886" onto the decimal color Discord embeds use.
func hexColorToInt(hex string) int {
	if len(hex) != 7 || hex[0] != '#' {
		return 0
	}
	v, err := strconv.ParseInt(hex[1:], 16, 32)
	if err != nil {
		return 0
	}
	return int(v)
}

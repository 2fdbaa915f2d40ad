package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/slack-go/slack"

	"github.com/fetcharr/fetcharr/internal/model"
)

type slackSender struct {
	httpCli *http.Client
}

type slackSecret struct {
	WebhookURL string `json:"webhookUrl"`
}

func (s *slackSender) Send(ctx context.Context, ch *model.NotificationChannel, secret string, p *Payload) error {
	var sec slackSecret
	if err := json.Unmarshal([]byte(secret), &sec); err != nil {
		return fmt.Errorf("notify: slack secret config: %w", err)
	}
	if sec.WebhookURL == "" {
		return fmt.Errorf("notify: slack channel %q has no webhook url", ch.Name)
	}

	fields := make([]slack.AttachmentField, 0, len(p.Fields))
	for _, f := range p.Fields {
		fields = append(fields, slack.AttachmentField{Title: f.Name, Value: f.Value, Short: true})
	}
	msg := &slack.WebhookMessage{
		Attachments: []slack.Attachment{{
			Title:  p.Title,
			Text:   p.Message,
			Color:  p.Color,
			Fields: fields,
			Ts:     json.Number(fmt.Sprintf("%d", p.Timestamp.Unix())),
		}},
	}
	if err := slack.PostWebhookCustomHTTPContext(ctx, sec.WebhookURL, s.httpCli, msg); err != nil {
		return fmt.Errorf("notify: slack webhook: %w", err)
	}
	return nil
}

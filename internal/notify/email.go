package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/fetcharr/fetcharr/internal/model"
)

type emailSender struct{}

type emailConfig struct {
	Host string   `json:"host"`
	Port int      `json:"port"`
	From string   `json:"from"`
	To   []string `json:"to"`
}

type emailSecret struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (e *emailSender) Send(ctx context.Context, ch *model.NotificationChannel, secret string, p *Payload) error {
	var cfg emailConfig
	if err := json.Unmarshal([]byte(ch.Config), &cfg); err != nil {
		return fmt.Errorf("notify: email channel config: %w", err)
	}
	if cfg.Host == "" || cfg.From == "" || len(cfg.To) == 0 {
		return fmt.Errorf("notify: email channel %q missing host/from/to", ch.Name)
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	var sec emailSecret
	if secret != "" {
		if err := json.Unmarshal([]byte(secret), &sec); err != nil {
			return fmt.Errorf("notify: email secret config: %w", err)
		}
	}

	var body strings.Builder
	fmt.Fprintf(&body, "From: %s\r\n", cfg.From)
	fmt.Fprintf(&body, "To: %s\r\n", strings.Join(cfg.To, ", "))
	fmt.Fprintf(&body, "Subject: %s\r\n", p.Title)
	fmt.Fprintf(&body, "Date: %s\r\n", p.Timestamp.Format("Mon, 02 Jan 2006 15:04:05 -0700"))
	body.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	body.WriteString(p.Message)
	for _, f := range p.Fields {
		fmt.Fprintf(&body, "\r\n%s: %s", f.Name, f.Value)
	}

	var auth smtp.Auth
	if sec.Username != "" {
		auth = smtp.PlainAuth("", sec.Username, sec.Password, cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(addr, auth, cfg.From, cfg.To, []byte(body.String()))
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("notify: smtp send: %w", err)
		}
		return nil
	}
}

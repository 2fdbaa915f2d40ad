package notify

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/fetcharr/fetcharr/internal/model"
)

// Sender delivers one payload to one channel. secret is the decrypted
// sensitive config JSON, empty when the channel has none.
type Sender interface {
	Send(ctx context.Context, ch *model.NotificationChannel, secret string, p *Payload) error
}

// senderHTTPTimeout bounds every outbound delivery.
const senderHTTPTimeout = 15 * time.Second

// Factory resolves and caches one Sender per channel type.
type Factory struct {
	mu      sync.Mutex
	cache   map[model.ChannelType]Sender
	httpCli *http.Client
}

// NewFactory builds a Factory. httpCli may be nil.
func NewFactory(httpCli *http.Client) *Factory {
	if httpCli == nil {
		httpCli = &http.Client{Timeout: senderHTTPTimeout}
	}
	return &Factory{cache: make(map[model.ChannelType]Sender), httpCli: httpCli}
}

// Sender returns the cached sender for a channel type.
func (f *Factory) Sender(t model.ChannelType) (Sender, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.cache[t]; ok {
		return s, nil
	}
	var s Sender
	switch t {
	case model.ChannelSlack:
		s = &slackSender{httpCli: f.httpCli}
	case model.ChannelDiscord:
		s = &discordSender{httpCli: f.httpCli}
	case model.ChannelTelegram:
		s = &telegramSender{httpCli: f.httpCli}
	case model.ChannelWebhook:
		s = &webhookSender{httpCli: f.httpCli}
	case model.ChannelEmail:
		s = &emailSender{}
	default:
		return nil, fmt.Errorf("notify: unknown channel type %q", t)
	}
	f.cache[t] = s
	return s, nil
}

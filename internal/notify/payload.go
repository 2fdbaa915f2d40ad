// Package notify fans engine events out to configured notification
// channels, honoring per-channel quiet hours and batching windows.
package notify

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event types a channel can subscribe to.
const (
	EventSearchCompleted      = "search_completed"
	EventSearchFailed         = "search_failed"
	EventGapDiscovered        = "gap_discovered"
	EventUpgradeDiscovered    = "upgrade_discovered"
	EventConnectorOffline     = "connector_offline"
	EventConnectorRecovered   = "connector_recovered"
	EventSyncFailed           = "sync_failed"
	EventDailyBudgetExhausted = "daily_budget_exhausted"
	EventBacklogRecovered     = "backlog_recovered"
)

// KnownEventTypes lists every event type the dispatcher can render, in the
// order the batcher walks them.
var KnownEventTypes = []string{
	EventSearchCompleted,
	EventSearchFailed,
	EventGapDiscovered,
	EventUpgradeDiscovered,
	EventConnectorOffline,
	EventConnectorRecovered,
	EventSyncFailed,
	EventDailyBudgetExhausted,
	EventBacklogRecovered,
}

// Field is one key/value pair rendered by rich channels.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Payload is the channel-independent notification content. Senders map it
// onto their wire format.
type Payload struct {
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Fields    []Field   `json:"fields,omitempty"`
	Color     string    `json:"color,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Encode serialises the payload for history storage.
func (p *Payload) Encode() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("notify: encode payload: %w", err)
	}
	return string(b), nil
}

// DecodePayload restores a payload from a history row.
func DecodePayload(raw string) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("notify: decode payload: %w", err)
	}
	return &p, nil
}

const (
	colorGood    = "#2eb886"
	colorWarning = "#daa038"
	colorDanger  = "#a30200"
	colorInfo    = "#439fe0"
)

type template struct {
	title string
	color string
}

var templates = map[string]template{
	EventSearchCompleted:      {"Search completed", colorGood},
	EventSearchFailed:         {"Search failed", colorDanger},
	EventGapDiscovered:        {"Gaps discovered", colorInfo},
	EventUpgradeDiscovered:    {"Upgrades discovered", colorInfo},
	EventConnectorOffline:     {"Connector offline", colorDanger},
	EventConnectorRecovered:   {"Connector recovered", colorGood},
	EventSyncFailed:           {"Sync failed", colorWarning},
	EventDailyBudgetExhausted: {"Daily search budget exhausted", colorWarning},
	EventBacklogRecovered:     {"Backlog items rescheduled", colorInfo},
}

// Render builds the payload for one event. Unknown event types get a plain
// template so a new event never breaks delivery.
func Render(eventType, message string, fields []Field, now time.Time) *Payload {
	tpl, ok := templates[eventType]
	if !ok {
		tpl = template{title: eventType, color: colorInfo}
	}
	return &Payload{
		Title:     tpl.title,
		Message:   message,
		Fields:    fields,
		Color:     tpl.color,
		Timestamp: now.UTC(),
	}
}

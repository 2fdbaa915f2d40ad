// Package analytics collects raw engine events and rolls them up into
// hourly and daily aggregates. Collection is fire-and-forget: a failed
// insert is logged and never propagates into the calling pipeline.
package analytics

import "encoding/json"

// EventType tags the polymorphic event envelope.
type EventType string

const (
	EventGapDiscovered     EventType = "gap_discovered"
	EventUpgradeDiscovered EventType = "upgrade_discovered"
	EventSearchDispatched  EventType = "search_dispatched"
	EventSearchCompleted   EventType = "search_completed"
	EventSearchFailed      EventType = "search_failed"
	EventSearchNoResults   EventType = "search_no_results"
	EventQueueDepthSampled EventType = "queue_depth_sampled"
	EventSyncCompleted     EventType = "sync_completed"
	EventSyncFailed        EventType = "sync_failed"
)

// Event is the tagged union of analytics payloads. Each variant knows its
// type tag; the envelope is stored as JSON keyed by that tag.
type Event interface {
	EventType() EventType
}

// GapDiscovered is emitted once per discovery pass per connector.
type GapDiscovered struct {
	GapsFound          int `json:"gapsFound"`
	RegistriesCreated  int `json:"registriesCreated"`
	RegistriesResolved int `json:"registriesResolved"`
}

func (GapDiscovered) EventType() EventType { return EventGapDiscovered }

// UpgradeDiscovered is emitted once per upgrade-discovery pass.
type UpgradeDiscovered struct {
	UpgradesFound      int `json:"upgradesFound"`
	RegistriesCreated  int `json:"registriesCreated"`
	RegistriesResolved int `json:"registriesResolved"`
}

func (UpgradeDiscovered) EventType() EventType { return EventUpgradeDiscovered }

// SearchDispatched records one accepted dispatch.
type SearchDispatched struct {
	ContentType string `json:"contentType"`
	ContentID   int64  `json:"contentId"`
	SearchType  string `json:"searchType"`
	CommandID   int64  `json:"commandId"`
	DurationMs  int64  `json:"durationMs"`
}

func (SearchDispatched) EventType() EventType { return EventSearchDispatched }

// SearchCompleted records a command reaching its terminal completed state.
type SearchCompleted struct {
	ContentType string `json:"contentType"`
	ContentID   int64  `json:"contentId"`
	CommandID   int64  `json:"commandId"`
	ElapsedMs   int64  `json:"elapsedMs"`
}

func (SearchCompleted) EventType() EventType { return EventSearchCompleted }

// SearchFailed records a failed dispatch with its failure category.
type SearchFailed struct {
	ContentType string `json:"contentType"`
	ContentID   int64  `json:"contentId"`
	SearchType  string `json:"searchType"`
	Category    string `json:"category"`
	Attempts    int    `json:"attempts"`
}

func (SearchFailed) EventType() EventType { return EventSearchFailed }

// SearchNoResults records a dispatch that found nothing on the indexers.
type SearchNoResults struct {
	ContentType string `json:"contentType"`
	ContentID   int64  `json:"contentId"`
	SearchType  string `json:"searchType"`
	Attempts    int    `json:"attempts"`
}

func (SearchNoResults) EventType() EventType { return EventSearchNoResults }

// QueueDepthSampled is the 5-minute live registry snapshot per connector.
type QueueDepthSampled struct {
	QueueDepth int            `json:"queueDepth"`
	ByState    map[string]int `json:"byState"`
}

func (QueueDepthSampled) EventType() EventType { return EventQueueDepthSampled }

// SyncCompleted summarises one successful sweep.
type SyncCompleted struct {
	Mode               string `json:"mode"`
	ItemsSynced        int    `json:"itemsSynced"`
	GapsFound          int    `json:"gapsFound"`
	UpgradesFound      int    `json:"upgradesFound"`
	RegistriesCreated  int    `json:"registriesCreated"`
	RegistriesResolved int    `json:"registriesResolved"`
	DurationMs         int64  `json:"durationMs"`
}

func (SyncCompleted) EventType() EventType { return EventSyncCompleted }

// SyncFailed summarises one failed sweep.
type SyncFailed struct {
	Mode       string `json:"mode"`
	Error      string `json:"error"`
	DurationMs int64  `json:"durationMs"`
}

func (SyncFailed) EventType() EventType { return EventSyncFailed }

// Marshal encodes the event payload for storage.
func Marshal(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}

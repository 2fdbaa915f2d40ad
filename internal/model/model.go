// Package model defines the domain entities shared by the store, the queue
// engine and the background jobs. Fields map 1:1 to the relational schema.
package model

import (
	"database/sql"
	"time"
)

// ConnectorType identifies the upstream server family.
type ConnectorType string

const (
	ConnectorSeries     ConnectorType = "series_server"
	ConnectorMovie      ConnectorType = "movie_server"
	ConnectorAdultMovie ConnectorType = "adult_movie_server"
)

// HealthStatus is the last observed connector health.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthOffline   HealthStatus = "offline"
	HealthUnknown   HealthStatus = "unknown"
)

// Connector is a configured upstream server owning its catalog subtree.
type Connector struct {
	ID                int64          `db:"id"`
	Type              ConnectorType  `db:"type"`
	Name              string         `db:"name"`
	URL               string         `db:"url"`
	APIKeyEncrypted   string         `db:"api_key_encrypted"`
	Enabled           bool           `db:"enabled"`
	HealthStatus      HealthStatus   `db:"health_status"`
	LastSyncAt        sql.NullTime   `db:"last_sync_at"`
	ThrottleProfileID sql.NullInt64  `db:"throttle_profile_id"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
}

// IsEpisodeBased reports whether the connector carries series/episodes rather
// than movies.
func (c *Connector) IsEpisodeBased() bool {
	return c.Type == ConnectorSeries
}

// Series mirrors an upstream series, keyed by (connector, upstream id).
type Series struct {
	ID          int64  `db:"id"`
	ConnectorID int64  `db:"connector_id"`
	UpstreamID  int64  `db:"upstream_id"`
	Title       string `db:"title"`
	Monitored   bool   `db:"monitored"`
}

// Season mirrors one season of a series.
type Season struct {
	ID           int64 `db:"id"`
	SeriesID     int64 `db:"series_id"`
	SeasonNumber int   `db:"season_number"`
	Monitored    bool  `db:"monitored"`
}

// Episode mirrors an upstream episode.
type Episode struct {
	ID                  int64          `db:"id"`
	ConnectorID         int64          `db:"connector_id"`
	UpstreamID          int64          `db:"upstream_id"`
	SeriesID            int64          `db:"series_id"`
	SeasonNumber        int            `db:"season_number"`
	EpisodeNumber       int            `db:"episode_number"`
	Title               string         `db:"title"`
	HasFile             bool           `db:"has_file"`
	Monitored           bool           `db:"monitored"`
	QualityCutoffNotMet bool           `db:"quality_cutoff_not_met"`
	Quality             sql.NullString `db:"quality"`
}

// Movie mirrors an upstream movie.
type Movie struct {
	ID                  int64          `db:"id"`
	ConnectorID         int64          `db:"connector_id"`
	UpstreamID          int64          `db:"upstream_id"`
	Title               string         `db:"title"`
	HasFile             bool           `db:"has_file"`
	Monitored           bool           `db:"monitored"`
	QualityCutoffNotMet bool           `db:"quality_cutoff_not_met"`
	Quality             sql.NullString `db:"quality"`
}

// ContentType distinguishes registry targets.
type ContentType string

const (
	ContentEpisode ContentType = "episode"
	ContentMovie   ContentType = "movie"
)

// SearchType distinguishes why an item is being searched.
type SearchType string

const (
	SearchGap     SearchType = "gap"
	SearchUpgrade SearchType = "upgrade"
)

// RegistryState is the queue engine state machine.
type RegistryState string

const (
	StatePending   RegistryState = "pending"
	StateQueued    RegistryState = "queued"
	StateSearching RegistryState = "searching"
	StateCooldown  RegistryState = "cooldown"
	StateExhausted RegistryState = "exhausted"
)

// Registry is one unit of search work. At most one live row exists per
// (connector, content type, content id, search type).
type Registry struct {
	ID             int64         `db:"id"`
	ConnectorID    int64         `db:"connector_id"`
	ContentType    ContentType   `db:"content_type"`
	ContentID      int64         `db:"content_id"`
	SearchType     SearchType    `db:"search_type"`
	State          RegistryState `db:"state"`
	AttemptCount   int           `db:"attempt_count"`
	NextEligibleAt sql.NullTime  `db:"next_eligible_at"`
	BacklogTier    int           `db:"backlog_tier"`
	CreatedAt      time.Time     `db:"created_at"`
	UpdatedAt      time.Time     `db:"updated_at"`
}

// CommandStatus is the upstream command lifecycle.
type CommandStatus string

const (
	CommandQueued    CommandStatus = "queued"
	CommandStarted   CommandStatus = "started"
	CommandCompleted CommandStatus = "completed"
	CommandFailed    CommandStatus = "failed"
)

// Terminal reports whether the status closes the pending command.
func (s CommandStatus) Terminal() bool {
	return s == CommandCompleted || s == CommandFailed
}

// PendingCommand is a dispatched search awaiting a terminal state upstream.
type PendingCommand struct {
	ID            int64         `db:"id"`
	ConnectorID   int64         `db:"connector_id"`
	CommandID     int64         `db:"command_id"`
	ContentType   ContentType   `db:"content_type"`
	ContentID     int64         `db:"content_id"`
	CommandStatus CommandStatus `db:"command_status"`
	DispatchedAt  time.Time     `db:"dispatched_at"`
}

// ThrottleProfile is a named bundle of dispatch budgets.
type ThrottleProfile struct {
	ID                    int64         `db:"id"`
	Name                  string        `db:"name"`
	RequestsPerMinute     int           `db:"requests_per_minute"`
	DailyBudget           sql.NullInt64 `db:"daily_budget"` // null = unlimited
	BatchSize             int           `db:"batch_size"`
	BatchCooldownSeconds  int           `db:"batch_cooldown_seconds"`
	RateLimitPauseSeconds int           `db:"rate_limit_pause_seconds"`
	IsDefault             bool          `db:"is_default"`
}

// PauseReason explains a throttle pause.
type PauseReason string

const (
	PauseRateLimit   PauseReason = "rate_limit"
	PauseDailyBudget PauseReason = "daily_budget_exhausted"
	PauseManual      PauseReason = "manual"
)

// ThrottleState carries per-connector runtime counters.
type ThrottleState struct {
	ConnectorID        int64          `db:"connector_id"`
	RequestsThisMinute int            `db:"requests_this_minute"`
	RequestsToday      int            `db:"requests_today"`
	MinuteWindowStart  time.Time      `db:"minute_window_start"`
	DayWindowStart     time.Time      `db:"day_window_start"`
	PausedUntil        sql.NullTime   `db:"paused_until"`
	PauseReason        sql.NullString `db:"pause_reason"`
	LastRequestAt      sql.NullTime   `db:"last_request_at"`
}

// SyncState tracks reconnect backoff for an offline connector.
type SyncState struct {
	ConnectorID        int64          `db:"connector_id"`
	ReconnectAttempts  int            `db:"reconnect_attempts"`
	NextReconnectAt    sql.NullTime   `db:"next_reconnect_at"`
	ReconnectStartedAt sql.NullTime   `db:"reconnect_started_at"`
	LastReconnectError sql.NullString `db:"last_reconnect_error"`
	ReconnectPaused    bool           `db:"reconnect_paused"`
}

// ChannelType identifies a notification transport.
type ChannelType string

const (
	ChannelDiscord  ChannelType = "discord"
	ChannelTelegram ChannelType = "telegram"
	ChannelSlack    ChannelType = "slack"
	ChannelEmail    ChannelType = "email"
	ChannelWebhook  ChannelType = "webhook"
)

// NotificationChannel is a configured notification destination.
type NotificationChannel struct {
	ID                       int64          `db:"id"`
	Type                     ChannelType    `db:"type"`
	Name                     string         `db:"name"`
	Enabled                  bool           `db:"enabled"`
	Config                   string         `db:"config"` // non-sensitive JSON
	SensitiveConfigEncrypted sql.NullString `db:"sensitive_config_encrypted"`
	SubscribedEvents         string         `db:"subscribed_events"` // JSON array of event types
	BatchingEnabled          bool           `db:"batching_enabled"`
	BatchingWindowSeconds    int            `db:"batching_window_seconds"`
	QuietHoursEnabled        bool           `db:"quiet_hours_enabled"`
	QuietHoursStart          string         `db:"quiet_hours_start"` // "HH:MM"
	QuietHoursEnd            string         `db:"quiet_hours_end"`
	QuietHoursTimezone       string         `db:"quiet_hours_timezone"`
}

// NotificationStatus is the per-history-row delivery state.
type NotificationStatus string

const (
	NotifyPending NotificationStatus = "pending"
	NotifySent    NotificationStatus = "sent"
	NotifyFailed  NotificationStatus = "failed"
	NotifyBatched NotificationStatus = "batched"
)

// NotificationHistory records one notification per channel per event.
type NotificationHistory struct {
	ID        int64              `db:"id"`
	ChannelID int64              `db:"channel_id"`
	EventType string             `db:"event_type"`
	Payload   string             `db:"payload"` // JSON
	Status    NotificationStatus `db:"status"`
	Error     sql.NullString     `db:"error"`
	BatchID   sql.NullString     `db:"batch_id"`
	CreatedAt time.Time          `db:"created_at"`
	SentAt    sql.NullTime       `db:"sent_at"`
}

// SweepType distinguishes dynamic schedule behaviour.
type SweepType string

const (
	SweepIncremental SweepType = "incremental"
	SweepFullRecon   SweepType = "full_reconciliation"
)

// Schedule is a user-defined sweep schedule.
type Schedule struct {
	ID             int64         `db:"id"`
	Name           string        `db:"name"`
	CronExpression string        `db:"cron_expression"`
	Timezone       string        `db:"timezone"`
	SweepType      SweepType     `db:"sweep_type"`
	ConnectorID    sql.NullInt64 `db:"connector_id"` // null = all connectors
	Enabled        bool          `db:"enabled"`
	NextRunAt      sql.NullTime  `db:"next_run_at"`
	UpdatedAt      time.Time     `db:"updated_at"`
}

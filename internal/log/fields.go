package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldCorrelationID = "correlation_id"
	FieldConnectorID   = "connector_id"
	FieldRegistryID    = "registry_id"
	FieldCommandID     = "command_id"
	FieldChannelID     = "channel_id"
	FieldBatchID       = "batch_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldJob       = "job"

	// Domain fields
	FieldContentType = "content_type"
	FieldSearchType  = "search_type"
	FieldState       = "state"
	FieldOldState    = "old_state"
	FieldNewState    = "new_state"
	FieldAttempts    = "attempts"
	FieldBacklogTier = "backlog_tier"

	// Network fields
	FieldBaseURL    = "base_url"
	FieldStatusCode = "status_code"
)

package ir

// Version constants for persisted payloads and the service.
const (
	// ViewVersion is the schema version of persisted view definitions.
	ViewVersion = "4"

	// ServiceVersion is the pivot service version.
	ServiceVersion = "0.1.0"
)

package service

// Standard field names used in service log lines. Identifiers listed in
// maskedFields are masked unless verbose logging is enabled.
const (
	LogFieldTenant        = "tenant"
	LogFieldPhoneNumberID = "phone_number_id"
	LogFieldWaID          = "wa_id"
	LogFieldMessageID     = "message_id"
	LogFieldMediaID       = "media_id"
	LogFieldRequestID     = "request_id"

	LogFieldEventKind   = "event_kind"
	LogFieldMessageType = "message_type"
	LogFieldDirection   = "direction"
	LogFieldStatus      = "status"
	LogFieldCount       = "count"
	LogFieldDuration    = "duration_ms"
)

// HTTP request fields
const (
	LogFieldMethod     = "method"
	LogFieldRoute      = "route"
	LogFieldPath       = "path"
	LogFieldStatusCode = "status_code"
	LogFieldRemoteIP   = "remote_ip"
	LogFieldUserAgent  = "user_agent"
	LogFieldTraceID    = "trace_id"
	LogFieldSize       = "response_size"
)

// Log level usage
//
// DEBUG: per-message detail (normalized, duplicate, status applied).
// INFO:  one line per handled webhook and per operator send.
// WARN:  degraded paths (media fetch failed, message skipped or unparseable).
// ERROR: persistence failures and provider send failures.

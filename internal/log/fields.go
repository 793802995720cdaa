package log

// Canonical field names for structured logging.
const (
	FieldComponent = "component"
	FieldEvent     = "event"
	FieldRequestID = "request_id"
	FieldBackend   = "backend"
	FieldDriver    = "driver"
	FieldURL       = "url"
	FieldHostKey   = "host_key"
	FieldIdent     = "ident"
	FieldDuration  = "duration_ms"
)

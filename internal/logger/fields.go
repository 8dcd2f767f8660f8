package logger

// Field keys. CI log scraping correlates retries with the call that caused
// them through these names.
const (
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	KeyOperation = "operation"
	KeyCount     = "count"

	KeyHost      = "host"
	KeyPrincipal = "principal"
	KeyServer    = "server"
	KeyCCache    = "ccache"
	KeyKeytab    = "keytab"

	KeyAttempt    = "attempt"
	KeyMaxRetries = "max_retries"
	KeyBackoff    = "backoff"

	KeyAddress = "address"
	KeyCommand = "command"

	KeyError    = "error"
	KeyDuration = "duration_ms"
)

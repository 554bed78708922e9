package metrics

const (
	// LabelMethod is the Prometheus label name for HTTP method.
	LabelMethod = "method"

	// LabelStatusCode is the Prometheus label name for HTTP status codes.
	LabelStatusCode = "code"

	// LabelEvent is used by InstrumentHTTP() to describe the different stages of
	// an HTTP connection (DNS resolution, TLS handshake, etc).
	LabelEvent = "event"
)

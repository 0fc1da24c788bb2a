package crashlog

import (
	"context"
	"net/http"
)

// Response is what the transport returns for a request that reached the server.
type Response struct {
	Body       []byte
	StatusCode int
}

// Transport sends a serialized body to a URL.
type Transport interface {
	// Post sends body to url with the given headers. An error is returned only
	// when no response was received.
	Post(ctx context.Context, url string, header http.Header, body []byte) (*Response, error)
}

// Codec turns payloads into bytes and decodes server responses.
type Codec interface {
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Reporter talks to the collection endpoint.
type Reporter interface {
	// Announce performs the registration handshake and returns the application
	// name reported by the server. It returns false on any failure.
	Announce(ctx context.Context) (string, bool)
	// Deliver sends the payload exactly once.
	Deliver(ctx context.Context, p *Payload) Result
}

// SystemCollector returns the cached system information snapshot.
type SystemCollector interface {
	Collect() SystemInformation
}

// Logger accepts leveled log lines.
type Logger interface {
	Logf(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Debugf(format string, args ...any)
}

// Package transport implements the HTTP transport used by the reporter.
package transport

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/vk-rv/crashlog/internal/crashlog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// DefaultTimeout bounds a single request when no timeout is configured.
const DefaultTimeout = 5 * time.Second

// HTTPTransport posts bodies with a resty client. It never retries.
type HTTPTransport struct {
	client *resty.Client
}

var _ crashlog.Transport = (*HTTPTransport)(nil)

// Config configures an HTTPTransport.
type Config struct {
	// RoundTripper is the base transport, http.DefaultTransport when nil.
	RoundTripper   http.RoundTripper
	TracerProvider trace.TracerProvider
	// Logger receives resty's own diagnostics.
	Logger  resty.Logger
	Timeout time.Duration
}

// New returns a transport built from cfg.
func New(cfg Config) *HTTPTransport {
	base := cfg.RoundTripper
	if base == nil {
		base = http.DefaultTransport
	}
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	client := resty.New().
		SetTransport(otelhttp.NewTransport(base, otelhttp.WithTracerProvider(tp))).
		SetTimeout(timeout).
		SetRetryCount(0)
	if cfg.Logger != nil {
		client.SetLogger(cfg.Logger)
	}

	return &HTTPTransport{client: client}
}

// Post implements crashlog.Transport.
func (t *HTTPTransport) Post(ctx context.Context, url string, header http.Header, body []byte) (*crashlog.Response, error) {
	resp, err := t.client.R().
		SetContext(ctx).
		SetHeaderMultiValues(header).
		SetBody(body).
		Post(url)
	if err != nil {
		return nil, fmt.Errorf("transport: post %s: %w", url, err)
	}

	return &crashlog.Response{
		StatusCode: resp.StatusCode(),
		Body:       resp.Body(),
	}, nil
}

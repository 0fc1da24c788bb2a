// Package reporter delivers payloads to the CrashLog collection endpoint and
// performs the announce handshake.
package reporter

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/vk-rv/crashlog/internal/crashlog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Request headers.
const (
	HeaderAPIKey    = "X-Crashlog-Api-Key"
	HeaderSignature = "X-Crashlog-Signature"
	userAgent       = crashlog.NotifierName + "/" + crashlog.NotifierVersion
)

const tracerName = "github.com/vk-rv/crashlog/internal/reporter"

var (
	errEmptyAPIKey = errors.New("api key is empty")
	errNoAppName   = errors.New("response has no application name")
)

// Metrics holds counters shared by every reporter of a notifier.
// Reporters are rebuilt on each reconfiguration, so the counters are
// registered once and handed to them.
type Metrics struct {
	deliveries *prometheus.CounterVec
	announces  *prometheus.CounterVec
}

// NewMetrics registers the reporter counters with r.
func NewMetrics(r prometheus.Registerer) *Metrics {
	return &Metrics{
		deliveries: promauto.With(r).NewCounterVec(prometheus.CounterOpts{
			Name: "crashlog_reporter_deliveries_total",
			Help: "Total number of event delivery attempts by result.",
		}, []string{"result"}),
		announces: promauto.With(r).NewCounterVec(prometheus.CounterOpts{
			Name: "crashlog_reporter_announces_total",
			Help: "Total number of announce handshakes by result.",
		}, []string{"result"}),
	}
}

func (m *Metrics) delivered(ok bool) {
	if m != nil {
		m.deliveries.WithLabelValues(resultLabel(ok)).Inc()
	}
}

func (m *Metrics) announced(ok bool) {
	if m != nil {
		m.announces.WithLabelValues(resultLabel(ok)).Inc()
	}
}

func resultLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// Reporter is bound to one configuration snapshot.
type Reporter struct {
	cfg       *crashlog.Configuration
	transport crashlog.Transport
	codec     crashlog.Codec
	sys       crashlog.SystemCollector
	logger    crashlog.Logger
	metrics   *Metrics
	tracer    trace.Tracer
}

var _ crashlog.Reporter = (*Reporter)(nil)

// Options carries the optional collaborators of a Reporter.
type Options struct {
	System         crashlog.SystemCollector
	Logger         crashlog.Logger
	Metrics        *Metrics
	TracerProvider trace.TracerProvider
}

// New creates a Reporter for cfg.
func New(
	cfg *crashlog.Configuration,
	transport crashlog.Transport,
	codec crashlog.Codec,
	opts Options,
) *Reporter {
	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Reporter{
		cfg:       cfg,
		transport: transport,
		codec:     codec,
		sys:       opts.System,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		tracer:    tp.Tracer(tracerName),
	}
}

// AnnounceRequest is the body of the announce handshake.
type AnnounceRequest struct {
	Notifier    crashlog.NotifierInfo      `json:"notifier"`
	Stage       string                     `json:"stage"`
	Environment crashlog.SystemInformation `json:"environment"`
}

// announceResponse is what the server answers to an announce handshake.
type announceResponse struct {
	ApplicationName string `json:"application_name"`
}

// deliveryResponse is what the server answers to a delivered event.
type deliveryResponse struct {
	ID         string `json:"id"`
	LocationID string `json:"location_id"`
}

// Announce implements crashlog.Reporter.
func (r *Reporter) Announce(ctx context.Context) (string, bool) {
	ctx, span := r.tracer.Start(ctx, "crashlog.announce")
	defer span.End()

	name, err := r.announce(ctx)
	r.metrics.announced(err == nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.debugf("announce: %v", err)
		return "", false
	}
	span.SetAttributes(attribute.String("crashlog.application", name))
	return name, true
}

func (r *Reporter) announce(ctx context.Context) (string, error) {
	if r.cfg.APIKey == "" {
		return "", errEmptyAPIKey
	}

	req := &AnnounceRequest{
		Notifier: crashlog.DefaultNotifierInfo(),
		Stage:    r.cfg.Stage,
	}
	if r.sys != nil {
		req.Environment = r.sys.Collect()
	}

	var resp announceResponse
	if err := r.post(ctx, r.cfg.AnnounceURL(), req, &resp); err != nil {
		return "", err
	}
	if resp.ApplicationName == "" {
		return "", errNoAppName
	}
	return resp.ApplicationName, nil
}

// Deliver implements crashlog.Reporter.
func (r *Reporter) Deliver(ctx context.Context, p *crashlog.Payload) crashlog.Result {
	ctx, span := r.tracer.Start(ctx, "crashlog.deliver", trace.WithAttributes(
		attribute.String("crashlog.event_id", p.EventID),
		attribute.String("crashlog.exception", p.Event.Type),
	))
	defer span.End()

	var resp deliveryResponse
	err := r.post(ctx, r.cfg.EventsURL(), p, &resp)
	r.metrics.delivered(err == nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.debugf("deliver: %v", err)
		return crashlog.Result{}
	}

	res := crashlog.Result{Delivered: true, LocationID: resp.ID}
	if res.LocationID == "" {
		res.LocationID = resp.LocationID
	}
	return res
}

// post encodes body, sends it once and decodes a 2xx response into out.
// An empty 2xx body leaves out untouched.
func (r *Reporter) post(ctx context.Context, url string, body, out any) error {
	data, err := r.codec.Marshal(body)
	if err != nil {
		return fmt.Errorf("reporter: marshal body: %w", err)
	}

	resp, err := r.transport.Post(ctx, url, r.headers(data), data)
	if err != nil {
		return fmt.Errorf("reporter: send request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("reporter: server returned non-2xx status: %d, body: %s", resp.StatusCode, string(resp.Body))
	}

	if len(resp.Body) == 0 {
		return nil
	}
	if err := r.codec.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("reporter: decode response body: %w", err)
	}
	return nil
}

func (r *Reporter) headers(body []byte) http.Header {
	h := http.Header{}
	h.Set("Content-Type", r.codec.ContentType())
	h.Set("Accept", r.codec.ContentType())
	h.Set("User-Agent", userAgent)
	h.Set(HeaderAPIKey, r.cfg.APIKey)
	if r.cfg.Secret != "" {
		h.Set(HeaderSignature, computeHMAC(body, []byte(r.cfg.Secret)))
	}
	return h
}

func (r *Reporter) debugf(format string, args ...any) {
	if r.logger != nil {
		r.logger.Debugf(format, args...)
	}
}

// computeHMAC computes HMAC-SHA256 signature.
func computeHMAC(message, key []byte) string {
	h := hmac.New(sha256.New, key)
	h.Write(message)
	return hex.EncodeToString(h.Sum(nil))
}

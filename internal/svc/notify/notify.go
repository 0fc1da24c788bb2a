// Package notify provides the notification pipeline of the CrashLog client:
// the ignore and live gates, payload assembly, delivery and outcome logging.
package notify

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/vk-rv/crashlog/internal/codec"
	"github.com/vk-rv/crashlog/internal/crashlog"
	"github.com/vk-rv/crashlog/internal/payload"
	"github.com/vk-rv/crashlog/internal/reporter"
	"github.com/vk-rv/crashlog/internal/stdlog"
	"github.com/vk-rv/crashlog/internal/sysinfo"
	"github.com/vk-rv/crashlog/internal/transport"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// PayloadBuilder composes the report of a single notification.
type PayloadBuilder interface {
	Build(err error, cfg *crashlog.Configuration, data crashlog.Data) (*crashlog.Payload, error)
}

// ReporterFactory creates a reporter bound to a configuration snapshot.
type ReporterFactory func(cfg *crashlog.Configuration, logger crashlog.Logger) crashlog.Reporter

// Request is a single notification.
type Request struct {
	Err  error
	Data crashlog.Data
	// HonorIgnored skips exceptions listed in the ignore configuration.
	HonorIgnored bool
}

// state is the snapshot every notification reads.
// It is replaced as a whole, never modified in place.
type state struct {
	cfg      *crashlog.Configuration
	reporter crashlog.Reporter
	logger   crashlog.Logger
}

// Service implements the notification pipeline.
type Service struct {
	state       atomic.Pointer[state]
	builder     PayloadBuilder
	newReporter ReporterFactory
	registerer  prometheus.Registerer
	metrics     *metrics
}

type metrics struct {
	notifications *prometheus.CounterVec
}

// Options carries the optional collaborators of a Service.
type Options struct {
	Builder     PayloadBuilder
	NewReporter ReporterFactory
	System      crashlog.SystemCollector
	// Registerer receives the notification and reporter counters.
	// A fresh registry is used when nil.
	Registerer     prometheus.Registerer
	TracerProvider trace.TracerProvider
	Now            func() time.Time
}

// NewService creates a Service with the given configuration.
// A nil cfg uses crashlog.NewConfiguration.
func NewService(cfg *crashlog.Configuration, opts Options) *Service {
	if cfg == nil {
		cfg = crashlog.NewConfiguration()
	}
	if opts.System == nil {
		opts.System = sysinfo.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.NewRegistry()
	}
	if opts.TracerProvider == nil {
		opts.TracerProvider = otel.GetTracerProvider()
	}
	if opts.Builder == nil {
		opts.Builder = payload.NewBuilder(opts.System, opts.Now)
	}
	if opts.NewReporter == nil {
		opts.NewReporter = HTTPReporterFactory(
			opts.System,
			reporter.NewMetrics(opts.Registerer),
			opts.TracerProvider,
		)
	}

	s := &Service{
		builder:     opts.Builder,
		newReporter: opts.NewReporter,
		registerer:  opts.Registerer,
		metrics: &metrics{
			notifications: promauto.With(opts.Registerer).NewCounterVec(prometheus.CounterOpts{
				Name: "crashlog_notifications_total",
				Help: "Total number of notifications by outcome.",
			}, []string{"outcome"}),
		},
	}
	s.swap(cfg)
	return s
}

// HTTPReporterFactory returns a factory of reporters that deliver over HTTP
// with the codec named by the configuration.
func HTTPReporterFactory(
	sys crashlog.SystemCollector,
	reporterMetrics *reporter.Metrics,
	tp trace.TracerProvider,
) ReporterFactory {
	return func(cfg *crashlog.Configuration, logger crashlog.Logger) crashlog.Reporter {
		c, err := codec.ForEncoding(cfg.Encoding)
		if err != nil {
			logger.Warnf("%v, falling back to %s", err, crashlog.EncodingJSON)
		}
		tr := transport.New(transport.Config{
			TracerProvider: tp,
			Logger:         logger,
			Timeout:        cfg.Timeout,
		})
		return reporter.New(cfg, tr, c, reporter.Options{
			System:         sys,
			Logger:         logger,
			Metrics:        reporterMetrics,
			TracerProvider: tp,
		})
	}
}

// swap installs cfg with a fresh reporter and returns the new state.
func (s *Service) swap(cfg *crashlog.Configuration) *state {
	logger := stdlog.NewLogger(cfg.Logger)
	st := &state{cfg: cfg, logger: logger, reporter: s.newReporter(cfg, logger)}
	s.state.Store(st)
	return st
}

// Registerer returns the registerer the service counters were registered on.
// Collectors serving the same client register there too.
func (s *Service) Registerer() prometheus.Registerer {
	return s.registerer
}

// Gatherer exposes the service metrics. It gathers nothing when the
// registerer given in Options cannot be gathered from.
func (s *Service) Gatherer() prometheus.Gatherer {
	if g, ok := s.registerer.(prometheus.Gatherer); ok {
		return g
	}
	return prometheus.Gatherers{}
}

// Logger returns the logger of the current configuration, nil when unset.
func (s *Service) Logger() *slog.Logger {
	return s.state.Load().cfg.Logger
}

// Configuration returns the current configuration snapshot.
// The returned value must not be modified, use Configure instead.
func (s *Service) Configuration() *crashlog.Configuration {
	return s.state.Load().cfg
}

// Ignored reports whether err is listed in the ignore configuration.
func (s *Service) Ignored(err error) bool {
	return s.state.Load().cfg.Ignored(err)
}

// Live reports whether notifications are sent at all: the configuration is
// valid and the current release stage reports.
func (s *Service) Live() bool {
	return live(s.state.Load().cfg)
}

func live(cfg *crashlog.Configuration) bool {
	return cfg.Valid() && cfg.ReleaseStageEnabled()
}

// Configure applies fn to a copy of the configuration, installs the result
// with a new reporter and either announces or validates it.
// Concurrent calls to Configure must be serialized by the caller.
func (s *Service) Configure(ctx context.Context, announce bool, fn func(cfg *crashlog.Configuration)) *crashlog.Configuration {
	cfg := s.state.Load().cfg.Clone()
	if fn != nil {
		fn(cfg)
	}
	st := s.swap(cfg)

	if announce {
		s.announce(ctx, st)
		return cfg
	}

	if keys := cfg.InvalidKeys(); len(keys) > 0 {
		st.logger.Errorf("Not configured correctly. Missing the following keys: %s", strings.Join(keys, ", "))
		return cfg
	}
	st.logger.Logf("Configuration updated")
	return cfg
}

// ReportForDuty rebuilds the reporter from the current configuration and
// performs the announce handshake. The outcome is only logged.
func (s *Service) ReportForDuty(ctx context.Context) bool {
	return s.announce(ctx, s.swap(s.state.Load().cfg))
}

func (s *Service) announce(ctx context.Context, st *state) bool {
	app, ok := st.reporter.Announce(context.WithoutCancel(ctx))
	if !ok {
		st.logger.Errorf("Failed to report for duty, your application failed to authenticate correctly with %s", st.cfg.Host)
		return false
	}
	st.logger.Logf("Configured correctly and ready to handle exceptions for '%s'", app)
	return true
}

// Notify builds and delivers a report for err regardless of the ignore
// configuration. It returns true only when the event was delivered.
func (s *Service) Notify(ctx context.Context, err error, data crashlog.Data) bool {
	return s.Deliver(ctx, &Request{Err: err, Data: data}) == crashlog.OutcomeDelivered
}

// NotifyOrIgnore is Notify, except that ignored exceptions are skipped silently.
func (s *Service) NotifyOrIgnore(ctx context.Context, err error, data crashlog.Data) bool {
	return s.Deliver(ctx, &Request{Err: err, Data: data, HonorIgnored: true}) == crashlog.OutcomeDelivered
}

// Deliver runs the pipeline for req and returns its outcome. It never panics,
// even on host errors whose methods do, and the delivery is not cancelled
// together with ctx. A panic is reported with the outcome of the stage it
// happened in.
func (s *Service) Deliver(ctx context.Context, req *Request) (outcome crashlog.Outcome) {
	st := s.state.Load()
	stage := crashlog.OutcomeBuildFailed
	defer func() {
		if rvr := recover(); rvr != nil {
			outcome = stage
			switch stage {
			case crashlog.OutcomeBuildFailed:
				st.logger.Errorf("Failed to build event: %v", rvr)
				logException(st.logger, req.Err, nil)
			case crashlog.OutcomeUndelivered:
				st.logger.Errorf("Failed to send event to CrashLog: %v", rvr)
				logException(st.logger, req.Err, nil)
			}
		}
		s.metrics.notifications.WithLabelValues(outcome.String()).Inc()
	}()
	return s.deliver(context.WithoutCancel(ctx), st, req, &stage)
}

// deliver runs the pipeline, keeping stage at the outcome a failure at the
// current step would have.
func (s *Service) deliver(ctx context.Context, st *state, req *Request, stage *crashlog.Outcome) crashlog.Outcome {
	if req.HonorIgnored && st.cfg.Ignored(req.Err) {
		return crashlog.OutcomeIgnored
	}

	if !live(st.cfg) {
		if keys := st.cfg.InvalidKeys(); len(keys) > 0 {
			st.logger.Debugf("Not sending event, missing the following keys: %s", strings.Join(keys, ", "))
		} else {
			st.logger.Debugf("Not sending event, release stage '%s' is not reporting", st.cfg.Stage)
		}
		return crashlog.OutcomeNotLive
	}

	p, err := s.builder.Build(req.Err, st.cfg, req.Data)
	if err != nil {
		st.logger.Errorf("Failed to build event: %v", err)
		logException(st.logger, req.Err, nil)
		return crashlog.OutcomeBuildFailed
	}

	*stage = crashlog.OutcomeUndelivered
	res := st.reporter.Deliver(ctx, p)
	if !res.Delivered {
		st.logger.Errorf("Failed to send event to CrashLog")
		logException(st.logger, req.Err, p.Backtrace.Lines())
		return crashlog.OutcomeUndelivered
	}

	*stage = crashlog.OutcomeDelivered
	st.logger.Logf("Event sent to CrashLog")
	if res.LocationID != "" {
		st.logger.Logf("Event URL: %s", st.cfg.LocateURL(res.LocationID))
	}
	return crashlog.OutcomeDelivered
}

// logException writes the exception itself so it is not lost when it could
// not be reported. Panics of the exception's own methods are logged instead.
func logException(logger crashlog.Logger, err error, lines []string) {
	if err == nil {
		return
	}
	defer func() {
		if rvr := recover(); rvr != nil {
			logger.Errorf("Failed to describe exception: %v", rvr)
		}
	}()
	if lines == nil {
		lines = crashlog.TraceLines(err)
	}
	logger.Errorf("%s: %s\n%s", crashlog.ClassName(err), err.Error(), strings.Join(lines, "\n"))
}

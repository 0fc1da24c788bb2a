// Package crashlog reports application errors to CrashLog.
//
// The package keeps one process-wide client. Configure it once at startup:
//
//	crashlog.Configure(ctx, true, func(cfg *crashlog.Configuration) {
//		cfg.APIKey = os.Getenv("CRASHLOG_API_KEY")
//		cfg.ReleaseStages = []string{"production", "staging"}
//	})
//
// and report errors where they are handled:
//
//	if err := charge(order); err != nil {
//		crashlog.Notify(ctx, err, crashlog.Data{Context: map[string]any{"user_id": user.ID}})
//	}
//
// Reporting never panics and never returns an error: the result is a single
// boolean and the details go to the configured logger.
package crashlog

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	core "github.com/vk-rv/crashlog/internal/crashlog"
	"github.com/vk-rv/crashlog/internal/recoverer"
	"github.com/vk-rv/crashlog/internal/svc/notify"
)

type (
	// Configuration holds every setting of the client.
	Configuration = core.Configuration
	// BacktraceFilters trims backtraces before they are sent.
	BacktraceFilters = core.BacktraceFilters
	// Exception is an error with an explicit class name, categories and backtrace.
	Exception = core.Exception
	// Data is caller supplied information attached to a notification.
	Data = core.Data
	// Outcome is the fine-grained result of a notification.
	Outcome = core.Outcome
)

// Notification outcomes.
const (
	OutcomeDelivered   = core.OutcomeDelivered
	OutcomeIgnored     = core.OutcomeIgnored
	OutcomeNotLive     = core.OutcomeNotLive
	OutcomeBuildFailed = core.OutcomeBuildFailed
	OutcomeUndelivered = core.OutcomeUndelivered
)

type client struct {
	svc       *notify.Service
	recoverer *recoverer.Middleware
}

func newClient(svc *notify.Service) *client {
	if svc == nil {
		svc = notify.NewService(nil, notify.Options{Registerer: prometheus.NewRegistry()})
	}
	return &client{
		svc:       svc,
		recoverer: recoverer.New(svc, svc.Registerer()),
	}
}

var defaultClient atomic.Pointer[client]

func current() *client {
	if c := defaultClient.Load(); c != nil {
		return c
	}
	c := newClient(nil)
	if defaultClient.CompareAndSwap(nil, c) {
		return c
	}
	return defaultClient.Load()
}

// Default returns the process-wide notification service, creating it with
// the default configuration on first use.
func Default() *notify.Service {
	return current().svc
}

// SetDefault replaces the process-wide notification service. Its metrics,
// along with those of Middleware, are served by Gatherer.
func SetDefault(svc *notify.Service) {
	defaultClient.Store(newClient(svc))
}

// Reset drops the process-wide client, the next call starts from the
// default configuration.
func Reset() {
	defaultClient.Store(nil)
}

// Gatherer exposes the metrics of the process-wide client.
func Gatherer() prometheus.Gatherer {
	return current().svc.Gatherer()
}

// Notify sends err to CrashLog even if its class is ignored.
// It returns true when the event was delivered.
func Notify(ctx context.Context, err error, data Data) bool {
	return Default().Notify(ctx, err, data)
}

// NotifyOrIgnore sends err to CrashLog unless its class or one of its
// categories is ignored.
func NotifyOrIgnore(ctx context.Context, err error, data Data) bool {
	return Default().NotifyOrIgnore(ctx, err, data)
}

// Configure applies fn to the configuration and, when announce is set,
// performs the announce handshake right away.
func Configure(ctx context.Context, announce bool, fn func(cfg *Configuration)) *Configuration {
	return Default().Configure(ctx, announce, fn)
}

// ReportForDuty announces the application to CrashLog and logs the result.
func ReportForDuty(ctx context.Context) bool {
	return Default().ReportForDuty(ctx)
}

// Config returns the current configuration. It must not be modified.
func Config() *Configuration {
	return Default().Configuration()
}

// Ignored reports whether err would be skipped by NotifyOrIgnore.
func Ignored(err error) bool {
	return Default().Ignored(err)
}

// Live reports whether events are sent at all.
func Live() bool {
	return Default().Live()
}

// Middleware reports panics of next and answers them with 500.
func Middleware(next http.Handler) http.Handler {
	return current().recoverer.Handler(next)
}

// NewException returns an exception of the given class with the caller's backtrace.
func NewException(class, message string) *Exception {
	return &Exception{Class: class, Message: message, Trace: core.CaptureStack(1)}
}

// SplitData separates the reserved "context" key of a free-form map from the
// rest of the data without modifying m.
func SplitData(m map[string]any) Data {
	return core.SplitData(m)
}

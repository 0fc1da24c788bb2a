// Package recoverer reports panics of HTTP handlers to CrashLog.
package recoverer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/vk-rv/crashlog/internal/crashlog"
)

// PanicClass is the exception class of panics with a non-error value.
const PanicClass = "panic"

// Notifier reports recovered panics.
type Notifier interface {
	NotifyOrIgnore(ctx context.Context, err error, data crashlog.Data) bool
	// Logger returns the currently configured logger, nil when unset.
	Logger() *slog.Logger
}

// Middleware recovers from panics in HTTP handlers and reports them.
type Middleware struct {
	notifier Notifier
	metrics  *recoverMetrics
}

// recoverMetrics holds metrics for the recover middleware.
type recoverMetrics struct {
	panicRecoversTotal *prometheus.CounterVec
}

// New is a constructor of Middleware. Middlewares sharing a registerer
// share their counters.
func New(notifier Notifier, r prometheus.Registerer) *Middleware {
	panics := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crashlog_http_panic_recovers_total",
		Help: "Total number of HTTP panics recovered.",
	}, []string{"path", "method"})
	if err := r.Register(panics); err != nil {
		are := prometheus.AlreadyRegisteredError{}
		if !errors.As(err, &are) {
			panic(err)
		}
		panics = are.ExistingCollector.(*prometheus.CounterVec)
	}
	return &Middleware{
		notifier: notifier,
		metrics:  &recoverMetrics{panicRecoversTotal: panics},
	}
}

func (mw *Middleware) logger() *slog.Logger {
	if l := mw.notifier.Logger(); l != nil {
		return l
	}
	return slog.Default()
}

// Handler wraps next so that its panics are reported and answered with 500.
func (mw *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				mw.metrics.panicRecoversTotal.WithLabelValues(r.Pattern, r.Method).Inc()
				if vrvr, ok := rvr.(error); ok && errors.Is(vrvr, http.ErrAbortHandler) {
					// we don't recover http.ErrAbortHandler so the response
					// to the client is aborted, this should not be reported
					panic(rvr)
				}

				exc := exceptionFromPanic(rvr)
				if !mw.notifier.NotifyOrIgnore(r.Context(), exc, requestData(r)) {
					mw.logger().Debug("panic was not reported", slog.String("class", exc.Class))
				}

				if r.Header.Get("Connection") != "Upgrade" {
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// exceptionFromPanic turns a recovered value into an exception carrying the
// stack of the panicking goroutine.
func exceptionFromPanic(rvr any) *crashlog.Exception {
	exc := &crashlog.Exception{Trace: crashlog.CaptureStack(2)}
	if err, ok := rvr.(error); ok {
		exc.Cause = err
		exc.Class = crashlog.ClassName(err)
		exc.Message = err.Error()
		exc.Parents = append([]string{PanicClass}, crashlog.Categories(err)...)
		return exc
	}
	exc.Class = PanicClass
	exc.Message = fmt.Sprint(rvr)
	return exc
}

func requestData(r *http.Request) crashlog.Data {
	return crashlog.Data{
		Extra: map[string]any{
			"request": map[string]any{
				"method":      r.Method,
				"url":         r.URL.String(),
				"pattern":     r.Pattern,
				"remote_addr": r.RemoteAddr,
				"user_agent":  r.UserAgent(),
			},
		},
	}
}

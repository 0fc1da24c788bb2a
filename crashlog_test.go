package crashlog_test

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk-rv/crashlog"
	"github.com/vk-rv/crashlog/internal/codec"
	core "github.com/vk-rv/crashlog/internal/crashlog"
	"github.com/vk-rv/crashlog/internal/mock"
	"github.com/vk-rv/crashlog/internal/reporter"
	"github.com/vk-rv/crashlog/internal/svc/notify"
	"go.opentelemetry.io/otel/trace/noop"
)

// installService replaces the process-wide client; tests using it must not run in parallel.
func installService(t *testing.T, tr *mock.Transport) {
	t.Helper()

	cfg := core.NewConfiguration()
	cfg.Logger = slog.New(slog.DiscardHandler)
	registry := prometheus.NewRegistry()
	reporterMetrics := reporter.NewMetrics(registry)
	svc := notify.NewService(cfg, notify.Options{
		Registerer: registry,
		NewReporter: func(cfg *core.Configuration, logger core.Logger) core.Reporter {
			return reporter.New(cfg, tr, codec.JSON{}, reporter.Options{
				Logger:         logger,
				Metrics:        reporterMetrics,
				TracerProvider: noop.NewTracerProvider(),
			})
		},
	})
	crashlog.SetDefault(svc)
	t.Cleanup(crashlog.Reset)
}

func TestNotify(t *testing.T) {
	tr := mock.Respond(http.StatusOK, `{"id":"abc123"}`)
	installService(t, tr)

	assert.False(t, crashlog.Live())
	assert.False(t, crashlog.Notify(t.Context(), crashlog.NewException("RuntimeError", "boom"), crashlog.Data{}))
	assert.Empty(t, tr.Calls(), "no api key means nothing is sent")

	crashlog.Configure(t.Context(), false, func(cfg *crashlog.Configuration) {
		cfg.APIKey = "key-123"
		cfg.IgnoredExceptions = []string{"NotFound"}
	})
	require.True(t, crashlog.Live())

	assert.True(t, crashlog.Notify(t.Context(), crashlog.NewException("RuntimeError", "boom"),
		crashlog.SplitData(map[string]any{"context": map[string]any{"user_id": 42}, "order": 7})))
	assert.False(t, crashlog.NotifyOrIgnore(t.Context(), crashlog.NewException("NotFound", "gone"), crashlog.Data{}))
	assert.True(t, crashlog.Ignored(crashlog.NewException("NotFound", "gone")))

	calls := tr.Calls()
	require.Len(t, calls, 1)
	body := string(calls[0].Body)
	assert.Contains(t, body, `"context":{"user_id":42}`)
	assert.Contains(t, body, `"data":{"order":7}`)
	assert.Equal(t, "key-123", crashlog.Config().APIKey)
}

func TestReportForDuty(t *testing.T) {
	tr := mock.Respond(http.StatusOK, `{"application_name":"Billing"}`)
	installService(t, tr)

	crashlog.Configure(t.Context(), false, func(cfg *crashlog.Configuration) {
		cfg.APIKey = "key-123"
	})

	assert.True(t, crashlog.ReportForDuty(t.Context()))
	assert.Len(t, tr.Calls(), 1)
}

func TestMiddleware(t *testing.T) {
	tr := mock.Respond(http.StatusOK, `{"id":"abc123"}`)
	installService(t, tr)
	crashlog.Configure(t.Context(), false, func(cfg *crashlog.Configuration) {
		cfg.APIKey = "key-123"
	})

	handler := crashlog.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("out of stock")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/orders", http.NoBody))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	calls := tr.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, string(calls[0].Body), `"message":"out of stock"`)
	assert.Contains(t, string(calls[0].Body), `"/orders"`)
}

func TestGatherer(t *testing.T) {
	tr := mock.Respond(http.StatusOK, `{"id":"abc123"}`)
	installService(t, tr)
	crashlog.Configure(t.Context(), false, func(cfg *crashlog.Configuration) {
		cfg.APIKey = "key-123"
	})

	require.True(t, crashlog.Notify(t.Context(), crashlog.NewException("RuntimeError", "boom"), crashlog.Data{}))
	crashlog.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("out of stock")
	})).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/orders", http.NoBody))

	expected := `
# HELP crashlog_notifications_total Total number of notifications by outcome.
# TYPE crashlog_notifications_total counter
crashlog_notifications_total{outcome="delivered"} 2
# HELP crashlog_reporter_deliveries_total Total number of event delivery attempts by result.
# TYPE crashlog_reporter_deliveries_total counter
crashlog_reporter_deliveries_total{result="success"} 2
`
	require.NoError(t, testutil.GatherAndCompare(crashlog.Gatherer(), strings.NewReader(expected),
		"crashlog_notifications_total", "crashlog_reporter_deliveries_total"))

	families, err := crashlog.Gatherer().Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	assert.Contains(t, names, "crashlog_http_panic_recovers_total")
}

func TestSetDefault_Twice(t *testing.T) {
	installService(t, mock.Respond(http.StatusOK, `{}`))
	svc := crashlog.Default()

	assert.NotPanics(t, func() { crashlog.SetDefault(svc) })
	assert.Same(t, svc, crashlog.Default())
}

func TestMiddleware_UsesConfiguredLogger(t *testing.T) {
	installService(t, mock.Respond(http.StatusOK, `{}`))

	logs := &bytes.Buffer{}
	crashlog.Configure(t.Context(), false, func(cfg *crashlog.Configuration) {
		cfg.Logger = slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	})

	crashlog.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("out of stock")
	})).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/orders", http.NoBody))

	assert.Contains(t, logs.String(), "panic was not reported")
}

func TestReset(t *testing.T) {
	crashlog.Configure(t.Context(), false, func(cfg *crashlog.Configuration) {
		cfg.Logger = slog.New(slog.DiscardHandler)
		cfg.Stage = "qa"
	})
	require.Equal(t, "qa", crashlog.Config().Stage)

	crashlog.Reset()

	assert.Equal(t, "production", crashlog.Config().Stage)
	assert.Empty(t, crashlog.Config().APIKey)
	assert.NotNil(t, crashlog.Gatherer())
}

func TestNewException(t *testing.T) {
	t.Parallel()

	exc := crashlog.NewException("RuntimeError", "boom")

	assert.Equal(t, "RuntimeError", exc.ExceptionClass())
	assert.Equal(t, "boom", exc.Error())
	require.NotEmpty(t, exc.Backtrace())
	assert.True(t, strings.Contains(exc.Backtrace()[0], "TestNewException"), exc.Backtrace()[0])
}

func TestSplitData(t *testing.T) {
	t.Parallel()

	m := map[string]any{"context": map[string]any{"user_id": 42}, "order": 7}

	data := crashlog.SplitData(m)

	assert.Equal(t, map[string]any{"user_id": 42}, data.Context)
	assert.Equal(t, map[string]any{"order": 7}, data.Extra)
	assert.Contains(t, m, "context", "caller map must not be modified")
}

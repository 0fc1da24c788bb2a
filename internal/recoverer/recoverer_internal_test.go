package recoverer

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk-rv/crashlog/internal/crashlog"
)

const testPattern = "/api/orders"

type notified struct {
	err  error
	data crashlog.Data
}

type recordingNotifier struct {
	mu     sync.Mutex
	calls  []notified
	logger *slog.Logger
	ok     bool
}

func (n *recordingNotifier) Logger() *slog.Logger {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.logger
}

func (n *recordingNotifier) setLogger(logger *slog.Logger) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.logger = logger
}

func (n *recordingNotifier) NotifyOrIgnore(_ context.Context, err error, data crashlog.Data) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notified{err: err, data: data})
	return n.ok
}

func (n *recordingNotifier) notified() []notified {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notified(nil), n.calls...)
}

func newTestMiddleware() (*Middleware, *recordingNotifier) {
	n := &recordingNotifier{logger: slog.New(slog.DiscardHandler), ok: true}
	return New(n, prometheus.NewRegistry()), n
}

func newRequest(method string) *http.Request {
	req := httptest.NewRequest(method, testPattern, http.NoBody)
	req.Pattern = testPattern
	return req
}

func TestRecoverMiddleware_NormalHandler(t *testing.T) {
	t.Parallel()

	mw, n := newTestMiddleware()

	handlerCalled := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		w.WriteHeader(http.StatusOK)
		_, err := w.Write([]byte("OK"))
		assert.NoError(t, err)
	})

	w := httptest.NewRecorder()
	mw.Handler(handler).ServeHTTP(w, newRequest(http.MethodGet))

	assert.True(t, handlerCalled, "handler should be called")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, n.notified())

	metricValue := testutil.ToFloat64(mw.metrics.panicRecoversTotal.WithLabelValues(testPattern, http.MethodGet))
	assert.Zero(t, metricValue, "no panics should be recovered")
}

func TestRecoverMiddleware_PanicRecovery_StringPanic(t *testing.T) {
	t.Parallel()

	mw, n := newTestMiddleware()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic string")
	})

	w := httptest.NewRecorder()
	mw.Handler(handler).ServeHTTP(w, newRequest(http.MethodGet))

	assert.Equal(t, http.StatusInternalServerError, w.Code)

	calls := n.notified()
	require.Len(t, calls, 1)
	assert.Equal(t, PanicClass, crashlog.ClassName(calls[0].err))
	assert.Equal(t, "test panic string", calls[0].err.Error())
	assert.NotEmpty(t, crashlog.TraceLines(calls[0].err))

	request, ok := calls[0].data.Extra["request"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, http.MethodGet, request["method"])
	assert.Equal(t, testPattern, request["pattern"])

	metricValue := testutil.ToFloat64(mw.metrics.panicRecoversTotal.WithLabelValues(testPattern, http.MethodGet))
	assert.InEpsilon(t, 1.0, metricValue, 0.1, "panic should be recovered and counted")
}

func TestRecoverMiddleware_PanicRecovery_ErrorPanic(t *testing.T) {
	t.Parallel()

	mw, n := newTestMiddleware()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(io.EOF)
	})

	w := httptest.NewRecorder()
	mw.Handler(handler).ServeHTTP(w, newRequest(http.MethodPost))

	assert.Equal(t, http.StatusInternalServerError, w.Code)

	calls := n.notified()
	require.Len(t, calls, 1)
	assert.ErrorIs(t, calls[0].err, io.EOF)
	assert.Equal(t, "errors.errorString", crashlog.ClassName(calls[0].err))
	assert.Contains(t, crashlog.Categories(calls[0].err), PanicClass)

	metricValue := testutil.ToFloat64(mw.metrics.panicRecoversTotal.WithLabelValues(testPattern, http.MethodPost))
	assert.InEpsilon(t, 1.0, metricValue, 0.1, "panic should be recovered and counted")
}

func TestRecoverMiddleware_ErrAbortHandler_IsPanic(t *testing.T) {
	t.Parallel()

	mw, n := newTestMiddleware()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	})

	w := httptest.NewRecorder()

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		mw.Handler(handler).ServeHTTP(w, newRequest(http.MethodGet))
	})
	assert.Empty(t, n.notified())
}

func TestRecoverMiddleware_WithUpgradeConnection(t *testing.T) {
	t.Parallel()

	mw, n := newTestMiddleware()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	req := newRequest(http.MethodGet)
	req.Header.Set("Connection", "Upgrade")
	w := httptest.NewRecorder()

	mw.Handler(handler).ServeHTTP(w, req)

	assert.Empty(t, w.Body.String(), "should not write response for Upgrade connections")
	assert.Len(t, n.notified(), 1)
}

func TestRecoverMiddleware_MultipleMetrics(t *testing.T) {
	t.Parallel()

	mw, _ := newTestMiddleware()

	panicHandler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	}))

	tests := []struct {
		name    string
		method  string
		pattern string
	}{
		{"GET /api/users", http.MethodGet, "/api/users"},
		{"POST /api/users", http.MethodPost, "/api/users"},
		{"PUT /api/users/1", http.MethodPut, "/api/users/1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.pattern, http.NoBody)
			req.Pattern = tt.pattern
			w := httptest.NewRecorder()

			panicHandler.ServeHTTP(w, req)

			metricValue := testutil.ToFloat64(mw.metrics.panicRecoversTotal.WithLabelValues(tt.pattern, tt.method))
			assert.InEpsilon(t, 1.0, metricValue, 0.1, "panic should be counted for %s %s", tt.method, tt.pattern)
		})
	}
}

func TestRecoverMiddleware_UsesCurrentLogger(t *testing.T) {
	t.Parallel()

	n := &recordingNotifier{}
	mw := New(n, prometheus.NewRegistry())
	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("not reported")
	}))

	logs := &bytes.Buffer{}
	n.setLogger(slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug})))

	handler.ServeHTTP(httptest.NewRecorder(), newRequest(http.MethodGet))

	assert.Contains(t, logs.String(), "panic was not reported")
	assert.Contains(t, logs.String(), "class=panic")
}

func TestRecoverMiddleware_SharedRegisterer(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	n := &recordingNotifier{ok: true}
	first := New(n, registry)

	var second *Middleware
	require.NotPanics(t, func() { second = New(n, registry) })

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})
	first.Handler(handler).ServeHTTP(httptest.NewRecorder(), newRequest(http.MethodGet))
	second.Handler(handler).ServeHTTP(httptest.NewRecorder(), newRequest(http.MethodGet))

	metricValue := testutil.ToFloat64(first.metrics.panicRecoversTotal.WithLabelValues(testPattern, http.MethodGet))
	assert.InEpsilon(t, 2.0, metricValue, 0.1, "both middlewares should count on the same counter")
}

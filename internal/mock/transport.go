// Package mock contains mock implementations of various interfaces.
package mock

import (
	"context"
	"net/http"
	"sync"

	"github.com/vk-rv/crashlog/internal/crashlog"
)

// PostCall records one call of Transport.Post.
type PostCall struct {
	Header http.Header
	URL    string
	Body   []byte
}

// Transport is a mock implementation of crashlog.Transport.
// It records every call before invoking PostFn.
type Transport struct {
	PostFn func(ctx context.Context, url string, header http.Header, body []byte) (*crashlog.Response, error)

	mu    sync.Mutex
	calls []PostCall
}

func (m *Transport) Post(ctx context.Context, url string, header http.Header, body []byte) (*crashlog.Response, error) {
	m.mu.Lock()
	m.calls = append(m.calls, PostCall{URL: url, Header: header.Clone(), Body: body})
	m.mu.Unlock()
	return m.PostFn(ctx, url, header, body)
}

// Calls returns the recorded calls.
func (m *Transport) Calls() []PostCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PostCall(nil), m.calls...)
}

// Respond returns a Transport that always answers with status and body.
func Respond(status int, body string) *Transport {
	return &Transport{
		PostFn: func(context.Context, string, http.Header, []byte) (*crashlog.Response, error) {
			return &crashlog.Response{StatusCode: status, Body: []byte(body)}, nil
		},
	}
}

// Fail returns a Transport that always fails with err.
func Fail(err error) *Transport {
	return &Transport{
		PostFn: func(context.Context, string, http.Header, []byte) (*crashlog.Response, error) {
			return nil, err
		},
	}
}

package mock

import (
	"context"

	"github.com/vk-rv/crashlog/internal/crashlog"
)

// Reporter is a mock implementation of crashlog.Reporter.
type Reporter struct {
	AnnounceFn func(ctx context.Context) (string, bool)
	DeliverFn  func(ctx context.Context, p *crashlog.Payload) crashlog.Result
}

func (m *Reporter) Announce(ctx context.Context) (string, bool) {
	return m.AnnounceFn(ctx)
}

func (m *Reporter) Deliver(ctx context.Context, p *crashlog.Payload) crashlog.Result {
	return m.DeliverFn(ctx, p)
}

// SystemCollector is a mock implementation of crashlog.SystemCollector.
type SystemCollector struct {
	CollectFn func() crashlog.SystemInformation
}

func (m *SystemCollector) Collect() crashlog.SystemInformation {
	return m.CollectFn()
}

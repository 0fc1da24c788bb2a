// Package payload assembles the report sent for a single notification.
package payload

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mohae/deepcopy"
	"github.com/vk-rv/crashlog/internal/crashlog"
)

// Builder builds payloads. It is safe for concurrent use.
type Builder struct {
	sys   crashlog.SystemCollector
	now   func() time.Time
	newID func() string
}

// NewBuilder is a constructor of Builder.
func NewBuilder(sys crashlog.SystemCollector, now func() time.Time) *Builder {
	return &Builder{
		sys:   sys,
		now:   now,
		newID: func() string { return uuid.NewString() },
	}
}

// Build composes the payload for err. Missing optional inputs produce empty
// sections; only a nil err fails, with crashlog.ErrNilException.
func (b *Builder) Build(err error, cfg *crashlog.Configuration, data crashlog.Data) (*crashlog.Payload, error) {
	if err == nil {
		return nil, fmt.Errorf("build payload: %w", crashlog.ErrNilException)
	}

	lines := cfg.BacktraceFilters.FilterLines(crashlog.TraceLines(err))
	bt := cfg.BacktraceFilters.Truncate(crashlog.ParseBacktrace(lines))

	p := &crashlog.Payload{
		EventID:      b.newID(),
		APIKey:       cfg.APIKey,
		ReleaseStage: cfg.Stage,
		Notifier:     crashlog.DefaultNotifierInfo(),
		Event: crashlog.EventInfo{
			Timestamp: b.now().UTC(),
			Type:      crashlog.ClassName(err),
			Message:   err.Error(),
		},
		Backtrace: bt,
		Context:   copyMap(data.Context),
		Data:      copyMap(data.Extra),
	}
	if b.sys != nil {
		p.Environment = b.sys.Collect()
	}

	return p, nil
}

// copyMap deep copies m so later changes by the caller do not leak into the payload.
func copyMap(m map[string]any) map[string]any {
	if len(m) == 0 {
		return map[string]any{}
	}
	cp, ok := deepcopy.Copy(m).(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return cp
}

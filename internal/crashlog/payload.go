package crashlog

import (
	"errors"
	"maps"
	"reflect"
	"time"
)

// Notifier identification sent with every payload.
const (
	NotifierName     = "crashlog-go"
	NotifierVersion  = "1.0.0"
	NotifierLanguage = "go"
	NotifierURL      = "https://github.com/vk-rv/crashlog"
)

// ContextKey is the reserved key of a free-form data map that holds user context.
const ContextKey = "context"

// ErrNilException is returned when a payload is requested for a nil error.
var ErrNilException = errors.New("crashlog: exception is nil")

// Data is caller supplied information attached to a notification.
type Data struct {
	// Context is the user context section of the report.
	Context map[string]any
	// Extra holds every other piece of caller data.
	Extra map[string]any
}

// SplitData separates the reserved context key of a free-form map from the
// rest of the data. The map passed in is not modified.
func SplitData(m map[string]any) Data {
	d := Data{Extra: maps.Clone(m)}
	if d.Extra == nil {
		return d
	}
	if ctx, ok := d.Extra[ContextKey]; ok {
		delete(d.Extra, ContextKey)
		if c, ok := stringKeyedMap(ctx); ok {
			d.Context = c
		} else if ctx != nil {
			d.Context = map[string]any{ContextKey: ctx}
		}
	}
	return d
}

// stringKeyedMap converts any map whose key kind is string, such as
// map[string]string or a named map type, to a map[string]any.
func stringKeyedMap(v any) (map[string]any, bool) {
	if m, ok := v.(map[string]any); ok {
		return m, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	if rv.IsNil() {
		return nil, true
	}
	m := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		m[iter.Key().String()] = iter.Value().Interface()
	}
	return m, true
}

// SystemInformation describes the environment the process runs in.
// Facts that could not be determined are left empty.
type SystemInformation struct {
	Hostname       string `json:"hostname,omitempty"`
	OS             string `json:"os,omitempty"`
	Arch           string `json:"arch,omitempty"`
	RuntimeName    string `json:"runtime_name,omitempty"`
	RuntimeVersion string `json:"runtime_version,omitempty"`
	Executable     string `json:"executable,omitempty"`
	NumCPU         int    `json:"num_cpu,omitempty"`
	GoMaxProcs     int    `json:"go_maxprocs,omitempty"`
	PID            int    `json:"pid,omitempty"`
}

// NotifierInfo identifies the client library.
type NotifierInfo struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Language string `json:"language"`
	URL      string `json:"url"`
}

// DefaultNotifierInfo identifies this client.
func DefaultNotifierInfo() NotifierInfo {
	return NotifierInfo{
		Name:     NotifierName,
		Version:  NotifierVersion,
		Language: NotifierLanguage,
		URL:      NotifierURL,
	}
}

// EventInfo describes the reported exception.
type EventInfo struct {
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
}

// Payload is the report sent to the collection endpoint.
// It is built once per notification and never modified afterwards.
type Payload struct {
	Context      map[string]any    `json:"context"`
	Data         map[string]any    `json:"data"`
	Notifier     NotifierInfo      `json:"notifier"`
	Event        EventInfo         `json:"event"`
	EventID      string            `json:"event_id"`
	APIKey       string            `json:"api_key"`
	ReleaseStage string            `json:"release_stage"`
	Backtrace    Backtrace         `json:"backtrace"`
	Environment  SystemInformation `json:"environment"`
}

// Result is the outcome of a single delivery attempt.
type Result struct {
	// LocationID identifies the stored event, it may be empty on success.
	LocationID string
	Delivered  bool
}

// Outcome is the fine-grained result of a notification.
type Outcome uint8

const (
	OutcomeDelivered Outcome = iota + 1
	OutcomeIgnored
	OutcomeNotLive
	OutcomeBuildFailed
	OutcomeUndelivered
)

var outcomeNames = map[Outcome]string{
	OutcomeDelivered:   "delivered",
	OutcomeIgnored:     "ignored",
	OutcomeNotLive:     "not_live",
	OutcomeBuildFailed: "build_failed",
	OutcomeUndelivered: "undelivered",
}

func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return "unknown"
}

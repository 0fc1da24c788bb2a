// Package crashlog holds the domain types of the CrashLog client: configuration,
// backtraces, payloads, delivery results and the collaborator interfaces the
// notification pipeline depends on.
package crashlog

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/samber/lo"
)

// Names of configuration settings reported by InvalidKeys.
const (
	KeyAPIKey           = "api_key"
	KeyHost             = "host"
	KeyBacktraceFilters = "backtrace_filters"
)

// Supported payload encodings.
const (
	EncodingJSON = "json"
	EncodingCBOR = "cbor"
)

// ProjectRootPlaceholder replaces the project root in backtrace lines.
const ProjectRootPlaceholder = "[PROJECT_ROOT]"

// Configuration holds every setting of the client.
// It is created once per process and replaced as a whole on reconfiguration,
// readers must treat a *Configuration they obtained as read-only.
type Configuration struct {
	// Logger receives the client's log lines. Nil means stdout.
	Logger *slog.Logger `env:"-"`

	APIKey string `env:"CRASHLOG_API_KEY"`
	// Secret signs request bodies when set.
	Secret string `env:"CRASHLOG_SECRET"`

	Scheme           string `env:"CRASHLOG_SCHEME"            env-default:"https"`
	Host             string `env:"CRASHLOG_HOST"              env-default:"stdin.crashlog.io"`
	EventsEndpoint   string `env:"CRASHLOG_EVENTS_ENDPOINT"   env-default:"/events"`
	AnnounceEndpoint string `env:"CRASHLOG_ANNOUNCE_ENDPOINT" env-default:"/announce"`
	LocateURLBase    string `env:"CRASHLOG_LOCATE_URL"        env-default:"https://crashlog.io/locate/"`
	Encoding         string `env:"CRASHLOG_ENCODING"          env-default:"json"`
	Port             int    `env:"CRASHLOG_PORT"              env-default:"443"`

	// Stage is the release stage the process currently runs in.
	Stage string `env:"CRASHLOG_STAGE" env-default:"production"`
	// ReleaseStages restricts reporting to the listed stages. Empty means every stage.
	ReleaseStages []string `env:"CRASHLOG_RELEASE_STAGES"`
	// IgnoredExceptions lists exception class or category names that NotifyOrIgnore skips.
	IgnoredExceptions []string `env:"CRASHLOG_IGNORED_EXCEPTIONS"`

	BacktraceFilters BacktraceFilters

	Timeout time.Duration `env:"CRASHLOG_TIMEOUT" env-default:"5s"`
}

// BacktraceFilters trims raw backtraces before and after parsing.
type BacktraceFilters struct {
	// ProjectRoot is replaced by ProjectRootPlaceholder in every line.
	ProjectRoot string `env:"CRASHLOG_PROJECT_ROOT"`
	// Ignore holds regular expressions, matching lines are dropped.
	Ignore []string `env:"CRASHLOG_BACKTRACE_IGNORE"`
	// MaxFrames caps the parsed backtrace depth. Zero disables the cap.
	MaxFrames int `env:"CRASHLOG_BACKTRACE_MAX_FRAMES" env-default:"0"`
}

// NewConfiguration returns a configuration with the default settings and no api key.
func NewConfiguration() *Configuration {
	return &Configuration{
		Scheme:           "https",
		Host:             "stdin.crashlog.io",
		Port:             443,
		EventsEndpoint:   "/events",
		AnnounceEndpoint: "/announce",
		LocateURLBase:    "https://crashlog.io/locate/",
		Encoding:         EncodingJSON,
		Stage:            "production",
		Timeout:          5 * time.Second,
	}
}

// LoadConfiguration reads the configuration from CRASHLOG_* environment variables.
func LoadConfiguration() (*Configuration, error) {
	cfg := &Configuration{}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("crashlog: read configuration from env: %w", err)
	}
	return cfg, nil
}

// Clone returns a copy of the configuration that shares no slices with c.
func (c *Configuration) Clone() *Configuration {
	clone := *c
	clone.ReleaseStages = slices.Clone(c.ReleaseStages)
	clone.IgnoredExceptions = slices.Clone(c.IgnoredExceptions)
	clone.BacktraceFilters.Ignore = slices.Clone(c.BacktraceFilters.Ignore)
	return &clone
}

// Valid reports whether every required setting is present and well-formed.
func (c *Configuration) Valid() bool {
	return len(c.InvalidKeys()) == 0
}

// InvalidKeys lists the required settings that are missing or malformed.
func (c *Configuration) InvalidKeys() []string {
	var keys []string
	if strings.TrimSpace(c.APIKey) == "" {
		keys = append(keys, KeyAPIKey)
	}
	if strings.TrimSpace(c.Host) == "" {
		keys = append(keys, KeyHost)
	}
	if _, err := c.BacktraceFilters.compile(); err != nil {
		keys = append(keys, KeyBacktraceFilters)
	}
	return keys
}

// Ignored reports whether a class or category declared anywhere along the
// exception's wrap chain is listed in IgnoredExceptions.
func (c *Configuration) Ignored(err error) bool {
	if err == nil || len(c.IgnoredExceptions) == 0 {
		return false
	}
	names := append(classNames(err), Categories(err)...)
	return lo.ContainsBy(names, func(name string) bool {
		return lo.Contains(c.IgnoredExceptions, name)
	})
}

// ReleaseStageEnabled reports whether the current stage should report.
func (c *Configuration) ReleaseStageEnabled() bool {
	if len(c.ReleaseStages) == 0 {
		return true
	}
	return lo.Contains(c.ReleaseStages, c.Stage)
}

// EventsURL is the endpoint events are delivered to.
func (c *Configuration) EventsURL() string {
	return c.endpointURL(c.EventsEndpoint)
}

// AnnounceURL is the endpoint of the announce handshake.
func (c *Configuration) AnnounceURL() string {
	return c.endpointURL(c.AnnounceEndpoint)
}

// LocateURL returns the URL where a delivered event can be looked up.
func (c *Configuration) LocateURL(locationID string) string {
	base := c.LocateURLBase
	if base == "" {
		base = NewConfiguration().LocateURLBase
	}
	return strings.TrimSuffix(base, "/") + "/" + url.PathEscape(locationID)
}

func (c *Configuration) endpointURL(path string) string {
	scheme := c.Scheme
	if scheme == "" {
		scheme = "https"
	}
	host := c.Host
	if c.Port != 0 && !isDefaultPort(scheme, c.Port) {
		host = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	}
	u := url.URL{Scheme: scheme, Host: host, Path: "/" + strings.TrimPrefix(path, "/")}
	return u.String()
}

func isDefaultPort(scheme string, port int) bool {
	return (scheme == "https" && port == 443) || (scheme == "http" && port == 80)
}

// compile compiles the ignore patterns.
func (f BacktraceFilters) compile() ([]*regexp.Regexp, error) {
	rgxs := make([]*regexp.Regexp, 0, len(f.Ignore))
	for _, pattern := range f.Ignore {
		rgx, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile backtrace filter %q: %w", pattern, err)
		}
		rgxs = append(rgxs, rgx)
	}
	return rgxs, nil
}

// FilterLines applies the line-level filters to a raw backtrace.
// Patterns that do not compile are skipped, the others still apply.
func (f BacktraceFilters) FilterLines(lines []string) []string {
	rgxs := make([]*regexp.Regexp, 0, len(f.Ignore))
	for _, pattern := range f.Ignore {
		if rgx, err := regexp.Compile(pattern); err == nil {
			rgxs = append(rgxs, rgx)
		}
	}
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if lo.SomeBy(rgxs, func(rgx *regexp.Regexp) bool { return rgx.MatchString(line) }) {
			continue
		}
		if f.ProjectRoot != "" {
			line = strings.ReplaceAll(line, f.ProjectRoot, ProjectRootPlaceholder)
		}
		out = append(out, line)
	}
	return out
}

// Truncate applies the depth cap to a parsed backtrace.
func (f BacktraceFilters) Truncate(bt Backtrace) Backtrace {
	if f.MaxFrames > 0 && len(bt) > f.MaxFrames {
		return bt[:f.MaxFrames]
	}
	return bt
}

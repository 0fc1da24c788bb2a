package crashlog_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/vk-rv/crashlog/internal/crashlog"
)

func TestParseLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line   string
		want   crashlog.Frame
		wantOK bool
	}{
		{line: "file.ext:123:in `method'", want: crashlog.Frame{File: "file.ext", Line: 123, Method: "method"}, wantOK: true},
		{line: "file.ext:123:in 'method'", want: crashlog.Frame{File: "file.ext", Line: 123, Method: "method"}, wantOK: true},
		{line: "  /app/models/user.rb:9  ", want: crashlog.Frame{File: "/app/models/user.rb", Line: 9}, wantOK: true},
		{line: "C:/app/main.go:4:in `main.main'", want: crashlog.Frame{File: "C:/app/main.go", Line: 4, Method: "main.main"}, wantOK: true},
		{line: "/app/x.go:1:in `(*T).Method'", want: crashlog.Frame{File: "/app/x.go", Line: 1, Method: "(*T).Method"}, wantOK: true},
		{line: ""},
		{line: "garbage"},
		{line: "file.ext:abc:in `method'"},
		{line: ":12:in `method'"},
		{line: "file.ext:99999999999999999999999"},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			t.Parallel()

			got, ok := crashlog.ParseLine(tt.line)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseBacktrace(t *testing.T) {
	t.Parallel()

	lines := []string{
		"app/a.rb:1:in `first'",
		"not a frame",
		"app/b.rb:2:in `second'",
		"",
		"app/c.rb:3",
	}

	want := crashlog.Backtrace{
		{File: "app/a.rb", Line: 1, Method: "first"},
		{File: "app/b.rb", Line: 2, Method: "second"},
		{File: "app/c.rb", Line: 3},
	}
	if diff := cmp.Diff(want, crashlog.ParseBacktrace(lines)); diff != "" {
		t.Errorf("ParseBacktrace() mismatch (-want +got):\n%s", diff)
	}

	assert.Empty(t, crashlog.ParseBacktrace(nil))
}

func TestBacktrace_LinesRoundTrip(t *testing.T) {
	t.Parallel()

	bt := crashlog.Backtrace{
		{File: "/app/a.go", Line: 10, Method: "pkg.A"},
		{File: "/app/b.go", Line: 20},
	}

	if diff := cmp.Diff(bt, crashlog.ParseBacktrace(bt.Lines())); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

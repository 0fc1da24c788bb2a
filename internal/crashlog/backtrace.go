package crashlog

import (
	"regexp"
	"strconv"
	"strings"
)

// Frame is one parsed backtrace entry.
type Frame struct {
	File   string `json:"file"`
	Method string `json:"method"`
	Line   int    `json:"number"`
}

// Backtrace is an ordered list of frames, top frame first.
type Backtrace []Frame

// lineRegexp matches "<file>:<line>" optionally followed by ":in `<method>'".
var lineRegexp = regexp.MustCompile(`^\s*(.+?):(\d+)(?::in\s+[` + "`" + `'](.*)')?\s*$`)

// FormatLine renders a frame in the backtrace line format understood by ParseBacktrace.
func FormatLine(file string, line int, method string) string {
	s := file + ":" + strconv.Itoa(line)
	if method != "" {
		s += ":in `" + method + "'"
	}
	return s
}

// ParseBacktrace converts raw backtrace lines into frames.
// Lines that do not look like a frame are skipped, the order of the others is kept.
func ParseBacktrace(lines []string) Backtrace {
	bt := make(Backtrace, 0, len(lines))
	for _, line := range lines {
		if frame, ok := ParseLine(line); ok {
			bt = append(bt, frame)
		}
	}
	return bt
}

// ParseLine parses a single backtrace line.
func ParseLine(line string) (Frame, bool) {
	m := lineRegexp.FindStringSubmatch(line)
	if m == nil {
		return Frame{}, false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil || n < 0 {
		return Frame{}, false
	}
	file := strings.TrimSpace(m[1])
	if file == "" {
		return Frame{}, false
	}
	return Frame{File: file, Line: n, Method: m[3]}, true
}

// Lines renders the backtrace back into raw lines.
func (bt Backtrace) Lines() []string {
	lines := make([]string, 0, len(bt))
	for _, f := range bt {
		lines = append(lines, FormatLine(f.File, f.Line, f.Method))
	}
	return lines
}

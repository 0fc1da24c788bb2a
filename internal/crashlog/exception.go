package crashlog

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"github.com/samber/lo"
)

// Classer is implemented by errors that carry a stable class name.
type Classer interface {
	ExceptionClass() string
}

// Categorizer is implemented by errors that belong to named categories,
// the way an exception belongs to its superclasses.
type Categorizer interface {
	Categories() []string
}

// Backtracer is implemented by errors that carry a raw backtrace.
type Backtracer interface {
	Backtrace() []string
}

// stackTracer is the capability exposed by github.com/pkg/errors.
type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

// Exception is an error with an explicit class name, categories and backtrace.
type Exception struct {
	Cause   error
	Class   string
	Message string
	// Parents names the categories the exception belongs to.
	Parents []string
	Trace   []string
}

// NewException returns an exception of the given class with a backtrace
// captured at the caller.
func NewException(class, message string) *Exception {
	return &Exception{Class: class, Message: message, Trace: CaptureStack(1)}
}

func (e *Exception) Error() string          { return e.Message }
func (e *Exception) ExceptionClass() string { return e.Class }
func (e *Exception) Categories() []string   { return e.Parents }
func (e *Exception) Backtrace() []string    { return e.Trace }
func (e *Exception) Unwrap() error          { return e.Cause }

// ClassName returns the symbolic name of err's class: the first non-empty
// class declared along its wrap chain. Errors that declare none are named
// after the dynamic Go type of the innermost wrapped error.
func ClassName(err error) string {
	if err == nil {
		return ""
	}
	var class string
	walk(err, func(e error) bool {
		if c, ok := e.(Classer); ok && c.ExceptionClass() != "" {
			class = c.ExceptionClass()
			return false
		}
		return true
	})
	if class != "" {
		return class
	}
	root := err
	for next := errors.Unwrap(root); next != nil; next = errors.Unwrap(root) {
		root = next
	}
	return strings.TrimLeft(fmt.Sprintf("%T", root), "*")
}

// Categories returns the category names declared along err's wrap chain.
func Categories(err error) []string {
	var categories []string
	walk(err, func(e error) bool {
		if c, ok := e.(Categorizer); ok {
			categories = append(categories, c.Categories()...)
		}
		return true
	})
	return lo.Uniq(categories)
}

// classNames lists every class declared along err's wrap chain, the resolved
// class name first.
func classNames(err error) []string {
	names := []string{ClassName(err)}
	walk(err, func(e error) bool {
		if c, ok := e.(Classer); ok && c.ExceptionClass() != "" {
			names = append(names, c.ExceptionClass())
		}
		return true
	})
	return lo.Uniq(names)
}

// walk visits err and every error it wraps depth-first, in the order
// errors.As does, until fn returns false.
func walk(err error, fn func(error) bool) bool {
	if err == nil {
		return true
	}
	if !fn(err) {
		return false
	}
	switch x := err.(type) {
	case interface{ Unwrap() error }:
		return walk(x.Unwrap(), fn)
	case interface{ Unwrap() []error }:
		for _, e := range x.Unwrap() {
			if !walk(e, fn) {
				return false
			}
		}
	}
	return true
}

// TraceLines returns the raw backtrace carried by err or by an error it wraps.
// Errors created with github.com/pkg/errors contribute their recorded stack.
func TraceLines(err error) []string {
	var bt Backtracer
	if errors.As(err, &bt) {
		if lines := bt.Backtrace(); len(lines) > 0 {
			return lines
		}
	}
	var st stackTracer
	if errors.As(err, &st) {
		stack := st.StackTrace()
		pcs := make([]uintptr, len(stack))
		for i, f := range stack {
			pcs[i] = uintptr(f)
		}
		return formatCallers(pcs)
	}
	return nil
}

// CaptureStack returns the current goroutine's stack as backtrace lines,
// skipping skip frames above the caller.
func CaptureStack(skip int) []string {
	const depth = 64
	pcs := make([]uintptr, depth)
	n := runtime.Callers(skip+2, pcs)
	return formatCallers(pcs[:n])
}

func formatCallers(pcs []uintptr) []string {
	if len(pcs) == 0 {
		return nil
	}
	lines := make([]string, 0, len(pcs))
	frames := runtime.CallersFrames(pcs)
	for {
		frame, more := frames.Next()
		if frame.File != "" {
			lines = append(lines, FormatLine(frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}
	return lines
}

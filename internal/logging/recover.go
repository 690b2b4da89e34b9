package logging

import (
	"fmt"
	"runtime/debug"
)

// PanicReport describes a recovered goroutine panic.
type PanicReport struct {
	Goroutine string
	Value     string
	Stack     string
}

// RecoverGoroutine logs a panic in the calling goroutine instead of
// crashing the process. Call it deferred at the top of the goroutine:
//
//	go func() { defer logger.RecoverGoroutine("capture", nil); ... }()
//
// onPanic, when non-nil, is invoked with the report after logging.
func (l *Logger) RecoverGoroutine(name string, onPanic func(PanicReport)) {
	r := recover()
	if r == nil {
		return
	}

	report := PanicReport{
		Goroutine: name,
		Value:     fmt.Sprintf("%v", r),
		Stack:     string(debug.Stack()),
	}
	l.Error("goroutine panic recovered",
		"goroutine", report.Goroutine,
		"panic", report.Value,
		"stack", report.Stack,
	)
	if onPanic != nil {
		onPanic(report)
	}
}

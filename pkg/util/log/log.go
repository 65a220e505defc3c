// Copyright 2024 The Fairsched Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the file LICENSE.

// Package log provides context-first, leveled, printf-style logging. It
// does not attempt file rotation or redaction, which nothing in this
// module exercises; pkg/fairsched uses it to log fair group construction
// without reaching for fmt.Printf or a third-party structured logger.
// Renormalization is not logged, and assertion failures panic rather than
// going through this package.
package log

import (
	"context"
	"fmt"
	stdlog "log"
	"os"

	"github.com/fairsched/fairsched/pkg/util/syncutil"
)

// Level is a logging verbosity level: higher numbers are noisier and are
// typically disabled in production.
type Level int32

var (
	mu     syncutil.Mutex
	writer = stdlog.New(os.Stderr, "", stdlog.LstdFlags|stdlog.Lmicroseconds)
	vLevel Level
)

// SetVerbosity sets the threshold at or below which VEventf calls are
// emitted.
func SetVerbosity(level Level) {
	mu.Lock()
	defer mu.Unlock()
	vLevel = level
}

func output(ctx context.Context, severity, format string, args []interface{}) {
	mu.Lock()
	defer mu.Unlock()
	msg := fmt.Sprintf(format, args...)
	writer.Printf("%s %s", severity, msg)
	_ = ctx // reserved for the trace/span plumbing a real reactor would provide
}

// Infof logs at informational severity.
func Infof(ctx context.Context, format string, args ...interface{}) {
	output(ctx, "I", format, args)
}

// Warningf logs at warning severity.
func Warningf(ctx context.Context, format string, args ...interface{}) {
	output(ctx, "W", format, args)
}

// Errorf logs at error severity.
func Errorf(ctx context.Context, format string, args ...interface{}) {
	output(ctx, "E", format, args)
}

// Fatalf logs at fatal severity and terminates the process; use it for
// unrecoverable errors that occur outside of the panic-based assertion
// path.
func Fatalf(ctx context.Context, format string, args ...interface{}) {
	output(ctx, "F", format, args)
	os.Exit(1)
}

// VEventf logs at informational severity if level is at or below the
// current verbosity threshold set by SetVerbosity.
func VEventf(ctx context.Context, level Level, format string, args ...interface{}) {
	mu.Lock()
	enabled := level <= vLevel
	mu.Unlock()
	if !enabled {
		return
	}
	output(ctx, "V", format, args)
}

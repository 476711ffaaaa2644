// Copyright 2026 The Selector MCP Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock abstracts time operations for testability. Production code
// injects Real(); tests inject Fake() or a recording stub with
// deterministic time control.
//
// Every production function that waits on wall-clock time (retry
// backoff, readiness polling) should accept a Clock parameter or be
// a method on a struct with a Clock field instead of calling the
// time package directly.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time after
	// duration d elapses. Equivalent to time.After. If d <= 0, the
	// channel receives immediately.
	After(d time.Duration) <-chan time.Time

	// Sleep pauses the current goroutine for at least duration d.
	// Equivalent to time.Sleep.
	Sleep(d time.Duration)
}

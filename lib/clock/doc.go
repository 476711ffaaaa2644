// Copyright 2026 The Selector MCP Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction for testability.
//
// Production code accepts a Clock interface parameter instead of calling
// time.Now, time.After, or time.Sleep directly. In production, Real()
// provides the standard library behavior. In tests, Fake() provides a
// deterministic clock that advances only when Advance is called.
//
// Add a Clock field to structs that wait on wall-clock time:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	client := selector.New(selector.Options{Clock: c, ...})
//	// ... start the call under test ...
//	c.Advance(5 * time.Second) // fire the backoff deterministically
//
// Use Waiters to block until the goroutine under test has registered
// its backoff sleep before calling Advance. This eliminates the race
// between timer registration and time advancement that plagues tests
// using time.Sleep for synchronization.
package clock

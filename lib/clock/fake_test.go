// Copyright 2026 The Selector MCP Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeClockNow(t *testing.T) {
	clock := Fake(epoch)
	if got := clock.Now(); !got.Equal(epoch) {
		t.Fatalf("Now() = %v, want %v", got, epoch)
	}
	clock.Advance(5 * time.Second)
	want := epoch.Add(5 * time.Second)
	if got := clock.Now(); !got.Equal(want) {
		t.Fatalf("Now() after Advance = %v, want %v", got, want)
	}
}

func TestFakeClockAfterFiresOnAdvance(t *testing.T) {
	clock := Fake(epoch)
	channel := clock.After(3 * time.Second)

	// Should not fire yet.
	select {
	case <-channel:
		t.Fatal("After fired before Advance")
	default:
	}

	clock.Advance(3 * time.Second)

	select {
	case fired := <-channel:
		if !fired.Equal(epoch.Add(3 * time.Second)) {
			t.Fatalf("fired at %v, want %v", fired, epoch.Add(3*time.Second))
		}
	default:
		t.Fatal("After did not fire after Advance")
	}
}

func TestFakeClockAfterImmediateForNonPositive(t *testing.T) {
	clock := Fake(epoch)
	select {
	case <-clock.After(0):
	default:
		t.Fatal("After(0) did not fire immediately")
	}
}

func TestFakeClockAdvanceFiresInDeadlineOrder(t *testing.T) {
	clock := Fake(epoch)
	second := clock.After(2 * time.Second)
	first := clock.After(1 * time.Second)

	clock.Advance(5 * time.Second)

	firstAt := <-first
	secondAt := <-second
	if firstAt.After(secondAt) {
		t.Fatalf("waiters fired out of order: %v before %v", secondAt, firstAt)
	}
}

func TestFakeClockPartialAdvance(t *testing.T) {
	clock := Fake(epoch)
	channel := clock.After(10 * time.Second)

	clock.Advance(4 * time.Second)
	select {
	case <-channel:
		t.Fatal("waiter fired before its deadline")
	default:
	}

	clock.Advance(6 * time.Second)
	select {
	case <-channel:
	default:
		t.Fatal("waiter did not fire at its deadline")
	}
}

func TestFakeClockWaiters(t *testing.T) {
	clock := Fake(epoch)
	if got := clock.Waiters(); got != 0 {
		t.Fatalf("Waiters() = %d, want 0", got)
	}
	clock.After(time.Second)
	clock.After(time.Second)
	if got := clock.Waiters(); got != 2 {
		t.Fatalf("Waiters() = %d, want 2", got)
	}
	clock.Advance(time.Second)
	if got := clock.Waiters(); got != 0 {
		t.Fatalf("Waiters() after Advance = %d, want 0", got)
	}
}

package clock

import (
	"testing"
	"time"
)

func TestFakeAdvanceFiresInDeadlineOrder(t *testing.T) {
	t.Parallel()

	start := time.Unix(1000, 0)
	c := NewFake(start)

	var fired []string
	c.AfterFunc(300*time.Millisecond, func() { fired = append(fired, "late") })
	c.AfterFunc(100*time.Millisecond, func() { fired = append(fired, "early") })
	c.AfterFunc(100*time.Millisecond, func() { fired = append(fired, "early-second") })

	c.Advance(200 * time.Millisecond)
	if len(fired) != 2 || fired[0] != "early" || fired[1] != "early-second" {
		t.Fatalf("unexpected fire order: %v", fired)
	}
	if got := c.Now().Sub(start); got != 200*time.Millisecond {
		t.Fatalf("unexpected now offset: %v", got)
	}

	c.Advance(100 * time.Millisecond)
	if len(fired) != 3 || fired[2] != "late" {
		t.Fatalf("expected late timer to fire, got %v", fired)
	}
	if c.Pending() != 0 {
		t.Fatalf("expected no pending timers, got %d", c.Pending())
	}
}

func TestFakeStopPreventsFire(t *testing.T) {
	t.Parallel()

	c := NewFake(time.Unix(0, 0))
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	if !timer.Stop() {
		t.Fatalf("expected stop to report a pending timer")
	}
	if timer.Stop() {
		t.Fatalf("second stop should report false")
	}
	c.Advance(2 * time.Second)
	if fired {
		t.Fatalf("stopped timer fired")
	}
}

func TestFakeTimerScheduledFromCallback(t *testing.T) {
	t.Parallel()

	c := NewFake(time.Unix(0, 0))
	count := 0
	c.AfterFunc(100*time.Millisecond, func() {
		count++
		c.AfterFunc(100*time.Millisecond, func() { count++ })
	})

	c.Advance(250 * time.Millisecond)
	if count != 2 {
		t.Fatalf("expected chained timer to fire within the advance window, got %d", count)
	}
}

package clock

import (
	"sync"
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFake_AfterFuncFiresOnAdvance(t *testing.T) {
	c := Fake(epoch)
	fired := 0
	c.AfterFunc(3*time.Second, func() { fired++ })

	c.Advance(2 * time.Second)
	if fired != 0 {
		t.Fatalf("fired early: %d", fired)
	}
	c.Advance(1 * time.Second)
	if fired != 1 {
		t.Fatalf("expected 1 fire, got %d", fired)
	}
	c.Advance(10 * time.Second)
	if fired != 1 {
		t.Fatalf("expected one-shot, got %d", fired)
	}
}

func TestFake_StopPreventsFire(t *testing.T) {
	c := Fake(epoch)
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	if !timer.Stop() {
		t.Error("expected Stop to report an active timer")
	}
	if timer.Stop() {
		t.Error("second Stop should report false")
	}
	c.Advance(time.Minute)
	if fired {
		t.Error("stopped timer fired")
	}
	if n := c.PendingTimers(); n != 0 {
		t.Errorf("expected no pending timers, got %d", n)
	}
}

func TestFake_AfterAndWaitForTimers(t *testing.T) {
	c := Fake(epoch)
	var wg sync.WaitGroup
	wg.Add(1)
	var got time.Time
	go func() {
		defer wg.Done()
		got = <-c.After(5 * time.Second)
	}()

	c.WaitForTimers(1)
	c.Advance(5 * time.Second)
	wg.Wait()

	if !got.Equal(epoch.Add(5 * time.Second)) {
		t.Errorf("unexpected fire time %v", got)
	}
}

func TestFake_DeadlineOrder(t *testing.T) {
	c := Fake(epoch)
	var order []int
	c.AfterFunc(2*time.Second, func() { order = append(order, 2) })
	c.AfterFunc(1*time.Second, func() { order = append(order, 1) })

	c.Advance(3 * time.Second)
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("expected [1 2], got %v", order)
	}
}

package timeutil

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)

func TestRealClockTicker(t *testing.T) {
	clock := RealClock{}
	ticker := clock.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	select {
	case <-ticker.C():
	case <-time.After(time.Second):
		t.Error("ticker did not fire")
	}
	if d := clock.Since(clock.Now().Add(-time.Second)); d < time.Second {
		t.Errorf("Since() = %v, want >= 1s", d)
	}
}

func TestMockClockNowAndSet(t *testing.T) {
	clock := NewMockClock(epoch)
	if !clock.Now().Equal(epoch) {
		t.Fatalf("Now() = %v, want %v", clock.Now(), epoch)
	}
	later := epoch.Add(time.Hour)
	clock.Set(later)
	if got := clock.Since(epoch); got != time.Hour {
		t.Errorf("Since() = %v, want 1h", got)
	}
}

func TestMockClockAfterFiresOnce(t *testing.T) {
	clock := NewMockClock(epoch)
	ch := clock.After(5 * time.Second)

	clock.Advance(4 * time.Second)
	select {
	case <-ch:
		t.Fatal("fired early")
	default:
	}

	clock.Advance(time.Second)
	select {
	case got := <-ch:
		if !got.Equal(epoch.Add(5 * time.Second)) {
			t.Errorf("fired at %v", got)
		}
	default:
		t.Fatal("did not fire at deadline")
	}
	if n := len(clock.Pending()); n != 0 {
		t.Errorf("%d waiters left after one-shot fired", n)
	}
}

func TestMockTickerFiresEachPeriod(t *testing.T) {
	clock := NewMockClock(epoch)
	ticker := clock.NewTicker(time.Second)

	var got []time.Time
	for i := 0; i < 3; i++ {
		clock.Advance(time.Second)
		got = append(got, <-ticker.C())
	}
	for i, tick := range got {
		want := epoch.Add(time.Duration(i+1) * time.Second)
		if !tick.Equal(want) {
			t.Errorf("tick %d = %v, want %v", i, tick, want)
		}
	}
}

func TestMockTickerDropsSurplusTicks(t *testing.T) {
	clock := NewMockClock(epoch)
	ticker := clock.NewTicker(time.Second)
	clock.Advance(10 * time.Second)

	first := <-ticker.C()
	if !first.Equal(epoch.Add(time.Second)) {
		t.Errorf("first buffered tick = %v", first)
	}
	select {
	case extra := <-ticker.C():
		t.Errorf("unexpected second tick %v", extra)
	default:
	}
	if p := clock.Pending(); len(p) != 1 || !p[0].Equal(epoch.Add(11*time.Second)) {
		t.Errorf("Pending() = %v", p)
	}
}

func TestMockTickerStopAndReset(t *testing.T) {
	clock := NewMockClock(epoch)
	ticker := clock.NewTicker(time.Second)
	ticker.Stop()
	clock.Advance(5 * time.Second)
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker fired")
	default:
	}

	ticker.Reset(2 * time.Second)
	clock.Advance(time.Second)
	select {
	case <-ticker.C():
		t.Fatal("reset ticker fired early")
	default:
	}
	clock.Advance(time.Second)
	if got := <-ticker.C(); !got.Equal(epoch.Add(7 * time.Second)) {
		t.Errorf("tick after reset = %v", got)
	}
}

func TestMockClockFiresInDeadlineOrder(t *testing.T) {
	clock := NewMockClock(epoch)
	slow := clock.After(3 * time.Second)
	fast := clock.After(time.Second)
	clock.Advance(5 * time.Second)

	a, b := <-fast, <-slow
	if !a.Before(b) {
		t.Errorf("fast=%v slow=%v", a, b)
	}
	if !clock.Now().Equal(epoch.Add(5 * time.Second)) {
		t.Errorf("Now() = %v", clock.Now())
	}
}

func TestWaitForWaiters(t *testing.T) {
	clock := NewMockClock(epoch)
	go func() {
		time.Sleep(5 * time.Millisecond)
		clock.NewTicker(time.Second)
	}()
	if !clock.WaitForWaiters(1, time.Second) {
		t.Fatal("ticker never registered")
	}
	if clock.WaitForWaiters(2, 10*time.Millisecond) {
		t.Fatal("reported a waiter that does not exist")
	}
}

func TestNonPositiveIntervalPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	NewMockClock(epoch).NewTicker(0)
}

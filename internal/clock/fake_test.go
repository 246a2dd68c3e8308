package clock

import (
	"testing"
	"time"
)

func TestFakeAfterFuncFiresOnce(t *testing.T) {
	f := NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	calls := 0
	f.AfterFunc(5*time.Second, func() { calls++ })

	f.Advance(4 * time.Second)
	if calls != 0 {
		t.Fatalf("expected no calls before deadline, got %d", calls)
	}

	f.Advance(time.Second)
	f.Advance(10 * time.Second)
	if calls != 1 {
		t.Errorf("expected exactly 1 call, got %d", calls)
	}
	if f.Pending() != 0 {
		t.Errorf("expected no pending timers, got %d", f.Pending())
	}
}

func TestFakeEveryFiresPerPeriod(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewFake(start)

	var seen []time.Time
	timer := f.Every(time.Second, func() { seen = append(seen, f.Now()) })

	f.Advance(3500 * time.Millisecond)
	if len(seen) != 3 {
		t.Fatalf("expected 3 ticks, got %d", len(seen))
	}
	for i, at := range seen {
		want := start.Add(time.Duration(i+1) * time.Second)
		if !at.Equal(want) {
			t.Errorf("tick %d at %v, want %v", i, at, want)
		}
	}

	if !timer.Stop() {
		t.Error("Stop() on active timer should return true")
	}
	f.Advance(5 * time.Second)
	if len(seen) != 3 {
		t.Errorf("expected no ticks after stop, got %d", len(seen))
	}
}

func TestFakeCallbackMayReschedule(t *testing.T) {
	f := NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	calls := 0
	var fire func()
	fire = func() {
		calls++
		if calls < 3 {
			f.AfterFunc(time.Second, fire)
		}
	}
	f.AfterFunc(time.Second, fire)

	f.Advance(10 * time.Second)
	if calls != 3 {
		t.Errorf("expected 3 chained calls, got %d", calls)
	}
}

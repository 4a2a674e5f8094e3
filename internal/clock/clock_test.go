package clock

import (
	"testing"
	"time"

	"pgregory.net/rapid"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testFake_FiresInDueOrder(t *rapid.T) {
	c := NewFake(epoch)
	delays := rapid.SliceOfN(rapid.IntRange(1, 1000), 1, 20).Draw(t, "delays_ms")

	var fired []time.Time
	for _, ms := range delays {
		c.AfterFunc(time.Duration(ms)*time.Millisecond, func() {
			fired = append(fired, c.Now())
		})
	}
	c.Advance(time.Second)

	if len(fired) != len(delays) {
		t.Fatalf("fired %d timers, want %d", len(fired), len(delays))
	}
	for i := 1; i < len(fired); i++ {
		if fired[i].Before(fired[i-1]) {
			t.Fatalf("timer %d fired at %v before timer %d at %v", i, fired[i], i-1, fired[i-1])
		}
	}
	if got := c.Now(); !got.Equal(epoch.Add(time.Second)) {
		t.Fatalf("Now after Advance = %v", got)
	}
}

func TestFake_FiresInDueOrder(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testFake_FiresInDueOrder)
}

func FuzzFake_FiresInDueOrder(f *testing.F) {
	f.Fuzz(rapid.MakeFuzz(testFake_FiresInDueOrder))
}

func TestFake_StopPreventsFiring(t *testing.T) {
	t.Parallel()
	c := NewFake(epoch)
	ran := false
	timer := c.AfterFunc(time.Second, func() { ran = true })

	if !timer.Stop() {
		t.Fatal("first Stop should report true")
	}
	if timer.Stop() {
		t.Fatal("second Stop should report false")
	}
	c.Advance(time.Hour)
	if ran {
		t.Fatal("stopped timer fired")
	}
	if c.Pending() != 0 {
		t.Fatalf("Pending = %d, want 0", c.Pending())
	}
}

func TestFake_NotDueYet(t *testing.T) {
	t.Parallel()
	c := NewFake(epoch)
	ran := false
	c.AfterFunc(5*time.Second, func() { ran = true })

	c.Advance(4999 * time.Millisecond)
	if ran {
		t.Fatal("timer fired early")
	}
	c.Advance(time.Millisecond)
	if !ran {
		t.Fatal("timer did not fire at its due time")
	}
}

func TestFake_CallbackMayReschedule(t *testing.T) {
	t.Parallel()
	c := NewFake(epoch)
	count := 0
	var tick func()
	tick = func() {
		count++
		if count < 3 {
			c.AfterFunc(time.Second, tick)
		}
	}
	c.AfterFunc(time.Second, tick)
	c.Advance(10 * time.Second)
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}
}

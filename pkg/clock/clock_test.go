package clock

import "testing"

func TestAdvanceToMonotonic(t *testing.T) {
	c := New(1000, LatencyParams{Mode: Constant, Current: 0}, 1)

	if !c.AdvanceTo(2000) {
		t.Fatal("expected advance to a later timestamp to succeed")
	}
	if c.Now() != 2000 {
		t.Fatalf("Now() = %d, want 2000", c.Now())
	}
	if c.AdvanceTo(1500) {
		t.Fatal("expected advance to an earlier timestamp to be rejected")
	}
	if c.Now() != 2000 {
		t.Fatalf("Now() moved backwards: %d", c.Now())
	}
}

func TestTickAdvancesByOneMicrosecond(t *testing.T) {
	c := New(0, LatencyParams{Mode: Constant}, 1)
	for i := int64(1); i <= 5; i++ {
		if got := c.Tick(); got != i {
			t.Fatalf("Tick() = %d, want %d", got, i)
		}
	}
}

func TestSampleDeterministicForSameSeed(t *testing.T) {
	params := LatencyParams{Mode: Uniform, Min: 10, Max: 100}
	a := New(0, params, 42)
	b := New(0, params, 42)

	for i := 0; i < 20; i++ {
		sa, sb := a.Sample(), b.Sample()
		if sa != sb {
			t.Fatalf("sample %d diverged between identically-seeded clocks: %d vs %d", i, sa, sb)
		}
		if sa < params.Min || sa > params.Max {
			t.Fatalf("sample %d out of range [%d, %d]: %d", i, params.Min, params.Max, sa)
		}
	}
}

func TestSampleConstant(t *testing.T) {
	c := New(0, LatencyParams{Mode: Constant, Current: 42}, 1)
	for i := 0; i < 5; i++ {
		if got := c.Sample(); got != 42 {
			t.Fatalf("Sample() = %d, want 42", got)
		}
	}
}

func TestSampleSineWithinBounds(t *testing.T) {
	c := New(0, LatencyParams{Mode: Sine, Min: 100, Max: 200, SineStep: 0.3}, 1)
	for i := 0; i < 50; i++ {
		s := c.Sample()
		if s < 100 || s > 200 {
			t.Fatalf("sine sample %d out of [100,200]: %d", i, s)
		}
	}
}

func TestEffectiveTimestampIncludesLatency(t *testing.T) {
	c := New(5000, LatencyParams{Mode: Constant, Current: 250}, 1)
	if got := c.EffectiveTimestamp(); got != 5250 {
		t.Fatalf("EffectiveTimestamp() = %d, want 5250", got)
	}
}

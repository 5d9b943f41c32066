// Package clock provides the virtual clock and latency model that drive a
// deterministic backtest: the exchange timestamp never touches wall time.
package clock

import (
	"math"
	"math/rand/v2"
	"sync/atomic"
)

// LatencyMode selects how Clock.Sample draws a simulated per-request delay.
type LatencyMode int8

const (
	Constant LatencyMode = iota
	Uniform
	Sine
	Normal
	Poisson
)

// LatencyParams configures the latency model. Min/Max/Current are in
// microseconds; SineStep is the fixed phase increment applied per sample
// when Mode is Sine.
type LatencyParams struct {
	Mode     LatencyMode
	Min      int64
	Max      int64
	Current  int64
	SineStep float64
}

// Clock owns the monotonic virtual exchange_timestamp (microseconds) and a
// seeded latency model. It advances only when told to — never from
// time.Now() — so that two runs seeded identically produce an identical
// sequence of effective timestamps.
type Clock struct {
	ts     atomic.Int64
	params LatencyParams
	phi    float64
	rng    *rand.Rand
}

// New creates a clock starting at startTS microseconds, with latency drawn
// from a PRNG seeded deterministically from seed.
func New(startTS int64, params LatencyParams, seed uint64) *Clock {
	c := &Clock{
		params: params,
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
	c.ts.Store(startTS)
	return c
}

// Now returns the current exchange_timestamp in microseconds.
func (c *Clock) Now() int64 {
	return c.ts.Load()
}

// AdvanceTo sets exchange_timestamp to ts if ts is not earlier than the
// current value, per the strictly-monotonic-non-decreasing invariant.
// Reports whether the advance was accepted.
func (c *Clock) AdvanceTo(ts int64) bool {
	for {
		cur := c.ts.Load()
		if ts < cur {
			return false
		}
		if c.ts.CompareAndSwap(cur, ts) {
			return true
		}
	}
}

// Tick advances the clock by exactly one simulated microsecond, used by
// let_it_roll when no market trade is available to drive the clock.
func (c *Clock) Tick() int64 {
	return c.ts.Add(1)
}

// Sample draws one latency value in microseconds from the configured model.
func (c *Clock) Sample() int64 {
	switch c.params.Mode {
	case Constant:
		return c.params.Current
	case Uniform:
		if c.params.Max <= c.params.Min {
			return c.params.Min
		}
		span := c.params.Max - c.params.Min
		return c.params.Min + c.rng.Int64N(span+1)
	case Sine:
		c.phi += c.params.SineStep
		frac := 0.5 + 0.5*math.Sin(c.phi)
		return c.params.Min + int64(frac*float64(c.params.Max-c.params.Min))
	case Normal:
		mean := float64(c.params.Min+c.params.Max) / 2
		stddev := float64(c.params.Max-c.params.Min) / 6
		v := mean + c.rng.NormFloat64()*stddev
		return clamp(int64(v), c.params.Min, c.params.Max)
	case Poisson:
		lambda := float64(c.params.Current)
		if lambda <= 0 {
			return c.params.Min
		}
		v := poissonSample(c.rng, lambda)
		return clamp(v, c.params.Min, c.params.Max)
	default:
		return c.params.Current
	}
}

// EffectiveTimestamp returns exchange_timestamp + a fresh latency sample,
// the timestamp assigned to a request at accept time (spec §4.1).
func (c *Clock) EffectiveTimestamp() int64 {
	return c.Now() + c.Sample()
}

func clamp(v, lo, hi int64) int64 {
	if hi < lo {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// poissonSample draws from a Poisson distribution via Knuth's algorithm.
// Fine for the small lambdas a latency model uses; not meant for bulk
// simulation workloads.
func poissonSample(rng *rand.Rand, lambda float64) int64 {
	l := math.Exp(-lambda)
	k := int64(0)
	p := 1.0
	for {
		k++
		p *= rng.Float64()
		if p <= l {
			return k - 1
		}
	}
}

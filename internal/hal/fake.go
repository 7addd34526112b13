package hal

import (
	"context"
	"errors"
	"time"

	"github.com/sweeney/tank-controller/internal/units"
)

// FakeClock is a test clock. Every call to Now advances time by Step,
// every call to Sleep advances it by the requested duration.
type FakeClock struct {
	now  time.Time
	Step time.Duration

	// Sleeps records every requested delay.
	Sleeps []time.Duration
}

// NewFakeClock creates a FakeClock starting at start.
func NewFakeClock(start time.Time, step time.Duration) *FakeClock {
	return &FakeClock{now: start, Step: step}
}

// Now returns the current fake time and then advances it by Step.
func (c *FakeClock) Now() time.Time {
	t := c.now
	c.now = c.now.Add(c.Step)
	return t
}

// Current returns the fake time without advancing it.
func (c *FakeClock) Current() time.Time {
	return c.now
}

// Sleep advances the fake time by d.
func (c *FakeClock) Sleep(d time.Duration) {
	c.Sleeps = append(c.Sleeps, d)
	c.now = c.now.Add(d)
}

// Advance moves the fake time forward by d without recording a sleep.
func (c *FakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

// SignalFunc computes a raw sample for a channel at a point in time.
type SignalFunc func(channel int, t time.Time) units.Counts

// Constant returns a SignalFunc that always yields v.
func Constant(v units.Counts) SignalFunc {
	return func(int, time.Time) units.Counts { return v }
}

// FakeADC is an AnalogReader driven by per-channel signal functions.
// Samples are evaluated at the clock's current time so waveforms line up
// with the sampling window.
type FakeADC struct {
	Clock   *FakeClock
	Signals map[int]SignalFunc

	// ReadError, if set, is returned by every ReadRaw call.
	ReadError error

	// Reads counts ReadRaw calls per channel.
	Reads map[int]int
}

// NewFakeADC creates a FakeADC sampling at clk's time.
func NewFakeADC(clk *FakeClock) *FakeADC {
	return &FakeADC{
		Clock:   clk,
		Signals: make(map[int]SignalFunc),
		Reads:   make(map[int]int),
	}
}

// Set installs the signal for a channel.
func (a *FakeADC) Set(channel int, fn SignalFunc) {
	a.Signals[channel] = fn
}

// ReadRaw evaluates the channel's signal, clamped to the ADC range.
func (a *FakeADC) ReadRaw(channel int) (units.Counts, error) {
	a.Reads[channel]++
	if a.ReadError != nil {
		return 0, a.ReadError
	}
	fn, ok := a.Signals[channel]
	if !ok {
		return 0, errors.New("no signal configured")
	}
	var t time.Time
	if a.Clock != nil {
		t = a.Clock.Current()
	}
	v := fn(channel, t)
	if v < 0 {
		v = 0
	}
	if v > units.FullScale {
		v = units.FullScale
	}
	return v, nil
}

// FakeRelay records relay writes.
type FakeRelay struct {
	On     bool
	Writes []bool

	// SetError, if set, is returned by Set and the output is left unchanged.
	SetError error
}

// NewFakeRelay creates a FakeRelay with the output low.
func NewFakeRelay() *FakeRelay {
	return &FakeRelay{}
}

// Set records the write.
func (r *FakeRelay) Set(on bool) error {
	if r.SetError != nil {
		return r.SetError
	}
	r.On = on
	r.Writes = append(r.Writes, on)
	return nil
}

// FakeRanger returns scripted echo times.
type FakeRanger struct {
	// Echoes contains scripted round-trip times. Each Ping consumes the next one.
	// If echoes are exhausted, the last one is returned repeatedly.
	Echoes []time.Duration
	index  int

	// PingError, if set, is returned by Ping.
	PingError error

	// Pings records the maxDistance and whether a deadline was set for each call.
	Pings []PingCall
}

// PingCall records one Ping invocation.
type PingCall struct {
	MaxDistance units.Centimeters
	Timeout     time.Duration
}

// NewFakeRanger creates a FakeRanger with the given echoes.
func NewFakeRanger(echoes ...time.Duration) *FakeRanger {
	return &FakeRanger{Echoes: echoes}
}

// EchoFor returns the round-trip time that measures d.
func EchoFor(d units.Centimeters) time.Duration {
	return time.Duration(float64(d)*57) * time.Microsecond
}

// Ping returns the next scripted echo.
func (r *FakeRanger) Ping(ctx context.Context, maxDistance units.Centimeters) (time.Duration, error) {
	call := PingCall{MaxDistance: maxDistance}
	if dl, ok := ctx.Deadline(); ok {
		call.Timeout = time.Until(dl).Round(100 * time.Millisecond)
	}
	r.Pings = append(r.Pings, call)

	if r.PingError != nil {
		return 0, r.PingError
	}
	if len(r.Echoes) == 0 {
		return 0, nil
	}
	echo := r.Echoes[r.index]
	if r.index < len(r.Echoes)-1 {
		r.index++
	}
	return echo, nil
}

// Reset rewinds the scripted echoes.
func (r *FakeRanger) Reset() {
	r.index = 0
	r.Pings = nil
}

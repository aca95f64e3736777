package clock

import (
	"context"
	"errors"
	"time"
)

// Clock maps elapsed wall time onto simulated timestamps.
// With Speed=1800 and Step=30m, one simulated interval passes every wall second.
type Clock struct {
	origin   time.Time
	simStart time.Time
	step     time.Duration
	speed    float64

	now func() time.Time
}

func New(origin, simStart time.Time, step time.Duration, speed float64) (*Clock, error) {
	if step <= 0 {
		return nil, errors.New("step must be > 0")
	}
	if speed <= 0 {
		return nil, errors.New("speed must be > 0")
	}
	return &Clock{
		origin:   origin,
		simStart: simStart,
		step:     step,
		speed:    speed,
		now:      time.Now,
	}, nil
}

// WithNow swaps the time source. Used by tests.
func (c *Clock) WithNow(now func() time.Time) *Clock {
	c.now = now
	return c
}

// Restart moves the wall origin, keeping the simulated start.
func (c *Clock) Restart(origin time.Time) {
	c.origin = origin
}

func (c *Clock) Origin() time.Time   { return c.origin }
func (c *Clock) Step() time.Duration { return c.step }
func (c *Clock) Speed() float64      { return c.speed }
func (c *Clock) SimStart() time.Time { return c.simStart }

// TickInterval is the wall duration of one simulated step.
func (c *Clock) TickInterval() time.Duration {
	return time.Duration(float64(c.step) / c.speed)
}

// Elapsed is the wall time since the origin, zero before it.
func (c *Clock) Elapsed() time.Duration {
	d := c.now().Sub(c.origin)
	if d < 0 {
		return 0
	}
	return d
}

// Index is the number of whole simulated steps that have passed.
func (c *Clock) Index() int {
	sim := float64(c.Elapsed()) * c.speed
	return int(sim / float64(c.step))
}

// Timestamp is the simulated time of interval index.
func (c *Clock) Timestamp(index int) time.Time {
	return c.simStart.Add(time.Duration(index) * c.step)
}

// Now is the simulated timestamp of the current interval.
func (c *Clock) Now() time.Time {
	return c.Timestamp(c.Index())
}

// WallTime is when interval index becomes due.
func (c *Clock) WallTime(index int) time.Time {
	return c.origin.Add(time.Duration(float64(index) * float64(c.step) / c.speed))
}

// WaitFor blocks until interval index is due or ctx is done.
func (c *Clock) WaitFor(ctx context.Context, index int) error {
	return SleepUntil(ctx, c.now, c.WallTime(index))
}

// SleepUntil blocks until deadline according to now, or until ctx is done.
func SleepUntil(ctx context.Context, now func() time.Time, deadline time.Time) error {
	d := deadline.Sub(now())
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

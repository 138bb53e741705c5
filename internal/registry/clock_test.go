package registry

import (
	"sync"
	"time"

	"github.com/juju/clock"
)

// recordingClock fires every timer immediately and records the requested
// durations, advancing its notion of now by each one.
type recordingClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newRecordingClock() *recordingClock {
	return &recordingClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *recordingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *recordingClock) After(d time.Duration) <-chan time.Time {
	return c.NewTimer(d).Chan()
}

func (c *recordingClock) AfterFunc(d time.Duration, f func()) clock.Timer {
	t := c.NewTimer(d)
	go f()
	return t
}

func (c *recordingClock) NewTimer(d time.Duration) clock.Timer {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- now
	return &firedTimer{ch: ch}
}

func (c *recordingClock) At(t time.Time) <-chan time.Time {
	return c.NewAlarm(t).Chan()
}

func (c *recordingClock) AtFunc(t time.Time, f func()) clock.Alarm {
	a := c.NewAlarm(t)
	go f()
	return a
}

func (c *recordingClock) NewAlarm(t time.Time) clock.Alarm {
	c.mu.Lock()
	if d := t.Sub(c.now); d > 0 {
		c.sleeps = append(c.sleeps, d)
		c.now = t
	}
	now := c.now
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- now
	return &firedAlarm{ch: ch}
}

func (c *recordingClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

type firedTimer struct {
	ch chan time.Time
}

func (t *firedTimer) Chan() <-chan time.Time { return t.ch }

func (t *firedTimer) Reset(time.Duration) bool { return false }

func (t *firedTimer) Stop() bool { return false }

type firedAlarm struct {
	ch chan time.Time
}

func (a *firedAlarm) Chan() <-chan time.Time { return a.ch }

func (a *firedAlarm) Reset(time.Time) bool { return false }

func (a *firedAlarm) Stop() bool { return false }

var (
	_ clock.Clock = (*recordingClock)(nil)
	_ clock.Clock = (*blockingClock)(nil)
)

// blockingClock returns timers that never fire.
type blockingClock struct {
	*recordingClock
}

func (c *blockingClock) NewTimer(time.Duration) clock.Timer {
	return &firedTimer{ch: make(chan time.Time)}
}

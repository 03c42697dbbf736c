// Package atomic_clock is timestamp safe for concurrent use without lock,
// e.g. last accepted press of local button. Zero value means "never".
package atomic_clock

import (
	"sync/atomic"
	"time"
)

type Clock struct{ v int64 } // unix nanoseconds

func source() int64 { return time.Now().UnixNano() }

func (c *Clock) IsZero() bool { return atomic.LoadInt64(&c.v) == 0 }

func (c *Clock) SetNow()             { atomic.StoreInt64(&c.v, source()) }
func (c *Clock) SetTime(t time.Time) { atomic.StoreInt64(&c.v, t.UnixNano()) }
func (c *Clock) Reset()              { atomic.StoreInt64(&c.v, 0) }

func (c *Clock) Time() time.Time { return time.Unix(0, c.UnixNano()) }
func (c *Clock) UnixNano() int64 { return atomic.LoadInt64(&c.v) }

func Now() *Clock {
	c := &Clock{}
	c.SetNow()
	return c
}

// Since of zero clock is time since epoch, check IsZero first.
func Since(begin *Clock) time.Duration { return time.Duration(source() - begin.UnixNano()) }

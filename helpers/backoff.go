package helpers

import (
	"sync/atomic"
	"time"

	"github.com/temoto/enomesh/helpers/atomic_clock"
)

// Backoff is limited exponential delay between retries.
// Zero delay until first failure, each failure multiplies next delay by K,
// success resets it to Min.
//
// for {
//   time.Sleep(backoff.DelayBefore())
//   err := op()
//   backoff.Update(err == nil)
// }
type Backoff struct {
	next int64 // atomic align
	last atomic_clock.Clock

	Min time.Duration
	Max time.Duration
	K   float32
	Res time.Duration // delay resolution for nice logs, default=1ms
}

// DelayBefore returns remaining part of current delay, time since last
// Update counts.
func (b *Backoff) DelayBefore() time.Duration {
	next := time.Duration(atomic.LoadInt64(&b.next))
	if next == 0 {
		return 0
	}
	since := atomic_clock.Since(&b.last)
	if since >= next {
		return 0
	}
	return b.round(next - since)
}

func (b *Backoff) Update(success bool) {
	b.last.SetNow()
	if success {
		atomic.StoreInt64(&b.next, 0)
		return
	}
	next := time.Duration(float32(atomic.LoadInt64(&b.next)) * b.K)
	atomic.StoreInt64(&b.next, int64(b.limit(next)))
}

func (b *Backoff) limit(d time.Duration) time.Duration {
	if d < b.Min {
		d = b.Min
	}
	if b.Max != 0 && d > b.Max {
		d = b.Max
	}
	return b.round(d)
}

func (b *Backoff) round(d time.Duration) time.Duration {
	res := b.Res
	if res == 0 {
		res = time.Millisecond
	}
	return d / res * res
}

package helpers

import (
	"sync"
	"time"

	"github.com/juju/errors"
)

// Future is one-shot outcome of asynchronous operation: completed or
// cancelled, whichever happens first. Channels allow waiting in custom
// select statement.
type Future struct {
	mu        sync.Mutex
	done      bool
	err       error
	completed chan struct{}
	cancelled chan struct{}
}

func NewFuture() *Future {
	return &Future{
		completed: make(chan struct{}),
		cancelled: make(chan struct{}),
	}
}

func (f *Future) Cancelled() <-chan struct{} { return f.cancelled }
func (f *Future) Completed() <-chan struct{} { return f.completed }

// Complete returns false if future was already done.
func (f *Future) Complete() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.done {
		return false
	}
	f.done = true
	close(f.completed)
	return true
}

// Cancel returns false if future was already done. err is cancel reason, may be nil.
func (f *Future) Cancel(err error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.done {
		return false
	}
	f.done = true
	f.err = err
	close(f.cancelled)
	return true
}

// Err returns cancel reason.
func (f *Future) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Wait blocks until future is done or timeout, which cancels it with
// errors.Timeout reason. Returns true when completed.
func (f *Future) Wait(timeout time.Duration) (bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-f.completed:
		return true, nil
	case <-f.cancelled:
		return false, f.Err()
	case <-timer.C:
		f.Cancel(errors.Timeoutf("future wait %v", timeout))
		// completion may have won the race
		select {
		case <-f.completed:
			return true, nil
		default:
			return false, f.Err()
		}
	}
}

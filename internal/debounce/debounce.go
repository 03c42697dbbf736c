// Package debounce turns repeated switch status frames into single
// button press transitions, per device and per button.
package debounce

import (
	"fmt"
	"time"

	"github.com/temoto/enomesh/internal/ptm"
	"github.com/temoto/enomesh/internal/secmat"
)

const Threshold = 500 * time.Millisecond

type Button uint8

const (
	ButtonNone Button = iota
	ButtonA0
	ButtonA1
	ButtonB0
	ButtonB1
)

func (b Button) String() string {
	switch b {
	case ButtonA0:
		return "A0"
	case ButtonA1:
		return "A1"
	case ButtonB0:
		return "B0"
	case ButtonB1:
		return "B1"
	}
	return "none"
}

func (b Button) slot() int { return int(b) - 1 }

// Select resolves simultaneously asserted buttons.
// B group dominates A group, inside group 0 wins over 1.
func Select(s ptm.Status) Button {
	switch {
	case s.B0:
		return ButtonB0
	case s.B1:
		return ButtonB1
	case s.A0:
		return ButtonA0
	case s.A1:
		return ButtonA1
	}
	return ButtonNone
}

type Transition struct {
	Device  secmat.Index
	Button  Button
	Pressed bool
}

func (t Transition) String() string {
	return fmt.Sprintf("device=%d button=%s pressed=%t", t.Device, t.Button, t.Pressed)
}

// zero time means button was never accepted
type state [4]time.Time

// Detector keeps per device state in fixed arena, indexes match secmat.Store.
// Not safe for concurrent use.
type Detector struct {
	devices [secmat.MaxDevices]state
}

// Reset forgets timestamps of device, call on enroll and restore.
func (self *Detector) Reset(idx secmat.Index) {
	self.mustIndex(idx)
	self.devices[idx] = state{}
}

// Feed returns transition and true if status is accepted press.
func (self *Detector) Feed(idx secmat.Index, s ptm.Status, now time.Time) (Transition, bool) {
	self.mustIndex(idx)
	if !s.Action {
		return Transition{}, false
	}
	b := Select(s)
	if b == ButtonNone {
		return Transition{}, false
	}
	last := &self.devices[idx][b.slot()]
	if !last.IsZero() && now.Sub(*last) < Threshold {
		return Transition{}, false
	}
	*last = now
	return Transition{Device: idx, Button: b, Pressed: true}, true
}

func (self *Detector) mustIndex(idx secmat.Index) {
	if idx < 0 || int(idx) >= len(self.devices) {
		panic(fmt.Sprintf("code error debounce index=%d", idx))
	}
}

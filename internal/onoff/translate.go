// Package onoff maps switch transitions to generic on/off set commands
// and sends them through mesh transport.
package onoff

import (
	"fmt"
	"time"

	"github.com/temoto/enomesh/internal/debounce"
)

const (
	UnackRepeat    = 2
	TransitionTime = 100 * time.Millisecond
	Delay          = 50 * time.Millisecond
)

// Set is generic on/off set command.
type Set struct {
	OnOff      bool
	TID        uint8
	Transition time.Duration
	Delay      time.Duration
}

func (s Set) String() string {
	return fmt.Sprintf("onoff=%t tid=%d transition=%v delay=%v", s.OnOff, s.TID, s.Transition, s.Delay)
}

// Target is fixed policy: 0 buttons switch on, 1 buttons switch off.
func Target(b debounce.Button) bool {
	switch b {
	case debounce.ButtonA0, debounce.ButtonB0:
		return true
	case debounce.ButtonA1, debounce.ButtonB1:
		return false
	}
	panic(fmt.Sprintf("code error onoff.Target button=%s", b))
}

// Translator owns transaction id sequence, not safe for concurrent use.
type Translator struct{ tid uint8 }

func (self *Translator) Translate(b debounce.Button) Set { return self.Next(Target(b)) }

// Next takes next transaction id, wraps at 255.
func (self *Translator) Next(on bool) Set {
	s := Set{OnOff: on, TID: self.tid, Transition: TransitionTime, Delay: Delay}
	self.tid++
	return s
}

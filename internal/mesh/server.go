package mesh

import (
	"sync"

	"github.com/temoto/enomesh/log2"
)

// Output is physical on/off actuator, e.g. LED.
type Output interface {
	SetOnOff(bool) error
}

// Server is generic on/off server of this node. Set drives output,
// acknowledged set and get are answered with status.
type Server struct {
	log *log2.Log
	t   *Transport
	out Output

	mu      sync.Mutex
	present bool
	lastTID map[uint16]uint8 // per source, repeated set is applied once
}

func NewServer(log *log2.Log, t *Transport, out Output) *Server {
	self := &Server{log: log, t: t, out: out, lastTID: make(map[uint16]uint8)}
	t.OnRequest = self.Handle
	return self
}

func (self *Server) Present() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.present
}

// Handle must not block long, called from mqtt goroutine.
func (self *Server) Handle(m Message) {
	self.mu.Lock()
	switch m.Opcode {
	case OpSet, OpSetUnack:
		if last, ok := self.lastTID[m.Src]; ok && last == m.TID {
			self.log.Debugf("mesh server repeated tid=%d src=%04x", m.TID, m.Src)
		} else {
			self.lastTID[m.Src] = m.TID
			self.present = m.OnOff
			if self.out != nil {
				if err := self.out.SetOnOff(m.OnOff); err != nil {
					self.log.Errorf("mesh server output err=%v", err)
				}
			}
			self.log.Infof("mesh server onoff=%t src=%04x", m.OnOff, m.Src)
		}
	}
	present := self.present
	self.mu.Unlock()

	if m.Opcode == OpSetUnack {
		return
	}
	reply := Message{Opcode: OpStatus, Dst: m.Src, Present: present, Target: present}
	if err := self.t.Publish(reply); err != nil {
		self.log.Errorf("mesh server status err=%v", err)
	}
}

package onoff

import (
	"github.com/juju/errors"
	"github.com/temoto/enomesh/log2"
)

type Outcome uint8

const (
	OutcomeSuccess Outcome = iota + 1
	OutcomeTimeout
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeCancelled:
		return "cancelled"
	}
	return "invalid"
}

// Transport is external mesh model client.
// SendAcknowledged must return quickly and call done exactly once,
// from any goroutine.
type Transport interface {
	SendUnacknowledged(set Set, repeat int) error
	SendAcknowledged(set Set, done func(Outcome)) error
	Cancel(tid uint8)
}

// Poster runs f on event loop, false if f was dropped.
// Outcomes must not be dropped while loop is running, otherwise pending
// entry stays until its tid comes around again.
type Poster func(f func()) bool

type Pending struct {
	TID             uint8
	Target          bool
	RepeatRemaining int
	set             Set
}

// Dispatcher is used only from event loop.
type Dispatcher struct {
	log       *log2.Log
	transport Transport
	post      Poster
	retries   int
	pending   map[uint8]*Pending

	OnOutcome func(Pending, Outcome)
}

// retries is how many times timed out acknowledged send is repeated.
func NewDispatcher(log *log2.Log, t Transport, post Poster, retries int) *Dispatcher {
	if t == nil || post == nil {
		panic("code error onoff.NewDispatcher transport and post required")
	}
	return &Dispatcher{
		log:       log,
		transport: t,
		post:      post,
		retries:   retries,
		pending:   make(map[uint8]*Pending),
	}
}

// SendUnacknowledged hands set to transport UnackRepeat times and returns.
func (self *Dispatcher) SendUnacknowledged(set Set) error {
	self.log.Debugf("onoff send unack %s repeat=%d", set, UnackRepeat)
	return errors.Annotatef(self.transport.SendUnacknowledged(set, UnackRepeat), "onoff send unack tid=%d", set.TID)
}

func (self *Dispatcher) SendAcknowledged(set Set) error {
	if _, ok := self.pending[set.TID]; ok {
		return errors.AlreadyExistsf("onoff pending tid=%d", set.TID)
	}
	p := &Pending{TID: set.TID, Target: set.OnOff, RepeatRemaining: self.retries, set: set}
	self.pending[set.TID] = p
	if err := self.send(p); err != nil {
		delete(self.pending, set.TID)
		return err
	}
	return nil
}

// HandleOutcome must run on event loop. Outcome for unknown tid is ignored.
func (self *Dispatcher) HandleOutcome(tid uint8, o Outcome) {
	p, ok := self.pending[tid]
	if !ok {
		self.log.Debugf("onoff outcome=%s tid=%d not pending", o, tid)
		return
	}
	if o == OutcomeTimeout && p.RepeatRemaining > 0 {
		p.RepeatRemaining--
		self.log.Debugf("onoff tid=%d timeout, repeat remaining=%d", tid, p.RepeatRemaining)
		err := self.send(p)
		if err == nil {
			return
		}
		self.log.Error(err)
	}
	self.finish(p, o)
}

func (self *Dispatcher) Cancel(tid uint8) {
	p, ok := self.pending[tid]
	if !ok {
		return
	}
	self.transport.Cancel(tid)
	self.finish(p, OutcomeCancelled)
}

func (self *Dispatcher) Pending(tid uint8) (Pending, bool) {
	p, ok := self.pending[tid]
	if !ok {
		return Pending{}, false
	}
	return *p, true
}

func (self *Dispatcher) PendingLen() int { return len(self.pending) }

// same tid on every repeat, receiver treats it as one transaction
func (self *Dispatcher) send(p *Pending) error {
	tid := p.TID
	err := self.transport.SendAcknowledged(p.set, func(o Outcome) {
		if !self.post(func() { self.HandleOutcome(tid, o) }) {
			self.log.Errorf("onoff outcome=%s tid=%d dropped", o, tid)
		}
	})
	return errors.Annotatef(err, "onoff send ack tid=%d", tid)
}

func (self *Dispatcher) finish(p *Pending, o Outcome) {
	delete(self.pending, p.TID)
	switch o {
	case OutcomeSuccess:
		self.log.Infof("onoff tid=%d target=%t acknowledged", p.TID, p.Target)
	case OutcomeCancelled:
		self.log.Infof("onoff tid=%d target=%t cancelled", p.TID, p.Target)
	default:
		self.log.Errorf("onoff tid=%d target=%t outcome=%s", p.TID, p.Target, o)
	}
	if self.OnOutcome != nil {
		self.OnOutcome(*p, o)
	}
}

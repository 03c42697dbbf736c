// Package bridge is the single event loop: switch frames, local button,
// console and transport outcomes are queued with Post and handled one at
// a time in arrival order.
package bridge

import (
	"fmt"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/enomesh/internal/debounce"
	"github.com/temoto/enomesh/internal/onoff"
	"github.com/temoto/enomesh/internal/persist"
	"github.com/temoto/enomesh/internal/ptm"
	"github.com/temoto/enomesh/internal/secmat"
	"github.com/temoto/enomesh/internal/tele"
	"github.com/temoto/enomesh/log2"
)

// stop checkpoint waits at most this long for in-flight write
const stopPersistTimeout = 2 * time.Second

// Reporter is telemetry sink, *tele.Tele.
type Reporter interface {
	Report(tele.Report)
}

type Config struct {
	QueueSize  int
	Checkpoint time.Duration
	AckRetries int
	Verifier   ptm.Verifier // nil = ptm.CCMVerifier
}

type Bridge struct {
	log        *log2.Log
	store      *secmat.Store
	decoder    *ptm.Decoder
	detector   debounce.Detector
	translator onoff.Translator
	dispatcher *onoff.Dispatcher
	reporter   Reporter
	eventch    chan Event
	donech     chan func() // completions of async work, never dropped
	stopped    chan struct{}
	checkpoint time.Duration
	local      bool // local on/off flag, toggled by button
	clock      func() time.Time
}

func New(log *log2.Log, store *secmat.Store, transport onoff.Transport, reporter Reporter, config Config) *Bridge {
	if store == nil || transport == nil || reporter == nil {
		panic("code error bridge.New store, transport and reporter required")
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 1
	}
	self := &Bridge{
		log:        log,
		store:      store,
		decoder:    ptm.NewDecoder(store, config.Verifier),
		reporter:   reporter,
		eventch:    make(chan Event, config.QueueSize),
		donech:     make(chan func()),
		stopped:    make(chan struct{}),
		checkpoint: config.Checkpoint,
		clock:      time.Now,
	}
	self.dispatcher = onoff.NewDispatcher(log, transport, self.Complete, config.AckRetries)
	self.dispatcher.OnOutcome = self.onOutcome
	store.OnRegister(func(idx secmat.Index, r secmat.Record) {
		self.detector.Reset(idx)
		self.log.Debugf("bridge debounce reset index=%d %s", idx, r)
	})
	return self
}

// Restore loads enrolled devices, call before Run.
func (self *Bridge) Restore() error {
	if err := self.store.Restore(); err != nil {
		return errors.Annotate(err, "bridge")
	}
	self.reporter.Report(tele.Report{Kind: tele.KindBoot, Message: fmt.Sprintf("devices=%d", self.store.Len())})
	return nil
}

// Post never blocks, event is dropped when queue is full.
func (self *Bridge) Post(e Event) bool {
	select {
	case self.eventch <- e:
		return true
	default:
		self.log.Errorf("bridge queue full, dropped %s", e.String())
		return false
	}
}

// PostFunc queues f as event, dropped when queue is full. See Complete.
func (self *Bridge) PostFunc(f func()) bool { return self.Post(Event{Kind: EventFunc, Func: f}) }

func (self *Bridge) PostFrame(f ptm.Frame) bool { return self.Post(Event{Kind: EventFrame, Frame: f}) }

func (self *Bridge) PostPress(source string) bool {
	return self.Post(Event{Kind: EventPress, Source: source})
}

// Complete runs f on event loop, blocks until loop takes it.
// It is for transport and storage goroutines: their results bypass the
// event queue and are lost only after Run returned.
func (self *Bridge) Complete(f func()) bool {
	select {
	case self.donech <- f:
		return true
	case <-self.stopped:
		self.log.Infof("bridge stopped, completion dropped")
		return false
	}
}

// PersistDone is persist.Files.OnComplete, called from writer goroutine.
func (self *Bridge) PersistDone(key string, err error) {
	if key != secmat.PersistKey {
		return
	}
	self.Complete(func() {
		self.store.PersistDone(err)
		if err != nil {
			self.reportPersistFailed(err)
		}
	})
}

// Run handles events until stopch is closed, then persists advanced counters.
func (self *Bridge) Run(stopch <-chan struct{}) {
	defer close(self.stopped)
	var tickch <-chan time.Time
	if self.checkpoint > 0 {
		ticker := time.NewTicker(self.checkpoint)
		defer ticker.Stop()
		tickch = ticker.C
	}
	for {
		select {
		case e := <-self.eventch:
			self.Handle(e)
		case f := <-self.donech:
			f()
		case <-tickch:
			self.Handle(Event{Kind: EventCheckpoint})
		case <-stopch:
			self.stop()
			return
		}
	}
}

// Handle runs event to completion. Exported for tests and single threaded tools.
// Frame and press are triggering events: failed persist is retried once before them.
func (self *Bridge) Handle(e Event) {
	switch e.Kind {
	case EventFrame:
		self.store.RetryPending()
		self.handleFrame(e.Frame)
	case EventPress:
		self.store.RetryPending()
		self.handlePress(e.Source)
	case EventFunc:
		e.Func()
	case EventCheckpoint:
		self.handleCheckpoint()
	case EventPersist:
		self.handlePersist()
	default:
		panic(fmt.Sprintf("code error bridge unknown event=%s", e.String()))
	}
}

func (self *Bridge) handleFrame(f ptm.Frame) {
	res, err := self.decoder.Decode(f)
	if err != nil {
		switch {
		case ptm.IsMalformed(err), ptm.IsUnknownDevice(err):
			self.log.Debugf("bridge frame %s err=%v", f, err)
		case ptm.IsAuthFailure(err), ptm.IsReplay(err):
			self.log.Infof("bridge frame rejected err=%v", err)
		default:
			self.log.Error(errors.Annotate(err, "bridge frame"))
		}
		return
	}
	switch res.Kind {
	case ptm.KindCommission:
		self.enroll(res.Commission)
	case ptm.KindStatus:
		self.handleStatus(res)
	}
}

func (self *Bridge) enroll(c ptm.Commission) {
	tries := self.store.PersistAttempts()
	idx, err := self.store.Enroll(c.Addr, c.Key, c.Seq)
	if err != nil {
		if secmat.IsStoreFull(err) {
			self.log.Errorf("bridge commissioning addr=%s rejected: store full", c.Addr)
			self.reporter.Report(tele.Report{Kind: tele.KindStoreFull, Device: c.Addr.String(), Seq: c.Seq})
			return
		}
		self.log.Error(errors.Annotate(err, "bridge enroll"))
		return
	}
	self.log.Infof("bridge enrolled addr=%s index=%d seq=%d", c.Addr, idx, c.Seq)
	self.reporter.Report(tele.Report{Kind: tele.KindEnrolled, Device: c.Addr.String(), Seq: c.Seq})
	if self.store.PersistAttempts() != tries && self.store.PersistPending() {
		self.reportPersistFailed(errors.New("deferred"))
	}
}

func (self *Bridge) handleStatus(res ptm.Result) {
	t, ok := self.detector.Feed(res.Index, res.Status, self.clock())
	if !ok {
		self.log.Debugf("bridge index=%d seq=%d status=%s no transition", res.Index, res.Seq, res.Status)
		return
	}
	set := self.translator.Translate(t.Button)
	self.log.Infof("bridge %s -> %s", t, set)
	if err := self.dispatcher.SendUnacknowledged(set); err != nil {
		self.log.Error(err)
	}
}

func (self *Bridge) handlePress(source string) {
	self.local = !self.local
	set := self.translator.Next(self.local)
	self.log.Infof("bridge local button source=%s %s", source, set)
	if err := self.dispatcher.SendAcknowledged(set); err != nil {
		self.log.Error(err)
	}
}

func (self *Bridge) handleCheckpoint() {
	if err := self.store.Checkpoint(); err != nil {
		if persist.IsBusy(err) || persist.IsNotSupported(err) {
			self.log.Debugf("bridge checkpoint deferred err=%v", err)
			return
		}
		self.log.Error(err)
		self.reportPersistFailed(err)
	}
}

func (self *Bridge) handlePersist() {
	err := self.store.Persist()
	if err != nil {
		self.log.Errorf("bridge persist err=%v", err)
		self.reportPersistFailed(err)
		return
	}
	self.log.Infof("bridge persist requested devices=%d", self.store.Len())
}

func (self *Bridge) onOutcome(p onoff.Pending, o onoff.Outcome) {
	self.reporter.Report(tele.Report{Kind: tele.KindAck, TID: p.TID, OnOff: p.Target, Outcome: o.String()})
}

func (self *Bridge) reportPersistFailed(err error) {
	self.reporter.Report(tele.Report{Kind: tele.KindPersistFailed, Message: err.Error()})
}

func (self *Bridge) stop() {
	deadline := self.clock().Add(stopPersistTimeout)
	for {
		err := self.store.Checkpoint()
		if err == nil || persist.IsNotSupported(err) {
			return
		}
		if !persist.IsBusy(err) || self.clock().After(deadline) {
			self.log.Errorf("bridge stop checkpoint err=%v", err)
			return
		}
		// write completion arrives through donech
		select {
		case f := <-self.donech:
			f()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// Local returns state of local on/off flag, must run on event loop.
func (self *Bridge) Local() bool { return self.local }

// Store must be used only on event loop, see Complete.
func (self *Bridge) Store() *secmat.Store { return self.store }

// Dispatcher must be used only on event loop, see Complete.
func (self *Bridge) Dispatcher() *onoff.Dispatcher { return self.dispatcher }

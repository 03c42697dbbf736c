package mesh

import (
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/enomesh/helpers"
	"github.com/temoto/enomesh/internal/mqtt"
	"github.com/temoto/enomesh/internal/onoff"
	"github.com/temoto/enomesh/log2"
)

const (
	DefaultTopicPrefix = "mesh"
	DefaultAckTimeout  = 2 * time.Second
	DefaultAckRetries  = 2
)

type Config struct {
	TopicPrefix    string `hcl:"topic_prefix"`
	ElementAddress int    `hcl:"element_address"`
	PublishAddress int    `hcl:"publish_address"`
	AckTimeoutMs   int    `hcl:"ack_timeout_ms"`
	AckRetries     *int   `hcl:"ack_retries"`
	ServerEnable   bool   `hcl:"server_enable"`
}

func (c Config) Retries() int {
	if c.AckRetries == nil {
		return DefaultAckRetries
	}
	return *c.AckRetries
}

func (c Config) prefix() string {
	if c.TopicPrefix == "" {
		return DefaultTopicPrefix
	}
	return c.TopicPrefix
}

// TopicTx carries messages from this node to gateway.
func (c Config) TopicTx() string { return c.prefix() + "/tx" }

// TopicRx carries messages from gateway to this node.
func (c Config) TopicRx() string { return c.prefix() + "/rx" }

type waiter struct {
	dst    uint16
	future *helpers.Future
}

// Transport is generic on/off client over gateway topics.
// Acknowledged set completes when gateway delivers status from destination.
type Transport struct {
	log        *log2.Log
	ps         mqtt.PubSub
	src        uint16
	dst        uint16
	topicTx    string
	ackTimeout time.Duration

	mu      sync.Mutex
	waiters map[uint8]waiter

	// OnStatus observes every received status message, called from
	// mqtt goroutine.
	OnStatus func(Message)
	// OnRequest receives get/set addressed to this node, see Server.
	OnRequest func(Message)
}

func NewTransport(log *log2.Log, ps mqtt.PubSub, config Config) (*Transport, error) {
	if config.ElementAddress <= 0 || config.ElementAddress > 0x7fff {
		return nil, errors.NotValidf("mesh element_address=%d (unicast required)", config.ElementAddress)
	}
	if config.PublishAddress <= 0 || config.PublishAddress > 0xffff {
		return nil, errors.NotValidf("mesh publish_address=%d", config.PublishAddress)
	}
	self := &Transport{
		log:        log,
		ps:         ps,
		src:        uint16(config.ElementAddress),
		dst:        uint16(config.PublishAddress),
		topicTx:    config.TopicTx(),
		ackTimeout: helpers.IntMillisecondDefault(config.AckTimeoutMs, DefaultAckTimeout),
		waiters:    make(map[uint8]waiter),
	}
	if err := ps.Subscribe(config.TopicRx(), 1, self.onMessage); err != nil {
		return nil, errors.Annotate(err, "mesh transport")
	}
	return self, nil
}

func (self *Transport) Src() uint16 { return self.src }

func (self *Transport) setMessage(op Opcode, set onoff.Set) Message {
	return Message{
		Opcode:       op,
		Src:          self.src,
		Dst:          self.dst,
		TID:          set.TID,
		OnOff:        set.OnOff,
		TransitionMs: durationMs(set.Transition),
		DelayMs:      durationMs(set.Delay),
	}
}

// SendUnacknowledged publishes set-unack repeat times, never waits.
func (self *Transport) SendUnacknowledged(set onoff.Set, repeat int) error {
	b, err := self.setMessage(OpSetUnack, set).Marshal()
	if err != nil {
		return err
	}
	if repeat < 1 {
		repeat = 1
	}
	for i := 0; i < repeat; i++ {
		self.ps.PublishAsync(self.topicTx, 0, false, b)
	}
	return nil
}

// SendAcknowledged publishes set and calls done once with outcome.
// Repeat with same tid replaces previous waiter, which is reported cancelled.
func (self *Transport) SendAcknowledged(set onoff.Set, done func(onoff.Outcome)) error {
	m := self.setMessage(OpSet, set)
	b, err := m.Marshal()
	if err != nil {
		return err
	}
	f := helpers.NewFuture()
	self.mu.Lock()
	if old, ok := self.waiters[set.TID]; ok {
		old.future.Cancel(nil)
	}
	self.waiters[set.TID] = waiter{dst: m.Dst, future: f}
	self.mu.Unlock()

	go self.wait(set.TID, f, done)
	self.ps.PublishAsync(self.topicTx, 1, false, b)
	return nil
}

func (self *Transport) Cancel(tid uint8) {
	self.mu.Lock()
	w, ok := self.waiters[tid]
	delete(self.waiters, tid)
	self.mu.Unlock()
	if ok {
		w.future.Cancel(nil)
	}
}

// Publish sends message from this element, used for status replies.
func (self *Transport) Publish(m Message) error {
	m.Src = self.src
	b, err := m.Marshal()
	if err != nil {
		return err
	}
	self.ps.PublishAsync(self.topicTx, 0, false, b)
	return nil
}

func (self *Transport) wait(tid uint8, f *helpers.Future, done func(onoff.Outcome)) {
	completed, err := f.Wait(self.ackTimeout)
	switch {
	case completed:
		done(onoff.OutcomeSuccess)
	case errors.IsTimeout(err):
		self.mu.Lock()
		if w, ok := self.waiters[tid]; ok && w.future == f {
			delete(self.waiters, tid)
		}
		self.mu.Unlock()
		done(onoff.OutcomeTimeout)
	default:
		done(onoff.OutcomeCancelled)
	}
}

func (self *Transport) onMessage(topic string, payload []byte) {
	m, err := ParseMessage(payload)
	if err != nil {
		self.log.Errorf("mesh topic=%s payload=%x err=%v", topic, payload, err)
		return
	}
	self.log.Debugf("mesh received %s", m)
	switch m.Opcode {
	case OpStatus:
		self.completeFrom(m.Src)
		if self.OnStatus != nil {
			self.OnStatus(m)
		}
	case OpGet, OpSet, OpSetUnack:
		if m.Dst != self.src && m.Dst < 0xc000 {
			return
		}
		if self.OnRequest != nil {
			self.OnRequest(m)
		}
	}
}

func (self *Transport) completeFrom(src uint16) {
	self.mu.Lock()
	defer self.mu.Unlock()
	for tid, w := range self.waiters {
		if w.dst == src || w.dst >= 0xc000 {
			w.future.Complete()
			delete(self.waiters, tid)
		}
	}
}

var _ onoff.Transport = &Transport{}

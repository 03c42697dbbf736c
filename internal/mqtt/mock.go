package mqtt

import (
	"strings"
	"sync"

	"github.com/juju/errors"
)

type Message struct {
	Topic   string
	QOS     byte
	Retain  bool
	Payload []byte
}

// Mock is in-process broker, published messages are delivered to
// matching subscribers synchronously.
type Mock struct {
	mu   sync.Mutex
	subs map[string]Handler
	sent []Message
	Err  error // returned from Publish when set
}

func NewMock() *Mock { return &Mock{subs: make(map[string]Handler)} }

func (self *Mock) Publish(topic string, qos byte, retain bool, payload []byte) error {
	self.mu.Lock()
	if self.Err != nil {
		err := self.Err
		self.mu.Unlock()
		return errors.Annotatef(err, "mqtt publish topic=%s", topic)
	}
	self.sent = append(self.sent, Message{Topic: topic, QOS: qos, Retain: retain, Payload: append([]byte(nil), payload...)})
	hs := make([]Handler, 0, 1)
	for filter, h := range self.subs {
		if Match(filter, topic) {
			hs = append(hs, h)
		}
	}
	self.mu.Unlock()
	for _, h := range hs {
		h(topic, payload)
	}
	return nil
}

func (self *Mock) PublishAsync(topic string, qos byte, retain bool, payload []byte) {
	_ = self.Publish(topic, qos, retain, payload)
}

func (self *Mock) Subscribe(topic string, qos byte, h Handler) error {
	self.mu.Lock()
	self.subs[topic] = h
	self.mu.Unlock()
	return nil
}

// Sent returns copy of published messages, optionally only for topic.
func (self *Mock) Sent(topic string) []Message {
	self.mu.Lock()
	defer self.mu.Unlock()
	ms := make([]Message, 0, len(self.sent))
	for _, m := range self.sent {
		if topic == "" || m.Topic == topic {
			ms = append(ms, m)
		}
	}
	return ms
}

func (self *Mock) SetErr(err error) {
	self.mu.Lock()
	self.Err = err
	self.mu.Unlock()
}

// Match reports if topic matches filter with + and # wildcards.
func Match(filter, topic string) bool {
	fs := strings.Split(filter, "/")
	ts := strings.Split(topic, "/")
	for i, f := range fs {
		if f == "#" {
			return true
		}
		if i >= len(ts) {
			return false
		}
		if f != "+" && f != ts[i] {
			return false
		}
	}
	return len(fs) == len(ts)
}

var _ PubSub = &Mock{}

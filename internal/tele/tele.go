// Package tele delivers bridge reports (enrollment, persist failures,
// acknowledged send outcomes, errors) to server over MQTT.
package tele

import (
	"fmt"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/enomesh/helpers"
	"github.com/temoto/enomesh/internal/mqtt"
	"github.com/temoto/enomesh/log2"
	"github.com/temoto/spq"
)

const (
	DefaultTopicPrefix = "enomesh"
	DefaultPersistPath = "/var/lib/enomesh/tele"
)

type Config struct {
	Enable      bool   `hcl:"enable"`
	TopicPrefix string `hcl:"topic_prefix"`
	PersistPath string `hcl:"persist_path"`
	LogDebug    bool   `hcl:"log_debug"`
}

// Tele contract:
// - Init fails only with invalid config or storage, network issues ignored
// - Report blocks at most for disk write
// - reports are delivered at least once, in background
// - disabled Tele accepts and drops reports
type Tele struct {
	config  Config
	log     *log2.Log
	ps      mqtt.PubSub
	q       *spq.Queue
	alive   *alive.Alive
	backoff helpers.Backoff
	topic   string
	source  string
}

func New() *Tele { return &Tele{} }

// source identifies this node in reports, usually mqtt client id.
func (self *Tele) Init(log *log2.Log, ps mqtt.PubSub, config Config, source string) error {
	self.config = config
	self.log = log
	self.ps = ps
	self.source = source
	if self.config.LogDebug {
		self.log.SetLevel(log2.LDebug)
	}
	if !self.config.Enable {
		return nil
	}
	if ps == nil {
		return errors.NotValidf("tele enabled without mqtt")
	}
	prefix := self.config.TopicPrefix
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	self.topic = fmt.Sprintf("%s/%s/report", prefix, source)
	path := self.config.PersistPath
	if path == "" {
		path = DefaultPersistPath
	}
	var err error
	self.q, err = spq.Open(path)
	if err != nil {
		return errors.Annotate(err, "tele queue")
	}
	self.backoff = helpers.Backoff{Min: time.Second, Max: 5 * time.Minute, K: 2}
	self.alive = alive.NewAlive()
	self.alive.Add(1)
	go self.qworker()
	return nil
}

func (self *Tele) Enabled() bool { return self.q != nil }
func (self *Tele) Topic() string { return self.topic }

// Close stops delivery, undelivered reports stay in queue for next start.
func (self *Tele) Close() {
	if self.q == nil {
		return
	}
	self.alive.Stop()
	if err := self.q.Close(); err != nil {
		self.log.Errorf("tele queue close err=%v", err)
	}
	self.alive.Wait()
}

func (self *Tele) Report(r Report) {
	if self.q == nil {
		return
	}
	if r.Time == 0 {
		r.Time = time.Now().UnixNano()
	}
	if r.Source == "" {
		r.Source = self.source
	}
	b, err := r.MarshalBinary()
	if err == nil {
		err = self.q.Push(b)
	}
	if err != nil {
		// not self.log.Error, that would loop through error hook
		self.log.Logf(log2.LError, "CRITICAL tele report=%s err=%v", r, err)
	}
}

// Error is log2.ErrorFunc.
func (self *Tele) Error(err error) {
	self.Report(Report{Kind: KindError, Message: err.Error()})
}

func (self *Tele) qworker() {
	defer self.alive.Done()
	for {
		box, err := self.q.Peek()
		switch err {
		case nil:
			// success path
			b := box.Bytes()
			del := self.qhandle(b)
			if del {
				err = self.q.Delete(box)
			} else {
				err = self.q.DeletePush(box)
			}
			if err != nil && err != spq.ErrClosed {
				self.log.Logf(log2.LError, "tele queue b=%x err=%v", b, err)
			}
			if !del {
				select {
				case <-time.After(self.backoff.DelayBefore()):
				case <-self.alive.StopChan():
					return
				}
			}

		case spq.ErrClosed:
			if self.alive.IsRunning() {
				self.log.Logf(log2.LError, "CRITICAL tele spq closed unexpectedly")
			}
			return

		default:
			self.log.Logf(log2.LError, "CRITICAL tele spq err=%v", err)
			select {
			case <-time.After(time.Second):
			case <-self.alive.StopChan():
				return
			}
		}
	}
}

// qhandle returns true when item should be deleted from queue.
func (self *Tele) qhandle(b []byte) bool {
	var r Report
	if err := r.UnmarshalBinary(b); err != nil {
		self.log.Logf(log2.LError, "tele queue drop invalid b=%x err=%v", b, err)
		return true
	}
	err := self.ps.Publish(self.topic, 1, false, b)
	self.backoff.Update(err == nil)
	if err != nil {
		self.log.Debugf("tele send report=%s err=%v", r, err)
		return false
	}
	self.log.Debugf("tele sent report=%s", r)
	return true
}

// Package radio is raw frame source: BLE scanner publishes received
// advertisements to MQTT, one CBOR envelope per frame.
package radio

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/juju/errors"
	"github.com/temoto/enomesh/internal/mqtt"
	"github.com/temoto/enomesh/internal/ptm"
	"github.com/temoto/enomesh/internal/secmat"
	"github.com/temoto/enomesh/log2"
)

const DefaultTopic = "ble/adv"

type Config struct {
	Topic string `hcl:"topic"`
}

// Advert is scanner envelope.
type Advert struct {
	Addr string `cbor:"1,keyasint"` // AA:BB:CC:DD:EE:FF
	Data []byte `cbor:"2,keyasint"`
	RSSI int8   `cbor:"3,keyasint,omitempty"`
}

func (a Advert) Frame() (ptm.Frame, error) {
	addr, err := secmat.ParseAddr(a.Addr)
	if err != nil {
		return ptm.Frame{}, errors.Annotate(err, "radio advert")
	}
	return ptm.Frame{Addr: addr, Payload: a.Data, RSSI: a.RSSI}, nil
}

func EncodeAdvert(f ptm.Frame) ([]byte, error) {
	b, err := cbor.Marshal(Advert{Addr: f.Addr.String(), Data: f.Payload, RSSI: f.RSSI})
	return b, errors.Annotate(err, "radio encode")
}

func DecodeAdvert(b []byte) (ptm.Frame, error) {
	var a Advert
	if err := cbor.Unmarshal(b, &a); err != nil {
		return ptm.Frame{}, errors.NewNotValid(err, "radio advert")
	}
	return a.Frame()
}

// Source calls OnFrame once per received advertisement,
// from mqtt goroutine.
type Source struct {
	log   *log2.Log
	topic string

	OnFrame func(ptm.Frame)
}

func NewSource(log *log2.Log, config Config, onFrame func(ptm.Frame)) *Source {
	topic := config.Topic
	if topic == "" {
		topic = DefaultTopic
	}
	return &Source{log: log, topic: topic, OnFrame: onFrame}
}

func (self *Source) Topic() string { return self.topic }

func (self *Source) Start(ps mqtt.PubSub) error {
	return errors.Annotate(ps.Subscribe(self.topic, 0, self.handle), "radio subscribe")
}

func (self *Source) handle(topic string, payload []byte) {
	f, err := DecodeAdvert(payload)
	if err != nil {
		self.log.Debugf("radio topic=%s err=%v", topic, err)
		return
	}
	self.OnFrame(f)
}

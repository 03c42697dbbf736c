// Package mesh talks generic on/off model to mesh gateway over MQTT:
// client side for switch and local button commands, server side for
// on/off output of this node.
package mesh

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/juju/errors"
)

type Opcode uint16

const (
	OpGet      Opcode = 0x8201
	OpSet      Opcode = 0x8202
	OpSetUnack Opcode = 0x8203
	OpStatus   Opcode = 0x8204
)

func (o Opcode) String() string {
	switch o {
	case OpGet:
		return "get"
	case OpSet:
		return "set"
	case OpSetUnack:
		return "set-unack"
	case OpStatus:
		return "status"
	}
	return fmt.Sprintf("opcode=%04x", uint16(o))
}

// Message is generic on/off access message as exchanged with gateway.
// Gateway does network/transport layers, addressing is unicast or group.
type Message struct {
	Opcode       Opcode `cbor:"1,keyasint"`
	Src          uint16 `cbor:"2,keyasint"`
	Dst          uint16 `cbor:"3,keyasint"`
	TID          uint8  `cbor:"4,keyasint,omitempty"`
	OnOff        bool   `cbor:"5,keyasint,omitempty"`
	TransitionMs uint32 `cbor:"6,keyasint,omitempty"`
	DelayMs      uint32 `cbor:"7,keyasint,omitempty"`
	Present      bool   `cbor:"8,keyasint,omitempty"`
	Target       bool   `cbor:"9,keyasint,omitempty"`
	RemainingMs  uint32 `cbor:"10,keyasint,omitempty"`
}

func (m Message) String() string {
	switch m.Opcode {
	case OpSet, OpSetUnack:
		return fmt.Sprintf("%s src=%04x dst=%04x tid=%d onoff=%t", m.Opcode, m.Src, m.Dst, m.TID, m.OnOff)
	case OpStatus:
		return fmt.Sprintf("%s src=%04x dst=%04x present=%t target=%t remaining=%dms",
			m.Opcode, m.Src, m.Dst, m.Present, m.Target, m.RemainingMs)
	}
	return fmt.Sprintf("%s src=%04x dst=%04x", m.Opcode, m.Src, m.Dst)
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(fmt.Sprintf("code error mesh cbor EncMode err=%v", err))
	}
	if decMode, err = (cbor.DecOptions{DupMapKey: cbor.DupMapKeyEnforcedAPF}).DecMode(); err != nil {
		panic(fmt.Sprintf("code error mesh cbor DecMode err=%v", err))
	}
}

func (m Message) Marshal() ([]byte, error) {
	b, err := encMode.Marshal(m)
	return b, errors.Annotate(err, "mesh message marshal")
}

func ParseMessage(b []byte) (Message, error) {
	var m Message
	if err := decMode.Unmarshal(b, &m); err != nil {
		return m, errors.NewNotValid(err, "mesh message")
	}
	switch m.Opcode {
	case OpGet, OpSet, OpSetUnack, OpStatus:
	default:
		return m, errors.NotSupportedf("mesh %s", m.Opcode)
	}
	return m, nil
}

func durationMs(d time.Duration) uint32 { return uint32(d / time.Millisecond) }

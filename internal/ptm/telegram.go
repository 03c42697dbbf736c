// Package ptm decodes PTM215B switch advertisements: data telegrams
// (authenticated button status) and commissioning telegrams (key material).
package ptm

import (
	"encoding/binary"
	"fmt"

	"github.com/juju/errors"
	"github.com/temoto/enomesh/internal/secmat"
)

const (
	adTypeManufacturer = 0xff
	manufacturerID     = 0x03da

	// length byte counts type, manufacturer, seq, status, optional, signature
	dataLenMin   = 0x0c
	commLen      = 0x1d
	headLen      = 4 // length, type, manufacturer
	seqLen       = 4
	sigLen       = micLen
	commKeyStart = headLen + seqLen
	commAddrEnd  = commKeyStart + secmat.KeyLen + secmat.AddrLen
)

// Frame is one received advertisement as delivered by frame source.
type Frame struct {
	Addr    secmat.Addr
	Payload []byte // advertising data, sequence of length-type-value structures
	RSSI    int8
}

func (f Frame) String() string { return fmt.Sprintf("addr=%s rssi=%d payload=%x", f.Addr, f.RSSI, f.Payload) }

const (
	StatusAction = 1 << iota
	StatusA0
	StatusA1
	StatusB0
	StatusB1
)

type Status struct {
	A0, A1, B0, B1 bool
	Action         bool // true=pressed
	Raw            byte
}

func ParseStatus(b byte) Status {
	return Status{
		Action: b&StatusAction != 0,
		A0:     b&StatusA0 != 0,
		A1:     b&StatusA1 != 0,
		B0:     b&StatusB0 != 0,
		B1:     b&StatusB1 != 0,
		Raw:    b,
	}
}

func (s Status) Any() bool { return s.A0 || s.A1 || s.B0 || s.B1 }

func (s Status) String() string {
	action := "release"
	if s.Action {
		action = "press"
	}
	return fmt.Sprintf("%s a0=%t a1=%t b0=%t b1=%t", action, s.A0, s.A1, s.B0, s.B1)
}

// Commission is key material announced by switch in commissioning mode.
type Commission struct {
	Addr secmat.Addr
	Key  secmat.Key
	Seq  uint32
}

// telegram is manufacturer specific structure with length byte,
// signature still attached for data telegram.
type telegram []byte

// findTelegram returns EnOcean manufacturer structure from advertising data.
// Structures of other manufacturers are skipped.
func findTelegram(adv []byte) (telegram, error) {
	foreign := -1
	for len(adv) > 0 {
		n := int(adv[0])
		if n == 0 {
			break
		}
		if n+1 > len(adv) {
			return nil, errors.Annotatef(ErrMalformed, "structure length=%d remaining=%d", n, len(adv))
		}
		ad := adv[:n+1]
		adv = adv[n+1:]
		if n >= 3 && ad[1] == adTypeManufacturer {
			if id := binary.LittleEndian.Uint16(ad[2:4]); id != manufacturerID {
				foreign = int(id)
				continue
			}
			return telegram(ad), nil
		}
	}
	if foreign >= 0 {
		return nil, errors.Annotatef(ErrMalformed, "manufacturer=%04x", foreign)
	}
	return nil, errors.Annotate(ErrMalformed, "no manufacturer data")
}

func (t telegram) isCommission() bool { return t[0] == commLen }

func (t telegram) seq() uint32 { return binary.LittleEndian.Uint32(t[headLen:]) }

func (t telegram) validData() bool {
	switch optional := int(t[0]) - dataLenMin; optional {
	case 0, 1, 2, 4:
		return true
	}
	return false
}

// split data telegram into authenticated part, status byte and signature.
func (t telegram) data() (aad []byte, status byte, sig []byte) {
	aad = t[:len(t)-sigLen]
	return aad, t[headLen+seqLen], t[len(t)-sigLen:]
}

func (t telegram) commission() Commission {
	c := Commission{Seq: t.seq()}
	copy(c.Key[:], t[commKeyStart:])
	copy(c.Addr[:], t[commKeyStart+secmat.KeyLen:commAddrEnd])
	return c
}

// BuildData returns signed data telegram, as switch would broadcast it.
func BuildData(key secmat.Key, addr secmat.Addr, seq uint32, status byte, optional []byte) ([]byte, error) {
	switch len(optional) {
	case 0, 1, 2, 4:
	default:
		return nil, errors.NotValidf("optional data length=%d", len(optional))
	}
	b := make([]byte, 0, headLen+seqLen+1+len(optional)+sigLen)
	b = append(b, byte(dataLenMin+len(optional)), adTypeManufacturer, 0xda, 0x03)
	b = append(b, 0, 0, 0, 0)
	binary.LittleEndian.PutUint32(b[headLen:], seq)
	b = append(b, status)
	b = append(b, optional...)
	sig, err := Sign(key, addr, seq, b)
	if err != nil {
		return nil, errors.Annotate(err, "BuildData")
	}
	return append(b, sig...), nil
}

// BuildCommission returns commissioning telegram.
func BuildCommission(c Commission) []byte {
	b := make([]byte, commAddrEnd)
	b[0], b[1], b[2], b[3] = commLen, adTypeManufacturer, 0xda, 0x03
	binary.LittleEndian.PutUint32(b[headLen:], c.Seq)
	copy(b[commKeyStart:], c.Key[:])
	copy(b[commKeyStart+secmat.KeyLen:], c.Addr[:])
	return b
}

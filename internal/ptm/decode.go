package ptm

import (
	"github.com/juju/errors"
	"github.com/temoto/enomesh/internal/secmat"
)

var (
	ErrMalformed     = errors.New("ptm: malformed telegram")
	ErrUnknownDevice = errors.New("ptm: unknown device")
	ErrAuthFailure   = errors.New("ptm: authentication failure")
	ErrReplay        = errors.New("ptm: replay")
)

func IsMalformed(err error) bool     { return errors.Cause(err) == ErrMalformed }
func IsUnknownDevice(err error) bool { return errors.Cause(err) == ErrUnknownDevice }
func IsAuthFailure(err error) bool   { return errors.Cause(err) == ErrAuthFailure }
func IsReplay(err error) bool        { return errors.Cause(err) == ErrReplay }

// Registry is the part of secmat.Store used by Decoder.
type Registry interface {
	Lookup(secmat.Addr) (secmat.Index, error)
	Record(secmat.Index) secmat.Record
	AcceptCounter(secmat.Index, uint32) bool
}

type Kind uint8

const (
	KindInvalid Kind = iota
	KindStatus
	KindCommission
)

func (k Kind) String() string {
	switch k {
	case KindStatus:
		return "status"
	case KindCommission:
		return "commission"
	}
	return "invalid"
}

type Result struct {
	Kind       Kind
	Index      secmat.Index // KindStatus only
	Seq        uint32
	Status     Status     // KindStatus only
	Commission Commission // KindCommission only
}

type Decoder struct {
	Registry Registry
	Verifier Verifier
}

func NewDecoder(r Registry, v Verifier) *Decoder {
	if r == nil {
		panic("code error ptm.NewDecoder registry=nil")
	}
	if v == nil {
		v = CCMVerifier{}
	}
	return &Decoder{Registry: r, Verifier: v}
}

// Decode validates frame and returns status of enrolled device or
// commissioning key material. Accepted status advances stored counter.
func (self *Decoder) Decode(f Frame) (Result, error) {
	t, err := findTelegram(f.Payload)
	if err != nil {
		return Result{}, err
	}
	if t.isCommission() {
		return Result{Kind: KindCommission, Seq: t.seq(), Commission: t.commission()}, nil
	}
	if !t.validData() {
		return Result{}, errors.Annotatef(ErrMalformed, "length=%d", t[0])
	}

	idx, err := self.Registry.Lookup(f.Addr)
	if err != nil {
		return Result{}, errors.Annotatef(ErrUnknownDevice, "addr=%s", f.Addr)
	}
	rec := self.Registry.Record(idx)
	seq := t.seq()
	aad, status, sig := t.data()
	if !self.Verifier.Verify(rec.Key, f.Addr, seq, aad, sig) {
		return Result{}, errors.Annotatef(ErrAuthFailure, "addr=%s seq=%d", f.Addr, seq)
	}
	if !self.Registry.AcceptCounter(idx, seq) {
		return Result{}, errors.Annotatef(ErrReplay, "addr=%s seq=%d stored=%d", f.Addr, seq, rec.Seq)
	}
	return Result{Kind: KindStatus, Index: idx, Seq: seq, Status: ParseStatus(status)}, nil
}

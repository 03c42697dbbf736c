package tele

import (
	"fmt"

	"github.com/golang/protobuf/proto"
	"github.com/juju/errors"
)

type Kind string

const (
	KindBoot          Kind = "boot"
	KindEnrolled      Kind = "enrolled"
	KindStoreFull     Kind = "store_full"
	KindPersistFailed Kind = "persist_failed"
	KindAck           Kind = "ack"
	KindCommand       Kind = "command"
	KindError         Kind = "error"
)

type Report struct {
	Time    int64 // unix nanoseconds
	Source  string
	Kind    Kind
	Device  string
	Seq     uint32
	TID     uint8
	OnOff   bool
	Outcome string
	Message string
}

func (r Report) String() string {
	s := fmt.Sprintf("kind=%s", r.Kind)
	if r.Device != "" {
		s += " device=" + r.Device
	}
	if r.Outcome != "" {
		s += fmt.Sprintf(" tid=%d outcome=%s", r.TID, r.Outcome)
	}
	if r.Message != "" {
		s += " message=" + r.Message
	}
	return s
}

func (r Report) Telemetry() *Telemetry {
	return &Telemetry{
		Time:    r.Time,
		Source:  r.Source,
		Kind:    string(r.Kind),
		Device:  r.Device,
		Seq:     r.Seq,
		Tid:     uint32(r.TID),
		OnOff:   r.OnOff,
		Outcome: r.Outcome,
		Message: r.Message,
	}
}

func (r Report) MarshalBinary() ([]byte, error) {
	b, err := proto.Marshal(r.Telemetry())
	return b, errors.Annotate(err, "tele report marshal")
}

func (r *Report) UnmarshalBinary(b []byte) error {
	var tm Telemetry
	if err := proto.Unmarshal(b, &tm); err != nil {
		return errors.NewNotValid(err, "tele report")
	}
	if tm.Kind == "" {
		return errors.NotValidf("tele report kind empty")
	}
	if tm.Tid > 0xff {
		return errors.NotValidf("tele report tid=%d", tm.Tid)
	}
	*r = Report{
		Time:    tm.Time,
		Source:  tm.Source,
		Kind:    Kind(tm.Kind),
		Device:  tm.Device,
		Seq:     tm.Seq,
		TID:     uint8(tm.Tid),
		OnOff:   tm.OnOff,
		Outcome: tm.Outcome,
		Message: tm.Message,
	}
	return nil
}

package tele

import (
	"github.com/golang/protobuf/proto"
)

// Telemetry is wire form of Report, see tele.proto.
type Telemetry struct {
	Time    int64  `protobuf:"varint,1,opt,name=time,proto3" json:"time,omitempty"`
	Source  string `protobuf:"bytes,2,opt,name=source,proto3" json:"source,omitempty"`
	Kind    string `protobuf:"bytes,3,opt,name=kind,proto3" json:"kind,omitempty"`
	Device  string `protobuf:"bytes,4,opt,name=device,proto3" json:"device,omitempty"`
	Seq     uint32 `protobuf:"varint,5,opt,name=seq,proto3" json:"seq,omitempty"`
	Tid     uint32 `protobuf:"varint,6,opt,name=tid,proto3" json:"tid,omitempty"`
	OnOff   bool   `protobuf:"varint,7,opt,name=on_off,json=onOff,proto3" json:"on_off,omitempty"`
	Outcome string `protobuf:"bytes,8,opt,name=outcome,proto3" json:"outcome,omitempty"`
	Message string `protobuf:"bytes,9,opt,name=message,proto3" json:"message,omitempty"`
}

func (m *Telemetry) Reset()         { *m = Telemetry{} }
func (m *Telemetry) String() string { return proto.CompactTextString(m) }
func (*Telemetry) ProtoMessage()    {}

var _ proto.Message = &Telemetry{}

package tele

import (
	"fmt"
	"testing"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/enomesh/internal/mqtt"
	"github.com/temoto/enomesh/log2"
	"github.com/temoto/spq"
)

func receive(t testing.TB, ch <-chan Report) Report {
	select {
	case r := <-ch:
		return r
	case <-time.After(10 * time.Second):
		t.Fatal("report not delivered")
	}
	return Report{}
}

func TestDisabled(t *testing.T) {
	t.Parallel()

	tl := New()
	require.NoError(t, tl.Init(log2.NewTest(t, log2.LDebug), nil, Config{}, "node1"))
	assert.False(t, tl.Enabled())
	tl.Report(Report{Kind: KindBoot})
	tl.Close()

	err := New().Init(log2.NewTest(t, log2.LDebug), nil, Config{Enable: true}, "node1")
	assert.Error(t, err)
}

func TestDelivery(t *testing.T) {
	t.Parallel()

	ps := mqtt.NewMock()
	got := make(chan Report, 10)
	require.NoError(t, ps.Subscribe("test/node1/report", 1, func(topic string, payload []byte) {
		var r Report
		require.NoError(t, r.UnmarshalBinary(payload))
		got <- r
	}))
	log := log2.NewTest(t, log2.LDebug)
	tl := New()
	require.NoError(t, tl.Init(log, ps, Config{Enable: true, TopicPrefix: "test", PersistPath: spq.OnlyForTesting}, "node1"))
	defer tl.Close()
	assert.Equal(t, "test/node1/report", tl.Topic())

	tl.Report(Report{Kind: KindEnrolled, Device: "E2:15:00:00:19:B8", Seq: 7})
	r := receive(t, got)
	assert.Equal(t, KindEnrolled, r.Kind)
	assert.Equal(t, "node1", r.Source)
	assert.Equal(t, uint32(7), r.Seq)
	assert.NotZero(t, r.Time)

	log.SetErrorFunc(tl.Error)
	log.Errorf("disk on fire")
	r = receive(t, got)
	assert.Equal(t, KindError, r.Kind)
	assert.Equal(t, "disk on fire", r.Message)
}

func TestRetry(t *testing.T) {
	t.Parallel()

	ps := mqtt.NewMock()
	ps.SetErr(fmt.Errorf("offline"))
	got := make(chan Report, 10)
	require.NoError(t, ps.Subscribe("enomesh/node1/report", 1, func(topic string, payload []byte) {
		var r Report
		require.NoError(t, r.UnmarshalBinary(payload))
		got <- r
	}))
	tl := New()
	require.NoError(t, tl.Init(log2.NewTest(t, log2.LDebug), ps, Config{Enable: true, PersistPath: spq.OnlyForTesting}, "node1"))
	defer tl.Close()

	tl.Report(Report{Kind: KindAck, TID: 4, Outcome: "timeout"})
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, got, 0)
	ps.SetErr(nil)
	r := receive(t, got)
	assert.Equal(t, KindAck, r.Kind)
	assert.Equal(t, "timeout", r.Outcome)
}

func TestReportWire(t *testing.T) {
	t.Parallel()

	r := Report{Time: 1, Source: "node1", Kind: KindAck, TID: 255, OnOff: true, Outcome: "success"}
	const expect = `time:1 source:"node1" kind:"ack" tid:255 on_off:true outcome:"success" `
	require.Equal(t, expect, proto.CompactTextString(r.Telemetry()))
	b, err := r.MarshalBinary()
	require.NoError(t, err)
	var r2 Report
	require.NoError(t, r2.UnmarshalBinary(b))
	assert.Equal(t, r, r2)
}

func TestReportInvalid(t *testing.T) {
	t.Parallel()

	var r Report
	assert.Error(t, r.UnmarshalBinary(nil), "kind empty")
	assert.Error(t, r.UnmarshalBinary([]byte{0x08}), "truncated varint")
	b, err := proto.Marshal(&Telemetry{Kind: "ack", Tid: 300})
	require.NoError(t, err)
	assert.Error(t, r.UnmarshalBinary(b))
}

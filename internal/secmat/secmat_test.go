package secmat

import (
	"fmt"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/enomesh/internal/persist"
	"github.com/temoto/enomesh/log2"
)

func testAddr(n byte) Addr { return Addr{n, 0x19, 0x00, 0x00, 0x15, 0xe2} }
func testKey(n byte) Key {
	var k Key
	for i := range k {
		k[i] = n + byte(i)
	}
	return k
}

func TestAddrString(t *testing.T) {
	t.Parallel()

	a := Addr{0xb8, 0x19, 0x00, 0x00, 0x15, 0xe2}
	assert.Equal(t, "E2:15:00:00:19:B8", a.String())
	b, err := ParseAddr(a.String())
	require.NoError(t, err)
	assert.Equal(t, a, b)
	b, err = ParseAddr("e215000019b8")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	_, err = ParseAddr("e2150000")
	assert.True(t, errors.IsNotValid(err))
}

func TestEnrollCapacity(t *testing.T) {
	t.Parallel()

	mem := persist.NewMemory()
	s := NewStore(log2.NewTest(t, log2.LDebug), mem)
	for i := 0; i < MaxDevices; i++ {
		idx, err := s.Enroll(testAddr(byte(i)), testKey(byte(i)), uint32(i))
		require.NoError(t, err)
		assert.Equal(t, Index(i), idx)
	}
	before := s.Records()

	_, err := s.Enroll(testAddr(0xff), testKey(0xff), 1)
	assert.True(t, IsStoreFull(err), "err=%v", err)
	assert.Equal(t, MaxDevices, s.Len())
	assert.Equal(t, before, s.Records())

	// re-enroll of known address never exhausts capacity
	for i := 0; i < MaxDevices; i++ {
		idx, err := s.Enroll(testAddr(byte(i)), testKey(byte(i+10)), 100)
		require.NoError(t, err)
		assert.Equal(t, Index(i), idx)
		assert.Equal(t, testKey(byte(i+10)), s.Record(idx).Key)
		assert.Equal(t, uint32(100), s.Record(idx).Seq)
	}
	assert.Equal(t, MaxDevices, s.Len())
}

func TestEnrollPersist(t *testing.T) {
	t.Parallel()

	mem := persist.NewMemory()
	s := NewStore(log2.NewTest(t, log2.LDebug), mem)
	_, err := s.Enroll(testAddr(1), testKey(1), 5)
	require.NoError(t, err)
	assert.Equal(t, 1, mem.Stores())

	// unchanged re-enroll does not write
	_, err = s.Enroll(testAddr(1), testKey(1), 5)
	require.NoError(t, err)
	assert.Equal(t, 1, mem.Stores())

	mem.SetBusy(true)
	idx, err := s.Enroll(testAddr(2), testKey(2), 7)
	require.NoError(t, err, "persist failure is not enroll failure")
	assert.Equal(t, 2, s.Len())
	assert.True(t, s.PersistPending())
	assert.Equal(t, Index(1), idx)

	// still busy: one attempt, stays pending
	s.RetryPending()
	assert.True(t, s.PersistPending())
	assert.Equal(t, 1, mem.Stores())

	mem.SetBusy(false)
	s.RetryPending()
	assert.False(t, s.PersistPending())
	assert.Equal(t, 2, mem.Stores())
	s.RetryPending()
	assert.Equal(t, 2, mem.Stores())
}

func TestPersistDoneFailure(t *testing.T) {
	t.Parallel()

	s := NewStore(log2.NewTest(t, log2.LDebug), persist.NewMemory())
	_, err := s.Enroll(testAddr(1), testKey(1), 5)
	require.NoError(t, err)
	assert.False(t, s.PersistPending())
	s.PersistDone(fmt.Errorf("disk full"))
	assert.True(t, s.PersistPending())
}

func TestAcceptCounter(t *testing.T) {
	t.Parallel()

	s := NewStore(log2.NewTest(t, log2.LDebug), nil)
	idx, err := s.Enroll(testAddr(0xaa), testKey(1), 10)
	require.NoError(t, err)
	assert.False(t, s.Dirty())

	cases := []struct {
		seq    uint32
		expect bool
		stored uint32
	}{
		{11, true, 11},
		{11, false, 11},
		{9, false, 11},
		{0, false, 11},
		{1000, true, 1000},
	}
	for _, c := range cases {
		assert.Equal(t, c.expect, s.AcceptCounter(idx, c.seq), "seq=%d", c.seq)
		assert.Equal(t, c.stored, s.Record(idx).Seq)
	}
	assert.True(t, s.Dirty())
}

func TestIndexOutOfRange(t *testing.T) {
	t.Parallel()

	s := NewStore(log2.NewTest(t, log2.LDebug), nil)
	assert.Panics(t, func() { s.Record(0) })
	assert.Panics(t, func() { s.AcceptCounter(-1, 1) })
}

func TestLookup(t *testing.T) {
	t.Parallel()

	s := NewStore(log2.NewTest(t, log2.LDebug), nil)
	_, err := s.Lookup(testAddr(1))
	assert.True(t, IsNotFound(err))
	_, _ = s.Enroll(testAddr(1), testKey(1), 0)
	_, _ = s.Enroll(testAddr(2), testKey(2), 0)
	idx, err := s.Lookup(testAddr(2))
	require.NoError(t, err)
	assert.Equal(t, Index(1), idx)
}

func TestRestore(t *testing.T) {
	t.Parallel()

	log := log2.NewTest(t, log2.LDebug)
	mem := persist.NewMemory()

	empty := NewStore(log, mem)
	require.NoError(t, empty.Restore())
	assert.Equal(t, 0, empty.Len())

	s1 := NewStore(log, mem)
	_, _ = s1.Enroll(testAddr(1), testKey(1), 0x01020304)
	_, _ = s1.Enroll(testAddr(2), testKey(2), 0xfffffffe)
	require.NoError(t, s1.Persist())

	s2 := NewStore(log, mem)
	registered := []Index{}
	s2.OnRegister(func(idx Index, r Record) { registered = append(registered, idx) })
	require.NoError(t, s2.Restore())
	assert.Equal(t, s1.Records(), s2.Records())
	assert.Equal(t, []Index{0, 1}, registered)

	b1, _ := s1.MarshalBinary()
	b2, _ := s2.MarshalBinary()
	assert.Equal(t, b1, b2)
	assert.Len(t, b1, BlobLen)
}

func TestCheckpoint(t *testing.T) {
	t.Parallel()

	mem := persist.NewMemory()
	s := NewStore(log2.NewTest(t, log2.LDebug), mem)
	idx, _ := s.Enroll(testAddr(1), testKey(1), 0)
	require.NoError(t, s.Checkpoint())
	assert.Equal(t, 1, mem.Stores())
	s.AcceptCounter(idx, 3)
	require.NoError(t, s.Checkpoint())
	assert.Equal(t, 2, mem.Stores())
	assert.False(t, s.Dirty())
}

func TestUnmarshalInvalid(t *testing.T) {
	t.Parallel()

	s := NewStore(log2.NewTest(t, log2.LDebug), nil)
	_, _ = s.Enroll(testAddr(1), testKey(1), 0)
	_, _ = s.Enroll(testAddr(2), testKey(2), 0)
	good, _ := s.MarshalBinary()
	mutate := func(f func(b []byte) []byte) []byte {
		b := append([]byte(nil), good...)
		return f(b)
	}
	cases := []struct {
		name string
		b    []byte
	}{
		{"short", good[:BlobLen-1]},
		{"magic", mutate(func(b []byte) []byte { b[0] = 'X'; return b })},
		{"version", mutate(func(b []byte) []byte { b[2] = 9; return b })},
		{"count", mutate(func(b []byte) []byte { b[3] = MaxDevices + 1; return b })},
		{"duplicate", mutate(func(b []byte) []byte {
			copy(b[blobHeadLen+blobSlotLen:], b[blobHeadLen:blobHeadLen+AddrLen])
			return b
		})},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			target := NewStore(log2.NewTest(t, log2.LDebug), nil)
			_, _ = target.Enroll(testAddr(9), testKey(9), 9)
			err := target.UnmarshalBinary(c.b)
			assert.True(t, errors.IsNotValid(err), "err=%v", err)
			assert.Equal(t, 1, target.Len())
		})
	}
}

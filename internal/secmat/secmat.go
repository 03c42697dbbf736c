// Package secmat is the security material store: bounded table of enrolled
// switches binding radio address to AES key and rolling sequence counter.
//
// Store is not safe for concurrent use. All calls must come from the
// bridge event loop.
package secmat

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/juju/errors"
	"github.com/temoto/enomesh/helpers"
	"github.com/temoto/enomesh/internal/persist"
	"github.com/temoto/enomesh/log2"
)

const (
	MaxDevices = 2
	AddrLen    = 6
	KeyLen     = 16

	PersistKey = "secmat"
)

var (
	ErrStoreFull = errors.New("secmat: store full")
	ErrNotFound  = errors.New("secmat: address not enrolled")
)

func IsStoreFull(err error) bool { return errors.Cause(err) == ErrStoreFull }
func IsNotFound(err error) bool  { return errors.Cause(err) == ErrNotFound }

// Addr is kept in over-the-air byte order (least significant first).
type Addr [AddrLen]byte

// String is conventional BLE notation, most significant byte first.
func (a Addr) String() string {
	var sb strings.Builder
	for i := AddrLen - 1; i >= 0; i-- {
		fmt.Fprintf(&sb, "%02X", a[i])
		if i > 0 {
			sb.WriteByte(':')
		}
	}
	return sb.String()
}

// ParseAddr accepts String() format or 12 hex digits, most significant first.
func ParseAddr(s string) (Addr, error) {
	var a Addr
	b, err := helpers.ParseHex(s)
	if err != nil {
		return a, errors.Annotatef(err, "ParseAddr s=%s", s)
	}
	if len(b) != AddrLen {
		return a, errors.NotValidf("address length=%d", len(b))
	}
	for i := range b {
		a[AddrLen-1-i] = b[i]
	}
	return a, nil
}

type Key [KeyLen]byte

func (k Key) String() string { return hex.EncodeToString(k[:]) }

func ParseKey(s string) (Key, error) {
	var k Key
	b, err := helpers.ParseHex(s)
	if err != nil {
		return k, errors.Annotate(err, "ParseKey")
	}
	if len(b) != KeyLen {
		return k, errors.NotValidf("key length=%d", len(b))
	}
	copy(k[:], b)
	return k, nil
}

type Index int

type Record struct {
	Addr Addr
	Key  Key
	Seq  uint32
}

func (r Record) String() string { return fmt.Sprintf("addr=%s seq=%d", r.Addr, r.Seq) }

type RegisterFunc func(Index, Record)

type Store struct {
	log     *log2.Log
	records [MaxDevices]Record
	count   int
	hooks   []RegisterFunc
	persist persist.Persist
	enabled bool

	dirty   bool // counters advanced since last successful persist request
	pending bool // last persist attempt failed, retry on next trigger
	tries   int  // persist attempts, see PersistAttempts
}

// NewStore with nil storage keeps table in memory only,
// Persist returns persist.ErrNotSupported.
func NewStore(log *log2.Log, storage persist.Storage) *Store {
	self := &Store{log: log}
	if storage != nil {
		self.persist.Init(PersistKey, self, storage, log)
		self.enabled = true
	}
	return self
}

// OnRegister hook is called for every enrolled or restored record.
func (self *Store) OnRegister(fun RegisterFunc) { self.hooks = append(self.hooks, fun) }

func (self *Store) Len() int { return self.count }
func (self *Store) Cap() int { return MaxDevices }

func (self *Store) Record(idx Index) Record {
	self.mustIndex(idx)
	return self.records[idx]
}

func (self *Store) Records() []Record {
	rs := make([]Record, self.count)
	copy(rs, self.records[:self.count])
	return rs
}

func (self *Store) Lookup(addr Addr) (Index, error) {
	for i := 0; i < self.count; i++ {
		if self.records[i].Addr == addr {
			return Index(i), nil
		}
	}
	return -1, errors.Annotatef(ErrNotFound, "addr=%s", addr)
}

// Enroll adds new address or updates key and counter of existing one in place.
// Successful enroll that changed the table requests persist; persist failure
// is logged and leaves the store pending, enrollment still succeeds.
func (self *Store) Enroll(addr Addr, key Key, seq uint32) (Index, error) {
	idx, err := self.Lookup(addr)
	switch {
	case err == nil:
		r := &self.records[idx]
		if r.Key == key && r.Seq == seq {
			self.log.Debugf("secmat enroll addr=%s unchanged index=%d", addr, idx)
			self.register(idx)
			return idx, nil
		}
		r.Key = key
		r.Seq = seq
		self.log.Infof("secmat enroll addr=%s updated index=%d seq=%d", addr, idx, seq)

	case self.count >= MaxDevices:
		return -1, errors.Annotatef(ErrStoreFull, "enroll addr=%s capacity=%d", addr, MaxDevices)

	default:
		idx = Index(self.count)
		self.records[idx] = Record{Addr: addr, Key: key, Seq: seq}
		self.count++
		self.log.Infof("secmat enroll addr=%s new index=%d seq=%d", addr, idx, seq)
	}
	self.register(idx)
	self.tryPersist()
	return idx, nil
}

// AcceptCounter stores seq and returns true only if seq is strictly greater
// than stored counter.
func (self *Store) AcceptCounter(idx Index, seq uint32) bool {
	self.mustIndex(idx)
	r := &self.records[idx]
	if seq <= r.Seq {
		return false
	}
	r.Seq = seq
	self.dirty = true
	return true
}

// Persist requests write of whole table. Result of asynchronous write
// must be reported back with PersistDone.
func (self *Store) Persist() error {
	self.tries++
	if !self.enabled {
		self.pending = true
		return errors.Annotate(persist.ErrNotSupported, "secmat")
	}
	if err := self.persist.Store(); err != nil {
		self.pending = true
		return errors.Annotate(err, "secmat")
	}
	self.dirty = false
	self.pending = false
	return nil
}

// PersistDone reports completion of write started by Persist.
func (self *Store) PersistDone(err error) {
	if err != nil {
		self.pending = true
		self.log.Errorf("secmat persist failed, kept in memory err=%v", err)
	}
}

func (self *Store) PersistPending() bool { return self.pending }
func (self *Store) Dirty() bool          { return self.dirty }

// PersistAttempts counts Persist calls, tells caller whether an operation
// tried to write.
func (self *Store) PersistAttempts() int { return self.tries }

// RetryPending makes one persist attempt if previous one failed.
func (self *Store) RetryPending() {
	if self.pending {
		self.tryPersist()
	}
}

// Checkpoint persists advanced counters.
func (self *Store) Checkpoint() error {
	if !self.dirty && !self.pending {
		return nil
	}
	return self.Persist()
}

// Restore loads table from storage. No stored blob means empty table.
func (self *Store) Restore() error {
	if !self.enabled {
		self.reset()
		return nil
	}
	found, err := self.persist.Load()
	if err != nil {
		return errors.Annotate(err, "secmat Restore")
	}
	if !found {
		self.reset()
		self.log.Infof("secmat restore: no stored devices")
		return nil
	}
	for i := 0; i < self.count; i++ {
		self.register(Index(i))
	}
	self.log.Infof("secmat restored devices=%d", self.count)
	return nil
}

func (self *Store) tryPersist() {
	if err := self.Persist(); err != nil {
		if persist.IsBusy(err) || persist.IsNotSupported(err) {
			self.log.Infof("secmat persist deferred err=%v", err)
			return
		}
		self.log.Error(err)
	}
}

func (self *Store) register(idx Index) {
	r := self.records[idx]
	for _, h := range self.hooks {
		h(idx, r)
	}
}

func (self *Store) reset() {
	self.records = [MaxDevices]Record{}
	self.count = 0
	self.dirty = false
}

func (self *Store) mustIndex(idx Index) {
	if idx < 0 || int(idx) >= self.count {
		panic(fmt.Sprintf("code error secmat index=%d count=%d", idx, self.count))
	}
}

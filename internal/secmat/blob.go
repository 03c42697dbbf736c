package secmat

import (
	"encoding/binary"

	"github.com/juju/errors"
)

// Blob layout, fixed size regardless of count:
// 'S' 'M' version count, then MaxDevices slots of addr(6) key(16) seq(4 LE).
// Unused slots are zero.
const (
	blobVersion  = 1
	blobHeadLen  = 4
	blobSlotLen  = AddrLen + KeyLen + 4
	BlobLen      = blobHeadLen + MaxDevices*blobSlotLen
	blobMagic0   = 'S'
	blobMagic1   = 'M'
	slotSeqStart = AddrLen + KeyLen
)

func (self *Store) MarshalBinary() ([]byte, error) {
	b := make([]byte, BlobLen)
	b[0], b[1], b[2], b[3] = blobMagic0, blobMagic1, blobVersion, byte(self.count)
	for i := 0; i < self.count; i++ {
		slot := b[blobHeadLen+i*blobSlotLen:]
		r := &self.records[i]
		copy(slot[:AddrLen], r.Addr[:])
		copy(slot[AddrLen:slotSeqStart], r.Key[:])
		binary.LittleEndian.PutUint32(slot[slotSeqStart:], r.Seq)
	}
	return b, nil
}

// UnmarshalBinary replaces table only if whole blob is valid.
func (self *Store) UnmarshalBinary(b []byte) error {
	if len(b) != BlobLen {
		return errors.NotValidf("secmat blob length=%d expected=%d", len(b), BlobLen)
	}
	if b[0] != blobMagic0 || b[1] != blobMagic1 {
		return errors.NotValidf("secmat blob magic=%02x%02x", b[0], b[1])
	}
	if b[2] != blobVersion {
		return errors.NotValidf("secmat blob version=%d", b[2])
	}
	count := int(b[3])
	if count > MaxDevices {
		return errors.NotValidf("secmat blob count=%d capacity=%d", count, MaxDevices)
	}
	var records [MaxDevices]Record
	for i := 0; i < count; i++ {
		slot := b[blobHeadLen+i*blobSlotLen:]
		r := &records[i]
		copy(r.Addr[:], slot[:AddrLen])
		copy(r.Key[:], slot[AddrLen:slotSeqStart])
		r.Seq = binary.LittleEndian.Uint32(slot[slotSeqStart:])
		for j := 0; j < i; j++ {
			if records[j].Addr == r.Addr {
				return errors.NotValidf("secmat blob duplicate addr=%s", r.Addr)
			}
		}
	}
	self.records = records
	self.count = count
	self.dirty = false
	return nil
}

package ptm

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"encoding/binary"

	"github.com/juju/errors"
	"github.com/temoto/enomesh/internal/secmat"
)

// PTM215B telegram authentication is AES-128 CCM* over empty payload:
// nonce is source address (LE) + sequence (LE) + 3 zero bytes,
// MIC length is 4, additional data is telegram without signature.
const (
	nonceLen = 13
	micLen   = 4
	ccmL     = 15 - nonceLen
)

// Verifier checks telegram signature with device key.
type Verifier interface {
	Verify(key secmat.Key, addr secmat.Addr, seq uint32, aad []byte, sig []byte) bool
}

type CCMVerifier struct{}

func (CCMVerifier) Verify(key secmat.Key, addr secmat.Addr, seq uint32, aad []byte, sig []byte) bool {
	if len(sig) != micLen {
		return false
	}
	expect, err := Sign(key, addr, seq, aad)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(expect, sig) == 1
}

// Sign returns 4 byte MIC, used to build telegrams in tests and console.
func Sign(key secmat.Key, addr secmat.Addr, seq uint32, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, errors.Annotate(err, "ptm Sign")
	}
	var nonce [nonceLen]byte
	copy(nonce[:], addr[:])
	binary.LittleEndian.PutUint32(nonce[secmat.AddrLen:], seq)

	mac := cbcMAC(block, nonce[:], aad)

	var a0, s0 [aes.BlockSize]byte
	a0[0] = ccmL - 1
	copy(a0[1:], nonce[:])
	block.Encrypt(s0[:], a0[:])
	for i := 0; i < micLen; i++ {
		mac[i] ^= s0[i]
	}
	return mac[:micLen], nil
}

// cbcMAC over B0 and additional data, message length is always zero.
// Additional data here is far below 0xff00, so 2 byte length prefix.
func cbcMAC(block cipher.Block, nonce, aad []byte) []byte {
	var b0 [aes.BlockSize]byte
	b0[0] = byte((micLen-2)/2)<<3 | (ccmL - 1)
	if len(aad) > 0 {
		b0[0] |= 1 << 6
	}
	copy(b0[1:], nonce)
	mac := make([]byte, aes.BlockSize)
	block.Encrypt(mac, b0[:])
	if len(aad) == 0 {
		return mac
	}

	buf := make([]byte, 2+len(aad))
	binary.BigEndian.PutUint16(buf, uint16(len(aad)))
	copy(buf[2:], aad)
	for len(buf) > 0 {
		var chunk [aes.BlockSize]byte
		n := copy(chunk[:], buf)
		buf = buf[n:]
		for i := range chunk {
			mac[i] ^= chunk[i]
		}
		block.Encrypt(mac, mac)
	}
	return mac
}

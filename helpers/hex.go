package helpers

import (
	"encoding/hex"
	"strings"
)

func MustHex(s string) []byte {
	b, err := ParseHex(s)
	if err != nil {
		panic(err)
	}
	return b
}

// ParseHex accepts "a1b2", "a1 b2", "a1:b2" and odd length (leading zero is restored,
// mosquitto_sub wrongly strips it).
func ParseHex(s string) ([]byte, error) {
	s = strings.NewReplacer(" ", "", ":", "", "-", "").Replace(strings.TrimSpace(s))
	if len(s)%2 == 1 {
		s = "0" + s
	}
	return hex.DecodeString(s)
}

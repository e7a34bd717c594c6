package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// AddressKeyLen is the width of a normalized aircraft address
const AddressKeyLen = 6

// NoAddress is the key produced for absent or garbage input.
// Lookups and distinct-aircraft counting skip it.
const NoAddress = "000000"

// NormalizeAddress canonicalizes a raw transmitted address into an address key.
// Non-hex characters are removed, the result is left-padded with '0' to six
// characters and lowercased. Longer hex strings are kept as-is.
func NormalizeAddress(v any) string {
	s := strings.TrimSpace(addressString(v))

	var b strings.Builder
	b.Grow(AddressKeyLen)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f':
			b.WriteByte(c)
		case c >= 'A' && c <= 'F':
			b.WriteByte(c + ('a' - 'A'))
		}
	}

	key := b.String()
	if len(key) < AddressKeyLen {
		key = strings.Repeat("0", AddressKeyLen-len(key)) + key
	}
	return key
}

// IsAbsent reports whether key is the "no address" sentinel
func IsAbsent(key string) bool {
	return key == "" || key == NoAddress
}

func addressString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint32:
		return strconv.FormatUint(uint64(t), 10)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

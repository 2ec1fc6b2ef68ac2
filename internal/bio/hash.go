package bio

import (
	"fmt"
	"strings"
)

// HashTitle computes the 32-bit container-name hash used for Bank/Node
// titles: bit 31 is always set, distinguishing it from a value hash.
func HashTitle(s string) uint32 {
	return hashString(s) | 0x80000000
}

// HashValue computes the 32-bit value hash used for condition/track titles
// and string parameter values: bit 31 is always clear.
func HashValue(s string) uint32 {
	return hashString(s) &^ 0x80000000
}

// hashString is the deterministic name hash of the host engine: a 32-bit
// signed multiply-add over the uppercased UTF-8 bytes of s, masked to 31
// bits. The accumulator wraps like the original's numpy int32 arithmetic;
// unsigned wraparound on uint32 produces the identical bit pattern.
func hashString(s string) uint32 {
	var h uint32
	for _, b := range []byte(strings.ToUpper(s)) {
		h = h*0x83 + uint32(b)
	}
	return h & 0x7FFFFFFF
}

// FormatHash renders a hash as the canonical "0xAABBCCDD" hex literal used
// both by MACT text (bytes-typed param values) and by the hash-dictionary
// files, matching the original tool's pretty_bytes formatting.
func FormatHash(h uint32) string {
	return fmt.Sprintf("0x%08X", h)
}

// ParseHash parses a "0xAABBCCDD" (or bare "AABBCCDD") hex literal back into
// a hash value.
func ParseHash(s string) (uint32, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := parseHex32(s)
	return v, err
}

func parseHex32(s string) (uint32, error) {
	var v uint32
	if len(s) == 0 {
		return 0, fmt.Errorf("empty hex literal")
	}
	for _, r := range s {
		var d uint32
		switch {
		case r >= '0' && r <= '9':
			d = uint32(r - '0')
		case r >= 'a' && r <= 'f':
			d = uint32(r-'a') + 10
		case r >= 'A' && r <= 'F':
			d = uint32(r-'A') + 10
		default:
			return 0, fmt.Errorf("invalid hex digit %q", r)
		}
		v = v<<4 | d
	}
	return v, nil
}

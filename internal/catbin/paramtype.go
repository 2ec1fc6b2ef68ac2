package catbin

import (
	"encoding/binary"
	"math"

	"github.com/marcdred/bully-mact-tool/internal/catdb"
	"github.com/marcdred/bully-mact-tool/internal/logic"
)

// resolveType implements the parameter typing cascade: variable table
// evidence beats the size bit, which beats the template DB, which beats a
// last-resort guess. hasSize is false for condition params (always
// 4 bytes, no size bit) and reflects the track header's size bit otherwise.
func resolveType(isString, isCG, hasSize, sizeBit bool, schema catdb.Templates, title string, id int, value []byte) logic.ValueType {
	switch {
	case isString:
		return logic.TypeString
	case isCG:
		return logic.TypeCG
	case hasSize && !sizeBit:
		return logic.TypeBool
	}
	if p, ok := schema.Lookup(title, id); ok {
		return p.Type
	}
	return guessType(value)
}

// guessType is the heuristic fallback, used only when no other source
// resolves the type: all-zero is opaque bytes, a small integer reading
// wins over a plausible mid-range float reading, anything else stays
// bytes.
func guessType(value []byte) logic.ValueType {
	allZero := true
	for _, b := range value {
		if b != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return logic.TypeBytes
	}
	i := int32(binary.LittleEndian.Uint32(value))
	f := math.Float32frombits(binary.LittleEndian.Uint32(value))
	if i <= 32767 && i >= -32768 {
		return logic.TypeInt
	}
	af := float64(f)
	if af <= 2048.0 && af >= -2048.0 && !(af > -0.1 && af < 0.1) {
		return logic.TypeFloat
	}
	return logic.TypeBytes
}

// decodeValue converts a raw 1-or-4-byte param value into the logic.LogicNode
// Value representation for the given type.
func decodeValue(t logic.ValueType, raw []byte) interface{} {
	switch t {
	case logic.TypeBool:
		if raw[0] != 0 {
			return int64(1)
		}
		return int64(0)
	case logic.TypeInt:
		return int64(int32(binary.LittleEndian.Uint32(raw)))
	case logic.TypeFloat:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(raw)))
	case logic.TypeString, logic.TypeBytes, logic.TypeHashedString:
		cp := make([]byte, len(raw))
		copy(cp, raw)
		return cp
	default:
		return nil
	}
}

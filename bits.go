package ictboard

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	// AggregateWidth is the number of significant bits in an AggregateBits word.
	AggregateWidth = 48
	// PortFields is the number of 8-bit port fields packed into one word.
	PortFields = AggregateWidth / 8

	aggregateMask = 1<<AggregateWidth - 1
)

// AggregateBits packs six 8-bit port values into one 48-bit word. Field i occupies
// bits 8i..8i+7. Bits above 47 are never significant.
type AggregateBits uint64

// SplitBits returns the six port fields of v, lowest field first.
func SplitBits(v AggregateBits) (fields [PortFields]byte) {
	for i := range fields {
		fields[i] = byte(v >> (8 * uint(i)))
	}
	return
}

// JoinBits assembles six port fields, lowest field first.
func JoinBits(fields [PortFields]byte) (v AggregateBits) {
	for i, f := range fields {
		v |= AggregateBits(f) << (8 * uint(i))
	}
	return
}

// Bit reports whether bit i is set. Out-of-range indices report false.
func (v AggregateBits) Bit(i int) bool {
	if i < 0 || i >= AggregateWidth {
		return false
	}
	return v&(1<<uint(i)) != 0
}

// WithBit returns v with bit i set to on. Out-of-range indices leave v unchanged.
func (v AggregateBits) WithBit(i int, on bool) AggregateBits {
	if i < 0 || i >= AggregateWidth {
		return v
	}
	if on {
		return v | 1<<uint(i)
	}
	return v &^ (1 << uint(i))
}

// String renders the word as 48 binary digits, bit 47 first.
func (v AggregateBits) String() string {
	s := strconv.FormatUint(uint64(v&aggregateMask), 2)
	return strings.Repeat("0", AggregateWidth-len(s)) + s
}

// ParseAggregateBits accepts decimal, 0x-prefixed hex or 0b-prefixed binary.
func ParseAggregateBits(s string) (AggregateBits, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), "_", "")
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid aggregate value %q", s)
	}
	if v > aggregateMask {
		return 0, errors.Errorf("aggregate value %#x exceeds %d bits", v, AggregateWidth)
	}
	return AggregateBits(v), nil
}

package bus

import (
	"math"

	"github.com/pkg/errors"
)

const bitsPerByte = 8

// Signal describes a scaled integer field packed into a CAN payload.
// Physical value = raw*Scalar + Offset.
type Signal struct {
	Scalar       float64
	Offset       float64
	Start        uint8 // least significant bit, counted from bit 0 of byte 0
	Length       uint8 // at most 32 bits
	LittleEndian bool
	Signed       bool
}

// byteMask returns the bits of byte i that belong to the signal.
func (s Signal) byteMask(i uint8) uint8 {
	lsb := s.Start
	msb := s.Start + s.Length - 1
	byteLsb := i * bitsPerByte
	byteMsb := byteLsb + bitsPerByte - 1

	var lo, hi uint8
	if lsb > byteLsb {
		lo = lsb - byteLsb
	}
	hi = bitsPerByte - 1
	if msb < byteMsb {
		hi = msb - byteLsb
	}
	return uint8((0xFF << lo) & (0xFF >> (bitsPerByte - 1 - hi)))
}

func (s Signal) span() (first, last uint8) {
	return s.Start / bitsPerByte, (s.Start + s.Length - 1) / bitsPerByte
}

func (s Signal) byteShift(i, first, last uint8) uint8 {
	if s.LittleEndian {
		return i - first
	}
	return last - i
}

func (s Signal) check(data []byte) error {
	if s.Length == 0 || s.Length > 32 {
		return errors.Errorf("signal length %d out of range", s.Length)
	}
	if _, last := s.span(); int(last) >= len(data) {
		return errors.Errorf("payload has %d bytes, signal needs %d", len(data), last+1)
	}
	return nil
}

// Extract decodes the signal from data.
func (s Signal) Extract(data []byte) (float64, error) {
	if err := s.check(data); err != nil {
		return 0, err
	}
	first, last := s.span()

	var composed uint64
	for i := first; i <= last; i++ {
		composed |= uint64(data[i]&s.byteMask(i)) << (bitsPerByte * s.byteShift(i, first, last))
	}
	raw := composed >> (s.Start - first*bitsPerByte)

	var value float64
	if s.Signed && raw&(1<<(s.Length-1)) != 0 {
		value = float64(int64(raw) - int64(1)<<s.Length)
	} else {
		value = float64(raw)
	}
	return value*s.Scalar + s.Offset, nil
}

// Insert encodes value into data, saturating at the field's range. Bits outside the
// signal are left untouched.
func (s Signal) Insert(data []byte, value float64) error {
	if err := s.check(data); err != nil {
		return err
	}
	if s.Scalar == 0 {
		return errors.New("signal scalar must be non-zero")
	}
	first, last := s.span()

	rounded := math.Round((value - s.Offset) / s.Scalar)
	var lo, hi float64
	if s.Signed {
		lo, hi = -math.Ldexp(1, int(s.Length)-1), math.Ldexp(1, int(s.Length)-1)-1
	} else {
		lo, hi = 0, math.Ldexp(1, int(s.Length))-1
	}
	rounded = math.Max(lo, math.Min(hi, rounded))

	raw := uint64(int64(rounded)) & (uint64(1)<<s.Length - 1)
	composed := raw << (s.Start - first*bitsPerByte)
	for i := first; i <= last; i++ {
		mask := s.byteMask(i)
		b := uint8(composed>>(bitsPerByte*s.byteShift(i, first, last))) & mask
		data[i] = data[i]&^mask | b
	}
	return nil
}

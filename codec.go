package lantern

import (
	"fmt"
	"math"
	"unicode/utf16"
)

// On-disk primitive codec. All multi-byte integers are VInt/VLong: seven
// data bits per byte, high bit set on every byte except the last. Fixed
// integers are big-endian. Strings are a VInt count of UTF-16 code units
// followed by Java-style modified UTF-8 bytes (NUL as 0xC0 0x80,
// supplementary planes as surrogate pairs).

const maxVIntBytes = 5

func readVInt(in IndexInput) (int32, error) {
	var v int32
	var shift uint
	for i := 0; ; i++ {
		if i >= maxVIntBytes {
			return 0, fmt.Errorf("%w: VInt longer than %d bytes", ErrCorruptIndex, maxVIntBytes)
		}
		b, err := in.ReadByte()
		if err != nil {
			return 0, err
		}
		v |= int32(b&0x7F) << shift
		if b&0x80 == 0 {
			return v, nil
		}
		shift += 7
	}
}

func readVLong(in IndexInput) (int64, error) {
	var v int64
	var shift uint
	for i := 0; ; i++ {
		if i >= 10 {
			return 0, fmt.Errorf("%w: VLong longer than 10 bytes", ErrCorruptIndex)
		}
		b, err := in.ReadByte()
		if err != nil {
			return 0, err
		}
		v |= int64(b&0x7F) << shift
		if b&0x80 == 0 {
			return v, nil
		}
		shift += 7
	}
}

func writeVInt(out IndexOutput, v int32) error {
	return writeVLong(out, int64(uint32(v)))
}

func writeVLong(out IndexOutput, v int64) error {
	u := uint64(v)
	for u >= 0x80 {
		if err := out.WriteByte(byte(u&0x7F | 0x80)); err != nil {
			return err
		}
		u >>= 7
	}
	return out.WriteByte(byte(u))
}

func readInt32(in IndexInput) (int32, error) {
	var b [4]byte
	if err := in.ReadBytes(b[:]); err != nil {
		return 0, err
	}
	return int32(b[0])<<24 | int32(b[1])<<16 | int32(b[2])<<8 | int32(b[3]), nil
}

func writeInt32(out IndexOutput, v int32) error {
	return out.WriteBytes([]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}

func readInt64(in IndexInput) (int64, error) {
	hi, err := readInt32(in)
	if err != nil {
		return 0, err
	}
	lo, err := readInt32(in)
	if err != nil {
		return 0, err
	}
	return int64(hi)<<32 | int64(uint32(lo)), nil
}

func writeInt64(out IndexOutput, v int64) error {
	if err := writeInt32(out, int32(v>>32)); err != nil {
		return err
	}
	return writeInt32(out, int32(v))
}

func readFloat32(in IndexInput) (float32, error) {
	bits, err := readInt32(in)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(uint32(bits)), nil
}

func writeFloat32(out IndexOutput, f float32) error {
	return writeInt32(out, int32(math.Float32bits(f)))
}

// writeString writes the UTF-16 length followed by the modified UTF-8
// encoding of s.
func writeString(out IndexOutput, s string) error {
	units := utf16.Encode([]rune(s))
	if err := writeVInt(out, int32(len(units))); err != nil {
		return err
	}
	return writeChars(out, units)
}

// writeChars encodes UTF-16 code units as modified UTF-8. Each unit encodes
// independently, so surrogate halves become separate three-byte sequences
// and NUL becomes the two-byte form.
func writeChars(out IndexOutput, units []uint16) error {
	for _, u := range units {
		switch {
		case u > 0 && u < 0x80:
			if err := out.WriteByte(byte(u)); err != nil {
				return err
			}
		case u < 0x800:
			if err := out.WriteBytes([]byte{byte(0xC0 | u>>6), byte(0x80 | u&0x3F)}); err != nil {
				return err
			}
		default:
			if err := out.WriteBytes([]byte{byte(0xE0 | u>>12), byte(0x80 | u>>6&0x3F), byte(0x80 | u&0x3F)}); err != nil {
				return err
			}
		}
	}
	return nil
}

func readString(in IndexInput) (string, error) {
	n, err := readVInt(in)
	if err != nil {
		return "", err
	}
	units, err := readChars(in, int(n))
	if err != nil {
		return "", err
	}
	return string(utf16.Decode(units)), nil
}

// readChars decodes n UTF-16 code units of modified UTF-8.
func readChars(in IndexInput, n int) ([]uint16, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: negative string length %d", ErrCorruptIndex, n)
	}
	if int64(n) > in.Length()-in.FilePointer() {
		// Every unit takes at least one byte; a longer claim cannot fit.
		return nil, fmt.Errorf("%w: string of %d chars exceeds remaining file", ErrCorruptIndex, n)
	}
	units := make([]uint16, n)
	for i := 0; i < n; i++ {
		b0, err := in.ReadByte()
		if err != nil {
			return nil, err
		}
		switch {
		case b0&0x80 == 0:
			units[i] = uint16(b0)
		case b0&0xE0 == 0xC0:
			b1, err := in.ReadByte()
			if err != nil {
				return nil, err
			}
			units[i] = uint16(b0&0x1F)<<6 | uint16(b1&0x3F)
		case b0&0xF0 == 0xE0:
			b1, err := in.ReadByte()
			if err != nil {
				return nil, err
			}
			b2, err := in.ReadByte()
			if err != nil {
				return nil, err
			}
			units[i] = uint16(b0&0x0F)<<12 | uint16(b1&0x3F)<<6 | uint16(b2&0x3F)
		default:
			return nil, fmt.Errorf("%w: invalid modified UTF-8 lead byte 0x%02x", ErrCorruptIndex, b0)
		}
	}
	return units, nil
}

// compareUTF16 orders strings by UTF-16 code unit, the order the term
// dictionary is sorted in.
func compareUTF16(a, b string) int {
	ua := utf16.Encode([]rune(a))
	ub := utf16.Encode([]rune(b))
	for i := 0; i < len(ua) && i < len(ub); i++ {
		if ua[i] != ub[i] {
			if ua[i] < ub[i] {
				return -1
			}
			return 1
		}
	}
	return len(ua) - len(ub)
}

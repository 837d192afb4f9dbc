package lantern

import (
	"errors"
	"testing"
)

// TestVIntRoundtrip tests VInt encoding across the value range
func TestVIntRoundtrip(t *testing.T) {
	values := []int32{0, 1, 127, 128, 129, 16383, 16384, 1<<21 - 1, 1 << 21, 1<<28 - 1, 1 << 28, 1<<31 - 1, -1}

	out := &bufferOutput{}
	for _, v := range values {
		if err := writeVInt(out, v); err != nil {
			t.Fatalf("writeVInt(%d) error = %v", v, err)
		}
	}

	in := &ramIndexInput{data: out.data}
	for _, want := range values {
		got, err := readVInt(in)
		if err != nil {
			t.Fatalf("readVInt() error = %v", err)
		}
		if got != want {
			t.Errorf("readVInt() = %d, want %d", got, want)
		}
	}
}

// TestVLongRoundtrip tests VLong encoding across the value range
func TestVLongRoundtrip(t *testing.T) {
	values := []int64{0, 1, 127, 128, 1<<35 - 3, 1 << 42, 1<<62 - 1}

	out := &bufferOutput{}
	for _, v := range values {
		if err := writeVLong(out, v); err != nil {
			t.Fatalf("writeVLong(%d) error = %v", v, err)
		}
	}

	in := &ramIndexInput{data: out.data}
	for _, want := range values {
		got, err := readVLong(in)
		if err != nil {
			t.Fatalf("readVLong() error = %v", err)
		}
		if got != want {
			t.Errorf("readVLong() = %d, want %d", got, want)
		}
	}
}

// TestVIntOverflow tests that an over-long VInt is reported as corruption
func TestVIntOverflow(t *testing.T) {
	in := &ramIndexInput{data: []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x01}}
	_, err := readVInt(in)
	if !errors.Is(err, ErrCorruptIndex) {
		t.Errorf("readVInt() error = %v, want ErrCorruptIndex", err)
	}
}

// TestFixedIntRoundtrip tests big-endian Int32/Int64
func TestFixedIntRoundtrip(t *testing.T) {
	out := &bufferOutput{}
	if err := writeInt32(out, -9); err != nil {
		t.Fatalf("writeInt32() error = %v", err)
	}
	if err := writeInt64(out, 1<<40+7); err != nil {
		t.Fatalf("writeInt64() error = %v", err)
	}
	if err := writeInt64(out, -1); err != nil {
		t.Fatalf("writeInt64() error = %v", err)
	}

	in := &ramIndexInput{data: out.data}
	if got, _ := readInt32(in); got != -9 {
		t.Errorf("readInt32() = %d, want -9", got)
	}
	if got, _ := readInt64(in); got != 1<<40+7 {
		t.Errorf("readInt64() = %d, want %d", got, int64(1<<40+7))
	}
	if got, _ := readInt64(in); got != -1 {
		t.Errorf("readInt64() = %d, want -1", got)
	}
}

// TestStringRoundtrip tests modified UTF-8 strings
func TestStringRoundtrip(t *testing.T) {
	tests := []struct {
		name string
		s    string
	}{
		{name: "ascii", s: "hello"},
		{name: "empty", s: ""},
		{name: "nul byte", s: "a\x00b"},
		{name: "two byte", s: "héllo wörld"},
		{name: "three byte", s: "你好世界"},
		{name: "supplementary plane", s: "a\U0001F600b"},
		{name: "mixed", s: "naïve 检索 \U0001D11E"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &bufferOutput{}
			if err := writeString(out, tt.s); err != nil {
				t.Fatalf("writeString() error = %v", err)
			}
			in := &ramIndexInput{data: out.data}
			got, err := readString(in)
			if err != nil {
				t.Fatalf("readString() error = %v", err)
			}
			if got != tt.s {
				t.Errorf("readString() = %q, want %q", got, tt.s)
			}
		})
	}
}

// TestStringLengthPastEOF tests that an oversized declared length is corruption
func TestStringLengthPastEOF(t *testing.T) {
	out := &bufferOutput{}
	writeVInt(out, 1000)
	out.WriteBytes([]byte("short"))

	in := &ramIndexInput{data: out.data}
	_, err := readString(in)
	if !errors.Is(err, ErrCorruptIndex) {
		t.Errorf("readString() error = %v, want ErrCorruptIndex", err)
	}
}

// TestCompareUTF16 tests the dictionary term ordering
func TestCompareUTF16(t *testing.T) {
	tests := []struct {
		a, b string
		want int // sign
	}{
		{"a", "b", -1},
		{"b", "a", 1},
		{"abc", "abc", 0},
		{"ab", "abc", -1},
		{"", "a", -1},
		{"apple", "applesauce", -1},
	}
	for _, tt := range tests {
		got := compareUTF16(tt.a, tt.b)
		if sign(got) != tt.want {
			t.Errorf("compareUTF16(%q, %q) = %d, want sign %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}

package lantern

import (
	"fmt"

	"github.com/RoaringBitmap/roaring"
)

// Deletion bitmaps (tombstones). In memory they are roaring bitmaps of
// local doc ids; on disk a .del file is the plain maxDoc-bit layout the
// segment format mandates: an Int32 size, an Int32 set-bit count, then
// ceil(size/8) bytes with bit i at byte i>>3, mask 1<<(i&7).

// writeDeletions stores a bitmap as <segment>_<delGen>.del.
func writeDeletions(dir Directory, name string, bits *roaring.Bitmap, size int32) error {
	out, err := dir.CreateOutput(name)
	if err != nil {
		return err
	}
	if err := writeDeletionsTo(out, bits, size); err != nil {
		out.Close()
		return fmt.Errorf("failed to write deletions: %w", err)
	}
	return out.Close()
}

func writeDeletionsTo(out IndexOutput, bits *roaring.Bitmap, size int32) error {
	if err := writeInt32(out, size); err != nil {
		return err
	}
	if err := writeInt32(out, int32(bits.GetCardinality())); err != nil {
		return err
	}
	packed := make([]byte, (size+7)/8)
	it := bits.Iterator()
	for it.HasNext() {
		i := it.Next()
		packed[i>>3] |= 1 << (i & 7)
	}
	return out.WriteBytes(packed)
}

// readDeletions loads a .del file. The declared size must match the
// segment's maxDoc.
func readDeletions(dir Directory, name string, maxDoc int32) (*roaring.Bitmap, error) {
	in, err := dir.OpenInput(name)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	size, err := readInt32(in)
	if err != nil {
		return nil, err
	}
	if size != maxDoc {
		return nil, fmt.Errorf("%w: deletion bitmap sized %d for segment of %d docs", ErrCorruptIndex, size, maxDoc)
	}
	count, err := readInt32(in)
	if err != nil {
		return nil, err
	}
	packed := make([]byte, (size+7)/8)
	if err := in.ReadBytes(packed); err != nil {
		return nil, err
	}
	bits := roaring.New()
	for i := int32(0); i < size; i++ {
		if packed[i>>3]&(1<<(i&7)) != 0 {
			bits.Add(uint32(i))
		}
	}
	if int64(bits.GetCardinality()) != int64(count) {
		return nil, fmt.Errorf("%w: deletion bitmap count %d, %d bits set", ErrCorruptIndex, count, bits.GetCardinality())
	}
	return bits, nil
}

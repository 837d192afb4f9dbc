package lantern

import "fmt"

// Field info flag bits in the .fnm file.
const (
	fieldIsIndexed          = 0x01
	fieldStoreTermVector    = 0x02
	fieldStorePositionsWithTermVector = 0x04
	fieldStoreOffsetsWithTermVector   = 0x08
	fieldOmitNorms          = 0x10
	fieldStorePayloads      = 0x20
)

// FieldInfo is one entry of a segment's field table: the field name, its
// ordinal within the segment, and the indexing flags.
type FieldInfo struct {
	Name            string
	Number          int32
	Indexed         bool
	StoreTermVector bool
	OmitNorms       bool
}

// FieldInfos is the per-segment field table, mapping names to ordinals and
// back. Ordinals are assigned in first-seen order and are dense.
type FieldInfos struct {
	byNumber []*FieldInfo
	byName   map[string]*FieldInfo
}

// NewFieldInfos returns an empty field table.
func NewFieldInfos() *FieldInfos {
	return &FieldInfos{byName: make(map[string]*FieldInfo)}
}

// Add registers a field, or widens the flags of an existing entry: a field
// indexed anywhere in the segment is indexed, and norms are kept unless
// every occurrence omits them.
func (fis *FieldInfos) Add(name string, indexed, storeTermVector, omitNorms bool) *FieldInfo {
	fi, ok := fis.byName[name]
	if !ok {
		fi = &FieldInfo{
			Name:            name,
			Number:          int32(len(fis.byNumber)),
			Indexed:         indexed,
			StoreTermVector: storeTermVector,
			OmitNorms:       omitNorms,
		}
		fis.byNumber = append(fis.byNumber, fi)
		fis.byName[name] = fi
		return fi
	}
	fi.Indexed = fi.Indexed || indexed
	fi.StoreTermVector = fi.StoreTermVector || storeTermVector
	fi.OmitNorms = fi.OmitNorms && omitNorms
	return fi
}

// AddDocumentFields registers every field of a document.
func (fis *FieldInfos) AddDocumentFields(doc *Document) {
	for _, f := range doc.Fields() {
		fis.Add(f.Name, f.Indexed, f.StoreTermVector, false)
	}
}

// FieldInfo returns the entry for name, or nil.
func (fis *FieldInfos) FieldInfo(name string) *FieldInfo {
	return fis.byName[name]
}

// FieldNumber returns the ordinal for name, or -1.
func (fis *FieldInfos) FieldNumber(name string) int32 {
	if fi, ok := fis.byName[name]; ok {
		return fi.Number
	}
	return -1
}

// ByNumber returns the entry with the given ordinal, or nil.
func (fis *FieldInfos) ByNumber(n int32) *FieldInfo {
	if n < 0 || int(n) >= len(fis.byNumber) {
		return nil
	}
	return fis.byNumber[n]
}

// Len returns the number of fields in the table.
func (fis *FieldInfos) Len() int { return len(fis.byNumber) }

// Write stores the table as <segment>.fnm: a VInt count, then per field the
// name and one flag byte.
func (fis *FieldInfos) Write(dir Directory, name string) error {
	out, err := dir.CreateOutput(name)
	if err != nil {
		return err
	}
	if err := fis.writeTo(out); err != nil {
		out.Close()
		return fmt.Errorf("failed to write field infos: %w", err)
	}
	return out.Close()
}

func (fis *FieldInfos) writeTo(out IndexOutput) error {
	if err := writeVInt(out, int32(len(fis.byNumber))); err != nil {
		return err
	}
	for _, fi := range fis.byNumber {
		if err := writeString(out, fi.Name); err != nil {
			return err
		}
		var bits byte
		if fi.Indexed {
			bits |= fieldIsIndexed
		}
		if fi.StoreTermVector {
			bits |= fieldStoreTermVector
		}
		if fi.OmitNorms {
			bits |= fieldOmitNorms
		}
		if err := out.WriteByte(bits); err != nil {
			return err
		}
	}
	return nil
}

// ReadFieldInfos loads a .fnm file.
func ReadFieldInfos(dir Directory, name string) (*FieldInfos, error) {
	in, err := dir.OpenInput(name)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	n, err := readVInt(in)
	if err != nil {
		return nil, fmt.Errorf("failed to read field count: %w", err)
	}
	if n < 0 {
		return nil, fmt.Errorf("%w: negative field count %d", ErrCorruptIndex, n)
	}
	fis := NewFieldInfos()
	for i := int32(0); i < n; i++ {
		fname, err := readString(in)
		if err != nil {
			return nil, fmt.Errorf("failed to read field name: %w", err)
		}
		bits, err := in.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("failed to read field flags: %w", err)
		}
		fis.Add(fname, bits&fieldIsIndexed != 0, bits&fieldStoreTermVector != 0, bits&fieldOmitNorms != 0)
	}
	return fis, nil
}

package lantern

import "fmt"

// Stored fields, two files per segment:
//
//	.fdx  one Int64 per document: the offset of its record in .fdt
//	.fdt  per document: a VInt stored-field count, then per field the
//	      ordinal, a flag byte, and the value
//
// Only fields marked Stored appear here; the rest exist solely in the
// inverted index.

const (
	storedFieldTokenized = 0x01
	storedFieldBinary    = 0x02
)

// fieldsWriter appends stored-field records for one segment.
type fieldsWriter struct {
	fieldInfos *FieldInfos
	indexOut   IndexOutput // .fdx
	dataOut    IndexOutput // .fdt
}

func newFieldsWriter(dir Directory, segment string, fieldInfos *FieldInfos) (*fieldsWriter, error) {
	indexOut, err := dir.CreateOutput(segment + ".fdx")
	if err != nil {
		return nil, err
	}
	dataOut, err := dir.CreateOutput(segment + ".fdt")
	if err != nil {
		indexOut.Close()
		return nil, err
	}
	return &fieldsWriter{fieldInfos: fieldInfos, indexOut: indexOut, dataOut: dataOut}, nil
}

// AddDocument appends one document's stored fields.
func (w *fieldsWriter) AddDocument(doc *Document) error {
	if err := writeInt64(w.indexOut, w.dataOut.FilePointer()); err != nil {
		return err
	}
	var stored int32
	for _, f := range doc.Fields() {
		if f.Stored {
			stored++
		}
	}
	if err := writeVInt(w.dataOut, stored); err != nil {
		return err
	}
	for _, f := range doc.Fields() {
		if !f.Stored {
			continue
		}
		if err := writeVInt(w.dataOut, w.fieldInfos.FieldNumber(f.Name)); err != nil {
			return err
		}
		var bits byte
		if f.Tokenized {
			bits |= storedFieldTokenized
		}
		if f.IsBinary {
			bits |= storedFieldBinary
		}
		if err := w.dataOut.WriteByte(bits); err != nil {
			return err
		}
		if f.IsBinary {
			if err := writeVInt(w.dataOut, int32(len(f.BinaryValue))); err != nil {
				return err
			}
			if err := w.dataOut.WriteBytes(f.BinaryValue); err != nil {
				return err
			}
		} else {
			if err := writeString(w.dataOut, f.Value); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *fieldsWriter) Close() error {
	if err := w.indexOut.Close(); err != nil {
		w.dataOut.Close()
		return err
	}
	return w.dataOut.Close()
}

// fieldsReader retrieves stored documents by local id.
type fieldsReader struct {
	fieldInfos *FieldInfos
	indexIn    IndexInput
	dataIn     IndexInput
	size       int32
}

func newFieldsReader(dir Directory, segment string, fieldInfos *FieldInfos) (*fieldsReader, error) {
	indexIn, err := dir.OpenInput(segment + ".fdx")
	if err != nil {
		return nil, err
	}
	dataIn, err := dir.OpenInput(segment + ".fdt")
	if err != nil {
		indexIn.Close()
		return nil, err
	}
	return &fieldsReader{
		fieldInfos: fieldInfos,
		indexIn:    indexIn,
		dataIn:     dataIn,
		size:       int32(indexIn.Length() / 8),
	}, nil
}

// Doc reconstructs the stored view of a document. Unstored fields are
// absent; flags are restored from the record and the field table.
func (r *fieldsReader) Doc(n int32) (*Document, error) {
	if n < 0 || n >= r.size {
		return nil, fmt.Errorf("%w: doc %d out of range [0, %d)", ErrInvalidArgument, n, r.size)
	}
	if err := r.indexIn.Seek(int64(n) * 8); err != nil {
		return nil, err
	}
	pointer, err := readInt64(r.indexIn)
	if err != nil {
		return nil, err
	}
	if pointer < 0 || pointer > r.dataIn.Length() {
		return nil, fmt.Errorf("%w: stored-field offset %d past end of file", ErrCorruptIndex, pointer)
	}
	if err := r.dataIn.Seek(pointer); err != nil {
		return nil, err
	}
	count, err := readVInt(r.dataIn)
	if err != nil {
		return nil, err
	}
	doc := NewDocument()
	for i := int32(0); i < count; i++ {
		fieldNum, err := readVInt(r.dataIn)
		if err != nil {
			return nil, err
		}
		fi := r.fieldInfos.ByNumber(fieldNum)
		if fi == nil {
			return nil, fmt.Errorf("%w: stored field with unknown ordinal %d", ErrCorruptIndex, fieldNum)
		}
		bits, err := r.dataIn.ReadByte()
		if err != nil {
			return nil, err
		}
		f := &Field{
			Name:      fi.Name,
			Stored:    true,
			Indexed:   fi.Indexed,
			Tokenized: bits&storedFieldTokenized != 0,
			Boost:     1.0,
		}
		if bits&storedFieldBinary != 0 {
			length, err := readVInt(r.dataIn)
			if err != nil {
				return nil, err
			}
			if length < 0 {
				return nil, fmt.Errorf("%w: negative binary field length", ErrCorruptIndex)
			}
			f.BinaryValue = make([]byte, length)
			if err := r.dataIn.ReadBytes(f.BinaryValue); err != nil {
				return nil, err
			}
			f.IsBinary = true
		} else {
			if f.Value, err = readString(r.dataIn); err != nil {
				return nil, err
			}
		}
		doc.Add(f)
	}
	return doc, nil
}

func (r *fieldsReader) Close() error {
	r.indexIn.Close()
	return r.dataIn.Close()
}

package lantern

// Document is an ordered list of named fields. Documents carry no user key;
// the index assigns a dense internal id per segment, and a global id equal
// to the segment base plus the local id. Global ids are stable between
// commits but may change when segments merge.
type Document struct {
	fields []*Field
}

// Field is one named value of a document with its indexing flags.
type Field struct {
	// Name of the field. Field names are case-sensitive.
	Name string

	// Value holds the field text. Ignored when IsBinary is set.
	Value string

	// BinaryValue holds raw bytes for binary stored fields.
	BinaryValue []byte

	// Stored fields have their value kept in the segment and returned by
	// Document lookups.
	Stored bool

	// Indexed fields are searchable.
	Indexed bool

	// Tokenized fields are run through the analyzer; untokenized fields
	// index the whole value as a single term.
	Tokenized bool

	// IsBinary marks BinaryValue as the payload. Binary fields are never
	// indexed.
	IsBinary bool

	// StoreTermVector requests per-document term vectors. Recorded in the
	// field info flags; no term vector files are written by this package.
	StoreTermVector bool

	// Boost scales the norm written for this field. Defaults to 1.0 via
	// the constructors.
	Boost float32
}

// NewDocument creates an empty document.
func NewDocument() *Document {
	return &Document{}
}

// Add appends a field. Multiple fields with the same name are allowed and
// are indexed as a single logical field with continuing positions.
func (d *Document) Add(f *Field) *Document {
	d.fields = append(d.fields, f)
	return d
}

// Fields returns the fields in insertion order.
func (d *Document) Fields() []*Field {
	return d.fields
}

// Get returns the value of the first field with the given name, or "".
func (d *Document) Get(name string) string {
	for _, f := range d.fields {
		if f.Name == name && !f.IsBinary {
			return f.Value
		}
	}
	return ""
}

// NewTextField returns a stored, indexed, tokenized field: the usual choice
// for body text.
func NewTextField(name, value string) *Field {
	return &Field{Name: name, Value: value, Stored: true, Indexed: true, Tokenized: true, Boost: 1.0}
}

// NewKeywordField returns a stored, indexed, untokenized field: the whole
// value becomes a single term. Used for identifiers and enumerations.
func NewKeywordField(name, value string) *Field {
	return &Field{Name: name, Value: value, Stored: true, Indexed: true, Boost: 1.0}
}

// NewUnindexedField returns a stored-only field, carried through the index
// but not searchable.
func NewUnindexedField(name, value string) *Field {
	return &Field{Name: name, Value: value, Stored: true, Boost: 1.0}
}

// NewUnstoredField returns an indexed, tokenized field whose value is not
// kept in the segment.
func NewUnstoredField(name, value string) *Field {
	return &Field{Name: name, Value: value, Indexed: true, Tokenized: true, Boost: 1.0}
}

// NewBinaryField returns a stored binary field.
func NewBinaryField(name string, value []byte) *Field {
	return &Field{Name: name, BinaryValue: value, Stored: true, IsBinary: true, Boost: 1.0}
}

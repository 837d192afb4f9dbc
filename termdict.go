package lantern

import (
	"fmt"
	"sort"
	"unicode/utf16"
)

// Term dictionary, two files per segment:
//
//	.tis  every term in (field, text) order with its TermInfo
//	.tii  every indexInterval-th entry, small enough to hold in memory
//
// Entries are delta-compressed: a term records the length of the prefix it
// shares with the previous term (in UTF-16 code units) and the suffix that
// follows, then the field ordinal, docFreq, and pointer deltas into the
// frequency and position streams. Each .tii entry additionally records the
// .tis offset where the NEXT dictionary block begins, so a lookup is a
// binary search of the index followed by a scan of at most indexInterval
// entries.

const (
	termInfosFormat = -2

	// defaultIndexInterval is how many .tis entries share one .tii entry.
	defaultIndexInterval = 128

	// defaultSkipInterval is how many postings share one skip entry.
	defaultSkipInterval = 16
)

// termInfosWriter writes one of the two dictionary files; the .tis writer
// owns a twin writing the .tii.
type termInfosWriter struct {
	out           IndexOutput
	other         *termInfosWriter // the .tii twin (nil on the twin itself)
	isIndex       bool
	indexInterval int32
	skipInterval  int32

	lastText         []uint16
	lastFieldNum     int32
	lastTi           TermInfo
	lastIndexPointer int64
	size             int64
	closed           bool
}

// newTermInfosWriter creates the paired .tis/.tii writers for a segment.
func newTermInfosWriter(dir Directory, segment string, indexInterval int32) (*termInfosWriter, error) {
	tis, err := dir.CreateOutput(segment + ".tis")
	if err != nil {
		return nil, err
	}
	tii, err := dir.CreateOutput(segment + ".tii")
	if err != nil {
		tis.Close()
		return nil, err
	}
	w := &termInfosWriter{out: tis, indexInterval: indexInterval, skipInterval: defaultSkipInterval, lastFieldNum: -1}
	w.other = &termInfosWriter{out: tii, isIndex: true, indexInterval: indexInterval, skipInterval: defaultSkipInterval, lastFieldNum: -1}
	w.other.other = w // the index twin records .tis offsets
	if err := w.writeHeader(); err != nil {
		tis.Close()
		tii.Close()
		return nil, err
	}
	if err := w.other.writeHeader(); err != nil {
		tis.Close()
		tii.Close()
		return nil, err
	}
	return w, nil
}

func (w *termInfosWriter) writeHeader() error {
	if err := writeInt32(w.out, termInfosFormat); err != nil {
		return err
	}
	if err := writeInt64(w.out, 0); err != nil { // size, patched on close
		return err
	}
	if err := writeInt32(w.out, w.indexInterval); err != nil {
		return err
	}
	return writeInt32(w.out, w.skipInterval)
}

// Add appends the next term in sort order. Out-of-order terms are refused:
// the dictionary invariant is strict (fieldNum, text) ascent.
func (w *termInfosWriter) Add(fieldNum int32, text string, ti *TermInfo) error {
	return w.add(fieldNum, utf16.Encode([]rune(text)), ti)
}

func (w *termInfosWriter) add(fieldNum int32, text []uint16, ti *TermInfo) error {
	if c := compareTermEntry(w.lastFieldNum, w.lastText, fieldNum, text); c >= 0 && w.size > 0 {
		return fmt.Errorf("%w: term out of order in dictionary", ErrCorruptIndex)
	}
	if !w.isIndex && w.size%int64(w.indexInterval) == 0 {
		// Index the state just before this entry, so a seek lands with the
		// correct prefix and pointer baselines for decoding it.
		if err := w.other.add(w.lastFieldNum, w.lastText, &w.lastTi); err != nil {
			return err
		}
	}

	prefix := sharedPrefix(w.lastText, text)
	suffix := text[prefix:]
	if err := writeVInt(w.out, int32(prefix)); err != nil {
		return err
	}
	if err := writeVInt(w.out, int32(len(suffix))); err != nil {
		return err
	}
	if err := writeChars(w.out, suffix); err != nil {
		return err
	}
	if err := writeVInt(w.out, fieldNum); err != nil {
		return err
	}
	if err := writeVInt(w.out, ti.DocFreq); err != nil {
		return err
	}
	if err := writeVLong(w.out, ti.FreqPointer-w.lastTi.FreqPointer); err != nil {
		return err
	}
	if err := writeVLong(w.out, ti.ProxPointer-w.lastTi.ProxPointer); err != nil {
		return err
	}
	if ti.DocFreq >= w.skipInterval {
		if err := writeVInt(w.out, ti.SkipOffset); err != nil {
			return err
		}
	}
	if w.isIndex {
		tisPointer := w.other.out.FilePointer()
		if err := writeVLong(w.out, tisPointer-w.lastIndexPointer); err != nil {
			return err
		}
		w.lastIndexPointer = tisPointer
	}

	w.lastText = append(w.lastText[:0], text...)
	w.lastFieldNum = fieldNum
	w.lastTi = *ti
	w.size++
	return nil
}

// Close patches the entry counts into both headers and closes the files.
// Closing twice is a no-op.
func (w *termInfosWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.out.Seek(4); err != nil {
		return err
	}
	if err := writeInt64(w.out, w.size); err != nil {
		return err
	}
	if err := w.out.Close(); err != nil {
		return err
	}
	if w.other != nil {
		if err := w.other.out.Seek(4); err != nil {
			return err
		}
		if err := writeInt64(w.other.out, w.other.size); err != nil {
			return err
		}
		return w.other.out.Close()
	}
	return nil
}

// sharedPrefix returns the length of the common prefix in code units.
func sharedPrefix(a, b []uint16) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

// compareTermEntry orders (fieldNum, text) pairs.
func compareTermEntry(fa int32, ta []uint16, fb int32, tb []uint16) int {
	if fa != fb {
		if fa < fb {
			return -1
		}
		return 1
	}
	n := len(ta)
	if len(tb) < n {
		n = len(tb)
	}
	for i := 0; i < n; i++ {
		if ta[i] != tb[i] {
			if ta[i] < tb[i] {
				return -1
			}
			return 1
		}
	}
	return len(ta) - len(tb)
}

// segmentTermEnum is the dictionary cursor: a restartable, finite iterator
// producing (term, TermInfo) pairs in ascending order. It owns a clone of
// the dictionary file handle.
type segmentTermEnum struct {
	in         IndexInput
	fieldInfos *FieldInfos
	isIndex    bool

	size          int64
	indexInterval int32
	skipInterval  int32

	position int64 // index of the current term, -1 before the first

	text     []uint16
	fieldNum int32
	ti       TermInfo

	indexPointer int64 // .tis offset, only while reading the .tii
}

func newSegmentTermEnum(in IndexInput, fieldInfos *FieldInfos, isIndex bool) (*segmentTermEnum, error) {
	e := &segmentTermEnum{in: in, fieldInfos: fieldInfos, isIndex: isIndex, position: -1, fieldNum: -1}
	format, err := readInt32(in)
	if err != nil {
		return nil, err
	}
	if format != termInfosFormat {
		return nil, fmt.Errorf("%w: unknown term dictionary format %d", ErrCorruptIndex, format)
	}
	if e.size, err = readInt64(in); err != nil {
		return nil, err
	}
	if e.size < 0 {
		return nil, fmt.Errorf("%w: negative term count %d", ErrCorruptIndex, e.size)
	}
	if e.indexInterval, err = readInt32(in); err != nil {
		return nil, err
	}
	if e.skipInterval, err = readInt32(in); err != nil {
		return nil, err
	}
	if e.indexInterval <= 0 || e.skipInterval <= 0 {
		return nil, fmt.Errorf("%w: non-positive interval in term dictionary", ErrCorruptIndex)
	}
	return e, nil
}

// Next advances to the next term. Returns false at the end.
func (e *segmentTermEnum) Next() (bool, error) {
	if e.position+1 >= e.size {
		e.position = e.size
		return false, nil
	}
	e.position++

	prefix, err := readVInt(e.in)
	if err != nil {
		return false, err
	}
	suffixLen, err := readVInt(e.in)
	if err != nil {
		return false, err
	}
	if prefix < 0 || int(prefix) > len(e.text) || suffixLen < 0 {
		return false, fmt.Errorf("%w: bad term delta (prefix %d, suffix %d)", ErrCorruptIndex, prefix, suffixLen)
	}
	suffix, err := readChars(e.in, int(suffixLen))
	if err != nil {
		return false, err
	}
	e.text = append(e.text[:prefix], suffix...)

	prevField := e.fieldNum
	if e.fieldNum, err = readVInt(e.in); err != nil {
		return false, err
	}
	if e.fieldNum < prevField {
		return false, fmt.Errorf("%w: field ordinals out of order in dictionary", ErrCorruptIndex)
	}
	if e.ti.DocFreq, err = readVInt(e.in); err != nil {
		return false, err
	}
	freqDelta, err := readVLong(e.in)
	if err != nil {
		return false, err
	}
	e.ti.FreqPointer += freqDelta
	proxDelta, err := readVLong(e.in)
	if err != nil {
		return false, err
	}
	e.ti.ProxPointer += proxDelta
	if e.ti.DocFreq >= e.skipInterval {
		if e.ti.SkipOffset, err = readVInt(e.in); err != nil {
			return false, err
		}
	} else {
		e.ti.SkipOffset = 0
	}
	if e.isIndex {
		indexDelta, err := readVLong(e.in)
		if err != nil {
			return false, err
		}
		e.indexPointer += indexDelta
	}
	return true, nil
}

// Term returns the current term.
func (e *segmentTermEnum) Term() Term {
	fi := e.fieldInfos.ByNumber(e.fieldNum)
	field := ""
	if fi != nil {
		field = fi.Name
	}
	return Term{Field: field, Text: string(utf16.Decode(e.text))}
}

// TermInfo returns the current entry.
func (e *segmentTermEnum) TermInfo() TermInfo { return e.ti }

// Valid reports whether the cursor is positioned on a term.
func (e *segmentTermEnum) Valid() bool { return e.position >= 0 && e.position < e.size }

// DocFreq returns the current term's document frequency.
func (e *segmentTermEnum) DocFreq() int { return int(e.ti.DocFreq) }

// seek repositions the cursor from an index entry: the file offset of the
// next .tis entry, that entry's ordinal minus one, and the preceding term's
// decode state.
func (e *segmentTermEnum) seek(pointer, position int64, fieldNum int32, text []uint16, ti TermInfo) error {
	if err := e.in.Seek(pointer); err != nil {
		return err
	}
	e.position = position
	e.fieldNum = fieldNum
	e.text = append(e.text[:0], text...)
	e.ti = ti
	return nil
}

func (e *segmentTermEnum) Close() error { return e.in.Close() }

func (e *segmentTermEnum) clone() *segmentTermEnum {
	c := *e
	c.in = e.in.Clone()
	c.text = append([]uint16(nil), e.text...)
	return &c
}

// termInfosReader serves dictionary lookups for one segment. The .tii is
// held in memory; lookups binary-search it and scan forward in the .tis.
type termInfosReader struct {
	dir        Directory
	segment    string
	fieldInfos *FieldInfos

	origEnum *segmentTermEnum // positioned template, cloned per cursor
	size     int64

	indexText     [][]uint16
	indexField    []int32
	indexInfos    []TermInfo
	indexPointers []int64
}

func newTermInfosReader(dir Directory, segment string, fieldInfos *FieldInfos) (*termInfosReader, error) {
	tis, err := dir.OpenInput(segment + ".tis")
	if err != nil {
		return nil, err
	}
	origEnum, err := newSegmentTermEnum(tis, fieldInfos, false)
	if err != nil {
		tis.Close()
		return nil, err
	}
	r := &termInfosReader{dir: dir, segment: segment, fieldInfos: fieldInfos, origEnum: origEnum, size: origEnum.size}
	if err := r.loadIndex(); err != nil {
		tis.Close()
		return nil, err
	}
	return r, nil
}

func (r *termInfosReader) loadIndex() error {
	tii, err := r.dir.OpenInput(r.segment + ".tii")
	if err != nil {
		return err
	}
	defer tii.Close()

	e, err := newSegmentTermEnum(tii, r.fieldInfos, true)
	if err != nil {
		return err
	}
	n := int(e.size)
	r.indexText = make([][]uint16, 0, n)
	r.indexField = make([]int32, 0, n)
	r.indexInfos = make([]TermInfo, 0, n)
	r.indexPointers = make([]int64, 0, n)
	for {
		ok, err := e.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		r.indexText = append(r.indexText, append([]uint16(nil), e.text...))
		r.indexField = append(r.indexField, e.fieldNum)
		r.indexInfos = append(r.indexInfos, e.ti)
		r.indexPointers = append(r.indexPointers, e.indexPointer)
	}
	return nil
}

// indexOffset finds the greatest index entry < (fieldNum, text). An entry
// holds the state just before its block, so a scan from an entry equal to
// the target would start past it.
func (r *termInfosReader) indexOffset(fieldNum int32, text []uint16) int {
	return sort.Search(len(r.indexText), func(i int) bool {
		return compareTermEntry(r.indexField[i], r.indexText[i], fieldNum, text) >= 0
	}) - 1
}

// seekEnum returns a dictionary cursor positioned just before index block i.
func (r *termInfosReader) seekEnum(i int) (*segmentTermEnum, error) {
	e := r.origEnum.clone()
	err := e.seek(
		r.indexPointers[i],
		int64(i)*int64(e.indexInterval)-1,
		r.indexField[i],
		r.indexText[i],
		r.indexInfos[i],
	)
	if err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

// Get looks up a term. The boolean reports whether it exists.
func (r *termInfosReader) Get(t Term) (TermInfo, bool, error) {
	e, found, err := r.seekTo(t)
	if e != nil {
		defer e.Close()
	}
	if err != nil || !found {
		return TermInfo{}, false, err
	}
	return e.ti, true, nil
}

// Terms returns a cursor over the whole dictionary.
func (r *termInfosReader) Terms() (*segmentTermEnum, error) {
	e := r.origEnum.clone()
	if err := e.seek(r.headerLength(), -1, -1, nil, TermInfo{}); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

// TermsFrom returns a cursor positioned at the first term >= t.
func (r *termInfosReader) TermsFrom(t Term) (*segmentTermEnum, error) {
	e, _, err := r.seekTo(t)
	if err != nil {
		if e != nil {
			e.Close()
		}
		return nil, err
	}
	return e, nil
}

// seekTo positions a fresh cursor at the first term >= t; found reports an
// exact match. The cursor is exhausted when no term >= t exists.
func (r *termInfosReader) seekTo(t Term) (*segmentTermEnum, bool, error) {
	fieldNum := r.fieldInfos.FieldNumber(t.Field)
	text := utf16.Encode([]rune(t.Text))
	if fieldNum < 0 {
		// Unknown field: every indexed field sorts before or after; scan
		// cannot use the ordinal, so fall back to name order against the
		// whole dictionary.
		return r.seekByName(t)
	}

	i := r.indexOffset(fieldNum, text)
	var e *segmentTermEnum
	var err error
	if i < 0 {
		e, err = r.Terms()
	} else {
		e, err = r.seekEnum(i)
	}
	if err != nil {
		return nil, false, err
	}
	for {
		ok, nerr := e.Next()
		if nerr != nil {
			return e, false, nerr
		}
		if !ok {
			return e, false, nil
		}
		c := compareTermEntry(e.fieldNum, e.text, fieldNum, text)
		if c == 0 {
			return e, true, nil
		}
		if c > 0 {
			return e, false, nil
		}
	}
}

// seekByName scans by (field name, text) order for terms whose field is not
// in this segment's table. Such a term cannot match exactly; the cursor
// lands on the first term ordered after it by name.
func (r *termInfosReader) seekByName(t Term) (*segmentTermEnum, bool, error) {
	e, err := r.Terms()
	if err != nil {
		return nil, false, err
	}
	for {
		ok, nerr := e.Next()
		if nerr != nil {
			return e, false, nerr
		}
		if !ok {
			return e, false, nil
		}
		if e.Term().Compare(t) >= 0 {
			return e, false, nil
		}
	}
}

func (r *termInfosReader) headerLength() int64 {
	// format Int32 + size Int64 + indexInterval Int32 + skipInterval Int32
	return 4 + 8 + 4 + 4
}

func (r *termInfosReader) Close() error {
	return r.origEnum.Close()
}

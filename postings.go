package lantern

import (
	"fmt"

	"github.com/RoaringBitmap/roaring"
)

// Posting streams, two files per segment:
//
//	.frq  per term: doc-id deltas interleaved with frequencies, then the
//	      term's skip entries
//	.prx  per document: freq position deltas
//
// The doc entry packs the common freq==1 case into the delta's low bit:
// docDelta<<1|1 means freq 1, docDelta<<1 means a VInt freq follows. Every
// skipInterval postings a skip entry records the last doc id and how many
// bytes of each stream the block consumed, so skipTo can jump whole blocks.

// TermDocs iterates the documents containing a term, in ascending global
// doc-id order, with per-document frequencies. Deleted documents are
// silently dropped.
type TermDocs interface {
	// Next advances to the next document. Returns false at the end.
	Next() (bool, error)

	// Doc returns the current document id.
	Doc() int

	// Freq returns the term's frequency within the current document.
	Freq() int

	// SkipTo advances to the first document >= target. Returns false when
	// no such document exists.
	SkipTo(target int) (bool, error)

	// Close releases the cursor's file handles.
	Close() error
}

// TermPositions is TermDocs plus access to the term's positions within the
// current document.
type TermPositions interface {
	TermDocs

	// Positions returns the term's positions in the current document, in
	// ascending order. Valid until the cursor advances.
	Positions() ([]int, error)
}

// postingsWriter writes the frequency and position streams for one segment.
// Terms arrive in dictionary order; postings per term in doc order.
type postingsWriter struct {
	freqOut IndexOutput
	proxOut IndexOutput

	skipInterval int32

	// per-term state
	freqStart int64
	proxStart int64
	lastDoc   int32
	df        int32

	skipEntries  []skipEntry
	lastSkipDoc  int32
	lastSkipFreq int64
	lastSkipProx int64
	closed       bool
}

type skipEntry struct {
	docDelta  int32
	freqDelta int32
	proxDelta int32
}

func newPostingsWriter(dir Directory, segment string) (*postingsWriter, error) {
	freqOut, err := dir.CreateOutput(segment + ".frq")
	if err != nil {
		return nil, err
	}
	proxOut, err := dir.CreateOutput(segment + ".prx")
	if err != nil {
		freqOut.Close()
		return nil, err
	}
	return &postingsWriter{freqOut: freqOut, proxOut: proxOut, skipInterval: defaultSkipInterval}, nil
}

// startTerm begins a new posting list.
func (w *postingsWriter) startTerm() {
	w.freqStart = w.freqOut.FilePointer()
	w.proxStart = w.proxOut.FilePointer()
	w.lastDoc = 0
	w.df = 0
	w.skipEntries = w.skipEntries[:0]
	w.lastSkipDoc = 0
	w.lastSkipFreq = w.freqStart
	w.lastSkipProx = w.proxStart
}

// addPosting appends one (doc, positions) record to the current term.
func (w *postingsWriter) addPosting(doc int32, positions []int32) error {
	if w.df > 0 && doc <= w.lastDoc {
		return fmt.Errorf("%w: docs out of order (%d after %d)", ErrCorruptIndex, doc, w.lastDoc)
	}
	if len(positions) == 0 {
		return fmt.Errorf("%w: posting with zero freq for doc %d", ErrCorruptIndex, doc)
	}
	if w.df > 0 && w.df%w.skipInterval == 0 {
		w.bufferSkip()
	}

	freq := int32(len(positions))
	delta := doc - w.lastDoc
	if freq == 1 {
		if err := writeVInt(w.freqOut, delta<<1|1); err != nil {
			return err
		}
	} else {
		if err := writeVInt(w.freqOut, delta<<1); err != nil {
			return err
		}
		if err := writeVInt(w.freqOut, freq); err != nil {
			return err
		}
	}

	lastPos := int32(0)
	for _, p := range positions {
		if err := writeVInt(w.proxOut, p-lastPos); err != nil {
			return err
		}
		lastPos = p
	}

	w.lastDoc = doc
	w.df++
	return nil
}

// bufferSkip records the stream state at the current block boundary.
func (w *postingsWriter) bufferSkip() {
	freqPos := w.freqOut.FilePointer()
	proxPos := w.proxOut.FilePointer()
	w.skipEntries = append(w.skipEntries, skipEntry{
		docDelta:  w.lastDoc - w.lastSkipDoc,
		freqDelta: int32(freqPos - w.lastSkipFreq),
		proxDelta: int32(proxPos - w.lastSkipProx),
	})
	w.lastSkipDoc = w.lastDoc
	w.lastSkipFreq = freqPos
	w.lastSkipProx = proxPos
}

// finishTerm writes the buffered skip entries and returns the TermInfo for
// the dictionary.
func (w *postingsWriter) finishTerm() (TermInfo, error) {
	ti := TermInfo{
		DocFreq:     w.df,
		FreqPointer: w.freqStart,
		ProxPointer: w.proxStart,
	}
	if w.df >= w.skipInterval {
		skipPointer := w.freqOut.FilePointer()
		for _, s := range w.skipEntries {
			if err := writeVInt(w.freqOut, s.docDelta); err != nil {
				return ti, err
			}
			if err := writeVInt(w.freqOut, s.freqDelta); err != nil {
				return ti, err
			}
			if err := writeVInt(w.freqOut, s.proxDelta); err != nil {
				return ti, err
			}
		}
		ti.SkipOffset = int32(skipPointer - w.freqStart)
	}
	return ti, nil
}

func (w *postingsWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.freqOut.Close(); err != nil {
		w.proxOut.Close()
		return err
	}
	return w.proxOut.Close()
}

// segmentTermDocs is the freq-stream cursor for one term in one segment.
type segmentTermDocs struct {
	freqIn       IndexInput
	deleted      func(int32) bool // nil in raw mode
	skipInterval int32

	ti    TermInfo
	count int32
	doc   int32
	freq  int32

	// skip state
	skipDoc     int32
	skipFreqPtr int64
	skipProxPtr int64
	numSkipped  int32
	skipIn      IndexInput
	skipCount   int32
	skipRead    int32

	// proxSeeker repositions the position stream after a block jump; set
	// by the positions cursor, nil on a plain doc cursor.
	proxSeeker func(int64) error
}

// Compile-time check to ensure segmentTermDocs implements TermDocs
var _ TermDocs = (*segmentTermDocs)(nil)

// newSegmentTermDocs opens a cursor over a term's postings. freqIn must be
// a dedicated clone. deleted filters tombstoned docs; pass nil to read raw
// postings (the merger does).
func newSegmentTermDocs(freqIn IndexInput, ti TermInfo, skipInterval int32, deleted func(int32) bool) (*segmentTermDocs, error) {
	d := &segmentTermDocs{
		freqIn:       freqIn,
		deleted:      deleted,
		skipInterval: skipInterval,
		ti:           ti,
		skipFreqPtr:  ti.FreqPointer,
		skipProxPtr:  ti.ProxPointer,
	}
	if skipInterval > 0 {
		d.skipCount = (ti.DocFreq - 1) / skipInterval
	}
	if err := freqIn.Seek(ti.FreqPointer); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *segmentTermDocs) Doc() int  { return int(d.doc) }
func (d *segmentTermDocs) Freq() int { return int(d.freq) }

func (d *segmentTermDocs) Next() (bool, error) {
	for {
		ok, err := d.readOne()
		if err != nil || !ok {
			return false, err
		}
		if d.deleted != nil && d.deleted(d.doc) {
			continue
		}
		return true, nil
	}
}

// readOne decodes the next raw posting.
func (d *segmentTermDocs) readOne() (bool, error) {
	if d.count >= d.ti.DocFreq {
		return false, nil
	}
	code, err := readVInt(d.freqIn)
	if err != nil {
		return false, err
	}
	d.doc += code >> 1
	if code&1 != 0 {
		d.freq = 1
	} else {
		if d.freq, err = readVInt(d.freqIn); err != nil {
			return false, err
		}
		if d.freq <= 0 {
			return false, fmt.Errorf("%w: non-positive freq %d", ErrCorruptIndex, d.freq)
		}
	}
	d.count++
	return true, nil
}

// SkipTo advances past whole skip blocks when the target is far ahead,
// then scans.
func (d *segmentTermDocs) SkipTo(target int) (bool, error) {
	if d.ti.DocFreq >= d.skipInterval && d.skipCount > 0 {
		if err := d.skipBlocks(int32(target)); err != nil {
			return false, err
		}
	}
	for d.doc < int32(target) || d.count == 0 {
		ok, err := d.Next()
		if err != nil || !ok {
			return false, err
		}
		if d.doc >= int32(target) {
			return true, nil
		}
	}
	if d.deleted != nil && d.deleted(d.doc) {
		return d.Next()
	}
	return true, nil
}

// skipBlocks consumes skip entries while they stay below target, then
// repositions the streams at the last one passed.
func (d *segmentTermDocs) skipBlocks(target int32) error {
	if d.skipIn == nil {
		d.skipIn = d.freqIn.Clone()
		if err := d.skipIn.Seek(d.ti.FreqPointer + int64(d.ti.SkipOffset)); err != nil {
			return err
		}
	}
	moved := false
	for d.skipRead < d.skipCount {
		probe := d.skipIn.Clone()
		docDelta, err := readVInt(probe)
		if err != nil {
			probe.Close()
			return err
		}
		if d.skipDoc+docDelta >= target {
			probe.Close()
			break
		}
		freqDelta, err := readVInt(probe)
		if err != nil {
			probe.Close()
			return err
		}
		proxDelta, err := readVInt(probe)
		if err != nil {
			probe.Close()
			return err
		}
		d.skipDoc += docDelta
		d.skipFreqPtr += int64(freqDelta)
		d.skipProxPtr += int64(proxDelta)
		d.skipRead++
		d.skipIn.Seek(probe.FilePointer())
		probe.Close()
		moved = true
	}
	if moved && d.numSkipped < d.skipRead*d.skipInterval {
		if err := d.freqIn.Seek(d.skipFreqPtr); err != nil {
			return err
		}
		d.doc = d.skipDoc
		d.count = d.skipRead * d.skipInterval
		d.numSkipped = d.count
		if d.proxSeeker != nil {
			if err := d.proxSeeker(d.skipProxPtr); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *segmentTermDocs) Close() error {
	if d.skipIn != nil {
		d.skipIn.Close()
	}
	return d.freqIn.Close()
}

// segmentTermPositions adds the position stream to the doc cursor. The two
// streams advance in lockstep: positions for skipped docs are drained when
// the doc cursor moves past them.
type segmentTermPositions struct {
	segmentTermDocs
	proxIn IndexInput

	pending   int32 // positions of the current doc not yet read
	positions []int
}

// Compile-time check to ensure segmentTermPositions implements TermPositions
var _ TermPositions = (*segmentTermPositions)(nil)

func newSegmentTermPositions(freqIn, proxIn IndexInput, ti TermInfo, skipInterval int32, deleted func(int32) bool) (*segmentTermPositions, error) {
	base, err := newSegmentTermDocs(freqIn, ti, skipInterval, deleted)
	if err != nil {
		return nil, err
	}
	p := &segmentTermPositions{segmentTermDocs: *base, proxIn: proxIn}
	p.proxSeeker = proxIn.Seek
	if err := proxIn.Seek(ti.ProxPointer); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *segmentTermPositions) Next() (bool, error) {
	for {
		if err := p.drain(); err != nil {
			return false, err
		}
		ok, err := p.readOne()
		if err != nil || !ok {
			return false, err
		}
		p.pending = p.freq
		if p.deleted != nil && p.deleted(p.doc) {
			continue // positions drained on the next loop
		}
		return true, nil
	}
}

// drain consumes unread positions of the doc the cursor is leaving.
func (p *segmentTermPositions) drain() error {
	for ; p.pending > 0; p.pending-- {
		if _, err := readVInt(p.proxIn); err != nil {
			return err
		}
	}
	return nil
}

func (p *segmentTermPositions) Positions() ([]int, error) {
	if p.pending != p.freq {
		return p.positions, nil // already read for this doc
	}
	p.positions = p.positions[:0]
	pos := int32(0)
	for ; p.pending > 0; p.pending-- {
		delta, err := readVInt(p.proxIn)
		if err != nil {
			return nil, err
		}
		pos += delta
		p.positions = append(p.positions, int(pos))
	}
	return p.positions, nil
}

func (p *segmentTermPositions) SkipTo(target int) (bool, error) {
	if p.ti.DocFreq >= p.skipInterval && p.skipCount > 0 {
		if err := p.skipBlocksPositions(int32(target)); err != nil {
			return false, err
		}
	}
	if p.count > 0 && p.doc >= int32(target) && (p.deleted == nil || !p.deleted(p.doc)) {
		return true, nil
	}
	for {
		ok, err := p.Next()
		if err != nil || !ok {
			return false, err
		}
		if p.doc >= int32(target) {
			return true, nil
		}
	}
}

// skipBlocksPositions mirrors skipBlocks but also clears pending positions
// when the streams jump.
func (p *segmentTermPositions) skipBlocksPositions(target int32) error {
	before := p.numSkipped
	if err := p.skipBlocks(target); err != nil {
		return err
	}
	if p.numSkipped != before {
		// The streams jumped; nothing is pending at the new block start.
		p.pending = 0
	}
	return nil
}

func (p *segmentTermPositions) Close() error {
	p.proxIn.Close()
	return p.segmentTermDocs.Close()
}

// deletedFunc adapts a roaring bitmap pair (committed + pending tombstones)
// to the cursor filter.
func deletedFunc(committed, pending *roaring.Bitmap) func(int32) bool {
	if committed == nil && pending == nil {
		return nil
	}
	return func(doc int32) bool {
		if committed != nil && committed.Contains(uint32(doc)) {
			return true
		}
		return pending != nil && pending.Contains(uint32(doc))
	}
}

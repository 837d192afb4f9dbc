package lantern

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/RoaringBitmap/roaring"
)

// SegmentInfo identifies one immutable segment: its name, document count,
// deletion generation, and the directory holding its files (buffered
// segments live in a RAMDirectory until flush).
type SegmentInfo struct {
	Name     string
	DocCount int32

	// DelGen is -1 when the segment has no deletions, 0 for the legacy
	// <name>.del naming, and otherwise the suffix of the live .del file.
	DelGen int64

	Dir Directory
}

// delFileName returns the deletion bitmap file for the current generation,
// or "" when there are no deletions.
func (si *SegmentInfo) delFileName() string {
	switch {
	case si.DelGen < 0:
		return ""
	case si.DelGen == 0:
		return si.Name + ".del"
	default:
		return si.Name + "_" + strconv.FormatInt(si.DelGen, 36) + ".del"
	}
}

// nextDelGen returns the generation the next bitmap rewrite should use.
func (si *SegmentInfo) nextDelGen() int64 {
	if si.DelGen < 0 {
		return 1
	}
	return si.DelGen + 1
}

// hasSegmentPrefix reports whether a directory file belongs to the named
// segment (its extension files or its deletion bitmaps).
func hasSegmentPrefix(file, segment string) bool {
	return strings.HasPrefix(file, segment+".") || strings.HasPrefix(file, segment+"_")
}

// SegmentReader exposes one segment: a terms stream over the dictionary, a
// postings stream per term, stored fields, norms, and the deletion bitmap.
// All reads share the two posting-stream file handles through clones, so a
// reader supports any number of concurrent cursors.
type SegmentReader struct {
	info       *SegmentInfo
	fieldInfos *FieldInfos
	tis        *termInfosReader
	fields     *fieldsReader
	freqIn     IndexInput
	proxIn     IndexInput
	norms      map[string][]byte

	// deletedDocs is the committed bitmap; pending holds tombstones added
	// by the owning writer since the last commit. Readers opened from a
	// committed generation never carry pending entries.
	deletedDocs *roaring.Bitmap
	pending     *roaring.Bitmap
}

// openSegmentReader opens all files of a segment.
func openSegmentReader(si *SegmentInfo) (*SegmentReader, error) {
	fieldInfos, err := ReadFieldInfos(si.Dir, si.Name+".fnm")
	if err != nil {
		return nil, fmt.Errorf("failed to open segment %s: %w", si.Name, err)
	}
	r := &SegmentReader{info: si, fieldInfos: fieldInfos, pending: roaring.New()}

	if r.tis, err = newTermInfosReader(si.Dir, si.Name, fieldInfos); err != nil {
		return nil, fmt.Errorf("failed to open term dictionary of %s: %w", si.Name, err)
	}
	if r.fields, err = newFieldsReader(si.Dir, si.Name, fieldInfos); err != nil {
		r.Close()
		return nil, fmt.Errorf("failed to open stored fields of %s: %w", si.Name, err)
	}
	if r.freqIn, err = si.Dir.OpenInput(si.Name + ".frq"); err != nil {
		r.Close()
		return nil, err
	}
	if r.proxIn, err = si.Dir.OpenInput(si.Name + ".prx"); err != nil {
		r.Close()
		return nil, err
	}

	if name := si.delFileName(); name != "" {
		if r.deletedDocs, err = readDeletions(si.Dir, name, si.DocCount); err != nil {
			r.Close()
			return nil, fmt.Errorf("failed to open deletions of %s: %w", si.Name, err)
		}
	}

	r.norms = make(map[string][]byte)
	for i := 0; i < fieldInfos.Len(); i++ {
		fi := fieldInfos.ByNumber(int32(i))
		if !fi.Indexed || fi.OmitNorms {
			continue
		}
		norms, err := readNorms(si.Dir, si.Name, fi.Number, si.DocCount)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("failed to open norms of %s: %w", si.Name, err)
		}
		r.norms[fi.Name] = norms
	}
	return r, nil
}

// MaxDoc returns the segment's document capacity, deletions included.
func (r *SegmentReader) MaxDoc() int { return int(r.info.DocCount) }

// NumDocs returns the live document count.
func (r *SegmentReader) NumDocs() int {
	n := int(r.info.DocCount)
	if r.deletedDocs != nil {
		n -= int(r.deletedDocs.GetCardinality())
	}
	n -= int(r.pending.GetCardinality())
	return n
}

// HasDeletions reports whether any document is tombstoned.
func (r *SegmentReader) HasDeletions() bool {
	return (r.deletedDocs != nil && !r.deletedDocs.IsEmpty()) || !r.pending.IsEmpty()
}

// IsDeleted reports whether a local doc id is tombstoned.
func (r *SegmentReader) IsDeleted(n int32) bool {
	if r.deletedDocs != nil && r.deletedDocs.Contains(uint32(n)) {
		return true
	}
	return r.pending.Contains(uint32(n))
}

// deleteLocal tombstones a local doc id in the writer's pending set.
func (r *SegmentReader) deleteLocal(n int32) error {
	if n < 0 || n >= r.info.DocCount {
		return fmt.Errorf("%w: doc %d out of range [0, %d)", ErrInvalidArgument, n, r.info.DocCount)
	}
	r.pending.Add(uint32(n))
	return nil
}

// undeleteAll clears pending tombstones. Committed deletions stay.
func (r *SegmentReader) undeleteAll() {
	r.pending.Clear()
}

// hasPendingDeletions reports whether a commit must rewrite the bitmap.
func (r *SegmentReader) hasPendingDeletions() bool {
	return !r.pending.IsEmpty()
}

// commitDeletions merges pending tombstones into the committed set and
// writes the bitmap under the next deletion generation. The caller updates
// the manifest.
func (r *SegmentReader) commitDeletions() error {
	merged := r.pending.Clone()
	if r.deletedDocs != nil {
		merged.Or(r.deletedDocs)
	}
	delGen := r.info.nextDelGen()
	name := r.info.Name + "_" + strconv.FormatInt(delGen, 36) + ".del"
	if err := writeDeletions(r.info.Dir, name, merged, r.info.DocCount); err != nil {
		return err
	}
	r.deletedDocs = merged
	r.pending = roaring.New()
	r.info.DelGen = delGen
	return nil
}

// Terms returns the dictionary cursor from the first term.
func (r *SegmentReader) Terms() (*segmentTermEnum, error) {
	return r.tis.Terms()
}

// TermsFrom returns the dictionary cursor positioned at the first term >= t.
func (r *SegmentReader) TermsFrom(t Term) (*segmentTermEnum, error) {
	return r.tis.TermsFrom(t)
}

// DocFreq returns the number of documents containing t, tombstones
// included: docFreq is a dictionary property and only merging re-counts it.
func (r *SegmentReader) DocFreq(t Term) (int, error) {
	ti, found, err := r.tis.Get(t)
	if err != nil || !found {
		return 0, err
	}
	return int(ti.DocFreq), nil
}

// TermDocs opens a postings cursor for t with deleted docs filtered out.
// The cursor is empty when the term is absent.
func (r *SegmentReader) TermDocs(t Term) (TermDocs, error) {
	ti, found, err := r.tis.Get(t)
	if err != nil {
		return nil, err
	}
	if !found {
		return emptyTermDocs{}, nil
	}
	return newSegmentTermDocs(r.freqIn.Clone(), ti, defaultSkipInterval, deletedFunc(r.deletedDocs, r.pending))
}

// TermPositions opens a positions cursor for t with deleted docs filtered.
func (r *SegmentReader) TermPositions(t Term) (TermPositions, error) {
	ti, found, err := r.tis.Get(t)
	if err != nil {
		return nil, err
	}
	if !found {
		return emptyTermDocs{}, nil
	}
	return newSegmentTermPositions(r.freqIn.Clone(), r.proxIn.Clone(), ti, defaultSkipInterval, deletedFunc(r.deletedDocs, r.pending))
}

// rawTermPositions opens a positions cursor that keeps deleted docs. The
// merger reads raw postings and drops deletions through its doc map.
func (r *SegmentReader) rawTermPositions(ti TermInfo) (*segmentTermPositions, error) {
	return newSegmentTermPositions(r.freqIn.Clone(), r.proxIn.Clone(), ti, defaultSkipInterval, nil)
}

// Document returns the stored view of a live document.
func (r *SegmentReader) Document(n int32) (*Document, error) {
	if n < 0 || n >= r.info.DocCount {
		return nil, fmt.Errorf("%w: doc %d out of range [0, %d)", ErrInvalidArgument, n, r.info.DocCount)
	}
	if r.IsDeleted(n) {
		return nil, fmt.Errorf("%w: doc %d is deleted", ErrInvalidArgument, n)
	}
	return r.fields.Doc(n)
}

// Norms returns the norm bytes for an indexed field, or nil.
func (r *SegmentReader) Norms(field string) []byte {
	return r.norms[field]
}

// FieldInfos returns the segment's field table.
func (r *SegmentReader) FieldInfos() *FieldInfos { return r.fieldInfos }

// Close releases every file handle. Cursors cloned from this reader must
// be closed first.
func (r *SegmentReader) Close() error {
	var firstErr error
	if r.tis != nil {
		if err := r.tis.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if r.fields != nil {
		if err := r.fields.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if r.freqIn != nil {
		if err := r.freqIn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if r.proxIn != nil {
		if err := r.proxIn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// emptyTermDocs is the cursor for a term absent from the segment.
type emptyTermDocs struct{}

func (emptyTermDocs) Next() (bool, error)          { return false, nil }
func (emptyTermDocs) Doc() int                     { return -1 }
func (emptyTermDocs) Freq() int                    { return 0 }
func (emptyTermDocs) SkipTo(int) (bool, error)     { return false, nil }
func (emptyTermDocs) Positions() ([]int, error)    { return nil, nil }
func (emptyTermDocs) Close() error                 { return nil }

package lantern

import (
	"container/heap"
	"fmt"
	"sort"
	"unicode/utf16"
)

// segmentMerger produces one segment from several, re-mapping doc ids and
// dropping tombstoned documents. Memory stays bounded: term streams merge
// through a min-heap of dictionary cursors, and postings are rewritten one
// source list at a time — each source list is already doc-ordered and the
// id maps preserve order, so no global sort is needed.
type segmentMerger struct {
	dir     Directory
	segment string
	readers []*SegmentReader

	fieldInfos *FieldInfos
	fieldMaps  [][]int32 // per reader: old field ordinal → merged ordinal
	docMaps    [][]int32 // per reader: old local id → new local id, -1 deleted
	bases      []int32   // per reader: first new local id
	docCount   int32
}

func newSegmentMerger(dir Directory, segment string, readers []*SegmentReader) *segmentMerger {
	return &segmentMerger{dir: dir, segment: segment, readers: readers}
}

// merge writes the merged segment and returns its document count. On error
// the caller unlinks the partial files; the inputs are never touched.
func (m *segmentMerger) merge() (int32, error) {
	m.mergeFieldInfos()
	m.buildDocMaps()
	if err := m.fieldInfos.Write(m.dir, m.segment+".fnm"); err != nil {
		return 0, err
	}
	if err := m.mergeStoredFields(); err != nil {
		return 0, err
	}
	if err := m.mergeTerms(); err != nil {
		return 0, err
	}
	if err := m.mergeNorms(); err != nil {
		return 0, err
	}
	return m.docCount, nil
}

// mergeFieldInfos unions the field tables. Names are registered in sorted
// order, which keeps ordinal order equal to name order in the merged
// segment just as in every source segment.
func (m *segmentMerger) mergeFieldInfos() {
	names := make(map[string]bool)
	for _, r := range m.readers {
		for i := 0; i < r.FieldInfos().Len(); i++ {
			names[r.FieldInfos().ByNumber(int32(i)).Name] = true
		}
	}
	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Slice(sorted, func(i, j int) bool { return compareUTF16(sorted[i], sorted[j]) < 0 })

	m.fieldInfos = NewFieldInfos()
	for _, name := range sorted {
		m.fieldInfos.Add(name, false, false, true)
	}
	for _, r := range m.readers {
		for i := 0; i < r.FieldInfos().Len(); i++ {
			fi := r.FieldInfos().ByNumber(int32(i))
			m.fieldInfos.Add(fi.Name, fi.Indexed, fi.StoreTermVector, fi.OmitNorms)
		}
	}

	m.fieldMaps = make([][]int32, len(m.readers))
	for i, r := range m.readers {
		fm := make([]int32, r.FieldInfos().Len())
		for j := range fm {
			fm[j] = m.fieldInfos.FieldNumber(r.FieldInfos().ByNumber(int32(j)).Name)
		}
		m.fieldMaps[i] = fm
	}
}

// buildDocMaps numbers the live documents of each source consecutively.
func (m *segmentMerger) buildDocMaps() {
	m.docMaps = make([][]int32, len(m.readers))
	m.bases = make([]int32, len(m.readers))
	var next int32
	for i, r := range m.readers {
		m.bases[i] = next
		dm := make([]int32, r.MaxDoc())
		for d := int32(0); d < int32(r.MaxDoc()); d++ {
			if r.IsDeleted(d) {
				dm[d] = -1
				continue
			}
			dm[d] = next - m.bases[i]
			next++
		}
		m.docMaps[i] = dm
	}
	m.docCount = next
}

func (m *segmentMerger) mergeStoredFields() error {
	fw, err := newFieldsWriter(m.dir, m.segment, m.fieldInfos)
	if err != nil {
		return err
	}
	for _, r := range m.readers {
		for d := int32(0); d < int32(r.MaxDoc()); d++ {
			if r.IsDeleted(d) {
				continue
			}
			doc, err := r.fields.Doc(d)
			if err != nil {
				fw.Close()
				return err
			}
			if err := fw.AddDocument(doc); err != nil {
				fw.Close()
				return err
			}
		}
	}
	return fw.Close()
}

// mergeCursor is one source's dictionary cursor plus its id maps.
type mergeCursor struct {
	enum      *segmentTermEnum
	readerIdx int
	fieldOrd  int32 // merged ordinal of the current term's field
}

// mergeQueue orders cursors by (merged field ordinal, term text).
type mergeQueue []*mergeCursor

func (q mergeQueue) Len() int { return len(q) }
func (q mergeQueue) Less(i, j int) bool {
	a, b := q[i], q[j]
	if c := compareTermEntry(a.fieldOrd, a.enum.text, b.fieldOrd, b.enum.text); c != 0 {
		return c < 0
	}
	return a.readerIdx < b.readerIdx // segment order keeps doc ids ascending
}
func (q mergeQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *mergeQueue) Push(x interface{}) {
	*q = append(*q, x.(*mergeCursor))
}
func (q *mergeQueue) Pop() interface{} {
	old := *q
	n := len(old)
	x := old[n-1]
	*q = old[:n-1]
	return x
}

func (m *segmentMerger) mergeTerms() error {
	pw, err := newPostingsWriter(m.dir, m.segment)
	if err != nil {
		return err
	}
	defer pw.Close()
	tw, err := newTermInfosWriter(m.dir, m.segment, defaultIndexInterval)
	if err != nil {
		return err
	}
	defer tw.Close()

	q := &mergeQueue{}
	heap.Init(q)
	for i, r := range m.readers {
		e, err := r.Terms()
		if err != nil {
			return err
		}
		ok, err := e.Next()
		if err != nil {
			e.Close()
			return err
		}
		if !ok {
			e.Close()
			continue
		}
		heap.Push(q, &mergeCursor{enum: e, readerIdx: i, fieldOrd: m.fieldMaps[i][e.fieldNum]})
	}
	defer func() {
		for _, c := range *q {
			c.enum.Close()
		}
	}()

	group := make([]*mergeCursor, 0, len(m.readers))
	for q.Len() > 0 {
		// Drain every cursor positioned on the smallest (field, term).
		group = group[:0]
		top := heap.Pop(q).(*mergeCursor)
		group = append(group, top)
		for q.Len() > 0 {
			next := (*q)[0]
			if compareTermEntry(next.fieldOrd, next.enum.text, top.fieldOrd, top.enum.text) != 0 {
				break
			}
			group = append(group, heap.Pop(q).(*mergeCursor))
		}
		sort.Slice(group, func(i, j int) bool { return group[i].readerIdx < group[j].readerIdx })

		if err := m.appendPostings(pw, tw, top.fieldOrd, string(utf16.Decode(top.enum.text)), group); err != nil {
			return err
		}

		for _, c := range group {
			ok, err := c.enum.Next()
			if err != nil {
				c.enum.Close()
				return err
			}
			if !ok {
				c.enum.Close()
				continue
			}
			c.fieldOrd = m.fieldMaps[c.readerIdx][c.enum.fieldNum]
			heap.Push(q, c)
		}
	}
	if err := pw.Close(); err != nil {
		return err
	}
	return tw.Close()
}

// appendPostings concatenates one term's postings across the group, doc ids
// rewritten through the maps, deletions dropped. A term can end up with no
// live postings; it is then left out of the merged dictionary.
func (m *segmentMerger) appendPostings(pw *postingsWriter, tw *termInfosWriter, fieldOrd int32, text string, group []*mergeCursor) error {
	pw.startTerm()
	var df int32
	for _, c := range group {
		tp, err := m.readers[c.readerIdx].rawTermPositions(c.enum.ti)
		if err != nil {
			return err
		}
		docMap := m.docMaps[c.readerIdx]
		base := m.bases[c.readerIdx]
		for {
			ok, err := tp.Next()
			if err != nil {
				tp.Close()
				return err
			}
			if !ok {
				break
			}
			newLocal := docMap[tp.Doc()]
			if newLocal < 0 {
				continue
			}
			positions, err := tp.Positions()
			if err != nil {
				tp.Close()
				return err
			}
			p32 := make([]int32, len(positions))
			for i, p := range positions {
				p32[i] = int32(p)
			}
			if err := pw.addPosting(base+newLocal, p32); err != nil {
				tp.Close()
				return err
			}
			df++
		}
		tp.Close()
	}
	if df == 0 {
		return nil
	}
	ti, err := pw.finishTerm()
	if err != nil {
		return err
	}
	if ti.DocFreq != df {
		return fmt.Errorf("%w: merged docFreq %d, wrote %d postings", ErrCorruptIndex, ti.DocFreq, df)
	}
	return tw.Add(fieldOrd, text, &ti)
}

func (m *segmentMerger) mergeNorms() error {
	for i := 0; i < m.fieldInfos.Len(); i++ {
		fi := m.fieldInfos.ByNumber(int32(i))
		if !fi.Indexed || fi.OmitNorms {
			continue
		}
		merged := make([]byte, m.docCount)
		for ri, r := range m.readers {
			norms := r.Norms(fi.Name)
			for d := int32(0); d < int32(r.MaxDoc()); d++ {
				newLocal := m.docMaps[ri][d]
				if newLocal < 0 {
					continue
				}
				if norms != nil {
					merged[m.bases[ri]+newLocal] = norms[d]
				}
			}
		}
		if err := writeNorms(m.dir, m.segment, fi.Number, merged); err != nil {
			return err
		}
	}
	return nil
}

package lantern

import (
	"container/heap"
	"fmt"
	"sort"
)

// TermEnum is the public terms stream: a finite cursor over the dictionary
// in (field, text) order.
type TermEnum interface {
	// Next advances to the next term. Returns false at the end.
	Next() (bool, error)

	// Term returns the current term.
	Term() Term

	// DocFreq returns the current term's document frequency.
	DocFreq() int

	// Close releases the cursor.
	Close() error
}

// multiReader concatenates segment readers into one doc-id space: segment i
// owns global ids [base(i), base(i)+maxDoc(i)). It is the view queries and
// cursors run against.
type multiReader struct {
	readers []*SegmentReader
	bases   []int32
	maxDoc  int32

	normsCache map[string][]byte
}

func newMultiReader(readers []*SegmentReader) *multiReader {
	r := &multiReader{readers: readers, normsCache: make(map[string][]byte)}
	r.bases = make([]int32, len(readers))
	for i, sr := range readers {
		r.bases[i] = r.maxDoc
		r.maxDoc += int32(sr.MaxDoc())
	}
	return r
}

func (r *multiReader) MaxDoc() int { return int(r.maxDoc) }

func (r *multiReader) NumDocs() int {
	n := 0
	for _, sr := range r.readers {
		n += sr.NumDocs()
	}
	return n
}

func (r *multiReader) HasDeletions() bool {
	for _, sr := range r.readers {
		if sr.HasDeletions() {
			return true
		}
	}
	return false
}

// locate maps a global doc id to its segment and local id.
func (r *multiReader) locate(doc int32) (int, int32, error) {
	if doc < 0 || doc >= r.maxDoc {
		return 0, 0, fmt.Errorf("%w: doc %d out of range [0, %d)", ErrInvalidArgument, doc, r.maxDoc)
	}
	i := sort.Search(len(r.bases), func(i int) bool { return r.bases[i] > doc }) - 1
	return i, doc - r.bases[i], nil
}

func (r *multiReader) IsDeleted(doc int32) bool {
	i, local, err := r.locate(doc)
	if err != nil {
		return false
	}
	return r.readers[i].IsDeleted(local)
}

func (r *multiReader) Document(doc int32) (*Document, error) {
	i, local, err := r.locate(doc)
	if err != nil {
		return nil, err
	}
	return r.readers[i].Document(local)
}

// DocFreq sums the term's document frequency over the segments.
func (r *multiReader) DocFreq(t Term) (int, error) {
	n := 0
	for _, sr := range r.readers {
		df, err := sr.DocFreq(t)
		if err != nil {
			return 0, err
		}
		n += df
	}
	return n, nil
}

// Norms returns the field's norm bytes over the whole id space, assembled
// from the segments and cached; missing segments contribute zero bytes.
func (r *multiReader) Norms(field string) []byte {
	if cached, ok := r.normsCache[field]; ok {
		return cached
	}
	norms := make([]byte, r.maxDoc)
	for i, sr := range r.readers {
		if segNorms := sr.Norms(field); segNorms != nil {
			copy(norms[r.bases[i]:], segNorms)
		}
	}
	r.normsCache[field] = norms
	return norms
}

// FieldNames returns the union of field names, sorted.
func (r *multiReader) FieldNames(indexedOnly bool) []string {
	set := make(map[string]bool)
	for _, sr := range r.readers {
		fis := sr.FieldInfos()
		for i := 0; i < fis.Len(); i++ {
			fi := fis.ByNumber(int32(i))
			if indexedOnly && !fi.Indexed {
				continue
			}
			set[fi.Name] = true
		}
	}
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *multiReader) TermDocs(t Term) (TermDocs, error) {
	cursors := make([]TermDocs, len(r.readers))
	for i, sr := range r.readers {
		c, err := sr.TermDocs(t)
		if err != nil {
			for _, open := range cursors[:i] {
				open.Close()
			}
			return nil, err
		}
		cursors[i] = c
	}
	return &multiTermDocs{cursors: cursors, bases: r.bases, current: -1}, nil
}

func (r *multiReader) TermPositions(t Term) (TermPositions, error) {
	cursors := make([]TermDocs, len(r.readers))
	for i, sr := range r.readers {
		c, err := sr.TermPositions(t)
		if err != nil {
			for _, open := range cursors[:i] {
				open.Close()
			}
			return nil, err
		}
		cursors[i] = c
	}
	return &multiTermDocs{cursors: cursors, bases: r.bases, current: -1}, nil
}

// multiTermDocs concatenates per-segment cursors; doc ids are offset by the
// segment bases. It serves both the docs and positions shapes.
type multiTermDocs struct {
	cursors []TermDocs
	bases   []int32
	current int // index of the active cursor, -1 before the first
}

// Compile-time check to ensure multiTermDocs implements TermPositions
var _ TermPositions = (*multiTermDocs)(nil)

func (m *multiTermDocs) Next() (bool, error) {
	if m.current < 0 {
		m.current = 0
	}
	for m.current < len(m.cursors) {
		ok, err := m.cursors[m.current].Next()
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		m.current++
	}
	return false, nil
}

func (m *multiTermDocs) Doc() int {
	if m.current < 0 || m.current >= len(m.cursors) {
		return -1
	}
	return int(m.bases[m.current]) + m.cursors[m.current].Doc()
}

func (m *multiTermDocs) Freq() int {
	if m.current < 0 || m.current >= len(m.cursors) {
		return 0
	}
	return m.cursors[m.current].Freq()
}

func (m *multiTermDocs) SkipTo(target int) (bool, error) {
	if m.current < 0 {
		m.current = 0
	}
	for m.current < len(m.cursors) {
		// Skip whole segments that end before the target.
		if m.current+1 < len(m.cursors) && int(m.bases[m.current+1]) <= target {
			m.current++
			continue
		}
		local := target - int(m.bases[m.current])
		if local < 0 {
			local = 0
		}
		ok, err := m.cursors[m.current].SkipTo(local)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		m.current++
	}
	return false, nil
}

func (m *multiTermDocs) Positions() ([]int, error) {
	if m.current < 0 || m.current >= len(m.cursors) {
		return nil, fmt.Errorf("%w: cursor not positioned on a document", ErrInvalidArgument)
	}
	tp, ok := m.cursors[m.current].(TermPositions)
	if !ok {
		return nil, fmt.Errorf("%w: cursor carries no positions", ErrInvalidArgument)
	}
	return tp.Positions()
}

func (m *multiTermDocs) Close() error {
	var firstErr error
	for _, c := range m.cursors {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Terms returns a cursor over the union of the segments' dictionaries.
// Terms present in several segments appear once, docFreq summed.
func (r *multiReader) Terms() (TermEnum, error) {
	return r.terms(func(sr *SegmentReader) (*segmentTermEnum, error) { return sr.Terms() }, Term{})
}

// TermsFrom returns the union cursor positioned before the first term >= t:
// the first Next yields it.
func (r *multiReader) TermsFrom(t Term) (TermEnum, error) {
	return r.terms(func(sr *SegmentReader) (*segmentTermEnum, error) { return sr.TermsFrom(t) }, t)
}

func (r *multiReader) terms(open func(*SegmentReader) (*segmentTermEnum, error), from Term) (TermEnum, error) {
	q := &termEnumQueue{}
	heap.Init(q)
	for _, sr := range r.readers {
		e, err := open(sr)
		if err != nil {
			for _, c := range *q {
				c.enum.Close()
			}
			return nil, err
		}
		// A cursor from TermsFrom is already positioned; one from Terms
		// needs its first advance.
		if !e.Valid() {
			ok, nerr := e.Next()
			if nerr != nil {
				e.Close()
				for _, c := range *q {
					c.enum.Close()
				}
				return nil, nerr
			}
			if !ok {
				e.Close()
				continue
			}
		}
		heap.Push(q, &termEnumCursor{enum: e, term: e.Term()})
	}
	return &multiTermEnum{queue: q}, nil
}

type termEnumCursor struct {
	enum *segmentTermEnum
	term Term
}

type termEnumQueue []*termEnumCursor

func (q termEnumQueue) Len() int            { return len(q) }
func (q termEnumQueue) Less(i, j int) bool  { return q[i].term.Compare(q[j].term) < 0 }
func (q termEnumQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *termEnumQueue) Push(x interface{}) { *q = append(*q, x.(*termEnumCursor)) }
func (q *termEnumQueue) Pop() interface{} {
	old := *q
	n := len(old)
	x := old[n-1]
	*q = old[:n-1]
	return x
}

// multiTermEnum merges segment dictionary cursors through a min-heap,
// draining equal terms together and summing their docFreq.
type multiTermEnum struct {
	queue   *termEnumQueue
	term    Term
	docFreq int
	started bool
}

// Compile-time check to ensure multiTermEnum implements TermEnum
var _ TermEnum = (*multiTermEnum)(nil)

func (m *multiTermEnum) Next() (bool, error) {
	if m.queue.Len() == 0 {
		return false, nil
	}
	m.started = true
	top := (*m.queue)[0]
	m.term = top.term
	m.docFreq = 0
	for m.queue.Len() > 0 && (*m.queue)[0].term.Compare(m.term) == 0 {
		c := heap.Pop(m.queue).(*termEnumCursor)
		m.docFreq += c.enum.DocFreq()
		ok, err := c.enum.Next()
		if err != nil {
			c.enum.Close()
			return false, err
		}
		if !ok {
			c.enum.Close()
			continue
		}
		c.term = c.enum.Term()
		heap.Push(m.queue, c)
	}
	return true, nil
}

func (m *multiTermEnum) Term() Term {
	return m.term
}

func (m *multiTermEnum) DocFreq() int { return m.docFreq }

func (m *multiTermEnum) Close() error {
	var firstErr error
	for _, c := range *m.queue {
		if err := c.enum.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	*m.queue = (*m.queue)[:0]
	return firstErr
}

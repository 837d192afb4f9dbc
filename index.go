package lantern

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Default configuration constants
const (
	// DefaultMergeFactor is how many same-level segments trigger a merge.
	DefaultMergeFactor = 10

	// DefaultMaxBufferedDocs is how many documents buffer in memory
	// before they are flushed into an on-disk segment.
	DefaultMaxBufferedDocs = 10

	// DefaultLockTimeout bounds write.lock acquisition.
	DefaultLockTimeout = 1 * time.Second
)

// Config carries the tunables of an Index.
type Config struct {
	// Analyzer turns field text into tokens. Defaults to SimpleAnalyzer.
	Analyzer Analyzer

	// Similarity supplies the scoring primitives. Defaults to the tf·idf
	// DefaultSimilarity.
	Similarity Similarity

	// MergeFactor is the per-level segment fan-in of the merge policy.
	MergeFactor int

	// MaxBufferedDocs is the in-memory document buffer size.
	MaxBufferedDocs int

	// MaxMergeDocs caps the document count a merge may produce; larger
	// merges are skipped. Defaults to unbounded.
	MaxMergeDocs int

	// LockTimeout bounds write.lock acquisition.
	LockTimeout time.Duration

	// ReadOnly opens a snapshot view: no lock is taken and every mutating
	// operation fails. The view never observes later commits.
	ReadOnly bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Analyzer:        NewSimpleAnalyzer(),
		Similarity:      NewDefaultSimilarity(),
		MergeFactor:     DefaultMergeFactor,
		MaxBufferedDocs: DefaultMaxBufferedDocs,
		MaxMergeDocs:    math.MaxInt32,
		LockTimeout:     DefaultLockTimeout,
	}
}

func (c *Config) withDefaults() *Config {
	out := *c
	if out.Analyzer == nil {
		out.Analyzer = NewSimpleAnalyzer()
	}
	if out.Similarity == nil {
		out.Similarity = NewDefaultSimilarity()
	}
	if out.MergeFactor <= 1 {
		out.MergeFactor = DefaultMergeFactor
	}
	if out.MaxBufferedDocs <= 0 {
		out.MaxBufferedDocs = DefaultMaxBufferedDocs
	}
	if out.MaxMergeDocs <= 0 {
		out.MaxMergeDocs = math.MaxInt32
	}
	if out.LockTimeout <= 0 {
		out.LockTimeout = DefaultLockTimeout
	}
	return &out
}

// Index is the embedded search index: writer and reader over one
// Directory. A writable Index holds write.lock for its whole lifetime, so
// at most one exists per directory across processes; any number of
// read-only views may coexist, each snapshot-isolated at the generation it
// opened.
//
// Thread-safety: all methods are safe for concurrent use. Mutations
// serialize on an internal lock; reads share it.
type Index struct {
	mu     sync.RWMutex
	dir    Directory
	config *Config
	lock   Lock

	infos   *SegmentInfos
	readers []*SegmentReader
	reader  *multiReader

	ramDir    *RAMDirectory
	ramSegs   []*SegmentInfo
	docWriter *documentWriter

	deleter *fileDeleter
	pinned  []string

	pendingFormat int32
	dirty         bool
	closed        bool
}

// Open opens the index in dir, creating an empty one when no committed
// generation exists. A writable open acquires write.lock and fails with
// ErrLockObtainFailed when another writer holds it.
//
// Parameters:
//   - dir: Storage directory
//   - config: Tunables; nil means DefaultConfig()
//
// Returns:
//   - *Index: The opened index
//   - error: Error if the lock, manifest, or a segment cannot be opened
//
// Example:
//
//	dir, _ := OpenFSDirectory("./data")
//	idx, err := Open(dir, nil)
//	defer idx.Close()
func Open(dir Directory, config *Config) (*Index, error) {
	if config == nil {
		config = DefaultConfig()
	}
	config = config.withDefaults()

	idx := &Index{
		dir:           dir,
		config:        config,
		deleter:       deleterFor(dir),
		pendingFormat: segmentsFormat,
	}
	if !config.ReadOnly {
		idx.lock = dir.MakeLock(WriteLockName)
		if err := idx.lock.Obtain(config.LockTimeout); err != nil {
			return nil, err
		}
	}

	infos, err := ReadCurrentSegmentInfos(dir)
	if err != nil {
		idx.releaseLock()
		return nil, fmt.Errorf("failed to read segments file: %w", err)
	}
	idx.infos = infos

	for _, si := range infos.Segments {
		sr, err := openSegmentReader(si)
		if err != nil {
			idx.closeReaders()
			idx.releaseLock()
			return nil, err
		}
		idx.readers = append(idx.readers, sr)
	}
	idx.reader = newMultiReader(idx.readers)

	if pinned, err := referencedFiles(dir, infos); err == nil {
		idx.pinned = pinned
		idx.deleter.pin(pinned)
	}

	idx.resetBuffer()
	return idx, nil
}

func (idx *Index) releaseLock() {
	if idx.lock != nil {
		idx.lock.Release()
		idx.lock = nil
	}
}

func (idx *Index) closeReaders() {
	for _, r := range idx.readers {
		r.Close()
	}
	idx.readers = nil
}

func (idx *Index) resetBuffer() {
	idx.ramDir = NewRAMDirectory()
	idx.ramSegs = nil
	idx.docWriter = newDocumentWriter(idx.ramDir, idx.config.Analyzer, idx.config.Similarity)
}

func (idx *Index) checkWritable() error {
	if idx.closed {
		return fmt.Errorf("index is closed")
	}
	if idx.config.ReadOnly {
		return fmt.Errorf("index opened read-only")
	}
	return nil
}

// AddDocument buffers a document for indexing. It becomes durable and
// visible to other readers at the next Commit; this Index's own queries
// see it once the buffer flushes.
func (idx *Index) AddDocument(doc *Document) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := idx.checkWritable(); err != nil {
		return err
	}

	name := idx.infos.NextSegmentName()
	if err := idx.docWriter.AddDocument(name, doc); err != nil {
		return err
	}
	idx.ramSegs = append(idx.ramSegs, &SegmentInfo{Name: name, DocCount: 1, DelGen: -1, Dir: idx.ramDir})
	idx.dirty = true

	if len(idx.ramSegs) >= idx.config.MaxBufferedDocs {
		return idx.flushBuffered()
	}
	return nil
}

// flushBuffered merges the buffered one-document segments into a new
// on-disk segment. Must be called with mu held.
func (idx *Index) flushBuffered() error {
	if len(idx.ramSegs) == 0 {
		return nil
	}
	ramReaders := make([]*SegmentReader, 0, len(idx.ramSegs))
	closeRAM := func() {
		for _, r := range ramReaders {
			r.Close()
		}
	}
	for _, si := range idx.ramSegs {
		r, err := openSegmentReader(si)
		if err != nil {
			closeRAM()
			return err
		}
		ramReaders = append(ramReaders, r)
	}

	name := idx.infos.NextSegmentName()
	merger := newSegmentMerger(idx.dir, name, ramReaders)
	count, err := merger.merge()
	closeRAM()
	if err != nil {
		deleteFilesWithPrefix(idx.dir, name)
		return fmt.Errorf("failed to flush buffered documents: %w", err)
	}

	si := &SegmentInfo{Name: name, DocCount: count, DelGen: -1, Dir: idx.dir}
	sr, err := openSegmentReader(si)
	if err != nil {
		deleteFilesWithPrefix(idx.dir, name)
		return err
	}
	idx.infos.Segments = append(idx.infos.Segments, si)
	idx.readers = append(idx.readers, sr)
	idx.reader = newMultiReader(idx.readers)
	idx.resetBuffer()
	return nil
}

// Delete tombstones a document by global id or prior QueryHit. The
// tombstone applies to this Index's own queries immediately and becomes
// durable at the next Commit.
func (idx *Index) Delete(ref DocRef) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := idx.checkWritable(); err != nil {
		return err
	}
	i, local, err := idx.reader.locate(int32(ref.docID()))
	if err != nil {
		return err
	}
	if err := idx.readers[i].deleteLocal(local); err != nil {
		return err
	}
	idx.dirty = true
	return nil
}

// UndeleteAll clears the tombstones added since the last Commit. Documents
// deleted in a previously committed generation stay deleted.
func (idx *Index) UndeleteAll() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := idx.checkWritable(); err != nil {
		return err
	}
	for _, r := range idx.readers {
		r.undeleteAll()
	}
	return nil
}

// Commit makes all buffered additions and tombstones durable:
//
//  1. flush buffered documents as a new segment
//  2. rewrite the deletion bitmap of each affected segment under its next
//     deletion generation
//  3. run the merge policy
//  4. write segments_<gen+1> and rename it into place (the commit point)
//  5. update segments.gen and sweep unreferenced files
//
// A crash at any step leaves the previous generation intact. Committing
// with nothing to commit is a no-op.
func (idx *Index) Commit() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.commitLocked()
}

func (idx *Index) commitLocked() error {
	if err := idx.checkWritable(); err != nil {
		return err
	}
	if idx.pendingFormat != segmentsFormat {
		return fmt.Errorf("%w: unsupported on-disk format version %d", ErrInvalidArgument, idx.pendingFormat)
	}
	if !idx.dirty {
		return nil
	}
	if err := idx.flushBuffered(); err != nil {
		return err
	}
	for _, r := range idx.readers {
		if r.hasPendingDeletions() {
			if err := r.commitDeletions(); err != nil {
				return err
			}
		}
	}
	if err := idx.maybeMerge(); err != nil {
		return err
	}
	return idx.writeGeneration()
}

// writeGeneration writes the manifest and retires files of the previous
// generation. Must be called with mu held.
func (idx *Index) writeGeneration() error {
	if err := idx.infos.Write(idx.dir); err != nil {
		return err
	}
	newPinned, err := referencedFiles(idx.dir, idx.infos)
	if err == nil {
		idx.deleter.pin(newPinned)
		idx.deleter.unpin(idx.pinned)
		idx.pinned = newPinned
	}
	idx.deleter.sweep(idx.infos)
	idx.dirty = false
	return nil
}

// levelOf buckets a segment by size: level L holds segments with
// mergeFactor^L <= docCount < mergeFactor^(L+1).
func levelOf(docCount, mergeFactor int) int {
	level := 0
	for docCount >= mergeFactor {
		docCount /= mergeFactor
		level++
	}
	return level
}

// maybeMerge applies the merge policy: whenever a level accumulates
// mergeFactor segments, they merge into one at the next level, repeating
// until no level overflows. Merges that would exceed MaxMergeDocs are
// skipped. Must be called with mu held.
func (idx *Index) maybeMerge() error {
	for {
		levels := make(map[int][]int)
		maxLevel := 0
		for i, si := range idx.infos.Segments {
			l := levelOf(int(si.DocCount), idx.config.MergeFactor)
			levels[l] = append(levels[l], i)
			if l > maxLevel {
				maxLevel = l
			}
		}
		merged := false
		for l := 0; l <= maxLevel; l++ {
			group := levels[l]
			if len(group) < idx.config.MergeFactor {
				continue
			}
			sum := 0
			for _, i := range group {
				sum += int(idx.infos.Segments[i].DocCount)
			}
			if sum > idx.config.MaxMergeDocs {
				continue
			}
			if err := idx.mergeSegments(group); err != nil {
				return err
			}
			merged = true
			break
		}
		if !merged {
			return nil
		}
	}
}

// mergeSegments replaces the segments at the given indices (ascending) by
// their merge, placed where the first of them was. Must be called with mu
// held.
func (idx *Index) mergeSegments(indices []int) error {
	picked := make([]*SegmentReader, len(indices))
	for i, j := range indices {
		picked[i] = idx.readers[j]
	}

	name := idx.infos.NextSegmentName()
	merger := newSegmentMerger(idx.dir, name, picked)
	count, err := merger.merge()
	if err != nil {
		deleteFilesWithPrefix(idx.dir, name)
		return fmt.Errorf("failed to merge segments: %w", err)
	}

	si := &SegmentInfo{Name: name, DocCount: count, DelGen: -1, Dir: idx.dir}
	sr, err := openSegmentReader(si)
	if err != nil {
		deleteFilesWithPrefix(idx.dir, name)
		return err
	}

	inMerge := make(map[int]bool, len(indices))
	for _, j := range indices {
		inMerge[j] = true
	}
	var newSegs []*SegmentInfo
	var newReaders []*SegmentReader
	for i := range idx.infos.Segments {
		if i == indices[0] {
			newSegs = append(newSegs, si)
			newReaders = append(newReaders, sr)
		}
		if inMerge[i] {
			idx.readers[i].Close()
			continue
		}
		newSegs = append(newSegs, idx.infos.Segments[i])
		newReaders = append(newReaders, idx.readers[i])
	}
	idx.infos.Segments = newSegs
	idx.readers = newReaders
	idx.reader = newMultiReader(idx.readers)
	idx.dirty = true
	return nil
}

// Optimize merges everything down to a single segment (bounded by
// MaxMergeDocs) and commits. Tombstoned documents are dropped for good.
// Optimizing an already-optimal index is a no-op.
func (idx *Index) Optimize() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := idx.checkWritable(); err != nil {
		return err
	}
	if err := idx.flushBuffered(); err != nil {
		return err
	}
	for {
		indices, ok := idx.nextOptimizeRun()
		if !ok {
			break
		}
		if err := idx.mergeSegments(indices); err != nil {
			return err
		}
	}
	return idx.commitLocked()
}

// nextOptimizeRun picks the next contiguous run of segments to collapse:
// at least two whose combined size fits MaxMergeDocs, or a lone segment
// carrying deletions.
func (idx *Index) nextOptimizeRun() ([]int, bool) {
	n := len(idx.infos.Segments)
	for i := 0; i < n; i++ {
		size := int(idx.infos.Segments[i].DocCount)
		if size > idx.config.MaxMergeDocs {
			continue
		}
		sum := size
		j := i + 1
		for j < n && sum+int(idx.infos.Segments[j].DocCount) <= idx.config.MaxMergeDocs {
			sum += int(idx.infos.Segments[j].DocCount)
			j++
		}
		if j-i >= 2 || (j-i == 1 && idx.readers[i].HasDeletions()) {
			indices := make([]int, 0, j-i)
			for k := i; k < j; k++ {
				indices = append(indices, k)
			}
			return indices, true
		}
	}
	return nil, false
}

// Find runs a query and returns every hit with a positive score, ranked by
// descending score, ties broken by ascending doc id.
func (idx *Index) Find(q Query) ([]QueryHit, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.closed {
		return nil, fmt.Errorf("index is closed")
	}
	s := &searcher{reader: idx.reader, similarity: idx.config.Similarity}
	return s.search(q)
}

// Document returns the stored view of a live document.
func (idx *Index) Document(ref DocRef) (*Document, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.reader.Document(int32(ref.docID()))
}

// MaxDoc returns the document capacity, tombstones included.
func (idx *Index) MaxDoc() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.reader.MaxDoc()
}

// NumDocs returns the live document count.
func (idx *Index) NumDocs() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.reader.NumDocs()
}

// HasDeletions reports whether any document is tombstoned.
func (idx *Index) HasDeletions() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.reader.HasDeletions()
}

// Terms returns a cursor over the whole term dictionary in sort order.
func (idx *Index) Terms() (TermEnum, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.reader.Terms()
}

// TermDocs returns a cursor over the documents containing t.
func (idx *Index) TermDocs(t Term) (TermDocs, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.reader.TermDocs(t)
}

// TermFreq is one (document, frequency) pair of a posting list.
type TermFreq struct {
	Doc  int
	Freq int
}

// TermFreqs returns the (doc, freq) pairs of a term's posting list.
func (idx *Index) TermFreqs(t Term) ([]TermFreq, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	td, err := idx.reader.TermDocs(t)
	if err != nil {
		return nil, err
	}
	defer td.Close()
	var out []TermFreq
	for {
		ok, err := td.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, TermFreq{Doc: td.Doc(), Freq: td.Freq()})
	}
}

// TermPositions returns a positions cursor over the documents containing t.
func (idx *Index) TermPositions(t Term) (TermPositions, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.reader.TermPositions(t)
}

// DocFreq returns the number of documents containing t.
func (idx *Index) DocFreq(t Term) (int, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.reader.DocFreq(t)
}

// FieldNames returns the field names of the index, sorted; with
// indexedOnly set, only searchable fields.
func (idx *Index) FieldNames(indexedOnly bool) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.reader.FieldNames(indexedOnly)
}

// Norm returns the stored norm byte for a document and field.
func (idx *Index) Norm(ref DocRef, field string) (byte, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	doc := int32(ref.docID())
	if _, _, err := idx.reader.locate(doc); err != nil {
		return 0, err
	}
	norms := idx.reader.Norms(field)
	return norms[doc], nil
}

// FormatVersion returns the on-disk format of the current generation.
func (idx *Index) FormatVersion() int32 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.infos.FormatVersion
}

// SetFormatVersion requests an on-disk format for the next Commit. Only
// the current format is supported; a commit with any other value fails
// with ErrInvalidArgument rather than converting.
func (idx *Index) SetFormatVersion(v int32) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.pendingFormat = v
}

// MergeFactor returns the merge policy fan-in.
func (idx *Index) MergeFactor() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.config.MergeFactor
}

// SetMergeFactor adjusts the merge policy fan-in.
func (idx *Index) SetMergeFactor(n int) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if n > 1 {
		idx.config.MergeFactor = n
	}
}

// MaxBufferedDocs returns the in-memory buffer size.
func (idx *Index) MaxBufferedDocs() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.config.MaxBufferedDocs
}

// SetMaxBufferedDocs adjusts the in-memory buffer size.
func (idx *Index) SetMaxBufferedDocs(n int) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if n > 0 {
		idx.config.MaxBufferedDocs = n
	}
}

// MaxMergeDocs returns the merged-segment size cap.
func (idx *Index) MaxMergeDocs() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.config.MaxMergeDocs
}

// SetMaxMergeDocs adjusts the merged-segment size cap.
func (idx *Index) SetMaxMergeDocs(n int) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if n > 0 {
		idx.config.MaxMergeDocs = n
	}
}

// Similarity returns the scoring similarity.
func (idx *Index) Similarity() Similarity {
	return idx.config.Similarity
}

// Close commits outstanding changes, releases write.lock, and closes every
// segment file.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		return fmt.Errorf("index already closed")
	}
	var commitErr error
	if !idx.config.ReadOnly && idx.dirty {
		commitErr = idx.commitLocked()
	}
	idx.closed = true
	idx.closeReaders()
	idx.deleter.unpin(idx.pinned)
	idx.pinned = nil
	idx.releaseLock()
	return commitErr
}

// NewSearch creates a search builder over this index.
//
// Example:
//
//	hits, err := idx.NewSearch().
//		WithQuery(NewTermQuery(NewTerm("title", "fox"))).
//		WithK(10).
//		Execute()
func (idx *Index) NewSearch() *Search {
	return &Search{idx: idx, k: 10}
}

// Search is a builder for running a query with result shaping.
type Search struct {
	idx   *Index
	query Query
	k     int
}

// WithQuery sets the query to run.
func (s *Search) WithQuery(q Query) *Search {
	s.query = q
	return s
}

// WithK limits the number of hits returned. Defaults to 10; zero or
// negative returns all hits.
func (s *Search) WithK(k int) *Search {
	s.k = k
	return s
}

// Execute runs the search.
func (s *Search) Execute() ([]QueryHit, error) {
	if s.query == nil {
		return nil, fmt.Errorf("%w: search has no query", ErrInvalidArgument)
	}
	hits, err := s.idx.Find(s.query)
	if err != nil {
		return nil, err
	}
	if s.k > 0 && len(hits) > s.k {
		hits = hits[:s.k]
	}
	return hits, nil
}

// deleteFilesWithPrefix removes the files of a partially written segment.
func deleteFilesWithPrefix(dir Directory, segment string) {
	files, err := dir.ListAll()
	if err != nil {
		return
	}
	for _, f := range files {
		if hasSegmentPrefix(f, segment) {
			dir.DeleteFile(f)
		}
	}
}

package lantern

import (
	"errors"
	"testing"
	"time"
)

func newTestIndex(t *testing.T, config *Config) (*Index, Directory) {
	t.Helper()
	dir := NewRAMDirectory()
	idx, err := Open(dir, config)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx, dir
}

func addText(t *testing.T, idx *Index, field, text string) {
	t.Helper()
	if err := idx.AddDocument(NewDocument().Add(NewTextField(field, text))); err != nil {
		t.Fatalf("AddDocument(%q) error = %v", text, err)
	}
}

// TestAddSearchDelete tests the basic lifecycle: add, commit, search,
// tombstone, search again
func TestAddSearchDelete(t *testing.T) {
	idx, _ := newTestIndex(t, nil)

	addText(t, idx, "title", "the quick brown fox")
	addText(t, idx, "title", "the lazy dog")
	if err := idx.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	hits, err := idx.Find(NewTermQuery(NewTerm("title", "quick")))
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if len(hits) != 1 || hits[0].Doc != 0 {
		t.Fatalf("Find(quick) = %v, want one hit on doc 0", hits)
	}
	if hits[0].Score <= 0 {
		t.Errorf("score = %v, want > 0", hits[0].Score)
	}

	// Delete through the hit (DocRef sum type).
	if err := idx.Delete(hits[0]); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	hits, err = idx.Find(NewTermQuery(NewTerm("title", "quick")))
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("Find(quick) after delete = %v, want none", hits)
	}
	if idx.NumDocs() != 1 || idx.MaxDoc() != 2 {
		t.Errorf("NumDocs/MaxDoc = %d/%d, want 1/2", idx.NumDocs(), idx.MaxDoc())
	}
	if !idx.HasDeletions() {
		t.Error("HasDeletions() = false")
	}
}

// TestPhraseSlop tests exact and sloppy phrase matching
func TestPhraseSlop(t *testing.T) {
	idx, _ := newTestIndex(t, nil)
	addText(t, idx, "body", "a b c d")
	if err := idx.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	exact := NewPhraseQuery().Add(NewTerm("body", "a")).Add(NewTerm("body", "c"))
	hits, err := idx.Find(exact)
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("exact phrase hits = %v, want none", hits)
	}

	sloppy := NewPhraseQuery().Add(NewTerm("body", "a")).Add(NewTerm("body", "c"))
	sloppy.Slop = 1
	hits, err = idx.Find(sloppy)
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if len(hits) != 1 || hits[0].Doc != 0 {
		t.Errorf("sloppy phrase hits = %v, want doc 0", hits)
	}
}

// TestBooleanRequiredProhibited tests +alpha -beta semantics
func TestBooleanRequiredProhibited(t *testing.T) {
	idx, _ := newTestIndex(t, nil)
	addText(t, idx, "t", "alpha beta")
	addText(t, idx, "t", "alpha gamma")
	if err := idx.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	q := NewBooleanQuery().
		Add(NewTermQuery(NewTerm("t", "alpha")), OccurRequired).
		Add(NewTermQuery(NewTerm("t", "beta")), OccurProhibited)
	hits, err := idx.Find(q)
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if len(hits) != 1 || hits[0].Doc != 1 {
		t.Errorf("Find(+alpha -beta) = %v, want only doc 1", hits)
	}
}

// TestBooleanCoord tests that matching more optional clauses ranks higher
func TestBooleanCoord(t *testing.T) {
	idx, _ := newTestIndex(t, nil)
	addText(t, idx, "t", "alpha beta")
	addText(t, idx, "t", "alpha delta")
	if err := idx.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	q := NewBooleanQuery().
		Add(NewTermQuery(NewTerm("t", "alpha")), OccurOptional).
		Add(NewTermQuery(NewTerm("t", "beta")), OccurOptional)
	hits, err := idx.Find(q)
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("Find() hits = %d, want 2", len(hits))
	}
	if hits[0].Doc != 0 || hits[0].Score <= hits[1].Score {
		t.Errorf("hits = %v, want doc 0 ranked strictly higher", hits)
	}
}

// TestMergeCascade tests the level-bucketed merge policy: mergeFactor 2,
// one doc per commit, four commits collapse into one segment
func TestMergeCascade(t *testing.T) {
	config := DefaultConfig()
	config.MergeFactor = 2
	config.MaxBufferedDocs = 1
	idx, _ := newTestIndex(t, config)

	for _, text := range []string{"one", "two", "three", "four"} {
		addText(t, idx, "t", text)
		if err := idx.Commit(); err != nil {
			t.Fatalf("Commit() error = %v", err)
		}
	}

	if got := len(idx.infos.Segments); got != 1 {
		t.Errorf("segment count = %d, want 1 after cascade", got)
	}
	if idx.NumDocs() != 4 {
		t.Errorf("NumDocs() = %d, want 4", idx.NumDocs())
	}
	for _, text := range []string{"one", "two", "three", "four"} {
		hits, err := idx.Find(NewTermQuery(NewTerm("t", text)))
		if err != nil || len(hits) != 1 {
			t.Errorf("Find(%s) = %v, %v, want one hit", text, hits, err)
		}
	}
}

// TestGenerationRecovery tests opening without segments.gen (directory
// listing fallback)
func TestGenerationRecovery(t *testing.T) {
	dir := NewRAMDirectory()
	idx, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := idx.AddDocument(NewDocument().Add(NewTextField("t", "recoverable"))); err != nil {
		t.Fatalf("AddDocument() error = %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if err := dir.DeleteFile(segmentsGenFile); err != nil {
		t.Fatalf("DeleteFile() error = %v", err)
	}

	config := DefaultConfig()
	config.ReadOnly = true
	reader, err := Open(dir, config)
	if err != nil {
		t.Fatalf("Open() without segments.gen error = %v", err)
	}
	defer reader.Close()
	if reader.NumDocs() != 1 {
		t.Errorf("NumDocs() = %d, want 1", reader.NumDocs())
	}
	hits, err := reader.Find(NewTermQuery(NewTerm("t", "recoverable")))
	if err != nil || len(hits) != 1 {
		t.Errorf("Find() = %v, %v, want one hit", hits, err)
	}
}

// TestFuzzyRewrite tests that a fuzzy query expands against the live
// dictionary and matches
func TestFuzzyRewrite(t *testing.T) {
	idx, _ := newTestIndex(t, nil)
	addText(t, idx, "t", "color")
	if err := idx.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	q := NewFuzzyQuery(NewTerm("t", "colour"))
	q.MinSimilarity = 0.6

	rewritten, err := q.rewrite(idx.reader)
	if err != nil {
		t.Fatalf("rewrite() error = %v", err)
	}
	mt, ok := rewritten.(*MultiTermQuery)
	if !ok {
		t.Fatalf("rewrite() = %T, want *MultiTermQuery", rewritten)
	}
	found := false
	for _, c := range mt.Clauses {
		if c.Term == NewTerm("t", "color") {
			found = true
		}
	}
	if !found {
		t.Errorf("rewrite clauses = %v, want to include t:color", mt.Clauses)
	}

	hits, err := idx.Find(q)
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if len(hits) != 1 || hits[0].Doc != 0 {
		t.Errorf("Find(colour~0.6) = %v, want doc 0", hits)
	}
}

// TestWildcardAndRange tests wildcard and range expansion end to end
func TestWildcardAndRange(t *testing.T) {
	idx, _ := newTestIndex(t, nil)
	for _, w := range []string{"apple", "apricot", "banana", "cherry"} {
		addText(t, idx, "t", w)
	}
	if err := idx.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	hits, err := idx.Find(NewWildcardQuery(NewTerm("t", "ap*")))
	if err != nil {
		t.Fatalf("Find(ap*) error = %v", err)
	}
	if len(hits) != 2 {
		t.Errorf("Find(ap*) hits = %v, want apple and apricot", hits)
	}

	hits, err = idx.Find(NewRangeQuery("t", "apple", "banana"))
	if err != nil {
		t.Fatalf("Find(range) error = %v", err)
	}
	if len(hits) != 3 {
		t.Errorf("Find([apple, banana]) hits = %v, want 3", hits)
	}

	exclusive := NewRangeQuery("t", "apple", "banana")
	exclusive.IncludeLower = false
	exclusive.IncludeUpper = false
	hits, err = idx.Find(exclusive)
	if err != nil {
		t.Fatalf("Find(range exclusive) error = %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("Find((apple, banana)) hits = %v, want apricot only", hits)
	}

	// A range matching nothing rewrites to the empty query.
	hits, err = idx.Find(NewRangeQuery("t", "zzz", "zzzz"))
	if err != nil || len(hits) != 0 {
		t.Errorf("Find(impossible range) = %v, %v, want none", hits, err)
	}
}

// TestUndeleteScope tests that UndeleteAll restores exactly the tombstones
// added since the last commit
func TestUndeleteScope(t *testing.T) {
	idx, _ := newTestIndex(t, nil)
	addText(t, idx, "t", "first")
	addText(t, idx, "t", "second")
	if err := idx.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	if err := idx.Delete(DocID(0)); err != nil {
		t.Fatalf("Delete(0) error = %v", err)
	}
	if err := idx.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	if err := idx.Delete(DocID(1)); err != nil {
		t.Fatalf("Delete(1) error = %v", err)
	}
	if idx.NumDocs() != 0 {
		t.Fatalf("NumDocs() = %d, want 0", idx.NumDocs())
	}
	if err := idx.UndeleteAll(); err != nil {
		t.Fatalf("UndeleteAll() error = %v", err)
	}
	if idx.NumDocs() != 1 {
		t.Errorf("NumDocs() = %d, want 1: committed tombstone stays", idx.NumDocs())
	}
	hits, _ := idx.Find(NewTermQuery(NewTerm("t", "first")))
	if len(hits) != 0 {
		t.Errorf("doc 0 resurrected by UndeleteAll")
	}
	hits, _ = idx.Find(NewTermQuery(NewTerm("t", "second")))
	if len(hits) != 1 {
		t.Errorf("doc 1 not restored by UndeleteAll")
	}
}

// TestCommitIdempotence tests that committing with nothing new is a no-op
func TestCommitIdempotence(t *testing.T) {
	idx, _ := newTestIndex(t, nil)
	addText(t, idx, "t", "once")
	if err := idx.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	gen := idx.infos.Generation
	if err := idx.Commit(); err != nil {
		t.Fatalf("second Commit() error = %v", err)
	}
	if idx.infos.Generation != gen {
		t.Errorf("generation moved %d -> %d on empty commit", gen, idx.infos.Generation)
	}
}

// TestOptimize tests single-segment collapse, tombstone reclamation, and
// idempotence
func TestOptimize(t *testing.T) {
	config := DefaultConfig()
	config.MaxBufferedDocs = 2
	idx, _ := newTestIndex(t, config)

	for _, text := range []string{"one", "two", "three", "four", "five"} {
		addText(t, idx, "t", text)
	}
	if err := idx.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if err := idx.Delete(DocID(1)); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if err := idx.Optimize(); err != nil {
		t.Fatalf("Optimize() error = %v", err)
	}
	if got := len(idx.infos.Segments); got != 1 {
		t.Fatalf("segment count = %d, want 1", got)
	}
	if idx.MaxDoc() != 4 || idx.NumDocs() != 4 {
		t.Errorf("MaxDoc/NumDocs = %d/%d, want 4/4 after reclaim", idx.MaxDoc(), idx.NumDocs())
	}
	if idx.HasDeletions() {
		t.Error("HasDeletions() = true after optimize")
	}

	gen := idx.infos.Generation
	if err := idx.Optimize(); err != nil {
		t.Fatalf("second Optimize() error = %v", err)
	}
	if idx.infos.Generation != gen || len(idx.infos.Segments) != 1 {
		t.Errorf("second optimize changed state: gen %d -> %d", gen, idx.infos.Generation)
	}
}

// TestSnapshotIsolation tests that a reader never observes commits after
// its open generation
func TestSnapshotIsolation(t *testing.T) {
	dir := NewRAMDirectory()
	writer, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer writer.Close()

	if err := writer.AddDocument(NewDocument().Add(NewTextField("t", "first"))); err != nil {
		t.Fatalf("AddDocument() error = %v", err)
	}
	if err := writer.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	roConfig := DefaultConfig()
	roConfig.ReadOnly = true
	snapshot, err := Open(dir, roConfig)
	if err != nil {
		t.Fatalf("Open(read-only) error = %v", err)
	}
	defer snapshot.Close()

	if err := writer.AddDocument(NewDocument().Add(NewTextField("t", "second"))); err != nil {
		t.Fatalf("AddDocument() error = %v", err)
	}
	if err := writer.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	if snapshot.NumDocs() != 1 {
		t.Errorf("snapshot NumDocs() = %d, want 1", snapshot.NumDocs())
	}
	if writer.NumDocs() != 2 {
		t.Errorf("writer NumDocs() = %d, want 2", writer.NumDocs())
	}

	later, err := Open(dir, roConfig)
	if err != nil {
		t.Fatalf("Open(read-only) error = %v", err)
	}
	defer later.Close()
	if later.NumDocs() != 2 {
		t.Errorf("later snapshot NumDocs() = %d, want 2", later.NumDocs())
	}
}

// TestWriterLockExclusion tests the single-writer discipline
func TestWriterLockExclusion(t *testing.T) {
	dir := NewRAMDirectory()
	w1, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer w1.Close()

	config := DefaultConfig()
	config.LockTimeout = 10 * time.Millisecond
	_, err = Open(dir, config)
	if !errors.Is(err, ErrLockObtainFailed) {
		t.Errorf("second Open() error = %v, want ErrLockObtainFailed", err)
	}
}

// TestPostingInvariants tests docFreq/termDocs/termPositions consistency
// across a multi-segment index
func TestPostingInvariants(t *testing.T) {
	config := DefaultConfig()
	config.MaxBufferedDocs = 3
	idx, _ := newTestIndex(t, config)

	texts := []string{
		"shared alpha", "shared beta beta", "shared gamma",
		"shared delta", "other text", "shared epsilon shared",
	}
	for _, text := range texts {
		addText(t, idx, "t", text)
	}
	if err := idx.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	// docFreq == |termDocs|.
	df, err := idx.DocFreq(NewTerm("t", "shared"))
	if err != nil {
		t.Fatalf("DocFreq() error = %v", err)
	}
	freqs, err := idx.TermFreqs(NewTerm("t", "shared"))
	if err != nil {
		t.Fatalf("TermFreqs() error = %v", err)
	}
	if df != 5 || len(freqs) != df {
		t.Errorf("docFreq = %d, |termDocs| = %d, want both 5", df, len(freqs))
	}

	// |termPositions[d]| == termFreqs[d] for every doc.
	tp, err := idx.TermPositions(NewTerm("t", "shared"))
	if err != nil {
		t.Fatalf("TermPositions() error = %v", err)
	}
	defer tp.Close()
	i := 0
	for {
		ok, err := tp.Next()
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if !ok {
			break
		}
		positions, err := tp.Positions()
		if err != nil {
			t.Fatalf("Positions() error = %v", err)
		}
		if tp.Doc() != freqs[i].Doc || tp.Freq() != freqs[i].Freq {
			t.Errorf("cursor %d = (%d, %d), want (%d, %d)", i, tp.Doc(), tp.Freq(), freqs[i].Doc, freqs[i].Freq)
		}
		if len(positions) != tp.Freq() {
			t.Errorf("doc %d: %d positions for freq %d", tp.Doc(), len(positions), tp.Freq())
		}
		i++
	}
	if i != df {
		t.Errorf("positions cursor yielded %d docs, want %d", i, df)
	}

	// numDocs + deleted == maxDoc.
	if idx.NumDocs() != idx.MaxDoc() {
		t.Errorf("NumDocs/MaxDoc = %d/%d with no deletions", idx.NumDocs(), idx.MaxDoc())
	}
}

// TestSkipToAcrossBlocks tests posting skip lists on a term with many
// postings (past the skip interval)
func TestSkipToAcrossBlocks(t *testing.T) {
	idx, _ := newTestIndex(t, nil)
	for i := 0; i < 50; i++ {
		addText(t, idx, "t", "common filler")
	}
	if err := idx.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if err := idx.Optimize(); err != nil {
		t.Fatalf("Optimize() error = %v", err)
	}

	td, err := idx.TermDocs(NewTerm("t", "common"))
	if err != nil {
		t.Fatalf("TermDocs() error = %v", err)
	}
	defer td.Close()

	ok, err := td.SkipTo(33)
	if err != nil || !ok {
		t.Fatalf("SkipTo(33) = %v, %v, want match", ok, err)
	}
	if td.Doc() != 33 {
		t.Errorf("Doc() = %d, want 33", td.Doc())
	}
	ok, err = td.SkipTo(49)
	if err != nil || !ok || td.Doc() != 49 {
		t.Errorf("SkipTo(49) = doc %d (ok=%v, err=%v), want 49", td.Doc(), ok, err)
	}
	ok, err = td.SkipTo(50)
	if err != nil || ok {
		t.Errorf("SkipTo(50) = %v, %v, want exhausted", ok, err)
	}
}

// TestFormatVersionGate tests that only the supported on-disk format
// commits
func TestFormatVersionGate(t *testing.T) {
	idx, _ := newTestIndex(t, nil)
	addText(t, idx, "t", "doc")

	idx.SetFormatVersion(-5)
	if err := idx.Commit(); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Commit() error = %v, want ErrInvalidArgument", err)
	}

	idx.SetFormatVersion(idx.FormatVersion())
	if err := idx.Commit(); err != nil {
		t.Fatalf("Commit() after reset error = %v", err)
	}
}

// TestStoredDocumentAndNorms tests getDocument, norm, and fieldNames
func TestStoredDocumentAndNorms(t *testing.T) {
	idx, _ := newTestIndex(t, nil)
	doc := NewDocument().
		Add(NewTextField("title", "four token title here")).
		Add(NewUnindexedField("url", "http://example.com")).
		Add(NewUnstoredField("hidden", "only searchable"))
	if err := idx.AddDocument(doc); err != nil {
		t.Fatalf("AddDocument() error = %v", err)
	}
	if err := idx.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	got, err := idx.Document(DocID(0))
	if err != nil {
		t.Fatalf("Document() error = %v", err)
	}
	if got.Get("title") != "four token title here" {
		t.Errorf("title = %q", got.Get("title"))
	}
	if got.Get("url") != "http://example.com" {
		t.Errorf("url = %q", got.Get("url"))
	}
	if got.Get("hidden") != "" {
		t.Errorf("hidden = %q, want unstored", got.Get("hidden"))
	}

	hits, err := idx.Find(NewTermQuery(NewTerm("hidden", "searchable")))
	if err != nil || len(hits) != 1 {
		t.Errorf("Find(hidden) = %v, %v, want one hit", hits, err)
	}

	norm, err := idx.Norm(DocID(0), "title")
	if err != nil {
		t.Fatalf("Norm() error = %v", err)
	}
	if norm != encodeNorm(0.5) { // 4 tokens
		t.Errorf("Norm(title) = %d, want %d", norm, encodeNorm(0.5))
	}

	all := idx.FieldNames(false)
	indexed := idx.FieldNames(true)
	if len(all) != 3 {
		t.Errorf("FieldNames(false) = %v, want 3 fields", all)
	}
	if len(indexed) != 2 {
		t.Errorf("FieldNames(true) = %v, want hidden and title", indexed)
	}
}

// TestSearchBuilder tests the builder API and k limiting
func TestSearchBuilder(t *testing.T) {
	idx, _ := newTestIndex(t, nil)
	for i := 0; i < 5; i++ {
		addText(t, idx, "t", "common term")
	}
	if err := idx.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	hits, err := idx.NewSearch().
		WithQuery(NewTermQuery(NewTerm("t", "common"))).
		WithK(3).
		Execute()
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(hits) != 3 {
		t.Errorf("hits = %d, want 3", len(hits))
	}

	if _, err := idx.NewSearch().Execute(); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Execute() without query error = %v, want ErrInvalidArgument", err)
	}
}

// TestTermsEnumAcrossSegments tests the merged dictionary cursor with
// summed docFreq
func TestTermsEnumAcrossSegments(t *testing.T) {
	config := DefaultConfig()
	config.MaxBufferedDocs = 1 // one segment per doc
	idx, _ := newTestIndex(t, config)
	addText(t, idx, "t", "alpha shared")
	addText(t, idx, "t", "beta shared")
	if err := idx.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	e, err := idx.Terms()
	if err != nil {
		t.Fatalf("Terms() error = %v", err)
	}
	defer e.Close()

	type entry struct {
		term Term
		df   int
	}
	var got []entry
	for {
		ok, err := e.Next()
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if !ok {
			break
		}
		got = append(got, entry{e.Term(), e.DocFreq()})
	}
	want := []entry{
		{NewTerm("t", "alpha"), 1},
		{NewTerm("t", "beta"), 1},
		{NewTerm("t", "shared"), 2},
	}
	if len(got) != len(want) {
		t.Fatalf("terms = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("term %d = %v, want %v", i, got[i], want[i])
		}
	}
}

// TestDeleteOutOfRange tests DocRef validation
func TestDeleteOutOfRange(t *testing.T) {
	idx, _ := newTestIndex(t, nil)
	addText(t, idx, "t", "only")
	if err := idx.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if err := idx.Delete(DocID(7)); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Delete(7) error = %v, want ErrInvalidArgument", err)
	}
}

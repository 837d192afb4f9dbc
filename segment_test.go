package lantern

import (
	"fmt"
	"testing"
)

// writeOneDocSegment inverts a document into a fresh segment for tests.
func writeOneDocSegment(t *testing.T, dir Directory, name string, doc *Document) *SegmentReader {
	t.Helper()
	dw := newDocumentWriter(dir, NewSimpleAnalyzer(), NewDefaultSimilarity())
	if err := dw.AddDocument(name, doc); err != nil {
		t.Fatalf("AddDocument() error = %v", err)
	}
	r, err := openSegmentReader(&SegmentInfo{Name: name, DocCount: 1, DelGen: -1, Dir: dir})
	if err != nil {
		t.Fatalf("openSegmentReader() error = %v", err)
	}
	return r
}

// TestSegmentRoundtrip tests that a written segment reads back with the
// exact term set, postings, positions, norms, and stored fields
func TestSegmentRoundtrip(t *testing.T) {
	dir := NewRAMDirectory()
	doc := NewDocument().
		Add(NewTextField("title", "the quick brown fox")).
		Add(NewTextField("body", "jumps over the lazy dog the end"))

	r := writeOneDocSegment(t, dir, "_0", doc)
	defer r.Close()

	if r.MaxDoc() != 1 || r.NumDocs() != 1 {
		t.Fatalf("MaxDoc/NumDocs = %d/%d, want 1/1", r.MaxDoc(), r.NumDocs())
	}

	// Terms come back in (field, text) order.
	e, err := r.Terms()
	if err != nil {
		t.Fatalf("Terms() error = %v", err)
	}
	defer e.Close()
	var terms []string
	for {
		ok, err := e.Next()
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if !ok {
			break
		}
		terms = append(terms, e.Term().String())
	}
	want := []string{
		"body:dog", "body:end", "body:jumps", "body:lazy", "body:over", "body:the",
		"title:brown", "title:fox", "title:quick", "title:the",
	}
	if fmt.Sprint(terms) != fmt.Sprint(want) {
		t.Errorf("terms = %v, want %v", terms, want)
	}

	// Postings carry frequencies and positions.
	tp, err := r.TermPositions(NewTerm("body", "the"))
	if err != nil {
		t.Fatalf("TermPositions() error = %v", err)
	}
	defer tp.Close()
	ok, err := tp.Next()
	if err != nil || !ok {
		t.Fatalf("Next() = %v, %v, want match", ok, err)
	}
	if tp.Doc() != 0 || tp.Freq() != 2 {
		t.Errorf("doc/freq = %d/%d, want 0/2", tp.Doc(), tp.Freq())
	}
	positions, err := tp.Positions()
	if err != nil {
		t.Fatalf("Positions() error = %v", err)
	}
	if fmt.Sprint(positions) != fmt.Sprint([]int{2, 5}) {
		t.Errorf("positions = %v, want [2 5]", positions)
	}

	// docFreq matches the posting list length.
	df, err := r.DocFreq(NewTerm("title", "fox"))
	if err != nil || df != 1 {
		t.Errorf("DocFreq(title:fox) = %d, %v, want 1", df, err)
	}

	// Norms encode 1/sqrt(numTokens).
	norms := r.Norms("title")
	if len(norms) != 1 {
		t.Fatalf("Norms(title) length = %d, want 1", len(norms))
	}
	if norms[0] != encodeNorm(0.5) { // 4 tokens
		t.Errorf("title norm = %d, want %d", norms[0], encodeNorm(0.5))
	}

	// Stored fields reconstruct.
	stored, err := r.Document(0)
	if err != nil {
		t.Fatalf("Document() error = %v", err)
	}
	if stored.Get("title") != "the quick brown fox" {
		t.Errorf("stored title = %q", stored.Get("title"))
	}
	if stored.Get("body") != "jumps over the lazy dog the end" {
		t.Errorf("stored body = %q", stored.Get("body"))
	}
}

// TestSegmentMissingTerm tests cursors over absent terms
func TestSegmentMissingTerm(t *testing.T) {
	dir := NewRAMDirectory()
	r := writeOneDocSegment(t, dir, "_0", NewDocument().Add(NewTextField("f", "alpha")))
	defer r.Close()

	td, err := r.TermDocs(NewTerm("f", "beta"))
	if err != nil {
		t.Fatalf("TermDocs() error = %v", err)
	}
	defer td.Close()
	ok, err := td.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if ok {
		t.Error("Next() = true for absent term")
	}

	df, err := r.DocFreq(NewTerm("nosuchfield", "x"))
	if err != nil || df != 0 {
		t.Errorf("DocFreq(unknown field) = %d, %v, want 0, nil", df, err)
	}
}

// TestSegmentDeletionBitmapRoundtrip tests tombstone write/read and the
// delGen file naming
func TestSegmentDeletionBitmapRoundtrip(t *testing.T) {
	dir := NewRAMDirectory()
	r := writeOneDocSegment(t, dir, "_0", NewDocument().Add(NewTextField("f", "alpha beta")))
	defer r.Close()

	if err := r.deleteLocal(0); err != nil {
		t.Fatalf("deleteLocal() error = %v", err)
	}
	if !r.HasDeletions() || r.NumDocs() != 0 {
		t.Fatalf("HasDeletions/NumDocs = %v/%d, want true/0", r.HasDeletions(), r.NumDocs())
	}
	if err := r.commitDeletions(); err != nil {
		t.Fatalf("commitDeletions() error = %v", err)
	}
	if r.info.DelGen != 1 {
		t.Errorf("DelGen = %d, want 1", r.info.DelGen)
	}
	exists, _ := dir.FileExists("_0_1.del")
	if !exists {
		t.Error("_0_1.del not written")
	}

	// A fresh reader sees the committed tombstone.
	r2, err := openSegmentReader(&SegmentInfo{Name: "_0", DocCount: 1, DelGen: 1, Dir: dir})
	if err != nil {
		t.Fatalf("openSegmentReader() error = %v", err)
	}
	defer r2.Close()
	if !r2.IsDeleted(0) {
		t.Error("IsDeleted(0) = false after reopen")
	}

	// The postings cursor silently drops the deleted doc.
	td, err := r2.TermDocs(NewTerm("f", "alpha"))
	if err != nil {
		t.Fatalf("TermDocs() error = %v", err)
	}
	defer td.Close()
	if ok, _ := td.Next(); ok {
		t.Error("Next() = true over fully deleted postings")
	}

	// deleteLocal range checking.
	if err := r2.deleteLocal(5); err == nil {
		t.Error("deleteLocal(5) succeeded for 1-doc segment")
	}
}

// TestTermDictionaryLargeSeek tests .tii-assisted lookups past the first
// index interval
func TestTermDictionaryLargeSeek(t *testing.T) {
	dir := NewRAMDirectory()

	// 300 distinct terms span three index intervals (interval 128).
	var text string
	for i := 0; i < 300; i++ {
		text += fmt.Sprintf("term%04d ", i)
	}
	r := writeOneDocSegment(t, dir, "_0", NewDocument().Add(NewTextField("f", text)))
	defer r.Close()

	for _, probe := range []string{"term0000", "term0127", "term0128", "term0200", "term0299"} {
		df, err := r.DocFreq(NewTerm("f", probe))
		if err != nil {
			t.Fatalf("DocFreq(%s) error = %v", probe, err)
		}
		if df != 1 {
			t.Errorf("DocFreq(%s) = %d, want 1", probe, df)
		}
	}
	if df, _ := r.DocFreq(NewTerm("f", "term0300")); df != 0 {
		t.Errorf("DocFreq(term0300) = %d, want 0", df)
	}

	// TermsFrom lands on the first term >= target.
	e, err := r.TermsFrom(NewTerm("f", "term0150"))
	if err != nil {
		t.Fatalf("TermsFrom() error = %v", err)
	}
	defer e.Close()
	if !e.Valid() || e.Term().Text != "term0150" {
		t.Errorf("TermsFrom() positioned at %v", e.Term())
	}
}

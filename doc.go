// Package lantern implements an embedded full-text search engine whose
// on-disk layout is compatible with the classical Lucene segment format.
//
// WHAT IS A SEGMENTED INVERTED INDEX?
// Documents are analyzed into (field, token, position) triples and inverted
// into posting lists: for every term, the ordered set of documents that
// contain it, together with per-document frequencies and positions. The
// index is split into immutable segments; writes accumulate in memory and
// become a new segment at flush time, and a merge policy keeps the number
// of segments bounded.
//
// ARCHITECTURE:
//
//	┌─────────────────────────────────────────────────────────────┐
//	│                        AddDocument                           │
//	└──────────────────┬──────────────────────────────────────────┘
//	                   │
//	                   ▼
//	         ┌─────────────────┐
//	         │  Buffered docs  │  ← one-doc segments in a RAMDirectory
//	         └────────┬────────┘
//	                  │ (maxBufferedDocs reached, or Commit)
//	                  ▼
//	         ┌─────────────────┐
//	         │ On-disk segment │  ← .fnm .fdx .fdt .tis .tii .frq .prx .f<n>
//	         │   (immutable)   │
//	         └────────┬────────┘
//	                  │ (merge policy: mergeFactor segments per level)
//	                  ▼
//	         ┌─────────────────┐
//	         │ Merged segments │  ← larger, deletions dropped
//	         └─────────────────┘
//
// Commits are generation based: the set of live segments is recorded in a
// manifest file segments_<gen> (base-36 generation), renamed into place
// atomically so a crash at any point leaves the previous generation intact.
// Deletions are tombstones: a per-segment bitmap written beside the segment
// as <name>_<delGen>.del, consulted by every posting cursor and dropped for
// good when the segment is merged.
//
// READ PATH:
// A reader opens the current generation and is snapshot-isolated there: it
// never observes later commits. Queries are rewritten against the term
// dictionary (fuzzy/wildcard/range expansion), weighted, scored with the
// tf·idf similarity, and collected into ranked hits.
//
// GUARANTEES & TRADE-OFFS:
// ✓ Pros:
//   - Durable, crash-safe commits (atomic manifest rename)
//   - Ranked Boolean / phrase / fuzzy / wildcard / range search
//   - Bounded segment count via level-bucketed merging
//   - Readers never block writers; snapshot isolation per reader
//
// ✗ Cons:
//   - Single writer per directory (advisory write.lock)
//   - No near-real-time search: changes are invisible until Commit
//   - Deletions reclaim space only at the next merge
//
// WHEN TO USE:
// Use lantern when you need an embedded, durable full-text index with
// Lucene-format files and relevance-ranked queries, and your write path
// tolerates explicit commits.
package lantern

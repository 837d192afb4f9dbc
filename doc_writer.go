package lantern

import (
	"sort"
	"unicode/utf16"
)

// documentWriter inverts a single document into a complete one-document
// segment. The writer buffers these in a RAMDirectory; flushing is a merge
// of the buffered segments into one on-disk segment, so the in-memory and
// on-disk representations are the same data model byte for byte.
type documentWriter struct {
	dir        Directory
	analyzer   Analyzer
	similarity Similarity
}

// invertedTerm accumulates one term's occurrences within the document.
type invertedTerm struct {
	fieldNum  int32
	text      string
	positions []int32
}

func newDocumentWriter(dir Directory, analyzer Analyzer, similarity Similarity) *documentWriter {
	return &documentWriter{dir: dir, analyzer: analyzer, similarity: similarity}
}

// AddDocument writes all files of a one-document segment named segment.
func (w *documentWriter) AddDocument(segment string, doc *Document) error {
	// Field ordinals are assigned in sorted name order so that every
	// segment orders the same fields the same way; the merge heap and the
	// dictionary invariant both rely on it.
	fieldInfos := NewFieldInfos()
	names := make([]string, 0, len(doc.Fields()))
	seen := make(map[string]bool)
	for _, f := range doc.Fields() {
		if !seen[f.Name] {
			seen[f.Name] = true
			names = append(names, f.Name)
		}
	}
	sort.Slice(names, func(i, j int) bool { return compareUTF16(names[i], names[j]) < 0 })
	for _, name := range names {
		fieldInfos.Add(name, false, false, true)
	}
	fieldInfos.AddDocumentFields(doc)
	if err := fieldInfos.Write(w.dir, segment+".fnm"); err != nil {
		return err
	}

	fw, err := newFieldsWriter(w.dir, segment, fieldInfos)
	if err != nil {
		return err
	}
	if err := fw.AddDocument(doc); err != nil {
		fw.Close()
		return err
	}
	if err := fw.Close(); err != nil {
		return err
	}

	terms, fieldLengths, fieldBoosts := w.invert(doc, fieldInfos)
	if err := w.writePostings(segment, terms); err != nil {
		return err
	}
	return w.writeFieldNorms(segment, fieldInfos, fieldLengths, fieldBoosts)
}

// invert runs the analyzer over the indexed fields and accumulates the
// posting table. Repeated fields with the same name continue the position
// sequence, so phrases never span field instances accidentally closer than
// they appeared.
func (w *documentWriter) invert(doc *Document, fieldInfos *FieldInfos) ([]*invertedTerm, map[int32]int32, map[int32]float32) {
	table := make(map[int32]map[string]*invertedTerm)
	fieldLengths := make(map[int32]int32)
	fieldBoosts := make(map[int32]float32)

	for _, f := range doc.Fields() {
		if !f.Indexed || f.IsBinary {
			continue
		}
		fieldNum := fieldInfos.FieldNumber(f.Name)
		offset := fieldLengths[fieldNum]
		if _, ok := fieldBoosts[fieldNum]; !ok {
			fieldBoosts[fieldNum] = 1.0
		}
		fieldBoosts[fieldNum] *= f.Boost

		var tokens []Token
		if f.Tokenized {
			tokens = w.analyzer.Tokens(f.Name, f.Value)
		} else {
			tokens = []Token{{Text: f.Value, Position: 0}}
		}
		perField := table[fieldNum]
		if perField == nil {
			perField = make(map[string]*invertedTerm)
			table[fieldNum] = perField
		}
		maxPos := int32(-1)
		for _, t := range tokens {
			pos := offset + int32(t.Position)
			it := perField[t.Text]
			if it == nil {
				it = &invertedTerm{fieldNum: fieldNum, text: t.Text}
				perField[t.Text] = it
			}
			it.positions = append(it.positions, pos)
			if pos-offset > maxPos {
				maxPos = pos - offset
			}
		}
		fieldLengths[fieldNum] = offset + maxPos + 1
	}

	var terms []*invertedTerm
	for _, perField := range table {
		for _, it := range perField {
			terms = append(terms, it)
		}
	}
	sort.Slice(terms, func(i, j int) bool {
		a, b := terms[i], terms[j]
		return compareTermEntry(a.fieldNum, utf16.Encode([]rune(a.text)), b.fieldNum, utf16.Encode([]rune(b.text))) < 0
	})
	return terms, fieldLengths, fieldBoosts
}

// writePostings writes the dictionary and posting streams; every posting
// has local doc id 0.
func (w *documentWriter) writePostings(segment string, terms []*invertedTerm) error {
	pw, err := newPostingsWriter(w.dir, segment)
	if err != nil {
		return err
	}
	tw, err := newTermInfosWriter(w.dir, segment, defaultIndexInterval)
	if err != nil {
		pw.Close()
		return err
	}
	for _, t := range terms {
		pw.startTerm()
		if err := pw.addPosting(0, t.positions); err != nil {
			pw.Close()
			tw.Close()
			return err
		}
		ti, err := pw.finishTerm()
		if err != nil {
			pw.Close()
			tw.Close()
			return err
		}
		if err := tw.Add(t.fieldNum, t.text, &ti); err != nil {
			pw.Close()
			tw.Close()
			return err
		}
	}
	if err := pw.Close(); err != nil {
		tw.Close()
		return err
	}
	return tw.Close()
}

// writeFieldNorms writes the single norm byte of each indexed field.
func (w *documentWriter) writeFieldNorms(segment string, fieldInfos *FieldInfos, fieldLengths map[int32]int32, fieldBoosts map[int32]float32) error {
	for i := 0; i < fieldInfos.Len(); i++ {
		fi := fieldInfos.ByNumber(int32(i))
		if !fi.Indexed || fi.OmitNorms {
			continue
		}
		boost := fieldBoosts[fi.Number]
		if boost == 0 {
			boost = 1.0
		}
		norm := encodeNorm(boost * float32(w.similarity.LengthNorm(fi.Name, int(fieldLengths[fi.Number]))))
		if err := writeNorms(w.dir, segment, fi.Number, []byte{norm}); err != nil {
			return err
		}
	}
	return nil
}

package lantern

import (
	"container/heap"
	"fmt"
	"sort"
)

// QueryHit is one ranked search result.
type QueryHit struct {
	// Doc is the global document id.
	Doc int

	// Score is the query's relevance score, always > 0 in returned hits.
	Score float64
}

// DocRef selects a document at the API boundary: either a bare DocID or a
// QueryHit carried over from a search.
type DocRef interface {
	docID() int
}

// DocID is a global document id usable wherever a DocRef is expected.
type DocID int

func (d DocID) docID() int     { return int(d) }
func (h QueryHit) docID() int  { return h.Doc }

// searcher snapshots what weighting needs: the reader view and the
// similarity. Weights copy docFreq and norm data out of it when built, and
// keep the searcher, and with it the reader view, to open postings cursors
// when their scorers are created.
type searcher struct {
	reader     *multiReader
	similarity Similarity
}

// weight is a query's owned scoring state. The top-level protocol: build,
// sum the squared sub-weights, normalize everything by queryNorm, then ask
// for scorers.
type weight interface {
	sumOfSquaredWeights() float64
	normalize(norm float64)
	scorer() (scorer, error)
}

// scorer iterates matching documents in ascending id order and scores the
// current one.
type scorer interface {
	next() (bool, error)
	doc() int
	score() (float64, error)
	skipTo(target int) (bool, error)
	close() error
}

// search runs the full pipeline: rewrite, weight, normalize, score,
// collect. Hits are sorted by descending score, ties by ascending doc id;
// zero and negative scores are dropped.
func (s *searcher) search(q Query) ([]QueryHit, error) {
	rewritten, err := rewriteAll(s.reader, q)
	if err != nil {
		return nil, err
	}
	w, err := rewritten.createWeight(s)
	if err != nil {
		return nil, err
	}
	w.normalize(s.similarity.QueryNorm(w.sumOfSquaredWeights()))

	sc, err := w.scorer()
	if err != nil {
		return nil, err
	}
	defer sc.close()

	var hits []QueryHit
	for {
		ok, err := sc.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		score, err := sc.score()
		if err != nil {
			return nil, err
		}
		if score > 0 {
			hits = append(hits, QueryHit{Doc: sc.doc(), Score: score})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Doc < hits[j].Doc
	})
	return hits, nil
}

// ---- term ----

type termWeight struct {
	s     *searcher
	term  Term
	qb    float64
	norms []byte

	idf         float64
	queryWeight float64
	value       float64
}

func (q *TermQuery) createWeight(s *searcher) (weight, error) {
	df, err := s.reader.DocFreq(q.Term)
	if err != nil {
		return nil, err
	}
	return &termWeight{
		s:     s,
		term:  q.Term,
		qb:    q.Boost,
		norms: s.reader.Norms(q.Term.Field),
		idf:   s.similarity.Idf(df, s.reader.NumDocs()),
	}, nil
}

func (w *termWeight) sumOfSquaredWeights() float64 {
	w.queryWeight = w.idf * w.qb
	return w.queryWeight * w.queryWeight
}

func (w *termWeight) normalize(norm float64) {
	w.queryWeight *= norm
	w.value = w.queryWeight * w.idf // idf applied twice: weight and scorer
}

func (w *termWeight) scorer() (scorer, error) {
	td, err := w.s.reader.TermDocs(w.term)
	if err != nil {
		return nil, err
	}
	return &termScorer{td: td, norms: w.norms, value: w.value, sim: w.s.similarity}, nil
}

type termScorer struct {
	td    TermDocs
	norms []byte
	value float64
	sim   Similarity
}

func (s *termScorer) next() (bool, error)              { return s.td.Next() }
func (s *termScorer) doc() int                         { return s.td.Doc() }
func (s *termScorer) skipTo(target int) (bool, error)  { return s.td.SkipTo(target) }
func (s *termScorer) close() error                     { return s.td.Close() }

func (s *termScorer) score() (float64, error) {
	norm := float64(0)
	if d := s.td.Doc(); d >= 0 && d < len(s.norms) {
		norm = float64(decodeNorm(s.norms[d]))
	}
	return s.sim.Tf(float64(s.td.Freq())) * s.value * norm, nil
}

// ---- phrase ----

type phraseWeight struct {
	s     *searcher
	q     *PhraseQuery
	norms []byte

	idf         float64
	queryWeight float64
	value       float64
	matchless   bool // a phrase term is absent, so nothing can match
}

func (q *PhraseQuery) createWeight(s *searcher) (weight, error) {
	if len(q.terms) == 0 {
		return &emptyWeight{}, nil
	}
	field := q.terms[0].Field
	w := &phraseWeight{s: s, q: q, norms: s.reader.Norms(field)}
	for _, t := range q.terms {
		if t.Field != field {
			return nil, fmt.Errorf("%w: phrase spans fields %s and %s", ErrInvalidArgument, field, t.Field)
		}
		df, err := s.reader.DocFreq(t)
		if err != nil {
			return nil, err
		}
		if df == 0 {
			w.matchless = true
		}
		w.idf += s.similarity.Idf(df, s.reader.NumDocs())
	}
	return w, nil
}

func (w *phraseWeight) sumOfSquaredWeights() float64 {
	w.queryWeight = w.idf * w.q.Boost
	return w.queryWeight * w.queryWeight
}

func (w *phraseWeight) normalize(norm float64) {
	w.queryWeight *= norm
	w.value = w.queryWeight * w.idf
}

func (w *phraseWeight) scorer() (scorer, error) {
	if w.matchless {
		return emptyScorer{}, nil
	}
	cursors := make([]TermPositions, len(w.q.terms))
	for i, t := range w.q.terms {
		tp, err := w.s.reader.TermPositions(t)
		if err != nil {
			for _, open := range cursors[:i] {
				open.Close()
			}
			return nil, err
		}
		cursors[i] = tp
	}
	return &phraseScorer{
		cursors: cursors,
		offsets: w.q.positions,
		slop:    w.q.Slop,
		norms:   w.norms,
		value:   w.value,
		sim:     w.s.similarity,
	}, nil
}

// phraseScorer aligns the term cursors on common documents and counts
// phrase occurrences there. With slop 0 an occurrence is an exact
// alignment of all offset-adjusted positions; with slop the occurrence
// weight decays with the edit distance.
type phraseScorer struct {
	cursors []TermPositions
	offsets []int
	slop    int
	norms   []byte
	value   float64
	sim     Similarity

	started bool
	curDoc  int
	curFreq float64
}

func (s *phraseScorer) doc() int { return s.curDoc }

func (s *phraseScorer) close() error {
	var firstErr error
	for _, c := range s.cursors {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *phraseScorer) score() (float64, error) {
	norm := float64(0)
	if s.curDoc >= 0 && s.curDoc < len(s.norms) {
		norm = float64(decodeNorm(s.norms[s.curDoc]))
	}
	return s.sim.Tf(s.curFreq) * s.value * norm, nil
}

func (s *phraseScorer) next() (bool, error) {
	target := 0
	if s.started {
		target = s.curDoc + 1
	}
	return s.skipTo(target)
}

func (s *phraseScorer) skipTo(target int) (bool, error) {
	if s.started && s.curDoc >= target {
		return true, nil
	}
	s.started = true
	for {
		doc, ok, err := s.align(target)
		if err != nil || !ok {
			return false, err
		}
		freq, err := s.phraseFreq()
		if err != nil {
			return false, err
		}
		if freq > 0 {
			s.curDoc = doc
			s.curFreq = freq
			return true, nil
		}
		target = doc + 1
	}
}

// align advances all cursors to the smallest common document >= target.
func (s *phraseScorer) align(target int) (int, bool, error) {
	for {
		max := target
		for _, c := range s.cursors {
			ok, err := c.SkipTo(max)
			if err != nil || !ok {
				return 0, false, err
			}
			if c.Doc() > max {
				max = c.Doc()
			}
		}
		aligned := true
		for _, c := range s.cursors {
			if c.Doc() != max {
				aligned = false
				break
			}
		}
		if aligned {
			return max, true, nil
		}
		target = max
	}
}

// phrasePos walks one term's offset-adjusted positions in the current doc.
type phrasePos struct {
	positions []int
	i         int
	cur       int
}

type phrasePosQueue []*phrasePos

func (q phrasePosQueue) Len() int            { return len(q) }
func (q phrasePosQueue) Less(i, j int) bool  { return q[i].cur < q[j].cur }
func (q phrasePosQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *phrasePosQueue) Push(x interface{}) { *q = append(*q, x.(*phrasePos)) }
func (q *phrasePosQueue) Pop() interface{} {
	old := *q
	n := len(old)
	x := old[n-1]
	*q = old[:n-1]
	return x
}

// phraseFreq computes the phrase frequency in the aligned document.
func (s *phraseScorer) phraseFreq() (float64, error) {
	adjusted := make([][]int, len(s.cursors))
	for i, c := range s.cursors {
		positions, err := c.Positions()
		if err != nil {
			return 0, err
		}
		adj := make([]int, len(positions))
		for j, p := range positions {
			adj[j] = p - s.offsets[i]
		}
		adjusted[i] = adj
	}

	if s.slop == 0 {
		return exactPhraseFreq(adjusted), nil
	}
	return s.sloppyPhraseFreq(adjusted), nil
}

// exactPhraseFreq counts positions present in every adjusted list.
func exactPhraseFreq(adjusted [][]int) float64 {
	first := adjusted[0]
	freq := 0.0
	for _, p := range first {
		inAll := true
		for _, other := range adjusted[1:] {
			found := false
			for _, q := range other {
				if q == p {
					found = true
					break
				}
				if q > p {
					break
				}
			}
			if !found {
				inAll = false
				break
			}
		}
		if inAll {
			freq++
		}
	}
	return freq
}

// sloppyPhraseFreq slides a window over the adjusted position streams,
// scoring each match window whose length fits within the slop.
func (s *phraseScorer) sloppyPhraseFreq(adjusted [][]int) float64 {
	q := &phrasePosQueue{}
	end := adjusted[0][0]
	for _, adj := range adjusted {
		pp := &phrasePos{positions: adj, cur: adj[0]}
		if pp.cur > end {
			end = pp.cur
		}
		*q = append(*q, pp)
	}
	heap.Init(q)

	freq := 0.0
	done := false
	for !done {
		pp := heap.Pop(q).(*phrasePos)
		start := pp.cur
		next := start
		if q.Len() > 0 {
			next = (*q)[0].cur
		}
		for pos := pp.cur; pos <= next; pos = pp.cur {
			start = pos
			pp.i++
			if pp.i >= len(pp.positions) {
				done = true
				break
			}
			pp.cur = pp.positions[pp.i]
		}
		if matchLength := end - start; matchLength <= s.slop {
			freq += s.sim.SloppyFreq(matchLength)
		}
		if pp.cur > end {
			end = pp.cur
		}
		heap.Push(q, pp)
	}
	return freq
}

// ---- boolean ----

type booleanWeight struct {
	s       *searcher
	qb      float64
	weights []weight
	occurs  []Occur
}

func (q *BooleanQuery) createWeight(s *searcher) (weight, error) {
	w := &booleanWeight{s: s, qb: q.Boost}
	for _, c := range q.Clauses {
		sub, err := c.Query.createWeight(s)
		if err != nil {
			return nil, err
		}
		w.weights = append(w.weights, sub)
		w.occurs = append(w.occurs, c.Occur)
	}
	return w, nil
}

func (w *booleanWeight) sumOfSquaredWeights() float64 {
	sum := 0.0
	counted := false
	for i, sub := range w.weights {
		if w.occurs[i] == OccurProhibited {
			continue
		}
		sum += sub.sumOfSquaredWeights()
		counted = true
	}
	if !counted {
		sum = 1.0 // avoid a zero queryNorm divisor on empty sums
	}
	return sum * w.qb * w.qb
}

func (w *booleanWeight) normalize(norm float64) {
	norm *= w.qb
	for _, sub := range w.weights {
		sub.normalize(norm)
	}
}

func (w *booleanWeight) scorer() (scorer, error) {
	b := &booleanScorer{sim: w.s.similarity}
	for i, sub := range w.weights {
		sc, err := sub.scorer()
		if err != nil {
			b.close()
			return nil, err
		}
		entry := &subScorer{sc: sc, doc: -1}
		switch w.occurs[i] {
		case OccurRequired:
			b.required = append(b.required, entry)
		case OccurProhibited:
			b.prohibited = append(b.prohibited, entry)
		default:
			b.optional = append(b.optional, entry)
		}
	}
	return b, nil
}

type subScorer struct {
	sc   scorer
	doc  int
	done bool
}

// advanceTo moves the sub-scorer to the first doc >= target.
func (s *subScorer) advanceTo(target int) (bool, error) {
	if s.done {
		return false, nil
	}
	if s.doc >= target {
		return true, nil
	}
	ok, err := s.sc.skipTo(target)
	if err != nil {
		return false, err
	}
	if !ok {
		s.done = true
		return false, nil
	}
	s.doc = s.sc.doc()
	return true, nil
}

// booleanScorer iterates documents satisfying the clause signs: all
// REQUIRED clauses match, no PROHIBITED clause matches, and the score sums
// the matching non-prohibited clauses times coord.
type booleanScorer struct {
	sim        Similarity
	required   []*subScorer
	optional   []*subScorer
	prohibited []*subScorer

	started  bool
	curDoc   int
	curScore float64
}

func (b *booleanScorer) doc() int { return b.curDoc }

func (b *booleanScorer) score() (float64, error) { return b.curScore, nil }

func (b *booleanScorer) close() error {
	var firstErr error
	for _, group := range [][]*subScorer{b.required, b.optional, b.prohibited} {
		for _, s := range group {
			if err := s.sc.close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (b *booleanScorer) next() (bool, error) {
	target := 0
	if b.started {
		target = b.curDoc + 1
	}
	return b.skipTo(target)
}

func (b *booleanScorer) skipTo(target int) (bool, error) {
	if b.started && b.curDoc >= target {
		return true, nil
	}
	b.started = true
	for {
		candidate, ok, err := b.nextCandidate(target)
		if err != nil || !ok {
			return false, err
		}
		excluded, err := b.isProhibited(candidate)
		if err != nil {
			return false, err
		}
		if excluded {
			target = candidate + 1
			continue
		}
		score, err := b.scoreCandidate(candidate)
		if err != nil {
			return false, err
		}
		b.curDoc = candidate
		b.curScore = score
		return true, nil
	}
}

// nextCandidate finds the next doc >= target matching the required clauses,
// or any optional clause when there are none.
func (b *booleanScorer) nextCandidate(target int) (int, bool, error) {
	if len(b.required) > 0 {
		for {
			max := target
			for _, r := range b.required {
				ok, err := r.advanceTo(max)
				if err != nil || !ok {
					return 0, false, err
				}
				if r.doc > max {
					max = r.doc
				}
			}
			aligned := true
			for _, r := range b.required {
				if r.doc != max {
					aligned = false
					break
				}
			}
			if aligned {
				return max, true, nil
			}
			target = max
		}
	}

	min := -1
	for _, o := range b.optional {
		ok, err := o.advanceTo(target)
		if err != nil {
			return 0, false, err
		}
		if ok && (min < 0 || o.doc < min) {
			min = o.doc
		}
	}
	if min < 0 {
		return 0, false, nil
	}
	return min, true, nil
}

func (b *booleanScorer) isProhibited(candidate int) (bool, error) {
	for _, p := range b.prohibited {
		ok, err := p.advanceTo(candidate)
		if err != nil {
			return false, err
		}
		if ok && p.doc == candidate {
			return true, nil
		}
	}
	return false, nil
}

// scoreCandidate sums matching clause scores times coord.
func (b *booleanScorer) scoreCandidate(candidate int) (float64, error) {
	sum := 0.0
	matched := 0
	for _, r := range b.required {
		score, err := r.sc.score()
		if err != nil {
			return 0, err
		}
		sum += score
		matched++
	}
	for _, o := range b.optional {
		ok, err := o.advanceTo(candidate)
		if err != nil {
			return 0, err
		}
		if ok && o.doc == candidate {
			score, err := o.sc.score()
			if err != nil {
				return 0, err
			}
			sum += score
			matched++
		}
	}
	return sum * b.sim.Coord(matched, len(b.required)+len(b.optional)), nil
}

// ---- multi-term, empty, unrewritten ----

func (q *MultiTermQuery) createWeight(s *searcher) (weight, error) {
	bq, err := q.rewrite(s.reader)
	if err != nil {
		return nil, err
	}
	return bq.createWeight(s)
}

type emptyWeight struct{}

func (emptyWeight) sumOfSquaredWeights() float64 { return 0 }
func (emptyWeight) normalize(float64)            {}
func (emptyWeight) scorer() (scorer, error)      { return emptyScorer{}, nil }

func (q *EmptyQuery) createWeight(s *searcher) (weight, error) {
	return emptyWeight{}, nil
}

type emptyScorer struct{}

func (emptyScorer) next() (bool, error)         { return false, nil }
func (emptyScorer) doc() int                    { return -1 }
func (emptyScorer) score() (float64, error)     { return 0, nil }
func (emptyScorer) skipTo(int) (bool, error)    { return false, nil }
func (emptyScorer) close() error                { return nil }

func (q *RangeQuery) createWeight(s *searcher) (weight, error) {
	return nil, fmt.Errorf("%w: range query must be rewritten before weighting", ErrInvalidArgument)
}

func (q *FuzzyQuery) createWeight(s *searcher) (weight, error) {
	return nil, fmt.Errorf("%w: fuzzy query must be rewritten before weighting", ErrInvalidArgument)
}

func (q *WildcardQuery) createWeight(s *searcher) (weight, error) {
	return nil, fmt.Errorf("%w: wildcard query must be rewritten before weighting", ErrInvalidArgument)
}

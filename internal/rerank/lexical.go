package rerank

import (
	"context"
	"math"

	"github.com/hyperjump/kotae/pkg/utils"
)

// Component weights of the lexical score.
const (
	coverageWeight  = 0.65
	proximityWeight = 0.25
	phraseWeight    = 0.10
	// Two query terms count as adjacent when at most this many tokens apart.
	proximityWindow = 3
)

// LexicalScorer is a deterministic stand-in for a cross-encoder. It rewards
// passages that contain the query's content terms (weighted by rarity when
// corpus statistics are available), keep consecutive query terms close
// together, and contain the whole query as a near phrase.
type LexicalScorer struct {
	stats StatsSource
}

var _ Scorer = (*LexicalScorer)(nil)

// NewLexicalScorer creates a LexicalScorer. stats may be nil, in which case all
// terms weigh the same.
func NewLexicalScorer(stats StatsSource) *LexicalScorer {
	return &LexicalScorer{stats: stats}
}

func (s *LexicalScorer) Name() string { return "lexical" }
func (s *LexicalScorer) Close() error { return nil }

type queryTerm struct {
	word string
	stem string
}

func queryTerms(query string) []queryTerm {
	seen := make(map[string]struct{})
	var out []queryTerm
	for _, w := range utils.ContentTerms(query) {
		st := utils.Stem(w)
		if _, ok := seen[st]; ok {
			continue
		}
		seen[st] = struct{}{}
		out = append(out, queryTerm{word: w, stem: st})
	}
	return out
}

// Score implements Scorer.
func (s *LexicalScorer) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]float64, len(passages))
	terms := queryTerms(query)
	if len(terms) == 0 {
		return out, nil
	}
	weights := s.weights(ctx, terms)
	for i, p := range passages {
		out[i] = scorePassage(terms, weights, p)
	}
	return out, nil
}

// weights returns an IDF weight per term. Failing or missing statistics give
// every term weight 1.
func (s *LexicalScorer) weights(ctx context.Context, terms []queryTerm) []float64 {
	w := make([]float64, len(terms))
	for i := range w {
		w[i] = 1
	}
	if s.stats == nil {
		return w
	}
	words := make([]string, len(terms))
	for i, t := range terms {
		words[i] = t.word
	}
	total, df, err := s.stats.CorpusStats(ctx, words)
	if err != nil || total == 0 {
		return w
	}
	for i, t := range terms {
		w[i] = idf(total, df[t.word])
	}
	return w
}

// idf is the BM25 inverse document frequency, floored so common terms still count.
func idf(total, df int) float64 {
	v := math.Log(1 + (float64(total-df)+0.5)/(float64(df)+0.5))
	return math.Max(v, 0.1)
}

func scorePassage(terms []queryTerm, weights []float64, passage string) float64 {
	positions := make(map[string][]int)
	for i, tok := range utils.Tokenize(passage) {
		st := utils.Stem(tok)
		positions[st] = append(positions[st], i)
	}

	var matched, total float64
	for i, t := range terms {
		total += weights[i]
		if len(positions[t.stem]) > 0 {
			matched += weights[i]
		}
	}
	if matched == 0 {
		return 0
	}
	coverage := matched / total

	proximity := coverage
	if len(terms) > 1 {
		near := 0
		for i := 0; i+1 < len(terms); i++ {
			if adjacent(positions[terms[i].stem], positions[terms[i+1].stem]) {
				near++
			}
		}
		proximity = float64(near) / float64(len(terms)-1)
	}

	phrase := 0.0
	if inOrder(terms, positions) {
		phrase = 1
	}
	return utils.Clamp01(coverageWeight*coverage + proximityWeight*proximity + phraseWeight*phrase)
}

func adjacent(a, b []int) bool {
	for _, p := range a {
		for _, q := range b {
			if q > p && q-p <= proximityWindow {
				return true
			}
		}
	}
	return false
}

// inOrder reports whether every query term occurs, each within the proximity
// window after the previous one.
func inOrder(terms []queryTerm, positions map[string][]int) bool {
	starts := positions[terms[0].stem]
	for _, start := range starts {
		prev, ok := start, true
		for _, t := range terms[1:] {
			next := -1
			for _, q := range positions[t.stem] {
				if q > prev && q-prev <= proximityWindow {
					next = q
					break
				}
			}
			if next < 0 {
				ok = false
				break
			}
			prev = next
		}
		if ok {
			return true
		}
	}
	return false
}

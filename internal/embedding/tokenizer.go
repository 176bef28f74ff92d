package embedding

import (
	"hash/fnv"

	"github.com/hyperjump/kotae/pkg/utils"
)

// BERT special token ids.
const (
	tokenCLS   = 101
	tokenSEP   = 102
	vocabSize  = 30522
	firstToken = 1000 // ids below this are reserved for special tokens
)

// Tokenizer produces BERT-style model inputs.
type Tokenizer interface {
	// Tokenize encodes a single segment padded to maxTokens.
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
	// TokenizePair encodes [CLS] a [SEP] b [SEP] for cross-encoders; b is truncated first.
	TokenizePair(a, b string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

// HashTokenizer maps lower-cased words to hashed vocabulary ids. It stands in
// for a WordPiece vocabulary when none is shipped with the model.
type HashTokenizer struct{}

// Tokenize implements Tokenizer.
func (t *HashTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	return t.encode(utils.Tokenize(text), nil, maxTokens)
}

// TokenizePair implements Tokenizer.
func (t *HashTokenizer) TokenizePair(a, b string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	return t.encode(utils.Tokenize(a), utils.Tokenize(b), maxTokens)
}

func (t *HashTokenizer) encode(first, second []string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens < 4 {
		maxTokens = 256
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	reserved := 2
	if second != nil {
		reserved = 3
	}
	budget := maxTokens - reserved
	if len(first) > budget {
		first = first[:budget]
	}
	if second != nil && len(first)+len(second) > budget {
		second = second[:budget-len(first)]
	}

	pos := 0
	put := func(id int64, segment int64) {
		inputIDs[pos] = id
		attentionMask[pos] = 1
		tokenTypeIDs[pos] = segment
		pos++
	}
	put(tokenCLS, 0)
	for _, w := range first {
		put(WordID(w), 0)
	}
	put(tokenSEP, 0)
	if second != nil {
		for _, w := range second {
			put(WordID(w), 1)
		}
		put(tokenSEP, 1)
	}
	return inputIDs, attentionMask, tokenTypeIDs
}

// WordID returns the hashed vocabulary id for a word.
func WordID(word string) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(word))
	return int64(firstToken + h.Sum32()%(vocabSize-firstToken))
}

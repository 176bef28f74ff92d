package vector

import (
	"fmt"
	"math/rand"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/pkg/utils"
)

func entry(doc string, seq int, vec ...float32) Entry {
	v := append([]float32(nil), vec...)
	utils.NormalizeL2(v)
	return Entry{
		Chunk:  models.Chunk{ID: fmt.Sprintf("%s#%d", doc, seq), DocumentID: doc, Seq: seq, Text: fmt.Sprintf("chunk %d of %s", seq, doc), Page: 1, PageEnd: 1},
		Vector: v,
	}
}

// randomEntries returns n unit vectors spread over docs documents.
func randomEntries(seed int64, docs, n, dims int) map[string][]Entry {
	r := rand.New(rand.NewSource(seed))
	out := make(map[string][]Entry)
	for i := 0; i < n; i++ {
		doc := fmt.Sprintf("doc-%d", i%docs)
		vec := make([]float32, dims)
		for j := range vec {
			vec[j] = float32(r.NormFloat64())
		}
		out[doc] = append(out[doc], entry(doc, len(out[doc]), vec...))
	}
	return out
}

func allEntries(m map[string][]Entry) []Entry {
	var out []Entry
	for _, es := range m {
		out = append(out, es...)
	}
	return out
}

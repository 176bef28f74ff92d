package embedding

import (
	"testing"
)

func TestHashTokenizer_Tokenize(t *testing.T) {
	tok := &HashTokenizer{}
	ids, attn, types := tok.Tokenize("Hello, world", 10)
	if len(ids) != 10 || len(attn) != 10 || len(types) != 10 {
		t.Fatalf("lengths %d/%d/%d", len(ids), len(attn), len(types))
	}
	if ids[0] != tokenCLS || ids[3] != tokenSEP {
		t.Errorf("ids = %v", ids)
	}
	if ids[1] != WordID("hello") || ids[2] != WordID("world") {
		t.Errorf("word ids = %v", ids[1:3])
	}
	for i, m := range attn {
		want := int64(0)
		if i < 4 {
			want = 1
		}
		if m != want {
			t.Errorf("attention[%d] = %d, want %d", i, m, want)
		}
	}
}

func TestHashTokenizer_truncates(t *testing.T) {
	ids, attn, _ := (&HashTokenizer{}).Tokenize("a b c d e f g h i j k l", 6)
	if ids[5] != tokenSEP {
		t.Errorf("last id = %d, want SEP", ids[5])
	}
	for _, m := range attn {
		if m != 1 {
			t.Fatalf("attention = %v, want all ones", attn)
		}
	}
}

func TestHashTokenizer_TokenizePair(t *testing.T) {
	ids, _, types := (&HashTokenizer{}).TokenizePair("grace period", "thirty days apply to every premium payment", 8)
	// [CLS] grace period [SEP] thirty days apply [SEP]
	if ids[0] != tokenCLS || ids[3] != tokenSEP || ids[7] != tokenSEP {
		t.Errorf("ids = %v", ids)
	}
	if types[2] != 0 || types[4] != 1 || types[7] != 1 {
		t.Errorf("token types = %v", types)
	}
}

func TestWordID(t *testing.T) {
	if WordID("abc") != WordID("abc") {
		t.Error("ids should be deterministic")
	}
	if id := WordID("abc"); id < firstToken || id >= vocabSize {
		t.Errorf("id %d out of range", id)
	}
}

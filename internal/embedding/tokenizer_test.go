package embedding

import (
	"testing"
)

func TestSimpleTokenizerShape(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids, attn, types := tok.Tokenize("when does my policy expire", 16)
	if len(ids) != 16 || len(attn) != 16 || len(types) != 16 {
		t.Fatalf("expected length 16, got %d/%d/%d", len(ids), len(attn), len(types))
	}
	if ids[0] != 101 {
		t.Errorf("expected CLS 101, got %d", ids[0])
	}
	if attn[0] != 1 {
		t.Error("attention[0] should be 1")
	}
	// 5 words + CLS; SEP follows the last word.
	if ids[6] != 102 {
		t.Errorf("expected SEP 102 at position 6, got %d", ids[6])
	}
}

func TestSimpleTokenizerTruncates(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids, attn, _ := tok.Tokenize("a b c d e f g h", 4)
	if len(ids) != 4 {
		t.Fatalf("len(ids)=%d", len(ids))
	}
	if ids[3] != 102 {
		t.Errorf("last slot should hold SEP, got %d", ids[3])
	}
	if attn[3] != 1 {
		t.Error("SEP should be attended")
	}
}

func TestSplitWords(t *testing.T) {
	words := SplitWords("  policy\texpires \n tomorrow  ")
	if len(words) != 3 {
		t.Errorf("expected 3 words, got %v", words)
	}
	if SplitWords("") != nil {
		t.Error("empty string should return nil")
	}
}

func TestHashStringDeterministic(t *testing.T) {
	if HashString("policy") != HashString("policy") {
		t.Error("hash should be deterministic")
	}
	if HashString("policy") < 0 {
		t.Error("hash should be non-negative")
	}
}

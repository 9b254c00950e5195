package generation

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

// ExtractiveGenerator answers by quoting the most relevant sentences from the
// top-ranked document. It is fully deterministic and never invents content,
// which makes it the default when no model provider is configured.
type ExtractiveGenerator struct {
	maxSentences int
}

// NewExtractiveGenerator creates an ExtractiveGenerator.
func NewExtractiveGenerator() *ExtractiveGenerator {
	return &ExtractiveGenerator{maxSentences: 2}
}

// Generate extracts the sentences of the first document that best overlap the
// query. Confidence is -1: extraction has no self-reported signal.
func (g *ExtractiveGenerator) Generate(ctx context.Context, query string, docs []ContextDocument) (*Output, error) {
	if len(docs) == 0 {
		return &Output{Answer: "", Confidence: -1}, nil
	}

	top := docs[0]
	terms := queryTerms(query)
	sentences := splitSentences(top.Content)

	type scored struct {
		index int
		hits  int
	}
	var best []scored
	for i, s := range sentences {
		hits := 0
		lower := strings.ToLower(s)
		for _, t := range terms {
			if strings.Contains(lower, t) {
				hits++
			}
		}
		if hits > 0 {
			best = append(best, scored{index: i, hits: hits})
		}
	}

	var picked []string
	if len(best) == 0 {
		// Nothing overlaps; fall back to the document opening.
		for i := 0; i < len(sentences) && i < g.maxSentences; i++ {
			picked = append(picked, sentences[i])
		}
	} else {
		// Keep document order among the highest-hit sentences.
		threshold := 0
		for _, b := range best {
			if b.hits > threshold {
				threshold = b.hits
			}
		}
		for _, b := range best {
			if b.hits == threshold && len(picked) < g.maxSentences {
				picked = append(picked, sentences[b.index])
			}
		}
		for _, b := range best {
			if b.hits < threshold && len(picked) < g.maxSentences {
				picked = append(picked, sentences[b.index])
			}
		}
	}

	answer := fmt.Sprintf("According to %q: %s", top.Title, strings.Join(picked, " "))
	return &Output{Answer: answer, Confidence: -1}, nil
}

// queryTerms lowercases the query and drops short function words.
func queryTerms(query string) []string {
	words := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	terms := make([]string, 0, len(words))
	for _, w := range words {
		if len(w) <= 2 || extractiveStopwords[w] {
			continue
		}
		terms = append(terms, w)
	}
	return terms
}

// splitSentences splits content on sentence punctuation and newlines.
func splitSentences(content string) []string {
	var sentences []string
	var b strings.Builder
	flush := func() {
		s := strings.TrimSpace(b.String())
		if s != "" {
			sentences = append(sentences, s)
		}
		b.Reset()
	}
	runes := []rune(content)
	for i, r := range runes {
		b.WriteRune(r)
		switch r {
		case '\n':
			flush()
		case '.', '!', '?':
			// Sentence end only when followed by whitespace or end of text.
			if i == len(runes)-1 || unicode.IsSpace(runes[i+1]) {
				flush()
			}
		}
	}
	flush()
	return sentences
}

var extractiveStopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "was": true,
	"when": true, "does": true, "what": true, "where": true, "which": true,
	"who": true, "why": true, "how": true, "will": true, "with": true,
	"this": true, "that": true, "from": true, "your": true, "has": true,
	"have": true, "can": true, "you": true,
}

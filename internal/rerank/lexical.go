package rerank

import (
	"context"
	"sort"
	"strings"
	"unicode"
)

// LexicalReranker scores candidates by lexical overlap with the query: term
// coverage, exact phrase matches, term proximity, and a title boost. It runs
// in-process with no model dependency, which makes it the default reranker.
type LexicalReranker struct{}

// NewLexicalReranker creates a LexicalReranker.
func NewLexicalReranker() *LexicalReranker {
	return &LexicalReranker{}
}

// Rerank scores all candidates against the query and returns them sorted by
// descending score. Ties keep the incoming candidate order, so the vector
// search ordering breaks ties.
func (r *LexicalReranker) Rerank(ctx context.Context, query string, candidates []Candidate) ([]Result, error) {
	terms := analyzeQuery(query)

	results := make([]Result, len(candidates))
	for i, c := range candidates {
		results[i] = Result{ID: c.ID, Score: r.score(terms, query, c)}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results, nil
}

// score combines the individual signals into a single [0, 1] score.
// Coverage dominates; phrase, proximity, and title matches refine it.
func (r *LexicalReranker) score(terms []string, query string, c Candidate) float64 {
	if len(terms) == 0 {
		return 0
	}

	contentLower := strings.ToLower(c.Content)
	titleLower := strings.ToLower(c.Title)

	coverage := termCoverage(terms, contentLower)
	titleCoverage := termCoverage(terms, titleLower)

	score := 0.55 * coverage
	score += 0.20 * titleCoverage

	if phraseMatch(terms, contentLower) || phraseMatch(terms, titleLower) {
		score += 0.15
	}
	if coverage == 1 && termsInOrder(terms, contentLower) {
		score += 0.10
	}

	if score > 1 {
		score = 1
	}
	return score
}

// analyzeQuery splits the query into normalized terms, dropping stopwords
// so that coverage measures the informative part of the query.
func analyzeQuery(query string) []string {
	words := strings.Fields(query)
	terms := make([]string, 0, len(words))
	for _, w := range words {
		t := normalizeToken(w)
		if t == "" || stopwords[t] {
			continue
		}
		terms = append(terms, t)
	}
	return terms
}

// normalizeToken lowercases a token and strips edge punctuation, keeping
// internal hyphens and underscores intact.
func normalizeToken(token string) string {
	token = strings.ToLower(token)
	return strings.TrimFunc(token, func(r rune) bool {
		return unicode.IsPunct(r) && r != '-' && r != '_'
	})
}

// termCoverage returns the fraction of terms found in text.
func termCoverage(terms []string, textLower string) float64 {
	if len(terms) == 0 {
		return 0
	}
	matched := 0
	for _, t := range terms {
		if strings.Contains(textLower, t) {
			matched++
		}
	}
	return float64(matched) / float64(len(terms))
}

// phraseMatch reports whether the terms appear consecutively in text.
func phraseMatch(terms []string, textLower string) bool {
	if len(terms) < 2 {
		return false
	}
	return strings.Contains(textLower, strings.Join(terms, " "))
}

// termsInOrder reports whether all terms appear in text in query order,
// not necessarily adjacent.
func termsInOrder(terms []string, textLower string) bool {
	if len(terms) == 0 {
		return false
	}
	lastPos := -1
	for _, t := range terms {
		pos := strings.Index(textLower[lastPos+1:], t)
		if pos == -1 {
			return false
		}
		lastPos = lastPos + 1 + pos
	}
	return true
}

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "do": true, "does": true, "for": true, "from": true,
	"how": true, "in": true, "is": true, "it": true, "my": true, "of": true,
	"on": true, "or": true, "the": true, "to": true, "what": true, "when": true,
	"where": true, "which": true, "who": true, "why": true, "will": true,
	"with": true,
}

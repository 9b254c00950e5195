// Package generation produces grounded answers from retrieved documents.
// Two implementations exist: a remote chat-completion generator and a
// deterministic extractive one that needs no model.
package generation

import "context"

// ContextDocument is one retrieved document handed to the generator as
// grounding material.
type ContextDocument struct {
	Title   string
	Content string
}

// Output is a generated answer. Confidence is the model's self-reported
// signal in [0, 1], or -1 when the generator does not produce one.
type Output struct {
	Answer     string
	Confidence float64
}

// Generator synthesizes an answer to the query using only the supplied
// documents.
type Generator interface {
	Generate(ctx context.Context, query string, docs []ContextDocument) (*Output, error)
}

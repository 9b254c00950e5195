package models

import (
	"errors"
	"testing"
)

func TestQueryRequestValidate(t *testing.T) {
	q := &QueryRequest{Query: "when does my policy expire"}
	if err := q.Validate(); err != nil {
		t.Fatal(err)
	}
	if q.TopKSearch != 10 || q.TopKFinal != 3 {
		t.Errorf("defaults not applied: search=%d final=%d", q.TopKSearch, q.TopKFinal)
	}

	q = &QueryRequest{Query: "x", TopKSearch: 2, TopKFinal: 5}
	if err := q.Validate(); err != nil {
		t.Fatal(err)
	}
	if q.TopKFinal != 2 {
		t.Errorf("expected final clamped to search, got %d", q.TopKFinal)
	}

	q = &QueryRequest{}
	err := q.Validate()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("expected ValidationError for empty query, got %v", err)
	}

	q = &QueryRequest{Query: "x", Category: "unknown"}
	if err := q.Validate(); !errors.As(err, &verr) {
		t.Errorf("expected ValidationError for bad category, got %v", err)
	}
}

func TestIngestRequestValidate(t *testing.T) {
	r := &IngestRequest{Title: "T", Content: "C"}
	if err := r.Validate(); err != nil {
		t.Fatal(err)
	}
	if r.Category != CategoryOther {
		t.Errorf("expected default category other, got %s", r.Category)
	}

	var verr *ValidationError
	if err := (&IngestRequest{Content: "C"}).Validate(); !errors.As(err, &verr) {
		t.Errorf("expected ValidationError for missing title, got %v", err)
	}
	if err := (&IngestRequest{Title: "T"}).Validate(); !errors.As(err, &verr) {
		t.Errorf("expected ValidationError for missing content, got %v", err)
	}
	if err := (&IngestRequest{Title: "T", Content: "C", Category: "nope"}).Validate(); !errors.As(err, &verr) {
		t.Errorf("expected ValidationError for bad category, got %v", err)
	}
}

func TestUpdateRequestValidate(t *testing.T) {
	var verr *ValidationError
	if err := (&UpdateRequest{}).Validate(); !errors.As(err, &verr) {
		t.Errorf("expected ValidationError for empty update, got %v", err)
	}

	title := "New"
	r := &UpdateRequest{Title: &title}
	if err := r.Validate(); err != nil {
		t.Fatal(err)
	}
	if r.ChangeType != ChangeUpdate {
		t.Errorf("expected default change type update, got %s", r.ChangeType)
	}

	r = &UpdateRequest{Title: &title, ChangeType: "weird"}
	if err := r.Validate(); !errors.As(err, &verr) {
		t.Errorf("expected ValidationError for bad change type, got %v", err)
	}
}

func TestCategoryValid(t *testing.T) {
	for _, c := range Categories() {
		if !c.Valid() {
			t.Errorf("%s should be valid", c)
		}
	}
	if Category("insurance").Valid() {
		t.Error("unknown category should be invalid")
	}
}

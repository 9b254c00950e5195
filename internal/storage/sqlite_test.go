package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/kotae/internal/models"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testDocument(tenant, id string) (*models.Document, *models.DocumentVersion) {
	doc := &models.Document{
		ID:          id,
		TenantID:    tenant,
		Title:       "Title " + id,
		Content:     "Content " + id,
		Category:    models.CategoryOther,
		Fingerprint: "fp-" + id,
		Embedding:   []float32{0.1, 0.2, 0.3},
		CreatedBy:   "user-1",
	}
	version := &models.DocumentVersion{
		ID:          uuid.New().String(),
		Title:       doc.Title,
		Content:     doc.Content,
		Fingerprint: doc.Fingerprint,
		ChangeType:  models.ChangeUpdate,
		ContentSize: len(doc.Content),
		CreatedBy:   doc.CreatedBy,
	}
	return doc, version
}

func TestCreateAndGetDocument(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	doc, initial := testDocument("tenant-a", "doc1")
	if err := store.CreateDocument(ctx, doc, initial); err != nil {
		t.Fatal(err)
	}
	if doc.CurrentVersion != 1 || doc.VersionCount != 1 {
		t.Errorf("version fields: current=%d count=%d", doc.CurrentVersion, doc.VersionCount)
	}

	got, err := store.GetDocument(ctx, "tenant-a", "doc1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != doc.Title || got.Fingerprint != doc.Fingerprint {
		t.Errorf("got %+v", got)
	}
	if len(got.Embedding) != 3 || got.Embedding[1] != 0.2 {
		t.Errorf("embedding round trip: %v", got.Embedding)
	}

	// Cross-tenant read behaves exactly like absence.
	_, err = store.GetDocument(ctx, "tenant-b", "doc1")
	var nf *models.NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("expected NotFoundError for cross-tenant read, got %v", err)
	}
}

func TestGetDocumentByFingerprint(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	doc, initial := testDocument("tenant-a", "doc1")
	if err := store.CreateDocument(ctx, doc, initial); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetDocumentByFingerprint(ctx, "tenant-a", "fp-doc1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "doc1" {
		t.Errorf("got %s", got.ID)
	}

	// Same fingerprint under a different tenant is not a duplicate.
	var nf *models.NotFoundError
	if _, err := store.GetDocumentByFingerprint(ctx, "tenant-b", "fp-doc1"); !errors.As(err, &nf) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}

func TestCreateDocumentDuplicateFingerprint(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	first, initial := testDocument("tenant-a", "doc1")
	if err := store.CreateDocument(ctx, first, initial); err != nil {
		t.Fatal(err)
	}

	// Same tenant and fingerprint under a different id loses the unique
	// index and must surface as a duplicate naming the winner.
	second, secondInitial := testDocument("tenant-a", "doc2")
	second.Fingerprint = first.Fingerprint
	secondInitial.Fingerprint = first.Fingerprint
	err := store.CreateDocument(ctx, second, secondInitial)
	var dup *models.DuplicateError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateError, got %v", err)
	}
	if dup.DocumentID != "doc1" {
		t.Errorf("duplicate should name the existing document, got %s", dup.DocumentID)
	}

	// No partial rows from the losing insert.
	n, err := store.CountDocuments(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 document, got %d", n)
	}
}

func TestApplyUpdateAllocatesGaplessVersions(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	doc, initial := testDocument("tenant-a", "doc1")
	if err := store.CreateDocument(ctx, doc, initial); err != nil {
		t.Fatal(err)
	}

	for i := 2; i <= 5; i++ {
		doc.Content = doc.Content + " more"
		doc.Fingerprint = doc.Fingerprint + "x"
		v := &models.DocumentVersion{
			ID: uuid.New().String(), Title: doc.Title, Content: doc.Content,
			Fingerprint: doc.Fingerprint, ChangeType: models.ChangeUpdate,
			ContentSize: len(doc.Content),
		}
		n, err := store.ApplyUpdate(ctx, "tenant-a", doc, v)
		if err != nil {
			t.Fatal(err)
		}
		if n != i {
			t.Fatalf("expected version %d, got %d", i, n)
		}
	}

	got, _ := store.GetDocument(ctx, "tenant-a", "doc1")
	if got.CurrentVersion != 5 || got.VersionCount != 5 {
		t.Errorf("current=%d count=%d", got.CurrentVersion, got.VersionCount)
	}

	versions, err := store.ListVersions(ctx, "tenant-a", "doc1")
	if err != nil {
		t.Fatal(err)
	}
	if len(versions) != 5 {
		t.Fatalf("expected 5 versions, got %d", len(versions))
	}
	// Newest first, gapless.
	for i, v := range versions {
		if v.VersionNumber != 5-i {
			t.Errorf("position %d: version %d", i, v.VersionNumber)
		}
	}
}

func TestApplyUpdateConcurrent(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	doc, initial := testDocument("tenant-a", "doc1")
	if err := store.CreateDocument(ctx, doc, initial); err != nil {
		t.Fatal(err)
	}

	const workers = 8
	var wg sync.WaitGroup
	numbers := make(chan int, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d := *doc
			d.Content = d.Content + string(rune('a'+i))
			d.Fingerprint = d.Fingerprint + string(rune('a'+i))
			v := &models.DocumentVersion{
				ID: uuid.New().String(), Title: d.Title, Content: d.Content,
				Fingerprint: d.Fingerprint, ChangeType: models.ChangeUpdate,
				ContentSize: len(d.Content),
			}
			n, err := store.ApplyUpdate(ctx, "tenant-a", &d, v)
			if err != nil {
				t.Errorf("update failed: %v", err)
				return
			}
			numbers <- n
		}(i)
	}
	wg.Wait()
	close(numbers)

	seen := make(map[int]bool)
	for n := range numbers {
		if seen[n] {
			t.Errorf("duplicate version number %d", n)
		}
		seen[n] = true
	}

	got, _ := store.GetDocument(ctx, "tenant-a", "doc1")
	if got.CurrentVersion != workers+1 {
		t.Errorf("expected current %d, got %d", workers+1, got.CurrentVersion)
	}
}

func TestApplyUpdateCrossTenant(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	doc, initial := testDocument("tenant-a", "doc1")
	if err := store.CreateDocument(ctx, doc, initial); err != nil {
		t.Fatal(err)
	}

	v := &models.DocumentVersion{ID: uuid.New().String(), Title: "x", Content: "y",
		Fingerprint: "z", ChangeType: models.ChangeUpdate, ContentSize: 1}
	var nf *models.NotFoundError
	if _, err := store.ApplyUpdate(ctx, "tenant-b", doc, v); !errors.As(err, &nf) {
		t.Errorf("expected NotFoundError, got %v", err)
	}

	// Nothing partially applied: no version row appeared.
	versions, _ := store.ListVersions(ctx, "tenant-a", "doc1")
	if len(versions) != 1 {
		t.Errorf("expected 1 version, got %d", len(versions))
	}
}

func TestListEmbeddedDocuments(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	doc1, v1 := testDocument("tenant-a", "doc1")
	doc1.Category = models.CategoryPolicy
	if err := store.CreateDocument(ctx, doc1, v1); err != nil {
		t.Fatal(err)
	}
	doc2, v2 := testDocument("tenant-a", "doc2")
	doc2.Embedding = nil // unindexed
	if err := store.CreateDocument(ctx, doc2, v2); err != nil {
		t.Fatal(err)
	}
	doc3, v3 := testDocument("tenant-b", "doc3")
	if err := store.CreateDocument(ctx, doc3, v3); err != nil {
		t.Fatal(err)
	}

	docs, err := store.ListEmbeddedDocuments(ctx, "tenant-a", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0].ID != "doc1" {
		t.Errorf("expected only embedded tenant-a doc, got %v", docs)
	}

	docs, _ = store.ListEmbeddedDocuments(ctx, "tenant-a", models.CategoryMedical)
	if len(docs) != 0 {
		t.Errorf("category filter: got %d docs", len(docs))
	}
}

func TestDeleteDocumentCascades(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	doc, initial := testDocument("tenant-a", "doc1")
	if err := store.CreateDocument(ctx, doc, initial); err != nil {
		t.Fatal(err)
	}

	var nf *models.NotFoundError
	if err := store.DeleteDocument(ctx, "tenant-b", "doc1"); !errors.As(err, &nf) {
		t.Errorf("cross-tenant delete: expected NotFoundError, got %v", err)
	}
	if err := store.DeleteDocument(ctx, "tenant-a", "doc1"); err != nil {
		t.Fatal(err)
	}
	count, _ := store.CountVersions(ctx)
	if count != 0 {
		t.Errorf("expected versions cascaded, got %d", count)
	}
}

func TestConversationLog(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, role := range []string{models.RoleUser, models.RoleAssistant} {
		msg := &models.ConversationMessage{
			ID:        uuid.New().String(),
			TenantID:  "tenant-a",
			SessionID: "sess-1",
			Role:      role,
			Content:   "turn",
			CreatedAt: base.Add(time.Duration(i) * time.Millisecond),
		}
		if role == models.RoleAssistant {
			msg.Sources = []models.Source{{DocumentID: "doc1", Title: "T", Category: models.CategoryOther, Relevance: 0.9}}
		}
		if err := store.AppendMessage(ctx, msg); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := store.ListMessages(ctx, "tenant-a", "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != models.RoleUser || msgs[1].Role != models.RoleAssistant {
		t.Errorf("order: %s, %s", msgs[0].Role, msgs[1].Role)
	}
	if len(msgs[1].Sources) != 1 || msgs[1].Sources[0].DocumentID != "doc1" {
		t.Errorf("sources round trip: %+v", msgs[1].Sources)
	}

	// Tenant scoping
	other, _ := store.ListMessages(ctx, "tenant-b", "sess-1")
	if len(other) != 0 {
		t.Errorf("cross-tenant messages: %d", len(other))
	}
}

func TestIncrementRateWindow(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	window := time.Now().UTC().Truncate(time.Minute)

	for want := int64(1); want <= 3; want++ {
		got, err := store.IncrementRateWindow(ctx, "tenant-a", "query", window)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("expected %d, got %d", want, got)
		}
	}

	// Distinct keys count independently.
	if n, _ := store.IncrementRateWindow(ctx, "tenant-b", "query", window); n != 1 {
		t.Errorf("tenant-b: got %d", n)
	}
	if n, _ := store.IncrementRateWindow(ctx, "tenant-a", "ingest", window); n != 1 {
		t.Errorf("ingest: got %d", n)
	}
	if n, _ := store.IncrementRateWindow(ctx, "tenant-a", "query", window.Add(time.Minute)); n != 1 {
		t.Errorf("next window: got %d", n)
	}
}

func TestIncrementRateWindowConcurrent(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	window := time.Now().UTC().Truncate(time.Minute)

	const workers = 16
	var wg sync.WaitGroup
	counts := make(chan int64, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := store.IncrementRateWindow(ctx, "tenant-a", "query", window)
			if err != nil {
				t.Errorf("increment failed: %v", err)
				return
			}
			counts <- n
		}()
	}
	wg.Wait()
	close(counts)

	seen := make(map[int64]bool)
	for n := range counts {
		if seen[n] {
			t.Errorf("duplicate count %d: increments under-counted", n)
		}
		seen[n] = true
	}
	if len(seen) != workers {
		t.Errorf("expected %d distinct counts, got %d", workers, len(seen))
	}
}

func TestPurgeRateWindows(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Minute)
	old := now.Add(-25 * time.Hour)

	_, _ = store.IncrementRateWindow(ctx, "tenant-a", "query", old)
	_, _ = store.IncrementRateWindow(ctx, "tenant-a", "query", now)

	purged, err := store.PurgeRateWindows(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if purged != 1 {
		t.Errorf("expected 1 purged, got %d", purged)
	}

	// Current window counting unaffected.
	if n, _ := store.IncrementRateWindow(ctx, "tenant-a", "query", now); n != 2 {
		t.Errorf("current window disturbed: got %d", n)
	}
}

package docstore

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/storage"
)

func newTestStore(t *testing.T) (*Store, *embedding.MockEmbedder) {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	embedder := embedding.NewMockEmbedder(64)
	return NewStore(store, embedder, zap.NewNop()), embedder
}

func strPtr(s string) *string { return &s }

func TestIngestCreatesVersionOne(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	res, err := s.Ingest(ctx, "tenant-a", "alice", &models.IngestRequest{
		Title: "Refund Policy", Content: "Refunds within 30 days.", Category: models.CategoryPolicy,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Created {
		t.Error("expected Created")
	}

	doc, err := s.Get(ctx, "tenant-a", res.DocumentID)
	if err != nil {
		t.Fatal(err)
	}
	if doc.CurrentVersion != 1 || doc.VersionCount != 1 {
		t.Errorf("expected version 1/1, got %d/%d", doc.CurrentVersion, doc.VersionCount)
	}
	if doc.Embedding == nil {
		t.Error("ingested document should be indexed")
	}

	versions, err := s.ListVersions(ctx, "tenant-a", res.DocumentID)
	if err != nil {
		t.Fatal(err)
	}
	if len(versions) != 1 || !versions[0].IsCurrent {
		t.Errorf("expected one current version, got %+v", versions)
	}
}

func TestIngestDuplicateSkipsEmbedding(t *testing.T) {
	s, embedder := newTestStore(t)
	ctx := context.Background()

	first, err := s.Ingest(ctx, "tenant-a", "alice", &models.IngestRequest{
		Title: "Refund Policy", Content: "Refunds within 30 days.",
	})
	if err != nil {
		t.Fatal(err)
	}
	callsAfterFirst := embedder.Calls()

	// Same content modulo case and whitespace normalizes to the same fingerprint.
	second, err := s.Ingest(ctx, "tenant-a", "bob", &models.IngestRequest{
		Title: "REFUND   POLICY", Content: "refunds  within 30 days.",
	})
	if err != nil {
		t.Fatal(err)
	}
	if second.Created {
		t.Error("duplicate should not create")
	}
	if second.DuplicateOf != first.DocumentID {
		t.Errorf("expected duplicate of %s, got %s", first.DocumentID, second.DuplicateOf)
	}
	if embedder.Calls() != callsAfterFirst {
		t.Error("duplicate detection must happen before any embedding call")
	}
}

func TestIngestSameContentDifferentTenants(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	req := func() *models.IngestRequest {
		return &models.IngestRequest{Title: "Shared", Content: "Identical content."}
	}
	a, err := s.Ingest(ctx, "tenant-a", "alice", req())
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.Ingest(ctx, "tenant-b", "bob", req())
	if err != nil {
		t.Fatal(err)
	}
	if !a.Created || !b.Created {
		t.Error("fingerprints are tenant-scoped; both ingests should create")
	}
	if a.DocumentID == b.DocumentID {
		t.Error("tenants must get distinct documents")
	}
}

func TestIngestConcurrentSameContent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	// Both racers pass the fingerprint pre-check; the insert's unique index
	// decides the winner and the loser must still see a duplicate result,
	// not an error.
	const racers = 4
	results := make([]*models.IngestResult, racers)
	errs := make([]error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.Ingest(ctx, "tenant-a", "alice", &models.IngestRequest{
				Title: "Refund Policy", Content: "Refunds within 30 days.",
			})
		}(i)
	}
	wg.Wait()

	created := 0
	ids := map[string]bool{}
	for i := 0; i < racers; i++ {
		if errs[i] != nil {
			t.Fatalf("racer %d: %v", i, errs[i])
		}
		if results[i].Created {
			created++
		} else if results[i].DuplicateOf != results[i].DocumentID {
			t.Errorf("racer %d: duplicate result should name the stored document: %+v", i, results[i])
		}
		ids[results[i].DocumentID] = true
	}
	if created != 1 {
		t.Errorf("expected exactly one creation, got %d", created)
	}
	if len(ids) != 1 {
		t.Errorf("all racers should converge on one document, got %v", ids)
	}
}

func TestUpdateAllocatesNextVersion(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	res, err := s.Ingest(ctx, "tenant-a", "alice", &models.IngestRequest{
		Title: "Policy", Content: "Version one content.",
	})
	if err != nil {
		t.Fatal(err)
	}

	upd, err := s.Update(ctx, "tenant-a", "alice", res.DocumentID, &models.UpdateRequest{
		Content: strPtr("Version two content."), ChangeSummary: "clarified wording",
	})
	if err != nil {
		t.Fatal(err)
	}
	if upd.Unchanged || upd.VersionNumber != 2 {
		t.Errorf("expected version 2, got %+v", upd)
	}

	doc, err := s.Get(ctx, "tenant-a", res.DocumentID)
	if err != nil {
		t.Fatal(err)
	}
	if doc.CurrentVersion != 2 || doc.VersionCount != 2 {
		t.Errorf("live row not repointed: %d/%d", doc.CurrentVersion, doc.VersionCount)
	}
	if doc.Content != "Version two content." {
		t.Errorf("content not updated: %q", doc.Content)
	}
}

func TestUpdateUnchangedIsNoOp(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	res, err := s.Ingest(ctx, "tenant-a", "alice", &models.IngestRequest{
		Title: "Policy", Content: "Same content.",
	})
	if err != nil {
		t.Fatal(err)
	}

	upd, err := s.Update(ctx, "tenant-a", "alice", res.DocumentID, &models.UpdateRequest{
		Content: strPtr("Same content."),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !upd.Unchanged {
		t.Error("identical content should report unchanged")
	}

	doc, err := s.Get(ctx, "tenant-a", res.DocumentID)
	if err != nil {
		t.Fatal(err)
	}
	if doc.VersionCount != 1 {
		t.Errorf("no-op update must not grow history, got %d versions", doc.VersionCount)
	}
}

func TestUpdateCrossTenantNotFound(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	res, err := s.Ingest(ctx, "tenant-a", "alice", &models.IngestRequest{
		Title: "Policy", Content: "Content.",
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = s.Update(ctx, "tenant-b", "mallory", res.DocumentID, &models.UpdateRequest{
		Content: strPtr("Hijacked."),
	})
	var notFound *models.NotFoundError
	if !errors.As(err, &notFound) {
		t.Errorf("cross-tenant update must look like not-found, got %v", err)
	}
}

func TestRollbackExtendsHistory(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	res, err := s.Ingest(ctx, "tenant-a", "alice", &models.IngestRequest{
		Title: "Policy", Content: "Original content.",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Update(ctx, "tenant-a", "alice", res.DocumentID, &models.UpdateRequest{
		Content: strPtr("Revised content."),
	}); err != nil {
		t.Fatal(err)
	}

	rb, err := s.Rollback(ctx, "tenant-a", "alice", res.DocumentID, 1)
	if err != nil {
		t.Fatal(err)
	}
	if rb.RestoredFrom != 1 || rb.NewVersionNumber != 3 {
		t.Errorf("expected restore 1 -> version 3, got %+v", rb)
	}

	doc, err := s.Get(ctx, "tenant-a", res.DocumentID)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Content != "Original content." {
		t.Errorf("rollback did not restore content: %q", doc.Content)
	}
	if doc.CurrentVersion != 3 {
		t.Errorf("live row should point at the new version, got %d", doc.CurrentVersion)
	}

	versions, err := s.ListVersions(ctx, "tenant-a", res.DocumentID)
	if err != nil {
		t.Fatal(err)
	}
	if len(versions) != 3 {
		t.Fatalf("history must be extended, not rewritten: %d versions", len(versions))
	}
	// Newest first.
	if versions[0].VersionNumber != 3 || !versions[0].IsCurrent {
		t.Errorf("version 3 should be current: %+v", versions[0])
	}
	if versions[0].ChangeType != models.ChangeCorrection {
		t.Errorf("rollback version should be a correction, got %s", versions[0].ChangeType)
	}
	if versions[2].VersionNumber != 1 || versions[2].IsCurrent {
		t.Errorf("version 1 should survive unmodified: %+v", versions[2])
	}
}

func TestRollbackToCurrentRejected(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	res, err := s.Ingest(ctx, "tenant-a", "alice", &models.IngestRequest{
		Title: "Policy", Content: "Content.",
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = s.Rollback(ctx, "tenant-a", "alice", res.DocumentID, 1)
	var verr *models.ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestRollbackToMissingVersionRejected(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	res, err := s.Ingest(ctx, "tenant-a", "alice", &models.IngestRequest{
		Title: "Policy", Content: "Content.",
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = s.Rollback(ctx, "tenant-a", "alice", res.DocumentID, 7)
	var notFound *models.NotFoundError
	if !errors.As(err, &notFound) {
		t.Errorf("expected not-found, got %v", err)
	}
}

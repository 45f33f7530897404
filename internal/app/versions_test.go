package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/MalithRanasinghe16/SyncDoc/internal/access"
	"github.com/MalithRanasinghe16/SyncDoc/internal/store"
)

func TestVersionNumbersGaplessUnderConcurrency(t *testing.T) {
	s, _ := newTestService()
	documentID := createDocument(t, s, CreateDocumentInput{Title: "Notes"})

	const writers = 25
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			content := fmt.Sprintf("draft %d", i)
			if _, err := s.UpdateDocument(context.Background(), documentID, UpdateDocumentInput{Content: &content}, owner()); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent update failed: %v", err)
	}

	result, err := s.ListVersions(context.Background(), documentID, 1, 100, owner())
	if err != nil {
		t.Fatalf("ListVersions failed: %v", err)
	}
	if total := result["total"].(int); total != writers+1 {
		t.Fatalf("total = %d, want %d", total, writers+1)
	}

	// Newest first, no duplicates, no gaps down to the creation snapshot.
	versions := result["versions"].([]map[string]any)
	expect := writers + 1
	for _, version := range versions {
		if got := version["versionNumber"].(int); got != expect {
			t.Fatalf("version number = %d, want %d", got, expect)
		}
		expect--
	}
	if expect != 0 {
		t.Fatalf("chain ended at %d, want 0", expect)
	}
}

// conflictingStore forces version-number conflicts before delegating, to
// exercise the retry loop.
type conflictingStore struct {
	*store.MemoryStore
	mu       sync.Mutex
	failures int
}

func (c *conflictingStore) InsertVersion(ctx context.Context, version store.Version) (store.Version, error) {
	c.mu.Lock()
	fail := c.failures > 0
	if fail {
		c.failures--
	}
	c.mu.Unlock()
	if fail {
		return store.Version{}, store.ErrVersionConflict
	}
	return c.MemoryStore.InsertVersion(ctx, version)
}

func TestAppendVersionRetriesOnConflict(t *testing.T) {
	backing := &conflictingStore{MemoryStore: store.NewMemoryStore()}
	s := New(testConfig(), backing)

	documentID := createDocument(t, s, CreateDocumentInput{Title: "Notes"})

	backing.mu.Lock()
	backing.failures = versionInsertAttempts - 1
	backing.mu.Unlock()

	content := "contested"
	if _, err := s.UpdateDocument(context.Background(), documentID, UpdateDocumentInput{Content: &content}, owner()); err != nil {
		t.Fatalf("update must absorb transient conflicts: %v", err)
	}

	versions := documentVersions(t, s, documentID)
	if len(versions) != 2 {
		t.Fatalf("expected 2 versions after retry, got %d", len(versions))
	}
}

func TestAppendVersionGivesUpAfterRepeatedConflicts(t *testing.T) {
	backing := &conflictingStore{MemoryStore: store.NewMemoryStore()}
	s := New(testConfig(), backing)

	documentID := createDocument(t, s, CreateDocumentInput{Title: "Notes"})

	backing.mu.Lock()
	backing.failures = versionInsertAttempts
	backing.mu.Unlock()

	content := "contested"
	_, err := s.UpdateDocument(context.Background(), documentID, UpdateDocumentInput{Content: &content}, owner())
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		t.Fatalf("exhausted retries must not surface as a domain error: %v", err)
	}
}

func TestListVersionsPagination(t *testing.T) {
	s, _ := newTestService()
	documentID := createDocument(t, s, CreateDocumentInput{Title: "Notes"})

	for i := 0; i < 5; i++ {
		content := fmt.Sprintf("revision %d", i)
		if _, err := s.UpdateDocument(context.Background(), documentID, UpdateDocumentInput{Content: &content}, owner()); err != nil {
			t.Fatalf("UpdateDocument failed: %v", err)
		}
	}

	result, err := s.ListVersions(context.Background(), documentID, 2, 2, owner())
	if err != nil {
		t.Fatalf("ListVersions failed: %v", err)
	}
	if total := result["total"].(int); total != 6 {
		t.Fatalf("total = %d, want 6", total)
	}
	if pageCount := result["pageCount"].(int); pageCount != 3 {
		t.Fatalf("pageCount = %d, want 3", pageCount)
	}
	versions := result["versions"].([]map[string]any)
	if len(versions) != 2 {
		t.Fatalf("page size = %d, want 2", len(versions))
	}
	if versions[0]["versionNumber"].(int) != 4 || versions[1]["versionNumber"].(int) != 3 {
		t.Fatalf("page 2 = [%v %v], want [4 3]", versions[0]["versionNumber"], versions[1]["versionNumber"])
	}
}

func TestRestoreVersionRecordsRestore(t *testing.T) {
	s, _ := newTestService()
	documentID := createDocument(t, s, CreateDocumentInput{Title: "Notes"})

	content := "<p>Hello world</p>"
	if _, err := s.UpdateDocument(context.Background(), documentID, UpdateDocumentInput{Content: &content}, owner()); err != nil {
		t.Fatalf("UpdateDocument failed: %v", err)
	}

	versions := documentVersions(t, s, documentID)
	initialID := versions[len(versions)-1]["id"].(string)

	result, err := s.RestoreVersion(context.Background(), documentID, initialID, owner())
	if err != nil {
		t.Fatalf("RestoreVersion failed: %v", err)
	}

	doc := result["document"].(map[string]any)
	if doc["content"].(string) != "" {
		t.Fatalf("restored content = %q, want empty", doc["content"])
	}
	if doc["wordCount"].(int) != 0 || doc["characterCount"].(int) != 0 {
		t.Fatalf("restored counts = %v/%v, want 0/0", doc["wordCount"], doc["characterCount"])
	}

	recorded := result["recordedVersion"].(map[string]any)
	if recorded["versionNumber"].(int) != 3 {
		t.Fatalf("recorded version number = %v, want 3", recorded["versionNumber"])
	}
	if recorded["changeDescription"].(string) != "restored from version 1" {
		t.Fatalf("recorded description = %q", recorded["changeDescription"])
	}
	if recorded["isAutoSave"].(bool) {
		t.Fatal("a restore is an explicit action, not an auto-save")
	}
}

func TestRestoreUnknownVersion(t *testing.T) {
	s, _ := newTestService()
	documentID := createDocument(t, s, CreateDocumentInput{Title: "Notes"})

	_, err := s.RestoreVersion(context.Background(), documentID, "no-such-version", owner())
	if code := domainCode(t, err); code != "NOT_FOUND" {
		t.Fatalf("code = %s, want NOT_FOUND", code)
	}
}

func TestRestoreRequiresWrite(t *testing.T) {
	s, _ := newTestService()
	documentID := createDocument(t, s, CreateDocumentInput{Title: "Notes"})
	if err := s.SetCollaborator(context.Background(), documentID, "bob", "read", owner()); err != nil {
		t.Fatalf("SetCollaborator failed: %v", err)
	}

	versions := documentVersions(t, s, documentID)
	_, err := s.RestoreVersion(context.Background(), documentID, versions[0]["id"].(string), access.Actor{UserID: "bob"})
	if code := domainCode(t, err); code != "ACCESS_DENIED" {
		t.Fatalf("code = %s, want ACCESS_DENIED", code)
	}
}

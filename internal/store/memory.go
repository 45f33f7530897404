package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a mutex-guarded in-memory implementation of the same
// surface as PostgresStore. The server runs on it in -memory mode and the
// service tests exercise domain logic through it without a database.
type MemoryStore struct {
	mu        sync.Mutex
	documents map[string]*Document
	versions  map[string][]Version // documentID -> versions ordered by number
	tokens    map[string]string    // token -> documentID, global uniqueness
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents: make(map[string]*Document),
		versions:  make(map[string][]Version),
		tokens:    make(map[string]string),
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func cloneDocument(item *Document) Document {
	out := *item
	out.Tags = append([]string(nil), item.Tags...)
	out.Collaborators = make(map[string]string, len(item.Collaborators))
	for userID, capability := range item.Collaborators {
		out.Collaborators[userID] = capability
	}
	if item.Share != nil {
		share := *item.Share
		share.Links = make(map[string]PermissionLink, len(item.Share.Links))
		for capability, link := range item.Share.Links {
			share.Links[capability] = link
		}
		if item.Share.ExpiresAt != nil {
			expiry := *item.Share.ExpiresAt
			share.ExpiresAt = &expiry
		}
		if item.Share.PasswordHash != nil {
			hash := *item.Share.PasswordHash
			share.PasswordHash = &hash
		}
		out.Share = &share
	}
	return out
}

func (s *MemoryStore) InsertDocument(ctx context.Context, item Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	item.CreatedAt = now
	item.UpdatedAt = now
	if item.Collaborators == nil {
		item.Collaborators = make(map[string]string)
	}
	if item.Tags == nil {
		item.Tags = []string{}
	}
	stored := cloneDocument(&item)
	s.documents[item.ID] = &stored
	return nil
}

func (s *MemoryStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.documents[documentID]
	if !ok {
		return Document{}, ErrNotFound
	}
	return cloneDocument(item), nil
}

func (s *MemoryStore) ListDocumentsForUser(ctx context.Context, userID string) ([]Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]Document, 0)
	for _, item := range s.documents {
		if item.OwnerID == userID {
			items = append(items, cloneDocument(item))
			continue
		}
		if _, ok := item.Collaborators[userID]; ok {
			items = append(items, cloneDocument(item))
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].UpdatedAt.After(items[j].UpdatedAt) })
	return items, nil
}

func (s *MemoryStore) UpdateDocument(ctx context.Context, item Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.documents[item.ID]
	if !ok {
		return ErrNotFound
	}
	existing.Title = item.Title
	existing.Content = item.Content
	existing.Folder = item.Folder
	existing.Status = item.Status
	existing.Tags = append([]string(nil), item.Tags...)
	existing.WordCount = item.WordCount
	existing.CharacterCount = item.CharacterCount
	existing.LastEditedBy = item.LastEditedBy
	existing.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) DeleteDocument(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.documents[documentID]
	if !ok {
		return ErrNotFound
	}
	if item.Share != nil {
		for _, link := range item.Share.Links {
			delete(s.tokens, link.Token)
		}
	}
	delete(s.documents, documentID)
	delete(s.versions, documentID)
	return nil
}

func (s *MemoryStore) SetCollaborator(ctx context.Context, documentID, userID, capability string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.documents[documentID]
	if !ok {
		return ErrNotFound
	}
	item.Collaborators[userID] = capability
	return nil
}

func (s *MemoryStore) RemoveCollaborator(ctx context.Context, documentID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.documents[documentID]
	if !ok {
		return ErrNotFound
	}
	delete(item.Collaborators, userID)
	return nil
}

func (s *MemoryStore) UpsertShareSettings(ctx context.Context, documentID string, share ShareSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.documents[documentID]
	if !ok {
		return ErrNotFound
	}
	links := make(map[string]PermissionLink)
	if item.Share != nil {
		links = item.Share.Links
	}
	share.Links = links
	item.Share = &share
	return nil
}

func (s *MemoryStore) InsertPermissionLink(ctx context.Context, link PermissionLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.documents[link.DocumentID]
	if !ok {
		return ErrNotFound
	}
	if _, exists := s.tokens[link.Token]; exists {
		return ErrTokenExists
	}
	if item.Share == nil {
		item.Share = &ShareSettings{Links: make(map[string]PermissionLink)}
	}
	if _, exists := item.Share.Links[link.Capability]; exists {
		return ErrLinkExists
	}
	link.CreatedAt = time.Now()
	item.Share.Links[link.Capability] = link
	s.tokens[link.Token] = link.DocumentID
	return nil
}

func (s *MemoryStore) ClearSharing(ctx context.Context, documentID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.documents[documentID]
	if !ok {
		return nil, ErrNotFound
	}
	tokens := make([]string, 0)
	if item.Share != nil {
		for _, link := range item.Share.Links {
			tokens = append(tokens, link.Token)
			delete(s.tokens, link.Token)
		}
	}
	item.Share = nil
	return tokens, nil
}

func (s *MemoryStore) GetDocumentByToken(ctx context.Context, token string) (Document, PermissionLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	documentID, ok := s.tokens[token]
	if !ok {
		return Document{}, PermissionLink{}, ErrNotFound
	}
	item, ok := s.documents[documentID]
	if !ok || item.Share == nil {
		return Document{}, PermissionLink{}, ErrNotFound
	}
	for _, link := range item.Share.Links {
		if link.Token == token {
			return cloneDocument(item), link, nil
		}
	}
	return Document{}, PermissionLink{}, ErrNotFound
}

func (s *MemoryStore) InsertVersion(ctx context.Context, version Version) (Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.documents[version.DocumentID]; !ok {
		return Version{}, ErrNotFound
	}
	chain := s.versions[version.DocumentID]
	version.Number = len(chain) + 1
	version.CreatedAt = time.Now()
	s.versions[version.DocumentID] = append(chain, version)
	return version, nil
}

func (s *MemoryStore) ListVersions(ctx context.Context, documentID string, limit, offset int) ([]Version, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chain := s.versions[documentID]
	total := len(chain)

	// Newest first.
	items := make([]Version, 0, limit)
	for i := total - 1 - offset; i >= 0 && len(items) < limit; i-- {
		items = append(items, chain[i])
	}
	return items, total, nil
}

func (s *MemoryStore) GetVersion(ctx context.Context, documentID, versionID string) (Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, version := range s.versions[documentID] {
		if version.ID == versionID {
			return version, nil
		}
	}
	return Version{}, ErrNotFound
}

package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MalithRanasinghe16/SyncDoc/internal/access"
	"github.com/MalithRanasinghe16/SyncDoc/internal/store"
	"github.com/google/uuid"
)

// versionInsertAttempts bounds the retry loop around version-number races.
const versionInsertAttempts = 3

// appendVersion snapshots the document into its version chain. Number
// assignment can race with a concurrent writer on the same document; the
// store reports that as ErrVersionConflict and the insert is retried with a
// fresh number. The conflict never surfaces to callers.
func (s *Service) appendVersion(ctx context.Context, doc store.Document, actor access.Actor, description string, isAutoSave bool) (store.Version, error) {
	version := store.Version{
		DocumentID: doc.ID,
		Title:      doc.Title,
		Content:    doc.Content,
		AuthorID:   actor.UserID,
		AuthorName: actor.DisplayName,
		Desc:       description,
		IsAutoSave: isAutoSave,
	}

	var lastErr error
	for attempt := 0; attempt < versionInsertAttempts; attempt++ {
		version.ID = uuid.NewString()
		inserted, err := s.store.InsertVersion(ctx, version)
		if err == nil {
			return inserted, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return store.Version{}, fmt.Errorf("append version: %w", err)
		}
		lastErr = err
	}
	return store.Version{}, fmt.Errorf("append version for %s: %w", doc.ID, lastErr)
}

const (
	defaultVersionPageSize = 20
	maxVersionPageSize     = 100
)

func (s *Service) ListVersions(ctx context.Context, documentID string, page, pageSize int, actor access.Actor) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFound("Document not found")
	}
	if err != nil {
		return nil, err
	}
	if !access.Evaluate(doc, actor, access.CapabilityRead, time.Now()) {
		return nil, accessDenied()
	}

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultVersionPageSize
	}
	if pageSize > maxVersionPageSize {
		pageSize = maxVersionPageSize
	}

	versions, total, err := s.store.ListVersions(ctx, documentID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}

	items := make([]map[string]any, len(versions))
	for i, version := range versions {
		items[i] = formatVersion(version)
	}
	pageCount := (total + pageSize - 1) / pageSize
	return map[string]any{
		"versions":  items,
		"total":     total,
		"page":      page,
		"pageSize":  pageSize,
		"pageCount": pageCount,
	}, nil
}

// RestoreVersion copies a snapshot's content and title back onto the live
// document and records the restore as a new version, so the act of
// restoring is itself visible in the history it restored from.
func (s *Service) RestoreVersion(ctx context.Context, documentID, versionID string, actor access.Actor) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFound("Document not found")
	}
	if err != nil {
		return nil, err
	}
	if !access.Evaluate(doc, actor, access.CapabilityWrite, time.Now()) {
		return nil, accessDenied()
	}

	version, err := s.store.GetVersion(ctx, documentID, versionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFound("Version not found")
	}
	if err != nil {
		return nil, err
	}

	doc.Content = version.Content
	doc.Title = version.Title
	doc.WordCount = countWords(doc.Content)
	doc.CharacterCount = countCharacters(doc.Content)
	doc.LastEditedBy = actor.UserID

	if err := s.store.UpdateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("restore document: %w", err)
	}

	recorded, err := s.appendVersion(ctx, doc, actor, fmt.Sprintf("restored from version %d", version.Number), false)
	if err != nil {
		return nil, err
	}

	restored, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("reload document: %w", err)
	}
	return map[string]any{
		"document":        formatDocument(restored, actor),
		"restoredFrom":    formatVersion(version),
		"recordedVersion": formatVersion(recorded),
	}, nil
}

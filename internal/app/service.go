package app

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/MalithRanasinghe16/SyncDoc/internal/access"
	"github.com/MalithRanasinghe16/SyncDoc/internal/config"
	"github.com/MalithRanasinghe16/SyncDoc/internal/store"
	"github.com/MalithRanasinghe16/SyncDoc/internal/tokencache"
	"github.com/MalithRanasinghe16/SyncDoc/internal/util"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/microcosm-cc/bluemonday"
)

type dataStore interface {
	InsertDocument(context.Context, store.Document) error
	GetDocument(context.Context, string) (store.Document, error)
	ListDocumentsForUser(context.Context, string) ([]store.Document, error)
	UpdateDocument(context.Context, store.Document) error
	DeleteDocument(context.Context, string) error
	SetCollaborator(context.Context, string, string, string) error
	RemoveCollaborator(context.Context, string, string) error
	UpsertShareSettings(context.Context, string, store.ShareSettings) error
	InsertPermissionLink(context.Context, store.PermissionLink) error
	ClearSharing(context.Context, string) ([]string, error)
	GetDocumentByToken(context.Context, string) (store.Document, store.PermissionLink, error)
	InsertVersion(context.Context, store.Version) (store.Version, error)
	ListVersions(context.Context, string, int, int) ([]store.Version, int, error)
	GetVersion(context.Context, string, string) (store.Version, error)
	Ping(ctx context.Context) error
}

type tokenCache interface {
	Get(context.Context, string) (tokencache.Entry, bool, error)
	Put(context.Context, string, tokencache.Entry) error
	Delete(context.Context, ...string) error
	Ping(context.Context) error
}

type Service struct {
	cfg   config.Config
	store dataStore
	cache tokenCache
}

func New(cfg config.Config, dataStore dataStore) *Service {
	return &Service{cfg: cfg, store: dataStore}
}

// NewWithTokenCache attaches a Redis share-token cache; the store remains
// authoritative and every hit is re-verified against live share state.
func NewWithTokenCache(cfg config.Config, dataStore dataStore, cache tokenCache) *Service {
	return &Service{cfg: cfg, store: dataStore, cache: cache}
}

// Ping reports readiness of the store and, when configured, the token cache.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return err
	}
	if s.cache != nil {
		return s.cache.Ping(ctx)
	}
	return nil
}

func (s *Service) mintToken() string {
	length := s.cfg.ShareTokenLength
	if length <= 0 {
		length = 32
	}
	return util.NewShareToken(length)
}

var documentStatuses = []any{"draft", "published", "archived"}

type CreateDocumentInput struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Folder  string   `json:"folder"`
	Status  string   `json:"status"`
	Tags    []string `json:"tags"`
}

func (in CreateDocumentInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Title, validation.Required, validation.Length(1, 200)),
		validation.Field(&in.Status, validation.In(documentStatuses...)),
	)
}

type UpdateDocumentInput struct {
	Title   *string   `json:"title"`
	Content *string   `json:"content"`
	Folder  *string   `json:"folder"`
	Status  *string   `json:"status"`
	Tags    *[]string `json:"tags"`
}

func (in UpdateDocumentInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Title, validation.Length(1, 200)),
		validation.Field(&in.Status, validation.In(documentStatuses...)),
	)
}

// markupPolicy strips every tag; the engine never interprets markup beyond
// reducing content to plain text for the derived counts.
var markupPolicy = bluemonday.StrictPolicy()

func plainText(content string) string {
	return strings.TrimSpace(html.UnescapeString(markupPolicy.Sanitize(content)))
}

func countWords(content string) int {
	return len(strings.Fields(plainText(content)))
}

func countCharacters(content string) int {
	return len([]rune(plainText(content)))
}

func (s *Service) CreateDocument(ctx context.Context, input CreateDocumentInput, actor access.Actor) (map[string]any, error) {
	if actor.Anonymous() {
		return nil, accessDenied()
	}
	if err := input.Validate(); err != nil {
		return nil, validationError(err)
	}

	status := input.Status
	if status == "" {
		status = "draft"
	}
	doc := store.Document{
		ID:             util.NewID("doc"),
		Title:          input.Title,
		Content:        input.Content,
		Folder:         input.Folder,
		Status:         status,
		Tags:           dedupeTags(input.Tags),
		OwnerID:        actor.UserID,
		Collaborators:  map[string]string{},
		WordCount:      countWords(input.Content),
		CharacterCount: countCharacters(input.Content),
		LastEditedBy:   actor.UserID,
	}
	if err := s.store.InsertDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("insert document: %w", err)
	}

	// The initial snapshot exists even for empty content.
	if _, err := s.appendVersion(ctx, doc, actor, "document created", false); err != nil {
		return nil, err
	}

	created, err := s.store.GetDocument(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("reload document: %w", err)
	}
	return formatDocument(created, actor), nil
}

func (s *Service) GetDocument(ctx context.Context, documentID string, actor access.Actor) (map[string]any, error) {
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
	return formatDocument(doc, actor), nil
}

func (s *Service) ListDocuments(ctx context.Context, actor access.Actor) ([]map[string]any, error) {
	if actor.Anonymous() {
		return nil, accessDenied()
	}
	docs, err := s.store.ListDocumentsForUser(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, len(docs))
	for i, doc := range docs {
		items[i] = formatDocument(doc, actor)
	}
	return items, nil
}

// UpdateDocument applies a partial update. Content and title edits require
// write capability; a byte-for-byte content change appends an auto-save
// version, while metadata-only changes leave the history untouched.
func (s *Service) UpdateDocument(ctx context.Context, documentID string, input UpdateDocumentInput, actor access.Actor) (map[string]any, error) {
	if err := input.Validate(); err != nil {
		return nil, validationError(err)
	}

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

	contentChanged := false
	if input.Content != nil && *input.Content != doc.Content {
		doc.Content = *input.Content
		doc.WordCount = countWords(doc.Content)
		doc.CharacterCount = countCharacters(doc.Content)
		contentChanged = true
	}
	if input.Title != nil {
		doc.Title = *input.Title
	}
	if input.Folder != nil {
		doc.Folder = *input.Folder
	}
	if input.Status != nil {
		doc.Status = *input.Status
	}
	if input.Tags != nil {
		doc.Tags = dedupeTags(*input.Tags)
	}
	doc.LastEditedBy = actor.UserID

	if err := s.store.UpdateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("update document: %w", err)
	}

	if contentChanged {
		if _, err := s.appendVersion(ctx, doc, actor, "content updated", true); err != nil {
			return nil, err
		}
	}

	updated, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("reload document: %w", err)
	}
	return formatDocument(updated, actor), nil
}

// DeleteDocument removes a document along with its versions and share links.
// Only the owner may delete.
func (s *Service) DeleteDocument(ctx context.Context, documentID string, actor access.Actor) error {
	doc, err := s.store.GetDocument(ctx, documentID)
	if errors.Is(err, store.ErrNotFound) {
		return notFound("Document not found")
	}
	if err != nil {
		return err
	}
	if actor.UserID == "" || actor.UserID != doc.OwnerID {
		return accessDenied()
	}

	tokens := []string{}
	if doc.Share != nil {
		for _, link := range doc.Share.Links {
			tokens = append(tokens, link.Token)
		}
	}
	if err := s.store.DeleteDocument(ctx, documentID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	s.evictTokens(ctx, tokens)
	return nil
}

func (s *Service) SetCollaborator(ctx context.Context, documentID, userID, capability string, actor access.Actor) error {
	// Comment is a link-only capability; collaborators get read, write, or
	// admin.
	granted := access.Capability(capability)
	if !access.Valid(granted) || granted == access.CapabilityComment {
		return validationError(fmt.Errorf("capability must be one of read, write, admin"))
	}

	doc, err := s.store.GetDocument(ctx, documentID)
	if errors.Is(err, store.ErrNotFound) {
		return notFound("Document not found")
	}
	if err != nil {
		return err
	}
	if !access.Evaluate(doc, actor, access.CapabilityAdmin, time.Now()) {
		return accessDenied()
	}
	if userID == doc.OwnerID {
		return validationError(fmt.Errorf("the owner cannot be added as a collaborator"))
	}

	if err := s.store.SetCollaborator(ctx, documentID, userID, capability); err != nil {
		return fmt.Errorf("set collaborator: %w", err)
	}
	return nil
}

func (s *Service) RemoveCollaborator(ctx context.Context, documentID, userID string, actor access.Actor) error {
	doc, err := s.store.GetDocument(ctx, documentID)
	if errors.Is(err, store.ErrNotFound) {
		return notFound("Document not found")
	}
	if err != nil {
		return err
	}
	if !access.Evaluate(doc, actor, access.CapabilityAdmin, time.Now()) {
		return accessDenied()
	}

	if err := s.store.RemoveCollaborator(ctx, documentID, userID); err != nil {
		return fmt.Errorf("remove collaborator: %w", err)
	}
	return nil
}

func (s *Service) evictTokens(ctx context.Context, tokens []string) {
	if s.cache == nil || len(tokens) == 0 {
		return
	}
	// Eviction is best effort: a stale entry is re-verified against the
	// store before it grants anything.
	_ = s.cache.Delete(ctx, tokens...)
}

func dedupeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

func formatDocument(doc store.Document, actor access.Actor) map[string]any {
	item := map[string]any{
		"id":             doc.ID,
		"title":          doc.Title,
		"content":        doc.Content,
		"folder":         doc.Folder,
		"status":         doc.Status,
		"tags":           doc.Tags,
		"ownerId":        doc.OwnerID,
		"collaborators":  doc.Collaborators,
		"isShared":       doc.IsShared(),
		"wordCount":      doc.WordCount,
		"characterCount": doc.CharacterCount,
		"lastEditedBy":   doc.LastEditedBy,
		"createdAt":      doc.CreatedAt,
		"updatedAt":      doc.UpdatedAt,
	}
	if doc.Share != nil {
		// The link table is a set of bearer credentials. A reader who can
		// see the write token holds write, so only admin-level actors get
		// the tokens back.
		includeLinks := access.Evaluate(doc, actor, access.CapabilityAdmin, time.Now())
		item["shareSettings"] = formatShareSettings(doc.Share, includeLinks)
	}
	return item
}

func formatShareSettings(share *store.ShareSettings, includeLinks bool) map[string]any {
	item := map[string]any{
		"isPublic":          share.IsPublic,
		"allowComments":     share.AllowComments,
		"allowDownload":     share.AllowDownload,
		"defaultPermission": share.DefaultPermission,
		"hasPassword":       share.PasswordHash != nil,
		"expiresAt":         share.ExpiresAt,
	}
	if includeLinks {
		links := make(map[string]any, len(share.Links))
		for capability, link := range share.Links {
			links[capability] = map[string]any{
				"token":     link.Token,
				"url":       link.URL,
				"createdAt": link.CreatedAt,
			}
		}
		item["permissionLinks"] = links
	}
	return item
}

func formatVersion(version store.Version) map[string]any {
	return map[string]any{
		"id":                version.ID,
		"documentId":        version.DocumentID,
		"versionNumber":     version.Number,
		"title":             version.Title,
		"content":           version.Content,
		"authorId":          version.AuthorID,
		"authorName":        version.AuthorName,
		"changeDescription": version.Desc,
		"isAutoSave":        version.IsAutoSave,
		"createdAt":         version.CreatedAt,
	}
}

// parseRFC3339 parses a time string in RFC3339 format, tolerating the
// milliseconds JavaScript's Date.toISOString() emits.
func parseRFC3339(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, s)
	}
	return t, err
}

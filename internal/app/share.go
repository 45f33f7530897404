package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MalithRanasinghe16/SyncDoc/internal/access"
	"github.com/MalithRanasinghe16/SyncDoc/internal/store"
	"github.com/MalithRanasinghe16/SyncDoc/internal/tokencache"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"golang.org/x/crypto/bcrypt"
)

type IssueShareLinkInput struct {
	Capability    string  `json:"capability"`
	AllowComments *bool   `json:"allowComments"`
	AllowDownload *bool   `json:"allowDownload"`
	ExpiresAt     *string `json:"expiresAt"`
	Password      *string `json:"password"`
}

func (in IssueShareLinkInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Capability, validation.Required),
	)
}

type UpdateShareSettingsInput struct {
	IsPublic          *bool   `json:"isPublic"`
	AllowComments     *bool   `json:"allowComments"`
	AllowDownload     *bool   `json:"allowDownload"`
	DefaultPermission *string `json:"defaultPermission"`
	ExpiresAt         *string `json:"expiresAt"`
	Password          *string `json:"password"`
}

// IssueShareLink mints a capability-scoped anonymous link for a document.
// Issuance is idempotent per (document, capability): a live link is returned
// unchanged, however many times it is requested.
func (s *Service) IssueShareLink(ctx context.Context, documentID string, input IssueShareLinkInput, actor access.Actor) (map[string]any, error) {
	if err := input.Validate(); err != nil {
		return nil, validationError(err)
	}
	capability := access.Capability(input.Capability)
	if !access.Linkable(capability) {
		return nil, invalidCapability(input.Capability)
	}

	doc, err := s.store.GetDocument(ctx, documentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFound("Document not found")
	}
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if !access.Evaluate(doc, actor, access.CapabilityAdmin, now) {
		return nil, accessDenied()
	}

	if doc.Share != nil && !shareExpired(doc.Share, now) {
		if link, ok := doc.Share.Links[string(capability)]; ok {
			return formatLink(link), nil
		}
	}

	// An expired share is dead: its links must never come back to life, so
	// reinitializing starts from a clean slate instead of tripping over the
	// stale rows and returning their tokens.
	if doc.Share != nil && shareExpired(doc.Share, now) {
		tokens, err := s.store.ClearSharing(ctx, documentID)
		if err != nil {
			return nil, fmt.Errorf("clear expired share: %w", err)
		}
		s.evictTokens(ctx, tokens)
		doc.Share = nil
	}

	if doc.Share == nil {
		share, err := buildShareSettings(input)
		if err != nil {
			return nil, err
		}
		if err := s.store.UpsertShareSettings(ctx, documentID, share); err != nil {
			return nil, fmt.Errorf("initialize share settings: %w", err)
		}
	}

	token := s.mintToken()
	link := store.PermissionLink{
		DocumentID: documentID,
		Capability: string(capability),
		Token:      token,
		URL:        s.cfg.PublicBaseURL + "/share/" + token,
	}
	switch err := s.store.InsertPermissionLink(ctx, link); {
	case err == nil:
	case errors.Is(err, store.ErrLinkExists):
		// Lost an issuance race; the winner's link is the idempotent result.
		refreshed, err := s.store.GetDocument(ctx, documentID)
		if err != nil {
			return nil, fmt.Errorf("reload document: %w", err)
		}
		if refreshed.Share != nil {
			if existing, ok := refreshed.Share.Links[string(capability)]; ok {
				return formatLink(existing), nil
			}
		}
		return nil, fmt.Errorf("issue share link for %s: link table inconsistent", documentID)
	case errors.Is(err, store.ErrTokenExists):
		// Global token collision. Surfaced, not silently re-minted.
		return nil, fmt.Errorf("issue share link for %s: %w", documentID, err)
	default:
		return nil, fmt.Errorf("issue share link: %w", err)
	}

	if s.cache != nil {
		_ = s.cache.Put(ctx, token, tokencache.Entry{DocumentID: documentID, Capability: string(capability)})
	}
	return formatLink(link), nil
}

func buildShareSettings(input IssueShareLinkInput) (store.ShareSettings, error) {
	share := store.ShareSettings{
		AllowComments:     true,
		AllowDownload:     true,
		DefaultPermission: string(access.CapabilityRead),
	}
	if input.AllowComments != nil {
		share.AllowComments = *input.AllowComments
	}
	if input.AllowDownload != nil {
		share.AllowDownload = *input.AllowDownload
	}
	if input.ExpiresAt != nil && *input.ExpiresAt != "" {
		expiry, err := parseRFC3339(*input.ExpiresAt)
		if err != nil {
			return store.ShareSettings{}, validationError(fmt.Errorf("invalid expiresAt format"))
		}
		share.ExpiresAt = &expiry
	}
	if input.Password != nil && *input.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(*input.Password), bcrypt.DefaultCost)
		if err != nil {
			return store.ShareSettings{}, fmt.Errorf("hash link password: %w", err)
		}
		hashStr := string(hash)
		share.PasswordHash = &hashStr
	}
	return share, nil
}

// UpdateShareSettings changes sharing options in place without touching the
// minted links. Updating an unshared document is an error.
func (s *Service) UpdateShareSettings(ctx context.Context, documentID string, input UpdateShareSettingsInput, actor access.Actor) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFound("Document not found")
	}
	if err != nil {
		return nil, err
	}
	if !access.Evaluate(doc, actor, access.CapabilityAdmin, time.Now()) {
		return nil, accessDenied()
	}
	if doc.Share == nil {
		return nil, notShared()
	}

	share := *doc.Share
	if input.IsPublic != nil {
		share.IsPublic = *input.IsPublic
	}
	if input.AllowComments != nil {
		share.AllowComments = *input.AllowComments
	}
	if input.AllowDownload != nil {
		share.AllowDownload = *input.AllowDownload
	}
	if input.DefaultPermission != nil {
		capability := access.Capability(*input.DefaultPermission)
		if !access.Linkable(capability) {
			return nil, invalidCapability(*input.DefaultPermission)
		}
		share.DefaultPermission = string(capability)
	}
	if input.ExpiresAt != nil {
		if *input.ExpiresAt == "" {
			share.ExpiresAt = nil
		} else {
			expiry, err := parseRFC3339(*input.ExpiresAt)
			if err != nil {
				return nil, validationError(fmt.Errorf("invalid expiresAt format"))
			}
			share.ExpiresAt = &expiry
		}
	}
	if input.Password != nil {
		if *input.Password == "" {
			share.PasswordHash = nil
		} else {
			hash, err := bcrypt.GenerateFromPassword([]byte(*input.Password), bcrypt.DefaultCost)
			if err != nil {
				return nil, fmt.Errorf("hash link password: %w", err)
			}
			hashStr := string(hash)
			share.PasswordHash = &hashStr
		}
	}

	if err := s.store.UpsertShareSettings(ctx, documentID, share); err != nil {
		return nil, fmt.Errorf("update share settings: %w", err)
	}
	// The caller already evaluated at admin, so the link table stays visible.
	return formatShareSettings(&share, true), nil
}

// RevokeSharing clears share settings and all permission links in one
// atomic step. Partial revocation of a single capability is deliberately
// unsupported. Revoking an unshared document is a no-op.
func (s *Service) RevokeSharing(ctx context.Context, documentID string, actor access.Actor) error {
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

	tokens, err := s.store.ClearSharing(ctx, documentID)
	if err != nil {
		return fmt.Errorf("clear sharing: %w", err)
	}
	s.evictTokens(ctx, tokens)
	return nil
}

// ResolveShareToken maps a bearer token to its document and the capability
// it was minted for. A missing link is TOKEN_NOT_FOUND; a link whose
// document expiry has passed is TOKEN_EXPIRED, even though the row still
// exists — callers render the two differently.
func (s *Service) ResolveShareToken(ctx context.Context, token, password string) (map[string]any, error) {
	doc, link, ok, err := s.lookupToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if !ok || doc.Share == nil {
		return nil, tokenNotFound()
	}
	if shareExpired(doc.Share, time.Now()) {
		return nil, tokenExpired()
	}
	if doc.Share.PasswordHash != nil {
		if bcrypt.CompareHashAndPassword([]byte(*doc.Share.PasswordHash), []byte(password)) != nil {
			return nil, linkPasswordRequired()
		}
	}

	if s.cache != nil {
		_ = s.cache.Put(ctx, token, tokencache.Entry{DocumentID: doc.ID, Capability: link.Capability})
	}
	return map[string]any{
		"document":      formatDocument(doc, access.Actor{Token: token}),
		"capability":    link.Capability,
		"allowComments": doc.Share.AllowComments,
		"allowDownload": doc.Share.AllowDownload,
	}, nil
}

// lookupToken consults the cache first, falling back to the store. A cache
// hit is only trusted when the link still exists in the document's live
// share state.
func (s *Service) lookupToken(ctx context.Context, token string) (store.Document, store.PermissionLink, bool, error) {
	if s.cache != nil {
		if entry, hit, err := s.cache.Get(ctx, token); err == nil && hit {
			doc, err := s.store.GetDocument(ctx, entry.DocumentID)
			if err == nil && doc.Share != nil {
				if link, ok := doc.Share.Links[entry.Capability]; ok && link.Token == token {
					return doc, link, true, nil
				}
			}
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return store.Document{}, store.PermissionLink{}, false, err
			}
			// Stale entry; evict and fall through to the store.
			_ = s.cache.Delete(ctx, token)
		}
	}

	doc, link, err := s.store.GetDocumentByToken(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return store.Document{}, store.PermissionLink{}, false, nil
	}
	if err != nil {
		return store.Document{}, store.PermissionLink{}, false, err
	}
	return doc, link, true, nil
}

func shareExpired(share *store.ShareSettings, now time.Time) bool {
	return share.ExpiresAt != nil && now.After(*share.ExpiresAt)
}

func formatLink(link store.PermissionLink) map[string]any {
	return map[string]any{
		"documentId": link.DocumentID,
		"capability": link.Capability,
		"token":      link.Token,
		"url":        link.URL,
		"createdAt":  link.CreatedAt,
	}
}

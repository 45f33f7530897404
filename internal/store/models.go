package store

import "time"

type Document struct {
	ID             string
	Title          string
	Content        string
	Folder         string
	Status         string
	Tags           []string
	OwnerID        string
	Collaborators  map[string]string
	Share          *ShareSettings
	WordCount      int
	CharacterCount int
	LastEditedBy   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsShared reports whether the document is visible to anyone besides its
// owner, either through named collaborators or anonymous share links.
func (d Document) IsShared() bool {
	return len(d.Collaborators) > 0 || d.Share != nil
}

// ShareSettings is the anonymous-sharing aggregate. A document with a nil
// Share pointer is unshared; a stale cached token must not grant access.
type ShareSettings struct {
	IsPublic          bool
	AllowComments     bool
	AllowDownload     bool
	DefaultPermission string
	PasswordHash      *string
	ExpiresAt         *time.Time
	// Links maps capability -> link, at most one entry per capability.
	Links map[string]PermissionLink
}

type PermissionLink struct {
	DocumentID string
	Capability string
	Token      string
	URL        string
	CreatedAt  time.Time
}

type Version struct {
	ID         string
	DocumentID string
	Number     int
	Title      string
	Content    string
	AuthorID   string
	AuthorName string
	Desc       string
	IsAutoSave bool
	CreatedAt  time.Time
}

package store

import "errors"

var (
	// ErrNotFound is returned when a document, version, or share token has
	// no matching row.
	ErrNotFound = errors.New("store: not found")

	// ErrVersionConflict signals that a concurrent writer claimed the same
	// version number first. Callers retry; it never reaches a user.
	ErrVersionConflict = errors.New("store: version number conflict")

	// ErrLinkExists is returned when a permission link already exists for a
	// (document, capability) pair. The issuance path treats it as "lost the
	// race" and re-reads the winner's link.
	ErrLinkExists = errors.New("store: permission link already exists")

	// ErrTokenExists signals a global share-token collision. Tokens are 32
	// random characters, so a collision is treated as a hard error rather
	// than silently re-minted.
	ErrTokenExists = errors.New("store: share token already exists")
)

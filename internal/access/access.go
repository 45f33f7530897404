// Package access holds the capability hierarchy and the single predicate
// deciding whether an actor may perform an operation on a document. Every
// call site goes through Evaluate so owner, collaborator, and share-token
// paths enforce identical rules.
package access

import (
	"time"

	"github.com/MalithRanasinghe16/SyncDoc/internal/store"
	"golang.org/x/crypto/bcrypt"
)

type Capability string

const (
	CapabilityRead    Capability = "read"
	CapabilityComment Capability = "comment"
	CapabilityWrite   Capability = "write"
	CapabilityAdmin   Capability = "admin"
)

var ranks = map[Capability]int{
	CapabilityRead:    1,
	CapabilityComment: 2,
	CapabilityWrite:   3,
	CapabilityAdmin:   4,
}

// Rank returns the position of a capability in the total order, or 0 for an
// unknown capability so that it satisfies nothing.
func Rank(capability Capability) int {
	return ranks[capability]
}

func Valid(capability Capability) bool {
	_, ok := ranks[capability]
	return ok
}

// Linkable reports whether a capability may back an anonymous share link.
// Owners hold admin implicitly; admin links are never minted.
func Linkable(capability Capability) bool {
	return capability == CapabilityRead || capability == CapabilityComment || capability == CapabilityWrite
}

func Satisfies(granted, required Capability) bool {
	grantedRank := Rank(granted)
	return grantedRank > 0 && grantedRank >= Rank(required)
}

// Actor identifies the caller of an operation: a signed-in user (UserID), an
// anonymous bearer of a share token (Token, plus LinkPassword when the link
// is password protected), or both.
type Actor struct {
	UserID       string
	DisplayName  string
	Token        string
	LinkPassword string
}

func (a Actor) Anonymous() bool {
	return a.UserID == ""
}

// Evaluate decides whether the actor may perform an operation requiring the
// given capability on the document. Pure; failure is a denial, never an
// error. Priority order: ownership, collaborator grant, share token, public
// default read.
func Evaluate(doc store.Document, actor Actor, required Capability, now time.Time) bool {
	if actor.UserID != "" && actor.UserID == doc.OwnerID {
		return true
	}

	if actor.UserID != "" {
		if granted, ok := doc.Collaborators[actor.UserID]; ok {
			return Satisfies(Capability(granted), required)
		}
	}

	// Anonymous paths need live share settings; a token whose document has
	// been revoked is a plain denial.
	if doc.Share == nil || shareExpired(doc.Share, now) {
		return false
	}

	if actor.Token != "" {
		link, ok := matchLink(doc.Share, actor.Token)
		if !ok {
			return false
		}
		if doc.Share.PasswordHash != nil &&
			bcrypt.CompareHashAndPassword([]byte(*doc.Share.PasswordHash), []byte(actor.LinkPassword)) != nil {
			return false
		}
		return Satisfies(Capability(link.Capability), required)
	}

	if doc.Share.IsPublic && required == CapabilityRead {
		return Satisfies(Capability(doc.Share.DefaultPermission), CapabilityRead)
	}

	return false
}

func shareExpired(share *store.ShareSettings, now time.Time) bool {
	return share.ExpiresAt != nil && now.After(*share.ExpiresAt)
}

func matchLink(share *store.ShareSettings, token string) (store.PermissionLink, bool) {
	for _, link := range share.Links {
		if link.Token == token {
			return link, true
		}
	}
	return store.PermissionLink{}, false
}

package access

import (
	"testing"
	"time"

	"github.com/MalithRanasinghe16/SyncDoc/internal/store"
	"golang.org/x/crypto/bcrypt"
)

func TestSatisfies(t *testing.T) {
	levels := []Capability{CapabilityRead, CapabilityComment, CapabilityWrite}
	for _, granted := range levels {
		for _, required := range levels {
			want := Rank(granted) >= Rank(required)
			if got := Satisfies(granted, required); got != want {
				t.Fatalf("Satisfies(%q, %q) = %v, want %v", granted, required, got, want)
			}
		}
	}

	for _, required := range append(levels, CapabilityAdmin) {
		if !Satisfies(CapabilityAdmin, required) {
			t.Fatalf("admin should satisfy %q", required)
		}
	}

	if Satisfies("owner", CapabilityRead) {
		t.Fatal("unknown capability must satisfy nothing")
	}
}

func TestEvaluateOwner(t *testing.T) {
	doc := store.Document{ID: "doc_1", OwnerID: "alice"}
	for _, required := range []Capability{CapabilityRead, CapabilityComment, CapabilityWrite, CapabilityAdmin} {
		if !Evaluate(doc, Actor{UserID: "alice"}, required, time.Now()) {
			t.Fatalf("owner denied %q", required)
		}
	}
}

func TestEvaluateCollaborator(t *testing.T) {
	doc := store.Document{
		ID:      "doc_1",
		OwnerID: "alice",
		Collaborators: map[string]string{
			"bob":   "read",
			"carol": "write",
			"dave":  "admin",
		},
	}
	now := time.Now()

	cases := []struct {
		name     string
		userID   string
		required Capability
		allow    bool
	}{
		{name: "reader read", userID: "bob", required: CapabilityRead, allow: true},
		{name: "reader write", userID: "bob", required: CapabilityWrite, allow: false},
		{name: "writer read", userID: "carol", required: CapabilityRead, allow: true},
		{name: "writer write", userID: "carol", required: CapabilityWrite, allow: true},
		{name: "writer admin", userID: "carol", required: CapabilityAdmin, allow: false},
		{name: "admin admin", userID: "dave", required: CapabilityAdmin, allow: true},
		{name: "stranger read", userID: "eve", required: CapabilityRead, allow: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Evaluate(doc, Actor{UserID: tc.userID}, tc.required, now); got != tc.allow {
				t.Fatalf("Evaluate(%s, %q) = %v, want %v", tc.userID, tc.required, got, tc.allow)
			}
		})
	}
}

func sharedDoc(expiresAt *time.Time) store.Document {
	return store.Document{
		ID:      "doc_1",
		OwnerID: "alice",
		Share: &store.ShareSettings{
			DefaultPermission: "read",
			ExpiresAt:         expiresAt,
			Links: map[string]store.PermissionLink{
				"read":  {DocumentID: "doc_1", Capability: "read", Token: "tok-read"},
				"write": {DocumentID: "doc_1", Capability: "write", Token: "tok-write"},
			},
		},
	}
}

func TestEvaluateShareToken(t *testing.T) {
	doc := sharedDoc(nil)
	now := time.Now()

	cases := []struct {
		name     string
		token    string
		required Capability
		allow    bool
	}{
		{name: "read token read", token: "tok-read", required: CapabilityRead, allow: true},
		{name: "read token write", token: "tok-read", required: CapabilityWrite, allow: false},
		{name: "write token read", token: "tok-write", required: CapabilityRead, allow: true},
		{name: "write token write", token: "tok-write", required: CapabilityWrite, allow: true},
		{name: "write token admin", token: "tok-write", required: CapabilityAdmin, allow: false},
		{name: "unknown token", token: "tok-nope", required: CapabilityRead, allow: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Evaluate(doc, Actor{Token: tc.token}, tc.required, now); got != tc.allow {
				t.Fatalf("Evaluate(token=%s, %q) = %v, want %v", tc.token, tc.required, got, tc.allow)
			}
		})
	}
}

func TestEvaluateExpiredShare(t *testing.T) {
	yesterday := time.Now().Add(-24 * time.Hour)
	doc := sharedDoc(&yesterday)

	if Evaluate(doc, Actor{Token: "tok-read"}, CapabilityRead, time.Now()) {
		t.Fatal("expired share must deny token bearers")
	}
}

func TestEvaluateRevokedShare(t *testing.T) {
	// The bearer still holds a syntactically valid token, but the document
	// has no share settings anymore: denial, not an error.
	doc := store.Document{ID: "doc_1", OwnerID: "alice"}
	if Evaluate(doc, Actor{Token: "tok-read"}, CapabilityRead, time.Now()) {
		t.Fatal("token against unshared document must be denied")
	}
}

func TestEvaluatePublicRead(t *testing.T) {
	doc := sharedDoc(nil)
	doc.Share.IsPublic = true
	now := time.Now()

	if !Evaluate(doc, Actor{}, CapabilityRead, now) {
		t.Fatal("public document should allow anonymous read")
	}
	if Evaluate(doc, Actor{}, CapabilityWrite, now) {
		t.Fatal("public default must never grant write")
	}

	doc.Share.IsPublic = false
	if Evaluate(doc, Actor{}, CapabilityRead, now) {
		t.Fatal("non-public share must not allow tokenless read")
	}
}

func TestEvaluatePasswordProtectedLink(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	hashStr := string(hash)
	doc := sharedDoc(nil)
	doc.Share.PasswordHash = &hashStr
	now := time.Now()

	if Evaluate(doc, Actor{Token: "tok-read"}, CapabilityRead, now) {
		t.Fatal("missing password should deny")
	}
	if Evaluate(doc, Actor{Token: "tok-read", LinkPassword: "wrong"}, CapabilityRead, now) {
		t.Fatal("wrong password should deny")
	}
	if !Evaluate(doc, Actor{Token: "tok-read", LinkPassword: "hunter2"}, CapabilityRead, now) {
		t.Fatal("correct password should grant")
	}
}

package chat

import (
	"context"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/docqa/docqa/internal/core"
	"github.com/docqa/docqa/internal/models"
)

func accessDocs(docs ...models.Document) *mockDB {
	return &mockDB{
		getDocumentsBySlugsFn: func(_ context.Context, slugs []string) ([]models.Document, error) {
			return docs, nil
		},
	}
}

func TestAccessPublicAllowsAnonymous(t *testing.T) {
	svc := NewAccessService(accessDocs(models.Document{Slug: "d", Active: true, AccessLevel: models.AccessPublic}))

	got, err := svc.HasAccess(context.Background(), []string{"d"}, "", "")
	if err != nil {
		t.Fatalf("HasAccess: %v", err)
	}
	if !got.Allowed {
		t.Errorf("decision = %+v", got)
	}
}

func TestAccessMissingOrInactiveIsNotFound(t *testing.T) {
	cases := []struct {
		name string
		db   *mockDB
	}{
		{"missing", accessDocs()},
		{"inactive", accessDocs(models.Document{Slug: "d", Active: false, AccessLevel: models.AccessPublic})},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := NewAccessService(tc.db)
			got, err := svc.HasAccess(context.Background(), []string{"d"}, "user-1", "")
			if err != nil {
				t.Fatalf("HasAccess: %v", err)
			}
			if got.Allowed || got.Reason != core.ReasonNotFound {
				t.Errorf("decision = %+v", got)
			}
		})
	}
}

func TestAccessPasscode(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("open sesame"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	doc := models.Document{Slug: "d", Active: true, AccessLevel: models.AccessPasscode, PasscodeHash: string(hash)}
	svc := NewAccessService(accessDocs(doc))

	cases := []struct {
		name     string
		passcode string
		allowed  bool
	}{
		{"missing", "", false},
		{"wrong", "guess", false},
		{"correct", "open sesame", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := svc.HasAccess(context.Background(), []string{"d"}, "", tc.passcode)
			if err != nil {
				t.Fatalf("HasAccess: %v", err)
			}
			if got.Allowed != tc.allowed {
				t.Errorf("decision = %+v", got)
			}
			if !tc.allowed && got.Reason != core.ReasonRequiresPasscode {
				t.Errorf("reason = %q", got.Reason)
			}
		})
	}
}

func TestAccessRegisteredNeedsAnyUser(t *testing.T) {
	svc := NewAccessService(accessDocs(models.Document{Slug: "d", Active: true, AccessLevel: models.AccessRegistered}))

	got, _ := svc.HasAccess(context.Background(), []string{"d"}, "", "")
	if got.Allowed || got.Reason != core.ReasonRequiresAuth {
		t.Errorf("anonymous decision = %+v", got)
	}

	got, _ = svc.HasAccess(context.Background(), []string{"d"}, "user-1", "")
	if !got.Allowed {
		t.Errorf("authenticated decision = %+v", got)
	}
}

func TestAccessOwnerRestricted(t *testing.T) {
	doc := models.Document{Slug: "d", Active: true, AccessLevel: models.AccessOwnerOnly, OwnerSlug: "acme"}

	roles := map[string]string{"member-1": "member", "admin-1": "admin"}
	db := accessDocs(doc)
	db.getUserOwnerRoleFn = func(_ context.Context, userID, ownerSlug string) (string, error) {
		if ownerSlug != "acme" {
			t.Fatalf("unexpected owner %q", ownerSlug)
		}
		return roles[userID], nil
	}
	svc := NewAccessService(db)

	cases := []struct {
		userID  string
		allowed bool
		reason  string
	}{
		{"", false, core.ReasonRequiresAuth},
		{"stranger", false, core.ReasonDenied},
		{"member-1", true, ""},
		{"admin-1", true, ""},
	}
	for _, tc := range cases {
		got, err := svc.HasAccess(context.Background(), []string{"d"}, tc.userID, "")
		if err != nil {
			t.Fatalf("HasAccess(%q): %v", tc.userID, err)
		}
		if got.Allowed != tc.allowed || got.Reason != tc.reason {
			t.Errorf("user %q: decision = %+v", tc.userID, got)
		}
	}
}

func TestAccessAdminOnlyRejectsMembers(t *testing.T) {
	doc := models.Document{Slug: "d", Active: true, AccessLevel: models.AccessOwnerAdminOnly, OwnerSlug: "acme"}
	db := accessDocs(doc)
	db.getUserOwnerRoleFn = func(_ context.Context, userID, _ string) (string, error) {
		if userID == "admin-1" {
			return "admin", nil
		}
		return "member", nil
	}
	svc := NewAccessService(db)

	got, _ := svc.HasAccess(context.Background(), []string{"d"}, "member-1", "")
	if got.Allowed || got.Reason != core.ReasonDenied {
		t.Errorf("member decision = %+v", got)
	}
	got, _ = svc.HasAccess(context.Background(), []string{"d"}, "admin-1", "")
	if !got.Allowed {
		t.Errorf("admin decision = %+v", got)
	}
}

func TestAccessStrictestDocumentGoverns(t *testing.T) {
	docs := []models.Document{
		{Slug: "open", Active: true, AccessLevel: models.AccessPublic},
		{Slug: "locked", Active: true, AccessLevel: models.AccessRegistered},
	}
	svc := NewAccessService(accessDocs(docs...))

	got, _ := svc.HasAccess(context.Background(), []string{"open", "locked"}, "", "")
	if got.Allowed || got.Reason != core.ReasonRequiresAuth {
		t.Errorf("decision = %+v", got)
	}
}

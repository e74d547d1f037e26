package chat

import (
	"context"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/docqa/docqa/internal/core"
	"github.com/docqa/docqa/internal/models"
)

// AccessService decides whether a (possibly anonymous) user may query a set of
// documents. The reason distinguishes "you need to log in" from "you are
// logged in but not entitled" so the caller can branch.
type AccessService struct {
	db core.DbClient
}

func NewAccessService(db core.DbClient) *AccessService {
	return &AccessService{db: db}
}

func (s *AccessService) HasAccess(ctx context.Context, slugs []string, userID, passcode string) (core.AccessDecision, error) {
	docs, err := s.db.GetDocumentsBySlugs(ctx, slugs)
	if err != nil {
		return core.AccessDecision{}, fmt.Errorf("load documents: %w", err)
	}

	bySlug := make(map[string]models.Document, len(docs))
	for _, doc := range docs {
		bySlug[doc.Slug] = doc
	}

	for _, slug := range slugs {
		doc, ok := bySlug[slug]
		if !ok || !doc.Active {
			return core.AccessDecision{Reason: core.ReasonNotFound}, nil
		}
		decision, err := s.checkOne(ctx, &doc, userID, passcode)
		if err != nil {
			return core.AccessDecision{}, err
		}
		if !decision.Allowed {
			return decision, nil
		}
	}
	return core.AccessDecision{Allowed: true}, nil
}

func (s *AccessService) checkOne(ctx context.Context, doc *models.Document, userID, passcode string) (core.AccessDecision, error) {
	switch doc.AccessLevel {
	case models.AccessPublic:
		return core.AccessDecision{Allowed: true}, nil

	case models.AccessPasscode:
		if passcode == "" {
			return core.AccessDecision{Reason: core.ReasonRequiresPasscode}, nil
		}
		if bcrypt.CompareHashAndPassword([]byte(doc.PasscodeHash), []byte(passcode)) != nil {
			return core.AccessDecision{Reason: core.ReasonRequiresPasscode}, nil
		}
		return core.AccessDecision{Allowed: true}, nil

	case models.AccessRegistered:
		if userID == "" {
			return core.AccessDecision{Reason: core.ReasonRequiresAuth}, nil
		}
		return core.AccessDecision{Allowed: true}, nil

	case models.AccessOwnerOnly, models.AccessOwnerAdminOnly:
		if userID == "" {
			return core.AccessDecision{Reason: core.ReasonRequiresAuth}, nil
		}
		if doc.OwnerSlug == "" {
			// Ownerless restricted documents are super-admin scope.
			return core.AccessDecision{Reason: core.ReasonDenied}, nil
		}
		role, err := s.db.GetUserOwnerRole(ctx, userID, doc.OwnerSlug)
		if err != nil {
			return core.AccessDecision{}, fmt.Errorf("owner role lookup: %w", err)
		}
		if role == "" {
			return core.AccessDecision{Reason: core.ReasonDenied}, nil
		}
		if doc.AccessLevel == models.AccessOwnerAdminOnly && role != "admin" {
			return core.AccessDecision{Reason: core.ReasonDenied}, nil
		}
		return core.AccessDecision{Allowed: true}, nil

	default:
		return core.AccessDecision{Reason: core.ReasonDenied}, nil
	}
}

var _ core.AccessDecider = (*AccessService)(nil)

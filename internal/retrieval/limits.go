package retrieval

import (
	"context"

	"github.com/docqa/docqa/internal/core"
	"github.com/docqa/docqa/internal/models"
)

// GlobalDefaultChunkLimit is the safe fallback when no single owner governs a
// query.
const GlobalDefaultChunkLimit = 50

// MaxChunkLimit caps any owner-configured limit.
const MaxChunkLimit = 200

// Limit resolution provenance, recorded in conversation metadata for audit.
const (
	LimitSourceOwner   = "owner"
	LimitSourceDefault = "default"
)

// LimitResolution is the resolved retrieval limit plus the owner context that
// produced it.
type LimitResolution struct {
	Limit       int
	Source      string
	OwnerSlug   string
	ForcedModel string
}

// ResolveChunkLimit computes the effective chunk limit for a set of queried
// documents: a single document uses its owner's default_chunk_limit; multiple
// documents use the common owner's limit only when every document shares that
// owner; mixed or absent ownership falls back to defaultLimit. This keeps
// mixed-tenant multi-document queries from over- or under-fetching.
// A non-positive defaultLimit means GlobalDefaultChunkLimit.
func ResolveChunkLimit(ctx context.Context, db core.DbClient, docs []models.Document, defaultLimit int) (*LimitResolution, error) {
	if defaultLimit <= 0 {
		defaultLimit = GlobalDefaultChunkLimit
	}
	if defaultLimit > MaxChunkLimit {
		defaultLimit = MaxChunkLimit
	}
	fallback := &LimitResolution{Limit: defaultLimit, Source: LimitSourceDefault}
	if len(docs) == 0 {
		return fallback, nil
	}

	ownerSlug := docs[0].OwnerSlug
	if ownerSlug == "" {
		return fallback, nil
	}
	for _, doc := range docs[1:] {
		if doc.OwnerSlug != ownerSlug {
			return fallback, nil
		}
	}

	owner, err := db.GetOwner(ctx, ownerSlug)
	if err != nil {
		return nil, err
	}
	if owner == nil {
		return fallback, nil
	}

	limit := owner.DefaultChunkLimit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > MaxChunkLimit {
		limit = MaxChunkLimit
	}
	return &LimitResolution{
		Limit:       limit,
		Source:      LimitSourceOwner,
		OwnerSlug:   owner.Slug,
		ForcedModel: owner.ForcedModel,
	}, nil
}

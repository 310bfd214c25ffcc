// Package identity follows merge aliases to the canonical identity of a record
package identity

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/errs"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/store"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// DefaultMaxDepth bounds alias chains
const DefaultMaxDepth = 16

type Resolver struct {
	aliases   store.AliasStore
	canonical store.CanonicalStore
	sources   store.SourceStore
	maxDepth  int
	logger    ectologger.Logger
}

func NewResolver(aliases store.AliasStore, canonical store.CanonicalStore, sources store.SourceStore, maxDepth int, logger ectologger.Logger) *Resolver {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Resolver{
		aliases:   aliases,
		canonical: canonical,
		sources:   sources,
		maxDepth:  maxDepth,
		logger:    logger,
	}
}

// Resolve returns the record ref currently standing for ref and its
// canonical contact. A record merged away several times resolves through
// every hop. Records never merged resolve to themselves.
func (r *Resolver) Resolve(ctx context.Context, ref models.EntityRef) (*models.Resolution, error) {
	ctx, span := tracing.StartSpan(ctx, "identity.Resolver.Resolve")
	defer span.End()

	res := &models.Resolution{Ref: ref, Canonical: ref, Path: []models.EntityRef{ref}}
	seen := map[models.EntityRef]bool{ref: true}

	var last *models.EntityAlias
	for depth := 0; ; depth++ {
		alias, err := r.aliases.Get(ctx, res.Canonical)
		if err != nil {
			return nil, err
		}
		if alias == nil {
			break
		}
		if depth >= r.maxDepth || seen[alias.Canonical] {
			r.logger.WithContext(ctx).WithFields(map[string]any{
				"ref":   ref.String(),
				"depth": depth,
				"next":  alias.Canonical.String(),
			}).Warn("Stopped following alias chain")
			break
		}
		last = alias
		seen[alias.Canonical] = true
		res.Canonical = alias.Canonical
		res.Path = append(res.Path, alias.Canonical)
	}

	contact, err := r.canonical.GetByRecord(ctx, res.Canonical)
	if err != nil {
		return nil, err
	}
	if contact == nil && last != nil {
		contact, err = r.canonical.Get(ctx, last.CanonicalContactID)
		if err != nil && !errs.IsNotFound(err) {
			return nil, err
		}
	}
	res.Contact = contact

	if contact == nil && last == nil {
		if _, err := r.sources.Get(ctx, ref, false); err != nil {
			return nil, err
		}
	}

	return res, nil
}

// Contact returns a canonical contact by id
func (r *Resolver) Contact(ctx context.Context, id string) (*models.CanonicalContact, error) {
	ctx, span := tracing.StartSpan(ctx, "identity.Resolver.Contact")
	defer span.End()

	return r.canonical.Get(ctx, id)
}

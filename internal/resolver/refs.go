package resolver

import (
	"context"
	"fmt"

	"github.com/rflorenc/content-migration-workbench/internal/models"
	"github.com/rflorenc/content-migration-workbench/internal/platform"
)

// Resolution holds the payload fields produced from a record's references.
type Resolution struct {
	// Fields maps payload field names to resolved identifiers: an int for
	// author fields, a []int for taxonomy fields.
	Fields map[string]interface{}
	// Warnings lists the non-critical references that were dropped.
	Warnings []string
}

// FieldFor returns the payload field a reference writes to.
func FieldFor(ref models.Reference) string {
	if ref.Field != "" {
		return ref.Field
	}
	if ref.Kind == models.RefAuthor {
		return "author"
	}
	if taxonomy, ok := ref.Kind.Taxonomy(); ok {
		return platform.TaxonomyBase(taxonomy)
	}
	return ""
}

// ResolveRefs resolves every author and taxonomy reference. Media
// references are left to the media rewriter. Critical references are
// resolved first, so a failed one fails the whole call before any
// non-critical referent is created; a failed non-critical reference is
// dropped with a warning.
func (r *Resolver) ResolveRefs(ctx context.Context, refs []models.Reference) (*Resolution, error) {
	ordered := make([]models.Reference, 0, len(refs))
	for _, ref := range refs {
		if ref.Critical {
			ordered = append(ordered, ref)
		}
	}
	for _, ref := range refs {
		if !ref.Critical {
			ordered = append(ordered, ref)
		}
	}

	res := &Resolution{Fields: make(map[string]interface{})}
	seen := make(map[string]map[int]bool)
	for _, ref := range ordered {
		if ref.Kind == models.RefMedia {
			continue
		}
		id, err := r.Resolve(ctx, ref.Kind, ref.Name)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if ref.Critical {
				return nil, fmt.Errorf("resolving %s %q: %w", ref.Kind, ref.Name, err)
			}
			r.logger.Warn("dropping unresolved reference", "kind", ref.Kind, "name", ref.Name, "error", err)
			res.Warnings = append(res.Warnings, fmt.Sprintf("dropped %s %q: %v", ref.Kind, ref.Name, err))
			continue
		}

		field := FieldFor(ref)
		if ref.Kind == models.RefAuthor {
			res.Fields[field] = id
			continue
		}
		if seen[field] == nil {
			seen[field] = make(map[int]bool)
		}
		if seen[field][id] {
			continue
		}
		seen[field][id] = true
		ids, _ := res.Fields[field].([]int)
		res.Fields[field] = append(ids, id)
	}
	return res, nil
}

package domain

import (
	"fmt"

	apperrors "github.com/szczecha/saleor/pkg/errors"
)

// MaxPredicateDepth bounds predicate tree nesting at validation time. Trees
// are decoded from JSON, so they are finite and acyclic by construction; the
// depth cap keeps evaluation cost predictable.
const MaxPredicateDepth = 16

// CatalogueItem is the snapshot of a product variant the predicate evaluator
// tests against, supplied by the product-catalog collaborator.
type CatalogueItem struct {
	ProductID     string   `json:"product_id"`
	VariantID     string   `json:"variant_id"`
	CategoryIDs   []string `json:"category_ids"`
	CollectionIDs []string `json:"collection_ids"`
}

// CataloguePredicate is a boolean expression over catalogue identity sets.
// Each node is exactly one of: an AND list, an OR list, a NOT child, or a
// single leaf condition (one of the four id sets).
//
// Vacuous combinators follow the usual convention and are easy to get wrong:
// an empty AND matches every item, an empty OR matches none.
type CataloguePredicate struct {
	And []CataloguePredicate `json:"and,omitempty"`
	Or  []CataloguePredicate `json:"or,omitempty"`
	Not *CataloguePredicate  `json:"not,omitempty"`

	ProductIDs    []string `json:"product_ids,omitempty"`
	CategoryIDs   []string `json:"category_ids,omitempty"`
	CollectionIDs []string `json:"collection_ids,omitempty"`
	VariantIDs    []string `json:"variant_ids,omitempty"`
}

// nodeKinds counts how many of the mutually exclusive node forms are set.
// JSON `"and": []` decodes to a non-nil empty slice, so an explicit empty
// combinator still counts as set.
func (p *CataloguePredicate) nodeKinds() int {
	n := 0
	if p.And != nil {
		n++
	}
	if p.Or != nil {
		n++
	}
	if p.Not != nil {
		n++
	}
	if p.ProductIDs != nil {
		n++
	}
	if p.CategoryIDs != nil {
		n++
	}
	if p.CollectionIDs != nil {
		n++
	}
	if p.VariantIDs != nil {
		n++
	}
	return n
}

// Validate rejects malformed trees at mutation time so evaluation never sees
// them: every node must have exactly one form, and nesting must stay within
// MaxPredicateDepth.
func (p *CataloguePredicate) Validate() error {
	return p.validate(1)
}

func (p *CataloguePredicate) validate(depth int) error {
	if depth > MaxPredicateDepth {
		return apperrors.InvalidInput(fmt.Sprintf("predicate tree exceeds maximum depth of %d", MaxPredicateDepth))
	}

	switch n := p.nodeKinds(); {
	case n == 0:
		return apperrors.InvalidInput("predicate node must set a combinator or exactly one condition")
	case n > 1:
		return apperrors.InvalidInput("predicate node must set only one of: and, or, not, or a single condition")
	}

	for i := range p.And {
		if err := p.And[i].validate(depth + 1); err != nil {
			return err
		}
	}
	for i := range p.Or {
		if err := p.Or[i].validate(depth + 1); err != nil {
			return err
		}
	}
	if p.Not != nil {
		return p.Not.validate(depth + 1)
	}
	return nil
}

// Matches reports whether the catalogue item satisfies the predicate. It is
// pure and deterministic. A malformed node yields an evaluation error;
// callers treat the item as non-matching (fail closed) rather than failing
// the whole pricing pass.
func (p *CataloguePredicate) Matches(item CatalogueItem) (bool, error) {
	switch n := p.nodeKinds(); {
	case n == 0:
		return false, apperrors.Evaluation("predicate node has no combinator or condition")
	case n > 1:
		return false, apperrors.Evaluation("predicate node has more than one form")
	}

	switch {
	case p.And != nil:
		// Empty AND is vacuously true.
		for i := range p.And {
			ok, err := p.And[i].Matches(item)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil

	case p.Or != nil:
		// Empty OR is vacuously false.
		for i := range p.Or {
			ok, err := p.Or[i].Matches(item)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case p.Not != nil:
		ok, err := p.Not.Matches(item)
		if err != nil {
			return false, err
		}
		return !ok, nil

	case p.ProductIDs != nil:
		return containsID(p.ProductIDs, item.ProductID), nil

	case p.VariantIDs != nil:
		return containsID(p.VariantIDs, item.VariantID), nil

	case p.CategoryIDs != nil:
		return anyOverlap(p.CategoryIDs, item.CategoryIDs), nil

	case p.CollectionIDs != nil:
		return anyOverlap(p.CollectionIDs, item.CollectionIDs), nil
	}

	return false, apperrors.Evaluation("unreachable predicate node form")
}

func containsID(set []string, id string) bool {
	if id == "" {
		return false
	}
	for _, s := range set {
		if s == id {
			return true
		}
	}
	return false
}

func anyOverlap(set, ids []string) bool {
	for _, id := range ids {
		if containsID(set, id) {
			return true
		}
	}
	return false
}

package qlc

import (
	"cmp"
	"context"
	"fmt"
	"slices"
)

// defaultClassLabel names unlabelled entities that have no classification.
const defaultClassLabel = "Widget"

// ClassifyFunc queries the controller for one entity's classification.
type ClassifyFunc func(ctx context.Context, e Entity) (string, error)

// EnrichResult summarises one EnrichClassification pass.
type EnrichResult struct {
	Classified int   // entities that received a non-empty classification
	Failed     int   // queries that returned an error or nothing usable
	Cancelled  bool  // the context was cancelled before all entities were visited
	LastErr    error // most recent classification error, if any
}

// BuildCatalog turns the pairs of a list reply into entities of the given
// kind, one per pair, preserving order. Classification starts empty.
func BuildCatalog(kind EntityKind, pairs []RawPair) []Entity {
	entities := make([]Entity, 0, len(pairs))
	for _, p := range pairs {
		entities = append(entities, Entity{
			ID:       p.ID,
			Kind:     kind,
			RawLabel: p.Label,
		})
	}
	return entities
}

// EnrichClassification queries each entity's classification in order.
//
// A failed or empty result leaves that entity's existing classification in
// place and the pass continues with the next entity. When ctx is cancelled
// no further queries are issued.
//
// Parameters:
//   - ctx: cancelled on disconnect
//   - entities: modified in place
//   - classify: performs the per-entity query
func EnrichClassification(ctx context.Context, entities []Entity, classify ClassifyFunc) EnrichResult {
	var res EnrichResult
	for i := range entities {
		if ctx.Err() != nil {
			res.Cancelled = true
			return res
		}

		class, err := classify(ctx, entities[i])
		if err != nil {
			res.Failed++
			res.LastErr = fmt.Errorf("%w: %s %s: %w", ErrClassificationFailed, entities[i].Kind, entities[i].ID, err)
			continue
		}
		if class == "" {
			res.Failed++
			continue
		}
		entities[i].Classification = class
		res.Classified++
	}
	return res
}

type labelKey struct {
	class string
	label string
}

// ComputeDisplayLabels derives every entity's DisplayLabel.
//
// Entities without a raw label become "<class> #<id>" ("Widget" standing in
// for an empty class). Others become "<class>: <label>" or just the label.
// When more than one entity shares a (classification, label) pair, the id
// is appended in brackets so each label is unique.
func ComputeDisplayLabels(entities []Entity) {
	counts := make(map[labelKey]int, len(entities))
	for _, e := range entities {
		counts[labelKey{e.Classification, e.RawLabel}]++
	}

	for i := range entities {
		e := &entities[i]
		var label string
		switch {
		case e.RawLabel == "":
			class := e.Classification
			if class == "" {
				class = defaultClassLabel
			}
			label = class + " #" + e.ID
		case e.Classification != "":
			label = e.Classification + ": " + e.RawLabel
		default:
			label = e.RawLabel
		}
		if counts[labelKey{e.Classification, e.RawLabel}] > 1 {
			label += " [" + e.ID + "]"
		}
		e.DisplayLabel = label
	}
}

// SortCatalog orders entities by classification then raw label, using
// ordinal string comparison. Unclassified entities sort after classified
// ones. The sort is stable, so applying it twice is a no-op.
func SortCatalog(entities []Entity) {
	slices.SortStableFunc(entities, func(a, b Entity) int {
		if (a.Classification == "") != (b.Classification == "") {
			if a.Classification == "" {
				return 1
			}
			return -1
		}
		return cmp.Or(
			cmp.Compare(a.Classification, b.Classification),
			cmp.Compare(a.RawLabel, b.RawLabel),
		)
	})
}

// reconcile runs display-label computation and ordering on one sequence.
func reconcile(entities []Entity) {
	ComputeDisplayLabels(entities)
	SortCatalog(entities)
}

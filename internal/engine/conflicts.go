package engine

import (
	"context"

	"github.com/dendritehq/dendrite/internal/store"
	"github.com/dendritehq/dendrite/internal/truth"
)

// detectConflicts inspects a freshly committed apply result and returns
// the kind and details of any conflicts it introduced. Reports come back
// without ids, recipients or timestamps; the engine fills those in.
//
// Conflicts are evidence carried by exactly one commit: the one that
// introduced them. Replayed events reuse their original reports instead
// of re-running detection.
func detectConflicts(ctx context.Context, st *store.Store, finder CycleFinder, diff truth.ProposedDiff, res store.ApplyResult) ([]truth.ConflictReport, error) {
	switch diff.Kind {
	case truth.DiffConstraintUpsert:
		// A superseded row with an equal value never gets here: the
		// store records it as a no-op before any mutation. A captured
		// prior row therefore always carries a differing value.
		prior := res.PriorActive
		if prior == nil || prior.Value == diff.Constraint.Value {
			return nil, nil
		}
		return []truth.ConflictReport{{
			CommitID: res.Commit.ID,
			Kind:     truth.ValueConflict,
			Details: truth.ConflictDetails{
				ProjectID:        diff.Constraint.ProjectID,
				Key:              diff.Constraint.Key,
				ExistingValue:    prior.Value,
				NewValue:         diff.Constraint.Value,
				ExistingAuthorID: prior.AuthorID,
				NewAuthorID:      diff.ActorID,
			},
		}}, nil

	case truth.DiffDependencyAdd:
		dep := diff.Dependency
		witness, err := finder.FindCycle(ctx, st, dep.FromProjectID, dep.ToProjectID)
		if err != nil {
			return nil, err
		}
		if witness == nil {
			return nil, nil
		}
		return []truth.ConflictReport{{
			CommitID: res.Commit.ID,
			Kind:     truth.DependencyCycle,
			Details: truth.ConflictDetails{
				FromProjectID: dep.FromProjectID,
				ToProjectID:   dep.ToProjectID,
				CyclePath:     witness,
			},
		}}, nil
	}

	return nil, nil
}

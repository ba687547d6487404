package store

import (
	"context"
	"fmt"
)

// BootstrapProject is one project entry from the bootstrap configuration.
type BootstrapProject struct {
	ProjectID    string
	Name         string
	OwnerUserIDs []string
}

// Bootstrap syncs project nodes and ownership edges from the bootstrap
// configuration. Projects are upserted (name refreshed, updated_at left
// alone unless the row is new) and owners are added; nothing is ever
// deleted here. Project rows are created by this path only - an unknown
// project id can never gain a row through the diff path.
func (s *Store) Bootstrap(ctx context.Context, projects []BootstrapProject) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("bootstrap: begin tx: %w", err)
	}
	defer tx.Rollback()

	now := s.now()
	for _, p := range projects {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projects (project_id, name, created_at, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(project_id) DO UPDATE SET name = excluded.name
		`, p.ProjectID, p.Name, formatTime(now), formatTime(now))
		if err != nil {
			return fmt.Errorf("bootstrap: upsert project %s: %w", p.ProjectID, err)
		}

		for _, owner := range p.OwnerUserIDs {
			if err := ensurePersonTx(ctx, tx, owner, now); err != nil {
				return fmt.Errorf("bootstrap: %w", err)
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO project_owners (project_id, user_id) VALUES (?, ?)
				ON CONFLICT DO NOTHING
			`, p.ProjectID, owner)
			if err != nil {
				return fmt.Errorf("bootstrap: add owner %s to %s: %w", owner, p.ProjectID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("bootstrap: commit: %w", err)
	}
	return nil
}

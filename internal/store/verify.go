package store

import (
	"context"
	"fmt"
)

// ChainReport is the result of a full history verification pass.
type ChainReport struct {
	TotalCommits int      `json:"total_commits"`
	Visited      int      `json:"visited"`
	HeadSequence int64    `json:"head_sequence"`
	Problems     []string `json:"problems,omitempty"`
}

// Valid reports whether the chain and the active-state invariants held.
func (r ChainReport) Valid() bool {
	return len(r.Problems) == 0
}

// VerifyChain walks the commit chain from the head to the root and checks
// the structural invariants the rest of the system assumes:
//
//   - following parent_commit_id visits every commit exactly once
//   - sequence numbers strictly decrease along the walk
//   - exactly the root commit has no parent
//   - at most one active constraint per (project, key)
//   - at most one active edge per ordered project pair
//
// The walk reads committed state only; it is safe to run while the
// engine is processing events.
func (s *Store) VerifyChain(ctx context.Context) (ChainReport, error) {
	report := ChainReport{}

	commits, err := s.Commits(ctx, 0)
	if err != nil {
		return report, fmt.Errorf("verify chain: %w", err)
	}
	report.TotalCommits = len(commits)
	if len(commits) == 0 {
		return report, nil
	}

	byID := make(map[string]int, len(commits))
	seqSeen := make(map[int64]string, len(commits))
	for i, c := range commits {
		byID[c.ID] = i
		if other, dup := seqSeen[c.SequenceNumber]; dup {
			report.Problems = append(report.Problems,
				fmt.Sprintf("sequence %d held by both %s and %s", c.SequenceNumber, other, c.ID))
		}
		seqSeen[c.SequenceNumber] = c.ID
	}

	// Commits() returns newest first, so index 0 is the head.
	head := commits[0]
	report.HeadSequence = head.SequenceNumber

	visited := make(map[string]bool, len(commits))
	cur := head
	prevSeq := head.SequenceNumber + 1
	for {
		if visited[cur.ID] {
			report.Problems = append(report.Problems,
				fmt.Sprintf("chain cycle at commit %s", cur.ID))
			break
		}
		visited[cur.ID] = true
		report.Visited++

		if cur.SequenceNumber >= prevSeq {
			report.Problems = append(report.Problems,
				fmt.Sprintf("sequence not strictly decreasing at commit %s (%d)", cur.ID, cur.SequenceNumber))
		}
		prevSeq = cur.SequenceNumber

		if cur.ParentCommitID == "" {
			break
		}
		idx, ok := byID[cur.ParentCommitID]
		if !ok {
			report.Problems = append(report.Problems,
				fmt.Sprintf("commit %s references missing parent %s", cur.ID, cur.ParentCommitID))
			break
		}
		cur = commits[idx]
	}

	if report.Visited != report.TotalCommits {
		report.Problems = append(report.Problems,
			fmt.Sprintf("chain walk visited %d of %d commits", report.Visited, report.TotalCommits))
	}

	if err := s.checkSingleActive(ctx, &report); err != nil {
		return report, fmt.Errorf("verify chain: %w", err)
	}

	return report, nil
}

func (s *Store) checkSingleActive(ctx context.Context, report *ChainReport) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT project_id, key, COUNT(*) FROM constraints
		WHERE is_active = 1
		GROUP BY project_id, key
		HAVING COUNT(*) > 1
	`)
	if err != nil {
		return fmt.Errorf("check active constraints: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var project, key string
		var n int
		if err := rows.Scan(&project, &key, &n); err != nil {
			return fmt.Errorf("scan active check: %w", err)
		}
		report.Problems = append(report.Problems,
			fmt.Sprintf("%d active constraints for (%s, %s)", n, project, key))
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate active check: %w", err)
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT from_project_id, to_project_id, COUNT(*) FROM dependencies
		WHERE is_active = 1
		GROUP BY from_project_id, to_project_id
		HAVING COUNT(*) > 1
	`)
	if err != nil {
		return fmt.Errorf("check active edges: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var from, to string
		var n int
		if err := rows.Scan(&from, &to, &n); err != nil {
			return fmt.Errorf("scan edge check: %w", err)
		}
		report.Problems = append(report.Problems,
			fmt.Sprintf("%d active edges for %s -> %s", n, from, to))
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate edge check: %w", err)
	}

	return nil
}

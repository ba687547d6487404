package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dendritehq/dendrite/internal/engine"
	"github.com/dendritehq/dendrite/internal/store"
	"github.com/dendritehq/dendrite/internal/truth"
)

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleSubmitDiff accepts a ProposedDiff, runs it through the engine
// and maps the outcome onto status codes: 201 for a new commit, 200 for
// replays and no-ops, 422 for rejections. Retryable collisions get 503
// so the caller resubmits the same event id.
func (s *Server) handleSubmitDiff(c *gin.Context) {
	var diff truth.ProposedDiff
	if err := c.BindJSON(&diff); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	out, err := s.eng.Submit(c.Request.Context(), diff)
	if err != nil {
		var pe *engine.ProcessError
		if errors.As(err, &pe) {
			switch pe.Code {
			case engine.ErrCodeRetryableConflict, engine.ErrCodeEngineStopped:
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": pe.Message, "code": string(pe.Code)})
				return
			}
		}
		s.log.Error("diff submission failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	if out.Rejected() {
		c.JSON(http.StatusUnprocessableEntity, out)
		return
	}
	if out.Disposition == store.DispositionCommitted {
		c.JSON(http.StatusCreated, out)
		return
	}
	c.JSON(http.StatusOK, out)
}

type graphProject struct {
	ProjectID   string             `json:"project_id"`
	Name        string             `json:"name"`
	Owners      []string           `json:"owners"`
	Constraints []truth.Constraint `json:"constraints"`
}

// handleGraphCurrent returns the canonical current truth: every project
// with its active constraints, plus the active dependency edges.
func (s *Server) handleGraphCurrent(c *gin.Context) {
	ctx := c.Request.Context()

	projects, err := s.st.Projects(ctx)
	if err != nil {
		s.internalError(c, "list projects", err)
		return
	}

	out := make([]graphProject, 0, len(projects))
	for _, p := range projects {
		constraints, err := s.st.ActiveConstraints(ctx, p.ID)
		if err != nil {
			s.internalError(c, "list constraints", err)
			return
		}
		owners, err := s.st.Owners(ctx, p.ID)
		if err != nil {
			s.internalError(c, "list owners", err)
			return
		}
		out = append(out, graphProject{
			ProjectID:   p.ID,
			Name:        p.Name,
			Owners:      owners,
			Constraints: constraints,
		})
	}

	edges, err := s.st.ActiveEdges(ctx)
	if err != nil {
		s.internalError(c, "list edges", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"projects":     out,
		"dependencies": edges,
	})
}

type commitChange struct {
	Commit    truth.Commit           `json:"commit"`
	Conflicts []truth.ConflictReport `json:"conflicts,omitempty"`
}

// handleGraphChanges returns commits at or after the since timestamp,
// oldest first, each with its conflict reports.
func (s *Server) handleGraphChanges(c *gin.Context) {
	raw := c.Query("since")
	since, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("since must be RFC3339, got %q", raw),
		})
		return
	}

	ctx := c.Request.Context()
	commits, err := s.st.CommitsSince(ctx, since)
	if err != nil {
		s.internalError(c, "list commits", err)
		return
	}

	changes := make([]commitChange, 0, len(commits))
	for _, commit := range commits {
		conflicts, err := s.st.ConflictsForCommit(ctx, commit.ID)
		if err != nil {
			s.internalError(c, "list conflicts", err)
			return
		}
		changes = append(changes, commitChange{Commit: commit, Conflicts: conflicts})
	}

	c.JSON(http.StatusOK, gin.H{
		"since":   since.UTC().Format(time.RFC3339Nano),
		"changes": changes,
	})
}

func (s *Server) handleProject(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	project, err := s.st.Project(ctx, id)
	if err != nil {
		s.internalError(c, "read project", err)
		return
	}
	if project == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("unknown project %q", id)})
		return
	}

	constraints, err := s.st.ActiveConstraints(ctx, id)
	if err != nil {
		s.internalError(c, "list constraints", err)
		return
	}
	owners, err := s.st.Owners(ctx, id)
	if err != nil {
		s.internalError(c, "list owners", err)
		return
	}
	edges, err := s.st.ActiveEdges(ctx)
	if err != nil {
		s.internalError(c, "list edges", err)
		return
	}

	var dependsOn, dependedOnBy []truth.Dependency
	for _, e := range edges {
		switch {
		case e.FromProjectID == id:
			dependsOn = append(dependsOn, e)
		case e.ToProjectID == id:
			dependedOnBy = append(dependedOnBy, e)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"project":        project,
		"owners":         owners,
		"constraints":    constraints,
		"depends_on":     dependsOn,
		"depended_on_by": dependedOnBy,
	})
}

type checklistItem struct {
	Key      string               `json:"key"`
	Value    string               `json:"value"`
	Kind     truth.ConstraintKind `json:"kind"`
	Reason   string               `json:"reason"`
	AuthorID string               `json:"author_id"`
	Text     string               `json:"text"`
}

// handleChecklist renders a project's active constraints as checklist
// items, requirements first.
func (s *Server) handleChecklist(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	project, err := s.st.Project(ctx, id)
	if err != nil {
		s.internalError(c, "read project", err)
		return
	}
	if project == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("unknown project %q", id)})
		return
	}

	constraints, err := s.st.ActiveConstraints(ctx, id)
	if err != nil {
		s.internalError(c, "list constraints", err)
		return
	}

	items := make([]checklistItem, 0, len(constraints))
	for _, kind := range []truth.ConstraintKind{truth.KindRequirement, truth.KindDesignChoice} {
		for _, con := range constraints {
			if con.Kind != kind {
				continue
			}
			items = append(items, checklistItem{
				Key:      con.Key,
				Value:    con.Value,
				Kind:     con.Kind,
				Reason:   con.Reason,
				AuthorID: con.AuthorID,
				Text:     fmt.Sprintf("%s = %s (%s)", con.Key, con.Value, con.Reason),
			})
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"project_id": id,
		"items":      items,
	})
}

func (s *Server) internalError(c *gin.Context, op string, err error) {
	s.log.Error("request failed", "op", op, "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

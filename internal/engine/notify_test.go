package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecipients(t *testing.T) {
	owners := OwnerDirectory{
		"checkout": {"owner-1"},
		"billing":  {"owner-2", "owner-3"},
	}

	tests := []struct {
		name           string
		actor          string
		existingAuthor string
		projects       []string
		want           []string
	}{
		{
			name:           "value_conflict",
			actor:          "user-2",
			existingAuthor: "user-1",
			projects:       []string{"checkout"},
			want:           []string{"owner-1", "user-1", "user-2"},
		},
		{
			name:     "cycle_spans_projects",
			actor:    "user-1",
			projects: []string{"checkout", "billing"},
			want:     []string{"owner-1", "owner-2", "owner-3", "user-1"},
		},
		{
			name:           "actor_is_also_owner",
			actor:          "owner-1",
			existingAuthor: "owner-1",
			projects:       []string{"checkout"},
			want:           []string{"owner-1"},
		},
		{
			name:     "unknown_project_routes_nothing",
			actor:    "user-1",
			projects: []string{"ghost"},
			want:     []string{"user-1"},
		},
		{
			name: "blank_ids_skipped",
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := recipients(tt.actor, tt.existingAuthor, tt.projects, owners)
			assert.Equal(t, tt.want, got)
		})
	}
}

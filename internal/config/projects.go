package config

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/dendritehq/dendrite/internal/store"
	"github.com/dendritehq/dendrite/internal/truth"
)

// Validation error codes (C100-C199)
const (
	ErrConfigRead       = "C100" // file could not be read
	ErrConfigParse      = "C101" // YAML is malformed
	ErrConfigSchema     = "C102" // schema violation
	ErrDuplicateProject = "C103" // the same project id appears twice
)

// ValidationError is one bootstrap-config problem.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Project is one bootstrap project with its owners.
type Project struct {
	ID     string   `yaml:"id" json:"id"`
	Name   string   `yaml:"name" json:"name"`
	Owners []string `yaml:"owners" json:"owners"`
}

// Bootstrap is the parsed project directory.
type Bootstrap struct {
	Projects []Project `yaml:"projects" json:"projects"`
}

//go:embed schema.cue
var schemaSource string

// LoadBootstrap reads and validates the project directory file.
// Returns all problems found, not just the first.
func LoadBootstrap(path string) (*Bootstrap, []error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, []error{ValidationError{
			Field:   "file",
			Message: fmt.Sprintf("reading %s: %v", path, err),
			Code:    ErrConfigRead,
		}}
	}
	return ParseBootstrap(raw)
}

// ParseBootstrap parses and validates the YAML directory contents.
// All string fields are trimmed and NFC-normalized before validation so
// the schema sees the same form the database will store.
func ParseBootstrap(raw []byte) (*Bootstrap, []error) {
	var b Bootstrap
	if err := yaml.Unmarshal(raw, &b); err != nil {
		return nil, []error{ValidationError{
			Field:   "yaml",
			Message: err.Error(),
			Code:    ErrConfigParse,
		}}
	}

	for i := range b.Projects {
		p := &b.Projects[i]
		p.ID = truth.Normalize(p.ID)
		p.Name = truth.Normalize(p.Name)
		for j := range p.Owners {
			p.Owners[j] = truth.Normalize(p.Owners[j])
		}
	}

	var errs []error
	errs = append(errs, validateSchema(&b)...)
	errs = append(errs, validateUnique(&b)...)
	if len(errs) > 0 {
		return nil, errs
	}
	return &b, nil
}

// validateSchema unifies the parsed config with the embedded CUE schema.
// The schema carries the structural rules: at least two projects, blank
// ids and names refused, at least one owner per project.
func validateSchema(b *Bootstrap) []error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return []error{ValidationError{
			Field:   "schema",
			Message: fmt.Sprintf("compiling embedded schema: %v", err),
			Code:    ErrConfigSchema,
		}}
	}

	value := ctx.Encode(b)
	if err := value.Err(); err != nil {
		return []error{ValidationError{
			Field:   "config",
			Message: fmt.Sprintf("encoding config: %v", err),
			Code:    ErrConfigSchema,
		}}
	}

	if err := schema.Unify(value).Validate(); err != nil {
		return []error{ValidationError{
			Field:   "config",
			Message: err.Error(),
			Code:    ErrConfigSchema,
		}}
	}
	return nil
}

// validateUnique rejects duplicate project ids. CUE handles structure;
// uniqueness across list entries is clearer in Go.
func validateUnique(b *Bootstrap) []error {
	var errs []error
	seen := make(map[string]bool, len(b.Projects))
	for i, p := range b.Projects {
		if seen[p.ID] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("projects[%d].id", i),
				Message: fmt.Sprintf("duplicate project id %q", p.ID),
				Code:    ErrDuplicateProject,
			})
		}
		seen[p.ID] = true
	}
	return errs
}

// KnownProjects returns the closed project-id set for diff validation.
func (b *Bootstrap) KnownProjects() map[string]bool {
	known := make(map[string]bool, len(b.Projects))
	for _, p := range b.Projects {
		known[p.ID] = true
	}
	return known
}

// Owners returns the project-to-owners directory for notification
// routing.
func (b *Bootstrap) Owners() map[string][]string {
	owners := make(map[string][]string, len(b.Projects))
	for _, p := range b.Projects {
		owners[p.ID] = append([]string(nil), p.Owners...)
	}
	return owners
}

// StoreProjects converts the directory into the store's bootstrap form.
func (b *Bootstrap) StoreProjects() []store.BootstrapProject {
	out := make([]store.BootstrapProject, 0, len(b.Projects))
	for _, p := range b.Projects {
		out = append(out, store.BootstrapProject{
			ProjectID:    p.ID,
			Name:         p.Name,
			OwnerUserIDs: append([]string(nil), p.Owners...),
		})
	}
	return out
}

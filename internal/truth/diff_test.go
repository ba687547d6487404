package truth

import (
	"strings"
	"testing"
)

var testProjects = map[string]bool{
	"checkout": true,
	"billing":  true,
}

func validUpsert() ProposedDiff {
	return ProposedDiff{
		Kind:          DiffConstraintUpsert,
		ActorID:       "user-1",
		SourceEventID: "evt-1",
		Reason:        "decided in review",
		Constraint: &ConstraintChange{
			ProjectID: "checkout",
			Key:       "payment_provider",
			Value:     "stripe",
			Reason:    "decided in review",
		},
	}
}

func validDependencyAdd() ProposedDiff {
	return ProposedDiff{
		Kind:          DiffDependencyAdd,
		ActorID:       "user-1",
		SourceEventID: "evt-2",
		Reason:        "checkout calls billing",
		Dependency: &DependencyChange{
			FromProjectID: "checkout",
			ToProjectID:   "billing",
			Reason:        "checkout calls billing",
		},
	}
}

func TestValidateDiffAcceptsConstraintUpsert(t *testing.T) {
	got, rej := ValidateDiff(validUpsert(), testProjects)
	if rej != nil {
		t.Fatalf("unexpected rejection: %v", rej)
	}
	if got.Constraint.Kind != KindDesignChoice {
		t.Errorf("kind not defaulted: got %q", got.Constraint.Kind)
	}
}

func TestValidateDiffAcceptsDependencyAdd(t *testing.T) {
	if _, rej := ValidateDiff(validDependencyAdd(), testProjects); rej != nil {
		t.Fatalf("unexpected rejection: %v", rej)
	}
}

func TestValidateDiffNormalizes(t *testing.T) {
	d := validUpsert()
	d.Constraint.Key = "  payment_provider\t"
	// NFD e + combining acute, must compare equal to NFC after validation
	d.Constraint.Value = "café"

	got, rej := ValidateDiff(d, testProjects)
	if rej != nil {
		t.Fatalf("unexpected rejection: %v", rej)
	}
	if got.Constraint.Key != "payment_provider" {
		t.Errorf("key not trimmed: %q", got.Constraint.Key)
	}
	if got.Constraint.Value != "café" {
		t.Errorf("value not NFC-normalized: %q", got.Constraint.Value)
	}
}

func TestValidateDiffDoesNotMutateInput(t *testing.T) {
	d := validUpsert()
	d.Constraint.Key = "  spaced  "

	if _, rej := ValidateDiff(d, testProjects); rej != nil {
		t.Fatalf("unexpected rejection: %v", rej)
	}
	if d.Constraint.Key != "  spaced  " {
		t.Errorf("input mutated: %q", d.Constraint.Key)
	}
}

func TestValidateDiffSchemaRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ProposedDiff)
	}{
		{"missing actor", func(d *ProposedDiff) { d.ActorID = "" }},
		{"missing event id", func(d *ProposedDiff) { d.SourceEventID = "" }},
		{"missing reason", func(d *ProposedDiff) { d.Reason = "" }},
		{"blank reason", func(d *ProposedDiff) { d.Reason = "   " }},
		{"unknown kind", func(d *ProposedDiff) { d.Kind = "constraint_delete" }},
		{"missing payload", func(d *ProposedDiff) { d.Constraint = nil }},
		{"both payloads", func(d *ProposedDiff) {
			d.Dependency = &DependencyChange{FromProjectID: "checkout", ToProjectID: "billing", Reason: "x"}
		}},
		{"blank key", func(d *ProposedDiff) { d.Constraint.Key = "   " }},
		{"blank value", func(d *ProposedDiff) { d.Constraint.Value = "\t" }},
		{"bad constraint kind", func(d *ProposedDiff) { d.Constraint.Kind = "hard_requirement" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := validUpsert()
			tt.mutate(&d)
			_, rej := ValidateDiff(d, testProjects)
			if rej == nil {
				t.Fatal("expected rejection, got none")
			}
			if rej.Code != RejectSchemaInvalid {
				t.Errorf("expected %s, got %s (%s)", RejectSchemaInvalid, rej.Code, rej.Message)
			}
		})
	}
}

func TestValidateDiffUnknownProject(t *testing.T) {
	d := validUpsert()
	d.Constraint.ProjectID = "payments"

	_, rej := ValidateDiff(d, testProjects)
	if rej == nil {
		t.Fatal("expected rejection, got none")
	}
	if rej.Code != RejectUnknownProject {
		t.Fatalf("expected %s, got %s", RejectUnknownProject, rej.Code)
	}
	// Valid projects must come back sorted for stable feedback.
	if len(rej.ValidProjects) != 2 || rej.ValidProjects[0] != "billing" || rej.ValidProjects[1] != "checkout" {
		t.Errorf("valid projects = %v", rej.ValidProjects)
	}
}

func TestValidateDiffUnknownProjectOnEitherEndpoint(t *testing.T) {
	for _, side := range []string{"from", "to"} {
		d := validDependencyAdd()
		if side == "from" {
			d.Dependency.FromProjectID = "ghost"
		} else {
			d.Dependency.ToProjectID = "ghost"
		}
		_, rej := ValidateDiff(d, testProjects)
		if rej == nil || rej.Code != RejectUnknownProject {
			t.Errorf("%s endpoint: expected UNKNOWN_PROJECT, got %v", side, rej)
		}
	}
}

func TestSummaryText(t *testing.T) {
	up := validUpsert()
	if got := up.SummaryText(); got != "set payment_provider=stripe on checkout (decided in review)" {
		t.Errorf("upsert summary = %q", got)
	}
	dep := validDependencyAdd()
	if got := dep.SummaryText(); got != "added dependency checkout -> billing (checkout calls billing)" {
		t.Errorf("dependency summary = %q", got)
	}
}

func TestProjectID(t *testing.T) {
	if got := validUpsert().ProjectID(); got != "checkout" {
		t.Errorf("upsert project = %q", got)
	}
	// Dependency diffs attribute to the from side, the project whose
	// edge set changed.
	if got := validDependencyAdd().ProjectID(); got != "checkout" {
		t.Errorf("dependency project = %q", got)
	}
}

func TestMarshalCanonicalStable(t *testing.T) {
	d := validUpsert()
	a, err := MarshalCanonical(d)
	if err != nil {
		t.Fatal(err)
	}
	b, err := MarshalCanonical(d)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("canonical form not stable:\n%s\n%s", a, b)
	}
	if !strings.HasPrefix(a, `{"actor_id":`) {
		t.Errorf("keys not sorted: %s", a)
	}
}

func TestMarshalCanonicalNoHTMLEscape(t *testing.T) {
	d := validUpsert()
	d.Constraint.Value = "a<b&c>d"
	payload, err := MarshalCanonical(d)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(payload, "a<b&c>d") {
		t.Errorf("HTML characters escaped: %s", payload)
	}
}

func TestMarshalCanonicalRoundTrip(t *testing.T) {
	d := validDependencyAdd()
	payload, err := MarshalCanonical(d)
	if err != nil {
		t.Fatal(err)
	}
	back, err := UnmarshalDiffPayload(payload)
	if err != nil {
		t.Fatal(err)
	}
	if back.Kind != d.Kind || back.Dependency == nil || back.Dependency.ToProjectID != "billing" {
		t.Errorf("round trip lost data: %+v", back)
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("  x  "); got != "x" {
		t.Errorf("trim failed: %q", got)
	}
	if Normalize("é") != "é" {
		t.Error("NFC normalization failed")
	}
}

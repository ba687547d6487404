package truth

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Normalize trims surrounding whitespace and applies Unicode NFC
// normalization. Every field that participates in equality comparison
// (project ids, keys, values) passes through here exactly once, at
// validation time, so exact string comparison downstream is meaningful.
func Normalize(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// MarshalCanonical serializes a diff to canonical JSON for storage as a
// commit's diff_payload:
//
//  1. Object keys sorted (payload keys are ASCII, so byte order suffices)
//  2. No HTML escaping (< > & stored as-is)
//  3. Strings NFC normalized
//  4. Empty optional fields omitted
//
// The same diff always serializes to the same bytes, which keeps replay
// diffs and golden traces stable.
func MarshalCanonical(d ProposedDiff) (string, error) {
	obj := map[string]any{
		"kind":            string(d.Kind),
		"actor_id":        d.ActorID,
		"source_event_id": d.SourceEventID,
		"reason":          d.Reason,
	}
	if d.SourceRef != "" {
		obj["source_ref"] = d.SourceRef
	}
	if d.Constraint != nil {
		obj["constraint"] = map[string]any{
			"project_id": d.Constraint.ProjectID,
			"key":        d.Constraint.Key,
			"value":      d.Constraint.Value,
			"kind":       string(d.Constraint.Kind),
			"reason":     d.Constraint.Reason,
		}
	}
	if d.Dependency != nil {
		obj["dependency"] = map[string]any{
			"from_project_id": d.Dependency.FromProjectID,
			"to_project_id":   d.Dependency.ToProjectID,
			"reason":          d.Dependency.Reason,
		}
	}

	data, err := marshalCanonicalValue(obj)
	if err != nil {
		return "", fmt.Errorf("marshal diff payload: %w", err)
	}
	return string(data), nil
}

// UnmarshalDiffPayload parses a stored diff_payload back into a diff.
func UnmarshalDiffPayload(payload string) (ProposedDiff, error) {
	var d ProposedDiff
	if err := json.Unmarshal([]byte(payload), &d); err != nil {
		return ProposedDiff{}, fmt.Errorf("unmarshal diff payload: %w", err)
	}
	return d, nil
}

func marshalCanonicalValue(v any) ([]byte, error) {
	switch val := v.(type) {
	case string:
		return marshalCanonicalString(val)
	case map[string]any:
		return marshalCanonicalObject(val)
	default:
		return nil, fmt.Errorf("unsupported canonical value type %T", v)
	}
}

func marshalCanonicalObject(obj map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := marshalCanonicalString(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := marshalCanonicalValue(obj[k])
		if err != nil {
			return nil, fmt.Errorf("object[%q]: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func marshalCanonicalString(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm.NFC.String(s)); err != nil {
		return nil, fmt.Errorf("marshal string: %w", err)
	}
	// Encoder appends a trailing newline, drop it.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Package harness provides scenario-based acceptance testing for the
// commit engine.
//
// A scenario bootstraps a fresh database with a project directory,
// submits a sequence of proposed diffs through a real engine, and
// validates the per-step outcomes plus the final truth state.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	projects:
//	  - id: checkout
//	    name: Checkout
//	    owners: [owner-1]
//	steps:
//	  - diff:
//	      kind: constraint_upsert
//	      actor_id: user-1
//	      source_event_id: evt-1
//	      reason: decided in review
//	      constraint:
//	        project_id: checkout
//	        key: payment_provider
//	        value: stripe
//	        reason: decided in review
//	    expect:
//	      disposition: committed
//	assertions:
//	  - type: chain_length
//	    count: 1
//	  - type: active_value
//	    project: checkout
//	    key: payment_provider
//	    value: stripe
//
// # Assertion Types
//
//   - chain_length: total number of commits
//   - active_value: the active value for a (project, key)
//   - edge_active: an active dependency edge exists
//   - conflict_count: number of conflict reports of a kind
//   - notified: the recipient set of the only conflict of a kind
//
// # Deterministic Execution
//
// Every run uses a prefix id generator and a ticking fixed-start clock,
// so ids, sequence numbers and timestamps are identical across runs and
// the outcome trace can be compared against a golden file.
package harness

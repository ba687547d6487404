package engine

import "sort"

// OwnerDirectory resolves the owner user ids of a project. It is a
// snapshot of the bootstrap configuration; lookup of an unknown project
// returns nil, which routes nothing rather than failing.
type OwnerDirectory map[string][]string

// recipients computes the notification set for one conflict: the acting
// author, the author of any superseded value, and every owner of every
// project the conflict touches. The result is deduplicated, blank-free
// and sorted, so equal conflicts always produce an identical set.
func recipients(actorID string, existingAuthorID string, projectIDs []string, owners OwnerDirectory) []string {
	set := map[string]bool{}
	add := func(id string) {
		if id != "" {
			set[id] = true
		}
	}

	add(actorID)
	add(existingAuthorID)
	for _, pid := range projectIDs {
		for _, owner := range owners[pid] {
			add(owner)
		}
	}

	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

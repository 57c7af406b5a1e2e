package orchestrator

import (
	"fmt"
	"sort"

	"github.com/liranavivi/Design954-sub000/pkg/orchestdomain"
)

// entryPoints implements §4.8.2: a step id is an entry point iff it never
// appears in any other step's NextStepIDs.
func entryPoints(steps []orchestdomain.Step) []string {
	referenced := make(map[string]struct{})
	for _, s := range steps {
		for _, next := range s.NextStepIDs {
			referenced[next] = struct{}{}
		}
	}
	var entries []string
	for _, s := range steps {
		if _, ok := referenced[s.ID]; !ok {
			entries = append(entries, s.ID)
		}
	}
	return entries
}

// terminationPoints implements §4.8.3: a step id is a termination point iff
// it has no successors.
func terminationPoints(steps []orchestdomain.Step) []string {
	var terms []string
	for _, s := range steps {
		if len(s.NextStepIDs) == 0 {
			terms = append(terms, s.ID)
		}
	}
	return terms
}

// validateNoCycle implements §4.8.4's literal conservative criterion:
// aggregate every next-step reference without deduplication, and reject if
// any id appearing more than once is NOT a termination point. Grounded on
// the teacher's orchestration.Edge{From,To} adjacency-list representation,
// adapted here to operate directly on Step.NextStepIDs without a Runnable
// or Graph wrapper (§9 design note: "no data structure holds real cycles").
func validateNoCycle(steps []orchestdomain.Step, terminations []string) error {
	termSet := make(map[string]struct{}, len(terminations))
	for _, t := range terminations {
		termSet[t] = struct{}{}
	}

	counts := make(map[string]int)
	for _, s := range steps {
		for _, next := range s.NextStepIDs {
			counts[next]++
		}
	}

	var offending []string
	for id, n := range counts {
		if n <= 1 {
			continue
		}
		if _, isTerm := termSet[id]; !isTerm {
			offending = append(offending, id)
		}
	}
	if len(offending) == 0 {
		return nil
	}
	sort.Strings(offending)

	detail := ""
	for i, id := range offending {
		if i > 0 {
			detail += ", "
		}
		detail += fmt.Sprintf("%s (x%d)", id, counts[id])
	}
	return NewOrchestratorError("validate_no_cycle", ErrCodeCircularWorkflow,
		"Circular workflow detected: "+detail, nil)
}

// reachable computes the set of step ids reachable from entries by
// following NextStepIDs, used by tests to check §8 invariant 1
// (entryPoints ∪ reachable(entryPoints) = steps).
func reachable(steps []orchestdomain.Step, entries []string) map[string]struct{} {
	byID := make(map[string]orchestdomain.Step, len(steps))
	for _, s := range steps {
		byID[s.ID] = s
	}
	visited := make(map[string]struct{})
	var visit func(id string)
	visit = func(id string) {
		if _, ok := visited[id]; ok {
			return
		}
		visited[id] = struct{}{}
		for _, next := range byID[id].NextStepIDs {
			visit(next)
		}
	}
	for _, e := range entries {
		visit(e)
	}
	return visited
}

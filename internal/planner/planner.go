// Package planner implements the Planner: a deterministic topological table
// order computed from foreign-key edges, with tie-breaks on upstream
// discovery order and best-effort cycle handling.
package planner

import (
	"github.com/dbashand/dbreplicate/internal/model"
)

// Ordering is the Planner's output: the insertion order (dependencies first)
// and its exact reverse, the deletion order.
type Ordering struct {
	InsertionOrder []string
	DeletionOrder  []string
	// Cycles records the member lists of any cycles broken during the
	// traversal, in discovery order, for the cycle-detected WARN log.
	Cycles [][]string
}

// Plan computes the insertion/deletion order for tables (given in upstream
// discovery order) from their foreign-key edges. A table's referenced
// tables must precede it; within ties, earlier discovery order wins.
//
// Implementation note: tables become eligible for placement once every
// referenced table already in the set has been placed, and eligible tables
// are drained in the order they first became eligible (discovery order for
// the initial batch, then the order their last blocking reference cleared).
// This Kahn-style readiness queue is what reproduces the expected ordering
// for a worked example (users, products, orders, order_items from discovery
// order users, orders, products, order_items) — a strict
// "recurse into T's references, then append T" DFS would instead place
// orders immediately after users, ahead of products. Cycles are detected
// separately via the recursion-stack DFS described in the design note, and
// broken in the readiness queue by force-placing the first stuck table in
// discovery order once the queue runs dry.
func Plan(tables []string, fks []model.ForeignKeyEdge) *Ordering {
	inSet := make(map[string]bool, len(tables))
	for _, t := range tables {
		inSet[t] = true
	}

	deps := make(map[string][]string)      // table -> its referenced tables (in-set only)
	dependents := make(map[string][]string) // referenced table -> tables that depend on it
	seenDep := make(map[[2]string]bool)
	for _, t := range tables {
		deps[t] = nil
	}
	for _, fk := range fks {
		if !inSet[fk.Table] || !inSet[fk.ReferencedTable] || fk.Table == fk.ReferencedTable {
			continue
		}
		key := [2]string{fk.Table, fk.ReferencedTable}
		if seenDep[key] {
			continue
		}
		seenDep[key] = true
		deps[fk.Table] = append(deps[fk.Table], fk.ReferencedTable)
		dependents[fk.ReferencedTable] = append(dependents[fk.ReferencedTable], fk.Table)
	}

	cycles := detectCycles(tables, deps)

	remaining := make(map[string]int, len(tables))
	for _, t := range tables {
		remaining[t] = len(deps[t])
	}

	placed := make(map[string]bool, len(tables))
	var order []string
	var queue []string
	for _, t := range tables {
		if remaining[t] == 0 {
			queue = append(queue, t)
		}
	}

	for len(order) < len(tables) {
		if len(queue) == 0 {
			// Stuck on a cycle: force the earliest-discovered unplaced
			// table in, breaking one edge of the cycle at this re-entry
			// point, and let the queue continue draining from there.
			for _, t := range tables {
				if !placed[t] {
					queue = append(queue, t)
					break
				}
			}
		}
		t := queue[0]
		queue = queue[1:]
		if placed[t] {
			continue
		}
		placed[t] = true
		order = append(order, t)
		for _, d := range dependents[t] {
			if placed[d] {
				continue
			}
			remaining[d]--
			if remaining[d] <= 0 {
				queue = append(queue, d)
			}
		}
	}

	deletion := make([]string, len(order))
	for i, t := range order {
		deletion[len(order)-1-i] = t
	}

	return &Ordering{InsertionOrder: order, DeletionOrder: deletion, Cycles: cycles}
}

// detectCycles runs a recursion-stack DFS purely to surface which tables
// participate in a cycle, in discovery order, for the cycle-detected WARN
// diagnostic.
func detectCycles(tables []string, deps map[string][]string) [][]string {
	visited := make(map[string]bool, len(tables))
	onStack := make(map[string]bool, len(tables))
	var found [][]string

	var visit func(name string, stack []string)
	visit = func(name string, stack []string) {
		if onStack[name] {
			for i, s := range stack {
				if s == name {
					member := append([]string{}, stack[i:]...)
					if len(member) > 1 {
						found = append(found, member)
					}
					return
				}
			}
			return
		}
		if visited[name] {
			return
		}
		onStack[name] = true
		stack = append(stack, name)
		for _, ref := range deps[name] {
			visit(ref, stack)
		}
		onStack[name] = false
		visited[name] = true
	}

	for _, t := range tables {
		if !visited[t] {
			visit(t, nil)
		}
	}
	return found
}

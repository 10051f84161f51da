// Package planner orders sync actions into batches that can each run in
// parallel once every earlier batch has finished.
package planner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/yuya-takeyama/crustasync/internal/pathutil"
	"github.com/yuya-takeyama/crustasync/pkg/action"
	"github.com/yuya-takeyama/crustasync/pkg/logger"
)

// Batch holds actions with no dependencies on each other.
type Batch []action.Action

type Plan struct {
	Batches []Batch
	// Staged lists moves that were rewritten as a delete and create to break
	// a dependency cycle.
	Staged []action.Action

	// deps[i] holds the positions, in Actions order, that action i waits for.
	deps [][]int
}

// DependsOn returns the positions in Actions order of the actions that the
// action at position i waits for.
func (p *Plan) DependsOn(i int) []int {
	if i >= len(p.deps) {
		return nil
	}
	return p.deps[i]
}

// Len is the total number of actions.
func (p *Plan) Len() int {
	n := 0
	for _, b := range p.Batches {
		n += len(b)
	}
	return n
}

// Actions returns every action in execution order.
func (p *Plan) Actions() []action.Action {
	out := make([]action.Action, 0, p.Len())
	for _, b := range p.Batches {
		out = append(out, b...)
	}
	return out
}

// PlanError aborts a run before anything is executed.
type PlanError struct {
	Reason  string
	Actions []action.Action
}

func (e *PlanError) Error() string {
	descs := make([]string, len(e.Actions))
	for i, a := range e.Actions {
		descs[i] = a.String()
	}
	return fmt.Sprintf("plan: %s: %s", e.Reason, strings.Join(descs, ", "))
}

// Build orders actions. A cycle is broken by staging the move with the
// greatest destination path as a delete followed by a create; cycles without
// a move are a PlanError.
func Build(actions []action.Action, log logger.Logger) (*Plan, error) {
	if log == nil {
		log = &logger.NullLogger{}
	}
	plan := &Plan{}
	current := append([]action.Action(nil), actions...)

	for {
		g, err := newGraph(current)
		if err != nil {
			return nil, err
		}
		batches, order, cycle := g.levels()
		if cycle == nil {
			plan.Batches = batches
			plan.deps = g.positions(order)
			return plan, nil
		}

		victim := -1
		for _, idx := range cycle {
			a := current[idx]
			if a.Type == action.Move && (victim < 0 || a.To > current[victim].To) {
				victim = idx
			}
		}
		if victim < 0 {
			stuck := make([]action.Action, len(cycle))
			for i, idx := range cycle {
				stuck[i] = current[idx]
			}
			return nil, &PlanError{Reason: "dependency cycle without a move to stage", Actions: stuck}
		}

		mv := current[victim]
		log.Warn(fmt.Sprintf("staging move %s -> %s as delete and create to break a dependency cycle", mv.From, mv.To))
		plan.Staged = append(plan.Staged, mv)

		next := make([]action.Action, 0, len(current)+len(mv.Descendants)+1)
		next = append(next, current[:victim]...)
		next = append(next, current[victim+1:]...)
		next = append(next, stage(mv)...)
		current = next
	}
}

// stage rewrites a move as a delete of its source and creates for its
// destination subtree.
func stage(mv action.Action) []action.Action {
	gone := mv.Entry
	gone.Path = mv.From
	out := []action.Action{
		action.NewDelete(gone),
		action.NewCreate(mv.Entry, action.SourceRef{Backend: mv.Source.Backend, Path: mv.To}),
	}
	for _, e := range mv.Descendants {
		out = append(out, action.NewCreate(e, action.SourceRef{Backend: mv.Source.Backend, Path: e.Path}))
	}
	return out
}

type graph struct {
	actions    []action.Action
	deps       [][]int
	dependents [][]int
}

// newGraph derives dependencies from path relationships:
//   - a write to P waits for writes to every ancestor of P
//   - a write to P waits for anything vacating P or an ancestor of P
//   - vacating P waits for moves out of any descendant of P
func newGraph(actions []action.Action) (*graph, error) {
	targets := map[string]int{}
	vacates := map[string][]int{}
	movesUnder := map[string][]int{}

	for i, a := range actions {
		if t := a.Target(); t != "" {
			if j, dup := targets[t]; dup {
				return nil, &PlanError{Reason: "more than one action writes " + t, Actions: []action.Action{actions[j], a}}
			}
			targets[t] = i
		}
		if v := a.Vacated(); v != "" {
			vacates[v] = append(vacates[v], i)
			if a.Type == action.Move {
				for _, anc := range pathutil.Ancestors(v) {
					movesUnder[anc] = append(movesUnder[anc], i)
				}
			}
		}
	}

	g := &graph{
		actions:    actions,
		deps:       make([][]int, len(actions)),
		dependents: make([][]int, len(actions)),
	}
	for i, a := range actions {
		seen := map[int]bool{i: true}
		add := func(j int) {
			if !seen[j] {
				seen[j] = true
				g.deps[i] = append(g.deps[i], j)
				g.dependents[j] = append(g.dependents[j], i)
			}
		}

		if t := a.Target(); t != "" {
			for _, anc := range pathutil.Ancestors(t) {
				if j, ok := targets[anc]; ok {
					add(j)
				}
				for _, j := range vacates[anc] {
					add(j)
				}
			}
			for _, j := range vacates[t] {
				add(j)
			}
		}
		if v := a.Vacated(); v != "" {
			for _, j := range movesUnder[v] {
				add(j)
			}
		}
	}
	return g, nil
}

// levels runs Kahn's algorithm one level at a time and reports the order in
// which action indices were emitted. If progress stops, it returns the
// indices of one dependency cycle instead.
func (g *graph) levels() ([]Batch, []int, []int) {
	indeg := make([]int, len(g.actions))
	var ready []int
	for i := range g.actions {
		indeg[i] = len(g.deps[i])
		if indeg[i] == 0 {
			ready = append(ready, i)
		}
	}

	done := make([]bool, len(g.actions))
	remaining := len(g.actions)
	var batches []Batch
	order := make([]int, 0, len(g.actions))
	for remaining > 0 {
		if len(ready) == 0 {
			return nil, nil, g.findCycle(done)
		}
		sort.Slice(ready, func(a, b int) bool {
			return lessAction(g.actions[ready[a]], g.actions[ready[b]])
		})

		batch := make(Batch, 0, len(ready))
		var next []int
		for _, i := range ready {
			batch = append(batch, g.actions[i])
			order = append(order, i)
			done[i] = true
			remaining--
			for _, j := range g.dependents[i] {
				indeg[j]--
				if indeg[j] == 0 {
					next = append(next, j)
				}
			}
		}
		batches = append(batches, batch)
		ready = next
	}
	return batches, order, nil
}

// positions translates dependencies from action indices to emitted order.
func (g *graph) positions(order []int) [][]int {
	pos := make([]int, len(order))
	for p, idx := range order {
		pos[idx] = p
	}
	deps := make([][]int, len(order))
	for p, idx := range order {
		for _, j := range g.deps[idx] {
			deps[p] = append(deps[p], pos[j])
		}
		sort.Ints(deps[p])
	}
	return deps
}

// findCycle walks unfinished dependencies from the first unfinished action
// until a node repeats.
func (g *graph) findCycle(done []bool) []int {
	start := -1
	for i := range done {
		if !done[i] {
			start = i
			break
		}
	}

	pos := map[int]int{}
	var path []int
	for cur := start; ; {
		if p, ok := pos[cur]; ok {
			return path[p:]
		}
		pos[cur] = len(path)
		path = append(path, cur)

		next := -1
		for _, j := range g.deps[cur] {
			if !done[j] {
				next = j
				break
			}
		}
		cur = next
	}
}

func lessAction(a, b action.Action) bool {
	if a.Path != b.Path {
		return a.Path < b.Path
	}
	return a.Type < b.Type
}

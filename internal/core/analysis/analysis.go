// Package analysis computes shape and coverage statistics over decision trees.
package analysis

import (
	"github.com/agenthands/caire/internal/core/model"
)

// MaxDepth returns the number of edges on the longest path from the root.
// Edges that close a cycle and dangling children are ignored. A tree without a
// resolvable root has depth 0.
func MaxDepth(tree *model.Tree) int {
	if _, ok := tree.Root(); !ok {
		return 0
	}
	memo := map[string]int{}
	onPath := map[string]bool{}

	var depth func(id string) int
	depth = func(id string) int {
		if d, ok := memo[id]; ok {
			return d
		}
		n, _ := tree.Node(id)
		onPath[id] = true
		best := 0
		for _, c := range n.Children {
			if onPath[c] {
				continue
			}
			if _, ok := tree.Node(c); !ok {
				continue
			}
			if d := depth(c) + 1; d > best {
				best = d
			}
		}
		onPath[id] = false
		memo[id] = best
		return best
	}
	return depth(tree.RootNodeID)
}

// Reachable returns the ids of nodes reachable from the root, in visit order.
func Reachable(tree *model.Tree) []string {
	if _, ok := tree.Root(); !ok {
		return nil
	}
	seen := map[string]bool{tree.RootNodeID: true}
	order := []string{tree.RootNodeID}
	for i := 0; i < len(order); i++ {
		n, _ := tree.Node(order[i])
		for _, c := range n.Children {
			if seen[c] {
				continue
			}
			if _, ok := tree.Node(c); !ok {
				continue
			}
			seen[c] = true
			order = append(order, c)
		}
	}
	return order
}

// Report summarizes which reachable nodes a suite exercised.
type Report struct {
	Reachable int      `json:"reachable"`
	Visited   int      `json:"visited"`
	Ratio     float64  `json:"ratio"`
	Unvisited []string `json:"unvisited"`
	MaxDepth  int      `json:"max_depth"`
	Leaves    int      `json:"leaves"`
}

// Coverage counts the reachable nodes that appear in at least one result's
// actual path. suite may be nil.
func Coverage(tree *model.Tree, suite *model.TestSuite) Report {
	visited := map[string]bool{}
	if suite != nil {
		for _, r := range suite.Results {
			for _, id := range r.ActualPath {
				visited[id] = true
			}
		}
	}

	r := Report{Unvisited: []string{}, MaxDepth: MaxDepth(tree)}
	for _, id := range Reachable(tree) {
		r.Reachable++
		n, _ := tree.Node(id)
		if len(n.Children) == 0 || n.IsTerminal() {
			r.Leaves++
		}
		if visited[id] {
			r.Visited++
		} else {
			r.Unvisited = append(r.Unvisited, id)
		}
	}
	if r.Reachable > 0 {
		r.Ratio = float64(r.Visited) / float64(r.Reachable)
	}
	return r
}

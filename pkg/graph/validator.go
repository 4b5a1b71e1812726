// Package graph validates the structure of workflow node graphs.
//
// Validate is pure: it performs no I/O, never mutates its input and returns
// the same errors in the same order for the same node list. Every check runs
// and contributes all of its violations, so callers can show the complete
// list at once.
package graph

import (
	"fmt"
	"maps"
	"slices"

	"github.com/guildhall/guildhall/pkg/models"
)

// Validate checks the structural invariants of a workflow graph:
// a single trigger, well-formed edges, no cycles, full reachability from the
// trigger and, for multi-node graphs, at least one response node.
func Validate(nodes []models.NodeView) models.ValidationResult {
	g := newIndex(nodes)

	errs := make([]models.ValidationError, 0)
	errs = append(errs, g.checkTriggers()...)
	errs = append(errs, g.checkEdges()...)
	errs = append(errs, g.checkCycles()...)
	errs = append(errs, g.checkReachability()...)
	errs = append(errs, g.checkResponse()...)

	return models.ValidationResult{
		Valid:  len(errs) == 0,
		Errors: errs,
	}
}

type index struct {
	nodes    []models.NodeView
	byID     map[string]int // first occurrence wins
	triggers []int
}

func newIndex(nodes []models.NodeView) *index {
	g := &index{
		nodes: nodes,
		byID:  make(map[string]int, len(nodes)),
	}

	for i, node := range nodes {
		if _, seen := g.byID[node.ID]; !seen {
			g.byID[node.ID] = i
		}

		if node.NodeType == models.NodeTypeTrigger {
			g.triggers = append(g.triggers, i)
		}
	}

	return g
}

// EdgeKeys returns the edge map keys of a node: declared outputs first in
// port order, then undeclared keys sorted, so iteration never depends on map
// order.
func EdgeKeys(node models.NodeView) []string {
	keys := make([]string, 0, len(node.NodeData.Edges))

	for _, port := range node.NodeData.Ports.Outputs {
		if _, ok := node.NodeData.Edges[port.ID]; ok && !slices.Contains(keys, port.ID) {
			keys = append(keys, port.ID)
		}
	}

	for _, key := range slices.Sorted(maps.Keys(node.NodeData.Edges)) {
		if !slices.Contains(keys, key) {
			keys = append(keys, key)
		}
	}

	return keys
}

// successors returns the indexes of existing nodes targeted by node i, in
// edge order. Targets that do not exist are skipped; checkEdges reports them.
func (g *index) successors(i int) []int {
	node := g.nodes[i]

	var next []int

	for _, key := range EdgeKeys(node) {
		for _, edge := range node.NodeData.Edges[key] {
			if j, ok := g.byID[edge.TargetNodeID]; ok {
				next = append(next, j)
			}
		}
	}

	return next
}

func (g *index) checkTriggers() []models.ValidationError {
	switch n := len(g.triggers); {
	case n == 0:
		return []models.ValidationError{{
			Code:    models.CodeMissingTrigger,
			Message: "workflow must have a trigger node",
		}}
	case n > 1:
		return []models.ValidationError{{
			Code:    models.CodeMultipleTriggers,
			Message: fmt.Sprintf("workflow must have exactly one trigger node, found %d", n),
		}}
	default:
		return nil
	}
}

func (g *index) checkEdges() []models.ValidationError {
	var errs []models.ValidationError

	for _, node := range g.nodes {
		for _, portID := range EdgeKeys(node) {
			field := "nodeData.edges." + portID

			if !node.NodeData.Ports.HasOutput(portID) {
				errs = append(errs, models.ValidationError{
					Code:    models.CodeInvalidOutputPort,
					Message: fmt.Sprintf("node %q has edges on unknown output port %q", node.ID, portID),
					NodeID:  node.ID,
					Field:   field,
				})
			}

			for k, edge := range node.NodeData.Edges[portID] {
				edgeField := fmt.Sprintf("%s[%d]", field, k)

				j, ok := g.byID[edge.TargetNodeID]
				if !ok {
					errs = append(errs, models.ValidationError{
						Code:    models.CodeInvalidTargetNode,
						Message: fmt.Sprintf("node %q connects to unknown node %q", node.ID, edge.TargetNodeID),
						NodeID:  node.ID,
						Field:   edgeField + ".targetNodeId",
					})

					continue
				}

				if !g.nodes[j].NodeData.Ports.HasInput(edge.TargetPortID) {
					errs = append(errs, models.ValidationError{
						Code: models.CodeInvalidTargetPort,
						Message: fmt.Sprintf("node %q connects to unknown input port %q on node %q",
							node.ID, edge.TargetPortID, edge.TargetNodeID),
						NodeID: node.ID,
						Field:  edgeField + ".targetPortId",
					})
				}
			}
		}
	}

	return errs
}

const (
	white = iota // not visited
	grey         // on the current DFS path
	black        // fully explored
)

type frame struct {
	node int
	next []int
}

// checkCycles runs an iterative depth-first search from every unvisited node
// and stops at the first back-edge into the current path.
func (g *index) checkCycles() []models.ValidationError {
	color := make([]int, len(g.nodes))

	for root := range g.nodes {
		if color[root] != white {
			continue
		}

		color[root] = grey
		stack := []frame{{node: root, next: g.successors(root)}}

		for len(stack) > 0 {
			top := &stack[len(stack)-1]

			if len(top.next) == 0 {
				color[top.node] = black
				stack = stack[:len(stack)-1]

				continue
			}

			target := top.next[0]
			top.next = top.next[1:]

			switch color[target] {
			case grey:
				from := g.nodes[top.node].ID

				return []models.ValidationError{{
					Code:    models.CodeCycleDetected,
					Message: fmt.Sprintf("workflow contains a cycle through node %q", g.nodes[target].ID),
					NodeID:  from,
				}}
			case white:
				color[target] = grey
				stack = append(stack, frame{node: target, next: g.successors(target)})
			}
		}
	}

	return nil
}

// checkReachability reports nodes that cannot be reached from a trigger.
// Without a trigger every node would be reported, which only repeats
// MISSING_TRIGGER, so the check is skipped.
func (g *index) checkReachability() []models.ValidationError {
	if len(g.triggers) == 0 {
		return nil
	}

	visited := make([]bool, len(g.nodes))
	queue := slices.Clone(g.triggers)

	for _, t := range g.triggers {
		visited[t] = true
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, next := range g.successors(current) {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}

	var errs []models.ValidationError

	for i, node := range g.nodes {
		if visited[i] || node.NodeType == models.NodeTypeTrigger {
			continue
		}

		// A duplicate id shares reachability with its first occurrence.
		if first := g.byID[node.ID]; first != i && visited[first] {
			continue
		}

		errs = append(errs, models.ValidationError{
			Code:    models.CodeDisconnectedNode,
			Message: fmt.Sprintf("node %q is not reachable from the trigger", node.ID),
			NodeID:  node.ID,
		})
	}

	return errs
}

func (g *index) checkResponse() []models.ValidationError {
	if len(g.nodes) <= 1 {
		return nil
	}

	for _, node := range g.nodes {
		if node.NodeType == models.NodeTypeResponse {
			return nil
		}
	}

	return []models.ValidationError{{
		Code:    models.CodeNoResponse,
		Message: "workflow with more than one node must have a response node",
	}}
}

// Package engine implements the workflow execution engine: the path
// resolver, variable resolver, task primitives, handler registry, and
// graph scheduler described by the workflow specification. This is the
// core of the service — everything in services/workflow is a thin HTTP
// shim around it.
package engine

import (
	"fmt"
	"strings"
)

// Value is the dynamic, recursively-typed value carried through node
// parameters and execution state: nil, bool, float64, string, []Value,
// or map[string]Value. This mirrors exactly what encoding/json decodes
// JSON into, so payloads pass through the engine without a parallel
// decode step.
type Value = any

// ConnectionTarget is a single outgoing edge endpoint.
type ConnectionTarget struct {
	Node  string `json:"node"`
	Type  string `json:"type"`
	Index int    `json:"index"`
}

// Connections maps a source node name to its output-type buckets
// ("main") to an ordered list of output ports, each a list of targets.
// Connections["A"]["main"][0] is output port 0 of node A.
type Connections map[string]map[string][][]ConnectionTarget

// Node is a single vertex in the workflow graph.
type Node struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Type        string             `json:"type"`
	TypeVersion float64            `json:"typeVersion"`
	Position    [2]float64         `json:"position"`
	Parameters  map[string]Value   `json:"parameters"`
	Credentials map[string]Value   `json:"credentials,omitempty"`
	Disabled    bool               `json:"disabled"`
	Notes       *string            `json:"notes,omitempty"`
}

// WorkflowPayload is the full declarative workflow description accepted
// by the execute endpoint.
type WorkflowPayload struct {
	Name        string           `json:"name"`
	Nodes       []Node           `json:"nodes"`
	Connections Connections      `json:"connections"`
	Meta        map[string]Value `json:"meta,omitempty"`
	PinData     map[string]Value `json:"pinData,omitempty"`
	Settings    map[string]Value `json:"settings,omitempty"`
}

// NodesByName builds a name -> Node lookup on demand. O(N) per call,
// same tradeoff the teacher's storage layer makes for its id-keyed maps.
func (w *WorkflowPayload) NodesByName() map[string]Node {
	m := make(map[string]Node, len(w.Nodes))
	for _, n := range w.Nodes {
		m[n.Name] = n
	}
	return m
}

// manualTriggerSubstr is the marker substring identifying the start node.
const manualTriggerSubstr = "manual_trigger"

// findStartNode returns the unique node whose type contains
// "manual_trigger". Errors if none or more than one exists.
func findStartNode(nodes []Node) (string, error) {
	start := ""
	count := 0
	for _, n := range nodes {
		if strings.Contains(n.Type, manualTriggerSubstr) {
			if count == 0 {
				start = n.Name
			}
			count++
		}
	}
	switch count {
	case 0:
		return "", fmt.Errorf("invalid workflow: no manual_trigger node found")
	case 1:
		return start, nil
	default:
		return "", fmt.Errorf("invalid workflow: expected exactly one manual_trigger node, found %d", count)
	}
}

// validateConnections checks that every node named as a connection
// source or target actually exists among the workflow's nodes.
func validateConnections(nodes []Node, conns Connections) error {
	known := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		known[n.Name] = true
	}
	for source, byType := range conns {
		if !known[source] {
			return fmt.Errorf("connections reference unknown source node %q", source)
		}
		for _, ports := range byType {
			for _, targets := range ports {
				for _, t := range targets {
					if !known[t.Node] {
						return fmt.Errorf("connections reference unknown target node %q", t.Node)
					}
				}
			}
		}
	}
	return nil
}

// computeInDegree sums incoming edges per node across every source's
// output ports, then adds the virtual +1 that lets the scheduler fire
// the start node without any real upstream.
func computeInDegree(nodes []Node, conns Connections, startName string) map[string]int {
	inDegree := make(map[string]int, len(nodes))
	for _, n := range nodes {
		inDegree[n.Name] = 0
	}
	for _, byType := range conns {
		for _, ports := range byType {
			for _, targets := range ports {
				for _, t := range targets {
					inDegree[t.Node]++
				}
			}
		}
	}
	inDegree[startName]++
	return inDegree
}

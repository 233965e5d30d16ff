package engine

import (
	"context"
	"testing"
)

func startNode(name string) Node {
	return Node{ID: name, Name: name, Type: "manual_trigger", Parameters: map[string]Value{}}
}

func TestEngineRunLinearFlow(t *testing.T) {
	payload := WorkflowPayload{
		Name: "linear",
		Nodes: []Node{
			startNode("start"),
			{ID: "add", Name: "add", Type: "calculate", Parameters: map[string]Value{
				"operation": "add",
				"numbers":   []Value{float64(2), float64(3)},
			}},
		},
		Connections: Connections{
			"start": {"main": [][]ConnectionTarget{{{Node: "add"}}}},
		},
	}

	eng, err := New(payload)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	state, err := eng.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if state["add"] != float64(5) {
		t.Errorf("expected add result 5, got %v", state["add"])
	}
}

func TestEngineRunSkipsFalseBranch(t *testing.T) {
	payload := WorkflowPayload{
		Name: "branch",
		Nodes: []Node{
			startNode("start"),
			{ID: "cond", Name: "cond", Type: "condition", Parameters: map[string]Value{
				"left": float64(1), "operator": ">", "right": float64(5),
			}},
			{ID: "onTrue", Name: "onTrue", Type: "print", Parameters: map[string]Value{"content": "true branch"}},
			{ID: "onFalse", Name: "onFalse", Type: "print", Parameters: map[string]Value{"content": "false branch"}},
		},
		Connections: Connections{
			"start": {"main": [][]ConnectionTarget{{{Node: "cond"}}}},
			"cond":  {"main": [][]ConnectionTarget{{{Node: "onTrue"}}, {{Node: "onFalse"}}}},
		},
	}

	eng, err := New(payload)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	state, err := eng.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	onTrue, ok := state["onTrue"].(map[string]Value)
	if !ok || onTrue["status"] != "skipped" {
		t.Errorf("expected onTrue skipped, got %v", state["onTrue"])
	}
	if state["onFalse"] != "false branch" {
		t.Errorf("expected onFalse to execute and print its content, got %v", state["onFalse"])
	}
}

func TestEngineRunMergeWaitsForAllBranches(t *testing.T) {
	payload := WorkflowPayload{
		Name: "merge",
		Nodes: []Node{
			startNode("start"),
			{ID: "cond", Name: "cond", Type: "condition", Parameters: map[string]Value{
				"left": float64(1), "operator": "<", "right": float64(5),
			}},
			{ID: "onTrue", Name: "onTrue", Type: "set", Parameters: map[string]Value{"value": "A"}},
			{ID: "onFalse", Name: "onFalse", Type: "set", Parameters: map[string]Value{"value": "B"}},
			{ID: "join", Name: "join", Type: "merge", Parameters: map[string]Value{}},
		},
		Connections: Connections{
			"start":   {"main": [][]ConnectionTarget{{{Node: "cond"}}}},
			"cond":    {"main": [][]ConnectionTarget{{{Node: "onTrue"}}, {{Node: "onFalse"}}}},
			"onTrue":  {"main": [][]ConnectionTarget{{{Node: "join"}}}},
			"onFalse": {"main": [][]ConnectionTarget{{{Node: "join"}}}},
		},
	}

	eng, err := New(payload)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	state, err := eng.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	joined, ok := state["join"].([]Value)
	if !ok {
		t.Fatalf("expected join result to be a list, got %T: %v", state["join"], state["join"])
	}
	if len(joined) != 1 || joined[0] != "A" {
		t.Errorf("expected merge to receive only the live branch's value [A], got %v", joined)
	}
}

func TestEngineRunMarksUnreachableNodeStuck(t *testing.T) {
	payload := WorkflowPayload{
		Name: "island",
		Nodes: []Node{
			startNode("start"),
			{ID: "orphan", Name: "orphan", Type: "print", Parameters: map[string]Value{"content": "never runs"}},
		},
		Connections: Connections{
			"orphan": {"main": [][]ConnectionTarget{}},
		},
	}

	eng, err := New(payload)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	state, err := eng.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	m, ok := state["orphan"].(map[string]Value)
	if !ok {
		t.Fatalf("expected a map result for orphan, got %v", state["orphan"])
	}
	if _, ok := m["error"]; !ok {
		t.Errorf("expected orphan to be marked stuck, got %v", m)
	}
}

func TestEngineRunNodeErrorPropagatesSkipDownstream(t *testing.T) {
	payload := WorkflowPayload{
		Name: "failing",
		Nodes: []Node{
			startNode("start"),
			{ID: "divide", Name: "divide", Type: "calculate", Parameters: map[string]Value{
				"operation": "divide",
				"numbers":   []Value{float64(1), float64(0)},
			}},
			{ID: "after", Name: "after", Type: "print", Parameters: map[string]Value{"content": "after"}},
		},
		Connections: Connections{
			"start":  {"main": [][]ConnectionTarget{{{Node: "divide"}}}},
			"divide": {"main": [][]ConnectionTarget{{{Node: "after"}}}},
		},
	}

	eng, err := New(payload)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	state, err := eng.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if _, ok := state["divide"].(map[string]Value)["error"]; !ok {
		t.Errorf("expected divide node to record an error, got %v", state["divide"])
	}
	if state["after"].(map[string]Value)["status"] != "skipped" {
		t.Errorf("expected downstream node skipped after upstream error, got %v", state["after"])
	}
}

func TestNewRejectsMissingStartNode(t *testing.T) {
	payload := WorkflowPayload{
		Name:  "no-start",
		Nodes: []Node{{ID: "a", Name: "a", Type: "print", Parameters: map[string]Value{}}},
	}
	if _, err := New(payload); err == nil {
		t.Error("expected error for workflow with no manual_trigger node")
	}
}

func TestNewRejectsDanglingConnection(t *testing.T) {
	payload := WorkflowPayload{
		Name:  "dangling",
		Nodes: []Node{startNode("start")},
		Connections: Connections{
			"start": {"main": [][]ConnectionTarget{{{Node: "ghost"}}}},
		},
	}
	if _, err := New(payload); err == nil {
		t.Error("expected error for connection referencing an unknown node")
	}
}

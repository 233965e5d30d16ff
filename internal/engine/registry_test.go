package engine

import (
	"context"
	"reflect"
	"testing"
)

func TestGetHandlerNativeType(t *testing.T) {
	h := getHandler("calculate")
	result, _, err := h(context.Background(), map[string]Value{"operation": "add", "numbers": []Value{float64(1), float64(2)}}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != float64(3) {
		t.Errorf("expected 3, got %v", result)
	}
}

func TestGetHandlerN8nCompatibilityMapping(t *testing.T) {
	h := getHandler("n8n-nodes-base.if")
	_, port, err := h(context.Background(), map[string]Value{"left": float64(1), "operator": "<", "right": float64(2)}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if port != 0 {
		t.Errorf("expected true branch port 0, got %d", port)
	}
}

func TestGetHandlerUnknownTypeFallsBackToNoOp(t *testing.T) {
	h := getHandler("totally-unrecognized-type")
	result, port, err := h(context.Background(), nil, "passthrough", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if port != 0 || result != "passthrough" {
		t.Errorf("expected no-op passthrough on port 0, got %v port %d", result, port)
	}
}

func TestHandleSwitchMatchesFirstOccurrence(t *testing.T) {
	params := map[string]Value{
		"value": "b",
		"cases": []Value{"a", "b", "b"},
	}
	result, port, err := handleSwitch(context.Background(), params, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if port != 1 {
		t.Errorf("expected first matching case at index 1, got %d", port)
	}
	if m := result.(map[string]Value); m["matched_case"] != "b" {
		t.Errorf("expected matched_case b, got %v", m["matched_case"])
	}
}

func TestHandleSwitchNoMatchRoutesToDefault(t *testing.T) {
	params := map[string]Value{
		"value": "z",
		"cases": []Value{"a", "b"},
	}
	_, port, err := handleSwitch(context.Background(), params, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if port != 2 {
		t.Errorf("expected default port len(cases)=2, got %d", port)
	}
}

func TestHandleMergeReturnsBufferedInputsVerbatim(t *testing.T) {
	inputs := []Value{float64(1), float64(2)}
	result, _, err := handleMerge(context.Background(), nil, Value(inputs), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(result, Value(inputs)) {
		t.Errorf("expected inputs returned unchanged, got %v", result)
	}
}

func TestHandleConditionRoutesByOutcome(t *testing.T) {
	metParams := map[string]Value{"left": float64(5), "operator": ">", "right": float64(1)}
	_, port, err := handleCondition(context.Background(), metParams, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if port != 0 {
		t.Errorf("expected true branch on port 0, got %d", port)
	}

	unmetParams := map[string]Value{"left": float64(1), "operator": ">", "right": float64(5)}
	_, port, err = handleCondition(context.Background(), unmetParams, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if port != 1 {
		t.Errorf("expected false branch on port 1, got %d", port)
	}
}

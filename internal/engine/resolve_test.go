package engine

import (
	"reflect"
	"testing"
)

func TestResolveAllWholeValue(t *testing.T) {
	state := map[string]Value{"weather": map[string]Value{"temp": float64(72)}}

	got, err := ResolveAll(state, "$weather.temp", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != float64(72) {
		t.Errorf("expected 72, got %v", got)
	}
}

func TestResolveAllWholeValuePropagatesError(t *testing.T) {
	state := map[string]Value{}
	if _, err := ResolveAll(state, "$missing", nil); err == nil {
		t.Error("expected whole-value resolution failure to propagate")
	}
}

func TestResolveAllTemplateModeLeavesUnresolvedLiteral(t *testing.T) {
	state := map[string]Value{}
	got, err := ResolveAll(state, "cost is $100 USD", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "cost is $100 USD" {
		t.Errorf("expected literal text preserved, got %q", got)
	}
}

func TestResolveAllTemplateModeSubstitutesOccurrence(t *testing.T) {
	state := map[string]Value{"weather": map[string]Value{"temp": float64(72)}}
	got, err := ResolveAll(state, "it is $weather.temp degrees", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "it is 72.0 degrees" {
		t.Errorf("expected substitution, got %q", got)
	}
}

func TestResolveAllRecursesIntoMapsAndLists(t *testing.T) {
	state := map[string]Value{"x": float64(1)}
	input := map[string]Value{
		"a": "$x",
		"b": []Value{"$x", "literal"},
	}
	got, err := ResolveAll(state, input, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := map[string]Value{
		"a": float64(1),
		"b": []Value{float64(1), "literal"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestResolveAllSkipKeysPassThroughUnresolved(t *testing.T) {
	state := map[string]Value{}
	input := map[string]Value{
		"loopBody": map[string]Value{"value": "$notYetBound"},
		"other":    "literal",
	}
	got, err := ResolveAll(state, input, map[string]bool{"loopBody": true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m := got.(map[string]Value)
	if !reflect.DeepEqual(m["loopBody"], input["loopBody"]) {
		t.Errorf("expected loopBody left untouched, got %v", m["loopBody"])
	}
}

package engine

import "strings"

// ResolveAll recursively walks value, substituting $-prefixed path
// expressions against state. Keys present in skipKeys are passed
// through unresolved at the level they appear — used for control-flow
// node sub-task bodies whose variables only exist during the sub-task's
// own later execution. See spec §4.2.
//
// Whole-value resolution failures propagate as an error (the path was
// meant to be *the* value and couldn't be found). Template-mode
// failures do not: an unresolved occurrence is left verbatim so literal
// text like "$100 USD" survives.
func ResolveAll(state map[string]Value, value Value, skipKeys map[string]bool) (Value, error) {
	switch v := value.(type) {
	case map[string]Value:
		out := make(map[string]Value, len(v))
		for k, sub := range v {
			if skipKeys[k] {
				out[k] = sub
				continue
			}
			resolved, err := ResolveAll(state, sub, skipKeys)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []Value:
		out := make([]Value, len(v))
		for i, sub := range v {
			resolved, err := ResolveAll(state, sub, skipKeys)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	case string:
		if !strings.Contains(v, "$") {
			return v, nil
		}
		if isWholePathExpr(v) {
			return ResolvePath(state, v)
		}
		return pathExprFindPattern.ReplaceAllStringFunc(v, func(match string) string {
			resolved, err := ResolvePath(state, match)
			if err != nil {
				return match
			}
			return stringify(resolved)
		}), nil
	default:
		return value, nil
	}
}

package engine

import (
	"fmt"
	"regexp"
	"strconv"
)

// pathTokenPattern extracts the lenient token stream from a path
// expression: quoted strings or bare \w+ identifiers, in order,
// ignoring dots and brackets entirely. Ported from the lenient parser
// in the Python reference (get_value_from_path).
var pathTokenPattern = regexp.MustCompile(`['"]([^'"]+)['"]|(\w+)`)

// pathExprPattern matches a complete, well-formed path expression
// end-to-end: $ followed by a root (quoted or bare word) and zero or
// more dotted/bracketed segments. Used by the variable resolver to
// distinguish whole-value mode from template mode.
var pathExprPattern = regexp.MustCompile(
	`^\$(?:(?:['"][^'"]+['"])|(?:\w+))(?:(?:\.\w+)|(?:\[['"][^'"]+['"]\])|(?:\[\d+\]))*$`,
)

// pathExprFindPattern is the same grammar without start/end anchors,
// for locating path occurrences embedded in template strings.
var pathExprFindPattern = regexp.MustCompile(
	`\$(?:(?:['"][^'"]+['"])|(?:\w+))(?:(?:\.\w+)|(?:\[['"][^'"]+['"]\])|(?:\[\d+\]))*`,
)

// tokenize extracts the ordered list of identifier/quoted-string
// segments from a path expression, discarding the leading '$' and all
// dots and brackets.
func tokenize(expr string) []string {
	body := expr
	if len(body) > 0 && body[0] == '$' {
		body = body[1:]
	}
	matches := pathTokenPattern.FindAllStringSubmatch(body, -1)
	tokens := make([]string, 0, len(matches))
	for _, m := range matches {
		if m[1] != "" {
			tokens = append(tokens, m[1])
		} else {
			tokens = append(tokens, m[2])
		}
	}
	return tokens
}

// ResolvePath reads a value out of the execution state by walking the
// segments of a $-prefixed path expression. See spec §4.1. A string
// that does not start with '$' is returned unchanged.
func ResolvePath(state map[string]Value, expr string) (Value, error) {
	if len(expr) == 0 || expr[0] != '$' {
		return expr, nil
	}
	tokens := tokenize(expr)
	if len(tokens) == 0 {
		return expr, nil
	}

	root := tokens[0]
	current, ok := state[root]
	if !ok {
		available := make([]string, 0, len(state))
		for k := range state {
			available = append(available, k)
		}
		return nil, fmt.Errorf("variable %q not found. available: %v", root, available)
	}

	for _, seg := range tokens[1:] {
		switch v := current.(type) {
		case map[string]Value:
			next, ok := v[seg]
			if !ok {
				return nil, fmt.Errorf("key %q not found in %s", seg, expr)
			}
			current = next
		case []Value:
			idx, err := strconv.Atoi(seg)
			if err != nil {
				return nil, fmt.Errorf("cannot access %q on list in %s", seg, expr)
			}
			if idx < 0 || idx >= len(v) {
				return nil, fmt.Errorf("index %d out of bounds in %s", idx, expr)
			}
			current = v[idx]
		default:
			return nil, fmt.Errorf("cannot access %q on %T in %s", seg, current, expr)
		}
	}

	return current, nil
}

// isWholePathExpr reports whether s matches the path grammar end to end.
func isWholePathExpr(s string) bool {
	return pathExprPattern.MatchString(s)
}

package engine

import (
	"context"
	"fmt"
	"time"
)

// Handler dispatches a single node's logic. It receives the node's
// resolved parameters, the shaped input data for this invocation, and
// the owning Engine (for HTTP client / telemetry access), and returns
// the node's result plus the output port index that should receive it.
type Handler func(ctx context.Context, params map[string]Value, inputData Value, eng *Engine) (Value, int, error)

// nativeHandlers maps native node-type strings to their handler.
var nativeHandlers = map[string]Handler{
	"print":          handlePrint,
	"set":            handleSet,
	"calculate":      handleCalculate,
	"http":           handleHTTP,
	"delay":          handleDelay,
	"condition":      handleCondition,
	"if":             handleCondition,
	"switch":         handleSwitch,
	"merge":          handleMerge,
	"manual_trigger": handleManualTrigger,
}

// n8nTypeMapping maps external (n8n-compatible) type strings to the
// native handler key that implements the same behavior.
var n8nTypeMapping = map[string]string{
	"n8n-nodes-base.httpRequest":   "http",
	"n8n-nodes-base.if":            "if",
	"n8n-nodes-base.switch":        "switch",
	"n8n-nodes-base.set":           "set",
	"n8n-nodes-base.merge":         "merge",
	"n8n-nodes-base.manualTrigger": "manual_trigger",
	"n8n-nodes-base.wait":          "delay",
	"n8n-nodes-base.noOp":          "set",
}

// getHandler resolves a node type to a handler, trying the native table
// first, then the n8n compatibility mapping, and finally falling back
// to a no-op passthrough handler for unrecognized types. Lookup order
// and fallback match spec §4.4/§7 ("unknown type" is never an error).
func getHandler(nodeType string) Handler {
	if h, ok := nativeHandlers[nodeType]; ok {
		return h
	}
	if native, ok := n8nTypeMapping[nodeType]; ok {
		if h, ok := nativeHandlers[native]; ok {
			return h
		}
	}
	return handleNoOp
}

func handlePrint(_ context.Context, params map[string]Value, inputData Value, _ *Engine) (Value, int, error) {
	if v, ok := params["content"]; ok {
		return doPrint(v), 0, nil
	}
	if v, ok := params["text"]; ok {
		return doPrint(v), 0, nil
	}
	return doPrint(inputData), 0, nil
}

func handleSet(_ context.Context, params map[string]Value, _ Value, _ *Engine) (Value, int, error) {
	if v, ok := params["value"]; ok {
		return v, 0, nil
	}
	return Value(params), 0, nil
}

func handleCalculate(_ context.Context, params map[string]Value, _ Value, _ *Engine) (Value, int, error) {
	op, _ := params["operation"].(string)
	if op == "" {
		op = "add"
	}
	nums, _ := params["numbers"].([]Value)
	result, err := doCalc(op, nums...)
	if err != nil {
		return nil, 0, err
	}
	return result, 0, nil
}

func handleHTTP(ctx context.Context, params map[string]Value, _ Value, eng *Engine) (Value, int, error) {
	url, _ := params["url"].(string)
	if url == "" {
		return nil, 0, fmt.Errorf("http node: missing url")
	}
	method, _ := params["method"].(string)
	if method == "" {
		method = "GET"
	}
	body := params["body"]

	headers := make(map[string]string)
	if h, ok := params["headers"].(map[string]Value); ok {
		for k, v := range h {
			if s, ok := v.(string); ok {
				headers[k] = s
			}
		}
	}

	retries := 0
	if f, ok := toFloat64(params["retries"]); ok {
		retries = int(f)
	}
	retryDelay := 1 * time.Second
	if f, ok := toFloat64(params["retry_delay"]); ok {
		retryDelay = time.Duration(f * float64(time.Second))
	}
	timeout := 30 * time.Second
	if f, ok := toFloat64(params["timeout"]); ok {
		timeout = time.Duration(f * float64(time.Second))
	}

	result, err := doHTTP(ctx, eng.httpClient(), eng.recorder, url, method, body, headers, retries, retryDelay, timeout)
	if err != nil {
		return nil, 0, err
	}
	return result, 0, nil
}

func handleDelay(ctx context.Context, params map[string]Value, _ Value, _ *Engine) (Value, int, error) {
	seconds, ok := toFloat64(params["seconds"])
	if !ok {
		return nil, 0, fmt.Errorf("delay node: missing or invalid seconds")
	}
	if seconds < 0 {
		return nil, 0, fmt.Errorf("delay node: seconds must be non-negative")
	}
	result, err := doDelay(ctx, seconds)
	if err != nil {
		return nil, 0, err
	}
	return result, 0, nil
}

func handleCondition(_ context.Context, params map[string]Value, _ Value, _ *Engine) (Value, int, error) {
	operator, _ := params["operator"].(string)
	met, err := doCondition(params["left"], operator, params["right"])
	if err != nil {
		return nil, 0, err
	}
	result := map[string]Value{"condition_result": met}
	if met {
		return result, 0, nil
	}
	return result, 1, nil
}

// handleSwitch matches params.value against params.cases by
// string-equality, routing to the index of the first matching case,
// or the "default" output port (index len(cases)) if none match.
// Duplicate case values match their first occurrence — see spec §9(b).
func handleSwitch(_ context.Context, params map[string]Value, _ Value, _ *Engine) (Value, int, error) {
	cases, _ := params["cases"].([]Value)
	value := stringify(params["value"])

	for i, c := range cases {
		if stringify(c) == value {
			return map[string]Value{"matched_case": c}, i, nil
		}
	}
	return map[string]Value{"matched_case": "default"}, len(cases), nil
}

// handleMerge returns the full list of inputs the scheduler has already
// buffered and filtered of skip signals — merge is the one node type
// whose input_data is a list rather than a single value.
func handleMerge(_ context.Context, _ map[string]Value, inputData Value, _ *Engine) (Value, int, error) {
	return inputData, 0, nil
}

func handleManualTrigger(_ context.Context, _ map[string]Value, _ Value, _ *Engine) (Value, int, error) {
	return map[string]Value{}, 0, nil
}

func handleNoOp(_ context.Context, _ map[string]Value, inputData Value, _ *Engine) (Value, int, error) {
	return inputData, 0, nil
}

package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/pitabwire/switchboard/model"
)

// Reserved param keys consumed by the api strategy and never sent as body.
const (
	paramPath       = "path"
	paramQuery      = "query"
	paramHeaders    = "headers"
	paramPathParams = "path_params"
	paramBody       = "body"
)

// stringParam returns params[key] as a string. Non-string scalars are
// formatted with fmt.
func stringParam(params map[string]any, key string) string {
	v, ok := params[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// stringMapParam returns params[key] as a string map. It accepts
// map[string]any (from JSON or YAML) and map[string]string.
func stringMapParam(params map[string]any, key string) map[string]string {
	switch m := params[key].(type) {
	case map[string]string:
		return m
	case map[string]any:
		out := make(map[string]string, len(m))
		for k, v := range m {
			if v == nil {
				continue
			}
			out[k] = fmt.Sprint(v)
		}
		return out
	}
	return nil
}

// sortedKeys returns the keys of m in lexical order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// textContent renders v as file or body text: strings verbatim, everything
// else as JSON.
func textContent(v any) (string, error) {
	switch c := v.(type) {
	case nil:
		return "", nil
	case string:
		return c, nil
	case []byte:
		return string(c), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// contextFailure converts a finished context into a failed envelope. The
// second return value is false while ctx is still live.
func contextFailure(ctx context.Context, what string) (model.Response, bool) {
	switch err := ctx.Err(); {
	case err == nil:
		return model.Response{}, false
	case errors.Is(err, context.DeadlineExceeded):
		return model.Fail(model.ErrTimeout, what+" timed out"), true
	default:
		return model.Fail(model.ErrCancelled, what+" cancelled"), true
	}
}

// sanitizeHeader strips newlines and carriage returns to prevent header injection.
func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	return s
}

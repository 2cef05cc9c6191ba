package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/pitabwire/switchboard/model"
)

// errFailed is returned by commands whose invocation produced a failed
// envelope. The envelope itself has already been printed.
var errFailed = errors.New("invocation failed")

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printResponse writes the envelope and reports errFailed when it is not a
// success.
func printResponse(w io.Writer, resp model.Response) error {
	if err := printJSON(w, resp); err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("%w: %s", errFailed, resp.Code)
	}
	return nil
}

// describeError expands an envelope's field details into the error text.
func describeError(err error) error {
	var ee *model.ErrorEnvelope
	if !errors.As(err, &ee) || len(ee.Details) == 0 {
		return err
	}
	var b strings.Builder
	b.WriteString(ee.Message)
	for _, d := range ee.Details {
		fmt.Fprintf(&b, "\n  %s [%s]: %s", d.Field, d.Code, d.Message)
	}
	return errors.New(b.String())
}

// parseParams decodes a JSON object given on the command line. Empty input
// yields nil.
func parseParams(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var params map[string]any
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return nil, fmt.Errorf("params must be a JSON object: %w", err)
	}
	return params, nil
}

// parseVars turns repeated key=value flags into a variable map, layered over
// base.
func parseVars(base map[string]any, pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return base, nil
	}
	vars := make(map[string]any, len(base)+len(pairs))
	for k, v := range base {
		vars[k] = v
	}
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("variable %q is not key=value", p)
		}
		vars[k] = v
	}
	return vars, nil
}

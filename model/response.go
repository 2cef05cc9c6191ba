package model

import (
	"bytes"
	"encoding/json"
	"maps"
)

// Response is the single result type returned by every connector invocation
// and every workflow step.
type Response struct {
	Success  bool           `json:"success"`
	Data     any            `json:"data,omitempty"`
	Error    string         `json:"error,omitempty"`
	Code     string         `json:"code,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Cached   bool           `json:"cached"`
	// Duration is wall-clock milliseconds spent dispatching.
	Duration int64 `json:"duration"`
}

// OK returns a successful response carrying data.
func OK(data any) Response {
	return Response{Success: true, Data: data}
}

// Fail returns a failed response. An empty message is replaced by the code so
// that a failed response always carries an error.
func Fail(code, msg string) Response {
	if msg == "" {
		msg = code
	}
	return Response{Success: false, Code: code, Error: msg}
}

// FailWithData returns a failed response that still carries data, such as a
// parsed error body or captured process output.
func FailWithData(code, msg string, data any) Response {
	r := Fail(code, msg)
	r.Data = data
	return r
}

// WithMetadata returns r with key set in its metadata map. The map is copied
// so responses sharing a map are not mutated.
func (r Response) WithMetadata(key string, value any) Response {
	md := make(map[string]any, len(r.Metadata)+1)
	maps.Copy(md, r.Metadata)
	md[key] = value
	r.Metadata = md
	return r
}

// Clone returns a copy of r with its own metadata map. Data is shared.
func (r Response) Clone() Response {
	if r.Metadata != nil {
		r.Metadata = maps.Clone(r.Metadata)
	}
	return r
}

// UnmarshalJSON decodes a response without losing integer precision:
// integral numbers in data and metadata come back as int64, the rest as
// float64. Stored envelopes (Redis cache, idempotency records, persisted
// runs) therefore keep large ids intact.
func (r *Response) UnmarshalJSON(b []byte) error {
	type plain Response
	var p plain
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return err
	}
	p.Data = restoreNumbers(p.Data)
	for k, v := range p.Metadata {
		p.Metadata[k] = restoreNumbers(v)
	}
	*r = Response(p)
	return nil
}

func restoreNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		for k, item := range t {
			t[k] = restoreNumbers(item)
		}
	case []any:
		for i, item := range t {
			t[i] = restoreNumbers(item)
		}
	}
	return v
}

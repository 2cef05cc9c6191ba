package transport

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/pitabwire/switchboard/model"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// invocationBody carries the editor state a host may attach to a call.
type invocationBody struct {
	ActiveFile  string `json:"activeFile"`
	Selection   string `json:"selection"`
	Language    string `json:"language"`
	UserRequest string `json:"userRequest"`
}

func (b *invocationBody) apply(base model.InvocationContext) model.InvocationContext {
	if b == nil {
		return base
	}
	base.ActiveFile = b.ActiveFile
	base.Selection = b.Selection
	base.Language = b.Language
	if b.UserRequest != "" {
		base.UserRequest = b.UserRequest
	}
	return base
}

// decodeBody decodes an optional JSON body into dst. An empty body leaves
// dst untouched.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return model.NewBadRequestError("invalid JSON body: " + err.Error())
	}
	return nil
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

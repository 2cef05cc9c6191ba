package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/pitabwire/switchboard/internal/openapi"
	"github.com/pitabwire/switchboard/model"
)

// apiMethods maps verb actions to HTTP methods.
var apiMethods = map[string]string{
	"get":    http.MethodGet,
	"post":   http.MethodPost,
	"put":    http.MethodPut,
	"patch":  http.MethodPatch,
	"delete": http.MethodDelete,
}

// apiStrategy calls HTTP APIs.
type apiStrategy struct {
	http  *httpCaller
	specs *openapi.Index
	now   func() time.Time
}

// apiTarget is a resolved method and URL for one call.
type apiTarget struct {
	method      string
	url         string
	operationID string
}

func (s *apiStrategy) execute(ctx context.Context, conn model.Connector, cfg *model.APIConfig, c call) model.Response {
	target, fail := s.resolve(conn.ID, cfg, c)
	if fail != nil {
		return *fail
	}

	var body []byte
	if carriesBody(target.method) {
		payload := requestBody(c.params)
		if target.operationID != "" && s.specs != nil {
			if obj, ok := payload.(map[string]any); ok {
				if errs := s.specs.ValidateRequest(conn.ID, target.operationID, obj); len(errs) > 0 {
					return model.FailWithData(model.ErrBadRequest,
						fmt.Sprintf("%s: %s", target.operationID, errs[0].Message), errs)
				}
			}
		}
		if payload != nil {
			b, err := marshalBody(payload)
			if err != nil {
				return model.Fail(model.ErrBadRequest, "encode body: "+err.Error())
			}
			body = b
		}
	}

	header, err := s.buildHeaders(cfg, c.params, target.method)
	if err != nil {
		return model.Fail(model.ErrDispatchFailure, fmt.Sprintf("connector %s auth: %v", conn.ID, err))
	}

	res, err := s.http.do(ctx, conn.ID, cfg.Retries, httpRequest{
		method: target.method,
		url:    target.url,
		header: header,
		body:   body,
	})
	if err != nil {
		return httpFailure(ctx, conn.ID, err)
	}

	if res.status >= 400 {
		return model.FailWithData(model.ErrDispatchFailure, res.statusText, res.body).
			WithMetadata("status", res.status)
	}
	return model.OK(res.body).
		WithMetadata("status", res.status).
		WithMetadata("method", target.method)
}

// resolve picks the method and URL. Verb actions use the endpoint plus
// params.path; other actions are looked up as OpenAPI operationIds when the
// connector has a document, and otherwise use the configured method.
func (s *apiStrategy) resolve(connectorID string, cfg *model.APIConfig, c call) (apiTarget, *model.Response) {
	action := strings.ToLower(c.action)
	if method, ok := apiMethods[action]; ok {
		return apiTarget{method: method, url: joinURL(cfg.Endpoint, stringParam(c.params, paramPath), c.params)}, nil
	}

	if cfg.OpenAPI != "" && s.specs != nil {
		specPath := cfg.OpenAPI
		if !filepath.IsAbs(specPath) && c.ictx.WorkspaceRoot != "" {
			specPath = filepath.Join(c.ictx.WorkspaceRoot, specPath)
		}
		err := s.specs.Ensure(openapi.SpecSource{
			ConnectorID: connectorID,
			BaseURL:     cfg.Endpoint,
			SpecPath:    specPath,
		})
		if err != nil {
			resp := model.Fail(model.ErrDispatchFailure, err.Error())
			return apiTarget{}, &resp
		}
		op, ok := s.specs.GetOperation(connectorID, c.action)
		if !ok {
			resp := model.Fail(model.ErrNotFound, fmt.Sprintf("connector %s has no operation %q", connectorID, c.action))
			return apiTarget{}, &resp
		}
		path := op.PathTemplate
		for name, value := range stringMapParam(c.params, paramPathParams) {
			path = strings.ReplaceAll(path, "{"+name+"}", url.PathEscape(value))
		}
		return apiTarget{
			method:      strings.ToUpper(op.Method),
			url:         joinURL(op.BaseURL, path, c.params),
			operationID: op.OperationID,
		}, nil
	}

	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodGet
	}
	return apiTarget{method: method, url: joinURL(cfg.Endpoint, stringParam(c.params, paramPath), c.params)}, nil
}

func (s *apiStrategy) buildHeaders(cfg *model.APIConfig, params map[string]any, method string) (http.Header, error) {
	h := make(http.Header)
	h.Set("Accept", "application/json")
	if carriesBody(method) {
		h.Set("Content-Type", "application/json")
	}
	for _, k := range sortedKeys(cfg.Headers) {
		h.Set(sanitizeHeader(k), sanitizeHeader(cfg.Headers[k]))
	}
	// Per-call headers override static ones.
	extra := stringMapParam(params, paramHeaders)
	for _, k := range sortedKeys(extra) {
		h.Set(sanitizeHeader(k), sanitizeHeader(extra[k]))
	}
	if err := applyAuth(h, cfg.Auth, s.now()); err != nil {
		return nil, err
	}
	return h, nil
}

// joinURL appends path to endpoint and encodes params.query.
func joinURL(endpoint, path string, params map[string]any) string {
	u := strings.TrimRight(endpoint, "/")
	if path != "" {
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		u += path
	}

	query := stringMapParam(params, paramQuery)
	if len(query) == 0 {
		return u
	}
	values := url.Values{}
	for k, v := range query {
		values.Set(k, v)
	}
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return u + sep + values.Encode()
}

func carriesBody(method string) bool {
	return method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch
}

// requestBody returns params.body, or the params without the reserved keys
// when no explicit body is given. Nil means no body.
func requestBody(params map[string]any) any {
	if b, ok := params[paramBody]; ok {
		return b
	}
	rest := maps.Clone(params)
	for _, k := range []string{paramPath, paramQuery, paramHeaders, paramPathParams} {
		delete(rest, k)
	}
	if len(rest) == 0 {
		return nil
	}
	return rest
}

func marshalBody(v any) ([]byte, error) {
	if s, ok := v.(string); ok {
		return []byte(s), nil
	}
	return json.Marshal(v)
}

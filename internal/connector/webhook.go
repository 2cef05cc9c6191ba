package connector

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pitabwire/switchboard/model"
)

// SignatureHeader carries the hex HMAC-SHA256 of a webhook body, prefixed
// with "sha256=".
const SignatureHeader = "X-Switchboard-Signature"

// webhookStrategy posts invocation envelopes to a URL.
type webhookStrategy struct {
	http *httpCaller
	now  func() time.Time
}

func (s *webhookStrategy) execute(ctx context.Context, conn model.Connector, cfg *model.WebhookConfig, c call) model.Response {
	if cfg.URL == "" {
		return model.Fail(model.ErrBadRequest, fmt.Sprintf("webhook connector %s has no url", conn.ID))
	}

	params := c.params
	if params == nil {
		params = map[string]any{}
	}
	body, err := json.Marshal(map[string]any{
		"action":    c.action,
		"params":    params,
		"context":   c.ictx.AsMap(),
		"timestamp": s.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return model.Fail(model.ErrBadRequest, "encode payload: "+err.Error())
	}

	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	h.Set("User-Agent", "switchboard")
	for _, k := range sortedKeys(cfg.Headers) {
		h.Set(sanitizeHeader(k), sanitizeHeader(cfg.Headers[k]))
	}
	if cfg.Secret != "" {
		h.Set(SignatureHeader, Sign(cfg.Secret, body))
	}

	res, err := s.http.do(ctx, conn.ID, cfg.Retries, httpRequest{
		method: http.MethodPost,
		url:    cfg.URL,
		header: h,
		body:   body,
	})
	if err != nil {
		return httpFailure(ctx, conn.ID, err)
	}

	if res.status < 200 || res.status >= 400 {
		return model.FailWithData(model.ErrDispatchFailure, res.statusText, res.body).
			WithMetadata("status", res.status)
	}
	return model.OK(map[string]any{
		"status":   res.status,
		"response": res.body,
	}).WithMetadata("status", res.status)
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

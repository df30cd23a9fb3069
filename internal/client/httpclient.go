// Package client holds the outbound collaborators of the approval service:
// the roster lookup, the entity catalog and the NATS notification publisher.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/transformhub/be-tm-approvals/internal/apperrors"
)

const defaultHTTPTimeout = 10 * time.Second

// httpGet performs a GET against baseURL+path (with query params) and decodes
// the JSON response into out. A 404 maps to a NotFound error; any other
// non-2xx status maps to an internal error carrying the upstream status.
func httpGet(ctx context.Context, hc *http.Client, baseURL, path string, query url.Values, out any) error {
	u := strings.TrimRight(baseURL, "/") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "collaborator request failed")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return apperrors.NotFound("resource", path)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return apperrors.Newf(apperrors.CodeInternal,
			"collaborator returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "decode collaborator response")
	}
	return nil
}

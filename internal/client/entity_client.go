package client

import (
	"context"
	"net/http"
	"net/url"

	"github.com/transformhub/be-tm-approvals/internal/service"
)

// EntityCatalogClient implements service.EntityCatalog against the entity
// catalog, which fronts the per-entity repositories (test cases, test plans,
// process steps, ...) with a uniform describe endpoint.
type EntityCatalogClient struct {
	baseURL string
	http    *http.Client
}

// NewEntityCatalogClient creates a catalog client for the given base URL.
func NewEntityCatalogClient(baseURL string) *EntityCatalogClient {
	return &EntityCatalogClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultHTTPTimeout},
	}
}

// Describe returns the display metadata (title, code) of an entity. Unknown
// entities surface as NotFound.
func (c *EntityCatalogClient) Describe(ctx context.Context, entityType, entityID string) (*service.EntityMeta, error) {
	path := "/api/v1/catalog/" + url.PathEscape(entityType) + "/" + url.PathEscape(entityID)

	var meta service.EntityMeta
	if err := httpGet(ctx, c.http, c.baseURL, path, nil, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

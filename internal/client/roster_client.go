package client

import (
	"context"
	"net/http"
	"net/url"
)

// RosterClient implements service.RosterLookup against the program roster
// service, which knows role membership per program.
type RosterClient struct {
	baseURL string
	http    *http.Client
}

// NewRosterClient creates a roster client for the given base URL.
func NewRosterClient(baseURL string) *RosterClient {
	return &RosterClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultHTTPTimeout},
	}
}

type eligibleResponse struct {
	Eligible bool `json:"eligible"`
	Count    int  `json:"count"`
}

// HasEligibleApprover reports whether at least one member of the program
// holds the given role.
func (c *RosterClient) HasEligibleApprover(ctx context.Context, role, programID string) (bool, error) {
	query := url.Values{}
	query.Set("program_id", programID)
	query.Set("role", role)

	var resp eligibleResponse
	if err := httpGet(ctx, c.http, c.baseURL, "/api/v1/roster/eligible", query, &resp); err != nil {
		return false, err
	}
	return resp.Eligible, nil
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

var errMissingServiceToken = errors.New("missing KIRAKIRA_SERVICE_TOKEN (see issue-service-token)")

// adminClient calls the admin endpoints with the operator's bearer token.
type adminClient struct {
	baseURL string
	http    *http.Client
}

func newAdminClient(ctx context.Context, baseURL, serviceToken string) (*adminClient, error) {
	if serviceToken == "" {
		return nil, errMissingServiceToken
	}
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: serviceToken, TokenType: "Bearer"})
	hc := oauth2.NewClient(ctx, src)
	// Recompute walks every user.
	hc.Timeout = 10 * time.Minute
	return &adminClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    hc,
	}, nil
}

// post calls path and returns the response body. Non-2xx answers become
// errors carrying the API's error message.
func (c *adminClient) post(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("%s: %d %s", path, resp.StatusCode, apiErr.Error)
		}
		return nil, fmt.Errorf("%s: unexpected status %d", path, resp.StatusCode)
	}
	return body, nil
}

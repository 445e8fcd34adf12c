// Package identity verifies OAuth access tokens into external identities.
// The rest of the core only ever sees the opaque verified identifier.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/chantier-hq/chantier/internal/shared"
)

// Verifier turns an access token into a verified external identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// GitHubVerifier resolves a token against the GitHub user API. Concurrent
// verifications of the same token are collapsed into one upstream call.
type GitHubVerifier struct {
	client *http.Client
	apiURL string
	group  singleflight.Group
}

// NewGitHubVerifier constructs a verifier against apiURL (the GitHub API
// base, overridable for tests).
func NewGitHubVerifier(client *http.Client, apiURL string) *GitHubVerifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &GitHubVerifier{client: client, apiURL: strings.TrimRight(apiURL, "/")}
}

// Verify calls GET /user with the bearer token and returns the identity as
// "github:<login>". Unauthorized tokens fail with shared.ErrInvalidToken.
func (v *GitHubVerifier) Verify(ctx context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", shared.ErrInvalidToken
	}
	result, err, _ := v.group.Do(token, func() (any, error) {
		return v.fetchLogin(ctx, token)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (v *GitHubVerifier) fetchLogin(ctx context.Context, token string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.apiURL+"/user", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	resp, err := v.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("identity: github user lookup: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", shared.ErrInvalidToken
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("identity: github user lookup: unexpected status %d", resp.StatusCode)
	}

	var user struct {
		Login string `json:"login"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return "", fmt.Errorf("identity: decode github user: %w", err)
	}
	if user.Login == "" {
		return "", shared.ErrInvalidToken
	}
	return "github:" + user.Login, nil
}

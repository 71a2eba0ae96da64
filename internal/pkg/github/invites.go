package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MartinGrube/SoloStore/internal/pkg/apperr"
	"github.com/MartinGrube/SoloStore/internal/pkg/env"
)

const defaultAPIBaseURL = "https://api.github.com"

// Client sends repository collaboration invites for products that bundle
// source access.
type Client struct {
	Token      string
	APIBaseURL string

	HTTPClient *http.Client
}

func NewClientFromEnv() *Client {
	return &Client{
		Token:      strings.TrimSpace(env.GetEnv("GITHUB_TOKEN", "")),
		APIBaseURL: strings.TrimRight(env.GetEnv("GITHUB_API_BASE_URL", defaultAPIBaseURL), "/"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// InviteByEmail invites a buyer to a repo ("owner/name") by email. A 404/422
// from GitHub is a permanent rejection (bad repo or address) and is reported
// as terminal; everything else is retryable.
func (c *Client) InviteByEmail(ctx context.Context, repo, email string) error {
	if strings.TrimSpace(c.Token) == "" {
		return errors.New("GITHUB_TOKEN is not configured")
	}
	repo = strings.TrimSpace(repo)
	email = strings.TrimSpace(email)
	if repo == "" || email == "" {
		return apperr.Validationf("repo and email are required")
	}

	body, err := json.Marshal(map[string]string{"email": email})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/repos/%s/invitations", c.APIBaseURL, repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return apperr.Transient("github invite request failed", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusUnprocessableEntity:
		return apperr.Terminal(
			fmt.Sprintf("github rejected invite to %s: status %d: %s", repo, resp.StatusCode, strings.TrimSpace(string(respBody))),
			nil,
		)
	default:
		return apperr.Transient(
			fmt.Sprintf("github invite to %s failed: status %d", repo, resp.StatusCode),
			nil,
		)
	}
}

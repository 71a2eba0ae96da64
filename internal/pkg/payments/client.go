package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MartinGrube/SoloStore/internal/pkg/env"
)

const defaultAPIBaseURL = "https://api.paylane.dev/v1"

// Client talks to the external payment provider. Only two calls matter to the
// engine: creating a hosted checkout session and (indirectly) receiving signed
// webhook events back.
type Client struct {
	APIKey     string
	APIBaseURL string

	HTTPClient *http.Client
}

type CheckoutSessionRequest struct {
	AmountCents   int64
	Currency      string
	ProductName   string
	CustomerEmail string
	Reference     string // checkout attempt id, echoed back in webhook events
	SuccessURL    string
	CancelURL     string
}

type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

func NewClientFromEnv() *Client {
	return &Client{
		APIKey:     strings.TrimSpace(env.GetEnv("PAYMENT_API_KEY", "")),
		APIBaseURL: strings.TrimRight(env.GetEnv("PAYMENT_API_BASE", defaultAPIBaseURL), "/"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// CreateCheckoutSession creates a hosted checkout session at the provider and
// returns its id and redirect URL.
func (c *Client) CreateCheckoutSession(ctx context.Context, in CheckoutSessionRequest) (*CheckoutSession, error) {
	if strings.TrimSpace(c.APIKey) == "" {
		return nil, errors.New("PAYMENT_API_KEY is not configured")
	}
	if in.AmountCents <= 0 {
		return nil, errors.New("amount must be positive")
	}
	if strings.TrimSpace(in.Reference) == "" {
		return nil, errors.New("checkout reference is required")
	}

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(in.AmountCents, 10))
	form.Set("currency", strings.ToLower(in.Currency))
	form.Set("product_name", in.ProductName)
	form.Set("customer_email", strings.TrimSpace(in.CustomerEmail))
	form.Set("client_reference_id", in.Reference)
	if in.SuccessURL != "" {
		form.Set("success_url", in.SuccessURL)
	}
	if in.CancelURL != "" {
		form.Set("cancel_url", in.CancelURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIBaseURL+"/checkout/sessions", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("provider returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var session CheckoutSession
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, fmt.Errorf("invalid session response: %w", err)
	}
	if session.ID == "" || session.URL == "" {
		return nil, errors.New("provider session response missing id or url")
	}
	return &session, nil
}

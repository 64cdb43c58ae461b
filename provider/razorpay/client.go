// Package razorpay implements the membership.BillingProvider contract over
// the Razorpay REST API using basic auth and JSON bodies.
package razorpay

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-membership"
)

const defaultAPIURL = "https://api.razorpay.com/v1"

type Client struct {
	keyID      string
	keySecret  string
	apiURL     string
	httpClient *http.Client
}

var _ membership.BillingProvider = (*Client)(nil)

type Option func(*Client)

// WithBaseURL overrides the API endpoint, mainly for tests.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		if url != "" {
			c.apiURL = url
		}
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func NewClient(keyID, keySecret string, opts ...Option) *Client {
	c := &Client{
		keyID:      keyID,
		keySecret:  keySecret,
		apiURL:     defaultAPIURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	return c
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	url := c.apiURL + path
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return nil, err
	}
	auth := base64.StdEncoding.EncodeToString([]byte(c.keyID + ":" + c.keySecret))
	req.Header.Set("Authorization", "Basic "+auth)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.CategoryOperation, "billing provider request failed").
			WithTextCode(membership.TextCodeBillingProvider)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		// Drain the body for connection reuse, never echo it back: provider
		// error payloads can include account identifiers.
		io.Copy(io.Discard, resp.Body)
		return errors.New(
			fmt.Sprintf("billing provider returned %s", resp.Status),
			errors.CategoryOperation,
		).WithTextCode(membership.TextCodeBillingProvider)
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, errors.CategoryOperation, "failed to decode billing provider response").
			WithTextCode(membership.TextCodeBillingProvider)
	}

	return nil
}

// CreateSubscription starts a provider side subscription on the given plan.
func (c *Client) CreateSubscription(ctx context.Context, planID string) (*membership.BillingSubscription, error) {
	body := createSubscriptionRequest{
		PlanID:         planID,
		CustomerNotify: 1,
		TotalCount:     12,
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/subscriptions", body)
	if err != nil {
		return nil, err
	}

	var out subscriptionEntity
	if err := c.do(req, &out); err != nil {
		return nil, err
	}

	return out.toBilling(), nil
}

// CancelSubscription cancels a provider side subscription immediately.
func (c *Client) CancelSubscription(ctx context.Context, subscriptionID string) (*membership.BillingSubscription, error) {
	req, err := c.newRequest(ctx, http.MethodPost, fmt.Sprintf("/subscriptions/%s/cancel", subscriptionID), nil)
	if err != nil {
		return nil, err
	}

	var out subscriptionEntity
	if err := c.do(req, &out); err != nil {
		return nil, err
	}

	return out.toBilling(), nil
}

// Refund issues a full refund for a captured payment.
func (c *Client) Refund(ctx context.Context, paymentID string) error {
	req, err := c.newRequest(ctx, http.MethodPost, fmt.Sprintf("/payments/%s/refund", paymentID), refundRequest{Speed: "optimum"})
	if err != nil {
		return err
	}

	return c.do(req, nil)
}

// ListSubscriptions pages through the provider's subscriptions.
func (c *Client) ListSubscriptions(ctx context.Context, count, skip int) ([]membership.BillingSubscription, error) {
	req, err := c.newRequest(ctx, http.MethodGet, fmt.Sprintf("/subscriptions?count=%d&skip=%d", count, skip), nil)
	if err != nil {
		return nil, err
	}

	var out subscriptionCollection
	if err := c.do(req, &out); err != nil {
		return nil, err
	}

	subs := make([]membership.BillingSubscription, 0, len(out.Items))
	for _, item := range out.Items {
		subs = append(subs, *item.toBilling())
	}

	return subs, nil
}

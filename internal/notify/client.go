// Package notify talks to the outbound email provider. Requests are
// signed with a short-lived HS256 JWT derived from the API key, the way
// the provider's v2 API expects.
package notify

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

	"github.com/golang-jwt/jwt/v5"
)

// ErrNotFound means the provider does not know the tracking id. This can
// legitimately happen for simulated test addresses and is not an error
// condition for callers.
var ErrNotFound = errors.New("notification not found")

// Delivery statuses the provider reports
const (
	StatusDelivered        = "delivered"
	StatusSending          = "sending"
	StatusCreated          = "created"
	StatusPermanentFailure = "permanent-failure"
	StatusTemporaryFailure = "temporary-failure"
	StatusTechnicalFailure = "technical-failure"
)

// IsFailure reports whether a delivery status is a terminal failure.
func IsFailure(status string) bool {
	return strings.Contains(status, "failure")
}

// IsTerminal reports whether no further status change will come.
func IsTerminal(status string) bool {
	return status == StatusDelivered || IsFailure(status)
}

// StatusResult is the provider's view of one sent notification.
type StatusResult struct {
	Status     string
	TemplateID string
	Reference  string
}

// Provider is the collaborator contract the rest of the service consumes.
type Provider interface {
	SendEmail(ctx context.Context, recipient, templateID string, personalisation map[string]string, reference string) (string, error)
	Status(ctx context.Context, providerID string) (StatusResult, error)
}

// Client is the HTTP implementation of Provider.
type Client struct {
	baseURL   string
	serviceID string
	secret    string
	client    *http.Client
}

// NewClient builds a client from the provider base URL and an API key of
// the form "name-<serviceID(36)>-<secret(36)>".
func NewClient(baseURL, apiKey string, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if len(apiKey) < 74 {
		return nil, fmt.Errorf("api key too short")
	}
	return &Client{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		serviceID: apiKey[len(apiKey)-73 : len(apiKey)-37],
		secret:    apiKey[len(apiKey)-36:],
		client:    &http.Client{Timeout: timeout},
	}, nil
}

func (c *Client) token() (string, error) {
	claims := jwt.MapClaims{
		"iss": c.serviceID,
		"iat": time.Now().Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(c.secret))
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	token, err := c.token()
	if err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("provider unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("provider returned %d: %s", resp.StatusCode, msg)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode provider response: %w", err)
		}
	}
	return nil
}

// SendEmail submits an email and returns the provider tracking id.
func (c *Client) SendEmail(ctx context.Context, recipient, templateID string, personalisation map[string]string, reference string) (string, error) {
	payload := map[string]interface{}{
		"email_address":   recipient,
		"template_id":     templateID,
		"personalisation": personalisation,
		"reference":       reference,
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v2/notifications/email", payload, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// Status fetches the delivery status of a previously sent notification.
func (c *Client) Status(ctx context.Context, providerID string) (StatusResult, error) {
	var out struct {
		Status    string `json:"status"`
		Reference string `json:"reference"`
		Template  struct {
			ID string `json:"id"`
		} `json:"template"`
	}
	if err := c.do(ctx, http.MethodGet, "/v2/notifications/"+providerID, nil, &out); err != nil {
		return StatusResult{}, err
	}
	return StatusResult{
		Status:     out.Status,
		TemplateID: out.Template.ID,
		Reference:  out.Reference,
	}, nil
}

// Templates names the provider templates the service sends with.
type Templates struct {
	Confirmation string
	Decision     string
	OpsAlert     string
}

package clients

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

	"scholaris/console/internal/model"
)

var ErrInvalidCredentials = errors.New("invalid_credentials")

// Clients bundles the backend services the console consumes. Every call is a
// thin HTTP wrapper; validation and business rules live on the other side.
type Clients struct {
	Identity *IdentityClient
	School   *SchoolClient
}

func New(identityBaseURL, schoolBaseURL, serviceToken string, timeout time.Duration) *Clients {
	httpClient := &http.Client{Timeout: timeout}
	return &Clients{
		Identity: &IdentityClient{baseURL: strings.TrimRight(identityBaseURL, "/"), serviceToken: serviceToken, http: httpClient},
		School:   &SchoolClient{baseURL: strings.TrimRight(schoolBaseURL, "/"), http: httpClient},
	}
}

type IdentityClient struct {
	baseURL      string
	serviceToken string
	http         *http.Client
}

type verifyRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// VerifyCredentials exchanges credentials for the user's profile. A 401 from
// the identity service maps to ErrInvalidCredentials; other failures carry the
// body's message when one is present.
func (c *IdentityClient) VerifyCredentials(ctx context.Context, email, password string) (model.UserProfile, error) {
	body, err := json.Marshal(verifyRequest{Email: email, Password: password})
	if err != nil {
		return model.UserProfile{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/verify", bytes.NewReader(body))
	if err != nil {
		return model.UserProfile{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.serviceToken != "" {
		req.Header.Set("X-Service-Token", c.serviceToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return model.UserProfile{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return model.UserProfile{}, ErrInvalidCredentials
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return model.UserProfile{}, responseError(resp)
	}

	var user model.UserProfile
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return model.UserProfile{}, err
	}
	return user, nil
}

type SchoolClient struct {
	baseURL string
	http    *http.Client
}

type DashboardSummary struct {
	Students      int `json:"students"`
	Classes       int `json:"classes"`
	PendingFees   int `json:"pendingFees"`
	OpenEnquiries int `json:"openEnquiries"`
}

// DashboardSummary fetches headline counts for a school. The caller's bearer
// token is attached at request-construction time.
func (c *SchoolClient) DashboardSummary(ctx context.Context, bearerToken, schoolID string) (DashboardSummary, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/schools/"+schoolID+"/summary", nil)
	if err != nil {
		return DashboardSummary{}, err
	}
	if bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+bearerToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return DashboardSummary{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return DashboardSummary{}, responseError(resp)
	}
	var summary DashboardSummary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		return DashboardSummary{}, err
	}
	return summary, nil
}

// responseError extracts a human-readable message from an error body when one
// is present, else falls back to "HTTP <status>".
func responseError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &payload); err == nil {
		if payload.Message != "" {
			return errors.New(payload.Message)
		}
		if payload.Error != "" {
			return errors.New(payload.Error)
		}
	}
	return fmt.Errorf("HTTP %d", resp.StatusCode)
}

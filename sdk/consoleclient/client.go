package consoleclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"scholaris/console/internal/gate"
	"scholaris/console/internal/model"
)

// Client talks to the console gateway on behalf of one user.
type Client struct {
	baseURL       string
	http          *http.Client
	store         *Store
	notifications *Channel
}

func New(baseURL string, keeper Keeper) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		store:   NewStore(keeper),
	}
	c.notifications = newChannel(c)
	return c
}

func (c *Client) Session() *Store { return c.store }

func (c *Client) Notifications() *Channel { return c.notifications }

// Bootstrap rehydrates the session from durable storage: read the token, then
// resolve it to a profile. The store reports Loading until this returns.
func (c *Client) Bootstrap(ctx context.Context) error {
	defer c.store.markLoaded()
	if c.store.keeper == nil {
		return nil
	}
	token, err := c.store.keeper.Read()
	if err != nil {
		return err
	}
	if token == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/me", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		// Stale token: drop it rather than resurrect a dead session.
		if err := c.store.keeper.Clear(); err != nil {
			logf("session keeper clear failed: %v", err)
		}
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return responseError(resp)
	}

	var user model.UserProfile
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return err
	}
	c.store.Login(user, token)
	return nil
}

type loginResult struct {
	Token      string            `json:"token"`
	User       model.UserProfile `json:"user"`
	RedirectTo string            `json:"redirectTo"`
}

// Login exchanges credentials for a session and stores the returned pair
// atomically. The returned path is the role-specific landing route.
func (c *Client) Login(ctx context.Context, email, password string) (model.UserProfile, string, error) {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return model.UserProfile{}, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/login", bytes.NewReader(body))
	if err != nil {
		return model.UserProfile{}, "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return model.UserProfile{}, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return model.UserProfile{}, "", responseError(resp)
	}
	var out loginResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return model.UserProfile{}, "", err
	}

	c.store.Login(out.User, out.Token)
	redirect := out.RedirectTo
	if redirect == "" {
		redirect = gate.LandingPath(out.User.Role)
	}
	return out.User, redirect, nil
}

// Logout tears down the notification channel synchronously, clears the local
// pair, and tells the gateway best-effort. A dead gateway cannot keep the
// client logged in.
func (c *Client) Logout(ctx context.Context) {
	c.notifications.Disconnect()

	token := c.store.Token()
	c.store.Logout()

	if token == "" {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/logout", nil)
	if err != nil {
		return
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.http.Do(req)
	if err != nil {
		logf("logout request failed: %v", err)
		return
	}
	_ = resp.Body.Close()
}

// NewRequest builds a gateway request, attaching the current token as a
// bearer credential at construction time.
func (c *Client) NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if token := c.store.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// responseError extracts a human-readable message from the body when present,
// else "HTTP <status>".
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

func logf(format string, args ...interface{}) {
	log.Printf("consoleclient: "+format, args...)
}

// Package authclient talks to the external authentication service that
// settles two-phase client logins. The broker registers a handle and
// secret here; the auth service answers later on the callback URL.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	requestPath    = "/api/auth/requests"
	requestRetries = 2
	retryBackoff   = 500 * time.Millisecond
)

// Client posts auth requests to the auth service.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a client for the auth service at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type authRequest struct {
	Handle      int64  `json:"handle"`
	Login       string `json:"login"`
	Password    string `json:"password"`
	Secret      string `json:"secret"`
	CallbackURL string `json:"callback_url"`
}

// RequestAuth registers a pending login with the auth service. The
// password is the credential the auth service verifies. Transient
// failures are retried a couple of times; the final verdict arrives
// out-of-band on the callback URL.
func (c *Client) RequestAuth(ctx context.Context, handle int64, login, password, secret, callbackURL string) error {
	body, err := json.Marshal(authRequest{
		Handle:      handle,
		Login:       login,
		Password:    password,
		Secret:      secret,
		CallbackURL: callbackURL,
	})
	if err != nil {
		return fmt.Errorf("marshal auth request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= requestRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryBackoff):
			}
			log.Debug().Int64("handle", handle).Int("attempt", attempt).Msg("retrying auth request")
		}
		lastErr = c.post(ctx, body)
		if lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("auth request for handle %d: %w", handle, lastErr)
}

func (c *Client) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+requestPath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("auth service returned %s", resp.Status)
	}
	return nil
}

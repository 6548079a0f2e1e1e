// Package qtsp talks to the external qualified timestamping provider. The
// provider is an opaque collaborator: the client submits a digest and records
// whatever token comes back, it never interprets the token.
package qtsp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	derrors "chronoseal/pkg/domain-errors"
)

// HashAlgorithm is the only digest algorithm the pipeline produces.
const HashAlgorithm = "SHA-256"

// SealResult is the provider's proof for one digest.
type SealResult struct {
	Timestamp    time.Time
	Token        string
	SerialNumber string
}

// Sealer is the consumer-side port; the HTTP client below is the production
// implementation, tests swap in fakes.
type Sealer interface {
	Seal(ctx context.Context, digest string) (*SealResult, error)
}

// Config carries the provider endpoints and credentials.
type Config struct {
	BaseURL      string
	LoginURL     string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

// Client is the HTTP QTSP client. Failures are classified for the caller:
// network errors, timeouts and 5xx responses come back as
// notarization_transient, 4xx responses as notarization_permanent.
type Client struct {
	cfg  Config
	http *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("qtsp base url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type sealRequest struct {
	Hash          string `json:"hash"`
	HashAlgorithm string `json:"hashAlgorithm"`
}

type sealResponse struct {
	Timestamp    time.Time `json:"timestamp"`
	TSPToken     string    `json:"tspToken"`
	SerialNumber string    `json:"serialNumber"`
}

func (c *Client) Seal(ctx context.Context, digest string) (*SealResult, error) {
	token, err := c.authenticate(ctx)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(sealRequest{Hash: digest, HashAlgorithm: HashAlgorithm})
	if err != nil {
		return nil, derrors.Wrap(err, derrors.CodeInternal, "encode seal request")
	}

	endpoint, err := url.JoinPath(c.cfg.BaseURL, "timestamp")
	if err != nil {
		return nil, derrors.Wrap(err, derrors.CodeInternal, "build seal url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, derrors.Wrap(err, derrors.CodeInternal, "build seal request")
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, derrors.Wrap(err, derrors.CodeNotarizationTransient, "qtsp unreachable")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return nil, derrors.Newf(derrors.CodeNotarizationTransient, "qtsp returned %d", resp.StatusCode)
	case resp.StatusCode == http.StatusUnauthorized:
		// Token may have been revoked early; drop the cache so the next
		// attempt re-authenticates.
		c.mu.Lock()
		c.accessToken = ""
		c.mu.Unlock()
		return nil, derrors.New(derrors.CodeNotarizationTransient, "qtsp rejected the access token")
	case resp.StatusCode >= 400:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, derrors.Newf(derrors.CodeNotarizationPermanent,
			"qtsp rejected the digest: %d %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var out sealResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, derrors.Wrap(err, derrors.CodeNotarizationTransient, "decode seal response")
	}
	if out.TSPToken == "" {
		return nil, derrors.New(derrors.CodeNotarizationTransient, "qtsp response missing token")
	}
	return &SealResult{
		Timestamp:    out.Timestamp,
		Token:        out.TSPToken,
		SerialNumber: out.SerialNumber,
	}, nil
}

type loginRequest struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

type loginResponse struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   int    `json:"expiresIn"`
}

// authenticate returns a cached access token, logging in again when it is
// missing or within a minute of expiry. Providers without a login endpoint
// skip auth entirely.
func (c *Client) authenticate(ctx context.Context) (string, error) {
	if c.cfg.LoginURL == "" {
		return "", nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken != "" && time.Now().Before(c.tokenExpiry.Add(-time.Minute)) {
		return c.accessToken, nil
	}

	body, err := json.Marshal(loginRequest{ClientID: c.cfg.ClientID, ClientSecret: c.cfg.ClientSecret})
	if err != nil {
		return "", derrors.Wrap(err, derrors.CodeInternal, "encode login request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.LoginURL, bytes.NewReader(body))
	if err != nil {
		return "", derrors.Wrap(err, derrors.CodeInternal, "build login request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", derrors.Wrap(err, derrors.CodeNotarizationTransient, "qtsp login unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return "", derrors.Newf(derrors.CodeNotarizationTransient, "qtsp login returned %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return "", derrors.Newf(derrors.CodeNotarizationPermanent, "qtsp login rejected: %d", resp.StatusCode)
	}

	var out loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", derrors.Wrap(err, derrors.CodeNotarizationTransient, "decode login response")
	}
	if out.AccessToken == "" {
		return "", derrors.New(derrors.CodeNotarizationTransient, "qtsp login response missing token")
	}

	c.accessToken = out.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(out.ExpiresIn) * time.Second)
	return c.accessToken, nil
}

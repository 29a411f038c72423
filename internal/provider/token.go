package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	tokenPath          = "/oauth/2.0/token"
	maxResponseBytes   = 1 << 20
	defaultHTTPTimeout = 15 * time.Second
)

// TokenResponse carries the fields consumed downstream. The provider sends
// more; anything not listed here is deliberately ignored.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
	UserSeqNo    string `json:"user_seq_no"`
}

// ExchangeError reports a failed authorization-code exchange. Status and Body
// are the upstream values, preserved for operator diagnosis.
type ExchangeError struct {
	Status int
	Body   string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("token exchange failed with status %d", e.Status)
}

// RefreshError reports a failed refresh grant, same payload as ExchangeError.
type RefreshError struct {
	Status int
	Body   string
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("token refresh failed with status %d", e.Status)
}

// TokenClient is a stateless wrapper over the provider's token endpoint.
type TokenClient struct {
	cfg        Config
	httpClient *http.Client
}

func NewTokenClient(cfg Config) *TokenClient {
	return &TokenClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: defaultHTTPTimeout,
		},
	}
}

// Exchange trades a one-time authorization code for a token set. The code is
// invalidated by the provider on first use, so callers must not retry a
// failed exchange automatically.
func (c *TokenClient) Exchange(ctx context.Context, authCode, scope string) (TokenResponse, error) {
	form := url.Values{}
	form.Set("code", authCode)
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)
	form.Set("redirect_uri", c.cfg.RedirectURI)
	form.Set("grant_type", "authorization_code")
	if scope != "" {
		form.Set("scope", scope)
	}

	status, body, err := c.postForm(ctx, form)
	if err != nil {
		return TokenResponse{}, fmt.Errorf("token exchange request failed: %w", err)
	}
	if status < 200 || status >= 300 {
		return TokenResponse{}, &ExchangeError{Status: status, Body: string(body)}
	}

	var parsed TokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return TokenResponse{}, &ExchangeError{Status: status, Body: string(body)}
	}

	return parsed, nil
}

// Refresh trades a refresh token for a new token set. userSeqNo is forwarded
// only when known.
func (c *TokenClient) Refresh(ctx context.Context, refreshToken, scope, userSeqNo string) (TokenResponse, error) {
	form := url.Values{}
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)
	form.Set("grant_type", "refresh_token")
	if scope != "" {
		form.Set("scope", scope)
	}
	if userSeqNo != "" {
		form.Set("user_seq_no", userSeqNo)
	}

	status, body, err := c.postForm(ctx, form)
	if err != nil {
		return TokenResponse{}, fmt.Errorf("token refresh request failed: %w", err)
	}
	if status < 200 || status >= 300 {
		return TokenResponse{}, &RefreshError{Status: status, Body: string(body)}
	}

	var parsed TokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return TokenResponse{}, &RefreshError{Status: status, Body: string(body)}
	}

	return parsed, nil
}

func (c *TokenClient) postForm(ctx context.Context, form url.Values) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+tokenPath, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("read token response: %w", err)
	}

	return resp.StatusCode, body, nil
}

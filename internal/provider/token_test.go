package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(baseURL string) Config {
	return Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURI:  "https://example.com/callback",
		BaseURL:      baseURL,
	}
}

func TestExchangeSuccess(t *testing.T) {
	var gotForm map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, tokenPath, r.URL.Path)
		require.NoError(t, r.ParseForm())
		gotForm = map[string]string{
			"code":          r.PostForm.Get("code"),
			"client_id":     r.PostForm.Get("client_id"),
			"client_secret": r.PostForm.Get("client_secret"),
			"redirect_uri":  r.PostForm.Get("redirect_uri"),
			"grant_type":    r.PostForm.Get("grant_type"),
			"scope":         r.PostForm.Get("scope"),
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"access_token": "T1",
			"refresh_token": "R1",
			"token_type": "Bearer",
			"expires_in": 3600,
			"scope": "login transfer",
			"user_seq_no": "1100012345"
		}`))
	}))
	defer server.Close()

	client := NewTokenClient(testConfig(server.URL))
	resp, err := client.Exchange(context.Background(), "abc", "login transfer")
	require.NoError(t, err)

	assert.Equal(t, "T1", resp.AccessToken)
	assert.Equal(t, "R1", resp.RefreshToken)
	assert.Equal(t, int64(3600), resp.ExpiresIn)
	assert.Equal(t, "1100012345", resp.UserSeqNo)

	assert.Equal(t, "abc", gotForm["code"])
	assert.Equal(t, "client-id", gotForm["client_id"])
	assert.Equal(t, "client-secret", gotForm["client_secret"])
	assert.Equal(t, "https://example.com/callback", gotForm["redirect_uri"])
	assert.Equal(t, "authorization_code", gotForm["grant_type"])
	assert.Equal(t, "login transfer", gotForm["scope"])
}

func TestExchangeUpstreamFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"rsp_code":"O0001","rsp_message":"invalid authorization code"}`))
	}))
	defer server.Close()

	client := NewTokenClient(testConfig(server.URL))
	_, err := client.Exchange(context.Background(), "stale", "")

	var exchangeErr *ExchangeError
	require.ErrorAs(t, err, &exchangeErr)
	assert.Equal(t, http.StatusBadRequest, exchangeErr.Status)
	assert.Contains(t, exchangeErr.Body, "invalid authorization code")
}

func TestExchangeMalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>gateway error</html>`))
	}))
	defer server.Close()

	client := NewTokenClient(testConfig(server.URL))
	_, err := client.Exchange(context.Background(), "abc", "")

	var exchangeErr *ExchangeError
	require.ErrorAs(t, err, &exchangeErr)
	assert.Equal(t, http.StatusOK, exchangeErr.Status)
	assert.Contains(t, exchangeErr.Body, "gateway error")
}

func TestRefreshSendsUserSeqNoOnlyWhenKnown(t *testing.T) {
	var seenUserSeqNo []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		if r.PostForm.Has("user_seq_no") {
			seenUserSeqNo = append(seenUserSeqNo, r.PostForm.Get("user_seq_no"))
		}
		_, _ = w.Write([]byte(`{"access_token":"T2","expires_in":3600}`))
	}))
	defer server.Close()

	client := NewTokenClient(testConfig(server.URL))

	_, err := client.Refresh(context.Background(), "R1", "login transfer", "")
	require.NoError(t, err)
	assert.Empty(t, seenUserSeqNo)

	_, err = client.Refresh(context.Background(), "R1", "login transfer", "1100012345")
	require.NoError(t, err)
	assert.Equal(t, []string{"1100012345"}, seenUserSeqNo)
}

func TestRefreshUpstreamFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"rsp_code":"O0002"}`))
	}))
	defer server.Close()

	client := NewTokenClient(testConfig(server.URL))
	_, err := client.Refresh(context.Background(), "revoked", "", "")

	var refreshErr *RefreshError
	require.ErrorAs(t, err, &refreshErr)
	assert.Equal(t, http.StatusUnauthorized, refreshErr.Status)

	var exchangeErr *ExchangeError
	assert.False(t, errors.As(err, &exchangeErr))
}

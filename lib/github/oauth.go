// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/bureau-foundation/ghbridge/lib/netutil"
)

const (
	defaultAuthorizeURL = "https://github.com/login/oauth/authorize"
	defaultTokenURL     = "https://github.com/login/oauth/access_token"
)

// OAuthApp is a GitHub OAuth application used for the web flow: the
// user follows AuthorizeURL, GitHub redirects back with a code, and
// Exchange trades the code for an access token.
type OAuthApp struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string

	// AuthorizeEndpoint and TokenEndpoint default to github.com.
	AuthorizeEndpoint string
	TokenEndpoint     string

	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// OAuthToken is the result of a successful code exchange.
type OAuthToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Scope       string `json:"scope"`
}

// AuthorizeURL returns the URL a user follows to grant the bridge
// access. state is echoed back on the redirect and identifies the
// pending handshake.
func (app *OAuthApp) AuthorizeURL(state string) string {
	endpoint := app.AuthorizeEndpoint
	if endpoint == "" {
		endpoint = defaultAuthorizeURL
	}
	query := url.Values{}
	query.Set("client_id", app.ClientID)
	query.Set("redirect_uri", app.RedirectURI)
	query.Set("state", state)
	return endpoint + "?" + query.Encode()
}

// Exchange trades an authorization code for an access token.
func (app *OAuthApp) Exchange(ctx context.Context, code, state string) (*OAuthToken, error) {
	endpoint := app.TokenEndpoint
	if endpoint == "" {
		endpoint = defaultTokenURL
	}
	form := url.Values{}
	form.Set("client_id", app.ClientID)
	form.Set("client_secret", app.ClientSecret)
	form.Set("code", code)
	form.Set("redirect_uri", app.RedirectURI)
	form.Set("state", state)

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("github: creating token exchange request: %w", err)
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	request.Header.Set("Accept", "application/json")

	httpClient := app.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	response, err := httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("github: token exchange: %w", err)
	}
	defer response.Body.Close()

	body, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return nil, fmt.Errorf("github: reading token exchange response: %w", err)
	}
	if response.StatusCode != http.StatusOK {
		return nil, parseAPIErrorFromBody(response.StatusCode, body)
	}

	// GitHub reports exchange failures (bad code, expired code) with
	// a 200 and an "error" field.
	var result struct {
		OAuthToken
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("github: decoding token exchange response: %w", err)
	}
	if result.Error != "" {
		return nil, fmt.Errorf("github: token exchange failed: %s: %s", result.Error, result.ErrorDescription)
	}
	if result.AccessToken == "" {
		return nil, fmt.Errorf("github: token exchange returned no access token")
	}
	return &result.OAuthToken, nil
}

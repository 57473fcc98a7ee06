// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package github

import (
	"context"
	"fmt"
	"net/http"

	"github.com/bureau-foundation/ghbridge/lib/netutil"
)

// maxAvatarSize bounds avatar downloads. GitHub serves avatars well
// under this.
const maxAvatarSize = 4 << 20

// GetAuthenticatedUser returns the user the client's token belongs to.
// A 401 here means the token is invalid or revoked (see IsUnauthorized).
func (client *Client) GetAuthenticatedUser(ctx context.Context) (*User, error) {
	var user User
	if err := client.get(ctx, "/user", &user); err != nil {
		return nil, fmt.Errorf("getting authenticated user: %w", err)
	}
	return &user, nil
}

// DownloadAvatar fetches a user's avatar image and returns it with its
// content type. Avatars are served from a separate host, so the request
// carries no credentials.
func (client *Client) DownloadAvatar(ctx context.Context, avatarURL string) ([]byte, string, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, avatarURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("github: creating avatar request: %w", err)
	}
	request.Header.Set("User-Agent", client.userAgent)

	response, err := client.httpClient.Do(request)
	if err != nil {
		return nil, "", fmt.Errorf("github: downloading avatar %s: %w", avatarURL, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, "", parseAPIError(response)
	}
	data, err := netutil.ReadLimited(response.Body, maxAvatarSize)
	if err != nil {
		return nil, "", fmt.Errorf("github: reading avatar %s: %w", avatarURL, err)
	}
	contentType := response.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package github

import "context"

// authenticator provides Authorization header values for GitHub API
// requests.
type authenticator interface {
	AuthorizationHeader(ctx context.Context) (string, error)
}

// tokenAuth is a static Bearer token authenticator for personal access
// tokens, fine-grained tokens and OAuth access tokens.
type tokenAuth struct {
	header string
}

func newTokenAuth(token string) *tokenAuth {
	return &tokenAuth{header: "Bearer " + token}
}

func (auth *tokenAuth) AuthorizationHeader(_ context.Context) (string, error) {
	return auth.header, nil
}

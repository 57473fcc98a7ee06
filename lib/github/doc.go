// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package github provides a typed Go client for the parts of the GitHub
// REST API the bridge uses: issues, issue comments, the authenticated
// user, avatar downloads and the OAuth web flow.
//
// The client authenticates with a bearer token: the bridge's shared
// service token, or a user's personal or OAuth token via
// [Client.WithToken]. It handles rate limiting (X-RateLimit-* headers
// with automatic backoff), pagination (RFC 5988 Link headers),
// conditional requests (ETags), and structured error mapping.
//
// All API requests are made over HTTPS. The client refuses non-HTTPS
// base URLs.
package github

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging wraps the Matrix client-server API for an
// application service.
//
// [Client] holds the homeserver URL and HTTP transport. [Client.AppService]
// returns an [AppServiceSession] authenticated with the application
// service's as_token and acting as the bridge bot. [AppServiceSession.As]
// derives a session that masquerades as another user in the
// application service's namespace (the user_id query parameter), which
// is how messages are attributed to GitHub users.
//
// Sessions cover what the bridge needs: room membership (join, leave,
// joined rooms and members), events (send with caller-chosen
// transaction IDs, state get/set, full room state), room and global
// account data, ghost registration and profiles, media upload, room
// creation and long-polling /sync.
//
// All API errors are returned as [*MatrixError] with the standard Matrix
// error code (M_FORBIDDEN, M_NOT_FOUND, etc.) and HTTP status code.
// [IsMatrixError] tests for a specific error code. Request URLs are built
// by string concatenation with url.PathEscape per segment.
package messaging

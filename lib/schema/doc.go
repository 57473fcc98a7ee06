// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package schema defines the persisted Matrix data and the queue
// payloads that make up the bridge protocol. Event type constants
// (EventType*) are Matrix event type strings; Go structs define the
// JSON content.
//
// Key types:
//
//   - [RoomState] -- the bridge state event of an issue room, holding
//     the linked issue and the comment cursor
//   - [AccountData] -- the per-room account data that classifies a room
//     as an admin room or an issue room at startup
//   - [MatrixMessageRequest], [MatrixMessageResponse] -- the
//     matrix.message request/response pair
//   - [OAuthProbe], [OAuthTokens] -- the OAuth handshake messages
//
// This package depends on no other packages in this module.
package schema

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package bridge is the reconciliation and routing engine of the
// Matrix to GitHub issue bridge.
//
// Every room the bridge bot has joined is either an admin room, a 1:1
// room where one Matrix user links a GitHub account, or an issue room
// mirroring one GitHub issue. The kind is recorded in room account
// data (uk.half-shot.matrix-github.room) and [Registry] dispatches on
// that discriminator at startup, migrating rooms that predate it.
//
// An issue room's progress lives in its uk.half-shot.matrix-github.bridge
// state event: the linked issue, the lifecycle state last mirrored,
// and comments_processed, the number of GitHub comments already
// mirrored (-1 before the first synchronization). [IssueRoom.Synchronize]
// walks the issue's comments from that cursor, advancing it by exactly
// one per mirrored comment, so an interrupted pass resumes without
// skipping or repeating.
//
// [Bridge] routes inbound work:
//
//   - room events from the homeserver (admin commands, invitations,
//     chat messages to post as GitHub comments, state reloads)
//   - queue messages published by the webhook listener and the OAuth
//     callback (comment.created, issue.edited, issue.closed,
//     issue.reopened, oauth.response, oauth.tokens)
//   - alias queries from the homeserver, which create issue rooms on
//     demand ([Bridge.QueryRoom])
//
// Comments the bridge posts to GitHub are remembered in a bounded,
// time-windowed cache so their webhook echo is not mirrored back.
// Issue room output travels over the queue as matrix.message requests;
// admin notices are sent directly by the bot.
//
// The engine sees its collaborators only through the interfaces in
// deps.go: [Matrix], [IssueTracker], [TokenStore] and [GhostResolver].
package bridge

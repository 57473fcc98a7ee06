// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Bureau GitHub bridge. Links GitHub issues to Matrix rooms as a Matrix
// application service: comments flow both ways, issue titles and state
// follow into room names and topics, and users can connect their own
// GitHub accounts from a 1:1 admin room with the bot.
//
// Interfaces:
//   - Appservice HTTP API (bridge.listen_address): alias queries for
//     #github_<org>_<repo>_<number>:<domain> create the issue room on
//     demand; transactions are acknowledged.
//   - Webhook HTTP listener (webhook.listen_address): GitHub
//     deliveries on POST / (HMAC-SHA256 verified) and the OAuth
//     callback on GET /oauth.
//   - Matrix /sync as the bot: room messages, invites and bridge state
//     changes.
//
// Configuration comes from the file named by --config or GHBRIDGE_CONFIG.
package main

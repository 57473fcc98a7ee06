// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the process scaffolding of the GitHub
// bridge binary:
//
//   - [HTTPServer]: a TCP listener with readiness signalling and
//     graceful shutdown, used for the webhook, OAuth callback and
//     application service endpoints.
//   - [VerifyWebhookHMAC]: GitHub's X-Hub-Signature-256 check.
//   - [InitialSync] and [RunSyncLoop]: the bot's Matrix /sync long-poll
//     with exponential backoff on transient errors.
//
// The binary composes these in its own main function. The package
// provides building blocks, not a runtime.
package service

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package queue is the message bus between the webhook listener, the
// OAuth callback, the reconciliation engine and the Matrix sender.
//
// A [Message] carries an event name, the name of the component that
// sent it, a unique message ID, and a CBOR-encoded payload. Consumers
// register handlers for event name patterns with [Local.On]; producers
// publish with [Local.Push]. [Local.PushWait] adds request/response
// correlation: the request waits for exactly one message named
// "response.<event name>" carrying the same message ID.
//
// Delivery is at-least-once from the consumer's point of view: a
// handler must tolerate seeing the same message ID twice.
package queue

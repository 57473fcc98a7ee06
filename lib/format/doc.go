// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package format converts content between GitHub and Matrix.
//
// [Processor] renders GitHub Markdown (comments and issue bodies) into
// Matrix message content with an org.matrix.custom.html formatted body,
// and turns Matrix message content back into a comment body: reply
// fallbacks are stripped and media messages become links through the
// configured public media URL.
//
// [FormatName] and [FormatTopic] produce the room name and topic for an
// issue room.
package format

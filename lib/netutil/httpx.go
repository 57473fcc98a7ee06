// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"errors"
	"fmt"
	"io"
)

// MaxResponseSize bounds JSON API response reads (64 MB). Matrix and
// GitHub responses the bridge consumes are several orders of magnitude
// smaller.
const MaxResponseSize int64 = 64 << 20

// ErrBodyTooLarge is returned by ReadLimited when the body exceeds the
// caller's limit.
var ErrBodyTooLarge = errors.New("netutil: body exceeds size limit")

// ReadResponse reads an API response body up to MaxResponseSize bytes.
// Longer bodies are truncated; use ReadLimited where truncation must be
// detected.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}

// ReadLimited reads at most limit bytes and fails with ErrBodyTooLarge
// if more remain. Webhook payloads use this: a truncated payload would
// fail signature verification with a misleading error.
func ReadLimited(body io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("netutil: reading body: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, ErrBodyTooLarge
	}
	return data, nil
}

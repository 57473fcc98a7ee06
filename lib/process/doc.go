// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the entrypoint helper for the bridge binary:
// reporting an unrecoverable error from run() when the structured
// logger may not exist yet, then exiting non-zero.
package process

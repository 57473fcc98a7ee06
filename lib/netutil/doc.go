// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil bounds HTTP body reads. Every body the bridge reads,
// whether a homeserver or GitHub API response or an inbound webhook
// request, goes through one of these helpers so a misbehaving peer
// cannot make the process allocate without limit.
package netutil

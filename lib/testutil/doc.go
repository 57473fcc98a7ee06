// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds helpers shared by the bridge's tests.
//
// [RequireReceive] and [RequireNoReceive] wrap the select-with-timeout
// pattern so tests that wait on goroutines never hang the suite and
// never need their own time.After calls.
package testutil

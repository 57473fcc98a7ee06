// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides the time source used by the bridge.
//
// Components that wait (the comment de-duplication delay, queue request
// timeouts, /sync retry backoff) take a Clock instead of calling the
// time package. Production wiring passes Real(). Tests pass Fake(),
// which only moves when Advance is called:
//
//	fakeClock := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go func() { <-fakeClock.After(500 * time.Millisecond); close(done) }()
//	fakeClock.WaitForWaiters(1)
//	fakeClock.Advance(500 * time.Millisecond)
package clock

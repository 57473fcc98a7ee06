// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/bureau-foundation/ghbridge/lib/clock"
	"github.com/bureau-foundation/ghbridge/messaging"
)

// Syncer is the /sync surface of a Matrix session.
// *messaging.AppServiceSession implements it.
type Syncer interface {
	Sync(ctx context.Context, options messaging.SyncOptions) (*messaging.SyncResponse, error)
}

// Sync loop defaults.
const (
	DefaultSyncTimeout    = 30 * time.Second
	DefaultSyncMaxBackoff = 30 * time.Second
)

// SyncConfig configures the /sync long-poll loop.
type SyncConfig struct {
	// Filter is an inline JSON filter limiting the events returned.
	Filter string

	// Timeout is how long the homeserver holds an idle poll open.
	// Zero uses DefaultSyncTimeout.
	Timeout time.Duration

	// MaxBackoff caps the delay between retries after a failed
	// poll. Retries start at one second. Zero uses
	// DefaultSyncMaxBackoff.
	MaxBackoff time.Duration
}

// SyncHandler receives each /sync response. The next poll starts when
// it returns.
type SyncHandler func(ctx context.Context, response *messaging.SyncResponse)

// InitialSync performs a /sync without a since token and returns the
// next_batch token together with the snapshot. The homeserver answers
// immediately.
func InitialSync(ctx context.Context, syncer Syncer, filter string) (string, *messaging.SyncResponse, error) {
	response, err := syncer.Sync(ctx, messaging.SyncOptions{Filter: filter})
	if err != nil {
		return "", nil, fmt.Errorf("initial sync: %w", err)
	}
	return response.NextBatch, response, nil
}

// RunSyncLoop polls /sync from since until ctx is cancelled, passing
// every response to handler. Failed polls are retried with exponential
// backoff timed by clk.
func RunSyncLoop(ctx context.Context, syncer Syncer, config SyncConfig, since string, handler SyncHandler, clk clock.Clock, logger *slog.Logger) {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultSyncTimeout
	}
	maxBackoff := config.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = DefaultSyncMaxBackoff
	}

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = time.Second
	retry.MaxInterval = maxBackoff
	retry.MaxElapsedTime = 0
	retry.Reset()

	for ctx.Err() == nil {
		response, err := syncer.Sync(ctx, messaging.SyncOptions{
			Since:      since,
			Timeout:    int(timeout / time.Millisecond),
			SetTimeout: true,
			Filter:     config.Filter,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			delay := retry.NextBackOff()
			logger.Error("sync failed, retrying", "error", err, "backoff", delay)
			select {
			case <-ctx.Done():
				return
			case <-clk.After(delay):
			}
			continue
		}

		retry.Reset()
		since = response.NextBatch
		handler(ctx, response)
	}
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package matrixsender delivers matrix.message queue requests to the
// homeserver and replies with the resulting event ID.
//
// Every request is sent with a transaction ID derived from its queue
// message ID, so a redelivered request produces the same Matrix event
// instead of a duplicate. Sends are throttled by a token bucket and
// retried with exponential backoff while the homeserver answers
// M_LIMIT_EXCEEDED, honoring its retry_after_ms hint. A ghost user
// that is refused because it is not in the room joins once and the
// send is repeated.
//
// A request stops being sent or retried once its requester has stopped
// waiting for the reply. Otherwise the requester would count the
// message as unsent and publish it again under a new transaction ID.
package matrixsender

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/zeebo/blake3"
	"golang.org/x/time/rate"

	"github.com/bureau-foundation/ghbridge/lib/queue"
	"github.com/bureau-foundation/ghbridge/lib/schema"
	"github.com/bureau-foundation/ghbridge/messaging"
)

// senderName identifies replies published by the worker.
const senderName = "matrixsender"

// DefaultMaxRetryElapsed bounds retries when Options.MaxRetryElapsed is
// zero. It is shorter than queue.DefaultRequestTimeout.
const DefaultMaxRetryElapsed = 20 * time.Second

// EventSender sends events as a particular user.
type EventSender interface {
	SendEvent(ctx context.Context, roomID, eventType, transactionID string, content any) (string, error)
	JoinRoom(ctx context.Context, roomIDOrAlias string) (string, error)
}

// SessionFor returns the session acting as userID. An empty userID
// selects the bridge bot.
type SessionFor func(userID string) EventSender

// Options configures a Worker.
type Options struct {
	// Sessions resolves the sending user. Required.
	Sessions SessionFor

	// RatePerSecond and Burst configure the send throttle. Zero
	// RatePerSecond disables throttling.
	RatePerSecond float64
	Burst         int

	// MaxRetryElapsed bounds retries of rate-limited sends. Zero uses
	// DefaultMaxRetryElapsed. Retries also stop when the requester's
	// queue deadline passes.
	MaxRetryElapsed time.Duration

	// NewBackOff overrides the retry policy. Tests use it to avoid
	// real delays.
	NewBackOff func() backoff.BackOff

	Logger *slog.Logger
}

// Worker consumes matrix.message requests.
type Worker struct {
	sessions   SessionFor
	limiter    *rate.Limiter
	newBackOff func() backoff.BackOff
	logger     *slog.Logger
}

// New creates a Worker.
func New(options Options) *Worker {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if options.RatePerSecond > 0 {
		burst := options.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(options.RatePerSecond), burst)
	}

	newBackOff := options.NewBackOff
	if newBackOff == nil {
		maxElapsed := options.MaxRetryElapsed
		if maxElapsed == 0 {
			maxElapsed = DefaultMaxRetryElapsed
		}
		newBackOff = func() backoff.BackOff {
			// BackOff implementations are stateful; always return a fresh instance.
			exponential := backoff.NewExponentialBackOff()
			exponential.MaxElapsedTime = maxElapsed
			return exponential
		}
	}

	return &Worker{
		sessions:   options.Sessions,
		limiter:    limiter,
		newBackOff: newBackOff,
		logger:     logger,
	}
}

// Subscribe registers the worker's handler on q. Replies are pushed
// back onto q.
func (w *Worker) Subscribe(q queue.Queue) {
	q.On(schema.EventMatrixMessage, func(ctx context.Context, message queue.Message) {
		w.handle(ctx, q, message)
	})
}

func (w *Worker) handle(ctx context.Context, q queue.Queue, message queue.Message) {
	var response schema.MatrixMessageResponse

	var request schema.MatrixMessageRequest
	if err := message.Decode(&request); err != nil {
		w.logger.Warn("dropping malformed matrix.message request",
			"message_id", message.MessageID,
			"error", err,
		)
		response.Error = err.Error()
	} else {
		eventID, err := w.Send(ctx, message.MessageID, request)
		if err != nil && errors.Is(context.Cause(ctx), queue.ErrTimeout) {
			w.logger.Warn("abandoned matrix message after its requester stopped waiting",
				"message_id", message.MessageID,
				"room_id", request.RoomID,
				"error", err,
			)
			return
		}
		if err != nil {
			w.logger.Error("failed to send matrix message",
				"message_id", message.MessageID,
				"room_id", request.RoomID,
				"sender", request.Sender,
				"error", err,
			)
			response.Error = err.Error()
		}
		response.EventID = eventID
	}

	reply, err := message.Reply(senderName, response)
	if err != nil {
		w.logger.Error("failed to encode matrix.message reply", "message_id", message.MessageID, "error", err)
		return
	}
	if err := q.Push(ctx, reply); err != nil {
		w.logger.Warn("failed to publish matrix.message reply", "message_id", message.MessageID, "error", err)
	}
}

// Send delivers request to the homeserver. messageID seeds the Matrix
// transaction ID.
func (w *Worker) Send(ctx context.Context, messageID string, request schema.MatrixMessageRequest) (string, error) {
	if request.RoomID == "" {
		return "", fmt.Errorf("matrixsender: request %s has no room ID", messageID)
	}
	eventType := request.Type
	if eventType == "" {
		eventType = schema.MatrixEventTypeMessage
	}

	session := w.sessions(request.Sender)
	transactionID := TransactionID(messageID)

	hint := &retryAfterBackOff{}
	hint.BackOff = w.newBackOff()

	var eventID string
	joined := false
	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(context.Cause(ctx))
		}
		if err := w.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		var err error
		eventID, err = session.SendEvent(ctx, request.RoomID, eventType, transactionID, request.Content)
		if err == nil {
			return nil
		}
		if request.Sender != "" && !joined && messaging.IsMatrixError(err, messaging.ErrCodeForbidden) {
			joined = true
			if _, joinErr := session.JoinRoom(ctx, request.RoomID); joinErr != nil {
				return backoff.Permanent(fmt.Errorf("joining %s as %s: %w", request.RoomID, request.Sender, joinErr))
			}
			w.logger.Debug("joined room before sending", "room_id", request.RoomID, "user_id", request.Sender)
			eventID, err = session.SendEvent(ctx, request.RoomID, eventType, transactionID, request.Content)
			if err == nil {
				return nil
			}
		}
		if !messaging.IsMatrixError(err, messaging.ErrCodeLimitExceeded) {
			return backoff.Permanent(err)
		}
		hint.retryAfter = messaging.RetryAfter(err)
		return err
	}
	notify := func(err error, delay time.Duration) {
		w.logger.Warn("homeserver rate limited send, retrying",
			"room_id", request.RoomID,
			"delay", delay,
		)
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(hint, ctx), notify); err != nil {
		return "", fmt.Errorf("matrixsender: sending %s to %s: %w", eventType, request.RoomID, err)
	}
	return eventID, nil
}

// TransactionID derives the Matrix transaction ID for a queue message:
// the hex BLAKE3 digest of its message ID, truncated to 32 characters.
func TransactionID(messageID string) string {
	digest := blake3.Sum256([]byte(messageID))
	return hex.EncodeToString(digest[:16])
}

// retryAfterBackOff waits at least the server's last retry_after_ms
// hint before the next attempt.
type retryAfterBackOff struct {
	backoff.BackOff
	retryAfter time.Duration
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	next := b.BackOff.NextBackOff()
	if next == backoff.Stop {
		return backoff.Stop
	}
	if b.retryAfter > next {
		next = b.retryAfter
	}
	b.retryAfter = 0
	return next
}

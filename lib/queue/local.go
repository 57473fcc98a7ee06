// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/bureau-foundation/ghbridge/lib/clock"
)

var (
	// ErrClosed is returned by Push and PushWait after Close.
	ErrClosed = errors.New("queue: closed")

	// ErrTimeout is returned by PushWait when no reply arrives within
	// the request timeout.
	ErrTimeout = errors.New("queue: timed out waiting for reply")
)

// DefaultRequestTimeout bounds PushWait when Options.RequestTimeout is
// zero.
const DefaultRequestTimeout = 30 * time.Second

// Handler consumes one message. Handlers run on their own goroutine and
// receive a context that is cancelled when the queue closes or, for a
// request sent with PushWait, when the requester stops waiting.
type Handler func(ctx context.Context, message Message)

// Queue is the publish side and subscription side of the bus. The
// engine and the Matrix sender depend on this interface rather than on
// *Local so a networked transport can replace it.
type Queue interface {
	On(pattern string, handler Handler)
	Push(ctx context.Context, message Message) error
	PushWait(ctx context.Context, message Message, response any) error
}

// Options configures a Local queue.
type Options struct {
	Logger         *slog.Logger
	Clock          clock.Clock
	RequestTimeout time.Duration
}

type subscription struct {
	pattern string
	handler Handler
}

// Local is an in-process Queue. Safe for concurrent use.
type Local struct {
	logger         *slog.Logger
	clock          clock.Clock
	requestTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	active sync.WaitGroup

	mu            sync.RWMutex
	closed        bool
	subscriptions []subscription
	waiters       map[string]chan Message
}

// New creates an in-process queue.
func New(options Options) *Local {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := options.Clock
	if clk == nil {
		clk = clock.Real()
	}
	timeout := options.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Local{
		logger:         logger,
		clock:          clk,
		requestTimeout: timeout,
		ctx:            ctx,
		cancel:         cancel,
		waiters:        make(map[string]chan Message),
	}
}

// On registers handler for every message whose event name matches
// pattern (path.Match syntax, so "comment.*" matches "comment.created").
func (q *Local) On(pattern string, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.subscriptions = append(q.subscriptions, subscription{pattern: pattern, handler: handler})
}

// Push publishes message to every matching handler and, for replies, to
// the PushWait call awaiting its message ID. Push does not wait for the
// handlers to finish.
func (q *Local) Push(ctx context.Context, message Message) error {
	if message.EventName == "" {
		return fmt.Errorf("queue: message has no event name")
	}
	if message.MessageID == "" {
		return fmt.Errorf("queue: %s message has no message ID", message.EventName)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}

	if message.IsResponse() {
		if waiter, ok := q.waiters[message.MessageID]; ok {
			select {
			case waiter <- message:
			default:
				q.logger.Warn("dropping duplicate reply",
					"event", message.EventName,
					"message_id", message.MessageID,
				)
			}
		}
	}

	for _, sub := range q.subscriptions {
		matched, err := path.Match(sub.pattern, message.EventName)
		if err != nil {
			q.logger.Error("invalid subscription pattern", "pattern", sub.pattern, "error", err)
			continue
		}
		if !matched {
			continue
		}
		q.active.Add(1)
		go func(handler Handler) {
			defer q.active.Done()
			ctx, cancel := q.handlerContext(message)
			defer cancel(nil)
			handler(ctx, message)
		}(sub.handler)
	}
	return nil
}

// handlerContext derives the context a handler of message runs with.
// A message with a deadline gets a context cancelled with cause
// ErrTimeout once the queue clock passes it.
func (q *Local) handlerContext(message Message) (context.Context, context.CancelCauseFunc) {
	ctx, cancel := context.WithCancelCause(q.ctx)
	if message.Deadline.IsZero() {
		return ctx, cancel
	}
	expired := q.clock.After(message.Deadline.Sub(q.clock.Now()))
	go func() {
		select {
		case <-expired:
			cancel(fmt.Errorf("%w: %s %s", ErrTimeout, message.EventName, message.MessageID))
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// PushWait publishes message and waits for its reply, decoding the
// reply's data into response (which may be nil to discard it). The
// message is stamped with the deadline after which PushWait gives up,
// so handlers stop working on a request nobody is waiting for.
func (q *Local) PushWait(ctx context.Context, message Message, response any) error {
	waiter := make(chan Message, 1)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	if _, exists := q.waiters[message.MessageID]; exists {
		q.mu.Unlock()
		return fmt.Errorf("queue: request %s is already awaiting a reply", message.MessageID)
	}
	q.waiters[message.MessageID] = waiter
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		delete(q.waiters, message.MessageID)
		q.mu.Unlock()
	}()

	timeout := q.clock.After(q.requestTimeout)
	if deadline := q.clock.Now().Add(q.requestTimeout); message.Deadline.IsZero() || deadline.Before(message.Deadline) {
		message.Deadline = deadline
	}
	if err := q.Push(ctx, message); err != nil {
		return err
	}

	select {
	case reply := <-waiter:
		if response == nil {
			return nil
		}
		return reply.Decode(response)
	case <-timeout:
		return fmt.Errorf("%w: %s %s", ErrTimeout, message.EventName, message.MessageID)
	case <-ctx.Done():
		return ctx.Err()
	case <-q.ctx.Done():
		return ErrClosed
	}
}

// Close stops accepting messages, cancels handler contexts and waits
// for running handlers to return.
func (q *Local) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.cancel()
	q.active.Wait()
}

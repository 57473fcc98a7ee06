// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/ghbridge/lib/clock"
	"github.com/bureau-foundation/ghbridge/lib/format"
	"github.com/bureau-foundation/ghbridge/lib/queue"
	"github.com/bureau-foundation/ghbridge/lib/schema"
	"github.com/bureau-foundation/ghbridge/messaging"
)

// queueSender names the bridge on messages it publishes.
const queueSender = "GithubBridge"

// Options configures a Bridge.
type Options struct {
	// Matrix is the bot's homeserver session. Required.
	Matrix Matrix

	// Queue carries webhook events in and matrix.message requests out.
	// Required.
	Queue queue.Queue

	// Tracker acts as the bridge's service account. Required.
	Tracker IssueTracker

	// Trackers builds trackers for users who stored a personal token.
	// Required.
	Trackers TrackerFactory

	// Tokens stores personal tokens. Required.
	Tokens TokenStore

	// Ghosts maps GitHub users to Matrix users. Required.
	Ghosts GhostResolver

	// Namespace identifies the bot and its ghosts. Required.
	Namespace Namespace

	// Processor converts comment content. Nil uses a processor without
	// a media URL.
	Processor *format.Processor

	// OAuth builds authorization URLs for !startoauth. Nil disables the
	// command.
	OAuth OAuthLinker

	// AliasPrefix is the first alias component of issue rooms. Empty
	// uses "github".
	AliasPrefix string

	// DedupSize, DedupWindow and DedupDelay tune echo suppression. Zero
	// values use the Default* constants; a negative DedupDelay
	// disables the delay.
	DedupSize   int
	DedupWindow time.Duration
	DedupDelay  time.Duration

	// Clock drives the dedup delay. Nil uses the real clock.
	Clock clock.Clock

	// NewNonce generates OAuth state nonces. Nil uses random UUIDs.
	NewNonce func() string

	Logger *slog.Logger
}

// env is the set of collaborators shared by the engine, the registry
// and every room.
type env struct {
	matrix    Matrix
	queue     queue.Queue
	tracker   IssueTracker
	trackers  TrackerFactory
	tokens    TokenStore
	ghosts    GhostResolver
	namespace Namespace
	processor *format.Processor
	oauth     OAuthLinker
	dedup     *DedupCache
	clock     clock.Clock
	newNonce  func() string
	logger    *slog.Logger
}

// Bridge routes room events, queue messages and alias queries to the
// rooms they concern.
type Bridge struct {
	env         *env
	registry    *Registry
	aliasPrefix string
	dedupDelay  time.Duration
	logger      *slog.Logger
}

// New creates a Bridge. Call Initialize to load joined rooms and
// Subscribe to start consuming queue messages.
func New(options Options) (*Bridge, error) {
	switch {
	case options.Matrix == nil:
		return nil, errors.New("bridge: Matrix is required")
	case options.Queue == nil:
		return nil, errors.New("bridge: Queue is required")
	case options.Tracker == nil:
		return nil, errors.New("bridge: Tracker is required")
	case options.Trackers == nil:
		return nil, errors.New("bridge: Trackers is required")
	case options.Tokens == nil:
		return nil, errors.New("bridge: Tokens is required")
	case options.Ghosts == nil:
		return nil, errors.New("bridge: Ghosts is required")
	case options.Namespace.BotUserID == "" || options.Namespace.UserPrefix == "":
		return nil, errors.New("bridge: Namespace bot user and user prefix are required")
	}

	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := options.Clock
	if clk == nil {
		clk = clock.Real()
	}
	processor := options.Processor
	if processor == nil {
		processor = format.NewProcessor("")
	}
	newNonce := options.NewNonce
	if newNonce == nil {
		newNonce = uuid.NewString
	}
	aliasPrefix := options.AliasPrefix
	if aliasPrefix == "" {
		aliasPrefix = "github"
	}
	dedupDelay := options.DedupDelay
	switch {
	case dedupDelay == 0:
		dedupDelay = DefaultDedupDelay
	case dedupDelay < 0:
		dedupDelay = 0
	}

	shared := &env{
		matrix:    options.Matrix,
		queue:     options.Queue,
		tracker:   options.Tracker,
		trackers:  options.Trackers,
		tokens:    options.Tokens,
		ghosts:    options.Ghosts,
		namespace: options.Namespace,
		processor: processor,
		oauth:     options.OAuth,
		dedup:     NewDedupCache(options.DedupSize, options.DedupWindow),
		clock:     clk,
		newNonce:  newNonce,
		logger:    logger,
	}

	return &Bridge{
		env:         shared,
		registry:    newRegistry(shared),
		aliasPrefix: aliasPrefix,
		dedupDelay:  dedupDelay,
		logger:      logger,
	}, nil
}

// Registry returns the room registry.
func (b *Bridge) Registry() *Registry {
	return b.registry
}

// Dedup returns the echo suppression cache.
func (b *Bridge) Dedup() *DedupCache {
	return b.env.dedup
}

// Initialize loads every joined room into the registry.
func (b *Bridge) Initialize(ctx context.Context) error {
	return b.registry.Initialize(ctx)
}

// SynchronizeRoom runs a synchronization pass on an issue room with the
// service tracker.
func (b *Bridge) SynchronizeRoom(ctx context.Context, roomID string) error {
	room := b.registry.Issue(roomID)
	if room == nil {
		return fmt.Errorf("bridge: %s is not a tracked issue room", roomID)
	}
	return room.Synchronize(ctx, b.env.tracker)
}

// sendMatrix asks the Matrix sender, over the queue, to send an event
// as sender (empty for the bot) and returns the event ID.
func (e *env) sendMatrix(ctx context.Context, roomID, eventType, sender string, content map[string]any) (string, error) {
	request, err := queue.NewMessage(schema.EventMatrixMessage, queueSender, schema.MatrixMessageRequest{
		RoomID:  roomID,
		Type:    eventType,
		Sender:  sender,
		Content: content,
	})
	if err != nil {
		return "", err
	}

	var response schema.MatrixMessageResponse
	if err := e.queue.PushWait(ctx, request, &response); err != nil {
		return "", fmt.Errorf("sending %s to %s: %w", eventType, roomID, err)
	}
	if response.Error != "" {
		return "", fmt.Errorf("sending %s to %s: %s", eventType, roomID, response.Error)
	}
	return response.EventID, nil
}

// sendNotice sends an m.notice from the bot directly.
func (e *env) sendNotice(ctx context.Context, roomID, text string) error {
	if _, err := e.matrix.SendMessage(ctx, roomID, messaging.NewNoticeMessage(text)); err != nil {
		return fmt.Errorf("sending notice to %s: %w", roomID, err)
	}
	return nil
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/bureau-foundation/ghbridge/lib/format"
	"github.com/bureau-foundation/ghbridge/lib/github"
	"github.com/bureau-foundation/ghbridge/lib/schema"
	"github.com/bureau-foundation/ghbridge/messaging"
)

// ErrNoBridgeState is returned when a room carries no bridge state
// event under any state key.
var ErrNoBridgeState = errors.New("bridge: room has no bridge state")

// IssueRoom is a room linked to one GitHub issue. Operations that
// mutate the comment cursor are serialized per room; distinct rooms
// proceed concurrently.
type IssueRoom struct {
	env    *env
	roomID string

	// operation serializes Synchronize, comment mirroring and state
	// reloads.
	operation sync.Mutex

	stateMu sync.RWMutex
	state   schema.RoomState
}

func newIssueRoom(shared *env, roomID string) *IssueRoom {
	return &IssueRoom{env: shared, roomID: roomID}
}

// RoomID returns the Matrix room ID.
func (r *IssueRoom) RoomID() string { return r.roomID }

// Organization returns the repository owner.
func (r *IssueRoom) Organization() string {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	return r.state.Org
}

// Repository returns the repository name.
func (r *IssueRoom) Repository() string {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	return r.state.Repo
}

// IssueNumber returns the linked issue number, or 0 before state is
// loaded.
func (r *IssueRoom) IssueNumber() int {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	number, err := r.state.IssueNumber()
	if err != nil {
		return 0
	}
	return number
}

// State returns a copy of the room's bridge state.
func (r *IssueRoom) State() schema.RoomState {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	state := r.state
	state.Issues = append([]string(nil), r.state.Issues...)
	return state
}

func (r *IssueRoom) setState(state schema.RoomState) {
	r.stateMu.Lock()
	r.state = state
	r.stateMu.Unlock()
}

// identity returns the registry key of the linked issue, or "" when no
// valid state is loaded.
func (r *IssueRoom) identity() string {
	state := r.State()
	number, err := state.IssueNumber()
	if err != nil {
		return ""
	}
	return IdentityKey(state.Org, state.Repo, number)
}

// LoadState reads the bridge state from the canonical empty state key.
// When that fails, the room's full state is scanned for bridge state
// under any key; the first match is adopted and re-written at the
// canonical key.
func (r *IssueRoom) LoadState(ctx context.Context) error {
	r.operation.Lock()
	defer r.operation.Unlock()
	return r.loadState(ctx)
}

func (r *IssueRoom) loadState(ctx context.Context) error {
	raw, err := r.env.matrix.GetStateEvent(ctx, r.roomID, schema.EventTypeBridgeState, "")
	if err == nil {
		state, decodeErr := decodeRoomState(raw)
		if decodeErr == nil {
			r.setState(state)
			return nil
		}
		err = decodeErr
	}
	r.env.logger.Debug("canonical bridge state unavailable, scanning room state",
		"room_id", r.roomID,
		"error", err,
	)
	return r.loadLegacyState(ctx)
}

func (r *IssueRoom) loadLegacyState(ctx context.Context) error {
	events, err := r.env.matrix.GetRoomState(ctx, r.roomID)
	if err != nil {
		return fmt.Errorf("reading room state: %w", err)
	}

	var candidates []messaging.Event
	for _, event := range events {
		if event.Type == schema.EventTypeBridgeState && event.StateKey != nil && len(event.Content) > 0 {
			candidates = append(candidates, event)
		}
	}
	if len(candidates) == 0 {
		return ErrNoBridgeState
	}
	if len(candidates) > 1 {
		r.env.logger.Warn("room has several bridge state events, using the first",
			"room_id", r.roomID,
			"count", len(candidates),
			"state_key", *candidates[0].StateKey,
		)
	}

	raw, err := json.Marshal(candidates[0].Content)
	if err != nil {
		return fmt.Errorf("re-encoding legacy bridge state: %w", err)
	}
	state, err := decodeRoomState(raw)
	if err != nil {
		return fmt.Errorf("legacy bridge state: %w", err)
	}
	r.setState(state)
	return r.persist(ctx)
}

// decodeRoomState parses and validates bridge state. Older rooms may
// omit the lifecycle state; those are treated as open.
func decodeRoomState(raw []byte) (schema.RoomState, error) {
	var state schema.RoomState
	if err := json.Unmarshal(raw, &state); err != nil {
		return schema.RoomState{}, fmt.Errorf("decoding bridge state: %w", err)
	}
	if state.State == "" {
		state.State = schema.IssueStateOpen
	}
	if err := state.Validate(); err != nil {
		return schema.RoomState{}, err
	}
	return state, nil
}

// MigrateLegacy loads the room's state and writes issue account data
// for it, adopting a room created before account data existed.
func (r *IssueRoom) MigrateLegacy(ctx context.Context) error {
	r.operation.Lock()
	defer r.operation.Unlock()
	if err := r.loadState(ctx); err != nil {
		return err
	}
	return r.storeAccountData(ctx)
}

func (r *IssueRoom) storeAccountData(ctx context.Context) error {
	state := r.State()
	number, err := state.IssueNumber()
	if err != nil {
		return err
	}
	data := schema.NewIssueAccountData(state.Org, state.Repo, number)
	if err := r.env.matrix.SetRoomAccountData(ctx, r.roomID, schema.EventTypeRoomAccountData, data); err != nil {
		return fmt.Errorf("writing issue account data: %w", err)
	}
	return nil
}

// OnEvent reloads the room's state when event is a canonical bridge
// state update and reports it consumed. All other events are left for
// the caller to route.
func (r *IssueRoom) OnEvent(ctx context.Context, event messaging.Event) (bool, error) {
	if event.Type != schema.EventTypeBridgeState || event.StateKey == nil || *event.StateKey != "" {
		return false, nil
	}
	if err := r.LoadState(ctx); err != nil {
		return true, fmt.Errorf("reloading bridge state: %w", err)
	}
	return true, nil
}

// persist writes the current state at the canonical state key.
func (r *IssueRoom) persist(ctx context.Context) error {
	state := r.State()
	if _, err := r.env.matrix.SendStateEvent(ctx, r.roomID, schema.EventTypeBridgeState, "", state); err != nil {
		return fmt.Errorf("persisting bridge state: %w", err)
	}
	return nil
}

// Synchronize catches the room up with the issue: it posts the
// bootstrap messages of a new room, mirrors every comment beyond the
// cursor in creation order, reflects lifecycle changes, and persists
// the resulting state.
func (r *IssueRoom) Synchronize(ctx context.Context, tracker IssueTracker) error {
	r.operation.Lock()
	defer r.operation.Unlock()
	return r.synchronize(ctx, tracker)
}

func (r *IssueRoom) synchronize(ctx context.Context, tracker IssueTracker) error {
	state := r.State()
	number, err := state.IssueNumber()
	if err != nil {
		return err
	}
	logger := r.env.logger.With("room_id", r.roomID, "issue", IdentityKey(state.Org, state.Repo, number))

	issue, err := tracker.GetIssue(ctx, state.Org, state.Repo, number)
	if err != nil {
		return fmt.Errorf("fetching issue: %w", err)
	}

	if state.CommentsProcessed == schema.CursorUnsynchronized {
		if err := r.bootstrap(ctx, issue); err != nil {
			return err
		}
		state.CommentsProcessed = 0
		r.setState(state)
		logger.Info("bootstrapped issue room")
	}

	if state.CommentsProcessed != issue.Comments {
		comments, err := tracker.ListIssueComments(ctx, state.Org, state.Repo, number)
		if err != nil {
			return fmt.Errorf("listing comments: %w", err)
		}
		if state, err = r.catchUp(ctx, logger, state, comments, len(comments)); err != nil {
			return err
		}
	}

	if issue.State != state.State {
		if issue.State == schema.IssueStateClosed {
			if err := r.sendClosedNotice(ctx, issue); err != nil {
				return err
			}
		}
		if _, err := r.env.matrix.SendStateEvent(ctx, r.roomID, schema.MatrixEventTypeTopic, "",
			map[string]any{"topic": format.FormatTopic(issue)}); err != nil {
			return fmt.Errorf("updating topic: %w", err)
		}
		logger.Info("issue lifecycle changed", "from", state.State, "to", issue.State)
		state.State = issue.State
		r.setState(state)
	}

	return r.persist(ctx)
}

// bootstrap posts the creation notice and, when present, the issue
// body, both attributed to the issue's author.
func (r *IssueRoom) bootstrap(ctx context.Context, issue *github.Issue) error {
	sender, err := r.env.ghosts.GhostUserID(ctx, issue.User)
	if err != nil {
		return fmt.Errorf("resolving issue author: %w", err)
	}

	notice := format.NoticeContent(format.CreatedNotice(issue), issue.HTMLURL)
	if _, err := r.env.sendMatrix(ctx, r.roomID, schema.MatrixEventTypeMessage, sender, notice); err != nil {
		return fmt.Errorf("sending creation notice: %w", err)
	}

	if issue.Body == "" {
		return nil
	}
	body, err := r.env.processor.IssueBodyContent(issue)
	if err != nil {
		return fmt.Errorf("rendering issue body: %w", err)
	}
	if _, err := r.env.sendMatrix(ctx, r.roomID, schema.MatrixEventTypeMessage, sender, body); err != nil {
		return fmt.Errorf("sending issue body: %w", err)
	}
	return nil
}

func (r *IssueRoom) sendClosedNotice(ctx context.Context, issue *github.Issue) error {
	var (
		closer      github.User
		externalURL = issue.HTMLURL
	)
	if issue.ClosedBy != nil {
		closer = *issue.ClosedBy
		externalURL = issue.ClosedBy.HTMLURL
	}
	sender, err := r.env.ghosts.GhostUserID(ctx, closer)
	if err != nil {
		return fmt.Errorf("resolving issue closer: %w", err)
	}
	notice := format.NoticeContent(format.ClosedNotice(issue), externalURL)
	if _, err := r.env.sendMatrix(ctx, r.roomID, schema.MatrixEventTypeMessage, sender, notice); err != nil {
		return fmt.Errorf("sending closure notice: %w", err)
	}
	return nil
}

// mirrorOrSkip mirrors comment unless the bridge itself created it, as
// recorded in the dedup cache.
func (r *IssueRoom) mirrorOrSkip(ctx context.Context, state schema.RoomState, comment *github.Comment) error {
	number, _ := state.IssueNumber()
	key := DedupKey(state.Org, state.Repo, number, comment.ID)
	if r.env.dedup.Contains(key) {
		r.env.logger.Debug("skipping comment created by the bridge", "room_id", r.roomID, "key", key)
		return nil
	}
	return r.mirrorComment(ctx, comment)
}

// mirrorComment sends one GitHub comment into the room, attributed to
// the ghost of its author. The cursor is not changed.
func (r *IssueRoom) mirrorComment(ctx context.Context, comment *github.Comment) error {
	sender, err := r.env.ghosts.GhostUserID(ctx, comment.User)
	if err != nil {
		return fmt.Errorf("resolving comment author: %w", err)
	}
	content, err := r.env.processor.CommentContent(comment)
	if err != nil {
		return fmt.Errorf("rendering comment: %w", err)
	}
	if _, err := r.env.sendMatrix(ctx, r.roomID, schema.MatrixEventTypeMessage, sender, content); err != nil {
		return err
	}
	return nil
}

// catchUp mirrors comments[cursor:end] in order, advancing the cursor
// after each one. A cursor past the end of comments is clamped first.
// On failure the cursor reached so far is persisted.
func (r *IssueRoom) catchUp(ctx context.Context, logger *slog.Logger, state schema.RoomState, comments []github.Comment, end int) (schema.RoomState, error) {
	if state.CommentsProcessed > len(comments) {
		logger.Warn("cursor is past the last comment, clamping",
			"comments_processed", state.CommentsProcessed,
			"comments", len(comments),
		)
		state.CommentsProcessed = len(comments)
		r.setState(state)
	}
	for i := state.CommentsProcessed; i < end; i++ {
		comment := &comments[i]
		if err := r.mirrorOrSkip(ctx, state, comment); err != nil {
			if persistErr := r.persist(ctx); persistErr != nil {
				logger.Warn("failed to persist cursor after mirror failure", "error", persistErr)
			}
			return state, fmt.Errorf("mirroring comment %d: %w", comment.ID, err)
		}
		state.CommentsProcessed++
		r.setState(state)
	}
	return state, nil
}

// OnCommentCreated handles a comment announced by a webhook. A room
// that was never synchronized runs a full synchronization instead.
// Otherwise the issue's comments are listed and every comment from the
// cursor up to and including the announced one is mirrored in order,
// so announcements handled out of order neither skip nor repeat a
// comment. An announced comment already behind the cursor is ignored.
// A comment the bridge created is not mirrored but still advances the
// cursor.
func (r *IssueRoom) OnCommentCreated(ctx context.Context, tracker IssueTracker, comment *github.Comment) error {
	r.operation.Lock()
	defer r.operation.Unlock()

	state := r.State()
	if state.CommentsProcessed == schema.CursorUnsynchronized {
		return r.synchronize(ctx, tracker)
	}
	number, err := state.IssueNumber()
	if err != nil {
		return err
	}
	logger := r.env.logger.With(
		"room_id", r.roomID,
		"issue", IdentityKey(state.Org, state.Repo, number),
		"comment_id", comment.ID,
	)

	comments, err := tracker.ListIssueComments(ctx, state.Org, state.Repo, number)
	if err != nil {
		return fmt.Errorf("listing comments: %w", err)
	}

	position := slices.IndexFunc(comments, func(c github.Comment) bool { return c.ID == comment.ID })
	switch {
	case position >= 0 && position < state.CommentsProcessed:
		logger.Debug("comment already processed", "comments_processed", state.CommentsProcessed)
		return nil
	case position >= 0:
		if _, err := r.catchUp(ctx, logger, state, comments, position+1); err != nil {
			return err
		}
	default:
		// The listing lags the webhook. Catch up on what is listed,
		// then count the announced comment as the next one.
		logger.Debug("announced comment not listed yet", "comments", len(comments))
		if state, err = r.catchUp(ctx, logger, state, comments, len(comments)); err != nil {
			return err
		}
		if err := r.mirrorOrSkip(ctx, state, comment); err != nil {
			if persistErr := r.persist(ctx); persistErr != nil {
				logger.Warn("failed to persist cursor after mirror failure", "error", persistErr)
			}
			return fmt.Errorf("mirroring comment %d: %w", comment.ID, err)
		}
		state.CommentsProcessed++
		r.setState(state)
	}
	return r.persist(ctx)
}

// initialize adopts state for a room the bridge just created, writes it
// at the canonical key, and records the room's account data.
func (r *IssueRoom) initialize(ctx context.Context, state schema.RoomState) error {
	r.operation.Lock()
	defer r.operation.Unlock()
	r.setState(state)
	if err := r.persist(ctx); err != nil {
		return err
	}
	return r.storeAccountData(ctx)
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bureau-foundation/ghbridge/lib/schema"
	"github.com/bureau-foundation/ghbridge/lib/tokenstore"
	"github.com/bureau-foundation/ghbridge/messaging"
)

const commandSync = "!sync"

// OnRoomEvent routes one event from the homeserver. A tracked room that
// consumes the event ends routing. An invitation of the bot into an
// untracked room from a real user is offered as an admin room. A chat
// message in an issue room is mirrored to GitHub, after a
// synchronization pass when the message is "!sync".
func (b *Bridge) OnRoomEvent(ctx context.Context, roomID string, event messaging.Event) error {
	room := b.registry.Get(roomID)
	if room != nil {
		handled, err := room.OnEvent(ctx, event)
		if issue := b.registry.Issue(roomID); handled && issue != nil {
			b.registry.Index(issue)
		}
		if err != nil {
			return err
		}
		if handled {
			return nil
		}
	}

	if room == nil {
		if b.isInvite(event) {
			return b.onInvite(ctx, roomID, event.Sender)
		}
		return nil
	}

	issue := b.registry.Issue(roomID)
	if issue == nil || event.Type != schema.MatrixEventTypeMessage {
		return nil
	}
	if b.env.namespace.IsBridgeUser(event.Sender) {
		return nil
	}

	if strings.TrimSpace(event.ContentString("body")) == commandSync {
		if err := issue.Synchronize(ctx, b.env.tracker); err != nil {
			b.logger.Warn("synchronization requested from room failed",
				"room_id", roomID,
				"sender", event.Sender,
				"error", err,
			)
		}
	}
	return b.mirrorToGitHub(ctx, issue, event)
}

func (b *Bridge) isInvite(event messaging.Event) bool {
	return event.Type == schema.MatrixEventTypeMember &&
		event.StateKey != nil && *event.StateKey == b.env.namespace.BotUserID &&
		event.ContentString("membership") == "invite" &&
		!b.env.namespace.IsBridgeUser(event.Sender)
}

func (b *Bridge) onInvite(ctx context.Context, roomID, inviter string) error {
	room, err := b.TryCreateAdminRoom(ctx, roomID, inviter)
	if errors.Is(err, ErrNotDirectRoom) {
		b.logger.Info("declined invite to a group room", "room_id", roomID, "inviter", inviter)
		return nil
	}
	if err != nil {
		return err
	}
	b.registry.AddAdmin(room)
	b.logger.Info("admin room created", "room_id", roomID, "user_id", inviter)
	return nil
}

// mirrorToGitHub posts a chat message as a comment on the room's issue.
// A sender with a stored token comments as themselves; anyone else is
// quoted by the service account.
func (b *Bridge) mirrorToGitHub(ctx context.Context, room *IssueRoom, event messaging.Event) error {
	body := b.env.processor.CommentBody(event.Content)
	if body == "" {
		return nil
	}

	tracker, attributed := b.trackerFor(ctx, event.Sender)
	if !attributed {
		body = fmt.Sprintf("`%s`: %s", event.Sender, body)
	}

	state := room.State()
	number, err := state.IssueNumber()
	if err != nil {
		return err
	}
	comment, err := tracker.CreateIssueComment(ctx, state.Org, state.Repo, number, body)
	if err != nil {
		return fmt.Errorf("commenting on %s: %w", IdentityKey(state.Org, state.Repo, number), err)
	}
	b.env.dedup.Add(DedupKey(state.Org, state.Repo, number, comment.ID))

	b.logger.Debug("mirrored message to GitHub",
		"room_id", room.RoomID(),
		"event_id", event.EventID,
		"comment_id", comment.ID,
		"attributed", attributed,
	)
	return nil
}

// trackerFor returns the tracker acting for userID and whether it
// authenticates as that user.
func (b *Bridge) trackerFor(ctx context.Context, userID string) (IssueTracker, bool) {
	token, err := b.env.tokens.UserToken(ctx, userID)
	if err != nil {
		if !errors.Is(err, tokenstore.ErrNoToken) {
			b.logger.Warn("failed to read user token, commenting as the bridge", "user_id", userID, "error", err)
		}
		return b.env.tracker, false
	}
	tracker, err := b.env.trackers(token)
	if err != nil {
		b.logger.Warn("failed to build user tracker, commenting as the bridge", "user_id", userID, "error", err)
		return b.env.tracker, false
	}
	return tracker, true
}

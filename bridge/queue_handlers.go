// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"

	"github.com/bureau-foundation/ghbridge/lib/format"
	"github.com/bureau-foundation/ghbridge/lib/github"
	"github.com/bureau-foundation/ghbridge/lib/queue"
	"github.com/bureau-foundation/ghbridge/lib/schema"
)

// Subscribe registers the bridge's handlers for webhook and OAuth
// events on q.
func (b *Bridge) Subscribe(q queue.Queue) {
	q.On(schema.EventCommentCreated, b.onCommentCreated)
	q.On(schema.EventIssueEdited, b.onIssueEdited)
	q.On(schema.EventIssueClosed, b.onIssueLifecycle)
	q.On(schema.EventIssueReopened, b.onIssueLifecycle)
	q.On(schema.EventOAuthResponse, func(ctx context.Context, message queue.Message) {
		b.onOAuthResponse(ctx, q, message)
	})
	q.On(schema.EventOAuthTokens, b.onOAuthTokens)
}

// resolveWebhook decodes a webhook payload and finds the room linked to
// its issue. It returns nil when the message should be dropped.
func (b *Bridge) resolveWebhook(message queue.Message) (*github.WebhookEvent, *IssueRoom) {
	var event github.WebhookEvent
	if err := message.Decode(&event); err != nil {
		b.logger.Warn("dropping malformed webhook event",
			"event", message.EventName,
			"message_id", message.MessageID,
			"error", err,
		)
		return nil, nil
	}
	if event.Issue == nil {
		b.logger.Warn("dropping webhook event without an issue", "event", message.EventName, "message_id", message.MessageID)
		return nil, nil
	}

	owner, repo, err := webhookRepository(&event)
	if err != nil {
		b.logger.Warn("dropping webhook event without a repository", "event", message.EventName, "error", err)
		return nil, nil
	}
	room := b.registry.FindByIdentity(owner, repo, event.Issue.Number)
	if room == nil {
		b.logger.Debug("no room linked to issue",
			"event", message.EventName,
			"issue", IdentityKey(owner, repo, event.Issue.Number),
		)
		return nil, nil
	}
	return &event, room
}

func webhookRepository(event *github.WebhookEvent) (string, string, error) {
	if repository := event.Repository; repository != nil && repository.Owner.Login != "" && repository.Name != "" {
		return repository.Owner.Login, repository.Name, nil
	}
	return event.Issue.Repository()
}

func (b *Bridge) onCommentCreated(ctx context.Context, message queue.Message) {
	event, room := b.resolveWebhook(message)
	if room == nil {
		return
	}
	if event.Comment == nil {
		b.logger.Warn("dropping comment event without a comment", "message_id", message.MessageID)
		return
	}

	// Give a concurrent mirror from Matrix time to record the comment
	// in the dedup cache.
	if b.dedupDelay > 0 {
		select {
		case <-b.env.clock.After(b.dedupDelay):
		case <-ctx.Done():
			return
		}
	}

	if err := room.OnCommentCreated(ctx, b.env.tracker, event.Comment); err != nil {
		b.logger.Error("failed to handle new comment",
			"room_id", room.RoomID(),
			"comment_id", event.Comment.ID,
			"error", err,
		)
	}
}

func (b *Bridge) onIssueEdited(ctx context.Context, message queue.Message) {
	event, room := b.resolveWebhook(message)
	if room == nil {
		return
	}
	if event.Changes == nil || event.Changes.Title == nil {
		return
	}

	name := format.FormatName(event.Issue)
	if _, err := b.env.matrix.SendStateEvent(ctx, room.RoomID(), schema.MatrixEventTypeName, "",
		map[string]any{"name": name}); err != nil {
		b.logger.Error("failed to rename issue room", "room_id", room.RoomID(), "error", err)
		return
	}
	b.logger.Info("renamed issue room", "room_id", room.RoomID(), "name", name)
}

func (b *Bridge) onIssueLifecycle(ctx context.Context, message queue.Message) {
	_, room := b.resolveWebhook(message)
	if room == nil {
		return
	}
	if err := room.Synchronize(ctx, b.env.tracker); err != nil {
		b.logger.Error("failed to synchronize issue room",
			"event", message.EventName,
			"room_id", room.RoomID(),
			"error", err,
		)
	}
}

func (b *Bridge) onOAuthResponse(ctx context.Context, q queue.Queue, message queue.Message) {
	var probe schema.OAuthProbe
	if err := message.Decode(&probe); err != nil {
		b.logger.Warn("dropping malformed oauth.response", "message_id", message.MessageID, "error", err)
		return
	}

	known := b.registry.FindAdminByNonce(probe.State) != nil
	reply, err := message.Reply(queueSender, known)
	if err != nil {
		b.logger.Error("failed to encode oauth.response reply", "message_id", message.MessageID, "error", err)
		return
	}
	if err := q.Push(ctx, reply); err != nil {
		b.logger.Warn("failed to publish oauth.response reply", "message_id", message.MessageID, "error", err)
	}
}

func (b *Bridge) onOAuthTokens(ctx context.Context, message queue.Message) {
	var tokens schema.OAuthTokens
	if err := message.Decode(&tokens); err != nil {
		b.logger.Warn("dropping malformed oauth.tokens", "message_id", message.MessageID, "error", err)
		return
	}

	room := b.registry.FindAdminByNonce(tokens.State)
	if room == nil {
		b.logger.Warn("received OAuth tokens for an unknown state", "message_id", message.MessageID)
		return
	}
	room.ClearOAuthState()
	if err := b.env.tokens.StoreUserToken(ctx, room.UserID(), tokens.AccessToken); err != nil {
		b.logger.Error("failed to store OAuth token", "user_id", room.UserID(), "error", err)
		return
	}
	b.logger.Info("stored OAuth token", "user_id", room.UserID())
}

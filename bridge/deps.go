// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"encoding/json"

	"github.com/bureau-foundation/ghbridge/lib/github"
	"github.com/bureau-foundation/ghbridge/messaging"
)

// Matrix is the bridge bot's view of the homeserver.
// *messaging.AppServiceSession implements it.
type Matrix interface {
	UserID() string

	JoinedRooms(ctx context.Context) ([]string, error)
	JoinRoom(ctx context.Context, roomIDOrAlias string) (string, error)
	LeaveRoom(ctx context.Context, roomID string) error
	JoinedMembers(ctx context.Context, roomID string) ([]string, error)

	SendMessage(ctx context.Context, roomID string, content messaging.MessageContent) (string, error)
	SendStateEvent(ctx context.Context, roomID, eventType, stateKey string, content any) (string, error)
	GetStateEvent(ctx context.Context, roomID, eventType, stateKey string) (json.RawMessage, error)
	GetRoomState(ctx context.Context, roomID string) ([]messaging.Event, error)

	GetRoomAccountData(ctx context.Context, roomID, dataType string) (json.RawMessage, error)
	SetRoomAccountData(ctx context.Context, roomID, dataType string, content any) error
}

// IssueTracker is the GitHub surface the engine uses. *github.Client
// implements it.
type IssueTracker interface {
	GetIssue(ctx context.Context, owner, repo string, number int) (*github.Issue, error)
	ListIssueComments(ctx context.Context, owner, repo string, number int) ([]github.Comment, error)
	CreateIssueComment(ctx context.Context, owner, repo string, number int, body string) (*github.Comment, error)
	GetAuthenticatedUser(ctx context.Context) (*github.User, error)
}

// TrackerFactory returns an IssueTracker acting with token.
type TrackerFactory func(token string) (IssueTracker, error)

// TokenStore holds per-user GitHub tokens. UserToken returns an error
// matching tokenstore.ErrNoToken when none is stored.
type TokenStore interface {
	UserToken(ctx context.Context, userID string) (string, error)
	StoreUserToken(ctx context.Context, userID, token string) error
}

// GhostResolver maps a GitHub user to the Matrix user that speaks for
// them, provisioning it on first use.
type GhostResolver interface {
	GhostUserID(ctx context.Context, user github.User) (string, error)
}

// OAuthLinker builds the GitHub authorization URL for an OAuth state
// nonce. *github.OAuthApp implements it.
type OAuthLinker interface {
	AuthorizeURL(state string) string
}

// Compile-time checks.
var (
	_ Matrix       = (*messaging.AppServiceSession)(nil)
	_ IssueTracker = (*github.Client)(nil)
	_ OAuthLinker  = (*github.OAuthApp)(nil)
)

// GitHubTrackers adapts a service client into a TrackerFactory that
// derives per-user clients.
func GitHubTrackers(client *github.Client) TrackerFactory {
	return func(token string) (IssueTracker, error) {
		derived, err := client.WithToken(token)
		if err != nil {
			return nil, err
		}
		return derived, nil
	}
}

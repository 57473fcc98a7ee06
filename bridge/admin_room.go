// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/bureau-foundation/ghbridge/lib/schema"
	"github.com/bureau-foundation/ghbridge/lib/tokenstore"
	"github.com/bureau-foundation/ghbridge/messaging"
)

// ErrNotDirectRoom is returned by TryCreateAdminRoom when the invited
// room has members besides the bot and the inviter.
var ErrNotDirectRoom = errors.New("bridge: admin rooms must be 1:1")

// Admin command words, matched case-insensitively against the first
// whitespace-separated word of a message.
const (
	commandSetPersonalToken = "!setpersonaltoken"
	commandHasToken         = "!hastoken"
	commandStartOAuth       = "!startoauth"
)

// AdminRoom is a 1:1 room in which one Matrix user configures their
// GitHub credentials.
type AdminRoom struct {
	env    *env
	roomID string
	userID string

	mu         sync.Mutex
	oauthState string
}

func newAdminRoom(shared *env, roomID, userID string) *AdminRoom {
	return &AdminRoom{env: shared, roomID: roomID, userID: userID}
}

// RoomID returns the Matrix room ID.
func (a *AdminRoom) RoomID() string { return a.roomID }

// UserID returns the Matrix user the room belongs to.
func (a *AdminRoom) UserID() string { return a.userID }

// OAuthState returns the pending OAuth nonce, or "".
func (a *AdminRoom) OAuthState() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.oauthState
}

// ClearOAuthState discards the pending OAuth nonce.
func (a *AdminRoom) ClearOAuthState() {
	a.mu.Lock()
	a.oauthState = ""
	a.mu.Unlock()
}

// Store writes the room's admin account data.
func (a *AdminRoom) Store(ctx context.Context) error {
	data := schema.NewAdminAccountData(a.userID)
	if err := a.env.matrix.SetRoomAccountData(ctx, a.roomID, schema.EventTypeRoomAccountData, data); err != nil {
		return fmt.Errorf("writing admin account data: %w", err)
	}
	return nil
}

// TryCreateAdminRoom joins a room the bot was invited to and promotes it
// to an admin room for inviter. A room with any other member is left
// and ErrNotDirectRoom is returned.
func (b *Bridge) TryCreateAdminRoom(ctx context.Context, roomID, inviter string) (*AdminRoom, error) {
	shared := b.env
	if _, err := shared.matrix.JoinRoom(ctx, roomID); err != nil {
		return nil, fmt.Errorf("joining %s: %w", roomID, err)
	}

	members, err := shared.matrix.JoinedMembers(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("reading members of %s: %w", roomID, err)
	}
	for _, member := range members {
		if member == shared.namespace.BotUserID || member == inviter {
			continue
		}
		if err := shared.sendNotice(ctx, roomID, "This bridge currently only supports invites to 1:1 rooms"); err != nil {
			b.logger.Warn("failed to explain admin room rejection", "room_id", roomID, "error", err)
		}
		if err := shared.matrix.LeaveRoom(ctx, roomID); err != nil {
			b.logger.Warn("failed to leave rejected admin room", "room_id", roomID, "error", err)
		}
		return nil, ErrNotDirectRoom
	}

	room := newAdminRoom(shared, roomID, inviter)
	if err := room.Store(ctx); err != nil {
		return nil, err
	}
	return room, nil
}

// OnEvent interprets messages from the room's user as commands. Every
// event is consumed; messages from anyone else are ignored.
func (a *AdminRoom) OnEvent(ctx context.Context, event messaging.Event) (bool, error) {
	if event.Type != schema.MatrixEventTypeMessage || event.Sender != a.userID {
		return true, nil
	}

	command, argument := splitCommand(event.ContentString("body"))

	var err error
	switch command {
	case commandSetPersonalToken:
		err = a.setPersonalToken(ctx, argument)
	case commandHasToken:
		err = a.hasToken(ctx)
	case commandStartOAuth:
		err = a.startOAuth(ctx)
	default:
		err = a.env.sendNotice(ctx, a.roomID, "Command not understood")
	}
	return true, err
}

// splitCommand returns the lower-cased first word of body and the
// rest of body with its case preserved.
func splitCommand(body string) (string, string) {
	body = strings.TrimSpace(body)
	word, argument := body, ""
	if i := strings.IndexFunc(body, unicode.IsSpace); i >= 0 {
		word, argument = body[:i], strings.TrimSpace(body[i:])
	}
	return strings.ToLower(word), argument
}

func (a *AdminRoom) setPersonalToken(ctx context.Context, token string) error {
	login, err := a.authenticate(ctx, token)
	if err != nil {
		a.env.logger.Info("personal token rejected", "room_id", a.roomID, "user_id", a.userID, "error", err)
		return a.env.sendNotice(ctx, a.roomID, "Could not authenticate with GitHub. Is your token correct?")
	}

	if err := a.env.sendNotice(ctx, a.roomID, fmt.Sprintf("Connected as %s. Storing token..", login)); err != nil {
		return err
	}
	return a.env.tokens.StoreUserToken(ctx, a.userID, token)
}

// authenticate returns the GitHub login token acts as.
func (a *AdminRoom) authenticate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", errors.New("empty token")
	}
	tracker, err := a.env.trackers(token)
	if err != nil {
		return "", err
	}
	user, err := tracker.GetAuthenticatedUser(ctx)
	if err != nil {
		return "", err
	}
	return user.Login, nil
}

func (a *AdminRoom) hasToken(ctx context.Context) error {
	_, err := a.env.tokens.UserToken(ctx, a.userID)
	switch {
	case err == nil:
		return a.env.sendNotice(ctx, a.roomID, "A token is stored for your GitHub account.")
	case errors.Is(err, tokenstore.ErrNoToken):
		return a.env.sendNotice(ctx, a.roomID, "You do not currently have a token stored")
	default:
		return fmt.Errorf("reading token for %s: %w", a.userID, err)
	}
}

func (a *AdminRoom) startOAuth(ctx context.Context) error {
	if a.env.oauth == nil {
		return a.env.sendNotice(ctx, a.roomID, "OAuth is not configured on this bridge")
	}

	nonce := a.env.newNonce()
	a.mu.Lock()
	a.oauthState = nonce
	a.mu.Unlock()

	url := a.env.oauth.AuthorizeURL(nonce)
	return a.env.sendNotice(ctx, a.roomID, fmt.Sprintf("You should follow %s to link your account to the bridge", url))
}

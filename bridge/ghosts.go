// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/bureau-foundation/ghbridge/lib/github"
	"github.com/bureau-foundation/ghbridge/messaging"
)

// Namespace describes the Matrix users the application service owns.
type Namespace struct {
	// BotUserID is the bridge bot, e.g. "@github:example.org".
	BotUserID string

	// UserPrefix starts every ghost localpart, e.g. "github_".
	UserPrefix string

	// Domain is the homeserver name.
	Domain string
}

// GhostLocalpart returns the localpart of the ghost for a GitHub login.
// Matrix localparts are lower case; GitHub logins are case-insensitive.
func (n Namespace) GhostLocalpart(login string) string {
	return n.UserPrefix + strings.ToLower(login)
}

// GhostUserID returns the ghost user ID for a GitHub login.
func (n Namespace) GhostUserID(login string) string {
	return "@" + n.GhostLocalpart(login) + ":" + n.Domain
}

// IsBridgeUser reports whether userID is the bot or one of its ghosts.
// Messages from these users are never mirrored to GitHub.
func (n Namespace) IsBridgeUser(userID string) bool {
	if userID == n.BotUserID {
		return true
	}
	return strings.HasPrefix(userID, "@"+n.UserPrefix) && strings.HasSuffix(userID, ":"+n.Domain)
}

// Profiles is the homeserver surface ghost provisioning needs.
type Profiles interface {
	RegisterUser(ctx context.Context, localpart string) error
	GetProfile(ctx context.Context, userID string) (*messaging.Profile, error)
	SetProfile(ctx context.Context, userID string, profile messaging.Profile) error
	UploadMedia(ctx context.Context, userID, contentType string, data []byte) (string, error)
}

// AvatarSource downloads GitHub avatars. *github.Client implements it.
type AvatarSource interface {
	DownloadAvatar(ctx context.Context, avatarURL string) ([]byte, string, error)
}

// AppServiceProfiles implements Profiles by masquerading the
// application service session as each ghost.
type AppServiceProfiles struct {
	Session *messaging.AppServiceSession
}

func (p AppServiceProfiles) RegisterUser(ctx context.Context, localpart string) error {
	return p.Session.RegisterUser(ctx, localpart)
}

func (p AppServiceProfiles) GetProfile(ctx context.Context, userID string) (*messaging.Profile, error) {
	return p.Session.GetProfile(ctx, userID)
}

func (p AppServiceProfiles) SetProfile(ctx context.Context, userID string, profile messaging.Profile) error {
	ghost := p.Session.As(userID)
	if profile.AvatarURL != "" {
		if err := ghost.SetAvatarURL(ctx, profile.AvatarURL); err != nil {
			return err
		}
	}
	return ghost.SetDisplayName(ctx, profile.DisplayName)
}

func (p AppServiceProfiles) UploadMedia(ctx context.Context, userID, contentType string, data []byte) (string, error) {
	return p.Session.As(userID).UploadMedia(ctx, contentType, bytes.NewReader(data))
}

// ghostCacheSize bounds how many provisioned ghosts are remembered.
const ghostCacheSize = 1024

// Ghosts provisions ghost users: registers them in the application
// service namespace and keeps their display name and avatar in step
// with GitHub. Provisioned logins are cached so steady-state lookups
// make no requests.
type Ghosts struct {
	namespace Namespace
	profiles  Profiles
	avatars   AvatarSource
	logger    *slog.Logger

	provisioned *lru.Cache[string, struct{}]
}

// NewGhosts creates a Ghosts. avatars may be nil to skip avatar sync.
func NewGhosts(namespace Namespace, profiles Profiles, avatars AvatarSource, logger *slog.Logger) *Ghosts {
	if logger == nil {
		logger = slog.Default()
	}
	provisioned, err := lru.New[string, struct{}](ghostCacheSize)
	if err != nil {
		// Only possible with a non-positive size.
		panic(err)
	}
	return &Ghosts{
		namespace:   namespace,
		profiles:    profiles,
		avatars:     avatars,
		logger:      logger,
		provisioned: provisioned,
	}
}

// GhostUserID returns the ghost for user, registering it and syncing
// its profile the first time. A user without a login maps to the bot
// (empty user ID). Profile sync failures are logged, not returned.
func (g *Ghosts) GhostUserID(ctx context.Context, user github.User) (string, error) {
	if user.Login == "" {
		return "", nil
	}
	userID := g.namespace.GhostUserID(user.Login)
	if g.provisioned.Contains(userID) {
		return userID, nil
	}

	if err := g.profiles.RegisterUser(ctx, g.namespace.GhostLocalpart(user.Login)); err != nil {
		return "", fmt.Errorf("registering ghost for %s: %w", user.Login, err)
	}
	if err := g.syncProfile(ctx, userID, user); err != nil {
		g.logger.Warn("failed to sync ghost profile",
			"user_id", userID,
			"login", user.Login,
			"error", err,
		)
	}
	g.provisioned.Add(userID, struct{}{})
	return userID, nil
}

func (g *Ghosts) syncProfile(ctx context.Context, userID string, user github.User) error {
	current, err := g.profiles.GetProfile(ctx, userID)
	switch {
	case messaging.IsMatrixError(err, messaging.ErrCodeNotFound):
		current = &messaging.Profile{}
	case err != nil:
		return err
	}
	needsAvatar := current.AvatarURL == "" && user.AvatarURL != "" && g.avatars != nil
	if current.DisplayName == user.Login && !needsAvatar {
		return nil
	}

	g.logger.Info("ghost profile is out of date", "user_id", userID)
	updated := messaging.Profile{DisplayName: user.Login}
	if needsAvatar {
		data, contentType, err := g.avatars.DownloadAvatar(ctx, user.AvatarURL)
		if err != nil {
			return fmt.Errorf("downloading avatar: %w", err)
		}
		contentURI, err := g.profiles.UploadMedia(ctx, userID, contentType, data)
		if err != nil {
			return fmt.Errorf("uploading avatar: %w", err)
		}
		updated.AvatarURL = contentURI
	}
	return g.profiles.SetProfile(ctx, userID, updated)
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/bureau-foundation/ghbridge/lib/format"
	"github.com/bureau-foundation/ghbridge/lib/github"
	"github.com/bureau-foundation/ghbridge/lib/schema"
	"github.com/bureau-foundation/ghbridge/messaging"
)

// ErrAliasFormat is returned for aliases that do not name a GitHub
// issue.
var ErrAliasFormat = errors.New("bridge: alias does not name a GitHub issue")

// ErrIssueLinked is returned by QueryRoom when the issue already has a
// room.
var ErrIssueLinked = errors.New("bridge: issue is already linked to a room")

// IssueAlias is the issue named by a room alias of the form
// #<prefix>_<org>_<repo>_<number>:<domain>.
type IssueAlias struct {
	// Localpart is the alias without the leading '#' and the domain.
	Localpart string

	Org         string
	Repo        string
	IssueNumber int
}

// ParseAlias parses alias with the given prefix. The leading '#' is
// optional.
func ParseAlias(prefix, alias string) (IssueAlias, error) {
	pattern := regexp.MustCompile(`^#?` + regexp.QuoteMeta(prefix) + `_(.+)_(.+)_(\d+):(.+)$`)
	match := pattern.FindStringSubmatch(alias)
	if match == nil {
		return IssueAlias{}, fmt.Errorf("%w: %q", ErrAliasFormat, alias)
	}
	number, err := strconv.Atoi(match[3])
	if err != nil || number <= 0 {
		return IssueAlias{}, fmt.Errorf("%w: %q has no valid issue number", ErrAliasFormat, alias)
	}
	localpart, _, _ := strings.Cut(strings.TrimPrefix(alias, "#"), ":")
	return IssueAlias{
		Localpart:   localpart,
		Org:         match[1],
		Repo:        match[2],
		IssueNumber: number,
	}, nil
}

// RoomCreation describes the room to create for an alias query.
type RoomCreation struct {
	Alias IssueAlias
	Issue *github.Issue

	Name  string
	Topic string

	// State is the initial bridge state. It is written under StateKey,
	// the issue's API URL, at creation and moved to the canonical key
	// by OnRoomCreated.
	State    schema.RoomState
	StateKey string
}

// Request returns the createRoom request for the room.
func (c *RoomCreation) Request() messaging.CreateRoomRequest {
	return messaging.CreateRoomRequest{
		Name:       c.Name,
		Topic:      c.Topic,
		Alias:      c.Alias.Localpart,
		Visibility: "public",
		Preset:     "public_chat",
		InitialState: []messaging.StateEvent{{
			Type:     schema.EventTypeBridgeState,
			StateKey: c.StateKey,
			Content:  c.State,
		}},
	}
}

// QueryRoom answers an appservice alias query: it resolves the issue
// the alias names and describes the room to create for it.
func (b *Bridge) QueryRoom(ctx context.Context, alias string) (*RoomCreation, error) {
	parsed, err := ParseAlias(b.aliasPrefix, alias)
	if err != nil {
		return nil, err
	}

	issue, err := b.env.tracker.GetIssue(ctx, parsed.Org, parsed.Repo, parsed.IssueNumber)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", alias, err)
	}
	owner, repo, err := issue.Repository()
	if err != nil {
		return nil, err
	}
	if room := b.registry.FindByIdentity(owner, repo, issue.Number); room != nil {
		return nil, fmt.Errorf("%w: %s", ErrIssueLinked, room.RoomID())
	}

	return &RoomCreation{
		Alias:    parsed,
		Issue:    issue,
		Name:     format.FormatName(issue),
		Topic:    format.FormatTopic(issue),
		State:    schema.NewRoomState(owner, repo, issue.Number),
		StateKey: issue.URL,
	}, nil
}

// OnRoomCreated adopts a room created from a RoomCreation: the bridge
// state is written at the canonical key, issue account data is
// recorded, and the room is registered. The room is left
// unsynchronized; call SynchronizeRoom to populate it.
func (b *Bridge) OnRoomCreated(ctx context.Context, roomID string, creation *RoomCreation) error {
	room := newIssueRoom(b.env, roomID)
	if err := room.initialize(ctx, creation.State); err != nil {
		return fmt.Errorf("initializing %s: %w", roomID, err)
	}
	b.registry.AddIssue(room)
	b.logger.Info("issue room created",
		"room_id", roomID,
		"issue", room.identity(),
		"alias", creation.Alias.Localpart,
	)
	return nil
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/bureau-foundation/ghbridge/lib/schema"
	"github.com/bureau-foundation/ghbridge/messaging"
)

// Room is a room the bridge manages: an *AdminRoom or an *IssueRoom.
type Room interface {
	RoomID() string

	// OnEvent offers a room event to the room. It returns true when
	// the room consumed the event and no further routing applies.
	OnEvent(ctx context.Context, event messaging.Event) (bool, error)
}

// IdentityKey returns the reverse index key of an issue. GitHub owner
// and repository names are case-insensitive.
func IdentityKey(org, repo string, issueNumber int) string {
	return strings.ToLower(org + "/" + repo + "#" + strconv.Itoa(issueNumber))
}

// Registry tracks every managed room and indexes issue rooms by the
// issue they mirror. Safe for concurrent use.
type Registry struct {
	env    *env
	logger *slog.Logger

	mu     sync.RWMutex
	admins map[string]*AdminRoom
	issues map[string]*IssueRoom

	// index maps IdentityKey to room ID; keys is its inverse so a
	// reloaded room can drop its previous key.
	index map[string]string
	keys  map[string]string
}

func newRegistry(shared *env) *Registry {
	return &Registry{
		env:    shared,
		logger: shared.logger,
		admins: make(map[string]*AdminRoom),
		issues: make(map[string]*IssueRoom),
		index:  make(map[string]string),
		keys:   make(map[string]string),
	}
}

// Initialize loads every room the bot has joined. Rooms that cannot be
// classified are logged and left untracked; only a failure to list the
// joined rooms is returned.
func (r *Registry) Initialize(ctx context.Context) error {
	rooms, err := r.env.matrix.JoinedRooms(ctx)
	if err != nil {
		return fmt.Errorf("listing joined rooms: %w", err)
	}

	for _, roomID := range rooms {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.load(ctx, roomID); err != nil {
			r.logger.Warn("room left untracked", "room_id", roomID, "error", err)
		}
	}

	r.mu.RLock()
	r.logger.Info("room registry initialized",
		"joined", len(rooms),
		"admin_rooms", len(r.admins),
		"issue_rooms", len(r.issues),
	)
	r.mu.RUnlock()
	return nil
}

// load classifies one room by its account data discriminator.
func (r *Registry) load(ctx context.Context, roomID string) error {
	raw, err := r.env.matrix.GetRoomAccountData(ctx, roomID, schema.EventTypeRoomAccountData)
	if err != nil && !messaging.IsMatrixError(err, messaging.ErrCodeNotFound) {
		return fmt.Errorf("reading room account data: %w", err)
	}

	var data schema.AccountData
	if err == nil {
		data, err = schema.DecodeAccountData(raw)
		if err != nil {
			r.logger.Debug("unrecognized room account data", "room_id", roomID, "error", err)
		}
	}

	switch data.Kind {
	case schema.RoomKindAdmin:
		r.AddAdmin(newAdminRoom(r.env, roomID, data.Admin.AdminUser))
		return nil
	case schema.RoomKindIssue:
		recorded := IdentityKey(data.Issue.Owner, data.Issue.Repo, data.Issue.IssueNumber)
		room := newIssueRoom(r.env, roomID)
		if err := room.LoadState(ctx); err != nil {
			return fmt.Errorf("loading state of %s room: %w", recorded, err)
		}
		if loaded := room.identity(); loaded != recorded {
			// The bridge state carries the cursor and wins.
			r.logger.Warn("issue account data disagrees with bridge state, rewriting it",
				"room_id", roomID,
				"account_data_issue", recorded,
				"issue", loaded,
			)
			if err := room.storeAccountData(ctx); err != nil {
				r.logger.Warn("failed to rewrite issue account data", "room_id", roomID, "error", err)
			}
		}
		r.AddIssue(room)
		return nil
	default:
		room := newIssueRoom(r.env, roomID)
		if err := room.MigrateLegacy(ctx); err != nil {
			return fmt.Errorf("migrating legacy room: %w", err)
		}
		r.logger.Info("migrated legacy issue room",
			"room_id", roomID,
			"issue", room.identity(),
		)
		r.AddIssue(room)
		return nil
	}
}

// Get returns the room with roomID, or nil.
func (r *Registry) Get(roomID string) Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if room, ok := r.issues[roomID]; ok {
		return room
	}
	if room, ok := r.admins[roomID]; ok {
		return room
	}
	return nil
}

// Issue returns the issue room with roomID, or nil.
func (r *Registry) Issue(roomID string) *IssueRoom {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.issues[roomID]
}

// Admin returns the admin room with roomID, or nil.
func (r *Registry) Admin(roomID string) *AdminRoom {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.admins[roomID]
}

// FindByIdentity returns the issue room linked to org/repo#issueNumber,
// or nil.
func (r *Registry) FindByIdentity(org, repo string, issueNumber int) *IssueRoom {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roomID, ok := r.index[IdentityKey(org, repo, issueNumber)]
	if !ok {
		return nil
	}
	return r.issues[roomID]
}

// FindAdminByNonce returns the admin room whose pending OAuth state is
// nonce, or nil.
func (r *Registry) FindAdminByNonce(nonce string) *AdminRoom {
	if nonce == "" {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, room := range r.admins {
		if room.OAuthState() == nonce {
			return room
		}
	}
	return nil
}

// AddAdmin tracks an admin room.
func (r *Registry) AddAdmin(room *AdminRoom) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.admins[room.RoomID()] = room
}

// AddIssue tracks an issue room and indexes it.
func (r *Registry) AddIssue(room *IssueRoom) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.issues[room.RoomID()] = room
	r.indexLocked(room)
}

// Index refreshes the reverse index entry of room after its state was
// reloaded.
func (r *Registry) Index(room *IssueRoom) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indexLocked(room)
}

func (r *Registry) indexLocked(room *IssueRoom) {
	roomID := room.RoomID()
	if previous, ok := r.keys[roomID]; ok {
		delete(r.index, previous)
		delete(r.keys, roomID)
	}

	key := room.identity()
	if key == "" {
		return
	}
	if existing, ok := r.index[key]; ok && existing != roomID {
		r.logger.Warn("issue already linked to another room",
			"issue", key,
			"room_id", roomID,
			"linked_room_id", existing,
		)
		return
	}
	r.index[key] = roomID
	r.keys[roomID] = key
}

// Len returns the number of tracked rooms.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.admins) + len(r.issues)
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"maps"
	"slices"

	"github.com/bureau-foundation/ghbridge/lib/schema"
	"github.com/bureau-foundation/ghbridge/messaging"
)

// syncFilter restricts /sync to the event types the bridge routes.
var syncFilter = buildSyncFilter()

func buildSyncFilter() string {
	eventTypes := []string{
		schema.MatrixEventTypeMessage,
		schema.MatrixEventTypeMember,
		schema.EventTypeBridgeState,
	}
	emptyTypes := []string{}

	filter := map[string]any{
		"room": map[string]any{
			"state": map[string]any{
				"types":             eventTypes,
				"lazy_load_members": true,
			},
			"timeline": map[string]any{
				"types": eventTypes,
				"limit": 50,
			},
			"ephemeral": map[string]any{
				"types": emptyTypes,
			},
			"account_data": map[string]any{
				"types": emptyTypes,
			},
		},
		"presence": map[string]any{
			"types": emptyTypes,
		},
		"account_data": map[string]any{
			"types": emptyTypes,
		},
	}

	data, err := json.Marshal(filter)
	if err != nil {
		panic("building sync filter: " + err.Error())
	}
	return string(data)
}

// EventRouter receives room events. *bridge.Bridge implements it.
type EventRouter interface {
	OnRoomEvent(ctx context.Context, roomID string, event messaging.Event) error
}

// syncDispatcher feeds /sync responses to the bridge.
type syncDispatcher struct {
	router EventRouter
	logger *slog.Logger
}

func newSyncDispatcher(router EventRouter, logger *slog.Logger) *syncDispatcher {
	return &syncDispatcher{router: router, logger: logger}
}

// handleInitial processes the snapshot taken at startup. Only pending
// invites are acted on; timelines in the snapshot predate this process
// and were either handled by a previous run or are out of date.
func (d *syncDispatcher) handleInitial(ctx context.Context, response *messaging.SyncResponse) {
	d.dispatchInvites(ctx, response)
}

// handle processes an incremental /sync response: invites, then the
// state and timeline of joined rooms in order.
func (d *syncDispatcher) handle(ctx context.Context, response *messaging.SyncResponse) {
	d.dispatchInvites(ctx, response)
	for _, roomID := range slices.Sorted(maps.Keys(response.Rooms.Join)) {
		room := response.Rooms.Join[roomID]
		d.dispatch(ctx, roomID, room.State.Events)
		d.dispatch(ctx, roomID, room.Timeline.Events)
	}
}

func (d *syncDispatcher) dispatchInvites(ctx context.Context, response *messaging.SyncResponse) {
	for _, roomID := range slices.Sorted(maps.Keys(response.Rooms.Invite)) {
		for _, event := range response.Rooms.Invite[roomID].InviteState.Events {
			if event.Type != schema.MatrixEventTypeMember {
				continue
			}
			d.dispatch(ctx, roomID, []messaging.Event{event})
		}
	}
}

func (d *syncDispatcher) dispatch(ctx context.Context, roomID string, events []messaging.Event) {
	for _, event := range events {
		if err := d.router.OnRoomEvent(ctx, roomID, event); err != nil {
			d.logger.Warn("room event failed",
				"room_id", roomID,
				"event_id", event.EventID,
				"event_type", event.Type,
				"error", err,
			)
		}
	}
}

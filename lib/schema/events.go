// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

// Bridge-specific Matrix event and account data types.
const (
	// EventTypeBridgeState holds the [RoomState] of an issue room.
	//
	// State key: "" (canonical). Rooms created by older bridge
	// versions may carry the event under the issue's API URL instead;
	// those are migrated to the empty key on first load.
	EventTypeBridgeState = "uk.half-shot.matrix-github.bridge"

	// EventTypeRoomAccountData is the room account data type the bot
	// writes into every room it manages. See [AccountData].
	EventTypeRoomAccountData = "uk.half-shot.matrix-github.room"

	// CommentContentKey is the key under which a mirrored comment's
	// GitHub ID is recorded in the m.room.message content.
	CommentContentKey = "uk.half-shot.matrix-github.comment"

	// AccountDataTokenPrefix prefixes the bot-global account data
	// type that stores a user's encrypted GitHub token. The full type
	// is the prefix followed by the Matrix user ID.
	AccountDataTokenPrefix = "uk.half-shot.matrix-github.password-store:"
)

// Standard Matrix event types the bridge reads or writes.
const (
	MatrixEventTypeMessage = "m.room.message"
	MatrixEventTypeMember  = "m.room.member"
	MatrixEventTypeName    = "m.room.name"
	MatrixEventTypeTopic   = "m.room.topic"
)

// Matrix message types.
const (
	MsgTypeText   = "m.text"
	MsgTypeNotice = "m.notice"
)

// FormatHTML is the Matrix "format" value for HTML formatted bodies.
const FormatHTML = "org.matrix.custom.html"

// TokenAccountDataType returns the global account data type holding
// the stored token for userID.
func TokenAccountDataType(userID string) string {
	return AccountDataTokenPrefix + userID
}

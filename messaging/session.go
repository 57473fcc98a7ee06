// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"io"
)

// Session is the set of Matrix operations the bridge performs as one
// user. *AppServiceSession implements it; tests substitute in-memory
// fakes.
type Session interface {
	// UserID returns the fully-qualified Matrix user ID the session
	// acts as.
	UserID() string

	JoinedRooms(ctx context.Context) ([]string, error)
	JoinRoom(ctx context.Context, roomIDOrAlias string) (string, error)
	LeaveRoom(ctx context.Context, roomID string) error
	JoinedMembers(ctx context.Context, roomID string) ([]string, error)

	SendMessage(ctx context.Context, roomID string, content MessageContent) (string, error)
	SendEvent(ctx context.Context, roomID, eventType, transactionID string, content any) (string, error)
	SendStateEvent(ctx context.Context, roomID, eventType, stateKey string, content any) (string, error)
	GetStateEvent(ctx context.Context, roomID, eventType, stateKey string) (json.RawMessage, error)
	GetRoomState(ctx context.Context, roomID string) ([]Event, error)

	GetRoomAccountData(ctx context.Context, roomID, dataType string) (json.RawMessage, error)
	SetRoomAccountData(ctx context.Context, roomID, dataType string, content any) error
	GetAccountData(ctx context.Context, dataType string) (json.RawMessage, error)
	SetAccountData(ctx context.Context, dataType string, content any) error

	CreateRoom(ctx context.Context, request CreateRoomRequest) (*CreateRoomResponse, error)
	UploadMedia(ctx context.Context, contentType string, body io.Reader) (string, error)

	Sync(ctx context.Context, options SyncOptions) (*SyncResponse, error)
}

// Compile-time check: *AppServiceSession implements Session.
var _ Session = (*AppServiceSession)(nil)

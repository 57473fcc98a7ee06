// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"
)

// AppServiceSession is a Matrix session authenticated with an
// application service token. The zero masquerade acts as the bot user;
// sessions returned by As act as a namespaced user. Sessions are cheap
// values over a shared Client.
type AppServiceSession struct {
	client  *Client
	asToken string
	botID   string

	// asUser is the masqueraded user ID, empty for the bot.
	asUser string

	// transactionCounter is shared by all sessions derived via As so
	// generated transaction IDs never collide.
	transactionCounter *atomic.Int64
}

// As returns a session that acts as userID. userID must fall inside
// the application service's exclusive user namespace.
func (s *AppServiceSession) As(userID string) *AppServiceSession {
	derived := *s
	if userID == s.botID {
		derived.asUser = ""
	} else {
		derived.asUser = userID
	}
	return &derived
}

// UserID returns the user this session acts as.
func (s *AppServiceSession) UserID() string {
	if s.asUser != "" {
		return s.asUser
	}
	return s.botID
}

// BotUserID returns the application service's bot user ID.
func (s *AppServiceSession) BotUserID() string {
	return s.botID
}

// query returns the masquerade query parameters, merged with extra.
func (s *AppServiceSession) query(extra url.Values) url.Values {
	if s.asUser == "" {
		return extra
	}
	query := url.Values{}
	for key, values := range extra {
		query[key] = values
	}
	query.Set("user_id", s.asUser)
	return query
}

func (s *AppServiceSession) do(ctx context.Context, method, path string, extra url.Values, requestBody any) ([]byte, error) {
	return s.client.doRequest(ctx, method, path, s.asToken, s.query(extra), requestBody)
}

// WhoAmI returns the user the homeserver believes this session acts as.
func (s *AppServiceSession) WhoAmI(ctx context.Context) (string, error) {
	body, err := s.do(ctx, http.MethodGet, "/_matrix/client/v3/account/whoami", nil, nil)
	if err != nil {
		return "", fmt.Errorf("messaging: whoami failed: %w", err)
	}

	var response WhoAmIResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("messaging: failed to parse whoami response: %w", err)
	}
	return response.UserID, nil
}

// RegisterUser registers localpart inside the application service
// namespace. An already registered user is not an error.
func (s *AppServiceSession) RegisterUser(ctx context.Context, localpart string) error {
	request := map[string]any{
		"type":     "m.login.application_service",
		"username": localpart,
	}
	_, err := s.client.doRequest(ctx, http.MethodPost, "/_matrix/client/v3/register", s.asToken, nil, request)
	if err != nil {
		if IsMatrixError(err, ErrCodeUserInUse) {
			return nil
		}
		return fmt.Errorf("messaging: register %q failed: %w", localpart, err)
	}
	s.client.logger.Info("registered ghost user", "localpart", localpart)
	return nil
}

// GetProfile fetches a user's global profile. A user without a profile
// returns an empty Profile.
func (s *AppServiceSession) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	path := "/_matrix/client/v3/profile/" + url.PathEscape(userID)
	body, err := s.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		if IsMatrixError(err, ErrCodeNotFound) {
			return &Profile{}, nil
		}
		return nil, fmt.Errorf("messaging: get profile for %q failed: %w", userID, err)
	}

	var profile Profile
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse profile response: %w", err)
	}
	return &profile, nil
}

// SetDisplayName sets the session user's display name.
func (s *AppServiceSession) SetDisplayName(ctx context.Context, displayName string) error {
	path := "/_matrix/client/v3/profile/" + url.PathEscape(s.UserID()) + "/displayname"
	if _, err := s.do(ctx, http.MethodPut, path, nil, map[string]string{"displayname": displayName}); err != nil {
		return fmt.Errorf("messaging: set display name for %q failed: %w", s.UserID(), err)
	}
	return nil
}

// SetAvatarURL sets the session user's avatar to an mxc:// URI.
func (s *AppServiceSession) SetAvatarURL(ctx context.Context, contentURI string) error {
	path := "/_matrix/client/v3/profile/" + url.PathEscape(s.UserID()) + "/avatar_url"
	if _, err := s.do(ctx, http.MethodPut, path, nil, map[string]string{"avatar_url": contentURI}); err != nil {
		return fmt.Errorf("messaging: set avatar for %q failed: %w", s.UserID(), err)
	}
	return nil
}

// UploadMedia uploads content to the homeserver's media repository.
// Returns the MXC URI.
func (s *AppServiceSession) UploadMedia(ctx context.Context, contentType string, body io.Reader) (string, error) {
	responseBody, err := s.client.doRequestRaw(ctx, http.MethodPost,
		"/_matrix/media/v3/upload", s.asToken, s.query(nil), contentType, body)
	if err != nil {
		return "", fmt.Errorf("messaging: media upload failed: %w", err)
	}

	var response UploadResponse
	if err := json.Unmarshal(responseBody, &response); err != nil {
		return "", fmt.Errorf("messaging: failed to parse upload response: %w", err)
	}
	return response.ContentURI, nil
}

// CreateRoom creates a new Matrix room.
func (s *AppServiceSession) CreateRoom(ctx context.Context, request CreateRoomRequest) (*CreateRoomResponse, error) {
	body, err := s.do(ctx, http.MethodPost, "/_matrix/client/v3/createRoom", nil, request)
	if err != nil {
		return nil, fmt.Errorf("messaging: create room failed: %w", err)
	}

	var response CreateRoomResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse createRoom response: %w", err)
	}

	s.client.logger.Info("created matrix room",
		"room_id", response.RoomID,
		"alias", request.Alias,
		"name", request.Name,
	)
	return &response, nil
}

// JoinRoom joins a room by ID or alias. Returns the room ID.
func (s *AppServiceSession) JoinRoom(ctx context.Context, roomIDOrAlias string) (string, error) {
	path := "/_matrix/client/v3/join/" + url.PathEscape(roomIDOrAlias)
	body, err := s.do(ctx, http.MethodPost, path, nil, struct{}{})
	if err != nil {
		return "", fmt.Errorf("messaging: join room %s failed: %w", roomIDOrAlias, err)
	}

	var response struct {
		RoomID string `json:"room_id"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("messaging: failed to parse join response: %w", err)
	}
	return response.RoomID, nil
}

// LeaveRoom leaves a room by ID.
func (s *AppServiceSession) LeaveRoom(ctx context.Context, roomID string) error {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/leave", url.PathEscape(roomID))
	if _, err := s.do(ctx, http.MethodPost, path, nil, struct{}{}); err != nil {
		return fmt.Errorf("messaging: leave room %q failed: %w", roomID, err)
	}
	return nil
}

// JoinedRooms returns the IDs of the rooms the session user has joined.
func (s *AppServiceSession) JoinedRooms(ctx context.Context) ([]string, error) {
	body, err := s.do(ctx, http.MethodGet, "/_matrix/client/v3/joined_rooms", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: joined rooms failed: %w", err)
	}

	var response JoinedRoomsResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse joined rooms response: %w", err)
	}
	return response.JoinedRooms, nil
}

// JoinedMembers returns the user IDs currently joined to a room.
func (s *AppServiceSession) JoinedMembers(ctx context.Context, roomID string) ([]string, error) {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/joined_members", url.PathEscape(roomID))
	body, err := s.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: joined members for %q failed: %w", roomID, err)
	}

	var response JoinedMembersResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse joined members response: %w", err)
	}
	members := make([]string, 0, len(response.Joined))
	for userID := range response.Joined {
		members = append(members, userID)
	}
	return members, nil
}

// SendMessage sends an m.room.message with a generated transaction ID.
func (s *AppServiceSession) SendMessage(ctx context.Context, roomID string, content MessageContent) (string, error) {
	return s.SendEvent(ctx, roomID, "m.room.message", s.nextTransactionID(), content)
}

// SendEvent sends an event of any type to a room using the idempotent
// PUT endpoint. Repeating a call with the same transactionID from the
// same user returns the original event ID instead of sending twice.
func (s *AppServiceSession) SendEvent(ctx context.Context, roomID, eventType, transactionID string, content any) (string, error) {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/send/%s/%s",
		url.PathEscape(roomID),
		url.PathEscape(eventType),
		url.PathEscape(transactionID),
	)

	body, err := s.do(ctx, http.MethodPut, path, nil, content)
	if err != nil {
		return "", fmt.Errorf("messaging: send event to %q failed: %w", roomID, err)
	}

	var response SendEventResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("messaging: failed to parse send response: %w", err)
	}
	return response.EventID, nil
}

// SendStateEvent sets a state event in a room. Returns the event ID.
func (s *AppServiceSession) SendStateEvent(ctx context.Context, roomID, eventType, stateKey string, content any) (string, error) {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/state/%s/%s",
		url.PathEscape(roomID),
		url.PathEscape(eventType),
		url.PathEscape(stateKey),
	)

	body, err := s.do(ctx, http.MethodPut, path, nil, content)
	if err != nil {
		return "", fmt.Errorf("messaging: send state event to %q failed: %w", roomID, err)
	}

	var response SendEventResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("messaging: failed to parse send state response: %w", err)
	}
	return response.EventID, nil
}

// GetStateEvent fetches one state event's content. A missing event
// returns a *MatrixError with code M_NOT_FOUND.
func (s *AppServiceSession) GetStateEvent(ctx context.Context, roomID, eventType, stateKey string) (json.RawMessage, error) {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/state/%s/%s",
		url.PathEscape(roomID),
		url.PathEscape(eventType),
		url.PathEscape(stateKey),
	)

	body, err := s.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: get state event %s/%s in %q failed: %w", eventType, stateKey, roomID, err)
	}
	return json.RawMessage(body), nil
}

// GetRoomState fetches all current state events from a room.
func (s *AppServiceSession) GetRoomState(ctx context.Context, roomID string) ([]Event, error) {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/state", url.PathEscape(roomID))

	body, err := s.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: get room state for %q failed: %w", roomID, err)
	}

	var events []Event
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse room state response: %w", err)
	}
	return events, nil
}

// GetRoomAccountData fetches the session user's account data of
// dataType in a room. Missing data returns M_NOT_FOUND.
func (s *AppServiceSession) GetRoomAccountData(ctx context.Context, roomID, dataType string) (json.RawMessage, error) {
	path := fmt.Sprintf("/_matrix/client/v3/user/%s/rooms/%s/account_data/%s",
		url.PathEscape(s.UserID()),
		url.PathEscape(roomID),
		url.PathEscape(dataType),
	)
	body, err := s.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: get account data %s in %q failed: %w", dataType, roomID, err)
	}
	return json.RawMessage(body), nil
}

// SetRoomAccountData writes the session user's account data of dataType
// in a room.
func (s *AppServiceSession) SetRoomAccountData(ctx context.Context, roomID, dataType string, content any) error {
	path := fmt.Sprintf("/_matrix/client/v3/user/%s/rooms/%s/account_data/%s",
		url.PathEscape(s.UserID()),
		url.PathEscape(roomID),
		url.PathEscape(dataType),
	)
	if _, err := s.do(ctx, http.MethodPut, path, nil, content); err != nil {
		return fmt.Errorf("messaging: set account data %s in %q failed: %w", dataType, roomID, err)
	}
	return nil
}

// GetAccountData fetches the session user's global account data of
// dataType. Missing data returns M_NOT_FOUND.
func (s *AppServiceSession) GetAccountData(ctx context.Context, dataType string) (json.RawMessage, error) {
	path := fmt.Sprintf("/_matrix/client/v3/user/%s/account_data/%s",
		url.PathEscape(s.UserID()),
		url.PathEscape(dataType),
	)
	body, err := s.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: get account data %s failed: %w", dataType, err)
	}
	return json.RawMessage(body), nil
}

// SetAccountData writes the session user's global account data.
func (s *AppServiceSession) SetAccountData(ctx context.Context, dataType string, content any) error {
	path := fmt.Sprintf("/_matrix/client/v3/user/%s/account_data/%s",
		url.PathEscape(s.UserID()),
		url.PathEscape(dataType),
	)
	if _, err := s.do(ctx, http.MethodPut, path, nil, content); err != nil {
		return fmt.Errorf("messaging: set account data %s failed: %w", dataType, err)
	}
	return nil
}

// Sync performs an incremental sync with the homeserver.
// For initial sync, leave options.Since empty.
// For long-polling, set options.Timeout to the desired wait in milliseconds.
func (s *AppServiceSession) Sync(ctx context.Context, options SyncOptions) (*SyncResponse, error) {
	query := url.Values{}
	if options.Since != "" {
		query.Set("since", options.Since)
	}
	if options.SetTimeout {
		query.Set("timeout", strconv.Itoa(options.Timeout))
	}
	if options.Filter != "" {
		query.Set("filter", options.Filter)
	}

	body, err := s.do(ctx, http.MethodGet, "/_matrix/client/v3/sync", query, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: sync failed: %w", err)
	}

	var response SyncResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse sync response: %w", err)
	}
	return &response, nil
}

// nextTransactionID generates a transaction ID unique across restarts.
func (s *AppServiceSession) nextTransactionID() string {
	counter := s.transactionCounter.Add(1)
	return fmt.Sprintf("ghbridge-%d-%d", time.Now().UnixMilli(), counter)
}

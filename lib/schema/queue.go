// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

// Queue event names. Webhook deliveries are published as
// "<object>.<action>".
const (
	EventCommentCreated = "comment.created"
	EventIssueEdited    = "issue.edited"
	EventIssueClosed    = "issue.closed"
	EventIssueReopened  = "issue.reopened"
	EventOAuthResponse  = "oauth.response"
	EventOAuthTokens    = "oauth.tokens"
	EventMatrixMessage  = "matrix.message"
)

// MatrixMessageRequest is the payload of a matrix.message request.
// Sender is the Matrix user the event is sent as; empty means the bot.
type MatrixMessageRequest struct {
	RoomID  string         `json:"roomId"`
	Type    string         `json:"type"`
	Sender  string         `json:"sender,omitempty"`
	Content map[string]any `json:"content"`
}

// MatrixMessageResponse is the reply to a matrix.message request.
// Error is set instead of EventID when the send failed permanently.
type MatrixMessageResponse struct {
	EventID string `json:"eventId,omitempty"`
	Error   string `json:"error,omitempty"`
}

// OAuthProbe is the payload of an oauth.response request: the OAuth
// callback asks whether State belongs to a pending handshake. The reply
// data is a bare boolean.
type OAuthProbe struct {
	State string `json:"state"`
}

// OAuthTokens is the payload of an oauth.tokens message, published
// once the callback has exchanged the authorization code.
type OAuthTokens struct {
	State       string `json:"state"`
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/bureau-foundation/ghbridge/lib/github"
	"github.com/bureau-foundation/ghbridge/lib/queue"
	"github.com/bureau-foundation/ghbridge/lib/schema"
)

// TokenExchanger trades an OAuth authorization code for a token.
// *github.OAuthApp implements it.
type TokenExchanger interface {
	Exchange(ctx context.Context, code, state string) (*github.OAuthToken, error)
}

// OAuthHandler serves the OAuth redirect. It asks the bridge over the
// queue whether state belongs to a pending handshake, exchanges the
// code, and publishes the token for the bridge to store.
type OAuthHandler struct {
	queue     queue.Queue
	exchanger TokenExchanger
	logger    *slog.Logger
}

// NewOAuthHandler creates an OAuthHandler.
func NewOAuthHandler(q queue.Queue, exchanger TokenExchanger, logger *slog.Logger) *OAuthHandler {
	return &OAuthHandler{queue: q, exchanger: exchanger, logger: logger}
}

func (h *OAuthHandler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodGet {
		http.Error(writer, "", http.StatusMethodNotAllowed)
		return
	}
	ctx := request.Context()
	code := request.URL.Query().Get("code")
	state := request.URL.Query().Get("state")
	if code == "" || state == "" {
		http.Error(writer, "Missing code or state", http.StatusBadRequest)
		return
	}

	probe, err := queue.NewMessage(schema.EventOAuthResponse, webhookSender, schema.OAuthProbe{State: state})
	if err != nil {
		h.logger.Error("oauth: encoding probe", "error", err)
		http.Error(writer, "", http.StatusInternalServerError)
		return
	}
	var known bool
	if err := h.queue.PushWait(ctx, probe, &known); err != nil {
		h.logger.Error("oauth: state lookup failed", "error", err)
		http.Error(writer, "The bridge did not respond, try again later", http.StatusServiceUnavailable)
		return
	}
	if !known {
		h.logger.Warn("oauth: callback for unknown state")
		http.Error(writer, "This link has expired. Send !startoauth to the bridge for a new one.", http.StatusNotFound)
		return
	}

	token, err := h.exchanger.Exchange(ctx, code, state)
	if err != nil {
		h.logger.Error("oauth: code exchange failed", "error", err)
		http.Error(writer, "Could not complete the login with GitHub", http.StatusBadGateway)
		return
	}

	tokens, err := queue.NewMessage(schema.EventOAuthTokens, webhookSender, schema.OAuthTokens{
		State:       state,
		AccessToken: token.AccessToken,
		TokenType:   token.TokenType,
	})
	if err != nil {
		h.logger.Error("oauth: encoding tokens", "error", err)
		http.Error(writer, "", http.StatusInternalServerError)
		return
	}
	if err := h.queue.Push(ctx, tokens); err != nil {
		h.logger.Error("oauth: publishing tokens", "error", err)
		http.Error(writer, "The bridge did not respond, try again later", http.StatusServiceUnavailable)
		return
	}

	h.logger.Info("oauth: account linked")
	writer.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(writer, "Your GitHub account is now linked to the bridge. You can close this window.\n")
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/bureau-foundation/ghbridge/bridge"
	"github.com/bureau-foundation/ghbridge/messaging"
)

// RoomProvisioner is the part of the bridge the alias query drives.
// *bridge.Bridge implements it.
type RoomProvisioner interface {
	QueryRoom(ctx context.Context, alias string) (*bridge.RoomCreation, error)
	OnRoomCreated(ctx context.Context, roomID string, creation *bridge.RoomCreation) error
	SynchronizeRoom(ctx context.Context, roomID string) error
}

// RoomCreator creates rooms as the bot.
type RoomCreator interface {
	CreateRoom(ctx context.Context, request messaging.CreateRoomRequest) (*messaging.CreateRoomResponse, error)
}

// AppServiceHandler serves the application service API the homeserver
// calls: room alias queries, which create issue rooms on demand, and
// event transactions, which are acknowledged. The bridge reads events
// through /sync instead.
type AppServiceHandler struct {
	hsToken  string
	bridge   RoomProvisioner
	creator  RoomCreator
	logger   *slog.Logger
	mux      *http.ServeMux
	lifetime context.Context
}

// NewAppServiceHandler creates the handler. lifetime bounds the
// background catch-up started for each created room.
func NewAppServiceHandler(lifetime context.Context, hsToken string, provisioner RoomProvisioner, creator RoomCreator, logger *slog.Logger) *AppServiceHandler {
	handler := &AppServiceHandler{
		hsToken:  hsToken,
		bridge:   provisioner,
		creator:  creator,
		logger:   logger,
		lifetime: lifetime,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /_matrix/app/v1/rooms/{alias}", handler.queryRoom)
	mux.HandleFunc("PUT /_matrix/app/v1/transactions/{txnID}", handler.transaction)
	mux.HandleFunc("GET /_matrix/app/v1/users/{userID}", handler.queryUser)
	handler.mux = mux
	return handler
}

func (h *AppServiceHandler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	token := request.URL.Query().Get("access_token")
	if bearer, ok := strings.CutPrefix(request.Header.Get("Authorization"), "Bearer "); ok {
		token = bearer
	}
	if token == "" {
		writeMatrixError(writer, http.StatusUnauthorized, "M_UNAUTHORIZED", "Missing hs_token")
		return
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.hsToken)) != 1 {
		writeMatrixError(writer, http.StatusForbidden, messaging.ErrCodeForbidden, "Bad hs_token")
		return
	}
	h.mux.ServeHTTP(writer, request)
}

// queryRoom creates the room for an issue alias. Any failure answers
// M_NOT_FOUND so the homeserver reports the alias as unknown.
func (h *AppServiceHandler) queryRoom(writer http.ResponseWriter, request *http.Request) {
	ctx := request.Context()
	alias := request.PathValue("alias")

	creation, err := h.bridge.QueryRoom(ctx, alias)
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, bridge.ErrAliasFormat) {
			level = slog.LevelDebug
		}
		h.logger.Log(ctx, level, "alias query rejected", "alias", alias, "error", err)
		writeMatrixError(writer, http.StatusNotFound, messaging.ErrCodeNotFound, "No issue room for this alias")
		return
	}

	created, err := h.creator.CreateRoom(ctx, creation.Request())
	if err != nil {
		h.logger.Error("creating issue room failed", "alias", alias, "error", err)
		writeMatrixError(writer, http.StatusNotFound, messaging.ErrCodeNotFound, "Could not create the room")
		return
	}
	if err := h.bridge.OnRoomCreated(ctx, created.RoomID, creation); err != nil {
		h.logger.Error("registering issue room failed",
			"alias", alias,
			"room_id", created.RoomID,
			"error", err,
		)
		writeMatrixError(writer, http.StatusNotFound, messaging.ErrCodeNotFound, "Could not set up the room")
		return
	}

	roomID := created.RoomID
	go func() {
		if err := h.bridge.SynchronizeRoom(h.lifetime, roomID); err != nil {
			h.logger.Warn("initial synchronize failed", "room_id", roomID, "error", err)
		}
	}()

	writeJSON(writer, http.StatusOK, struct{}{})
}

func (h *AppServiceHandler) transaction(writer http.ResponseWriter, request *http.Request) {
	h.logger.Debug("appservice transaction acknowledged", "txn_id", request.PathValue("txnID"))
	writeJSON(writer, http.StatusOK, struct{}{})
}

// queryUser declines every user query: ghosts are registered when they
// first post, not on lookup.
func (h *AppServiceHandler) queryUser(writer http.ResponseWriter, _ *http.Request) {
	writeMatrixError(writer, http.StatusNotFound, messaging.ErrCodeNotFound, "Unknown user")
}

func writeMatrixError(writer http.ResponseWriter, status int, code, message string) {
	writeJSON(writer, status, map[string]string{"errcode": code, "error": message})
}

func writeJSON(writer http.ResponseWriter, status int, value any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	json.NewEncoder(writer).Encode(value)
}

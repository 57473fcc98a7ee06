// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/bureau-foundation/ghbridge/lib/github"
	"github.com/bureau-foundation/ghbridge/lib/queue"
	"github.com/bureau-foundation/ghbridge/lib/service"
)

// webhookSender is the queue sender name for messages published by the
// HTTP listeners.
const webhookSender = "GithubWebhooks"

// maxWebhookBodySize caps accepted payloads. Issue and comment
// deliveries are far smaller than GitHub's 25 MB limit.
const maxWebhookBodySize = 25 * 1024 * 1024

// Delivery IDs are remembered for replay protection. GitHub redelivers
// within minutes.
const (
	deliveryCacheSize = 8192
	deliveryWindow    = time.Hour
)

// WebhookHandler verifies GitHub deliveries and publishes the issue and
// comment events the bridge consumes onto the queue as
// "<object>.<action>" messages.
type WebhookHandler struct {
	secret     []byte
	queue      queue.Queue
	logger     *slog.Logger
	deliveries *expirable.LRU[string, struct{}]
}

// NewWebhookHandler creates a handler verifying signatures with secret.
// Panics if secret is empty or q or logger is nil.
func NewWebhookHandler(secret []byte, q queue.Queue, logger *slog.Logger) *WebhookHandler {
	if len(secret) == 0 {
		panic("WebhookHandler: secret is required")
	}
	if q == nil {
		panic("WebhookHandler: queue is required")
	}
	if logger == nil {
		panic("WebhookHandler: logger is required")
	}
	return &WebhookHandler{
		secret:     secret,
		queue:      q,
		logger:     logger,
		deliveries: expirable.NewLRU[string, struct{}](deliveryCacheSize, nil, deliveryWindow),
	}
}

// ServeHTTP handles a single delivery.
func (h *WebhookHandler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		http.Error(writer, "", http.StatusMethodNotAllowed)
		return
	}

	// HMAC verification needs the raw bytes.
	body, err := io.ReadAll(io.LimitReader(request.Body, maxWebhookBodySize))
	if err != nil {
		h.logger.Error("webhook: failed to read body", "error", err)
		http.Error(writer, "", http.StatusInternalServerError)
		return
	}
	if len(body) == 0 {
		http.Error(writer, "", http.StatusBadRequest)
		return
	}

	if err := service.VerifyWebhookHMAC(h.secret, body, request.Header.Get("X-Hub-Signature-256")); err != nil {
		h.logger.Warn("webhook: HMAC verification failed",
			"error", err,
			"remote_addr", request.RemoteAddr,
		)
		http.Error(writer, "", http.StatusUnauthorized)
		return
	}

	eventType := request.Header.Get("X-GitHub-Event")
	deliveryID := request.Header.Get("X-GitHub-Delivery")
	if eventType == "" {
		h.logger.Warn("webhook: missing X-GitHub-Event header")
		http.Error(writer, "", http.StatusBadRequest)
		return
	}

	if deliveryID != "" {
		if h.deliveries.Contains(deliveryID) {
			h.logger.Debug("webhook: duplicate delivery, ignoring",
				"delivery_id", deliveryID,
				"event_type", eventType,
			)
			// 200 so GitHub stops retrying.
			writer.WriteHeader(http.StatusOK)
			return
		}
	}

	var event github.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.logger.Error("webhook: malformed payload",
			"event_type", eventType,
			"delivery_id", deliveryID,
			"error", err,
		)
		// Redelivering the same bytes will not help.
		writer.WriteHeader(http.StatusOK)
		return
	}

	topic := webhookTopic(eventType, event.Action)
	if topic == "" {
		h.logger.Debug("webhook: unhandled event type, ignoring",
			"event_type", eventType,
			"action", event.Action,
			"delivery_id", deliveryID,
		)
		writer.WriteHeader(http.StatusOK)
		return
	}

	message, err := queue.NewMessage(topic, webhookSender, &event)
	if err != nil {
		h.logger.Error("webhook: encoding event", "topic", topic, "error", err)
		writer.WriteHeader(http.StatusOK)
		return
	}
	if err := h.queue.Push(request.Context(), message); err != nil {
		h.logger.Error("webhook: publishing event",
			"topic", topic,
			"delivery_id", deliveryID,
			"error", err,
		)
		// Let GitHub retry once the queue is back.
		http.Error(writer, "", http.StatusServiceUnavailable)
		return
	}
	if deliveryID != "" {
		h.deliveries.Add(deliveryID, struct{}{})
	}

	h.logger.Info("webhook received",
		"topic", topic,
		"delivery_id", deliveryID,
		"message_id", message.MessageID,
	)
	writer.WriteHeader(http.StatusOK)
}

// webhookTopic maps a GitHub event type and action to a queue event
// name, or "" for deliveries the bridge does not consume.
func webhookTopic(eventType, action string) string {
	if action == "" {
		return ""
	}
	switch eventType {
	case "issue_comment":
		return "comment." + action
	case "issues":
		return "issue." + action
	default:
		// ping, installation and everything GitHub adds later.
		return ""
	}
}

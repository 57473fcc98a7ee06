// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/ghbridge/lib/github"
	"github.com/bureau-foundation/ghbridge/lib/queue"
	"github.com/bureau-foundation/ghbridge/lib/testutil"
)

const testWebhookSecret = "test-secret-for-hmac"

const issueCommentPayload = `{
	"action": "created",
	"issue": {"number": 42, "title": "Widget breaks", "state": "open", "comments": 3},
	"comment": {"id": 1003, "body": "Confirmed on main.", "user": {"login": "hubot"}},
	"repository": {"name": "widgets", "full_name": "acme/widgets", "owner": {"login": "acme"}}
}`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// signPayload computes the X-Hub-Signature-256 value for body.
func signPayload(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// webhookHarness captures every message the handler publishes.
type webhookHarness struct {
	handler  *WebhookHandler
	bus      *queue.Local
	messages chan queue.Message
}

func newWebhookHarness(t *testing.T) *webhookHarness {
	t.Helper()
	bus := queue.New(queue.Options{Logger: testLogger()})
	t.Cleanup(bus.Close)
	messages := make(chan queue.Message, 8)
	bus.On("*", func(_ context.Context, message queue.Message) {
		messages <- message
	})
	return &webhookHarness{
		handler:  NewWebhookHandler([]byte(testWebhookSecret), bus, testLogger()),
		bus:      bus,
		messages: messages,
	}
}

func (h *webhookHarness) deliver(eventType, deliveryID, body string) *httptest.ResponseRecorder {
	request := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	request.Header.Set("X-Hub-Signature-256", signPayload([]byte(testWebhookSecret), []byte(body)))
	if eventType != "" {
		request.Header.Set("X-GitHub-Event", eventType)
	}
	if deliveryID != "" {
		request.Header.Set("X-GitHub-Delivery", deliveryID)
	}
	recorder := httptest.NewRecorder()
	h.handler.ServeHTTP(recorder, request)
	return recorder
}

func TestWebhookPublishesIssueComment(t *testing.T) {
	harness := newWebhookHarness(t)

	recorder := harness.deliver("issue_comment", "delivery-1", issueCommentPayload)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}

	message := testutil.RequireReceive(t, harness.messages, 5*time.Second, "comment.created not published")
	if message.EventName != "comment.created" {
		t.Errorf("event name = %q, want comment.created", message.EventName)
	}
	if message.Sender != webhookSender {
		t.Errorf("sender = %q", message.Sender)
	}

	var event github.WebhookEvent
	if err := message.Decode(&event); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if event.Issue == nil || event.Issue.Number != 42 {
		t.Fatalf("issue = %+v", event.Issue)
	}
	if event.Comment == nil || event.Comment.ID != 1003 || event.Comment.Body != "Confirmed on main." {
		t.Errorf("comment = %+v", event.Comment)
	}
	if event.Repository == nil || event.Repository.Owner.Login != "acme" {
		t.Errorf("repository = %+v", event.Repository)
	}
}

func TestWebhookTopics(t *testing.T) {
	tests := []struct {
		eventType string
		action    string
		want      string
	}{
		{"issue_comment", "created", "comment.created"},
		{"issue_comment", "edited", "comment.edited"},
		{"issues", "closed", "issue.closed"},
		{"issues", "reopened", "issue.reopened"},
		{"issues", "edited", "issue.edited"},
		{"issues", "", ""},
		{"ping", "", ""},
		{"push", "", ""},
		{"pull_request", "opened", ""},
	}
	for _, test := range tests {
		if got := webhookTopic(test.eventType, test.action); got != test.want {
			t.Errorf("webhookTopic(%q, %q) = %q, want %q", test.eventType, test.action, got, test.want)
		}
	}
}

func TestWebhookRejectsNonPOST(t *testing.T) {
	harness := newWebhookHarness(t)
	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
		t.Run(method, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			harness.handler.ServeHTTP(recorder, httptest.NewRequest(method, "/", nil))
			if recorder.Code != http.StatusMethodNotAllowed {
				t.Errorf("status = %d, want 405", recorder.Code)
			}
		})
	}
}

func TestWebhookRejectsBadRequests(t *testing.T) {
	harness := newWebhookHarness(t)

	t.Run("empty body", func(t *testing.T) {
		request := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
		request.Header.Set("X-Hub-Signature-256", "sha256=irrelevant")
		recorder := httptest.NewRecorder()
		harness.handler.ServeHTTP(recorder, request)
		if recorder.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", recorder.Code)
		}
	})

	t.Run("bad signature", func(t *testing.T) {
		request := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(issueCommentPayload))
		request.Header.Set("X-Hub-Signature-256", "sha256="+strings.Repeat("ab", 32))
		request.Header.Set("X-GitHub-Event", "issue_comment")
		recorder := httptest.NewRecorder()
		harness.handler.ServeHTTP(recorder, request)
		if recorder.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", recorder.Code)
		}
	})

	t.Run("missing event type", func(t *testing.T) {
		if recorder := harness.deliver("", "", issueCommentPayload); recorder.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", recorder.Code)
		}
	})

	testutil.RequireNoReceive(t, harness.messages, 50*time.Millisecond, "rejected delivery was published")
}

func TestWebhookIgnoresUnconsumedEvents(t *testing.T) {
	harness := newWebhookHarness(t)

	for _, delivery := range []struct{ eventType, body string }{
		{"ping", `{"zen": "Keep it logically awesome."}`},
		{"push", `{"ref": "refs/heads/main"}`},
		{"issues", `not json`},
	} {
		if recorder := harness.deliver(delivery.eventType, "", delivery.body); recorder.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want 200", delivery.eventType, recorder.Code)
		}
	}
	testutil.RequireNoReceive(t, harness.messages, 50*time.Millisecond, "unconsumed delivery was published")
}

func TestWebhookDeduplicatesDeliveries(t *testing.T) {
	harness := newWebhookHarness(t)

	if recorder := harness.deliver("issue_comment", "delivery-abc", issueCommentPayload); recorder.Code != http.StatusOK {
		t.Fatalf("first delivery status = %d", recorder.Code)
	}
	testutil.RequireReceive(t, harness.messages, 5*time.Second, "first delivery not published")

	if recorder := harness.deliver("issue_comment", "delivery-abc", issueCommentPayload); recorder.Code != http.StatusOK {
		t.Fatalf("redelivery status = %d, want 200", recorder.Code)
	}
	testutil.RequireNoReceive(t, harness.messages, 50*time.Millisecond, "redelivery was published")

	if recorder := harness.deliver("issue_comment", "delivery-def", issueCommentPayload); recorder.Code != http.StatusOK {
		t.Fatalf("new delivery status = %d", recorder.Code)
	}
	testutil.RequireReceive(t, harness.messages, 5*time.Second, "new delivery ID not published")
}

func TestWebhookClosedQueue(t *testing.T) {
	harness := newWebhookHarness(t)
	harness.bus.Close()

	if recorder := harness.deliver("issue_comment", "delivery-1", issueCommentPayload); recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", recorder.Code)
	}
	// The failed delivery must stay retryable.
	if harness.handler.deliveries.Contains("delivery-1") {
		t.Error("failed delivery recorded as processed")
	}
}

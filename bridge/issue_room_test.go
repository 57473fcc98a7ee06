// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"errors"
	"strings"
	"testing"

	"github.com/bureau-foundation/ghbridge/lib/schema"
	"github.com/bureau-foundation/ghbridge/messaging"
)

func TestSynchronizeBootstrap(t *testing.T) {
	h := newHarness(t)
	room := h.addIssueRoom(schema.CursorUnsynchronized)

	if err := room.Synchronize(h.ctx, h.tracker); err != nil {
		t.Fatalf("Synchronize: %v", err)
	}

	requests := h.sender.requests()
	if len(requests) != 2 {
		t.Fatalf("sent %d messages, want notice and body: %v", len(requests), h.sender.bodies())
	}
	if got := requests[0].Content["msgtype"]; got != schema.MsgTypeNotice {
		t.Errorf("first message msgtype = %v, want %s", got, schema.MsgTypeNotice)
	}
	if !strings.Contains(h.sender.bodies()[0], "created the issue") {
		t.Errorf("notice body = %q", h.sender.bodies()[0])
	}
	if !strings.HasPrefix(h.sender.bodies()[1], "Steps to reproduce.") {
		t.Errorf("body message = %q", h.sender.bodies()[1])
	}
	for _, request := range requests {
		if request.Sender != "@github_octocat:example.org" {
			t.Errorf("sender = %q, want the issue author's ghost", request.Sender)
		}
		if request.RoomID != testRoomID {
			t.Errorf("room = %q", request.RoomID)
		}
	}

	if got := h.matrix.bridgeState(t, testRoomID).CommentsProcessed; got != 0 {
		t.Errorf("comments_processed = %d, want 0", got)
	}
	if got := room.State().CommentsProcessed; got != 0 {
		t.Errorf("in-memory comments_processed = %d, want 0", got)
	}
}

func TestSynchronizeBootstrapWithoutBody(t *testing.T) {
	h := newHarness(t)
	h.tracker.issue.Body = ""
	room := h.addIssueRoom(schema.CursorUnsynchronized)

	if err := room.Synchronize(h.ctx, h.tracker); err != nil {
		t.Fatalf("Synchronize: %v", err)
	}
	if got := len(h.sender.requests()); got != 1 {
		t.Fatalf("sent %d messages, want only the notice", got)
	}
}

func TestSynchronizeIdempotent(t *testing.T) {
	h := newHarness(t)
	h.tracker.addComments(3)
	room := h.addIssueRoom(schema.CursorUnsynchronized)

	if err := room.Synchronize(h.ctx, h.tracker); err != nil {
		t.Fatalf("first Synchronize: %v", err)
	}
	first := h.matrix.bridgeState(t, testRoomID)
	sent := len(h.sender.requests())

	if err := room.Synchronize(h.ctx, h.tracker); err != nil {
		t.Fatalf("second Synchronize: %v", err)
	}
	second := h.matrix.bridgeState(t, testRoomID)

	if len(h.sender.requests()) != sent {
		t.Errorf("second pass sent %d more messages", len(h.sender.requests())-sent)
	}
	if first.CommentsProcessed != 3 || second.CommentsProcessed != 3 {
		t.Errorf("comments_processed = %d then %d, want 3 both times", first.CommentsProcessed, second.CommentsProcessed)
	}
	if first.State != second.State {
		t.Errorf("state changed from %q to %q", first.State, second.State)
	}
	if topics := h.matrix.writesOf(schema.MatrixEventTypeTopic); len(topics) != 0 {
		t.Errorf("topic updated %d times for an unchanged issue", len(topics))
	}
}

func TestSynchronizeCursorResumesAfterPartialFailure(t *testing.T) {
	h := newHarness(t)
	h.tracker.addComments(5)
	room := h.addIssueRoom(0)

	h.sender.setFailAfter(2)
	if err := room.Synchronize(h.ctx, h.tracker); err == nil {
		t.Fatal("Synchronize succeeded despite a failing sender")
	}
	if got := h.matrix.bridgeState(t, testRoomID).CommentsProcessed; got != 2 {
		t.Fatalf("persisted comments_processed after failure = %d, want 2", got)
	}
	if got := room.State().CommentsProcessed; got != 2 {
		t.Fatalf("in-memory comments_processed after failure = %d, want 2", got)
	}

	h.sender.setFailAfter(-1)
	if err := room.Synchronize(h.ctx, h.tracker); err != nil {
		t.Fatalf("resumed Synchronize: %v", err)
	}
	if got := h.matrix.bridgeState(t, testRoomID).CommentsProcessed; got != 5 {
		t.Errorf("comments_processed = %d, want 5", got)
	}

	want := []string{"comment 1001", "comment 1002", "comment 1003", "comment 1004", "comment 1005"}
	got := h.sender.bodies()
	if len(got) != len(want) {
		t.Fatalf("mirrored %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("message %d = %q, want %q", i, got[i], want[i])
		}
	}
	for _, request := range h.sender.requests() {
		if request.Sender != "@github_hubot:example.org" {
			t.Errorf("comment sender = %q, want the author's ghost", request.Sender)
		}
	}
}

func TestSynchronizeMirrorsOnlyNewComments(t *testing.T) {
	h := newHarness(t)
	h.tracker.addComments(2)
	room := h.addIssueRoom(0)

	if err := room.Synchronize(h.ctx, h.tracker); err != nil {
		t.Fatalf("Synchronize: %v", err)
	}
	h.tracker.addComments(3)
	if err := room.Synchronize(h.ctx, h.tracker); err != nil {
		t.Fatalf("Synchronize: %v", err)
	}

	if got := len(h.sender.requests()); got != 5 {
		t.Errorf("mirrored %d comments over two passes, want 5", got)
	}
	if got := h.matrix.bridgeState(t, testRoomID).CommentsProcessed; got != 5 {
		t.Errorf("comments_processed = %d, want 5", got)
	}
}

func TestSynchronizeSkipsBridgeCreatedComments(t *testing.T) {
	h := newHarness(t)
	h.tracker.addComments(2)
	room := h.addIssueRoom(0)
	h.bridge.Dedup().Add(DedupKey("acme", "widgets", 42, 1001))

	if err := room.Synchronize(h.ctx, h.tracker); err != nil {
		t.Fatalf("Synchronize: %v", err)
	}
	if got := h.sender.bodies(); len(got) != 1 || got[0] != "comment 1002" {
		t.Errorf("mirrored %v, want only comment 1002", got)
	}
	if got := h.matrix.bridgeState(t, testRoomID).CommentsProcessed; got != 2 {
		t.Errorf("comments_processed = %d, want 2", got)
	}
}

func TestSynchronizeClampsCursorPastLastComment(t *testing.T) {
	h := newHarness(t)
	h.tracker.addComments(1)
	room := h.addIssueRoom(4)

	if err := room.Synchronize(h.ctx, h.tracker); err != nil {
		t.Fatalf("Synchronize: %v", err)
	}
	if got := len(h.sender.requests()); got != 0 {
		t.Errorf("mirrored %d comments, want none", got)
	}
	if got := h.matrix.bridgeState(t, testRoomID).CommentsProcessed; got != 1 {
		t.Errorf("comments_processed = %d, want 1", got)
	}
}

func TestSynchronizeLifecycleTransition(t *testing.T) {
	h := newHarness(t)
	room := h.addIssueRoom(0)
	h.tracker.close("monalisa")

	if err := room.Synchronize(h.ctx, h.tracker); err != nil {
		t.Fatalf("Synchronize: %v", err)
	}

	requests := h.sender.requests()
	if len(requests) != 1 {
		t.Fatalf("sent %d messages, want one closure notice", len(requests))
	}
	if requests[0].Sender != "@github_monalisa:example.org" {
		t.Errorf("closure notice sender = %q, want the closer's ghost", requests[0].Sender)
	}
	if body := h.sender.bodies()[0]; !strings.Contains(body, "closed the issue") {
		t.Errorf("closure notice = %q", body)
	}
	if got := requests[0].Content["external_url"]; got != "https://github.com/monalisa" {
		t.Errorf("external_url = %v", got)
	}

	topics := h.matrix.writesOf(schema.MatrixEventTypeTopic)
	if len(topics) != 1 {
		t.Fatalf("topic updated %d times, want 1", len(topics))
	}
	if !strings.Contains(string(topics[0].content), "Closed | https://github.com/acme/widgets/issues/42") {
		t.Errorf("topic = %s", topics[0].content)
	}
	if got := h.matrix.bridgeState(t, testRoomID).State; got != schema.IssueStateClosed {
		t.Errorf("persisted state = %q, want closed", got)
	}

	if err := room.Synchronize(h.ctx, h.tracker); err != nil {
		t.Fatalf("second Synchronize: %v", err)
	}
	if got := len(h.sender.requests()); got != 1 {
		t.Errorf("second pass sent another closure notice")
	}
}

func TestSynchronizeReopenUpdatesTopicWithoutNotice(t *testing.T) {
	h := newHarness(t)
	state := schema.NewRoomState("acme", "widgets", 42)
	state.CommentsProcessed = 0
	state.State = schema.IssueStateClosed
	h.matrix.putBridgeState(t, testRoomID, state)
	room := newIssueRoom(h.bridge.env, testRoomID)
	if err := room.LoadState(h.ctx); err != nil {
		t.Fatalf("LoadState: %v", err)
	}

	if err := room.Synchronize(h.ctx, h.tracker); err != nil {
		t.Fatalf("Synchronize: %v", err)
	}
	if got := len(h.sender.requests()); got != 0 {
		t.Errorf("sent %d messages on reopen, want none", got)
	}
	if got := len(h.matrix.writesOf(schema.MatrixEventTypeTopic)); got != 1 {
		t.Errorf("topic updated %d times, want 1", got)
	}
	if got := h.matrix.bridgeState(t, testRoomID).State; got != schema.IssueStateOpen {
		t.Errorf("persisted state = %q, want open", got)
	}
}

func TestSynchronizeIssueFetchFailure(t *testing.T) {
	h := newHarness(t)
	room := h.addIssueRoom(0)
	h.tracker.getIssueErr = errors.New("connection refused")

	if err := room.Synchronize(h.ctx, h.tracker); err == nil {
		t.Fatal("Synchronize succeeded despite the tracker failing")
	}
	if got := len(h.matrix.writesOf(schema.EventTypeBridgeState)); got != 0 {
		t.Errorf("persisted state %d times, want 0", got)
	}
}

func TestLoadStateLegacyFallback(t *testing.T) {
	h := newHarness(t)
	legacyKey := "https://api.github.com/repos/acme/widgets/issues/42"
	otherKey := "https://api.github.com/repos/acme/widgets/issues/7"
	h.matrix.roomState[testRoomID] = []messaging.Event{
		{Type: "m.room.create", StateKey: new(string), Content: map[string]any{"creator": testBotUserID}},
		{
			Type:     schema.EventTypeBridgeState,
			StateKey: &legacyKey,
			Content: map[string]any{
				"org": "acme", "repo": "widgets", "issues": []any{"42"},
				"comments_processed": 3, "state": "open",
			},
		},
		{
			Type:     schema.EventTypeBridgeState,
			StateKey: &otherKey,
			Content: map[string]any{
				"org": "acme", "repo": "widgets", "issues": []any{"7"},
				"comments_processed": 1, "state": "open",
			},
		},
	}

	room := newIssueRoom(h.bridge.env, testRoomID)
	if err := room.LoadState(h.ctx); err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if room.IssueNumber() != 42 || room.State().CommentsProcessed != 3 {
		t.Errorf("adopted %+v, want the first legacy event", room.State())
	}

	persisted := h.matrix.bridgeState(t, testRoomID)
	if len(persisted.Issues) != 1 || persisted.Issues[0] != "42" || persisted.CommentsProcessed != 3 {
		t.Errorf("canonical state = %+v", persisted)
	}
}

func TestLoadStateNoBridgeState(t *testing.T) {
	h := newHarness(t)
	room := newIssueRoom(h.bridge.env, testRoomID)
	if err := room.LoadState(h.ctx); !errors.Is(err, ErrNoBridgeState) {
		t.Errorf("LoadState error = %v, want ErrNoBridgeState", err)
	}
}

func TestIssueRoomOnEvent(t *testing.T) {
	h := newHarness(t)
	room := h.addIssueRoom(0)

	updated := schema.NewRoomState("acme", "widgets", 42)
	updated.CommentsProcessed = 9
	h.matrix.putBridgeState(t, testRoomID, updated)

	empty := ""
	legacy := "https://api.github.com/repos/acme/widgets/issues/42"
	tests := []struct {
		name    string
		event   messaging.Event
		handled bool
	}{
		{"canonical state", messaging.Event{Type: schema.EventTypeBridgeState, StateKey: &empty}, true},
		{"legacy state key", messaging.Event{Type: schema.EventTypeBridgeState, StateKey: &legacy}, false},
		{"chat message", messageEvent(testUserID, "hello"), false},
		{"topic", messaging.Event{Type: schema.MatrixEventTypeTopic, StateKey: &empty}, false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			handled, err := room.OnEvent(h.ctx, test.event)
			if err != nil {
				t.Fatalf("OnEvent: %v", err)
			}
			if handled != test.handled {
				t.Errorf("handled = %v, want %v", handled, test.handled)
			}
		})
	}

	if got := room.State().CommentsProcessed; got != 9 {
		t.Errorf("comments_processed after reload = %d, want 9", got)
	}
}

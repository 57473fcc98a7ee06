// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bureau-foundation/ghbridge/lib/clock"
	"github.com/bureau-foundation/ghbridge/lib/testutil"
)

type greeting struct {
	Text string `json:"text"`
}

func newTestQueue(t *testing.T) (*Local, *clock.FakeClock) {
	t.Helper()
	fake := clock.Fake(time.Unix(1700000000, 0))
	q := New(Options{Clock: fake, RequestTimeout: time.Second})
	t.Cleanup(q.Close)
	return q, fake
}

func TestPushDeliversToMatchingHandlers(t *testing.T) {
	q, _ := newTestQueue(t)

	created := make(chan Message, 1)
	anyComment := make(chan Message, 1)
	issues := make(chan Message, 1)
	q.On("comment.created", func(_ context.Context, message Message) { created <- message })
	q.On("comment.*", func(_ context.Context, message Message) { anyComment <- message })
	q.On("issue.*", func(_ context.Context, message Message) { issues <- message })

	message, err := NewMessage("comment.created", "test", greeting{Text: "hi"})
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	if err := q.Push(context.Background(), message); err != nil {
		t.Fatalf("Push: %v", err)
	}

	got := testutil.RequireReceive(t, created, time.Second, "exact subscription")
	testutil.RequireReceive(t, anyComment, time.Second, "wildcard subscription")
	testutil.RequireNoReceive(t, issues, 50*time.Millisecond, "unrelated subscription")

	var decoded greeting
	if err := got.Decode(&decoded); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Text != "hi" {
		t.Errorf("Text = %q, want hi", decoded.Text)
	}
	if got.MessageID != message.MessageID {
		t.Errorf("MessageID = %q, want %q", got.MessageID, message.MessageID)
	}
}

func TestPushWaitReceivesCorrelatedReply(t *testing.T) {
	q, _ := newTestQueue(t)

	q.On("echo", func(ctx context.Context, message Message) {
		var request greeting
		if err := message.Decode(&request); err != nil {
			t.Errorf("Decode: %v", err)
			return
		}
		reply, err := message.Reply("echoer", greeting{Text: request.Text + "!"})
		if err != nil {
			t.Errorf("Reply: %v", err)
			return
		}
		if err := q.Push(ctx, reply); err != nil {
			t.Errorf("Push reply: %v", err)
		}
	})

	request, err := NewMessage("echo", "test", greeting{Text: "ping"})
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	var response greeting
	if err := q.PushWait(context.Background(), request, &response); err != nil {
		t.Fatalf("PushWait: %v", err)
	}
	if response.Text != "ping!" {
		t.Errorf("response = %q, want ping!", response.Text)
	}
}

func TestPushWaitIgnoresOtherMessageIDs(t *testing.T) {
	q, fake := newTestQueue(t)

	q.On("echo", func(ctx context.Context, message Message) {
		stray := Message{
			EventName: ResponsePrefix + "echo",
			Sender:    "echoer",
			MessageID: "someone-else",
		}
		if err := q.Push(ctx, stray); err != nil {
			t.Errorf("Push: %v", err)
		}
	})

	request, err := NewMessage("echo", "test", greeting{Text: "ping"})
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}

	result := make(chan error, 1)
	go func() {
		result <- q.PushWait(context.Background(), request, nil)
	}()

	fake.WaitForWaiters(1)
	testutil.RequireNoReceive(t, result, 50*time.Millisecond, "PushWait should still be waiting")
	fake.Advance(time.Second)

	err = testutil.RequireReceive(t, result, time.Second, "PushWait result")
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("PushWait error = %v, want ErrTimeout", err)
	}
}

func TestPushAfterClose(t *testing.T) {
	q := New(Options{})
	q.Close()

	message, err := NewMessage("comment.created", "test", greeting{})
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	if err := q.Push(context.Background(), message); !errors.Is(err, ErrClosed) {
		t.Errorf("Push after Close = %v, want ErrClosed", err)
	}
	if err := q.PushWait(context.Background(), message, nil); !errors.Is(err, ErrClosed) {
		t.Errorf("PushWait after Close = %v, want ErrClosed", err)
	}
}

func TestCloseCancelsHandlerContext(t *testing.T) {
	q := New(Options{})

	started := make(chan struct{})
	finished := make(chan struct{})
	q.On("slow", func(ctx context.Context, _ Message) {
		close(started)
		<-ctx.Done()
		close(finished)
	})

	message, err := NewMessage("slow", "test", greeting{})
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	if err := q.Push(context.Background(), message); err != nil {
		t.Fatalf("Push: %v", err)
	}
	testutil.RequireClosed(t, started, time.Second, "handler start")
	q.Close()
	testutil.RequireClosed(t, finished, time.Second, "handler exit")
}

func TestPushRejectsIncompleteMessages(t *testing.T) {
	q, _ := newTestQueue(t)
	if err := q.Push(context.Background(), Message{MessageID: "x"}); err == nil {
		t.Error("expected error for missing event name")
	}
	if err := q.Push(context.Background(), Message{EventName: "x"}); err == nil {
		t.Error("expected error for missing message ID")
	}
}

func TestPushWaitCancelsHandlerAtDeadline(t *testing.T) {
	q, fake := newTestQueue(t)

	causes := make(chan error, 1)
	q.On("slow", func(ctx context.Context, message Message) {
		if message.Deadline.IsZero() {
			t.Error("request carries no deadline")
		}
		<-ctx.Done()
		causes <- context.Cause(ctx)
	})

	request, err := NewMessage("slow", "test", greeting{})
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	result := make(chan error, 1)
	go func() {
		result <- q.PushWait(context.Background(), request, nil)
	}()

	// The request timer and the handler's deadline watcher.
	fake.WaitForWaiters(2)
	testutil.RequireNoReceive(t, causes, 50*time.Millisecond, "handler cancelled before the deadline")
	fake.Advance(time.Second)

	if err := testutil.RequireReceive(t, result, time.Second, "PushWait result"); !errors.Is(err, ErrTimeout) {
		t.Errorf("PushWait error = %v, want ErrTimeout", err)
	}
	if cause := testutil.RequireReceive(t, causes, time.Second, "handler cancellation"); !errors.Is(cause, ErrTimeout) {
		t.Errorf("handler cause = %v, want ErrTimeout", cause)
	}
}

func TestPushHandlerHasNoDeadline(t *testing.T) {
	q, fake := newTestQueue(t)

	deadlines := make(chan bool, 1)
	q.On("comment.created", func(_ context.Context, message Message) {
		deadlines <- !message.Deadline.IsZero()
	})
	message, err := NewMessage("comment.created", "test", greeting{})
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	if err := q.Push(context.Background(), message); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if testutil.RequireReceive(t, deadlines, time.Second, "handler run") {
		t.Error("published message carries a deadline")
	}
	if pending := fake.Pending(); pending != 0 {
		t.Errorf("%d timers pending for a message without deadline", pending)
	}
}

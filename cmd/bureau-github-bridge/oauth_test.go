// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bureau-foundation/ghbridge/lib/github"
	"github.com/bureau-foundation/ghbridge/lib/queue"
	"github.com/bureau-foundation/ghbridge/lib/schema"
	"github.com/bureau-foundation/ghbridge/lib/testutil"
)

type fakeExchanger struct {
	token *github.OAuthToken
	err   error
	codes chan string
}

func (f *fakeExchanger) Exchange(_ context.Context, code, _ string) (*github.OAuthToken, error) {
	f.codes <- code
	return f.token, f.err
}

// newOAuthHarness answers oauth.response probes with known(state) and
// captures published oauth.tokens payloads.
func newOAuthHarness(t *testing.T, known func(state string) bool, exchanger *fakeExchanger) (*OAuthHandler, chan schema.OAuthTokens) {
	t.Helper()
	bus := queue.New(queue.Options{Logger: testLogger(), RequestTimeout: 5 * time.Second})
	t.Cleanup(bus.Close)

	bus.On(schema.EventOAuthResponse, func(ctx context.Context, message queue.Message) {
		var probe schema.OAuthProbe
		if err := message.Decode(&probe); err != nil {
			t.Errorf("decoding probe: %v", err)
			return
		}
		reply, err := message.Reply("bridge", known(probe.State))
		if err != nil {
			t.Errorf("Reply: %v", err)
			return
		}
		bus.Push(ctx, reply)
	})

	tokens := make(chan schema.OAuthTokens, 1)
	bus.On(schema.EventOAuthTokens, func(_ context.Context, message queue.Message) {
		var payload schema.OAuthTokens
		if err := message.Decode(&payload); err != nil {
			t.Errorf("decoding tokens: %v", err)
			return
		}
		tokens <- payload
	})

	return NewOAuthHandler(bus, exchanger, testLogger()), tokens
}

func TestOAuthCallbackLinksAccount(t *testing.T) {
	exchanger := &fakeExchanger{
		token: &github.OAuthToken{AccessToken: "gho_abc", TokenType: "bearer"},
		codes: make(chan string, 1),
	}
	handler, tokens := newOAuthHarness(t, func(state string) bool { return state == "nonce-1" }, exchanger)

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/oauth?code=the-code&state=nonce-1", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", recorder.Code, recorder.Body.String())
	}
	if code := testutil.RequireReceive(t, exchanger.codes, time.Second, "code not exchanged"); code != "the-code" {
		t.Errorf("exchanged code = %q", code)
	}
	payload := testutil.RequireReceive(t, tokens, 5*time.Second, "oauth.tokens not published")
	want := schema.OAuthTokens{State: "nonce-1", AccessToken: "gho_abc", TokenType: "bearer"}
	if payload != want {
		t.Errorf("tokens = %+v, want %+v", payload, want)
	}
}

func TestOAuthCallbackUnknownState(t *testing.T) {
	exchanger := &fakeExchanger{codes: make(chan string, 1)}
	handler, tokens := newOAuthHarness(t, func(string) bool { return false }, exchanger)

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/oauth?code=c&state=stale", nil))
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", recorder.Code)
	}
	testutil.RequireNoReceive(t, exchanger.codes, 50*time.Millisecond, "code exchanged for unknown state")
	testutil.RequireNoReceive(t, tokens, 50*time.Millisecond, "tokens published for unknown state")
}

func TestOAuthCallbackExchangeFailure(t *testing.T) {
	exchanger := &fakeExchanger{err: errors.New("bad_verification_code"), codes: make(chan string, 1)}
	handler, tokens := newOAuthHarness(t, func(string) bool { return true }, exchanger)

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/oauth?code=c&state=s", nil))
	if recorder.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", recorder.Code)
	}
	testutil.RequireNoReceive(t, tokens, 50*time.Millisecond, "tokens published after failed exchange")
}

func TestOAuthCallbackBadRequests(t *testing.T) {
	exchanger := &fakeExchanger{codes: make(chan string, 1)}
	handler, _ := newOAuthHarness(t, func(string) bool { return true }, exchanger)

	tests := []struct {
		name   string
		method string
		target string
		want   int
	}{
		{"missing code", http.MethodGet, "/oauth?state=s", http.StatusBadRequest},
		{"missing state", http.MethodGet, "/oauth?code=c", http.StatusBadRequest},
		{"post", http.MethodPost, "/oauth?code=c&state=s", http.StatusMethodNotAllowed},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			handler.ServeHTTP(recorder, httptest.NewRequest(test.method, test.target, nil))
			if recorder.Code != test.want {
				t.Errorf("status = %d, want %d", recorder.Code, test.want)
			}
		})
	}
}

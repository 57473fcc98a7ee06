// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/ghbridge/lib/clock"
	"github.com/bureau-foundation/ghbridge/lib/github"
	"github.com/bureau-foundation/ghbridge/lib/queue"
	"github.com/bureau-foundation/ghbridge/lib/schema"
	"github.com/bureau-foundation/ghbridge/lib/tokenstore"
	"github.com/bureau-foundation/ghbridge/messaging"
)

const (
	testBotUserID = "@github:example.org"
	testDomain    = "example.org"
	testRoomID    = "!issue:example.org"
	testAdminRoom = "!admin:example.org"
	testUserID    = "@alice:example.org"
)

func notFound() error {
	return &messaging.MatrixError{Code: messaging.ErrCodeNotFound, Message: "not found", StatusCode: 404}
}

type stateWrite struct {
	roomID    string
	eventType string
	stateKey  string
	content   json.RawMessage
}

type notice struct {
	roomID string
	body   string
}

// fakeMatrix is an in-memory homeserver for the bot's session.
type fakeMatrix struct {
	mu sync.Mutex

	joined       []string
	members      map[string][]string
	state        map[string]json.RawMessage
	roomState    map[string][]messaging.Event
	accountData  map[string]json.RawMessage
	accountErr   map[string]error
	stateWrites  []stateWrite
	notices      []notice
	joins        []string
	left         []string
	writeSignals chan stateWrite
}

func newFakeMatrix() *fakeMatrix {
	return &fakeMatrix{
		members:      make(map[string][]string),
		state:        make(map[string]json.RawMessage),
		roomState:    make(map[string][]messaging.Event),
		accountData:  make(map[string]json.RawMessage),
		accountErr:   make(map[string]error),
		writeSignals: make(chan stateWrite, 256),
	}
}

func stateSlot(roomID, eventType, stateKey string) string {
	return roomID + "|" + eventType + "|" + stateKey
}

func (m *fakeMatrix) UserID() string { return testBotUserID }

func (m *fakeMatrix) JoinedRooms(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.joined...), nil
}

func (m *fakeMatrix) JoinRoom(_ context.Context, roomID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.joins = append(m.joins, roomID)
	return roomID, nil
}

func (m *fakeMatrix) LeaveRoom(_ context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.left = append(m.left, roomID)
	return nil
}

func (m *fakeMatrix) JoinedMembers(_ context.Context, roomID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.members[roomID], nil
}

func (m *fakeMatrix) SendMessage(_ context.Context, roomID string, content messaging.MessageContent) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notices = append(m.notices, notice{roomID: roomID, body: content.Body})
	return fmt.Sprintf("$notice%d", len(m.notices)), nil
}

func (m *fakeMatrix) SendStateEvent(_ context.Context, roomID, eventType, stateKey string, content any) (string, error) {
	raw, err := json.Marshal(content)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	write := stateWrite{roomID: roomID, eventType: eventType, stateKey: stateKey, content: raw}
	m.state[stateSlot(roomID, eventType, stateKey)] = raw
	m.stateWrites = append(m.stateWrites, write)
	m.mu.Unlock()

	select {
	case m.writeSignals <- write:
	default:
	}
	return fmt.Sprintf("$state%d", len(m.stateWrites)), nil
}

func (m *fakeMatrix) GetStateEvent(_ context.Context, roomID, eventType, stateKey string) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.state[stateSlot(roomID, eventType, stateKey)]
	if !ok {
		return nil, notFound()
	}
	return raw, nil
}

func (m *fakeMatrix) GetRoomState(_ context.Context, roomID string) ([]messaging.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roomState[roomID], nil
}

func (m *fakeMatrix) GetRoomAccountData(_ context.Context, roomID, dataType string) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.accountErr[roomID]; err != nil {
		return nil, err
	}
	raw, ok := m.accountData[roomID+"|"+dataType]
	if !ok {
		return nil, notFound()
	}
	return raw, nil
}

func (m *fakeMatrix) SetRoomAccountData(_ context.Context, roomID, dataType string, content any) error {
	raw, err := json.Marshal(content)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accountData[roomID+"|"+dataType] = raw
	return nil
}

// putBridgeState stores state at the canonical key without recording a
// write.
func (m *fakeMatrix) putBridgeState(t *testing.T, roomID string, state schema.RoomState) {
	t.Helper()
	raw, err := json.Marshal(state)
	if err != nil {
		t.Fatalf("encoding state: %v", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state[stateSlot(roomID, schema.EventTypeBridgeState, "")] = raw
}

func (m *fakeMatrix) putAccountData(t *testing.T, roomID string, content any) {
	t.Helper()
	if err := m.SetRoomAccountData(context.Background(), roomID, schema.EventTypeRoomAccountData, content); err != nil {
		t.Fatalf("storing account data: %v", err)
	}
}

// bridgeState decodes the canonical bridge state of roomID.
func (m *fakeMatrix) bridgeState(t *testing.T, roomID string) schema.RoomState {
	t.Helper()
	m.mu.Lock()
	raw, ok := m.state[stateSlot(roomID, schema.EventTypeBridgeState, "")]
	m.mu.Unlock()
	if !ok {
		t.Fatalf("no bridge state stored for %s", roomID)
	}
	var state schema.RoomState
	if err := json.Unmarshal(raw, &state); err != nil {
		t.Fatalf("decoding bridge state: %v", err)
	}
	return state
}

// writesOf returns the recorded state writes of eventType.
func (m *fakeMatrix) writesOf(eventType string) []stateWrite {
	m.mu.Lock()
	defer m.mu.Unlock()
	var writes []stateWrite
	for _, write := range m.stateWrites {
		if write.eventType == eventType {
			writes = append(writes, write)
		}
	}
	return writes
}

func (m *fakeMatrix) noticeBodies() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var bodies []string
	for _, n := range m.notices {
		bodies = append(bodies, n.body)
	}
	return bodies
}

// fakeTracker serves one issue and its comments.
type fakeTracker struct {
	mu sync.Mutex

	issue       github.Issue
	comments    []github.Comment
	created     []string
	nextID      int64
	login       string
	getIssueErr error
}

func newFakeTracker() *fakeTracker {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &fakeTracker{
		issue: github.Issue{
			Number:        42,
			Title:         "Widgets fall over",
			Body:          "Steps to reproduce.",
			State:         schema.IssueStateOpen,
			URL:           "https://api.github.com/repos/acme/widgets/issues/42",
			HTMLURL:       "https://github.com/acme/widgets/issues/42",
			RepositoryURL: "https://api.github.com/repos/acme/widgets",
			User:          github.User{Login: "octocat", HTMLURL: "https://github.com/octocat"},
			CreatedAt:     created,
			UpdatedAt:     created,
		},
		nextID: 1000,
	}
}

// addComments appends n comments by hubot.
func (f *fakeTracker) addComments(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for range n {
		f.nextID++
		f.comments = append(f.comments, github.Comment{
			ID:   f.nextID,
			Body: fmt.Sprintf("comment %d", f.nextID),
			User: github.User{Login: "hubot"},
		})
	}
}

func (f *fakeTracker) close(closer string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	closedAt := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	f.issue.State = schema.IssueStateClosed
	f.issue.ClosedAt = &closedAt
	f.issue.ClosedBy = &github.User{Login: closer, HTMLURL: "https://github.com/" + closer}
}

func (f *fakeTracker) GetIssue(_ context.Context, owner, repo string, number int) (*github.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getIssueErr != nil {
		return nil, f.getIssueErr
	}
	if !strings.EqualFold(owner, "acme") || !strings.EqualFold(repo, "widgets") || number != f.issue.Number {
		return nil, &github.APIError{StatusCode: 404, Message: "Not Found"}
	}
	issue := f.issue
	issue.Comments = len(f.comments)
	return &issue, nil
}

func (f *fakeTracker) ListIssueComments(context.Context, string, string, int) ([]github.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]github.Comment(nil), f.comments...), nil
}

func (f *fakeTracker) CreateIssueComment(_ context.Context, _, _ string, _ int, body string) (*github.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	comment := github.Comment{ID: f.nextID, Body: body, User: github.User{Login: f.login}}
	f.comments = append(f.comments, comment)
	f.created = append(f.created, body)
	return &comment, nil
}

func (f *fakeTracker) GetAuthenticatedUser(context.Context) (*github.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.login == "" {
		return nil, &github.APIError{StatusCode: 401, Message: "Bad credentials"}
	}
	return &github.User{Login: f.login}, nil
}

func (f *fakeTracker) createdBodies() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.created...)
}

type fakeTokens struct {
	mu     sync.Mutex
	tokens map[string]string
	stored chan string
}

func (s *fakeTokens) UserToken(_ context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[userID]
	if !ok {
		return "", tokenstore.ErrNoToken
	}
	return token, nil
}

func (s *fakeTokens) StoreUserToken(_ context.Context, userID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[userID] = token
	select {
	case s.stored <- userID:
	default:
	}
	return nil
}

func (s *fakeTokens) get(userID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[userID]
	return token, ok
}

type fakeGhosts struct{}

func (fakeGhosts) GhostUserID(_ context.Context, user github.User) (string, error) {
	if user.Login == "" {
		return "", nil
	}
	return "@github_" + strings.ToLower(user.Login) + ":" + testDomain, nil
}

type fakeOAuth struct{}

func (fakeOAuth) AuthorizeURL(state string) string {
	return "https://github.com/login/oauth/authorize?client_id=client&state=" + state
}

// fakeSender answers matrix.message requests on the queue, failing
// every request after the first failAfter successes when failAfter is
// non-negative.
type fakeSender struct {
	mu        sync.Mutex
	sent      []schema.MatrixMessageRequest
	failAfter int
	signals   chan schema.MatrixMessageRequest
}

func (s *fakeSender) subscribe(q queue.Queue) {
	q.On(schema.EventMatrixMessage, func(ctx context.Context, message queue.Message) {
		var request schema.MatrixMessageRequest
		var response schema.MatrixMessageResponse
		if err := message.Decode(&request); err != nil {
			response.Error = err.Error()
		} else {
			s.mu.Lock()
			if s.failAfter >= 0 && len(s.sent) >= s.failAfter {
				response.Error = "M_FORBIDDEN: scripted failure"
			} else {
				s.sent = append(s.sent, request)
				response.EventID = fmt.Sprintf("$sent%d", len(s.sent))
			}
			s.mu.Unlock()
		}
		reply, err := message.Reply("test", response)
		if err != nil {
			return
		}
		if response.Error == "" {
			select {
			case s.signals <- request:
			default:
			}
		}
		_ = q.Push(ctx, reply)
	})
}

func (s *fakeSender) setFailAfter(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAfter = n
}

func (s *fakeSender) requests() []schema.MatrixMessageRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]schema.MatrixMessageRequest(nil), s.sent...)
}

func (s *fakeSender) bodies() []string {
	var bodies []string
	for _, request := range s.requests() {
		body, _ := request.Content["body"].(string)
		bodies = append(bodies, body)
	}
	return bodies
}

type harness struct {
	matrix   *fakeMatrix
	tracker  *fakeTracker
	users    map[string]*fakeTracker
	tokens   *fakeTokens
	queue    *queue.Local
	sender   *fakeSender
	clock    *clock.FakeClock
	bridge   *Bridge
	nonces   int
	ctx      context.Context
	t        *testing.T
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	h := &harness{
		matrix:   newFakeMatrix(),
		tracker:  newFakeTracker(),
		users:    make(map[string]*fakeTracker),
		tokens:   &fakeTokens{tokens: make(map[string]string), stored: make(chan string, 16)},
		queue:    queue.New(queue.Options{Logger: logger, RequestTimeout: 5 * time.Second}),
		sender:   &fakeSender{failAfter: -1, signals: make(chan schema.MatrixMessageRequest, 256)},
		clock:    clock.Fake(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)),
		ctx:      context.Background(),
		t:        t,
	}
	t.Cleanup(h.queue.Close)
	h.sender.subscribe(h.queue)

	bridge, err := New(Options{
		Matrix:  h.matrix,
		Queue:   h.queue,
		Tracker: h.tracker,
		Trackers: func(token string) (IssueTracker, error) {
			if tracker, ok := h.users[token]; ok {
				return tracker, nil
			}
			return &fakeTracker{}, nil
		},
		Tokens: h.tokens,
		Ghosts: fakeGhosts{},
		Namespace: Namespace{
			BotUserID:  testBotUserID,
			UserPrefix: "github_",
			Domain:     testDomain,
		},
		OAuth: fakeOAuth{},
		Clock: h.clock,
		NewNonce: func() string {
			h.nonces++
			return fmt.Sprintf("nonce-%d", h.nonces)
		},
		Logger: logger,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.bridge = bridge
	bridge.Subscribe(h.queue)
	return h
}

// addIssueRoom registers testRoomID with the given cursor.
func (h *harness) addIssueRoom(commentsProcessed int) *IssueRoom {
	h.t.Helper()
	state := schema.NewRoomState("acme", "widgets", 42)
	state.CommentsProcessed = commentsProcessed
	h.matrix.putBridgeState(h.t, testRoomID, state)

	room := newIssueRoom(h.bridge.env, testRoomID)
	if err := room.LoadState(h.ctx); err != nil {
		h.t.Fatalf("LoadState: %v", err)
	}
	h.bridge.registry.AddIssue(room)
	return room
}

// addAdminRoom registers testAdminRoom for testUserID.
func (h *harness) addAdminRoom() *AdminRoom {
	room := newAdminRoom(h.bridge.env, testAdminRoom, testUserID)
	h.bridge.registry.AddAdmin(room)
	return room
}

// push publishes a queue message from the webhook side.
func (h *harness) push(eventName string, data any) queue.Message {
	h.t.Helper()
	message, err := queue.NewMessage(eventName, "webhook", data)
	if err != nil {
		h.t.Fatalf("NewMessage: %v", err)
	}
	if err := h.queue.Push(h.ctx, message); err != nil {
		h.t.Fatalf("Push: %v", err)
	}
	return message
}

// drainWrites discards pending state write signals.
func (h *harness) drainWrites() {
	for {
		select {
		case <-h.matrix.writeSignals:
		default:
			return
		}
	}
}

// awaitWrite waits for the next state write of eventType.
func (h *harness) awaitWrite(eventType string) stateWrite {
	h.t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case write := <-h.matrix.writeSignals:
			if write.eventType == eventType && write.stateKey == "" {
				return write
			}
		case <-deadline:
			h.t.Fatalf("timed out waiting for a %s write", eventType)
		}
	}
}

// awaitBridgeStateWrite waits for the next canonical bridge state write.
func (h *harness) awaitBridgeStateWrite() schema.RoomState {
	h.t.Helper()
	write := h.awaitWrite(schema.EventTypeBridgeState)
	var state schema.RoomState
	if err := json.Unmarshal(write.content, &state); err != nil {
		h.t.Fatalf("decoding state write: %v", err)
	}
	return state
}

func messageEvent(sender, body string) messaging.Event {
	return messaging.Event{
		EventID: "$" + strings.ReplaceAll(body, " ", ""),
		Type:    schema.MatrixEventTypeMessage,
		Sender:  sender,
		Content: map[string]any{"msgtype": "m.text", "body": body},
	}
}

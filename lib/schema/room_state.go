// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"fmt"
	"strconv"
)

// Issue lifecycle states as reported by GitHub.
const (
	IssueStateOpen   = "open"
	IssueStateClosed = "closed"
)

// CursorUnsynchronized is the CommentsProcessed value of a room that
// has never been synchronized. The first synchronization pass posts
// the bootstrap notice and the issue body, then sets the cursor to 0.
const CursorUnsynchronized = -1

// RoomState is the content of an EventTypeBridgeState event. It links
// an issue room to exactly one GitHub issue and records how far the
// room has caught up with the issue's comment stream.
type RoomState struct {
	// Org is the repository owner (user or organization login).
	Org string `json:"org"`

	// Repo is the repository name.
	Repo string `json:"repo"`

	// Issues lists issue numbers as decimal strings. Only the first
	// element is meaningful. The list shape is kept for compatibility
	// with rooms created before single-issue rooms were enforced.
	Issues []string `json:"issues"`

	// CommentsProcessed is the number of GitHub comments already
	// mirrored into the room, or CursorUnsynchronized.
	CommentsProcessed int `json:"comments_processed"`

	// State is the last observed issue lifecycle state ("open" or
	// "closed").
	State string `json:"state"`
}

// IssueNumber parses the active issue number.
func (state *RoomState) IssueNumber() (int, error) {
	if len(state.Issues) == 0 {
		return 0, fmt.Errorf("bridge state: no issue linked")
	}
	number, err := strconv.Atoi(state.Issues[0])
	if err != nil {
		return 0, fmt.Errorf("bridge state: issue %q is not a number", state.Issues[0])
	}
	if number <= 0 {
		return 0, fmt.Errorf("bridge state: issue number must be positive, got %d", number)
	}
	return number, nil
}

// Validate checks that all required fields are present and
// well-formed.
func (state *RoomState) Validate() error {
	if state.Org == "" {
		return fmt.Errorf("bridge state: org is required")
	}
	if state.Repo == "" {
		return fmt.Errorf("bridge state: repo is required")
	}
	if _, err := state.IssueNumber(); err != nil {
		return err
	}
	if state.CommentsProcessed < CursorUnsynchronized {
		return fmt.Errorf("bridge state: comments_processed must be >= %d, got %d",
			CursorUnsynchronized, state.CommentsProcessed)
	}
	switch state.State {
	case IssueStateOpen, IssueStateClosed:
		// Valid.
	case "":
		return fmt.Errorf("bridge state: state is required")
	default:
		return fmt.Errorf("bridge state: unknown state %q", state.State)
	}
	return nil
}

// NewRoomState returns the initial state of a freshly linked room.
func NewRoomState(org, repo string, issueNumber int) RoomState {
	return RoomState{
		Org:               org,
		Repo:              repo,
		Issues:            []string{strconv.Itoa(issueNumber)},
		CommentsProcessed: CursorUnsynchronized,
		State:             IssueStateOpen,
	}
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"encoding/json"
	"errors"
	"fmt"
)

// RoomKind discriminates the two kinds of rooms the bridge manages.
type RoomKind string

const (
	// RoomKindAdmin is a 1:1 control room between the bot and one user.
	RoomKindAdmin RoomKind = "admin"

	// RoomKindIssue is a room linked to one GitHub issue.
	RoomKindIssue RoomKind = "issue"
)

// ErrUnknownRoomKind is returned by DecodeAccountData when the type
// discriminator is missing or not one of the known kinds. Callers treat
// such rooms as candidates for legacy migration.
var ErrUnknownRoomKind = errors.New("account data: unknown room kind")

// AdminAccountData is the account data of an admin room.
type AdminAccountData struct {
	Type      RoomKind `json:"type"`
	AdminUser string   `json:"admin_user"`
}

// IssueAccountData is the account data of an issue room. It carries
// enough to rebuild the identity index at startup without reading the
// bridge state event.
type IssueAccountData struct {
	Type        RoomKind `json:"type"`
	Owner       string   `json:"owner"`
	Repo        string   `json:"repo"`
	IssueNumber int      `json:"issue_number"`
}

// AccountData is the decoded content of an EventTypeRoomAccountData
// event. Exactly one of Admin and Issue is set, selected by Kind.
type AccountData struct {
	Kind  RoomKind
	Admin *AdminAccountData
	Issue *IssueAccountData
}

// NewAdminAccountData returns account data marking an admin room for
// userID.
func NewAdminAccountData(userID string) AdminAccountData {
	return AdminAccountData{Type: RoomKindAdmin, AdminUser: userID}
}

// NewIssueAccountData returns account data marking an issue room.
func NewIssueAccountData(owner, repo string, issueNumber int) IssueAccountData {
	return IssueAccountData{
		Type:        RoomKindIssue,
		Owner:       owner,
		Repo:        repo,
		IssueNumber: issueNumber,
	}
}

// DecodeAccountData decodes raw room account data, dispatching only on
// the "type" discriminator. Unknown or missing discriminators return
// an error wrapping ErrUnknownRoomKind.
func DecodeAccountData(raw []byte) (AccountData, error) {
	var header struct {
		Type RoomKind `json:"type"`
	}
	if err := json.Unmarshal(raw, &header); err != nil {
		return AccountData{}, fmt.Errorf("account data: %w", err)
	}

	switch header.Type {
	case RoomKindAdmin:
		var admin AdminAccountData
		if err := json.Unmarshal(raw, &admin); err != nil {
			return AccountData{}, fmt.Errorf("account data: admin: %w", err)
		}
		if admin.AdminUser == "" {
			return AccountData{}, fmt.Errorf("account data: admin: admin_user is required")
		}
		return AccountData{Kind: RoomKindAdmin, Admin: &admin}, nil
	case RoomKindIssue:
		var issue IssueAccountData
		if err := json.Unmarshal(raw, &issue); err != nil {
			return AccountData{}, fmt.Errorf("account data: issue: %w", err)
		}
		if issue.Owner == "" || issue.Repo == "" || issue.IssueNumber <= 0 {
			return AccountData{}, fmt.Errorf("account data: issue: owner, repo and issue_number are required")
		}
		return AccountData{Kind: RoomKindIssue, Issue: &issue}, nil
	default:
		return AccountData{}, fmt.Errorf("%w %q", ErrUnknownRoomKind, header.Type)
	}
}

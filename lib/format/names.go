// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package format

import (
	"fmt"
	"time"

	"github.com/bureau-foundation/ghbridge/lib/github"
)

// FormatName returns the room name for an issue: "org/repo#12: title".
// The repository is taken from the issue's repository_url; if that is
// unparseable only "#12: title" is used.
func FormatName(issue *github.Issue) string {
	owner, repo, err := issue.Repository()
	if err != nil {
		return fmt.Sprintf("#%d: %s", issue.Number, issue.Title)
	}
	return fmt.Sprintf("%s/%s#%d: %s", owner, repo, issue.Number, issue.Title)
}

// FormatTopic returns the room topic for an issue: its lifecycle state
// and web URL, e.g. "Open | https://github.com/org/repo/issues/12".
func FormatTopic(issue *github.Issue) string {
	state := "Open"
	if issue.State == "closed" {
		state = "Closed"
	}
	return fmt.Sprintf("%s | %s", state, issue.HTMLURL)
}

// Kind names an issue for notices: "pull request" or "issue".
func Kind(issue *github.Issue) string {
	if issue.IsPullRequest() {
		return "pull request"
	}
	return "issue"
}

// CreatedNotice is the first notice sent into a freshly bridged room.
func CreatedNotice(issue *github.Issue) string {
	return fmt.Sprintf("created the %s at %s", Kind(issue), formatTime(issue.CreatedAt))
}

// ClosedNotice announces that an issue was closed.
func ClosedNotice(issue *github.Issue) string {
	closedAt := ""
	if issue.ClosedAt != nil {
		closedAt = formatTime(*issue.ClosedAt)
	}
	return fmt.Sprintf("closed the %s at %s", Kind(issue), closedAt)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

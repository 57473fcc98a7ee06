// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package github

import (
	"fmt"
	"strings"
	"time"
)

// User is a GitHub user reference. Appears in issue authors, comment
// authors, closers and webhook senders.
type User struct {
	Login     string `json:"login"`
	ID        int64  `json:"id"`
	HTMLURL   string `json:"html_url"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Type      string `json:"type,omitempty"` // "User", "Bot", "Organization"
}

// Label is a GitHub issue label.
type Label struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// IssuePullRequest is present on an Issue when the issue is a pull
// request.
type IssuePullRequest struct {
	URL     string `json:"url"`
	HTMLURL string `json:"html_url"`
}

// Issue is a GitHub issue (or the issue view of a pull request).
type Issue struct {
	Number        int               `json:"number"`
	Title         string            `json:"title"`
	Body          string            `json:"body"`
	State         string            `json:"state"` // "open" or "closed"
	URL           string            `json:"url"`   // API URL
	HTMLURL       string            `json:"html_url"`
	RepositoryURL string            `json:"repository_url"`
	User          User              `json:"user"`
	Labels        []Label           `json:"labels"`
	Assignees     []User            `json:"assignees"`
	Comments      int               `json:"comments"`
	ClosedBy      *User             `json:"closed_by,omitempty"`
	PullRequest   *IssuePullRequest `json:"pull_request,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	ClosedAt      *time.Time        `json:"closed_at"`
}

// IsPullRequest reports whether the issue is a pull request.
func (issue *Issue) IsPullRequest() bool {
	return issue.PullRequest != nil
}

// Repository splits RepositoryURL ("<api>/repos/<owner>/<repo>") into
// owner and name. The issue endpoint is case-insensitive and may
// redirect renamed repositories, so this is the canonical spelling.
func (issue *Issue) Repository() (owner, repo string, err error) {
	_, rest, found := strings.Cut(issue.RepositoryURL, "/repos/")
	if !found {
		return "", "", fmt.Errorf("github: repository_url %q has no /repos/ segment", issue.RepositoryURL)
	}
	owner, repo, found = strings.Cut(strings.Trim(rest, "/"), "/")
	if !found || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", fmt.Errorf("github: repository_url %q is not <owner>/<repo>", issue.RepositoryURL)
	}
	return owner, repo, nil
}

// Comment is a GitHub issue or pull request comment.
type Comment struct {
	ID        int64     `json:"id"`
	Body      string    `json:"body"`
	HTMLURL   string    `json:"html_url"`
	User      User      `json:"user"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Repository is the repository object embedded in webhook payloads.
type Repository struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	Owner    User   `json:"owner"`
	HTMLURL  string `json:"html_url"`
}

// ChangedFrom records the previous value of an edited field.
type ChangedFrom struct {
	From string `json:"from"`
}

// IssueChanges is the "changes" object of an issues.edited webhook.
type IssueChanges struct {
	Title *ChangedFrom `json:"title,omitempty"`
	Body  *ChangedFrom `json:"body,omitempty"`
}

// WebhookEvent is the subset of the issues and issue_comment webhook
// payloads the bridge consumes.
type WebhookEvent struct {
	Action     string        `json:"action"`
	Issue      *Issue        `json:"issue,omitempty"`
	Comment    *Comment      `json:"comment,omitempty"`
	Repository *Repository   `json:"repository,omitempty"`
	Sender     *User         `json:"sender,omitempty"`
	Changes    *IssueChanges `json:"changes,omitempty"`
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package github

import (
	"context"
	"fmt"
)

// commentsPerPage is the page size for comment listing. 100 is the
// maximum GitHub accepts.
const commentsPerPage = 100

// GetIssue retrieves a single issue by number.
func (client *Client) GetIssue(ctx context.Context, owner, repo string, number int) (*Issue, error) {
	var issue Issue
	path := fmt.Sprintf("/repos/%s/%s/issues/%d", owner, repo, number)
	if err := client.get(ctx, path, &issue); err != nil {
		return nil, fmt.Errorf("getting issue %s/%s#%d: %w", owner, repo, number, err)
	}
	return &issue, nil
}

// IssueComments walks an issue's comments page by page in creation
// order.
func (client *Client) IssueComments(owner, repo string, number int) *Pages[Comment] {
	path := fmt.Sprintf("/repos/%s/%s/issues/%d/comments?per_page=%d", owner, repo, number, commentsPerPage)
	return list[Comment](client, path)
}

// ListIssueComments fetches every comment on an issue in creation
// order.
func (client *Client) ListIssueComments(ctx context.Context, owner, repo string, number int) ([]Comment, error) {
	comments, err := client.IssueComments(owner, repo, number).All(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing comments on %s/%s#%d: %w", owner, repo, number, err)
	}
	return comments, nil
}

// CreateIssueComment creates a comment on an issue or pull request.
func (client *Client) CreateIssueComment(ctx context.Context, owner, repo string, number int, body string) (*Comment, error) {
	var comment Comment
	request := struct {
		Body string `json:"body"`
	}{Body: body}
	path := fmt.Sprintf("/repos/%s/%s/issues/%d/comments", owner, repo, number)
	if err := client.post(ctx, path, request, &comment); err != nil {
		return nil, fmt.Errorf("creating comment on %s/%s#%d: %w", owner, repo, number, err)
	}
	return &comment, nil
}

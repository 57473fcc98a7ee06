// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Pages walks a paginated list endpoint, such as an issue's comments,
// one page at a time by following the rel="next" entry of each
// response's Link header. Pages keep the order the API returns, so
// comment pages concatenate into creation order.
//
// Not safe for concurrent use.
type Pages[T any] struct {
	client  *Client
	next    string
	visited map[string]bool
}

// Next returns the items of the next page, or nil, nil once the last
// page has been read. A Link header that points back at a page already
// read is an error rather than an endless walk.
func (pages *Pages[T]) Next(ctx context.Context) ([]T, error) {
	if pages.next == "" {
		return nil, nil
	}
	if pages.visited[pages.next] {
		return nil, fmt.Errorf("github: pagination loops back to %s", pages.next)
	}
	if pages.visited == nil {
		pages.visited = make(map[string]bool)
	}
	pages.visited[pages.next] = true

	response, err := pages.client.doRaw(ctx, http.MethodGet, pages.next, nil)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, parseAPIError(response)
	}

	// A non-nil empty slice tells an empty page apart from the end.
	items := []T{}
	if err := json.NewDecoder(response.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("github: decoding page: %w", err)
	}
	pages.next = nextLink(response.Header.Get("Link"))
	return items, nil
}

// All reads every remaining page and concatenates the items. On error
// the items read so far are returned with it.
func (pages *Pages[T]) All(ctx context.Context) ([]T, error) {
	var all []T
	for {
		items, err := pages.Next(ctx)
		if err != nil || items == nil {
			return all, err
		}
		all = append(all, items...)
	}
}

// nextLink returns the target of the rel="next" link in a Link header,
// or "" on the last page. A link may carry several space-separated
// relation types.
//
//	<https://api.github.com/repositories/1/issues/42/comments?page=2>; rel="next", <...>; rel="last"
func nextLink(header string) string {
	for link := range strings.SplitSeq(header, ",") {
		target, params, ok := strings.Cut(strings.TrimSpace(link), ";")
		if !ok {
			continue
		}
		target = strings.TrimSpace(target)
		if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
			continue
		}
		for param := range strings.SplitSeq(params, ";") {
			name, value, _ := strings.Cut(strings.TrimSpace(param), "=")
			if !strings.EqualFold(strings.TrimSpace(name), "rel") {
				continue
			}
			for relation := range strings.FieldsSeq(strings.Trim(strings.TrimSpace(value), `"`)) {
				if strings.EqualFold(relation, "next") {
					return target[1 : len(target)-1]
				}
			}
		}
	}
	return ""
}

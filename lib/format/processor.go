// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package format

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/bureau-foundation/ghbridge/lib/github"
	"github.com/bureau-foundation/ghbridge/lib/schema"
)

// Processor converts comment content in both directions. It is safe for
// concurrent use.
type Processor struct {
	// mediaURL is the public base URL for mxc:// downloads, without a
	// trailing slash.
	mediaURL string
	markdown goldmark.Markdown
}

// NewProcessor returns a Processor. mediaURL is the public base URL of
// the homeserver's media repository; empty leaves mxc:// URIs as-is.
func NewProcessor(mediaURL string) *Processor {
	return &Processor{
		mediaURL: strings.TrimRight(mediaURL, "/"),
		// GitHub renders comment newlines as line breaks.
		markdown: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		),
	}
}

// RenderMarkdown renders GitHub-flavoured Markdown to HTML. Raw HTML in
// the source is omitted.
func (p *Processor) RenderMarkdown(source string) (string, error) {
	var buffer bytes.Buffer
	if err := p.markdown.Convert([]byte(source), &buffer); err != nil {
		return "", fmt.Errorf("rendering markdown: %w", err)
	}
	return buffer.String(), nil
}

// CommentContent returns the m.room.message content mirroring a GitHub
// comment. The comment ID rides along under
// uk.half-shot.matrix-github.comment so the message can be traced back.
func (p *Processor) CommentContent(comment *github.Comment) (map[string]any, error) {
	formatted, err := p.RenderMarkdown(comment.Body)
	if err != nil {
		return nil, fmt.Errorf("comment %d: %w", comment.ID, err)
	}
	return map[string]any{
		"msgtype":        schema.MsgTypeText,
		"body":           comment.Body,
		"format":         schema.FormatHTML,
		"formatted_body": formatted,
		"external_url":   comment.HTMLURL,
		schema.CommentContentKey: map[string]any{
			"id": comment.ID,
		},
	}, nil
}

// IssueBodyContent returns the m.room.message content mirroring an
// issue's description. The plain body carries the last update time.
func (p *Processor) IssueBodyContent(issue *github.Issue) (map[string]any, error) {
	formatted, err := p.RenderMarkdown(issue.Body)
	if err != nil {
		return nil, fmt.Errorf("issue #%d body: %w", issue.Number, err)
	}
	return map[string]any{
		"msgtype":        schema.MsgTypeText,
		"body":           fmt.Sprintf("%s (%s)", issue.Body, formatTime(issue.UpdatedAt)),
		"format":         schema.FormatHTML,
		"formatted_body": formatted,
		"external_url":   issue.HTMLURL,
	}, nil
}

// NoticeContent returns plain m.notice content, optionally linking to
// externalURL.
func NoticeContent(body, externalURL string) map[string]any {
	content := map[string]any{
		"msgtype": schema.MsgTypeNotice,
		"body":    body,
	}
	if externalURL != "" {
		content["external_url"] = externalURL
	}
	return content
}

// CommentBody converts Matrix message content into a GitHub comment
// body. Text messages use their Markdown body with any reply fallback
// removed; media messages become a link to the uploaded file.
func (p *Processor) CommentBody(content map[string]any) string {
	msgtype, _ := content["msgtype"].(string)
	body, _ := content["body"].(string)

	switch msgtype {
	case "m.image", "m.file", "m.video", "m.audio":
		contentURI, _ := content["url"].(string)
		link := p.mediaLink(contentURI)
		if link == "" {
			return body
		}
		if msgtype == "m.image" {
			return fmt.Sprintf("![%s](%s)", body, link)
		}
		return fmt.Sprintf("[%s](%s)", body, link)
	case "m.emote":
		return "*" + body + "*"
	}

	if isReply(content) {
		body = stripReplyFallback(body)
	}
	return body
}

// mediaLink converts an mxc://server/id URI to a download URL.
func (p *Processor) mediaLink(contentURI string) string {
	rest, ok := strings.CutPrefix(contentURI, "mxc://")
	if !ok || rest == "" {
		return ""
	}
	if p.mediaURL == "" {
		return contentURI
	}
	return p.mediaURL + "/_matrix/media/v3/download/" + rest
}

func isReply(content map[string]any) bool {
	relatesTo, _ := content["m.relates_to"].(map[string]any)
	_, ok := relatesTo["m.in_reply_to"]
	return ok
}

// stripReplyFallback drops the leading "> " quote lines clients prepend
// to replies, and the blank line after them.
func stripReplyFallback(body string) string {
	lines := strings.Split(body, "\n")
	index := 0
	for index < len(lines) && strings.HasPrefix(lines[index], ">") {
		index++
	}
	if index == 0 {
		return body
	}
	if index < len(lines) && lines[index] == "" {
		index++
	}
	return strings.Join(lines[index:], "\n")
}

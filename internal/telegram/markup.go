// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package telegram

import (
	"fmt"
	"strings"

	"redditwatch/internal/feed"
)

// escaper escapes every character that is special in Telegram MarkdownV2.
// https://core.telegram.org/bots/api#markdownv2-style
var escaper = strings.NewReplacer(
	`\`, `\\`,
	"_", `\_`,
	"*", `\*`,
	"[", `\[`,
	"]", `\]`,
	"(", `\(`,
	")", `\)`,
	"~", `\~`,
	"`", "\\`",
	">", `\>`,
	"#", `\#`,
	"+", `\+`,
	"-", `\-`,
	"=", `\=`,
	"|", `\|`,
	"{", `\{`,
	"}", `\}`,
	".", `\.`,
	"!", `\!`,
)

// Escape returns text with all MarkdownV2 special characters escaped.
func Escape(text string) string { return escaper.Replace(text) }

// Renderer formats poll results as MarkdownV2 messages.
type Renderer struct{}

func (Renderer) Post(item feed.Item, feedKey string) string {
	title := item.Title
	if title == "" {
		title = item.Link
	}
	author := item.Author
	if author == "" {
		author = "unknown"
	}
	author = strings.TrimPrefix(author, "u/")
	return fmt.Sprintf("*New post in r/%s*\n*%s*\nPosted by u/%s\n%s",
		Escape(feedKey), Escape(title), Escape(author), Escape(item.Link))
}

func (Renderer) Summary(hidden int, feedKey string) string {
	return fmt.Sprintf(`_%d more posts not shown\. Visit r/%s to see all\._`, hidden, Escape(feedKey))
}

func (Renderer) Dropped(feedKey string) string {
	return fmt.Sprintf(`Stopped checking r/%s after repeated errors\. Subscribe again to resume\.`, Escape(feedKey))
}

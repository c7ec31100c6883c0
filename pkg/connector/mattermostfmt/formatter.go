// Copyright 2024-2026 Aiku AI

// Package mattermostfmt converts Piazza post HTML to Mattermost markdown.
package mattermostfmt

import (
	"html"
	"regexp"
	"strconv"
	"strings"
)

var (
	strongRe     = regexp.MustCompile(`(?s)<(?:strong|b)(?:\s[^>]*)?>(.*?)</(?:strong|b)>`)
	emRe         = regexp.MustCompile(`(?s)<(?:em|i)(?:\s[^>]*)?>(.*?)</(?:em|i)>`)
	delRe        = regexp.MustCompile(`(?s)<(?:del|s|strike)(?:\s[^>]*)?>(.*?)</(?:del|s|strike)>`)
	codeRe       = regexp.MustCompile(`(?s)<code(?:\s[^>]*)?>(.*?)</code>`)
	preRe        = regexp.MustCompile(`(?s)<pre(?:\s[^>]*)?>(?:<code(?:\s[^>]*)?>)?(.*?)(?:</code>)?</pre>`)
	linkRe       = regexp.MustCompile(`(?s)<a\s[^>]*href="([^"]+)"[^>]*>(.*?)</a>`)
	brRe         = regexp.MustCompile(`<br\s*/?>`)
	blockquoteRe = regexp.MustCompile(`(?s)<blockquote(?:\s[^>]*)?>(.*?)</blockquote>`)
	headingRe    = regexp.MustCompile(`(?s)<h([1-6])(?:\s[^>]*)?>(.*?)</h[1-6]>`)
	ulRe         = regexp.MustCompile(`(?s)<ul(?:\s[^>]*)?>(.*?)</ul>`)
	olRe         = regexp.MustCompile(`(?s)<ol(?:\s[^>]*)?>(.*?)</ol>`)
	liRe         = regexp.MustCompile(`(?s)<li(?:\s[^>]*)?>(.*?)</li>`)
	pRe          = regexp.MustCompile(`(?s)<p(?:\s[^>]*)?>(.*?)</p>`)
	tagRe        = regexp.MustCompile(`<[^>]+>`)
	blankLinesRe = regexp.MustCompile(`\n{3,}`)
)

// FromHTML converts the HTML body of a Piazza post to Mattermost markdown.
// Unknown tags are dropped and entities are decoded.
func FromHTML(text string) string {
	if text == "" {
		return ""
	}
	if !strings.ContainsRune(text, '<') {
		return strings.TrimSpace(html.UnescapeString(text))
	}

	// Code blocks first (preserve content inside).
	text = preRe.ReplaceAllString(text, "```\n$1\n```")
	text = codeRe.ReplaceAllString(text, "`$1`")

	text = strongRe.ReplaceAllString(text, "**$1**")
	text = emRe.ReplaceAllString(text, "_${1}_")
	text = delRe.ReplaceAllString(text, "~~$1~~")

	text = linkRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := linkRe.FindStringSubmatch(match)
		href, label := parts[1], tagRe.ReplaceAllString(parts[2], "")
		lower := strings.ToLower(strings.TrimSpace(href))
		if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "mailto:") {
			return "[" + label + "](" + href + ")"
		}
		return label
	})

	text = headingRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := headingRe.FindStringSubmatch(match)
		level, _ := strconv.Atoi(parts[1])
		return "\n" + strings.Repeat("#", level) + " " + strings.TrimSpace(parts[2]) + "\n"
	})

	text = blockquoteRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := blockquoteRe.FindStringSubmatch(match)
		inner := pRe.ReplaceAllString(parts[1], "$1\n")
		lines := strings.Split(strings.TrimSpace(inner), "\n")
		for i, line := range lines {
			lines[i] = "> " + strings.TrimSpace(line)
		}
		return "\n" + strings.Join(lines, "\n") + "\n"
	})

	text = ulRe.ReplaceAllStringFunc(text, func(match string) string {
		items := liRe.FindAllStringSubmatch(match, -1)
		result := make([]string, 0, len(items))
		for _, item := range items {
			result = append(result, "- "+strings.TrimSpace(item[1]))
		}
		return "\n" + strings.Join(result, "\n") + "\n"
	})

	text = olRe.ReplaceAllStringFunc(text, func(match string) string {
		items := liRe.FindAllStringSubmatch(match, -1)
		result := make([]string, 0, len(items))
		for i, item := range items {
			result = append(result, strconv.Itoa(i+1)+". "+strings.TrimSpace(item[1]))
		}
		return "\n" + strings.Join(result, "\n") + "\n"
	})

	text = pRe.ReplaceAllString(text, "$1\n\n")
	text = brRe.ReplaceAllString(text, "\n")

	// Strip remaining HTML tags.
	text = tagRe.ReplaceAllString(text, "")
	text = html.UnescapeString(text)

	text = blankLinesRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

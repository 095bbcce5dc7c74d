package notify

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// shortenHTML cuts html text to the size limit and closes the tags left open,
// so a long entry doesn't flood the notification message
func shortenHTML(htmlText string, limit int) string {
	const suffix = "..."

	var kept []string // tokens accepted so far
	keptLen := 0
	var open []string // closing tags for everything currently open, most recent first
	openLen := 0

	finish := func(extra string) string {
		return strings.Join(kept, "") + extra + suffix + strings.Join(open, "")
	}

	tokenizer := html.NewTokenizer(strings.NewReader(htmlText))
	for {
		if tokenizer.Next() == html.ErrorToken {
			return strings.Join(kept, "") // the whole text fits
		}
		token := tokenizer.Token()

		switch token.Type {
		case html.CommentToken, html.DoctypeToken:
			continue // tokens without content

		case html.StartTagToken:
			// a start tag costs the tag itself plus its future closing pair
			if keptLen+len(token.Data)*2+5+openLen+len(suffix) > limit {
				return finish("")
			}
			closing := fmt.Sprintf("</%s>", token.Data)
			open = append([]string{closing}, open...)
			openLen += len(closing)

		case html.EndTagToken:
			if len(open) > 0 {
				openLen -= len(open[0])
				open = open[1:]
			}

		case html.TextToken, html.SelfClosingTagToken:
			if keptLen+len(token.String())+openLen+len(suffix) > limit {
				return finish(cutToWord(token.String(), limit-keptLen-openLen-len(suffix)))
			}
		}

		kept = append(kept, token.String())
		keptLen += len(token.String())
	}
}

// cutToWord cuts text to at most limit characters respecting word boundaries
func cutToWord(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	res := ""
	for _, word := range strings.Split(text, " ") {
		if len(res)+len(word) >= limit {
			break
		}
		res += word + " "
	}
	return strings.TrimRight(res, " ")
}

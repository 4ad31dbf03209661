package source

import (
	"io"
	"net/url"
	"strings"

	"github.com/samber/lo"
	"golang.org/x/net/html"
)

// ParseListing extracts record identifiers from an HTML directory listing.
// Every anchor href whose path starts with prefix contributes the remainder,
// trimmed of slashes; other links and empty remainders are skipped.
// Identifiers are returned once each, in first-seen order.
func ParseListing(body io.Reader, prefix string) ([]string, error) {
	tokenizer := html.NewTokenizer(body)
	var ids []string
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			if tokenizer.Err() == io.EOF {
				return lo.Uniq(ids), nil
			}
			return nil, tokenizer.Err()

		case html.StartTagToken, html.SelfClosingTagToken:
			token := tokenizer.Token()
			if token.Data != "a" {
				continue
			}
			for _, attr := range token.Attr {
				if attr.Key != "href" {
					continue
				}
				if id := idFromHref(attr.Val, prefix); id != "" {
					ids = append(ids, id)
				}
			}
		}
	}
}

func idFromHref(href, prefix string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	if u, err := url.Parse(href); err == nil && u.Path != "" {
		href = u.Path
	}
	if !strings.HasPrefix(href, prefix) {
		return ""
	}
	id := strings.Trim(strings.TrimPrefix(href, prefix), "/")
	if strings.Contains(id, "/") {
		return ""
	}
	return id
}

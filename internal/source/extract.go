package source

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
)

// HTMLExtractor reads the first element matching Selector and joins the
// text of its first TitleSelector and BodySelector children.
type HTMLExtractor struct {
	Selector      string
	TitleSelector string
	BodySelector  string
	Separator     string
}

func (e HTMLExtractor) Extract(raw []byte) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return "", false
	}
	node := doc.Find(e.Selector).First()
	if node.Length() == 0 {
		return "", false
	}
	title := node.Find(e.TitleSelector).First().Text()
	body := node.Find(e.BodySelector).First().Text()
	text := join(e.Separator, title, body)
	return text, text != ""
}

// FeedExtractor reads the first item of an RSS, Atom or JSON feed.
type FeedExtractor struct {
	Separator string
}

func (e FeedExtractor) Extract(raw []byte) (string, bool) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(raw))
	if err != nil || len(feed.Items) == 0 || feed.Items[0] == nil {
		return "", false
	}
	item := feed.Items[0]
	body := item.Description
	if body == "" {
		body = item.Content
	}
	text := join(e.Separator, item.Title, htmlText(body))
	return text, text != ""
}

// htmlText strips markup from feed descriptions.
func htmlText(s string) string {
	if !strings.ContainsRune(s, '<') {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	return doc.Text()
}

// Package scraper renders a page in headless Chromium and extracts its
// readable text plus a screenshot.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"
	"github.com/go-shiori/go-readability"
)

const (
	DefaultContentSelector = ".mw-parser-output"
	DefaultTimeout         = 60 * time.Second
	DefaultUserAgent       = "spinloop/1.0 (+https://github.com/mohammad-safakhou/spinloop)"
)

// ErrNoContent is returned when neither the selector nor readability
// yields any text.
var ErrNoContent = errors.New("no readable content")

// Source tells which extractor produced Page.Text.
type Source string

const (
	SourceSelector    Source = "selector"
	SourceReadability Source = "readability"
)

type Page struct {
	URL        string
	Title      string
	Text       string
	Screenshot []byte
	Source     Source
	RenderMS   int
}

type Options struct {
	Timeout         time.Duration
	ContentSelector string
	// MaxChars truncates Text to that many characters when > 0.
	MaxChars   int
	UserAgent  string
	Screenshot bool
	// Permit, when set, vetoes URLs before any browser work starts.
	Permit func(rawURL string) error
	Logger *log.Logger
}

// renderFunc loads url and returns its outer HTML and, when requested, a PNG.
type renderFunc func(ctx context.Context, url string, screenshot bool) (string, []byte, error)

type Fetcher struct {
	opts   Options
	render renderFunc
	logger *log.Logger
}

func New(opts Options) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.ContentSelector == "" {
		opts.ContentSelector = DefaultContentSelector
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[SCRAPER] ", log.LstdFlags)
	}
	f := &Fetcher{opts: opts, logger: logger}
	f.render = f.chromeRender
	return f
}

// Fetch renders rawURL and extracts its text. The configured selector is
// tried first; readability takes over when it matches nothing.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	if strings.TrimSpace(rawURL) == "" {
		return Page{}, errors.New("invalid url")
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return Page{}, fmt.Errorf("invalid url %q", rawURL)
	}
	if f.opts.Permit != nil {
		if err := f.opts.Permit(rawURL); err != nil {
			return Page{}, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()
	t0 := time.Now()

	f.logger.Printf("scraping %s", rawURL)
	html, shot, err := f.render(ctx, rawURL, f.opts.Screenshot)
	if err != nil {
		return Page{}, fmt.Errorf("render %s: %w", rawURL, err)
	}
	page := Page{URL: rawURL, Screenshot: shot, RenderMS: int(time.Since(t0) / time.Millisecond)}

	text, err := ExtractText(html, f.opts.ContentSelector)
	if err != nil {
		return Page{}, err
	}
	page.Title = extractTitle(html)
	page.Source = SourceSelector
	if text == "" {
		article, rerr := readability.FromReader(strings.NewReader(html), u)
		if rerr != nil {
			return Page{}, fmt.Errorf("%w: %v", ErrNoContent, rerr)
		}
		text = strings.TrimSpace(article.TextContent)
		if t := strings.TrimSpace(article.Title); t != "" {
			page.Title = t
		}
		page.Source = SourceReadability
	}
	if text == "" {
		return Page{}, ErrNoContent
	}
	page.Text = truncate(text, f.opts.MaxChars)
	f.logger.Printf("scraped %s: %d chars via %s in %dms", rawURL, len(page.Text), page.Source, page.RenderMS)
	return page, nil
}

func (f *Fetcher) chromeRender(ctx context.Context, rawURL string, screenshot bool) (string, []byte, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.UserAgent(f.opts.UserAgent),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var (
		html string
		shot []byte
	)
	actions := []chromedp.Action{
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if screenshot {
		actions = append(actions, chromedp.CaptureScreenshot(&shot))
	}
	actions = append(actions, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	if err := chromedp.Run(bctx, actions...); err != nil {
		return "", nil, err
	}
	return html, shot, nil
}

var blockTags = map[string]bool{
	"p": true, "div": true, "li": true, "ul": true, "ol": true, "table": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"blockquote": true, "pre": true, "dd": true, "dt": true, "figcaption": true, "section": true,
}

// noise is removed before text extraction.
const noise = "script, style, noscript, .mw-editsection, sup.reference, .reference, .navbox, .mw-empty-elt"

// ExtractText returns the visible text of the first element matching
// selector, one block per line. It returns "" when nothing matches.
func ExtractText(html, selector string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	sel := doc.Find(selector).First()
	if sel.Length() == 0 {
		return "", nil
	}
	sel.Find(noise).Remove()

	var sb strings.Builder
	var walk func(s *goquery.Selection)
	walk = func(s *goquery.Selection) {
		s.Contents().Each(func(_ int, c *goquery.Selection) {
			if goquery.NodeName(c) == "#text" {
				sb.WriteString(c.Text())
				return
			}
			name := goquery.NodeName(c)
			if name == "br" {
				sb.WriteByte('\n')
				return
			}
			block := blockTags[name]
			if block {
				sb.WriteByte('\n')
			}
			walk(c)
			if block {
				sb.WriteByte('\n')
			}
		})
	}
	walk(sel)
	return normalizeLines(sb.String()), nil
}

func extractTitle(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	if h := strings.TrimSpace(doc.Find("h1").First().Text()); h != "" {
		return h
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

// normalizeLines collapses runs of spaces within lines and drops blank lines.
func normalizeLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// truncate cuts s to at most max characters. Invalid UTF-8 is replaced
// first so it never swallows the text around it.
func truncate(s string, max int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}

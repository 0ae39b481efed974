package pipeline

import (
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/sitescope/scanner/internal/scan"
)

// anchorsScript collects absolute anchor targets from the rendered DOM.
const anchorsScript = `Array.from(document.querySelectorAll('a[href]'))
  .map(a => a.href)
  .filter(h => typeof h === 'string' && h.length > 0)
  .slice(0, 500)`

const documentHTMLScript = `document.documentElement.outerHTML`

// extractLinks returns crawlable same-origin links from the rendered page,
// canonicalized and deduplicated. When script evaluation fails it falls back
// to parsing the document HTML directly.
func extractLinks(ctx context.Context, page scan.Page, pageURL string) ([]string, error) {
	base, err := scan.CanonicalURL(pageURL)
	if err != nil {
		return nil, err
	}

	var hrefs []string
	if err := page.Evaluate(ctx, anchorsScript, &hrefs); err != nil {
		hrefs, err = linksFromHTML(ctx, page, pageURL)
		if err != nil {
			return nil, err
		}
	}
	return filterLinks(base, hrefs), nil
}

// linksFromHTML is the degraded path: pull the document and resolve hrefs
// against the page URL without script support.
func linksFromHTML(ctx context.Context, page scan.Page, pageURL string) ([]string, error) {
	var html string
	if err := page.Evaluate(ctx, documentHTMLScript, &html); err != nil {
		return nil, err
	}
	baseURL, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	var hrefs []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href := strings.TrimSpace(sel.AttrOr("href", ""))
		if href == "" {
			return
		}
		resolved, err := baseURL.Parse(href)
		if err != nil {
			return
		}
		hrefs = append(hrefs, resolved.String())
	})
	return hrefs, nil
}

func filterLinks(base string, hrefs []string) []string {
	seen := make(map[string]struct{})
	var links []string
	for _, href := range hrefs {
		if len(links) >= maxDiscoveredLinks {
			break
		}
		canonical, err := scan.CanonicalURL(href)
		if err != nil || canonical == base {
			continue
		}
		if !scan.SameOrigin(base, canonical) || !scan.Crawlable(canonical) {
			continue
		}
		if _, dup := seen[canonical]; dup {
			continue
		}
		seen[canonical] = struct{}{}
		links = append(links, canonical)
	}
	return links
}

package rules

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/sitescope/scanner/internal/scan"
)

// outerHTMLScript extracts the rendered document for the static backend.
const outerHTMLScript = `document.documentElement.outerHTML`

// staticCheck is one first-party structural rule.
type staticCheck struct {
	id     string
	impact string
	help   string
	tags   []string
	run    func(doc *goquery.Document, scope scan.RuleScope) (violations, incomplete []scan.RuleNode)
}

// StaticRunner evaluates a first-party set of structural accessibility checks
// against the rendered DOM. It needs only the document HTML, so it keeps
// working when script injection into the page is unavailable.
type StaticRunner struct {
	checks []staticCheck
}

// NewStaticRunner builds the runner with the built-in check set.
func NewStaticRunner() *StaticRunner {
	return &StaticRunner{checks: staticChecks()}
}

// Run implements scan.RuleRunner. It pulls the rendered HTML out of the page
// and evaluates every check whose tags intersect the active set.
func (s *StaticRunner) Run(ctx context.Context, page scan.Page, scope scan.RuleScope, tags []string) (scan.RuleOutput, error) {
	var html string
	if err := page.Evaluate(ctx, outerHTMLScript, &html); err != nil {
		return scan.RuleOutput{}, fmt.Errorf("extract document html: %w", err)
	}
	return s.RunHTML(ctx, html, scope, tags)
}

// RunHTML evaluates the checks against raw HTML. Static analysis cannot
// compute bounding boxes, so every node carries a nil BBox.
func (s *StaticRunner) RunHTML(ctx context.Context, html string, scope scan.RuleScope, tags []string) (scan.RuleOutput, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return scan.RuleOutput{}, fmt.Errorf("parse document: %w", err)
	}

	active := tagSet(tags)
	var out scan.RuleOutput
	for _, check := range s.checks {
		if err := ctx.Err(); err != nil {
			return scan.RuleOutput{}, err
		}
		if !anyTagMatches(check.tags, active) {
			continue
		}
		violations, incomplete := check.run(doc, scope)
		if len(violations) > 0 {
			out.Violations = append(out.Violations, scan.RawRule{
				ID:     check.id,
				Impact: check.impact,
				Help:   check.help,
				Nodes:  violations,
			})
		}
		if len(incomplete) > 0 {
			out.Incomplete = append(out.Incomplete, scan.RawRule{
				ID:     check.id,
				Impact: check.impact,
				Help:   check.help,
				Nodes:  incomplete,
			})
		}
	}
	return out, nil
}

func staticChecks() []staticCheck {
	return []staticCheck{
		{
			id:     "html-has-lang",
			impact: "serious",
			help:   "The document must declare a lang attribute on the html element",
			tags:   []string{"wcag2a"},
			run:    checkHTMLLang,
		},
		{
			id:     "image-alt",
			impact: "critical",
			help:   "Images must have an alt attribute",
			tags:   []string{"wcag2a"},
			run:    checkImageAlt,
		},
		{
			id:     "label",
			impact: "critical",
			help:   "Form controls must have an associated label",
			tags:   []string{"wcag2a"},
			run:    checkFormLabels,
		},
		{
			id:     "link-name",
			impact: "serious",
			help:   "Links and buttons must have discernible text",
			tags:   []string{"wcag2a"},
			run:    checkAccessibleNames,
		},
		{
			id:     "duplicate-id",
			impact: "minor",
			help:   "id attribute values must be unique",
			tags:   []string{"best-practice"},
			run:    checkDuplicateIDs,
		},
		{
			id:     "heading-order",
			impact: "moderate",
			help:   "Heading levels should only increase by one",
			tags:   []string{"best-practice"},
			run:    checkHeadingOrder,
		},
		{
			id:     "tabindex",
			impact: "serious",
			help:   "Elements should not use tabindex greater than zero",
			tags:   []string{"best-practice"},
			run:    checkPositiveTabindex,
		},
		{
			id:     "video-caption",
			impact: "critical",
			help:   "Video elements must have a captions track",
			tags:   []string{"wcag2a"},
			run:    checkVideoCaptions,
		},
	}
}

func checkHTMLLang(doc *goquery.Document, _ scan.RuleScope) ([]scan.RuleNode, []scan.RuleNode) {
	html := doc.Find("html").First()
	if html.Length() == 0 {
		return nil, nil
	}
	lang := strings.TrimSpace(html.AttrOr("lang", ""))
	if lang != "" {
		return nil, nil
	}
	return []scan.RuleNode{{
		Target:         []string{"html"},
		HTML:           "<html>",
		FailureSummary: "The html element has no lang attribute",
	}}, nil
}

func checkImageAlt(doc *goquery.Document, scope scan.RuleScope) ([]scan.RuleNode, []scan.RuleNode) {
	var violations []scan.RuleNode
	doc.Find("img").Each(func(_ int, sel *goquery.Selection) {
		if !inScope(sel, scope) {
			return
		}
		if _, ok := sel.Attr("alt"); ok {
			return
		}
		if sel.AttrOr("role", "") == "presentation" || sel.AttrOr("aria-hidden", "") == "true" {
			return
		}
		violations = append(violations, nodeFor(sel, "Image has no alt attribute"))
	})
	return violations, nil
}

func checkFormLabels(doc *goquery.Document, scope scan.RuleScope) ([]scan.RuleNode, []scan.RuleNode) {
	var violations, incomplete []scan.RuleNode
	doc.Find("input, select, textarea").Each(func(_ int, sel *goquery.Selection) {
		if !inScope(sel, scope) {
			return
		}
		switch sel.AttrOr("type", "") {
		case "hidden", "submit", "button", "reset", "image":
			return
		}
		if strings.TrimSpace(sel.AttrOr("aria-label", "")) != "" || strings.TrimSpace(sel.AttrOr("title", "")) != "" {
			return
		}
		if ref := strings.TrimSpace(sel.AttrOr("aria-labelledby", "")); ref != "" {
			// A reference to a missing id cannot be judged statically in
			// documents assembled by script; park it for review.
			if !idExists(doc, ref) {
				incomplete = append(incomplete, nodeFor(sel, "aria-labelledby references a missing element id"))
			}
			return
		}
		if id := sel.AttrOr("id", ""); id != "" {
			if doc.Find("label[for=" + strconv.Quote(id) + "]").Length() > 0 {
				return
			}
		}
		if sel.Closest("label").Length() > 0 {
			return
		}
		violations = append(violations, nodeFor(sel, "Form control has no associated label"))
	})
	return violations, incomplete
}

func checkAccessibleNames(doc *goquery.Document, scope scan.RuleScope) ([]scan.RuleNode, []scan.RuleNode) {
	var violations []scan.RuleNode
	doc.Find("a[href], button").Each(func(_ int, sel *goquery.Selection) {
		if !inScope(sel, scope) {
			return
		}
		if strings.TrimSpace(sel.Text()) != "" {
			return
		}
		if strings.TrimSpace(sel.AttrOr("aria-label", "")) != "" || strings.TrimSpace(sel.AttrOr("title", "")) != "" {
			return
		}
		if strings.TrimSpace(sel.AttrOr("aria-labelledby", "")) != "" {
			return
		}
		if sel.Find("img[alt]").FilterFunction(func(_ int, img *goquery.Selection) bool {
			return strings.TrimSpace(img.AttrOr("alt", "")) != ""
		}).Length() > 0 {
			return
		}
		violations = append(violations, nodeFor(sel, "Element has no discernible text"))
	})
	return violations, nil
}

func checkDuplicateIDs(doc *goquery.Document, scope scan.RuleScope) ([]scan.RuleNode, []scan.RuleNode) {
	first := make(map[string]*goquery.Selection)
	var violations []scan.RuleNode
	flagged := make(map[string]bool)
	doc.Find("[id]").Each(func(_ int, sel *goquery.Selection) {
		id := sel.AttrOr("id", "")
		if id == "" {
			return
		}
		prev, seen := first[id]
		if !seen {
			first[id] = sel
			return
		}
		if !inScope(sel, scope) {
			return
		}
		if !flagged[id] {
			flagged[id] = true
			violations = append(violations, nodeFor(prev, fmt.Sprintf("Document contains multiple elements with id %q", id)))
		}
		violations = append(violations, nodeFor(sel, fmt.Sprintf("Document contains multiple elements with id %q", id)))
	})
	return violations, nil
}

func checkHeadingOrder(doc *goquery.Document, scope scan.RuleScope) ([]scan.RuleNode, []scan.RuleNode) {
	var violations []scan.RuleNode
	prev := 0
	doc.Find("h1, h2, h3, h4, h5, h6").Each(func(_ int, sel *goquery.Selection) {
		level := int(goquery.NodeName(sel)[1] - '0')
		if prev != 0 && level > prev+1 && inScope(sel, scope) {
			violations = append(violations, nodeFor(sel,
				fmt.Sprintf("Heading level skips from h%d to h%d", prev, level)))
		}
		prev = level
	})
	return violations, nil
}

func checkPositiveTabindex(doc *goquery.Document, scope scan.RuleScope) ([]scan.RuleNode, []scan.RuleNode) {
	var violations []scan.RuleNode
	doc.Find("[tabindex]").Each(func(_ int, sel *goquery.Selection) {
		if !inScope(sel, scope) {
			return
		}
		v, err := strconv.Atoi(strings.TrimSpace(sel.AttrOr("tabindex", "")))
		if err != nil || v <= 0 {
			return
		}
		violations = append(violations, nodeFor(sel, fmt.Sprintf("Element has tabindex=%d", v)))
	})
	return violations, nil
}

func checkVideoCaptions(doc *goquery.Document, scope scan.RuleScope) ([]scan.RuleNode, []scan.RuleNode) {
	var violations []scan.RuleNode
	doc.Find("video").Each(func(_ int, sel *goquery.Selection) {
		if !inScope(sel, scope) {
			return
		}
		if sel.Find("track[kind='captions'], track[kind='subtitles']").Length() > 0 {
			return
		}
		violations = append(violations, nodeFor(sel, "Video has no captions track"))
	})
	return violations, nil
}

func idExists(doc *goquery.Document, refs string) bool {
	for _, id := range strings.Fields(refs) {
		if doc.Find("[id=" + strconv.Quote(id) + "]").Length() > 0 {
			return true
		}
	}
	return false
}

// inScope applies the include/exclude selectors to one candidate node. An
// empty include list means the whole document is in scope.
func inScope(sel *goquery.Selection, scope scan.RuleScope) bool {
	for _, ex := range scope.Exclude {
		if sel.Closest(ex).Length() > 0 {
			return false
		}
	}
	if len(scope.Include) == 0 {
		return true
	}
	for _, in := range scope.Include {
		if sel.Is(in) || sel.Closest(in).Length() > 0 {
			return true
		}
	}
	return false
}

func nodeFor(sel *goquery.Selection, summary string) scan.RuleNode {
	html, err := goquery.OuterHtml(sel)
	if err != nil {
		html = ""
	}
	return scan.RuleNode{
		Target:         []string{cssPath(sel)},
		HTML:           strings.TrimSpace(html),
		FailureSummary: summary,
	}
}

// cssPath builds a stable selector for the node: the nearest id anchors the
// path, otherwise tag:nth-of-type segments up to the document root.
func cssPath(sel *goquery.Selection) string {
	var segments []string
	for cur := sel; cur.Length() > 0; cur = cur.Parent() {
		name := goquery.NodeName(cur)
		if name == "" || strings.HasPrefix(name, "#") {
			break
		}
		if id := cur.AttrOr("id", ""); id != "" {
			segments = append(segments, "#"+id)
			break
		}
		segment := name
		if name != "html" && name != "body" {
			if n := positionAmongType(cur, name); n > 1 || siblingTypeCount(cur, name) > 1 {
				segment = fmt.Sprintf("%s:nth-of-type(%d)", name, n)
			}
		}
		segments = append(segments, segment)
		if name == "html" {
			break
		}
	}
	for i, j := 0, len(segments)-1; i < j; i, j = i+1, j-1 {
		segments[i], segments[j] = segments[j], segments[i]
	}
	return strings.Join(segments, " > ")
}

func positionAmongType(sel *goquery.Selection, name string) int {
	n := 1
	for prev := sel.Prev(); prev.Length() > 0; prev = prev.Prev() {
		if goquery.NodeName(prev) == name {
			n++
		}
	}
	return n
}

func siblingTypeCount(sel *goquery.Selection, name string) int {
	return sel.Parent().ChildrenFiltered(name).Length()
}

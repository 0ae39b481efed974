package scan

import (
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"
)

// Tracking query parameters stripped during canonicalization. Matching is
// case-insensitive; the utm_ prefix matches as a family.
var trackingParams = map[string]struct{}{
	"gclid":      {},
	"fbclid":     {},
	"msclkid":    {},
	"mc_cid":     {},
	"mc_eid":     {},
	"igshid":     {},
	"ref":        {},
	"referrer":   {},
	"session_id": {},
	"sessionid":  {},
	"phpsessid":  {},
}

// File extensions never worth rendering; discarded at discovery time.
var skipExtensions = map[string]struct{}{
	".pdf": {}, ".zip": {}, ".gz": {}, ".tar": {}, ".rar": {}, ".7z": {},
	".doc": {}, ".docx": {}, ".xls": {}, ".xlsx": {}, ".ppt": {}, ".pptx": {},
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".webp": {}, ".svg": {}, ".ico": {},
	".mp3": {}, ".mp4": {}, ".avi": {}, ".mov": {}, ".webm": {},
	".css": {}, ".js": {}, ".json": {}, ".xml": {}, ".rss": {},
	".exe": {}, ".dmg": {}, ".apk": {},
}

// Path fragments for pages that mutate state or require a session; crawling
// them wastes budget and can log the scanner out of the site.
var skipPathFragments = []string{
	"logout", "log-out", "signout", "sign-out",
	"cart", "checkout", "basket",
	"account", "login", "log-in", "signin", "sign-in", "register",
	"unsubscribe", "delete",
}

// CanonicalURL normalizes a URL so mechanically-different spellings of the
// same resource collapse to one crawl target: lowercased scheme/host, default
// ports and fragments removed, tracking parameters stripped, remaining query
// sorted, trailing slash trimmed. Canonicalization is idempotent.
func CanonicalURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""
	u.User = nil

	u.RawQuery = canonicalQuery(u.Query())

	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}
	if u.Path == "" {
		u.Path = "/"
	}

	return u.String(), nil
}

func canonicalQuery(values url.Values) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		if isTrackingParam(k) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		vs := append([]string(nil), values[k]...)
		sort.Strings(vs)
		for _, v := range vs {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			if v != "" {
				b.WriteByte('=')
				b.WriteString(url.QueryEscape(v))
			}
		}
	}
	return b.String()
}

func isTrackingParam(key string) bool {
	k := strings.ToLower(key)
	if strings.HasPrefix(k, "utm_") {
		return true
	}
	_, ok := trackingParams[k]
	return ok
}

// SameOrigin reports whether candidate shares scheme and host with base.
func SameOrigin(base, candidate string) bool {
	b, err := url.Parse(base)
	if err != nil {
		return false
	}
	c, err := url.Parse(candidate)
	if err != nil {
		return false
	}
	return strings.EqualFold(b.Scheme, c.Scheme) && strings.EqualFold(b.Host, c.Host)
}

// Crawlable reports whether a discovered link is worth enqueueing: it must
// not match the extension skip-list or a sensitive path fragment. The check
// runs at discovery time so doomed links never consume a fetch.
func Crawlable(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if _, skip := skipExtensions[ext]; skip {
		return false
	}
	lowPath := strings.ToLower(u.Path)
	for _, frag := range skipPathFragments {
		for _, seg := range strings.Split(lowPath, "/") {
			if seg == frag {
				return false
			}
		}
	}
	return true
}

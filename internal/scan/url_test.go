package scan

import "testing"

func TestCanonicalURLCollapsesDuplicates(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		a    string
		b    string
	}{
		{
			name: "tracking params stripped",
			a:    "https://example.com/page?utm_source=x&utm_medium=y",
			b:    "https://example.com/page",
		},
		{
			name: "tracking param order and case",
			a:    "https://example.com/p?UTM_Source=a&utm_campaign=b&id=1",
			b:    "https://example.com/p?utm_campaign=b&id=1&UTM_Source=a",
		},
		{
			name: "query order",
			a:    "https://example.com/p?b=2&a=1",
			b:    "https://example.com/p?a=1&b=2",
		},
		{
			name: "trailing slash",
			a:    "https://example.com/about/",
			b:    "https://example.com/about",
		},
		{
			name: "fragment and default port",
			a:    "https://example.com:443/x#section",
			b:    "https://example.com/x",
		},
		{
			name: "host case",
			a:    "https://EXAMPLE.com/x",
			b:    "https://example.com/x",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ca, err := CanonicalURL(tc.a)
			if err != nil {
				t.Fatalf("CanonicalURL(%q) error = %v", tc.a, err)
			}
			cb, err := CanonicalURL(tc.b)
			if err != nil {
				t.Fatalf("CanonicalURL(%q) error = %v", tc.b, err)
			}
			if ca != cb {
				t.Fatalf("expected %q and %q to collapse, got %q vs %q", tc.a, tc.b, ca, cb)
			}
		})
	}
}

func TestCanonicalURLIdempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"https://example.com",
		"https://example.com/path/?b=2&a=1&utm_source=mail",
		"http://Example.COM:80/deep/path#frag",
	}
	for _, raw := range inputs {
		once, err := CanonicalURL(raw)
		if err != nil {
			t.Fatalf("CanonicalURL(%q) error = %v", raw, err)
		}
		twice, err := CanonicalURL(once)
		if err != nil {
			t.Fatalf("CanonicalURL(%q) error = %v", once, err)
		}
		if once != twice {
			t.Fatalf("canonicalization not idempotent: %q -> %q -> %q", raw, once, twice)
		}
	}
}

func TestCanonicalURLRejectsBadInput(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"ftp://example.com/x", "javascript:alert(1)", "not a url", ""} {
		if _, err := CanonicalURL(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestCrawlableSkipLists(t *testing.T) {
	t.Parallel()

	blocked := []string{
		"https://example.com/report.pdf",
		"https://example.com/assets/app.js",
		"https://example.com/cart",
		"https://example.com/user/logout",
		"https://example.com/checkout/step-1",
		"https://example.com/account/settings",
	}
	for _, u := range blocked {
		if Crawlable(u) {
			t.Fatalf("expected %q to be skipped", u)
		}
	}

	allowed := []string{
		"https://example.com/",
		"https://example.com/blog/cartography", // fragment must match a whole segment
		"https://example.com/products?page=2",
	}
	for _, u := range allowed {
		if !Crawlable(u) {
			t.Fatalf("expected %q to be crawlable", u)
		}
	}
}

func TestSameOrigin(t *testing.T) {
	t.Parallel()

	if !SameOrigin("https://example.com/a", "https://example.com/b?x=1") {
		t.Fatal("expected same origin")
	}
	if SameOrigin("https://example.com", "https://sub.example.com/") {
		t.Fatal("expected different origin for subdomain")
	}
	if SameOrigin("https://example.com", "http://example.com") {
		t.Fatal("expected different origin for scheme change")
	}
}

func TestRequestNormalize(t *testing.T) {
	t.Parallel()

	req := Request{StartURL: "https://Example.com/home/?utm_source=x", Mode: ModeCrawl, MaxPages: 50}
	if err := req.Normalize(); err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if req.StartURL != "https://example.com/home" {
		t.Fatalf("unexpected canonical start url %q", req.StartURL)
	}
	if req.MaxPages != MaxPagesLimit {
		t.Fatalf("expected max pages clamped to %d, got %d", MaxPagesLimit, req.MaxPages)
	}
	if req.Profile != DefaultProfile || req.Strategy != StrategyMobile {
		t.Fatalf("expected defaults applied, got %+v", req)
	}

	single := Request{StartURL: "https://example.com", MaxPages: 7}
	if err := single.Normalize(); err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if single.Mode != ModeSingle || single.MaxPages != 1 {
		t.Fatalf("single mode must force one page, got %+v", single)
	}

	bad := Request{StartURL: "ftp://example.com"}
	if err := bad.Normalize(); err == nil {
		t.Fatal("expected invalid scheme to be rejected")
	}
}

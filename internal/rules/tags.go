// Package rules maps ruleset profiles onto rule tags and normalizes raw rule
// engine output into canonical issues.
package rules

import "github.com/sitescope/scanner/internal/scan"

// Options selects the active rule set for a scan.
type Options struct {
	Profile      scan.Profile
	BestPractice bool
	Experimental bool
}

// Tag sets are fixed per profile; the profile enum is closed so this switch
// is exhaustive and no string matching happens per page.
var profileTags = map[scan.Profile][]string{
	scan.ProfileWCAG2A:     {"wcag2a"},
	scan.ProfileWCAG2AA:    {"wcag2a", "wcag2aa"},
	scan.ProfileWCAG21AA:   {"wcag2a", "wcag2aa", "wcag21a", "wcag21aa"},
	scan.ProfileWCAG22AA:   {"wcag2a", "wcag2aa", "wcag21a", "wcag21aa", "wcag22aa"},
	scan.ProfileSection508: {"section508"},
}

// Tags returns the active tag set for the options. The result is a fresh
// slice; callers may append to it.
func (o Options) Tags() []string {
	base := profileTags[o.Profile]
	if base == nil {
		base = profileTags[scan.DefaultProfile]
	}
	tags := append([]string(nil), base...)
	if o.BestPractice {
		tags = append(tags, "best-practice")
	}
	if o.Experimental {
		tags = append(tags, "experimental")
	}
	return tags
}

func tagSet(tags []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		set[t] = struct{}{}
	}
	return set
}

func anyTagMatches(ruleTags []string, active map[string]struct{}) bool {
	for _, t := range ruleTags {
		if _, ok := active[t]; ok {
			return true
		}
	}
	return false
}

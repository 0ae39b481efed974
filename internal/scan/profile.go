package scan

import "fmt"

// Profile is a named bundle of accessibility rule tags. It is a closed enum:
// unknown values are rejected at request validation time so no runtime
// string dispatch happens inside the pipeline.
type Profile string

// Supported ruleset profiles.
const (
	ProfileWCAG2A     Profile = "wcag2a"
	ProfileWCAG2AA    Profile = "wcag2aa"
	ProfileWCAG21AA   Profile = "wcag21aa"
	ProfileWCAG22AA   Profile = "wcag22aa"
	ProfileSection508 Profile = "section508"
)

// DefaultProfile is applied when a request omits the ruleset profile.
const DefaultProfile = ProfileWCAG22AA

// Valid reports whether p is a known profile.
func (p Profile) Valid() bool {
	switch p {
	case ProfileWCAG2A, ProfileWCAG2AA, ProfileWCAG21AA, ProfileWCAG22AA, ProfileSection508:
		return true
	default:
		return false
	}
}

// ParseProfile validates a raw profile string, defaulting when empty.
func ParseProfile(raw string) (Profile, error) {
	if raw == "" {
		return DefaultProfile, nil
	}
	p := Profile(raw)
	if !p.Valid() {
		return "", fmt.Errorf("unknown ruleset profile %q", raw)
	}
	return p, nil
}

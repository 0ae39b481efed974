package rules

import (
	"reflect"
	"testing"

	"github.com/sitescope/scanner/internal/scan"
)

func TestTagsPerProfile(t *testing.T) {
	t.Parallel()

	cases := []struct {
		profile scan.Profile
		want    []string
	}{
		{scan.ProfileWCAG2A, []string{"wcag2a"}},
		{scan.ProfileWCAG2AA, []string{"wcag2a", "wcag2aa"}},
		{scan.ProfileWCAG21AA, []string{"wcag2a", "wcag2aa", "wcag21a", "wcag21aa"}},
		{scan.ProfileWCAG22AA, []string{"wcag2a", "wcag2aa", "wcag21a", "wcag21aa", "wcag22aa"}},
		{scan.ProfileSection508, []string{"section508"}},
	}
	for _, tc := range cases {
		got := Options{Profile: tc.profile}.Tags()
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("%s: got %v, want %v", tc.profile, got, tc.want)
		}
	}
}

func TestTagsOptionalSets(t *testing.T) {
	t.Parallel()

	got := Options{Profile: scan.ProfileWCAG2A, BestPractice: true, Experimental: true}.Tags()
	want := []string{"wcag2a", "best-practice", "experimental"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestTagsUnknownProfileFallsBack(t *testing.T) {
	t.Parallel()

	got := Options{Profile: scan.Profile("bogus")}.Tags()
	want := Options{Profile: scan.DefaultProfile}.Tags()
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unknown profile must use the default set, got %v", got)
	}
}

func TestTagsReturnsFreshSlice(t *testing.T) {
	t.Parallel()

	first := Options{Profile: scan.ProfileWCAG2A}.Tags()
	first[0] = "mutated"
	second := Options{Profile: scan.ProfileWCAG2A}.Tags()
	if second[0] != "wcag2a" {
		t.Fatal("Tags must not share backing arrays across calls")
	}
}

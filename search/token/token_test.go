package token

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"   ", nil},
		{"Hetchins", []string{"hetchins"}},
		{"Cinéllì Supercorsa", []string{"cinelli", "supercorsa"}},
		{"Rene's frame", []string{"renes", "frame"}},
		{"Rene’s", []string{"renes"}},
		{"'quoted'", []string{"quoted"}},
		{"top-tube, 531 (Reynolds)", []string{"top", "tube", "531", "reynolds"}},
		{"ﬁxed", []string{"fixed"}},
		{"jane@example.com", []string{"jane", "example", "com"}},
		{"!!! ---", nil},
		{"ÇA VA", []string{"ca", "va"}},
	}
	for _, test := range tests {
		got := Tokenize(test.in)
		if diff := cmp.Diff(test.want, got); diff != "" {
			t.Errorf("Tokenize(%q) mismatch (-want +got):\n%s", test.in, diff)
		}
	}
}

func TestTokenizeTruncates(t *testing.T) {
	long := strings.Repeat("a", 100)
	got := Tokenize(long + " b")
	if len(got) != 2 {
		t.Fatalf("Tokenize gave %d tokens, want 2", len(got))
	}
	if len(got[0]) != MaxLen {
		t.Errorf("len(token)=%d, want %d", len(got[0]), MaxLen)
	}
}

func TestTerms(t *testing.T) {
	got := Terms("the frame and the fork and THE bars")
	want := []string{"the", "frame", "and", "fork", "bars"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Terms mismatch (-want +got):\n%s", diff)
	}
	if got, want := Normalize("  Top-Tube  "), "top tube"; got != want {
		t.Errorf("Normalize=%q, want %q", got, want)
	}
}

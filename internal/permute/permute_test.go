package permute

import (
	"strings"
	"testing"

	"github.com/benithors/twistscan/internal/domain"
)

func TestGeneratePermutations_Basics(t *testing.T) {
	t.Parallel()

	out := GeneratePermutations("example.com")
	if len(out) == 0 {
		t.Fatal("no candidates generated")
	}

	seen := map[string]struct{}{}
	kinds := map[string]int{}
	for _, c := range out {
		if _, dup := seen[c.FQDN]; dup {
			t.Fatalf("duplicate fqdn %q", c.FQDN)
		}
		seen[c.FQDN] = struct{}{}
		kinds[c.Kind]++

		if c.TLD == "" {
			t.Fatalf("candidate %q has empty tld", c.FQDN)
		}
		if !strings.HasSuffix(c.FQDN, "."+c.TLD) {
			t.Fatalf("fqdn %q does not end in tld %q", c.FQDN, c.TLD)
		}
		for _, part := range strings.Split(strings.TrimSuffix(c.FQDN, "."+c.TLD), ".") {
			if !domain.IsValidLabel(part) {
				t.Fatalf("invalid label %q in %q", part, c.FQDN)
			}
		}
	}

	for _, kind := range []string{
		KindAddition, KindBitsquatting, KindHomoglyph, KindHyphenation,
		KindInsertion, KindKeyword, KindOmission, KindRepetition,
		KindReplacement, KindSubdomain, KindTld, KindTransposition,
		KindVowelSwap,
	} {
		if kinds[kind] == 0 {
			t.Errorf("strategy %s produced no candidates", kind)
		}
	}
}

func TestGeneratePermutations_KnownVariants(t *testing.T) {
	t.Parallel()

	out := GeneratePermutations("example.com")
	want := map[string]bool{
		"exmple.com":        false, // omission
		"eexample.com":      false, // repetition
		"example.net":       false, // tld swap
		"ex-ample.com":      false, // hyphenation
		"exampel.com":       false, // transposition
		"example1.com":      false, // addition
		"exampl3.com":       false, // homoglyph e->3
		"example-login.com": false,
	}
	for _, c := range out {
		if _, ok := want[c.FQDN]; ok {
			want[c.FQDN] = true
		}
	}
	for fqdn, found := range want {
		if !found {
			t.Errorf("expected variant %q not generated", fqdn)
		}
	}
}

func TestGeneratePermutations_InvalidInput(t *testing.T) {
	t.Parallel()

	if out := GeneratePermutations(""); out != nil {
		t.Fatalf("expected nil for empty input, got %d candidates", len(out))
	}
	if out := GeneratePermutations("no-dots"); out != nil {
		t.Fatalf("expected nil for single label, got %d candidates", len(out))
	}
}

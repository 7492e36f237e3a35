// Package permute generates typo and visual-confusion variants of a target
// domain. Each variant carries the strategy that produced it, so downstream
// reporting can say why a candidate is interesting.
package permute

import (
	"sort"
	"strings"

	"github.com/benithors/twistscan/internal/domain"
)

// Candidate is one generated variant of the target domain.
type Candidate struct {
	Kind string `json:"kind"`
	FQDN string `json:"fqdn"`
	TLD  string `json:"tld"`
}

// Permutation strategy names. These are stable tags, not display strings.
const (
	KindAddition      = "Addition"
	KindBitsquatting  = "Bitsquatting"
	KindHomoglyph     = "Homoglyph"
	KindHyphenation   = "Hyphenation"
	KindInsertion     = "Insertion"
	KindKeyword       = "Keyword"
	KindOmission      = "Omission"
	KindRepetition    = "Repetition"
	KindReplacement   = "Replacement"
	KindSubdomain     = "Subdomain"
	KindTld           = "Tld"
	KindTransposition = "Transposition"
	KindVowelSwap     = "VowelSwap"
)

var homoglyphs = map[rune][]rune{
	'a': {'4'},
	'b': {'d', '6'},
	'd': {'b'},
	'e': {'3'},
	'g': {'q', '9'},
	'i': {'1', 'l'},
	'l': {'1', 'i'},
	'm': {'n'},
	'n': {'m', 'r'},
	'o': {'0'},
	'q': {'g'},
	's': {'5'},
	't': {'7'},
	'u': {'v'},
	'v': {'u'},
	'w': {'v'},
	'z': {'2'},
	'0': {'o'},
	'1': {'l', 'i'},
	'5': {'s'},
}

var vowels = "aeiou"

// keyboardAdjacent maps each key to its QWERTY neighbours, used by the
// Insertion and Replacement strategies.
var keyboardAdjacent = map[byte]string{
	'q': "wa", 'w': "qes", 'e': "wrd", 'r': "etf", 't': "ryg", 'y': "tuh",
	'u': "yij", 'i': "uok", 'o': "ipl", 'p': "ol",
	'a': "qsz", 's': "awdx", 'd': "sefc", 'f': "drgv", 'g': "fthb",
	'h': "gyjn", 'j': "hukm", 'k': "jil", 'l': "kop",
	'z': "asx", 'x': "zsdc", 'c': "xdfv", 'v': "cfgb", 'b': "vghn",
	'n': "bhjm", 'm': "njk",
	'1': "2q", '2': "13w", '3': "24e", '4': "35r", '5': "46t",
	'6': "57y", '7': "68u", '8': "79i", '9': "80o", '0': "9p",
}

// swapTLDs are the alternate registries tried by the Tld strategy.
var swapTLDs = []string{
	"com", "net", "org", "info", "biz", "io", "co", "us", "uk", "de",
	"app", "dev", "xyz", "online", "site", "shop", "top", "club", "me",
}

// keywords are appended or prepended to the label by the Keyword strategy;
// they mirror the phrasing squatters use for credential-harvesting pages.
var keywords = []string{
	"login", "secure", "account", "support", "verify", "mail", "portal",
	"my", "online", "auth", "help", "service", "payment", "update",
}

// GeneratePermutations produces the finite candidate set for a target domain.
// The target is normalized first; a target that does not normalize yields an
// empty list. Output is deduplicated by FQDN and contains only well-formed
// names with a known TLD. The target itself may appear in the output; the
// scan coordinator filters it.
func GeneratePermutations(target string) []Candidate {
	ascii, err := domain.Normalize(target)
	if err != nil {
		return nil
	}

	label, tld := domain.Split(ascii)
	if label == "" || tld == "" {
		return nil
	}

	seen := map[string]Candidate{}
	add := func(kind, lbl, t string) {
		for _, part := range strings.Split(lbl, ".") {
			if !domain.IsValidLabel(part) {
				return
			}
		}
		fqdn := lbl + "." + t
		if len(fqdn) > 253 {
			return
		}
		if _, ok := seen[fqdn]; ok {
			return
		}
		seen[fqdn] = Candidate{Kind: kind, FQDN: fqdn, TLD: t}
	}

	addition(label, tld, add)
	bitsquatting(label, tld, add)
	homoglyph(label, tld, add)
	hyphenation(label, tld, add)
	insertion(label, tld, add)
	keyword(label, tld, add)
	omission(label, tld, add)
	repetition(label, tld, add)
	replacement(label, tld, add)
	subdomainSplit(label, tld, add)
	tldSwap(label, tld, add)
	transposition(label, tld, add)
	vowelSwap(label, tld, add)

	out := make([]Candidate, 0, len(seen))
	for _, c := range seen {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FQDN < out[j].FQDN })
	return out
}

type addFunc func(kind, label, tld string)

func addition(label, tld string, add addFunc) {
	for c := byte('a'); c <= 'z'; c++ {
		add(KindAddition, label+string(c), tld)
	}
	for c := byte('0'); c <= '9'; c++ {
		add(KindAddition, label+string(c), tld)
	}
}

// bitsquatting flips each bit of each byte, keeping results that stay inside
// the LDH alphabet. Catches typos caused by hardware bit errors and some
// confusable glyph renderings.
func bitsquatting(label, tld string, add addFunc) {
	for i := 0; i < len(label); i++ {
		for bit := uint(0); bit < 8; bit++ {
			b := label[i] ^ (1 << bit)
			if (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9') || b == '-' {
				add(KindBitsquatting, label[:i]+string(b)+label[i+1:], tld)
			}
		}
	}
}

func homoglyph(label, tld string, add addFunc) {
	for i, r := range label {
		for _, g := range homoglyphs[r] {
			add(KindHomoglyph, label[:i]+string(g)+label[i+len(string(r)):], tld)
		}
	}
}

func hyphenation(label, tld string, add addFunc) {
	for i := 1; i < len(label); i++ {
		add(KindHyphenation, label[:i]+"-"+label[i:], tld)
	}
}

func insertion(label, tld string, add addFunc) {
	for i := 0; i < len(label); i++ {
		for j := 0; j < len(keyboardAdjacent[label[i]]); j++ {
			n := keyboardAdjacent[label[i]][j]
			add(KindInsertion, label[:i]+string(n)+label[i:], tld)
			add(KindInsertion, label[:i+1]+string(n)+label[i+1:], tld)
		}
	}
}

func keyword(label, tld string, add addFunc) {
	for _, kw := range keywords {
		add(KindKeyword, label+"-"+kw, tld)
		add(KindKeyword, kw+"-"+label, tld)
		add(KindKeyword, label+kw, tld)
	}
}

func omission(label, tld string, add addFunc) {
	for i := 0; i < len(label); i++ {
		add(KindOmission, label[:i]+label[i+1:], tld)
	}
}

func repetition(label, tld string, add addFunc) {
	for i := 0; i < len(label); i++ {
		add(KindRepetition, label[:i+1]+string(label[i])+label[i+1:], tld)
	}
}

func replacement(label, tld string, add addFunc) {
	for i := 0; i < len(label); i++ {
		for j := 0; j < len(keyboardAdjacent[label[i]]); j++ {
			n := keyboardAdjacent[label[i]][j]
			add(KindReplacement, label[:i]+string(n)+label[i+1:], tld)
		}
	}
}

// subdomainSplit turns "example" into "ex.ample" style names, which read as a
// subdomain of a shorter registered name.
func subdomainSplit(label, tld string, add addFunc) {
	for i := 1; i < len(label)-1; i++ {
		if label[i] == '-' || label[i-1] == '-' {
			continue
		}
		add(KindSubdomain, label[:i]+"."+label[i:], tld)
	}
}

func tldSwap(label, tld string, add addFunc) {
	for _, t := range swapTLDs {
		if t == tld {
			continue
		}
		add(KindTld, label, t)
	}
}

func transposition(label, tld string, add addFunc) {
	for i := 0; i < len(label)-1; i++ {
		if label[i] == label[i+1] {
			continue
		}
		add(KindTransposition, label[:i]+string(label[i+1])+string(label[i])+label[i+2:], tld)
	}
}

func vowelSwap(label, tld string, add addFunc) {
	for i := 0; i < len(label); i++ {
		if !strings.ContainsRune(vowels, rune(label[i])) {
			continue
		}
		for _, v := range vowels {
			if byte(v) == label[i] {
				continue
			}
			add(KindVowelSwap, label[:i]+string(v)+label[i+1:], tld)
		}
	}
}

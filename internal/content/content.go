// Package content fetches candidate pages and scores how closely they mimic
// the target's page: shingle-set Jaccard similarity, length ratio, and HTML
// structure overlap, folded into a 0-100 composite.
package content

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rivo/uniseg"
)

const (
	shingleSize  = 5
	maxRedirects = 5
	maxBodySize  = 4 << 20

	// A fixed desktop UA: squatted pages often serve bot-detection pages to
	// default Go user agents.
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
)

// Fingerprint is the pre-computed representation of one page, built once for
// the scan target and shared read-only across probes.
type Fingerprint struct {
	Domain   string
	Content  string
	Shingles map[string]struct{}
	Length   int
	Tags     map[string]int
}

// Details carries the per-factor breakdown of a comparison.
type Details struct {
	Jaccard     float64 `json:"jaccard"`
	LengthRatio float64 `json:"length_ratio"`
	Structure   float64 `json:"structure"`
	Error       string  `json:"error,omitempty"`
}

// Score is the comparison outcome. Value is always within [0,100].
type Score struct {
	Value   int     `json:"score"`
	Details Details `json:"details"`
}

// Options configures a Client.
type Options struct {
	Timeout time.Duration
	// HTTPClient overrides the fetch client; used by tests.
	HTTPClient *http.Client
}

// Client fetches pages and builds fingerprints.
type Client struct {
	http *http.Client
}

// New returns a Client. TLS verification is off: squatted domains routinely
// carry self-signed or mismatched certificates and we still want the body.
func New(opts Options) *Client {
	if opts.HTTPClient != nil {
		return &Client{http: opts.HTTPClient}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &Client{http: &http.Client{
		Timeout: opts.Timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}}
}

// Fetch retrieves the page body for a domain, preferring HTTPS and falling
// back to plain HTTP. Only 2xx responses count as success.
func (c *Client) Fetch(ctx context.Context, domain string) (string, error) {
	var lastErr error
	for _, scheme := range []string{"https", "http"} {
		body, err := c.fetchOne(ctx, scheme+"://"+domain)
		if err == nil {
			return body, nil
		}
		lastErr = err
	}
	return "", lastErr
}

func (c *Client) fetchOne(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("http %d", resp.StatusCode)
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// FetchTarget builds the target fingerprint used as the comparison baseline.
func (c *Client) FetchTarget(ctx context.Context, domain string) (*Fingerprint, error) {
	body, err := c.Fetch(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("fetch target %s: %w", domain, err)
	}
	return NewFingerprint(domain, body), nil
}

// NewFingerprint normalizes raw HTML and derives the shingle set and tag
// counts for later comparisons.
func NewFingerprint(domain, html string) *Fingerprint {
	normalized := Normalize(html)
	return &Fingerprint{
		Domain:   domain,
		Content:  normalized,
		Shingles: Shingles(normalized),
		Length:   len(normalized),
		Tags:     tagCounts(html),
	}
}

// Compare fetches the candidate page and scores it against the target
// fingerprint. Fetch failures yield a zero score tagged fetch_failed, never
// an error.
func (c *Client) Compare(ctx context.Context, domain string, target *Fingerprint) Score {
	body, err := c.Fetch(ctx, domain)
	if err != nil {
		return Score{Value: 0, Details: Details{Error: "fetch_failed"}}
	}
	return Similarity(target, NewFingerprint(domain, body))
}

var (
	scriptRe  = regexp.MustCompile(`(?is)<script.*?</script>`)
	styleRe   = regexp.MustCompile(`(?is)<style.*?</style>`)
	commentRe = regexp.MustCompile(`(?s)<!--.*?-->`)
	noiseAttr = regexp.MustCompile(`(?i)\s+(?:id|class|style|onclick|onload|data-[a-z0-9_-]*)\s*=\s*(?:"[^"]*"|'[^']*'|[^\s>]+)`)
	urlAttr   = regexp.MustCompile(`(?i)(href|src|action)\s*=\s*(?:"[^"]*"|'[^']*'|[^\s>]+)`)
	wsRe      = regexp.MustCompile(`\s+`)
)

// Normalize strips the volatile parts of an HTML document (scripts, styles,
// comments, identifiers, URLs) so two renderings of the same template
// normalize to the same string.
func Normalize(html string) string {
	s := strings.ToLower(html)
	s = scriptRe.ReplaceAllString(s, "")
	s = styleRe.ReplaceAllString(s, "")
	s = commentRe.ReplaceAllString(s, "")
	s = noiseAttr.ReplaceAllString(s, "")
	s = urlAttr.ReplaceAllString(s, `$1=""`)
	s = wsRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Shingles slides a window of 5 grapheme clusters over s, step 1, dropping
// the incomplete trailing window.
func Shingles(s string) map[string]struct{} {
	var clusters []string
	g := uniseg.NewGraphemes(s)
	for g.Next() {
		clusters = append(clusters, g.Str())
	}

	out := make(map[string]struct{})
	for i := 0; i+shingleSize <= len(clusters); i++ {
		out[strings.Join(clusters[i:i+shingleSize], "")] = struct{}{}
	}
	return out
}

var tagRe = regexp.MustCompile(`<([a-z][a-z0-9]*)`)

// tagCounts counts literal "<tag" occurrences per tag name. The count is
// textual on purpose: an HTML parser injects implied html/head/body elements
// into every document, which would hand any two pages three matching tags
// and inflate the structure score.
func tagCounts(html string) map[string]int {
	counts := make(map[string]int)
	for _, m := range tagRe.FindAllStringSubmatch(strings.ToLower(html), -1) {
		counts[m[1]]++
	}
	return counts
}

// Similarity folds the three factors into the composite score:
// 0.6·jaccard + 0.2·length_ratio + 0.2·structure, rounded.
func Similarity(target, candidate *Fingerprint) Score {
	j := jaccard(target.Shingles, candidate.Shingles)
	lr := lengthRatio(target.Length, candidate.Length)
	st := structure(target.Tags, candidate.Tags)

	composite := 0.6*j + 0.2*lr + 0.2*st
	return Score{
		Value: int(composite + 0.5),
		Details: Details{
			Jaccard:     j,
			LengthRatio: lr,
			Structure:   st,
		},
	}
}

func jaccard(a, b map[string]struct{}) float64 {
	inter := 0
	for s := range a {
		if _, ok := b[s]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union) * 100
}

func lengthRatio(a, b int) float64 {
	if a == 0 || b == 0 {
		return 0
	}
	if a > b {
		a, b = b, a
	}
	return float64(a) / float64(b) * 100
}

func structure(a, b map[string]int) float64 {
	tags := make(map[string]struct{}, len(a)+len(b))
	for t := range a {
		tags[t] = struct{}{}
	}
	for t := range b {
		tags[t] = struct{}{}
	}
	if len(tags) == 0 {
		return 100
	}

	var sum float64
	for t := range tags {
		ca, cb := a[t], b[t]
		if ca == 0 && cb == 0 {
			sum += 1
			continue
		}
		lo, hi := ca, cb
		if lo > hi {
			lo, hi = hi, lo
		}
		sum += float64(lo) / float64(hi)
	}
	return sum / float64(len(tags)) * 100
}

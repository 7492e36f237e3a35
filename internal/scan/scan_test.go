package scan

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benithors/twistscan/internal/content"
	"github.com/benithors/twistscan/internal/dnsprobe"
	"github.com/benithors/twistscan/internal/httpprobe"
	"github.com/benithors/twistscan/internal/permute"
	"github.com/benithors/twistscan/internal/registry"
)

type fakeDNS struct {
	a        map[string][]string
	cname    map[string][]string
	mx       map[string][]dnsprobe.MX
	txt      map[string][]string
	ns       map[string][]string
	wildcard map[string]bool
	delay    map[string]time.Duration
}

func (f *fakeDNS) Resolve(ctx context.Context, fqdn, tld string) (dnsprobe.Resolution, error) {
	if d := f.delay[fqdn]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return dnsprobe.Resolution{}, ctx.Err()
		}
	}
	ips := f.a[fqdn]
	if len(ips) == 0 {
		return dnsprobe.Resolution{}, dnsprobe.ErrNoRecords
	}
	if cn := f.cname[fqdn]; len(cn) > 0 {
		if cn[0] == tld {
			return dnsprobe.Resolution{}, dnsprobe.ErrTLDFalsePositive
		}
		return dnsprobe.Resolution{IPs: ips, CNAME: cn[0]}, nil
	}
	return dnsprobe.Resolution{IPs: ips}, nil
}

func (f *fakeDNS) LookupMX(_ context.Context, name string) ([]dnsprobe.MX, error) {
	return f.mx[name], nil
}

func (f *fakeDNS) LookupTXT(_ context.Context, name string) ([]string, error) {
	return f.txt[name], nil
}

func (f *fakeDNS) LookupNS(_ context.Context, name string) ([]string, error) {
	return f.ns[name], nil
}

func (f *fakeDNS) LookupDMARC(_ context.Context, name string) map[string]string {
	return map[string]string{"error": "No DMARC record found"}
}

func (f *fakeDNS) DetectWildcard(_ context.Context, name string) bool {
	return f.wildcard[name]
}

type fakeHTTP struct {
	mu     sync.Mutex
	dialed []string
}

func (f *fakeHTTP) Fingerprint(_ context.Context, hostname string) httpprobe.Response {
	f.mu.Lock()
	f.dialed = append(f.dialed, hostname)
	f.mu.Unlock()
	return httpprobe.Response{
		Hostname:   hostname,
		Status:     httpprobe.StatusOK,
		StatusCode: "200",
		Server:     "nginx",
	}
}

type fakeRegistry struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeRegistry) Lookup(_ context.Context, domain string) (*registry.WhoisRecord, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return &registry.WhoisRecord{Domain: domain, Source: registry.SourceRDAP, Registered: true}, nil
}

type fakeContent struct {
	fetchErr error
	mu       sync.Mutex
	compared []string
}

func (f *fakeContent) FetchTarget(_ context.Context, domain string) (*content.Fingerprint, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return content.NewFingerprint(domain, "<html><body>hello world</body></html>"), nil
}

func (f *fakeContent) Compare(_ context.Context, domain string, _ *content.Fingerprint) content.Score {
	f.mu.Lock()
	f.compared = append(f.compared, domain)
	f.mu.Unlock()
	return content.Score{Value: 42}
}

func cand(kind, fqdn, tld string) permute.Candidate {
	return permute.Candidate{Kind: kind, FQDN: fqdn, TLD: tld}
}

func TestAnalyzeChunk_FiltersTargetAndPartitionsIPs(t *testing.T) {
	t.Parallel()

	dns := &fakeDNS{
		a: map[string][]string{
			"example.com":  {"93.184.216.34"},
			"examp1e.com":  {"10.0.0.5", "8.8.8.8"},
			"examplee.com": {"127.0.0.1"},
		},
	}
	http := &fakeHTTP{}
	s := NewScanner(Options{DNS: dns, HTTP: http, MaxConcurrency: 2})

	results, err := s.AnalyzeChunk(context.Background(), "example.com", []permute.Candidate{
		cand("Original", "example.com", "com"),
		cand("Homoglyph", "examp1e.com", "com"),
		cand("Repetition", "examplee.com", "com"),
	})
	if err != nil {
		t.Fatalf("AnalyzeChunk: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2 (target filtered)", len(results))
	}

	for _, r := range results {
		if r.FQDN == "example.com" {
			t.Fatal("target fqdn must not appear in results")
		}
		if !r.Resolvable {
			t.Fatalf("%s: expected resolvable", r.FQDN)
		}
		// Public and internal partition the address set.
		if len(r.PublicIPs)+len(r.InternalIPs) != len(r.IPAddresses) {
			t.Fatalf("%s: partition broken: pub=%v int=%v all=%v", r.FQDN, r.PublicIPs, r.InternalIPs, r.IPAddresses)
		}
		for _, p := range r.PublicIPs {
			for _, i := range r.InternalIPs {
				if p == i {
					t.Fatalf("%s: %q in both sets", r.FQDN, p)
				}
			}
		}
	}

	byFQDN := map[string]Result{}
	for _, r := range results {
		byFQDN[r.FQDN] = r
	}

	mixed := byFQDN["examp1e.com"]
	if len(mixed.PublicIPs) != 1 || mixed.PublicIPs[0] != "8.8.8.8" {
		t.Fatalf("public=%v", mixed.PublicIPs)
	}
	if len(mixed.InternalIPs) != 1 || mixed.InternalIPs[0] != "10.0.0.5" {
		t.Fatalf("internal=%v", mixed.InternalIPs)
	}
	if !contains(mixed.IPFlags, "private_10") {
		t.Fatalf("flags=%v", mixed.IPFlags)
	}
	if mixed.ServerResponse.Status != httpprobe.StatusOK {
		t.Fatalf("server_response=%+v", mixed.ServerResponse)
	}

	local := byFQDN["examplee.com"]
	if local.ServerResponse.Status != httpprobe.StatusSkipped || local.ServerResponse.Reason != "no public IPs" {
		t.Fatalf("server_response=%+v", local.ServerResponse)
	}
	if !contains(local.IPFlags, "localhost") {
		t.Fatalf("flags=%v", local.IPFlags)
	}
	for _, h := range http.dialed {
		if h == "examplee.com" {
			t.Fatal("prober dialed a candidate with no public IPs")
		}
	}
}

func TestAnalyzeChunk_CNAMEEqualsTLDDropped(t *testing.T) {
	t.Parallel()

	dns := &fakeDNS{
		a:     map[string][]string{"foo.bar": {"1.2.3.4"}},
		cname: map[string][]string{"foo.bar": {"bar"}},
	}
	s := NewScanner(Options{DNS: dns, HTTP: &fakeHTTP{}})

	results, err := s.AnalyzeChunk(context.Background(), "example.bar", []permute.Candidate{
		cand("Tld", "foo.bar", "bar"),
	})
	if err != nil {
		t.Fatalf("AnalyzeChunk: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("registry wildcard candidate must be dropped, got %v", results)
	}
}

func TestAnalyzeChunk_MXOnly(t *testing.T) {
	t.Parallel()

	dns := &fakeDNS{
		a: map[string][]string{
			"a.com": {"1.1.1.1"},
			"b.com": {"2.2.2.2"},
		},
		mx: map[string][]dnsprobe.MX{
			"b.com": {{Priority: 10, Server: "mail.b.com"}},
		},
	}
	s := NewScanner(Options{DNS: dns, HTTP: &fakeHTTP{}, MXOnly: true})

	results, err := s.AnalyzeChunk(context.Background(), "example.com", []permute.Candidate{
		cand("Tld", "a.com", "com"),
		cand("Tld", "b.com", "com"),
	})
	if err != nil {
		t.Fatalf("AnalyzeChunk: %v", err)
	}
	if len(results) != 1 || results[0].FQDN != "b.com" {
		t.Fatalf("results=%v", results)
	}
	if len(results[0].MXRecords) != 1 || results[0].MXRecords[0].Server != "mail.b.com" {
		t.Fatalf("mx=%v", results[0].MXRecords)
	}
}

func TestAnalyzeChunk_Ordered(t *testing.T) {
	t.Parallel()

	dns := &fakeDNS{
		a: map[string][]string{
			"a.com": {"1.1.1.1"},
			"b.com": {"2.2.2.2"},
			"c.com": {"3.3.3.3"},
		},
		// The first candidate finishes last.
		delay: map[string]time.Duration{"a.com": 80 * time.Millisecond},
	}
	s := NewScanner(Options{DNS: dns, HTTP: &fakeHTTP{}, Ordered: true, MaxConcurrency: 3})

	results, err := s.AnalyzeChunk(context.Background(), "example.com", []permute.Candidate{
		cand("Tld", "a.com", "com"),
		cand("Tld", "b.com", "com"),
		cand("Tld", "c.com", "com"),
	})
	if err != nil {
		t.Fatalf("AnalyzeChunk: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results", len(results))
	}
	for i, want := range []string{"a.com", "b.com", "c.com"} {
		if results[i].FQDN != want {
			t.Fatalf("results[%d]=%s, want %s", i, results[i].FQDN, want)
		}
	}
}

func TestAnalyzeChunk_TimeoutDropsProbe(t *testing.T) {
	t.Parallel()

	dns := &fakeDNS{
		a: map[string][]string{
			"slow.com": {"1.1.1.1"},
			"fast.com": {"2.2.2.2"},
		},
		delay: map[string]time.Duration{"slow.com": time.Second},
	}
	s := NewScanner(Options{DNS: dns, HTTP: &fakeHTTP{}, Timeout: 50 * time.Millisecond})

	results, err := s.AnalyzeChunk(context.Background(), "example.com", []permute.Candidate{
		cand("Tld", "slow.com", "com"),
		cand("Tld", "fast.com", "com"),
	})
	if err != nil {
		t.Fatalf("AnalyzeChunk: %v", err)
	}
	if len(results) != 1 || results[0].FQDN != "fast.com" {
		t.Fatalf("results=%v", results)
	}
}

func TestAnalyzeChunk_WhoisAndContentStages(t *testing.T) {
	t.Parallel()

	dns := &fakeDNS{
		a: map[string][]string{
			"pub.com":  {"9.9.9.9"},
			"priv.com": {"192.168.1.4"},
		},
		txt: map[string][]string{
			"pub.com": {"v=spf1 include:_spf.google.com -all"},
		},
		wildcard: map[string]bool{"pub.com": true},
	}
	reg := &fakeRegistry{}
	cnt := &fakeContent{}
	s := NewScanner(Options{
		DNS:         dns,
		HTTP:        &fakeHTTP{},
		Registry:    reg,
		Content:     cnt,
		Whois:       true,
		ContentHash: true,
	})

	results, err := s.AnalyzeChunk(context.Background(), "example.com", []permute.Candidate{
		cand("Tld", "pub.com", "com"),
		cand("Tld", "priv.com", "com"),
	})
	if err != nil {
		t.Fatalf("AnalyzeChunk: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results", len(results))
	}

	byFQDN := map[string]Result{}
	for _, r := range results {
		byFQDN[r.FQDN] = r
	}

	pub := byFQDN["pub.com"]
	if pub.Whois == nil || !pub.Whois.Registered {
		t.Fatalf("whois=%+v", pub.Whois)
	}
	if pub.ContentHash == nil || pub.ContentHash.Value != 42 {
		t.Fatalf("content_hash=%+v", pub.ContentHash)
	}
	if pub.SPFRecords == nil || pub.SPFRecords.LookupCount != 1 || pub.SPFRecords.AllMechanism != "-all" {
		t.Fatalf("spf=%+v", pub.SPFRecords)
	}
	if !pub.Wildcard {
		t.Fatal("expected wildcard")
	}
	if pub.DMARC["error"] != "No DMARC record found" {
		t.Fatalf("dmarc=%v", pub.DMARC)
	}

	// Content comparison never dials private space even when enabled.
	priv := byFQDN["priv.com"]
	if priv.ContentHash != nil {
		t.Fatalf("content_hash=%+v", priv.ContentHash)
	}
	if priv.SPFRecords != nil {
		t.Fatalf("spf=%+v", priv.SPFRecords)
	}
	for _, d := range cnt.compared {
		if d == "priv.com" {
			t.Fatal("compared a candidate with no public IPs")
		}
	}
	if reg.calls != 2 {
		t.Fatalf("registry calls=%d", reg.calls)
	}
}

func TestAnalyzeChunk_FingerprintFailureDisablesContent(t *testing.T) {
	t.Parallel()

	dns := &fakeDNS{a: map[string][]string{"pub.com": {"9.9.9.9"}}}
	cnt := &fakeContent{fetchErr: errors.New("target unreachable")}
	s := NewScanner(Options{DNS: dns, HTTP: &fakeHTTP{}, Content: cnt, ContentHash: true})

	results, err := s.AnalyzeChunk(context.Background(), "example.com", []permute.Candidate{
		cand("Tld", "pub.com", "com"),
	})
	if err != nil {
		t.Fatalf("AnalyzeChunk: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results", len(results))
	}
	if results[0].ContentHash != nil {
		t.Fatal("content stage should be disabled when the target fetch fails")
	}
	if len(cnt.compared) != 0 {
		t.Fatalf("compared=%v", cnt.compared)
	}
}

func TestAnalyzeChunk_OnResultHook(t *testing.T) {
	t.Parallel()

	dns := &fakeDNS{
		a: map[string][]string{
			"a.com": {"1.1.1.1"},
			"b.com": {"2.2.2.2"},
		},
	}
	var seen int
	s := NewScanner(Options{DNS: dns, HTTP: &fakeHTTP{}, OnResult: func(Result) { seen++ }})

	if _, err := s.AnalyzeChunk(context.Background(), "example.com", []permute.Candidate{
		cand("Tld", "a.com", "com"),
		cand("Tld", "b.com", "com"),
		cand("Tld", "dead.com", "com"),
	}); err != nil {
		t.Fatalf("AnalyzeChunk: %v", err)
	}
	if seen != 2 {
		t.Fatalf("hook fired %d times, want 2", seen)
	}
}

func TestAnalyzeDomain(t *testing.T) {
	t.Parallel()

	// "example.net" is a TLD-swap permutation of example.com.
	dns := &fakeDNS{
		a:  map[string][]string{"example.net": {"4.4.4.4"}},
		mx: map[string][]dnsprobe.MX{"example.net": {{Priority: 5, Server: "mx.example.net"}}},
	}
	s := NewScanner(Options{DNS: dns, HTTP: &fakeHTTP{}})

	results, err := s.AnalyzeDomain(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("AnalyzeDomain: %v", err)
	}
	if len(results) != 1 || results[0].FQDN != "example.net" {
		t.Fatalf("results=%v", results)
	}
	if results[0].Fuzzy.JaroWinkler <= 0 {
		t.Fatalf("fuzzy=%+v", results[0].Fuzzy)
	}

	live, err := s.LiveMXDomains(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("LiveMXDomains: %v", err)
	}
	if len(live) != 1 || len(live[0].MXRecords) != 1 {
		t.Fatalf("live=%v", live)
	}
}

func TestAnalyzeDomain_InvalidTarget(t *testing.T) {
	t.Parallel()

	s := NewScanner(Options{DNS: &fakeDNS{}, HTTP: &fakeHTTP{}})
	if _, err := s.AnalyzeDomain(context.Background(), "!!!"); err == nil {
		t.Fatal("expected error for invalid target")
	}
}

func TestAnalyzeChunk_Cancellation(t *testing.T) {
	t.Parallel()

	dns := &fakeDNS{
		a:     map[string][]string{"a.com": {"1.1.1.1"}},
		delay: map[string]time.Duration{"a.com": time.Second},
	}
	s := NewScanner(Options{DNS: dns, HTTP: &fakeHTTP{}})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := s.AnalyzeChunk(ctx, "example.com", []permute.Candidate{cand("Tld", "a.com", "com")})
	if err == nil {
		t.Fatal("expected context error")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("cancellation did not propagate promptly")
	}
}

func contains(xs []string, want string) bool {
	for _, x := range xs {
		if x == want {
			return true
		}
	}
	return false
}

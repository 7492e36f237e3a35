// Package scan orchestrates the probe pipeline: it fans a candidate list out
// over a bounded worker pool, runs the per-candidate stages in order, and
// folds every probe into one uniform result record. Probes are independent;
// one candidate timing out or failing never affects another.
package scan

import (
	"context"
	"runtime"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/benithors/twistscan/internal/content"
	"github.com/benithors/twistscan/internal/dnsprobe"
	"github.com/benithors/twistscan/internal/domain"
	"github.com/benithors/twistscan/internal/fuzzy"
	"github.com/benithors/twistscan/internal/httpprobe"
	"github.com/benithors/twistscan/internal/netclass"
	"github.com/benithors/twistscan/internal/permute"
	"github.com/benithors/twistscan/internal/registry"
	"github.com/benithors/twistscan/internal/spf"
)

// Result is the record emitted for every candidate whose resolution stage
// succeeded. Every field is always present in the JSON form; stages that
// found nothing leave their typed empty value behind, never a missing key.
type Result struct {
	Kind           string                `json:"kind"`
	FQDN           string                `json:"fqdn"`
	TLD            string                `json:"tld"`
	Resolvable     bool                  `json:"resolvable"`
	IPAddresses    []string              `json:"ip_addresses"`
	PublicIPs      []string              `json:"public_ips"`
	InternalIPs    []string              `json:"internal_ips"`
	IPFlags        []string              `json:"ip_flags"`
	MXRecords      []dnsprobe.MX         `json:"mx_records"`
	TXTRecords     []string              `json:"txt_records"`
	SPFRecords     *spf.Report           `json:"spf_records"`
	DMARC          map[string]string     `json:"dmarc"`
	Nameservers    []string              `json:"nameservers"`
	Wildcard       bool                  `json:"wildcard"`
	ServerResponse httpprobe.Response    `json:"server_response"`
	Whois          *registry.WhoisRecord `json:"whois"`
	ContentHash    *content.Score        `json:"content_hash"`
	Fuzzy          fuzzy.Scores          `json:"fuzzy"`
}

// DNSProber is the DNS dependency; satisfied by *dnsprobe.Prober.
type DNSProber interface {
	Resolve(ctx context.Context, fqdn, tld string) (dnsprobe.Resolution, error)
	LookupMX(ctx context.Context, name string) ([]dnsprobe.MX, error)
	LookupTXT(ctx context.Context, name string) ([]string, error)
	LookupNS(ctx context.Context, name string) ([]string, error)
	LookupDMARC(ctx context.Context, name string) map[string]string
	DetectWildcard(ctx context.Context, name string) bool
}

// HTTPProber is the HTTP fingerprint dependency; satisfied by
// *httpprobe.Prober.
type HTTPProber interface {
	Fingerprint(ctx context.Context, hostname string) httpprobe.Response
}

// RegistryClient is the WHOIS/RDAP dependency; satisfied by
// *registry.Client.
type RegistryClient interface {
	Lookup(ctx context.Context, domain string) (*registry.WhoisRecord, error)
}

// ContentClient is the page-similarity dependency; satisfied by
// *content.Client.
type ContentClient interface {
	FetchTarget(ctx context.Context, domain string) (*content.Fingerprint, error)
	Compare(ctx context.Context, domain string, target *content.Fingerprint) content.Score
}

// Options configures a Scanner. The zero value gives a production scanner
// with default probes and no logging.
type Options struct {
	// MaxConcurrency bounds the number of simultaneous probes. Defaults to
	// twice the CPU count.
	MaxConcurrency int
	// Timeout is the wall-clock budget per candidate. A probe that exceeds
	// it is abandoned and its result dropped. Defaults to 15 s.
	Timeout time.Duration
	// Ordered makes the output follow the candidate input order.
	Ordered bool
	// Whois enables the RDAP/WHOIS stage.
	Whois bool
	// ContentHash enables target fingerprinting and per-candidate page
	// comparison.
	ContentHash bool
	// MXOnly drops results without mail exchangers.
	MXOnly bool

	Logger zerolog.Logger
	// OnResult is invoked for each result as it is collected, before
	// filtering for output order. Called from a single goroutine.
	OnResult func(Result)

	// Dependency overrides; nil fields get default production clients.
	DNS      DNSProber
	HTTP     HTTPProber
	Registry RegistryClient
	Content  ContentClient
}

// Scanner runs scans. Safe for concurrent use.
type Scanner struct {
	opts     Options
	dns      DNSProber
	http     HTTPProber
	registry RegistryClient
	content  ContentClient
	log      zerolog.Logger
}

// NewScanner builds a Scanner, filling in defaults for anything Options
// leaves unset.
func NewScanner(opts Options) *Scanner {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 2 * runtime.NumCPU()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	s := &Scanner{
		opts:     opts,
		dns:      opts.DNS,
		http:     opts.HTTP,
		registry: opts.Registry,
		content:  opts.Content,
		log:      opts.Logger,
	}
	if s.dns == nil {
		s.dns = dnsprobe.New(dnsprobe.Options{})
	}
	if s.http == nil {
		s.http = httpprobe.New(httpprobe.Options{})
	}
	if s.registry == nil {
		s.registry = registry.NewClient(registry.Options{})
	}
	if s.content == nil {
		s.content = content.New(content.Options{})
	}
	return s
}

// AnalyzeDomain generates the permutation set for target and scans it.
func (s *Scanner) AnalyzeDomain(ctx context.Context, target string) ([]Result, error) {
	normalized, err := domain.Normalize(target)
	if err != nil {
		return nil, err
	}
	candidates := permute.GeneratePermutations(normalized)
	return s.AnalyzeChunk(ctx, normalized, candidates)
}

// LiveMXDomains is AnalyzeDomain restricted to mail-capable results.
func (s *Scanner) LiveMXDomains(ctx context.Context, target string) ([]Result, error) {
	mx := *s
	mx.opts.MXOnly = true
	return mx.AnalyzeDomain(ctx, target)
}

// AnalyzeChunk scans an explicit candidate list against target. This is the
// entry point a distributed dispatcher uses; AnalyzeDomain is the same
// contract with the candidates generated locally.
func (s *Scanner) AnalyzeChunk(ctx context.Context, target string, candidates []permute.Candidate) ([]Result, error) {
	s.log.Info().
		Str("target", target).
		Int("candidates", len(candidates)).
		Int("concurrency", s.opts.MaxConcurrency).
		Msg("scan started")

	// The target fingerprint is built once before fan-out and shared
	// read-only by every probe. A fetch failure disables the content stage
	// for this run instead of failing the scan.
	var fp *content.Fingerprint
	if s.opts.ContentHash {
		var err error
		fp, err = s.content.FetchTarget(ctx, target)
		if err != nil {
			s.log.Warn().Err(err).Str("target", target).Msg("target fingerprint unavailable, content stage disabled")
			fp = nil
		}
	}

	jobs := make(chan job)
	results := make(chan keyed)
	done := make(chan struct{})

	workers := s.opts.MaxConcurrency
	if workers > len(candidates) && len(candidates) > 0 {
		workers = len(candidates)
	}

	for w := 0; w < workers; w++ {
		go func() {
			for j := range jobs {
				cctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
				res, ok := s.probe(cctx, target, j.cand, fp)
				expired := cctx.Err() != nil
				cancel()
				if !ok || expired {
					// A timed-out or unresolvable probe emits nothing.
					if expired {
						s.log.Debug().Str("fqdn", j.cand.FQDN).Msg("probe abandoned")
					}
					select {
					case results <- keyed{idx: -1}:
					case <-done:
					}
					continue
				}
				select {
				case results <- keyed{idx: j.idx, res: res}:
				case <-done:
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i, c := range candidates {
			select {
			case jobs <- job{idx: i, cand: c}:
			case <-done:
				return
			}
		}
	}()

	collected := make([]keyed, 0, len(candidates))
	outstanding := len(candidates)
	for outstanding > 0 {
		select {
		case k := <-results:
			outstanding--
			if k.idx < 0 {
				continue
			}
			if s.opts.OnResult != nil {
				s.opts.OnResult(k.res)
			}
			collected = append(collected, k)
		case <-ctx.Done():
			close(done)
			return s.finish(target, collected), ctx.Err()
		}
	}
	close(done)

	out := s.finish(target, collected)
	if err := ctx.Err(); err != nil {
		return out, err
	}
	s.log.Info().Str("target", target).Int("results", len(out)).Msg("scan finished")
	return out, nil
}

// job and keyed re-key candidates to their input index so Ordered output can
// be restored after the pool interleaves completions.
type job struct {
	idx  int
	cand permute.Candidate
}

type keyed struct {
	idx int
	res Result
}

// finish applies the output filters and ordering. The target's own fqdn is
// dropped unconditionally; permutation sources differ on whether they emit
// it, so the coordinator does not trust them to.
func (s *Scanner) finish(target string, collected []keyed) []Result {
	if s.opts.Ordered {
		sort.Slice(collected, func(i, j int) bool { return collected[i].idx < collected[j].idx })
	}

	out := make([]Result, 0, len(collected))
	for _, k := range collected {
		if k.res.FQDN == target {
			continue
		}
		if s.opts.MXOnly && len(k.res.MXRecords) == 0 {
			continue
		}
		out = append(out, k.res)
	}
	return out
}

// probe runs the per-candidate stage pipeline. Only the resolution stage can
// gate the probe; every later stage swallows its own failure and leaves its
// default value in place.
func (s *Scanner) probe(ctx context.Context, target string, cand permute.Candidate, fp *content.Fingerprint) (Result, bool) {
	res := newResult(cand)

	resolution, err := s.dns.Resolve(ctx, cand.FQDN, cand.TLD)
	if err != nil {
		s.log.Debug().Str("fqdn", cand.FQDN).Err(err).Msg("not resolvable")
		return Result{}, false
	}
	res.Resolvable = true
	res.IPAddresses = resolution.IPs

	cls := netclass.Classify(res.IPAddresses)
	res.PublicIPs = cls.Public
	res.InternalIPs = cls.Internal
	if cls.Flags != nil {
		res.IPFlags = cls.Flags
	}

	if mx, err := s.dns.LookupMX(ctx, cand.FQDN); err == nil && mx != nil {
		res.MXRecords = mx
	}
	if txt, err := s.dns.LookupTXT(ctx, cand.FQDN); err == nil && txt != nil {
		res.TXTRecords = txt
	}
	if ns, err := s.dns.LookupNS(ctx, cand.FQDN); err == nil && ns != nil {
		res.Nameservers = ns
	}
	res.DMARC = s.dns.LookupDMARC(ctx, cand.FQDN)
	res.Wildcard = s.dns.DetectWildcard(ctx, cand.FQDN)

	// No SPF record is the common case and not worth a log line.
	if rep, err := spf.Parse(res.TXTRecords); err == nil {
		res.SPFRecords = rep
	}

	if len(res.PublicIPs) > 0 {
		res.ServerResponse = s.http.Fingerprint(ctx, cand.FQDN)
	} else {
		res.ServerResponse = httpprobe.Skipped(cand.FQDN, "no public IPs")
	}

	if s.opts.Whois {
		if rec, err := s.registry.Lookup(ctx, cand.FQDN); err == nil {
			res.Whois = rec
		} else {
			s.log.Debug().Str("fqdn", cand.FQDN).Err(err).Msg("whois unavailable")
		}
	}

	if fp != nil && len(res.PublicIPs) > 0 {
		score := s.content.Compare(ctx, cand.FQDN, fp)
		res.ContentHash = &score
	}

	res.Fuzzy = fuzzy.Score(target, cand.FQDN)
	return res, true
}

func newResult(cand permute.Candidate) Result {
	return Result{
		Kind:        cand.Kind,
		FQDN:        cand.FQDN,
		TLD:         cand.TLD,
		IPAddresses: []string{},
		PublicIPs:   []string{},
		InternalIPs: []string{},
		IPFlags:     []string{},
		MXRecords:   []dnsprobe.MX{},
		TXTRecords:  []string{},
		DMARC:       map[string]string{},
		Nameservers: []string{},
	}
}

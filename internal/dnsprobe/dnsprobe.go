// Package dnsprobe answers the DNS questions a candidate-domain probe needs:
// address resolution with registry-wildcard detection, auxiliary records
// (MX/TXT/NS), DMARC, and wildcard-zone detection.
package dnsprobe

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/miekg/dns"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// ErrNoRecords is returned when an A lookup succeeds but yields no addresses.
var ErrNoRecords = errors.New("no A records")

// ErrTLDFalsePositive marks the registry-wildcard pattern where a candidate's
// CNAME points at its own TLD: the registry resolves every unregistered label
// to a parking page, so the candidate is treated as not resolvable.
var ErrTLDFalsePositive = errors.New("cname matches tld false positive")

// Exchanger performs one DNS query. *Prober uses it for every lookup, so
// tests can swap in a canned responder.
type Exchanger interface {
	Exchange(ctx context.Context, name string, qtype uint16) (*dns.Msg, error)
}

// MX is one mail-exchanger record, in resolver order.
type MX struct {
	Priority uint16 `json:"priority"`
	Server   string `json:"server"`
}

// Resolution is the outcome of resolving a candidate.
type Resolution struct {
	IPs   []string
	CNAME string
}

// Options configures a Prober.
type Options struct {
	// Nameservers in "host:port" form. Empty means /etc/resolv.conf,
	// falling back to well-known public resolvers.
	Nameservers []string
	// Timeout for a single DNS exchange.
	Timeout time.Duration
	// Exchanger overrides the wire client; used by tests.
	Exchanger Exchanger
}

// Prober issues DNS queries, rotating across its nameserver set.
type Prober struct {
	ex          Exchanger
	nameservers []string
	nsidx       uint32
}

// New returns a ready Prober.
func New(opts Options) *Prober {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}

	ns := opts.Nameservers
	if len(ns) == 0 {
		ns = []string{"8.8.8.8:53", "8.8.4.4:53", "1.1.1.1:53"}
		if config, err := dns.ClientConfigFromFile("/etc/resolv.conf"); err == nil && len(config.Servers) > 0 {
			ns = config.Servers[:]
		}
	}
	// The dns package wants an explicit port on every resolver.
	for i := 0; i < len(ns); i++ {
		if host, port, err := net.SplitHostPort(ns[i]); err != nil {
			if strings.Count(ns[i], ":") > 1 && !strings.Contains(ns[i], "[") {
				ns[i] = "[" + ns[i] + "]:53"
			} else {
				ns[i] = ns[i] + ":53"
			}
		} else if port == "" {
			ns[i] = net.JoinHostPort(host, "53")
		}
	}

	p := &Prober{nameservers: ns}
	if opts.Exchanger != nil {
		p.ex = opts.Exchanger
	} else {
		p.ex = &wireExchanger{
			client: &dns.Client{Timeout: opts.Timeout},
			prober: p,
		}
	}
	return p
}

type wireExchanger struct {
	client *dns.Client
	prober *Prober
}

func (w *wireExchanger) Exchange(ctx context.Context, name string, qtype uint16) (*dns.Msg, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), qtype)
	msg.RecursionDesired = true

	in, _, err := w.client.ExchangeContext(ctx, msg, w.prober.nextNS())
	return in, err
}

func (p *Prober) nextNS() string {
	idx := atomic.AddUint32(&p.nsidx, 1)
	return p.nameservers[int(idx)%len(p.nameservers)]
}

// LookupA returns the dotted-quad A answers for name. An empty answer is
// ErrNoRecords.
func (p *Prober) LookupA(ctx context.Context, name string) ([]string, error) {
	in, err := p.ex.Exchange(ctx, name, dns.TypeA)
	if err != nil {
		return nil, errors.Wrap(err, "A")
	}
	var ips []string
	for _, rr := range in.Answer {
		if a, ok := rr.(*dns.A); ok {
			ips = append(ips, a.A.String())
		}
	}
	if len(ips) == 0 {
		return nil, ErrNoRecords
	}
	return ips, nil
}

// LookupCNAME returns the CNAME targets for name, trailing dots stripped.
// No CNAME is not an error.
func (p *Prober) LookupCNAME(ctx context.Context, name string) ([]string, error) {
	in, err := p.ex.Exchange(ctx, name, dns.TypeCNAME)
	if err != nil {
		return nil, errors.Wrap(err, "CNAME")
	}
	var targets []string
	for _, rr := range in.Answer {
		if c, ok := rr.(*dns.CNAME); ok {
			targets = append(targets, strings.TrimSuffix(c.Target, "."))
		}
	}
	return targets, nil
}

// Resolve runs the A and CNAME lookups in parallel and applies the
// registry-wildcard check: a first CNAME equal to the candidate's TLD means
// the registry answers for every unregistered label, so the candidate is
// reported as ErrTLDFalsePositive. A failed A lookup propagates; a failed
// CNAME lookup is treated as no CNAME.
func (p *Prober) Resolve(ctx context.Context, fqdn, tld string) (Resolution, error) {
	var (
		ips    []string
		cnames []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ips, err = p.LookupA(gctx, fqdn)
		return err
	})
	g.Go(func() error {
		cnames, _ = p.LookupCNAME(gctx, fqdn)
		return nil
	})
	if err := g.Wait(); err != nil {
		return Resolution{}, err
	}

	if len(cnames) == 0 {
		return Resolution{IPs: ips}, nil
	}
	if cnames[0] == tld {
		return Resolution{}, ErrTLDFalsePositive
	}
	return Resolution{IPs: ips, CNAME: cnames[0]}, nil
}

// LookupMX returns mail exchangers in the order the resolver handed them
// back. An empty list is not an error.
func (p *Prober) LookupMX(ctx context.Context, name string) ([]MX, error) {
	in, err := p.ex.Exchange(ctx, name, dns.TypeMX)
	if err != nil {
		return nil, errors.Wrap(err, "MX")
	}
	var out []MX
	for _, rr := range in.Answer {
		if mx, ok := rr.(*dns.MX); ok {
			out = append(out, MX{Priority: mx.Preference, Server: strings.TrimSuffix(mx.Mx, ".")})
		}
	}
	return out, nil
}

// LookupTXT returns TXT strings exactly as received, one per record. Chunked
// records are joined, matching resolver behavior for long SPF strings.
func (p *Prober) LookupTXT(ctx context.Context, name string) ([]string, error) {
	in, err := p.ex.Exchange(ctx, name, dns.TypeTXT)
	if err != nil {
		return nil, errors.Wrap(err, "TXT")
	}
	var out []string
	for _, rr := range in.Answer {
		if txt, ok := rr.(*dns.TXT); ok {
			out = append(out, strings.Join(txt.Txt, ""))
		}
	}
	return out, nil
}

// LookupNS returns nameserver hosts with the trailing dot stripped,
// deduplicated, order preserved.
func (p *Prober) LookupNS(ctx context.Context, name string) ([]string, error) {
	in, err := p.ex.Exchange(ctx, name, dns.TypeNS)
	if err != nil {
		return nil, errors.Wrap(err, "NS")
	}
	var out []string
	seen := map[string]struct{}{}
	for _, rr := range in.Answer {
		ns, ok := rr.(*dns.NS)
		if !ok {
			continue
		}
		host := strings.TrimSuffix(ns.Ns, ".")
		if _, dup := seen[host]; dup {
			continue
		}
		seen[host] = struct{}{}
		out = append(out, host)
	}
	return out, nil
}

// LookupDMARC reads the _dmarc TXT record and parses the first v=DMARC1
// entry into its tag=value pairs. A missing record is not a failure: the
// returned map carries an "error" key, which callers report as-is.
func (p *Prober) LookupDMARC(ctx context.Context, name string) map[string]string {
	records, err := p.LookupTXT(ctx, "_dmarc."+name)
	if err != nil {
		return map[string]string{"error": "No DMARC record found"}
	}
	for _, rec := range records {
		if !strings.HasPrefix(rec, "v=DMARC1") {
			continue
		}
		out := make(map[string]string)
		for _, part := range strings.Split(rec, ";") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			kv := strings.SplitN(part, "=", 2)
			if len(kv) == 2 {
				out[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
			}
		}
		return out
	}
	return map[string]string{"error": "No DMARC record found"}
}

// DetectWildcard probes a random 24-hex-character label under name. Any A
// answer means the zone resolves arbitrary labels.
func (p *Prober) DetectWildcard(ctx context.Context, name string) bool {
	ips, err := p.LookupA(ctx, randomLabel()+"."+name)
	return err == nil && len(ips) > 0
}

func randomLabel() string {
	var b [12]byte
	if _, err := rand.Read(b[:]); err != nil {
		// Fall back to a fixed improbable label; a collision only risks a
		// false wildcard positive on that one zone.
		return "f0e9d8c7b6a5f4e3d2c1b0a9"
	}
	return hex.EncodeToString(b[:])
}

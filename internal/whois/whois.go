// Package whois queries registry WHOIS servers over TCP/43 and parses the
// line-oriented responses. The TLD-to-server table ships embedded; it is the
// fallback path when RDAP has no answer for a TLD.
package whois

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// NotAvailableSentinel marks contact fields WHOIS cannot provide; the
// protocol has no structured contact data worth trusting.
const NotAvailableSentinel = "Not available in WHOIS"

//go:embed servers.json
var serversJSON []byte

// Options configures a Client.
type Options struct {
	// ConnectTimeout bounds the TCP dial (default 3 s).
	ConnectTimeout time.Duration
	// ReadTimeout bounds the response read (default 5 s).
	ReadTimeout time.Duration
	// MinDelayPerServer paces queries against a single registry server.
	MinDelayPerServer time.Duration
	Retries           int
	Backoff           time.Duration
	// Dial overrides the dialer; used by tests.
	Dial func(ctx context.Context, network, address string) (net.Conn, error)
	// Servers overrides the embedded TLD table; used by tests.
	Servers map[string]string
}

// Client issues WHOIS queries with per-server pacing and transient retries.
type Client struct {
	opts    Options
	servers map[string]string

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// Record is a parsed WHOIS response. Fields the response did not carry stay
// empty; Registered is a best-effort inference from not-found patterns.
type Record struct {
	Domain         string
	Raw            string
	Registered     bool
	Registrar      string
	CreationDate   string
	ExpirationDate string
	UpdatedDate    string
	Status         []string
	Nameservers    []string
}

// NewClient returns a Client with contract defaults.
func NewClient(opts Options) *Client {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 3 * time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 5 * time.Second
	}
	if opts.MinDelayPerServer <= 0 {
		opts.MinDelayPerServer = 250 * time.Millisecond
	}
	if opts.Retries == 0 {
		opts.Retries = 2
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 250 * time.Millisecond
	}
	if opts.Dial == nil {
		opts.Dial = (&net.Dialer{}).DialContext
	}

	servers := opts.Servers
	if servers == nil {
		servers = loadServers()
	}

	return &Client{
		opts:     opts,
		servers:  servers,
		limiters: make(map[string]*rate.Limiter, 32),
	}
}

var (
	loadOnce      sync.Once
	loadedServers map[string]string
)

func loadServers() map[string]string {
	loadOnce.Do(func() {
		loadedServers = make(map[string]string, 256)
		if err := json.Unmarshal(serversJSON, &loadedServers); err != nil {
			// The table is compile-time data; a parse failure is a build
			// defect, not a runtime condition.
			panic(fmt.Sprintf("whois: embedded servers.json: %v", err))
		}
	})
	return loadedServers
}

// ServerForTLD returns the WHOIS host for a TLD, or an error when the table
// has no entry.
func (c *Client) ServerForTLD(tld string) (string, error) {
	tld = strings.ToLower(strings.TrimSpace(tld))
	if s, ok := c.servers[tld]; ok && s != "" {
		return s, nil
	}
	return "", fmt.Errorf("No WHOIS server for TLD: %s", tld)
}

// Lookup queries the TLD's WHOIS server for the domain and parses the
// response.
func (c *Client) Lookup(ctx context.Context, domain string) (*Record, error) {
	i := strings.LastIndexByte(domain, '.')
	if i < 0 || i == len(domain)-1 {
		return nil, fmt.Errorf("invalid domain %q", domain)
	}

	server, err := c.ServerForTLD(domain[i+1:])
	if err != nil {
		return nil, err
	}

	body, err := c.query(ctx, server, domain)
	if err != nil {
		return nil, err
	}
	return Parse(domain, body), nil
}

func (c *Client) limiterFor(server string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	if lim, ok := c.limiters[server]; ok {
		return lim
	}
	lim := rate.NewLimiter(rate.Every(c.opts.MinDelayPerServer), 1)
	c.limiters[server] = lim
	return lim
}

func (c *Client) query(ctx context.Context, server, q string) (string, error) {
	backoff := c.opts.Backoff
	var lastErr error
	for attempt := 0; attempt <= c.opts.Retries; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return "", ctx.Err()
			case <-t.C:
			}
			backoff = minDuration(backoff*2, 2*time.Second)
		}

		body, err := c.queryOnce(ctx, server, q)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !isRetryable(err) {
			break
		}
	}
	return "", lastErr
}

func (c *Client) queryOnce(ctx context.Context, server, q string) (string, error) {
	// Pace per server; simple WHOIS daemons drop aggressive clients.
	if err := c.limiterFor(server).Wait(ctx); err != nil {
		return "", err
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()

	conn, err := c.opts.Dial(dialCtx, "tcp", net.JoinHostPort(server, "43"))
	if err != nil {
		return "", err
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(c.opts.ReadTimeout))

	if _, err := io.WriteString(conn, q+"\r\n"); err != nil {
		return "", err
	}

	b, err := io.ReadAll(io.LimitReader(conn, 1<<20))
	if err != nil && len(b) == 0 {
		return "", err
	}
	return string(b), nil
}

var notFoundNeedles = []string{"no match", "not found", "available"}

// Parse applies the line heuristics to a raw WHOIS response.
func Parse(domain, body string) *Record {
	rec := &Record{
		Domain:     domain,
		Raw:        body,
		Registered: true,
	}

	lower := strings.ToLower(body)
	for _, needle := range notFoundNeedles {
		if strings.Contains(lower, needle) {
			rec.Registered = false
			break
		}
	}

	lines := strings.Split(body, "\n")

	rec.Registrar = firstField(lines, "registrar")
	rec.CreationDate = firstField(lines, "creation date")
	// "expir" matches both "Expiration Date" and "Expiry Date"; first line
	// wins across registries that emit either.
	rec.ExpirationDate = firstField(lines, "expir")
	rec.UpdatedDate = firstField(lines, "updated date")

	statusSeen := map[string]struct{}{}
	nsSeen := map[string]struct{}{}
	for _, line := range lines {
		l := strings.ToLower(strings.TrimSpace(line))
		switch {
		case strings.Contains(l, "domain status:"), strings.Contains(l, "status:"):
			v := afterColon(line)
			if i := strings.IndexByte(v, ' '); i >= 0 {
				v = v[:i]
			}
			if v == "" {
				continue
			}
			if _, dup := statusSeen[v]; !dup {
				statusSeen[v] = struct{}{}
				rec.Status = append(rec.Status, v)
			}
		case strings.Contains(l, "name server:"), strings.Contains(l, "nserver:"):
			v := strings.ToLower(afterColon(line))
			if v == "" {
				continue
			}
			if _, dup := nsSeen[v]; !dup {
				nsSeen[v] = struct{}{}
				rec.Nameservers = append(rec.Nameservers, v)
			}
		}
	}

	return rec
}

// firstField returns the value of the first line whose lowercased form
// contains the prefix, taking everything after the first colon.
func firstField(lines []string, prefix string) string {
	for _, line := range lines {
		if strings.Contains(strings.ToLower(line), prefix) {
			if v := afterColon(line); v != "" {
				return v
			}
		}
	}
	return ""
}

func afterColon(line string) string {
	i := strings.IndexByte(line, ':')
	if i < 0 {
		return ""
	}
	return strings.TrimSpace(line[i+1:])
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}

	s := strings.ToLower(err.Error())
	switch {
	case strings.Contains(s, "connection reset"):
		return true
	case strings.Contains(s, "broken pipe"):
		return true
	case strings.Contains(s, "unexpected eof"):
		return true
	}
	return false
}

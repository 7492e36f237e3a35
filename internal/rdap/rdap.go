// Package rdap implements an RDAP (RFC 7483) domain lookup client: IANA
// bootstrap discovery with a process-lifetime cache, registration record
// retrieval, and jCard (RFC 7095) contact parsing.
package rdap

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const DefaultBootstrapURL = "https://data.iana.org/rdap/dns.json"

// RedactedSentinel replaces a contact whose identifying fields were all
// withheld by the registry.
const RedactedSentinel = "Redacted by provider"

// ErrNotFound is returned when the registry answers 404 for a domain.
var ErrNotFound = fmt.Errorf("Domain not found in RDAP")

// Options configures a Client.
type Options struct {
	BootstrapURL string
	Timeout      time.Duration
	// Retries is the number of additional attempts after a transient
	// failure. Backoff is linear: 1s, 2s, ... capped at 5s.
	Retries int
	// HTTPClient overrides the transport; used by tests.
	HTTPClient *http.Client
}

// Client performs RDAP lookups. The bootstrap registry is fetched lazily on
// first use and cached for the client's lifetime; concurrent first access is
// serialized by the mutex.
type Client struct {
	opts Options
	http *http.Client

	mu        sync.Mutex
	bootstrap *bootstrap
}

// NewClient returns a Client with contract defaults (5 s timeout, 2 retries).
func NewClient(opts Options) *Client {
	if opts.BootstrapURL == "" {
		opts.BootstrapURL = DefaultBootstrapURL
	}
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Retries == 0 {
		opts.Retries = 2
	}

	httpc := opts.HTTPClient
	if httpc == nil {
		httpc = &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		}
	}
	return &Client{opts: opts, http: httpc}
}

// Contact is one parsed vCard contact. Empty vCard values normalize to nil.
type Contact struct {
	Name         *string `json:"name"`
	Organization *string `json:"organization"`
	Email        *string `json:"email"`
	Phone        *string `json:"phone"`
	Fax          *string `json:"fax"`
	Address      *string `json:"address"`
	Country      *string `json:"country"`
}

// ContactField is either a parsed Contact or a sentinel string explaining why
// no contact is available. It marshals as the contact object, the sentinel
// string, or null.
type ContactField struct {
	Contact  *Contact
	Sentinel string
}

func (f ContactField) MarshalJSON() ([]byte, error) {
	if f.Contact != nil {
		return json.Marshal(f.Contact)
	}
	if f.Sentinel != "" {
		return json.Marshal(f.Sentinel)
	}
	return []byte("null"), nil
}

// Record is a parsed RDAP domain registration record.
type Record struct {
	Domain         string
	Registrar      string
	CreationDate   string
	ExpirationDate string
	UpdatedDate    string
	Status         []string
	Nameservers    []string
	Registrant     ContactField
	AdminContact   ContactField
	TechContact    ContactField
	AbuseContact   ContactField
	Raw            string
}

// Lookup resolves the RDAP base URL for the domain's TLD and fetches the
// registration record. 404 maps to ErrNotFound; transient failures are
// retried with linear backoff.
func (c *Client) Lookup(ctx context.Context, fqdn string) (*Record, error) {
	i := strings.LastIndexByte(fqdn, '.')
	if i < 0 || i == len(fqdn)-1 {
		return nil, fmt.Errorf("invalid domain %q", fqdn)
	}
	tld := strings.ToLower(fqdn[i+1:])

	bs, err := c.getBootstrap(ctx)
	if err != nil {
		return nil, fmt.Errorf("rdap bootstrap: %w", err)
	}
	base := bs.serverForTLD(tld)
	if base == "" {
		return nil, fmt.Errorf("no RDAP service for TLD: %s", tld)
	}

	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	rdapURL := base + "domain/" + url.PathEscape(fqdn)

	var lastErr error
	for attempt := 0; attempt <= c.opts.Retries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * time.Second
			if backoff > 5*time.Second {
				backoff = 5 * time.Second
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		rec, retryable, err := c.fetchRecord(ctx, rdapURL, fqdn)
		if err == nil {
			return rec, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) fetchRecord(ctx context.Context, rdapURL, fqdn string) (*Record, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rdapURL, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("accept", "application/rdap+json, application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return nil, true, err
		}
		rec, err := ParseRecord(fqdn, body)
		if err != nil {
			return nil, false, err
		}
		return rec, false, nil
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 512))
		return nil, false, ErrNotFound
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 512))
		return nil, true, fmt.Errorf("rdap http %d", resp.StatusCode)
	default:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 512))
		return nil, false, fmt.Errorf("rdap http %d", resp.StatusCode)
	}
}

func (c *Client) getBootstrap(ctx context.Context) (*bootstrap, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bootstrap != nil {
		return c.bootstrap, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.BootstrapURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rdap bootstrap http %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, err
	}
	bs, err := parseBootstrap(body)
	if err != nil {
		return nil, err
	}
	c.bootstrap = bs
	return bs, nil
}

type bootstrap struct {
	services [][2][]string
}

// serverForTLD scans the services list in order and returns the first server
// URL of the first entry covering the TLD.
func (b *bootstrap) serverForTLD(tld string) string {
	for _, svc := range b.services {
		for _, t := range svc[0] {
			if strings.EqualFold(t, tld) {
				if len(svc[1]) > 0 {
					return svc[1][0]
				}
				return ""
			}
		}
	}
	return ""
}

type bootstrapJSON struct {
	Services [][][]string `json:"services"`
}

func parseBootstrap(b []byte) (*bootstrap, error) {
	var raw bootstrapJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, err
	}
	bs := &bootstrap{}
	for _, svc := range raw.Services {
		if len(svc) != 2 {
			continue
		}
		bs.services = append(bs.services, [2][]string{svc[0], svc[1]})
	}
	return bs, nil
}

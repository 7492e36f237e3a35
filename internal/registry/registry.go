// Package registry answers "who owns this domain" by trying RDAP first and
// falling back to classic WHOIS, folding both into one record shape.
package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/benithors/twistscan/internal/rdap"
	"github.com/benithors/twistscan/internal/whois"
)

// Source values for WhoisRecord.
const (
	SourceRDAP  = "rdap"
	SourceWHOIS = "whois"
)

// WhoisRecord is the unified registration record. Contact fields hold a
// parsed contact, a sentinel string, or null; WHOIS-sourced records always
// carry the "Not available in WHOIS" sentinel since the protocol has no
// reliable structured contacts.
type WhoisRecord struct {
	Domain         string            `json:"domain"`
	Source         string            `json:"source"`
	RawData        string            `json:"raw_data"`
	Registered     bool              `json:"registered"`
	Registrar      string            `json:"registrar"`
	CreationDate   string            `json:"creation_date"`
	ExpirationDate string            `json:"expiration_date"`
	UpdatedDate    string            `json:"updated_date"`
	Status         []string          `json:"status"`
	Nameservers    []string          `json:"nameservers"`
	Registrant     rdap.ContactField `json:"registrant"`
	AdminContact   rdap.ContactField `json:"admin_contact"`
	TechContact    rdap.ContactField `json:"tech_contact"`
	AbuseContact   rdap.ContactField `json:"abuse_contact"`
}

// RDAPClient is the RDAP dependency; satisfied by *rdap.Client.
type RDAPClient interface {
	Lookup(ctx context.Context, fqdn string) (*rdap.Record, error)
}

// WHOISClient is the WHOIS dependency; satisfied by *whois.Client.
type WHOISClient interface {
	Lookup(ctx context.Context, domain string) (*whois.Record, error)
}

// Options configures a Client.
type Options struct {
	RDAP  RDAPClient
	WHOIS WHOISClient
}

// Client cascades RDAP then WHOIS.
type Client struct {
	rdap  RDAPClient
	whois WHOISClient
}

// NewClient builds a Client. Nil dependencies get default production clients.
func NewClient(opts Options) *Client {
	if opts.RDAP == nil {
		opts.RDAP = rdap.NewClient(rdap.Options{})
	}
	if opts.WHOIS == nil {
		opts.WHOIS = whois.NewClient(whois.Options{})
	}
	return &Client{rdap: opts.RDAP, whois: opts.WHOIS}
}

// Lookup tries RDAP; on any RDAP error it tries WHOIS. Only when both fail
// does it return an error, carrying both causes.
func (c *Client) Lookup(ctx context.Context, domain string) (*WhoisRecord, error) {
	rdapRec, rdapErr := c.rdap.Lookup(ctx, domain)
	if rdapErr == nil {
		return fromRDAP(rdapRec), nil
	}

	whoisRec, whoisErr := c.whois.Lookup(ctx, domain)
	if whoisErr == nil {
		return fromWHOIS(whoisRec), nil
	}

	return nil, fmt.Errorf("rdap: %v; whois: %w", rdapErr, whoisErr)
}

// availabilityNeedles are the substrings registries use to say "not
// registered", checked case-insensitively against statuses and errors.
var availabilityNeedles = []string{"available", "no match", "not found"}

func matchesAvailability(s string) bool {
	l := strings.ToLower(s)
	for _, needle := range availabilityNeedles {
		if strings.Contains(l, needle) {
			return true
		}
	}
	return false
}

// IsRegistered infers registration state from a Lookup. A status or error
// matching an availability pattern means unregistered; a returned record
// without such a status means registered; anything else surfaces the error.
func (c *Client) IsRegistered(ctx context.Context, domain string) (bool, error) {
	rec, err := c.Lookup(ctx, domain)
	if err != nil {
		if matchesAvailability(err.Error()) {
			return false, nil
		}
		return false, err
	}

	for _, s := range rec.Status {
		if matchesAvailability(s) {
			return false, nil
		}
	}
	return rec.Registered, nil
}

func fromRDAP(r *rdap.Record) *WhoisRecord {
	return &WhoisRecord{
		Domain:         r.Domain,
		Source:         SourceRDAP,
		RawData:        r.Raw,
		Registered:     true,
		Registrar:      r.Registrar,
		CreationDate:   r.CreationDate,
		ExpirationDate: r.ExpirationDate,
		UpdatedDate:    r.UpdatedDate,
		Status:         r.Status,
		Nameservers:    r.Nameservers,
		Registrant:     r.Registrant,
		AdminContact:   r.AdminContact,
		TechContact:    r.TechContact,
		AbuseContact:   r.AbuseContact,
	}
}

func fromWHOIS(r *whois.Record) *WhoisRecord {
	na := rdap.ContactField{Sentinel: whois.NotAvailableSentinel}
	return &WhoisRecord{
		Domain:         r.Domain,
		Source:         SourceWHOIS,
		RawData:        r.Raw,
		Registered:     r.Registered,
		Registrar:      r.Registrar,
		CreationDate:   r.CreationDate,
		ExpirationDate: r.ExpirationDate,
		UpdatedDate:    r.UpdatedDate,
		Status:         r.Status,
		Nameservers:    r.Nameservers,
		Registrant:     na,
		AdminContact:   na,
		TechContact:    na,
		AbuseContact:   na,
	}
}

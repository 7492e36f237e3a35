package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/benithors/twistscan/internal/rdap"
	"github.com/benithors/twistscan/internal/whois"
)

type fakeRDAP struct {
	rec *rdap.Record
	err error
}

func (f *fakeRDAP) Lookup(context.Context, string) (*rdap.Record, error) { return f.rec, f.err }

type fakeWHOIS struct {
	rec   *whois.Record
	err   error
	calls int
}

func (f *fakeWHOIS) Lookup(context.Context, string) (*whois.Record, error) {
	f.calls++
	return f.rec, f.err
}

func TestLookup_RDAPFirst(t *testing.T) {
	t.Parallel()

	w := &fakeWHOIS{rec: &whois.Record{Domain: "example.com"}}
	c := NewClient(Options{
		RDAP:  &fakeRDAP{rec: &rdap.Record{Domain: "example.com", Registrar: "R Inc"}},
		WHOIS: w,
	})

	rec, err := c.Lookup(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if rec.Source != SourceRDAP {
		t.Fatalf("source=%q", rec.Source)
	}
	if !rec.Registered || rec.Registrar != "R Inc" {
		t.Fatalf("rec=%+v", rec)
	}
	if w.calls != 0 {
		t.Fatal("whois should not be consulted when rdap succeeds")
	}
}

func TestLookup_FallsBackToWHOIS(t *testing.T) {
	t.Parallel()

	w := &fakeWHOIS{rec: &whois.Record{
		Domain:     "example.com",
		Registered: true,
		Registrar:  "Example Registrar",
		Raw:        "Domain Name: EXAMPLE.COM",
	}}
	c := NewClient(Options{
		RDAP:  &fakeRDAP{err: errors.New("bootstrap unreachable")},
		WHOIS: w,
	})

	rec, err := c.Lookup(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if rec.Source != SourceWHOIS {
		t.Fatalf("source=%q", rec.Source)
	}
	if w.calls != 1 {
		t.Fatalf("whois calls=%d", w.calls)
	}
	// WHOIS never yields structured contacts.
	if rec.Registrant.Sentinel != whois.NotAvailableSentinel {
		t.Fatalf("registrant=%+v", rec.Registrant)
	}
}

func TestLookup_BothFail(t *testing.T) {
	t.Parallel()

	c := NewClient(Options{
		RDAP:  &fakeRDAP{err: errors.New("rdap down")},
		WHOIS: &fakeWHOIS{err: errors.New("whois down")},
	})

	if _, err := c.Lookup(context.Background(), "example.com"); err == nil {
		t.Fatal("expected error when both paths fail")
	}
}

func TestIsRegistered(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		rdap    *fakeRDAP
		whois   *fakeWHOIS
		want    bool
		wantErr bool
	}{
		{
			name: "rdap record means registered",
			rdap: &fakeRDAP{rec: &rdap.Record{Domain: "x.com"}},
			want: true,
		},
		{
			name:  "not found error means unregistered",
			rdap:  &fakeRDAP{err: rdap.ErrNotFound},
			whois: &fakeWHOIS{err: errors.New("no match for X.COM")},
			want:  false,
		},
		{
			name:  "available status means unregistered",
			rdap:  &fakeRDAP{err: errors.New("rdap down")},
			whois: &fakeWHOIS{rec: &whois.Record{Domain: "x.com", Registered: true, Status: []string{"AVAILABLE"}}},
			want:  false,
		},
		{
			name:  "whois inference",
			rdap:  &fakeRDAP{err: errors.New("rdap down")},
			whois: &fakeWHOIS{rec: &whois.Record{Domain: "x.com", Registered: false}},
			want:  false,
		},
		{
			name:    "unrelated double failure surfaces",
			rdap:    &fakeRDAP{err: errors.New("rdap down")},
			whois:   &fakeWHOIS{err: errors.New("connection refused")},
			wantErr: true,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			w := tc.whois
			if w == nil {
				w = &fakeWHOIS{err: errors.New("unused")}
			}
			c := NewClient(Options{RDAP: tc.rdap, WHOIS: w})
			got, err := c.IsRegistered(context.Background(), "x.com")
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("IsRegistered: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

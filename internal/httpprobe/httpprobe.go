// Package httpprobe fingerprints a candidate's web endpoint with a single
// raw HEAD request on port 80. It deliberately avoids net/http: the probe
// sends a fixed byte sequence, never follows redirects, and reads only the
// response head.
package httpprobe

import (
	"context"
	"io"
	"net"
	"strings"
	"time"
)

// Response statuses.
const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusSkipped = "skipped"
)

// Response is the probe outcome. Status is always one of ok/error/skipped;
// StatusCode and Headers are populated only for ok.
type Response struct {
	Hostname   string            `json:"hostname"`
	Status     string            `json:"status"`
	StatusCode string            `json:"status_code,omitempty"`
	Server     string            `json:"server,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Reason     string            `json:"reason,omitempty"`
}

// Skipped builds the marker response for candidates the prober never dials.
func Skipped(hostname, reason string) Response {
	return Response{Hostname: hostname, Status: StatusSkipped, Reason: reason}
}

// Options configures a Prober.
type Options struct {
	ConnectTimeout time.Duration
	RecvTimeout    time.Duration
	// Dial overrides the dialer; used by tests. Defaults to a plain
	// net.Dialer bound to ConnectTimeout.
	Dial func(ctx context.Context, network, address string) (net.Conn, error)
}

// Prober issues HEAD fingerprints.
type Prober struct {
	opts Options
}

// New returns a Prober with the contract timeouts (10 s connect, 5 s recv)
// as defaults.
func New(opts Options) *Prober {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.RecvTimeout <= 0 {
		opts.RecvTimeout = 5 * time.Second
	}
	if opts.Dial == nil {
		opts.Dial = (&net.Dialer{Timeout: opts.ConnectTimeout}).DialContext
	}
	return &Prober{opts: opts}
}

// Fingerprint connects to hostname:80 and parses the HEAD response. All
// network failures collapse into a Status=error response; the probe never
// returns a Go error.
func (p *Prober) Fingerprint(ctx context.Context, hostname string) Response {
	conn, err := p.opts.Dial(ctx, "tcp", net.JoinHostPort(hostname, "80"))
	if err != nil {
		return Response{Hostname: hostname, Status: StatusError, Reason: err.Error()}
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(p.opts.RecvTimeout))

	req := "HEAD / HTTP/1.1\r\nHost: " + hostname + "\r\nConnection: close\r\n\r\n"
	if _, err := io.WriteString(conn, req); err != nil {
		return Response{Hostname: hostname, Status: StatusError, Reason: err.Error()}
	}

	raw, err := io.ReadAll(io.LimitReader(conn, 64<<10))
	if err != nil && len(raw) == 0 {
		return Response{Hostname: hostname, Status: StatusError, Reason: err.Error()}
	}

	return parse(hostname, string(raw))
}

func parse(hostname, raw string) Response {
	lines := strings.Split(raw, "\r\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return Response{Hostname: hostname, Status: StatusError, Reason: "empty response"}
	}

	statusParts := strings.Split(lines[0], " ")
	if len(statusParts) < 2 {
		return Response{Hostname: hostname, Status: StatusError, Reason: "malformed status line"}
	}

	headers := make(map[string]string)
	for _, line := range lines[1:] {
		if line == "" {
			break
		}
		kv := strings.SplitN(line, ": ", 2)
		if len(kv) == 2 {
			headers[kv[0]] = kv[1]
		}
	}

	server := headers["Server"]
	if server == "" {
		server = "Unknown"
	}

	return Response{
		Hostname:   hostname,
		Status:     StatusOK,
		StatusCode: statusParts[1],
		Server:     server,
		Headers:    headers,
	}
}

package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/benithors/twistscan/internal/domain"
	"github.com/benithors/twistscan/internal/httpprobe"
	"github.com/benithors/twistscan/internal/scan"
)

type outputFormat int

const (
	formatTable outputFormat = iota
	formatJSON
	formatCSV
)

func resolveFormat(flagVal string) (outputFormat, error) {
	switch strings.ToLower(strings.TrimSpace(flagVal)) {
	case "table", "":
		return formatTable, nil
	case "json":
		return formatJSON, nil
	case "csv":
		return formatCSV, nil
	default:
		return 0, fmt.Errorf("invalid --format %q (use table|json|csv)", flagVal)
	}
}

func writeResults(w io.Writer, format outputFormat, results []scan.Result) error {
	switch format {
	case formatJSON:
		return json.NewEncoder(w).Encode(results)
	case formatCSV:
		return writeCSV(w, results)
	case formatTable:
		fallthrough
	default:
		return writeTable(w, results)
	}
}

var csvHeader = []string{
	"fqdn", "kind", "tld", "resolvable",
	"ip_addresses", "public_ips", "internal_ips", "ip_flags",
	"mx_records", "nameservers", "wildcard",
	"http_status", "http_server",
	"registrar", "content_score", "jaro_winkler", "levenshtein",
}

func writeCSV(w io.Writer, results []scan.Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range results {
		mx := make([]string, 0, len(r.MXRecords))
		for _, m := range r.MXRecords {
			mx = append(mx, fmt.Sprintf("%d %s", m.Priority, m.Server))
		}
		var registrar string
		if r.Whois != nil {
			registrar = r.Whois.Registrar
		}
		var score string
		if r.ContentHash != nil {
			score = strconv.Itoa(r.ContentHash.Value)
		}
		rec := []string{
			r.FQDN, r.Kind, r.TLD, strconv.FormatBool(r.Resolvable),
			strings.Join(r.IPAddresses, ";"),
			strings.Join(r.PublicIPs, ";"),
			strings.Join(r.InternalIPs, ";"),
			strings.Join(r.IPFlags, ";"),
			strings.Join(mx, ";"),
			strings.Join(r.Nameservers, ";"),
			strconv.FormatBool(r.Wildcard),
			httpStatus(r), r.ServerResponse.Server,
			registrar, score,
			strconv.FormatFloat(r.Fuzzy.JaroWinkler, 'f', 4, 64),
			strconv.Itoa(r.Fuzzy.Levenshtein),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeTable(w io.Writer, results []scan.Result) error {
	useColor := false
	if f, ok := w.(*os.File); ok {
		useColor = term.IsTerminal(int(f.Fd()))
	}

	showWhois := false
	showScore := false
	for _, r := range results {
		if r.Whois != nil {
			showWhois = true
		}
		if r.ContentHash != nil {
			showScore = true
		}
	}

	tw := domain.NewTabWriter(w)
	header := "FQDN\tKIND\tIPS\tMX\tHTTP"
	if showWhois {
		header += "\tREGISTRAR"
	}
	if showScore {
		header += "\tSIMILARITY"
	}
	header += "\tJARO"
	fmt.Fprintln(tw, header)

	for _, r := range results {
		mx := "-"
		if len(r.MXRecords) > 0 {
			mx = r.MXRecords[0].Server
			if len(r.MXRecords) > 1 {
				mx = fmt.Sprintf("%s (+%d)", mx, len(r.MXRecords)-1)
			}
		}

		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s", r.FQDN, r.Kind, joinOrDash(r.IPAddresses), mx, httpCell(r, useColor))
		if showWhois {
			reg := "-"
			if r.Whois != nil && r.Whois.Registrar != "" {
				reg = r.Whois.Registrar
			}
			fmt.Fprintf(tw, "\t%s", reg)
		}
		if showScore {
			score := "-"
			if r.ContentHash != nil {
				score = strconv.Itoa(r.ContentHash.Value)
			}
			fmt.Fprintf(tw, "\t%s", score)
		}
		fmt.Fprintf(tw, "\t%.2f\n", r.Fuzzy.JaroWinkler)
	}
	return tw.Flush()
}

func httpStatus(r scan.Result) string {
	if r.ServerResponse.Status == httpprobe.StatusOK {
		return r.ServerResponse.StatusCode
	}
	return r.ServerResponse.Status
}

func httpCell(r scan.Result, useColor bool) string {
	s := httpStatus(r)
	if !useColor {
		return s
	}
	switch r.ServerResponse.Status {
	case httpprobe.StatusOK:
		return color.GreenString(s)
	case httpprobe.StatusSkipped:
		return color.YellowString(s)
	default:
		return color.RedString(s)
	}
}

func joinOrDash(xs []string) string {
	if len(xs) == 0 {
		return "-"
	}
	return strings.Join(xs, ",")
}

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/benithors/twistscan/internal/domain"
	"github.com/benithors/twistscan/internal/permute"
	"github.com/benithors/twistscan/internal/scan"
)

type config struct {
	Concurrency int
	TimeoutMS   int
	Whois       bool
	Content     bool
	MXOnly      bool
	Format      string
	Output      string
	Verbose     bool
}

func newRootCmd(ver string) *cobra.Command {
	cfg := &config{}

	root := &cobra.Command{
		Use:     "twistscan [domain]",
		Short:   "Scan typo and homoglyph permutations of a domain for squatters",
		Version: ver,
		Long: `twistscan generates typo, homoglyph, and keyword permutations of a target
domain and probes each candidate: DNS resolution, MX/TXT/NS/DMARC records,
wildcard detection, HTTP fingerprint, optional WHOIS/RDAP registration data,
and optional page-similarity scoring against the target's site.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return &cliError{Code: 2, ShowUsage: true, Cmd: cmd}
			}
			return runScan(cmd, cfg, args[0])
		},
	}
	root.SetOut(os.Stdout)
	root.SetErr(os.Stderr)
	root.SetFlagErrorFunc(usageErr)

	f := root.Flags()
	f.IntVarP(&cfg.Concurrency, "concurrency", "c", 0, "Max concurrent probes (default 2x CPU count)")
	f.IntVarP(&cfg.TimeoutMS, "timeout", "t", 15000, "Per-candidate time budget in milliseconds")
	f.BoolVarP(&cfg.Whois, "whois", "w", false, "Include WHOIS/RDAP registration data")
	f.BoolVar(&cfg.Content, "content", false, "Fetch candidate pages and score similarity against the target")
	f.BoolVar(&cfg.MXOnly, "mx-only", false, "Only report candidates with MX records")
	f.StringVarP(&cfg.Format, "format", "f", "table", "Output format: table|json|csv")
	f.StringVarP(&cfg.Output, "output", "o", "", "Write output to a file instead of stdout")
	f.BoolVarP(&cfg.Verbose, "verbose", "v", false, "Verbose stderr diagnostics")

	return root
}

func runScan(cmd *cobra.Command, cfg *config, target string) error {
	normalized, err := domain.Normalize(target)
	if err != nil {
		return usageErr(cmd, fmt.Errorf("invalid domain %q: %v", target, err))
	}
	format, err := resolveFormat(cfg.Format)
	if err != nil {
		return usageErr(cmd, err)
	}

	out := os.Stdout
	if cfg.Output != "" {
		fh, err := os.Create(cfg.Output)
		if err != nil {
			return &cliError{Code: 1, Err: fmt.Errorf("failed to open output file: %w", err)}
		}
		defer fh.Close()
		out = fh
	}

	logger := zerolog.Nop()
	if cfg.Verbose {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			Level(zerolog.DebugLevel).
			With().Timestamp().Logger()
	}

	candidates := permute.GeneratePermutations(normalized)

	// The bar tracks collected results, so it understates progress while
	// unresolvable candidates churn through; it is cleared on finish either
	// way. Verbose mode disables it to keep stderr line-oriented.
	var bar *progressbar.ProgressBar
	if !cfg.Verbose && term.IsTerminal(int(os.Stderr.Fd())) {
		bar = progressbar.NewOptions(len(candidates),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription("scanning "+normalized),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}

	scanner := scan.NewScanner(scan.Options{
		MaxConcurrency: cfg.Concurrency,
		Timeout:        time.Duration(cfg.TimeoutMS) * time.Millisecond,
		Whois:          cfg.Whois,
		ContentHash:    cfg.Content,
		MXOnly:         cfg.MXOnly,
		Logger:         logger,
		OnResult: func(scan.Result) {
			if bar != nil {
				_ = bar.Add(1)
			}
		},
	})

	results, err := scanner.AnalyzeChunk(cmd.Context(), normalized, candidates)
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		return &cliError{Code: 1, Err: err}
	}

	// Zero results is a clean run: nothing squatting the target.
	if err := writeResults(out, format, results); err != nil {
		return &cliError{Code: 1, Err: fmt.Errorf("failed to write output: %w", err)}
	}
	return nil
}

// navctl - offline certificate verification for the accounting engine.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"

	"github.com/navproof/accounting-engine/internal/cert"
	"github.com/navproof/accounting-engine/internal/invariant"
	"github.com/navproof/accounting-engine/internal/store"
	"github.com/navproof/accounting-engine/internal/verify"
)

var (
	version = "0.1.0"
	workers int
	timeout time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "navctl",
		Short: "Verify portfolio accounting certificates",
		Long: `navctl verifies portfolio accounting certificates offline: it recomputes
each claimed transition with exact scaled-decimal arithmetic, runs the
invariant battery, and reports a verdict per file.`,
	}

	// Flags
	rootCmd.PersistentFlags().IntVar(&workers, "workers", 4, "Parallel verification workers")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Deadline for the whole run")

	// Subcommands
	rootCmd.AddCommand(verifyCmd())
	rootCmd.AddCommand(inspectCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// fileReport is one output line of `navctl verify --json`.
type fileReport struct {
	File        string                  `json:"file"`
	Outcome     verify.Outcome          `json:"outcome"`
	Codes       []string                `json:"codes,omitempty"`
	Checks      []invariant.CheckResult `json:"checks,omitempty"`
	ComputedNAV string                  `json:"computed_nav,omitempty"`
	Digest      string                  `json:"digest,omitempty"`
	Reason      string                  `json:"reason,omitempty"`
}

func verifyCmd() *cobra.Command {
	var jsonOut bool
	var dbPath string

	cmd := &cobra.Command{
		Use:   "verify <glob>...",
		Short: "Verify certificate files matching the given globs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := expandGlobs(args)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			var results []verify.Result
			if dbPath != "" {
				// Lineage heads live in the database, so files verify
				// sequentially: each acceptance moves the head the next
				// file is checked against.
				results, err = verifySequential(ctx, files, dbPath)
				if err != nil {
					return err
				}
			} else {
				inputs := make([][]byte, len(files))
				for i, f := range files {
					if inputs[i], err = os.ReadFile(f); err != nil {
						return fmt.Errorf("read %s: %w", f, err)
					}
				}
				results = verify.Batch(ctx, inputs, workers)
			}

			notAccepted := 0
			for i, res := range results {
				if res.Outcome != verify.OutcomeAccepted {
					notAccepted++
				}
				if jsonOut {
					json.NewEncoder(os.Stdout).Encode(fileReport{
						File:        files[i],
						Outcome:     res.Outcome,
						Codes:       res.Codes,
						Checks:      res.Checks,
						ComputedNAV: res.ComputedNAV,
						Digest:      res.Digest,
						Reason:      res.Reason,
					})
					continue
				}
				if len(res.Codes) > 0 {
					fmt.Printf("%-9s  %s  %v\n", res.Outcome, files[i], res.Codes)
				} else {
					fmt.Printf("%-9s  %s\n", res.Outcome, files[i])
				}
			}

			if notAccepted > 0 {
				return fmt.Errorf("%d of %d certificates not accepted", notAccepted, len(files))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit one JSON report per file instead of verdict lines")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database for lineage head tracking")
	return cmd
}

func inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file>",
		Short: "Decode a certificate and print its summary without verifying",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			c, err := cert.Decode(raw)
			if err != nil {
				return fmt.Errorf("decode %s: %w", args[0], err)
			}
			digest, err := cert.Digest(raw)
			if err != nil {
				return fmt.Errorf("digest %s: %w", args[0], err)
			}

			fmt.Printf("version:      %s\n", c.Version)
			fmt.Printf("source_type:  %s\n", c.SourceType)
			fmt.Printf("precision:    %d\n", c.PrecisionDecimals)
			fmt.Printf("tolerance:    %s\n", c.Tolerance)
			fmt.Printf("trades:       %d\n", len(c.Trades))
			fmt.Printf("positions:    %d pre, %d claimed post\n",
				len(c.PreState.Positions), len(c.ClaimedPostState.Positions))
			fmt.Printf("claimed_nav:  %s\n", c.ClaimedNAV)
			if c.Lineage != "" {
				step := "-"
				if c.StepIndex != nil {
					step = fmt.Sprintf("%d", *c.StepIndex)
				}
				fmt.Printf("lineage:      %s (step %s)\n", c.Lineage, step)
			}
			fmt.Printf("digest:       %s\n", digest)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("navctl version %s (certificate schema %s)\n", version, cert.CurrentVersion)
		},
	}
}

// expandGlobs resolves doublestar patterns to a sorted, deduplicated
// file list.
func expandGlobs(patterns []string) ([]string, error) {
	seen := make(map[string]struct{})
	var files []string
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			files = append(files, m)
		}
	}
	if len(files) == 0 {
		return nil, errors.New("no files match")
	}
	sort.Strings(files)
	return files, nil
}

// verifySequential verifies files one at a time against the lineage
// heads in a SQLite database, advancing a head whenever a certificate
// carrying that lineage is accepted. Reports are not persisted; the
// database holds replay state only.
func verifySequential(ctx context.Context, files []string, dbPath string) ([]verify.Result, error) {
	st, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dbPath, err)
	}
	defer st.Close()

	results := make([]verify.Result, len(files))
	for i, f := range files {
		if err := ctx.Err(); err != nil {
			results[i] = verify.Result{
				Outcome: verify.OutcomeTimeout,
				Codes:   []string{verify.CodeDeadlineExceeded},
			}
			continue
		}

		raw, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f, err)
		}

		digest, _ := cert.Digest(raw)
		c, err := cert.Decode(raw)
		if err != nil {
			results[i] = verify.Result{Outcome: verify.OutcomeMalformed, Digest: digest, Reason: err.Error()}
			continue
		}

		var opts verify.Options
		if c.Lineage != "" && c.StepIndex != nil {
			if head, err := st.LineageHead(ctx, c.Lineage); err == nil {
				opts.PrevStep = &head
			}
		}

		res := verify.Verify(c, opts)
		res.Digest = digest
		if res.Outcome == verify.OutcomeAccepted && res.Lineage != "" && res.StepIndex != nil {
			if err := st.AdvanceLineage(ctx, res.Lineage, *res.StepIndex); err != nil {
				return nil, fmt.Errorf("advance lineage %s: %w", res.Lineage, err)
			}
		}
		results[i] = res
	}
	return results, nil
}

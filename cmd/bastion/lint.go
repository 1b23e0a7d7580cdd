package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/bastion/pkg/cli"
	"mercator-hq/bastion/pkg/policy"
	"mercator-hq/bastion/pkg/policy/source"
)

var lintFlags struct {
	file   string
	dir    string
	strict bool
	format string
}

var lintCmd = &cobra.Command{
	Use:   "lint",
	Short: "Validate policy bundles",
	Long: `Validate policy bundle files for syntax and semantic errors.

The lint command parses each bundle and checks:
  - YAML syntax and enum values
  - Policy structure (name, rules, actions)
  - Condition operators and value shapes
  - Scope well-formedness and duplicate policy ids

It also warns about rules that can never fire or always fire.

Examples:
  # Lint single file
  bastion lint --file policies.yaml

  # Lint directory
  bastion lint --dir policies/

  # Strict mode (warnings as errors)
  bastion lint --file policies.yaml --strict

  # JSON output for CI/CD
  bastion lint --file policies.yaml --format json`,
	RunE: lintPolicies,
}

func init() {
	rootCmd.AddCommand(lintCmd)

	lintCmd.Flags().StringVarP(&lintFlags.file, "file", "f", "", "policy bundle to validate")
	lintCmd.Flags().StringVarP(&lintFlags.dir, "dir", "d", "", "directory of policy bundles")
	lintCmd.Flags().BoolVar(&lintFlags.strict, "strict", false, "treat warnings as errors")
	lintCmd.Flags().StringVar(&lintFlags.format, "format", "text", "output format: text, json, yaml")
}

// LintResult is the outcome for a single bundle file.
type LintResult struct {
	File     string      `json:"file" yaml:"file"`
	Valid    bool        `json:"valid" yaml:"valid"`
	Policies int         `json:"policies" yaml:"policies"`
	Errors   []LintIssue `json:"errors,omitempty" yaml:"errors,omitempty"`
	Warnings []LintIssue `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// LintIssue is a single error or warning.
type LintIssue struct {
	PolicyID string `json:"policy_id,omitempty" yaml:"policy_id,omitempty"`
	Field    string `json:"field,omitempty" yaml:"field,omitempty"`
	Message  string `json:"message" yaml:"message"`
}

func lintPolicies(cmd *cobra.Command, args []string) error {
	if lintFlags.file == "" && lintFlags.dir == "" {
		return fmt.Errorf("either --file or --dir must be specified")
	}
	format, err := cli.ParseOutputFormat(lintFlags.format)
	if err != nil {
		return err
	}

	var files []string
	if lintFlags.file != "" {
		files = append(files, lintFlags.file)
	}
	if lintFlags.dir != "" {
		for _, pattern := range []string{"*.yaml", "*.yml"} {
			matches, err := filepath.Glob(filepath.Join(lintFlags.dir, pattern))
			if err != nil {
				return fmt.Errorf("failed to list policy files: %w", err)
			}
			files = append(files, matches...)
		}
	}
	if len(files) == 0 {
		return fmt.Errorf("no policy files found")
	}

	results := make([]LintResult, 0, len(files))
	for _, file := range files {
		results = append(results, lintFile(file, time.Now()))
	}

	out := io.Discard
	if cmd != nil {
		out = cmd.OutOrStdout()
	}
	if format == cli.FormatText {
		writeLintText(out, results)
	} else if err := cli.NewFormatter(format).FormatTo(out, results); err != nil {
		return err
	}

	var failed int
	for _, r := range results {
		if !r.Valid || (lintFlags.strict && len(r.Warnings) > 0) {
			failed++
		}
	}
	if failed > 0 {
		return cli.NewCommandError("lint", fmt.Errorf("%d of %d files failed validation: %w", failed, len(results), policy.ErrInvalidPolicy))
	}
	return nil
}

func lintFile(path string, now time.Time) LintResult {
	result := LintResult{File: path, Valid: true}

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	bundle, err := source.NewFileSource(path, 0, quiet).Load(context.Background())
	if err != nil {
		result.Valid = false
		issue := LintIssue{Message: err.Error()}
		var verr *policy.ValidationError
		if errors.As(err, &verr) {
			issue.PolicyID, issue.Field = verr.PolicyID, verr.Field
		}
		result.Errors = append(result.Errors, issue)
		return result
	}

	result.Policies = len(bundle.Policies)
	for _, p := range bundle.Policies {
		result.Warnings = append(result.Warnings, policyWarnings(p, now)...)
	}
	return result
}

// policyWarnings flags content that is valid but probably unintended.
func policyWarnings(p *policy.Policy, now time.Time) []LintIssue {
	var out []LintIssue
	warn := func(field, msg string) {
		out = append(out, LintIssue{PolicyID: p.ID, Field: field, Message: msg})
	}

	if p.Expired(now) {
		warn("expires_at", "policy has already expired and will never match")
	}
	if !p.Enabled {
		warn("enabled", "policy is disabled")
	}
	enabled := 0
	for i, r := range p.Rules {
		path := fmt.Sprintf("rules[%d]", i)
		if !r.Enabled {
			warn(path+".enabled", fmt.Sprintf("rule %q is disabled", r.Name))
			continue
		}
		enabled++
		if len(r.Conditions) == 0 && len(p.Conditions) == 0 {
			warn(path+".conditions", fmt.Sprintf("rule %q has no conditions and matches every request", r.Name))
		}
		if r.HasAction(policy.ActionAllow) && r.HasAction(policy.ActionDeny) {
			warn(path+".actions", fmt.Sprintf("rule %q both allows and denies", r.Name))
		}
	}
	if enabled == 0 {
		warn("rules", "policy has no enabled rules")
	}
	return out
}

func writeLintText(w io.Writer, results []LintResult) {
	var totalErrors, totalWarnings int
	for _, r := range results {
		fmt.Fprintf(w, "Validating %s...\n", r.File)
		if r.Valid {
			fmt.Fprintf(w, "✓ %d policies valid\n", r.Policies)
		}
		for _, e := range r.Errors {
			fmt.Fprintf(w, "✗ Error: %s\n", e.Message)
			totalErrors++
		}
		for _, warn := range r.Warnings {
			fmt.Fprintf(w, "⚠  Warning: %s: %s (%s)\n", warn.PolicyID, warn.Message, warn.Field)
			totalWarnings++
		}
	}
	fmt.Fprintf(w, "\n%d files, %d errors, %d warnings\n", len(results), totalErrors, totalWarnings)
}

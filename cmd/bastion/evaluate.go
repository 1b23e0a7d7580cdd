package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"mercator-hq/bastion/pkg/cli"
	"mercator-hq/bastion/pkg/policy"
	"mercator-hq/bastion/pkg/policy/engine"
	"mercator-hq/bastion/pkg/policy/source"
)

var evaluateFlags struct {
	policies string
	context  string
	strategy string
	defaults bool
	format   string
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate a request context against policy bundles",
	Long: `Evaluate a request context offline against policy bundles.

An in-process engine is started with the given bundles, the context is
evaluated once and the verdict is printed. Nothing is propagated.

The context file is YAML (or JSON) with the evaluation context fields:

  user_id: alice
  operation: read
  security_level: medium
  roles: [analyst]

Examples:
  # Evaluate against a bundle directory
  bastion evaluate --policies policies/ --context request.yaml

  # Include the built-in policies and print JSON
  bastion evaluate --policies policies.yaml --context request.yaml --defaults --format json

  # Read the context from stdin
  cat request.yaml | bastion evaluate --policies policies.yaml --context -`,
	RunE: evaluateContext,
}

func init() {
	rootCmd.AddCommand(evaluateCmd)

	evaluateCmd.Flags().StringVarP(&evaluateFlags.policies, "policies", "p", "", "policy bundle file or directory")
	evaluateCmd.Flags().StringVarP(&evaluateFlags.context, "context", "x", "", "evaluation context file, - for stdin")
	evaluateCmd.Flags().StringVar(&evaluateFlags.strategy, "strategy", "", "override the conflict resolution strategy")
	evaluateCmd.Flags().BoolVar(&evaluateFlags.defaults, "defaults", false, "include the built-in policies")
	evaluateCmd.Flags().StringVar(&evaluateFlags.format, "format", "text", "output format: text, json, yaml")
}

func evaluateContext(cmd *cobra.Command, args []string) error {
	if evaluateFlags.context == "" {
		return fmt.Errorf("--context must be specified")
	}
	if evaluateFlags.policies == "" && !evaluateFlags.defaults {
		return fmt.Errorf("either --policies or --defaults must be specified")
	}
	format, err := cli.ParseOutputFormat(evaluateFlags.format)
	if err != nil {
		return err
	}

	ectx, err := readEvaluationContext(cmd.InOrStdin(), evaluateFlags.context)
	if err != nil {
		return err
	}

	cfg := engine.DefaultConfig()
	cfg.LoadDefaults = evaluateFlags.defaults
	cfg.ReconcileSchedule = ""
	cfg.Cache.Enabled = false
	if evaluateFlags.strategy != "" {
		cfg.DefaultStrategy = policy.ResolutionStrategy(evaluateFlags.strategy)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if verbose {
		logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	opts := []engine.Option{engine.WithLogger(logger)}
	if evaluateFlags.policies != "" {
		opts = append(opts, engine.WithSource(source.NewFileSource(evaluateFlags.policies, 0, logger)))
	}

	eng, err := engine.New(cfg, opts...)
	if err != nil {
		return cli.NewConfigError("strategy", err.Error())
	}
	ctx := cmd.Context()
	if err := eng.Init(ctx); err != nil {
		return cli.NewCommandError("evaluate", err)
	}
	defer eng.Shutdown(ctx)

	res, err := eng.Evaluate(ctx, ectx)
	if err != nil {
		return cli.NewCommandError("evaluate", err)
	}

	out := cmd.OutOrStdout()
	if format == cli.FormatText {
		writeVerdict(out, res)
		return nil
	}
	return cli.NewFormatter(format).FormatTo(out, res)
}

func readEvaluationContext(stdin io.Reader, path string) (policy.EvaluationContext, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return policy.EvaluationContext{}, fmt.Errorf("read evaluation context: %w", err)
	}

	var ectx policy.EvaluationContext
	if err := yaml.Unmarshal(data, &ectx); err != nil {
		return policy.EvaluationContext{}, &policy.ValidationError{Field: "context", Message: err.Error()}
	}
	return ectx, nil
}

func writeVerdict(w io.Writer, res *policy.EvaluationResult) {
	verdict := "ALLOW"
	if !res.Allowed {
		verdict = "DENY"
	}
	fmt.Fprintf(w, "Decision:    %s\n", verdict)
	fmt.Fprintf(w, "Enforcement: %s\n", res.EnforcementLevel)

	var flags []string
	if res.AuditRequired {
		flags = append(flags, "audit")
	}
	if res.QuarantineRequired {
		flags = append(flags, "quarantine")
	}
	if len(flags) > 0 {
		fmt.Fprintf(w, "Required:    %s\n", strings.Join(flags, ", "))
	}

	fmt.Fprintf(w, "\nMatched policies (%d):\n", len(res.PolicyMatches))
	for _, m := range res.PolicyMatches {
		rules := make([]string, 0, len(m.RuleMatches))
		for _, rm := range m.Matched() {
			rules = append(rules, rm.RuleID)
		}
		fmt.Fprintf(w, "  - %s [%s, confidence %.2f] rules: %s\n", m.PolicyID, m.Priority, m.Confidence, strings.Join(rules, ", "))
	}
	if len(res.Conflicts) > 0 {
		fmt.Fprintf(w, "\nConflicts (%d):\n", len(res.Conflicts))
		for _, c := range res.Conflicts {
			fmt.Fprintf(w, "  - %s vs %s: %s resolved by %s, winner %s\n", c.PolicyA, c.PolicyB, c.Type, c.Resolution, c.Winner)
		}
	}
}

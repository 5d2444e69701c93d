package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/solatis/factkeeper/internal/core/config"
	"github.com/solatis/factkeeper/internal/rules"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate a fact document against a rule file without a database",
	Long: `Loads rule definitions from a JSON file (an array of definitions or a
single definition) and evaluates one fact document against them. Reads
facts from --facts, or stdin when the flag is "-". Results are printed as
JSON; no events are dispatched.`,
	RunE: runEvaluate,
}

func init() {
	rootCmd.AddCommand(evaluateCmd)
	evaluateCmd.Flags().String("rules", "", "path to rule definitions file (required)")
	evaluateCmd.Flags().String("facts", "-", "path to fact document, or - for stdin")
	_ = evaluateCmd.MarkFlagRequired("rules")
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	setupLogger()

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	rulesPath, _ := cmd.Flags().GetString("rules")
	factsPath, _ := cmd.Flags().GetString("facts")

	ruleData, err := os.ReadFile(rulesPath)
	if err != nil {
		return fmt.Errorf("failed to read rules: %w", err)
	}

	var factsData []byte
	if factsPath == "-" {
		factsData, err = io.ReadAll(os.Stdin)
	} else {
		factsData, err = os.ReadFile(factsPath)
	}
	if err != nil {
		return fmt.Errorf("failed to read facts: %w", err)
	}

	var scripts *rules.ScriptEnv
	if cfg.ScriptsEnabled {
		scripts, err = rules.NewScriptEnv(rules.ScriptOptions{
			CostLimit: cfg.ScriptCostLimit,
			Timeout:   cfg.ScriptTimeout,
		})
		if err != nil {
			return err
		}
	}

	compiler := rules.NewCompiler(rules.NewRegistry(), scripts, rules.CompileOptions{
		Paths: rules.PathOptions{ExtendedSyntax: cfg.ExtendedPaths},
	})
	engine := rules.NewEngine(compiler)

	for i, doc := range splitRuleDocuments(ruleData) {
		if _, err := engine.AddRuleJSON(doc); err != nil {
			return fmt.Errorf("rule %d: %w", i, err)
		}
	}

	results, err := engine.RunJSON(context.Background(), factsData)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

// splitRuleDocuments accepts either a JSON array of definitions or a
// single definition object.
func splitRuleDocuments(data []byte) []json.RawMessage {
	var docs []json.RawMessage
	if err := json.Unmarshal(data, &docs); err == nil {
		return docs
	}
	return []json.RawMessage{data}
}

package cmd

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/bimmerbailey/prompthakcer/internal/config"
	"github.com/bimmerbailey/prompthakcer/internal/engine"
	"github.com/bimmerbailey/prompthakcer/internal/llm"
	"github.com/bimmerbailey/prompthakcer/internal/llm/ollama"
	"github.com/bimmerbailey/prompthakcer/internal/output"
)

var sendCmd = &cobra.Command{
	Use:   "send [flags] [prompt...]",
	Short: "Optimize a prompt and send it to an LLM",
	Long: `Scan and optimize a prompt, then stream it to the configured LLM and
print the reply.

Sending is refused when the DLP scan finds sensitive data. --force sends
anyway; the optimized prompt still has every enabled security rule
applied, so matches those rules redact are not sent.

Examples:
  prompthakcer send "Could you please explain what a goroutine is"
  prompthakcer send --system "Answer in one sentence" < question.txt
  prompthakcer send --model qwen2.5 --no-optimize "hello"`,
	RunE: runSend,
}

func init() {
	sendCmd.Flags().String("system", "", "system prompt")
	sendCmd.Flags().String("model", "", "model to use (defaults to llm.ollama.model)")
	sendCmd.Flags().Bool("force", false, "send even when sensitive data is detected")
	sendCmd.Flags().Bool("no-optimize", false, "send the prompt as written")

	rootCmd.AddCommand(sendCmd)
}

// newLLMProvider creates the provider named by cfg.Provider.
var newLLMProvider = func(cfg config.LLMConfig, logger *slog.Logger) (llm.Provider, error) {
	switch cfg.Provider {
	case "", "ollama":
		return ollama.New(cfg.Ollama, logger)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q (expected ollama)", cfg.Provider)
	}
}

type sendResult struct {
	Prompt      string          `json:"prompt"`
	Reply       string          `json:"reply"`
	Provider    string          `json:"provider"`
	Model       string          `json:"model"`
	Stats       *engine.Stats   `json:"stats,omitempty"`
	DLPFindings engine.Findings `json:"dlpFindings"`
}

func runSend(cmd *cobra.Command, args []string) error {
	system, _ := cmd.Flags().GetString("system")
	model, _ := cmd.Flags().GetString("model")
	force, _ := cmd.Flags().GetBool("force")
	noOptimize, _ := cmd.Flags().GetBool("no-optimize")

	ctx := commandContext(cmd)
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	prompt, err := readPrompt(cmd, args)
	if err != nil {
		return err
	}
	if prompt == "" {
		_ = cmd.Usage()
		return llm.ErrEmptyPrompt
	}

	eng := engine.New(a.store, a.logger)
	sink, err := a.historySink()
	if err != nil {
		a.logger.Warn("stats disabled", "error", err)
	}

	findings := eng.ScanDLP(prompt)
	if sink != nil {
		if err := sink.RecordScan(ctx, findings); err != nil {
			a.logger.Warn("failed to record scan", "error", err)
		}
	}
	if len(findings) > 0 {
		if err := output.New(cmd.ErrOrStderr(), output.FormatText).WriteFindings(findings); err != nil {
			return err
		}
		if !force {
			return &ExitError{Code: exitFindings, Err: fmt.Errorf("refusing to send: %d sensitive item(s) detected (use --force to override)", findings.Total())}
		}
	}

	result := sendResult{Prompt: prompt, Provider: a.cfg.LLM.Provider, DLPFindings: findings}
	if !noOptimize {
		res := eng.Optimize(prompt, engine.Options{EnableCompression: a.cfg.EnableCompression})
		if sink != nil && res.HasChanges {
			if err := sink.RecordOptimization(ctx, a.store.Level(), res); err != nil {
				a.logger.Warn("failed to record optimization", "error", err)
			}
		}
		result.Prompt = res.Optimized
		result.Stats = &res.Stats
		a.logger.Info("prompt optimized", "tokens_saved", res.Stats.TokensSaved, "rules", len(res.AppliedRules))
	}

	provider, err := newLLMProvider(a.cfg.LLM, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create LLM provider: %w", err)
	}
	if err := provider.Heartbeat(ctx); err != nil {
		return fmt.Errorf("cannot connect to %s at %s: %w\n\nStart Ollama with: ollama serve",
			result.Provider, a.cfg.LLM.Ollama.Host, err)
	}

	if model == "" {
		model = a.cfg.LLM.Ollama.Model
	}
	result.Model = model
	opts := &llm.ChatOptions{
		Model:       model,
		Temperature: a.cfg.LLM.Temperature,
		MaxTokens:   a.cfg.LLM.MaxTokens,
	}

	out := a.writer(cmd.OutOrStdout())
	var stream io.Writer = cmd.OutOrStdout()
	if out.Format() == output.FormatJSON {
		stream = io.Discard
	}

	reply, err := llm.Forward(ctx, provider, system, result.Prompt, opts, stream)
	if err != nil {
		return fmt.Errorf("LLM request failed: %w", err)
	}
	result.Reply = reply

	if out.Format() == output.FormatJSON {
		return out.WriteJSON(result)
	}
	fmt.Fprintln(cmd.OutOrStdout())
	return nil
}

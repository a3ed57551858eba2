package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	ports "github.com/ZanzyTHEbar/tester-agent/uta/harness/ports"
	"github.com/ZanzyTHEbar/tester-agent/uta/transcript"
)

// DefaultJudgeTemperature keeps external verdicts close to deterministic.
const DefaultJudgeTemperature = 0.1

const judgeSystemPrompt = "You are an expert evaluator of conversational AI agents. " +
	"Answer with a single JSON object and nothing else."

// ProviderJudge implements ports.ExternalJudge by prompting a Provider.
type ProviderJudge struct {
	provider ports.Provider
	opts     ports.Options
}

// NewProviderJudge wraps provider. Unset sampling options get judge defaults
// and JSON mode is always requested.
func NewProviderJudge(provider ports.Provider, opts ports.Options) *ProviderJudge {
	if opts.Temperature == 0 {
		opts.Temperature = DefaultJudgeTemperature
	}
	opts.JSONMode = true
	return &ProviderJudge{provider: provider, opts: opts}
}

// Evaluate returns the raw model reply for req.
func (j *ProviderJudge) Evaluate(ctx context.Context, req ports.JudgeRequest) (string, error) {
	in := ports.PromptInput{
		System:   judgeSystemPrompt,
		Messages: []ports.PromptMessage{{Role: transcript.ChatUser, Content: BuildJudgePrompt(req)}},
		Meta:     map[string]string{"scenario_id": req.ScenarioID, "purpose": "judge"},
	}
	out, err := j.provider.Complete(ctx, in, j.opts)
	if err != nil {
		return "", fmt.Errorf("judge completion: %w", err)
	}
	return out.Text, nil
}

// BuildJudgePrompt renders the evaluation instructions for req. Line endings
// are normalised and surrounding whitespace trimmed so identical requests
// produce identical prompts.
func BuildJudgePrompt(req ports.JudgeRequest) string {
	norm := func(s string) string { return strings.TrimSpace(strings.ReplaceAll(s, "\r\n", "\n")) }

	var b strings.Builder
	b.WriteString("Evaluate the agent in the conversation below against the scenario.\n\n")
	b.WriteString("SCENARIO:\n")
	if req.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", norm(req.Title))
	}
	fmt.Fprintf(&b, "User goal: %s\n", norm(req.Goal))
	if req.OracleDescription != "" {
		fmt.Fprintf(&b, "Expected behaviour: %s\n", norm(req.OracleDescription))
	}

	b.WriteString("\nCONVERSATION:\n")
	var last map[string]any
	for _, t := range req.Transcript {
		if t.Failed() {
			fmt.Fprintf(&b, "%s: [no reply: %s]\n", strings.ToUpper(string(t.Role)), t.Error)
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", strings.ToUpper(string(t.Role)), norm(t.Text))
		if t.Role == transcript.RoleAgent && len(t.Structured) > 0 {
			last = t.Structured
		}
	}

	b.WriteString("\nLAST STRUCTURED OUTPUT:\n")
	if last == nil {
		b.WriteString("None\n")
	} else if data, err := json.MarshalIndent(last, "", "  "); err == nil {
		b.Write(data)
		b.WriteString("\n")
	}

	b.WriteString("\nScore each of the following from 0.0 to 1.0:\n")
	for _, m := range req.Metrics {
		fmt.Fprintf(&b, "- %s\n", m)
	}
	b.WriteString("- confidence (how sure you are of this evaluation)\n\n")
	b.WriteString("Respond with JSON of the form:\n")
	b.WriteString(`{"relevance": 0.0, "completeness": 0.0, "groundedness": 0.0, "confidence": 0.0, "reasoning": "short explanation"}`)
	b.WriteString("\n")
	return b.String()
}

var _ ports.ExternalJudge = (*ProviderJudge)(nil)

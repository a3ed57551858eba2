package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/tester-agent/uta/errs"
	ports "github.com/ZanzyTHEbar/tester-agent/uta/harness/ports"
	"github.com/ZanzyTHEbar/tester-agent/uta/textutil"
	"github.com/ZanzyTHEbar/tester-agent/uta/transcript"
)

// ProviderAgent exposes a chat-completion Provider as the agent under test.
// Structured output is taken from the first JSON object in the reply.
type ProviderAgent struct {
	provider     ports.Provider
	system       string
	opts         ports.Options
	costPer1KTok float64
	now          func() time.Time
}

// ProviderAgentConfig configures a ProviderAgent.
type ProviderAgentConfig struct {
	SystemPrompt string
	Options      ports.Options
	// CostPer1KTokens prices provider usage; zero leaves cost to the
	// orchestrator's estimate.
	CostPer1KTokens float64
}

// NewProviderAgent wraps provider.
func NewProviderAgent(provider ports.Provider, cfg ProviderAgentConfig) *ProviderAgent {
	return &ProviderAgent{
		provider:     provider,
		system:       cfg.SystemPrompt,
		opts:         cfg.Options,
		costPer1KTok: cfg.CostPer1KTokens,
		now:          time.Now,
	}
}

// Send forwards history to the provider. Deadline expiry becomes
// *errs.AdapterTimeout; every other failure becomes *errs.AdapterError.
func (a *ProviderAgent) Send(ctx context.Context, history []transcript.Message) (ports.AgentReply, error) {
	in := ports.PromptInput{System: a.system, Messages: make([]ports.PromptMessage, len(history))}
	for i, m := range history {
		in.Messages[i] = ports.PromptMessage{Role: m.Role, Content: m.Content}
	}

	start := a.now()
	out, err := a.provider.Complete(ctx, in, a.opts)
	latency := float64(a.now().Sub(start).Microseconds()) / 1000
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ports.AgentReply{}, errs.NewAdapterTimeout(err)
		}
		status := out.Status
		if status == 0 {
			status = StatusOf(err)
		}
		return ports.AgentReply{}, errs.NewAdapterError(status, err)
	}

	text, structured := splitReply(out.Text)
	reply := ports.AgentReply{
		Text:       text,
		Structured: structured,
		Metadata:   ports.ReplyMetadata{LatencyMs: latency, Status: out.Status},
	}
	if a.costPer1KTok > 0 && out.Usage != nil {
		reply.Metadata.CostUSD = float64(out.Usage.TotalTokens) / 1000 * a.costPer1KTok
	}
	return reply, nil
}

// envelope is the alternate reply shape where the model wraps its answer as
// {"text": ..., "structured": {...}}; "message" and "data" are accepted too.
type envelope struct {
	Text       *string        `json:"text"`
	Message    *string        `json:"message"`
	Structured map[string]any `json:"structured"`
	Data       map[string]any `json:"data"`
}

func splitReply(content string) (string, map[string]any) {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "{") {
		var env envelope
		if err := json.Unmarshal([]byte(trimmed), &env); err == nil && (env.Text != nil || env.Message != nil) {
			text := ""
			if env.Text != nil {
				text = *env.Text
			} else {
				text = *env.Message
			}
			structured := env.Structured
			if structured == nil {
				structured = env.Data
			}
			return text, structured
		}
	}
	structured, _ := textutil.ExtractObject(content)
	return content, structured
}

var _ ports.Agent = (*ProviderAgent)(nil)

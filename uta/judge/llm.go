package judge

import (
	"context"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/ZanzyTHEbar/tester-agent/uta/errs"
	ports "github.com/ZanzyTHEbar/tester-agent/uta/harness/ports"
	"github.com/ZanzyTHEbar/tester-agent/uta/scenario"
	"github.com/ZanzyTHEbar/tester-agent/uta/textutil"
	"github.com/ZanzyTHEbar/tester-agent/uta/transcript"
)

//go:embed schema/llm_response.json
var llmResponseSchema []byte

var responseSchema = mustSchema(llmResponseSchema)

func mustSchema(b []byte) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(b))
	if err != nil {
		panic(fmt.Sprintf("judge: invalid embedded schema: %v", err))
	}
	return s
}

// LLMScores is a successfully parsed external judge response.
type LLMScores struct {
	Scores     Scores
	Reasoning  string
	Confidence float64
}

// LLMOutcome carries either parsed scores or the reason the external judge
// could not be used. Exactly one of Scores and Err is set.
type LLMOutcome struct {
	Scores *LLMScores
	Err    error
}

// OK reports whether the external judge produced usable scores.
func (o LLMOutcome) OK() bool {
	return o.Err == nil && o.Scores != nil
}

type llmResponse struct {
	Relevance    float64 `json:"relevance"`
	Completeness float64 `json:"completeness"`
	Groundedness float64 `json:"groundedness"`
	Confidence   float64 `json:"confidence"`
	Reasoning    string  `json:"reasoning"`
}

// ParseLLMResponse extracts, validates and clamps an external judge reply.
// Errors are *errs.JudgeFailure tagged with the failing stage.
func ParseLLMResponse(raw string) (*LLMScores, error) {
	doc := textutil.ExtractJSON(raw)
	if doc == "" {
		return nil, errs.NewJudgeFailure("extract", errors.New("no JSON object in response"))
	}

	res, err := responseSchema.Validate(gojsonschema.NewStringLoader(doc))
	if err != nil {
		return nil, errs.NewJudgeFailure("validate", err)
	}
	if !res.Valid() {
		return nil, errs.NewJudgeFailure("validate", errors.New(schemaErrors(res)))
	}

	var parsed llmResponse
	if err := json.Unmarshal([]byte(doc), &parsed); err != nil {
		return nil, errs.NewJudgeFailure("decode", err)
	}
	return &LLMScores{
		Scores: Scores{
			scenario.MetricRelevance:    clamp01(parsed.Relevance),
			scenario.MetricCompleteness: clamp01(parsed.Completeness),
			scenario.MetricGroundedness: clamp01(parsed.Groundedness),
		},
		Reasoning:  parsed.Reasoning,
		Confidence: clamp01(parsed.Confidence),
	}, nil
}

// NewRequest serialises a conversation for the external judge.
func NewRequest(conv *transcript.Conversation, sc *scenario.Scenario) ports.JudgeRequest {
	return ports.JudgeRequest{
		ScenarioID:        sc.ID,
		Title:             sc.Title,
		Goal:              sc.Goal.UserGoal,
		OracleDescription: sc.Oracle.Description,
		Metrics:           append([]string(nil), scenario.Metrics...),
		Transcript:        conv.Turns(),
	}
}

// consult calls the external judge, going through the cache and rate limiter
// when configured. It never returns an error; failures land in LLMOutcome.Err.
func (e *Engine) consult(ctx context.Context, req ports.JudgeRequest) LLMOutcome {
	if e.external == nil {
		return LLMOutcome{Err: errs.NewJudgeFailure("call", errors.New("no external judge configured"))}
	}

	key, keyErr := requestKey(req)
	if keyErr == nil {
		if cached, ok := e.cache.Get(ctx, key); ok {
			if scores, err := ParseLLMResponse(string(cached)); err == nil {
				e.tracer.Event(ctx, "judge_cache_hit", map[string]any{"scenario_id": req.ScenarioID})
				return LLMOutcome{Scores: scores}
			}
			_ = e.cache.Delete(ctx, key)
		}
	}

	release, err := e.limiter.Acquire(ctx, "judge")
	if err != nil {
		return LLMOutcome{Err: errs.NewJudgeFailure("call", fmt.Errorf("rate limit: %w", err))}
	}
	defer release()

	callCtx := ctx
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	spanCtx, finish := e.tracer.StartSpan(callCtx, "judge_call", map[string]any{"scenario_id": req.ScenarioID})
	raw, err := e.external.Evaluate(spanCtx, req)
	finish(err)
	if err != nil {
		return LLMOutcome{Err: errs.NewJudgeFailure("call", err)}
	}

	scores, err := ParseLLMResponse(raw)
	if err != nil {
		return LLMOutcome{Err: err}
	}
	if keyErr == nil {
		if err := e.cache.Set(ctx, key, []byte(raw), int(e.cfg.CacheTTL.Seconds())); err != nil {
			e.logger.Debug().Err(err).Msg("failed to cache judge response")
		}
	}
	return LLMOutcome{Scores: scores}
}

// requestKey digests the parts of a request that determine the verdict, so
// identical conversations replayed later hit the cache.
func requestKey(req ports.JudgeRequest) (string, error) {
	type keyTurn struct {
		Role       transcript.Role `json:"r"`
		Text       string          `json:"t"`
		Structured map[string]any  `json:"s,omitempty"`
	}
	turns := make([]keyTurn, len(req.Transcript))
	for i, t := range req.Transcript {
		turns[i] = keyTurn{Role: t.Role, Text: t.Text, Structured: t.Structured}
	}
	b, err := json.Marshal(struct {
		Goal   string    `json:"g"`
		Oracle string    `json:"o"`
		Turns  []keyTurn `json:"t"`
	}{req.Goal, req.OracleDescription, turns})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return "judge:" + hex.EncodeToString(sum[:]), nil
}

package harnessports

import (
	"context"

	"github.com/ZanzyTHEbar/tester-agent/uta/transcript"
)

// JudgeRequest is everything an external judge sees about a conversation.
type JudgeRequest struct {
	ScenarioID        string            `json:"scenario_id"`
	Title             string            `json:"title,omitempty"`
	Goal              string            `json:"goal"`
	OracleDescription string            `json:"oracle_description,omitempty"`
	Metrics           []string          `json:"metrics"`
	Transcript        []transcript.Turn `json:"transcript"`
}

// ExternalJudge scores a transcript with a language model. It returns the raw
// model output; parsing and validation belong to the judge engine.
type ExternalJudge interface {
	Evaluate(ctx context.Context, req JudgeRequest) (string, error)
}

package judge

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/ZanzyTHEbar/tester-agent/uta/scenario"
	"github.com/ZanzyTHEbar/tester-agent/uta/textutil"
	"github.com/ZanzyTHEbar/tester-agent/uta/transcript"
)

// lastAgentWindow is how many trailing agent turns text assertions inspect by
// default.
const lastAgentWindow = 2

// EvaluateAssertions checks every hard assertion exactly. Text kinds look at
// the assertion's target turns; structural kinds look at the payload of the
// final agent turn, or the one before a failed final call.
func EvaluateAssertions(conv *transcript.Conversation, sc *scenario.Scenario) []AssertionResult {
	structured := conv.FinalStructured()
	results := make([]AssertionResult, 0, len(sc.Oracle.HardAssertions))
	for _, a := range sc.Oracle.HardAssertions {
		passed, detail := check(a, targetText(conv, a.Target), structured)
		results = append(results, AssertionResult{Name: a.Name, Kind: a.Kind, Passed: passed, Detail: detail})
	}
	return results
}

func check(a scenario.Assertion, text string, structured map[string]any) (bool, string) {
	switch a.Kind {
	case scenario.KindContainsAny:
		if phrase, ok := textutil.FirstMatch(text, a.Values...); ok {
			return true, fmt.Sprintf("matched %q", phrase)
		}
		return false, "none of the values found"

	case scenario.KindNotContainsAny:
		if phrase, ok := textutil.FirstMatch(text, a.Values...); ok {
			return false, fmt.Sprintf("found forbidden %q", phrase)
		}
		return true, ""

	case scenario.KindMatchesRegex:
		re, err := regexp.Compile("(?i)" + a.Pattern)
		if err != nil {
			return false, fmt.Sprintf("invalid pattern: %v", err)
		}
		if re.MatchString(text) {
			return true, ""
		}
		return false, "pattern did not match"

	case scenario.KindPathExists:
		if _, ok := scenario.Lookup(structured, a.Path); ok {
			return true, ""
		}
		return false, fmt.Sprintf("%s not present", a.Path)

	case scenario.KindPathEquals:
		v, ok := scenario.Lookup(structured, a.Path)
		if !ok {
			return false, fmt.Sprintf("%s not present", a.Path)
		}
		if scenario.ValuesEqual(v, a.Expected) {
			return true, ""
		}
		return false, fmt.Sprintf("%s is %v, want %v", a.Path, v, a.Expected)

	case scenario.KindNumberBetween:
		return numberBetween(a, structured)

	case scenario.KindJSONSchema:
		return matchesSchema(a.Schema, structured)

	default:
		return false, fmt.Sprintf("unknown assertion kind %q", a.Kind)
	}
}

func numberBetween(a scenario.Assertion, structured map[string]any) (bool, string) {
	raw, ok := scenario.Lookup(structured, a.Path)
	if !ok {
		return false, fmt.Sprintf("%s not present", a.Path)
	}
	v, ok := scenario.ToFloat(raw)
	if !ok {
		return false, fmt.Sprintf("%s is not numeric", a.Path)
	}
	lo := 0.0
	if a.Min != nil {
		lo = *a.Min
	}
	if v < lo {
		return false, fmt.Sprintf("%v below %v", v, lo)
	}
	if a.Max != nil && v > *a.Max {
		return false, fmt.Sprintf("%v above %v", v, *a.Max)
	}
	return true, ""
}

func matchesSchema(schema string, structured map[string]any) (bool, string) {
	if structured == nil {
		return false, "no structured payload"
	}
	doc, err := json.Marshal(structured)
	if err != nil {
		return false, fmt.Sprintf("payload not encodable: %v", err)
	}
	res, err := gojsonschema.Validate(gojsonschema.NewStringLoader(schema), gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return false, fmt.Sprintf("schema validation failed: %v", err)
	}
	if !res.Valid() {
		return false, schemaErrors(res)
	}
	return true, ""
}

func schemaErrors(res *gojsonschema.Result) string {
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return strings.Join(msgs, "; ")
}

// targetText joins the text of the turns an assertion applies to.
func targetText(conv *transcript.Conversation, target string) string {
	switch target {
	case scenario.TargetAgent:
		return joinTexts(conv.AgentTurns())
	case scenario.TargetTester:
		return joinTexts(conv.TesterTurns())
	case scenario.TargetTranscript:
		return joinTexts(conv.Turns())
	default:
		agent := conv.AgentTurns()
		if len(agent) > lastAgentWindow {
			agent = agent[len(agent)-lastAgentWindow:]
		}
		return joinTexts(agent)
	}
}

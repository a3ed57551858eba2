package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	ports "github.com/ZanzyTHEbar/tester-agent/uta/harness/ports"
	"github.com/ZanzyTHEbar/tester-agent/uta/transcript"
)

// Collections fixture files.
const (
	DebtorsFile  = "debtors.json"
	PoliciesFile = "policies.yaml"

	mockPromiseDate     = "2025-09-08"
	mockDefaultMinimum  = 1000
	mockPromiseFraction = 0.2
)

var (
	rupeeAmountPattern = regexp.MustCompile(`₹(\d+)`)
	isoDatePattern     = regexp.MustCompile(`(\d{4}-\d{2}-\d{2})`)
)

// Debtor is one account in the collections fixture.
type Debtor struct {
	Name       string  `json:"name"`
	Balance    float64 `json:"balance"`
	MinPayment float64 `json:"min_payment"`
}

// Policies are the compliance rules the mock agent follows.
type Policies struct {
	MandatoryDisclosures []string `yaml:"mandatory_disclosures"`
	ForbiddenPhrases     []string `yaml:"forbidden_phrases"`
}

// LoadPolicies reads policies.yaml from fsys and, when profile is set, merges
// policies_<profile>.yaml over it. Keys present in the profile file replace
// the base values.
func LoadPolicies(fsys fs.FS, profile string) (Policies, error) {
	base := map[string]any{}
	if err := readYAML(fsys, PoliciesFile, &base); err != nil {
		return Policies{}, err
	}
	if profile != "" && profile != "default" {
		overrides := map[string]any{}
		err := readYAML(fsys, "policies_"+profile+".yaml", &overrides)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Policies{}, err
		default:
			base = mergeMaps(base, overrides)
		}
	}

	// Round-trip through YAML to decode the merged tree into the typed form.
	merged, err := yaml.Marshal(base)
	if err != nil {
		return Policies{}, fmt.Errorf("encode merged policies: %w", err)
	}
	var p Policies
	if err := yaml.Unmarshal(merged, &p); err != nil {
		return Policies{}, fmt.Errorf("decode merged policies: %w", err)
	}
	if len(p.MandatoryDisclosures) == 0 {
		return Policies{}, fmt.Errorf("%s: no mandatory_disclosures", PoliciesFile)
	}
	return p, nil
}

func readYAML(fsys fs.FS, name string, out *map[string]any) error {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	return nil
}

func mergeMaps(base, overrides map[string]any) map[string]any {
	out := make(map[string]any, len(base))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overrides {
		if bm, ok := out[k].(map[string]any); ok {
			if om, ok := v.(map[string]any); ok {
				out[k] = mergeMaps(bm, om)
				continue
			}
		}
		out[k] = v
	}
	return out
}

// DebtorPrecondition is the scenario precondition naming the debtor account.
const DebtorPrecondition = "debtor_id"

// MockCollectionsAgent is a deterministic debt-collections agent driven by
// fixtures. It always opens with the first mandatory disclosure, reacts to a
// handful of intents in the last user message, strips forbidden phrases and
// emits a structured payload.
type MockCollectionsAgent struct {
	debtors   map[string]Debtor
	debtorID  string
	policies  Policies
	forbidden []*regexp.Regexp
}

// NewMockCollectionsAgent loads debtors.json and the policies from fsys.
// debtorID is the account used unless the scenario in the call context sets
// the debtor_id precondition. An unknown debtor gets an empty account.
func NewMockCollectionsAgent(fsys fs.FS, debtorID, profile string) (*MockCollectionsAgent, error) {
	data, err := fs.ReadFile(fsys, DebtorsFile)
	if err != nil {
		return nil, err
	}
	var debtors map[string]Debtor
	if err := json.Unmarshal(data, &debtors); err != nil {
		return nil, fmt.Errorf("parse %s: %w", DebtorsFile, err)
	}
	policies, err := LoadPolicies(fsys, profile)
	if err != nil {
		return nil, err
	}
	return &MockCollectionsAgent{
		debtors:   debtors,
		debtorID:  debtorID,
		policies:  policies,
		forbidden: forbiddenPatterns(policies.ForbiddenPhrases),
	}, nil
}

// forbiddenPatterns compiles case-insensitive literal matchers for phrases,
// skipping empty entries.
func forbiddenPatterns(phrases []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(phrases))
	for _, phrase := range phrases {
		if phrase == "" {
			continue
		}
		out = append(out, regexp.MustCompile("(?i)"+regexp.QuoteMeta(phrase)))
	}
	return out
}

func (a *MockCollectionsAgent) debtor(ctx context.Context) Debtor {
	id := a.debtorID
	if info, ok := ports.ScenarioFrom(ctx); ok && info.Preconditions[DebtorPrecondition] != "" {
		id = info.Preconditions[DebtorPrecondition]
	}
	return a.debtors[id]
}

// Send answers the most recent user message.
func (a *MockCollectionsAgent) Send(ctx context.Context, history []transcript.Message) (ports.AgentReply, error) {
	if err := ctx.Err(); err != nil {
		return ports.AgentReply{}, err
	}

	debtor := a.debtor(ctx)
	userText := ""
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == transcript.ChatUser {
			userText = strings.ToLower(history[i].Content)
			break
		}
	}

	parts := []string{a.policies.MandatoryDisclosures[0] + ". "}
	structured := map[string]any{"actions": []any{}}

	switch {
	case containsAnyOf(userText, "yes", "confirm", "promise to pay") && strings.Contains(userText, "₹"):
		structured["intent"] = "confirm_promise"
		structured["outcome"] = "success"
		parts = append(parts,
			"Thank you for confirming your promise to pay. ",
			"Your payment plan has been recorded. ",
			"We'll send you a confirmation email with the details. ")
		amount := rupeeAmountPattern.FindStringSubmatch(userText)
		date := isoDatePattern.FindStringSubmatch(userText)
		if amount != nil && date != nil {
			n, _ := strconv.Atoi(amount[1])
			structured["promise_to_pay"] = map[string]any{"date": date[1], "amount": n, "confirmed": true}
		}

	case containsAnyOf(userText, "dispute", "verification"):
		structured["intent"] = "dispute"
		structured["outcome"] = "partial"
		structured["actions"] = []any{"handoff"}
		parts = append(parts,
			"I understand you wish to dispute. You may request verification of this debt. ",
			"I'll escalate and handoff you to a specialist for further assistance. ")

	case containsAnyOf(userText, "wrong person", "not the person", "wrong number"):
		structured["intent"] = "cease"
		structured["outcome"] = "success"
		structured["actions"] = []any{"cease_contact"}
		parts = append(parts, "Thanks for letting us know. We'll update our records and stop contacting this number. ")

	case containsAnyOf(userText, "pay next week", "pay next", "next week", "payment plan"):
		amount := promiseAmount(debtor)
		structured["intent"] = "set_payment_plan"
		structured["outcome"] = "success"
		structured["promise_to_pay"] = map[string]any{"date": mockPromiseDate, "amount": amount}
		parts = append(parts,
			"We can offer a plan that fits your situation. ",
			fmt.Sprintf("Your current balance is ₹%s. ", formatAmount(debtor.Balance)),
			fmt.Sprintf("Can you confirm a promise to pay ₹%d by %s? ", amount, mockPromiseDate))

	default:
		structured["intent"] = "collect_payment"
		parts = append(parts, "How can I help you regarding your account today? ")
	}

	text := strings.Join(parts, "")
	for _, re := range a.forbidden {
		text = re.ReplaceAllString(text, "")
	}

	return ports.AgentReply{
		Text:       strings.TrimSpace(text),
		Structured: structured,
		Metadata:   ports.ReplyMetadata{Status: 200},
	}, nil
}

// promiseAmount is the larger of the minimum payment and a fifth of the
// balance.
func promiseAmount(d Debtor) int {
	minimum := d.MinPayment
	if minimum == 0 {
		minimum = mockDefaultMinimum
	}
	return max(int(minimum), int(d.Balance*mockPromiseFraction))
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func containsAnyOf(text string, keys ...string) bool {
	for _, k := range keys {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

var _ ports.Agent = (*MockCollectionsAgent)(nil)

package strategy

import (
	mrand "math/rand/v2"
	"strings"

	"github.com/armon/go-radix"

	"github.com/ZanzyTHEbar/tester-agent/uta/errs"
)

// Constructor builds a fresh strategy for one conversation.
type Constructor func(rng *mrand.Rand) Strategy

type entry struct {
	kind Kind
	ctor Constructor
}

// Registry is the closed set of strategy kinds available to the harness. It
// is built once and read concurrently afterwards.
type Registry struct {
	tree *radix.Tree
}

// NewRegistry returns a registry holding the built-in strategies.
func NewRegistry() *Registry {
	r := &Registry{tree: radix.New()}
	r.register(FlowIntent, NewFlowIntent)
	r.register(ToolHappyPath, NewToolHappyPath)
	r.register(ToolError, NewToolError)
	r.register(MemoryCarry, NewMemoryCarry)
	return r
}

func (r *Registry) register(kind Kind, ctor Constructor) {
	r.tree.Insert(normalizeName(string(kind)), entry{kind: kind, ctor: ctor})
}

// Resolve maps a scenario's strategy name to a Kind. Names match regardless of
// case, underscores, hyphens and a trailing "Strategy", so "flow_intent" and
// "FlowIntentStrategy" both resolve to FlowIntent. An empty name resolves to
// the default.
func (r *Registry) Resolve(name string) (Kind, error) {
	if strings.TrimSpace(name) == "" {
		return r.Default(), nil
	}
	v, ok := r.tree.Get(normalizeName(name))
	if !ok {
		return "", errs.NewConfigError("tester_strategy", "unknown strategy %q (available: %s)",
			name, strings.Join(kindNames(r.Kinds()), ", "))
	}
	return v.(entry).kind, nil
}

// New returns a fresh strategy of the named kind seeded with rng.
func (r *Registry) New(name string, rng *mrand.Rand) (Strategy, error) {
	kind, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}
	v, _ := r.tree.Get(normalizeName(string(kind)))
	return v.(entry).ctor(rng), nil
}

// Kinds lists the registered kinds in sorted order.
func (r *Registry) Kinds() []Kind {
	kinds := make([]Kind, 0, r.tree.Len())
	r.tree.Walk(func(_ string, v interface{}) bool {
		kinds = append(kinds, v.(entry).kind)
		return false
	})
	return kinds
}

// Default is the kind used when a scenario names none.
func (r *Registry) Default() Kind {
	return FlowIntent
}

func normalizeName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.NewReplacer("_", "", "-", "", " ", "").Replace(n)
	return strings.TrimSuffix(n, "strategy")
}

func kindNames(kinds []Kind) []string {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return names
}

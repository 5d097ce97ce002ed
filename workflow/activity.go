package workflow

import "fmt"

// ActivityKind names the element types of the execution engine's graph.
type ActivityKind string

const (
	ActivityExecModule   ActivityKind = "WorkflowExecModule"
	ActivityIfGraph      ActivityKind = "IfGraph"
	ActivityWhileGraph   ActivityKind = "WhileGraph"
	ActivityForEachGraph ActivityKind = "ForEachGraph"
	ActivityVariable     ActivityKind = "VariableElement"
	ActivityPass         ActivityKind = "WFPass"
)

// Element is the payload of an activity.
type Element interface {
	UID() string
	Kind() ActivityKind
}

// Activity is one (kind, payload) entry of a compiled graph.
type Activity struct {
	Kind    ActivityKind `json:"kind" yaml:"kind"`
	Element Element      `json:"element" yaml:"element"`
}

// NewActivity wraps an element.
func NewActivity(e Element) Activity {
	return Activity{Kind: e.Kind(), Element: e}
}

// ID returns the id of the wrapped element.
func (a Activity) ID() string {
	return a.Element.UID()
}

// Transition is a directed edge between two activity ids.
type Transition struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}

// Graph is a list of activities and the transitions between them.
type Graph struct {
	Activities  []Activity   `json:"activities" yaml:"activities"`
	Transitions []Transition `json:"transitions" yaml:"transitions"`
}

// CompiledGraph is the result of rendering a node: its graph plus the ids a
// successor has to attach to.
type CompiledGraph struct {
	Graph   `yaml:",inline"`
	ExitIDs []string `json:"exit_ids" yaml:"exit_ids"`
	// BranchExitIDs holds one exit set per branch of a Parallel node.
	BranchExitIDs [][]string `json:"branch_exit_ids,omitempty" yaml:"branch_exit_ids,omitempty"`
}

// Append concatenates another graph's activities and transitions.
func (g *Graph) Append(other Graph) {
	g.Activities = append(g.Activities, other.Activities...)
	g.Transitions = append(g.Transitions, other.Transitions...)
}

// Connect adds a transition from every parent to id.
func (g *Graph) Connect(parents []string, id string) {
	for _, p := range parents {
		g.Transitions = append(g.Transitions, Transition{From: p, To: id})
	}
}

// Activity looks up an activity by id, searching embedded subgraphs too.
func (g *Graph) Activity(id string) (Activity, bool) {
	for _, a := range g.Activities {
		if a.ID() == id {
			return a, true
		}
		for _, sub := range subgraphs(a.Element) {
			if found, ok := sub.Activity(id); ok {
				return found, true
			}
		}
	}
	return Activity{}, false
}

// Validate checks that activity ids are unique across the graph and all
// embedded subgraphs and that every transition references a known activity.
// Reserved entry ids are accepted as transition sources.
func (g *Graph) Validate() error {
	return g.validate(make(map[string]bool))
}

func (g *Graph) validate(seen map[string]bool) error {
	local := make(map[string]bool, len(g.Activities))
	for _, a := range g.Activities {
		id := a.ID()
		if id == "" {
			return fmt.Errorf("activity of kind %s has no id", a.Kind)
		}
		if seen[id] {
			return fmt.Errorf("duplicate activity id %s", id)
		}
		seen[id] = true
		local[id] = true
	}
	for _, tr := range g.Transitions {
		if !local[tr.From] && !isReservedID(tr.From) {
			return fmt.Errorf("transition %s->%s: unknown source", tr.From, tr.To)
		}
		if !local[tr.To] {
			return fmt.Errorf("transition %s->%s: unknown target", tr.From, tr.To)
		}
	}
	for _, a := range g.Activities {
		for _, sub := range subgraphs(a.Element) {
			if err := sub.validate(seen); err != nil {
				return fmt.Errorf("%s %s: %w", a.Kind, a.ID(), err)
			}
		}
	}
	return nil
}

func subgraphs(e Element) []*Graph {
	switch el := e.(type) {
	case *IfGraph:
		return []*Graph{&el.TrueGraph, &el.FalseGraph}
	case *WhileGraph:
		return []*Graph{&el.Subgraph}
	case *ForEachGraph:
		return []*Graph{&el.Subgraph}
	}
	return nil
}

// ============================================================
// Elements
// ============================================================

// ExecModule runs one compute unit.
type ExecModule struct {
	ID         string            `json:"id" yaml:"id"`
	GivenName  string            `json:"given_name" yaml:"given_name"`
	WaNoName   string            `json:"wano_name,omitempty" yaml:"wano_name,omitempty"`
	Path       string            `json:"path" yaml:"path"`
	OutputPath string            `json:"output_path" yaml:"output_path"`
	Command    string            `json:"command,omitempty" yaml:"command,omitempty"`
	Inputs     map[string]string `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Outputs    []string          `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	Resources  Resources         `json:"resources" yaml:"resources"`
	Job        JobDescriptor     `json:"job" yaml:"job"`
}

func (e *ExecModule) UID() string        { return e.ID }
func (e *ExecModule) Kind() ActivityKind { return ActivityExecModule }

// IfGraph carries both compiled branches; the engine picks one at runtime.
type IfGraph struct {
	ID            string   `json:"id" yaml:"id"`
	Condition     string   `json:"condition" yaml:"condition"`
	TrueGraph     Graph    `json:"true_graph" yaml:"true_graph"`
	FalseGraph    Graph    `json:"false_graph" yaml:"false_graph"`
	TrueFinalIDs  []string `json:"true_final_ids" yaml:"true_final_ids"`
	FalseFinalIDs []string `json:"false_final_ids" yaml:"false_final_ids"`
	FinishID      string   `json:"finish_id" yaml:"finish_id"`
}

func (e *IfGraph) UID() string        { return e.ID }
func (e *IfGraph) Kind() ActivityKind { return ActivityIfGraph }

// WhileGraph carries the body template of a while loop.
type WhileGraph struct {
	ID               string   `json:"id" yaml:"id"`
	IteratorName     string   `json:"iterator_name" yaml:"iterator_name"`
	Condition        string   `json:"condition" yaml:"condition"`
	Subgraph         Graph    `json:"subgraph" yaml:"subgraph"`
	SubgraphFinalIDs []string `json:"subgraph_final_ids" yaml:"subgraph_final_ids"`
	FinishID         string   `json:"finish_id" yaml:"finish_id"`
}

func (e *WhileGraph) UID() string        { return e.ID }
func (e *WhileGraph) Kind() ActivityKind { return ActivityWhileGraph }

// ForEachGraph carries the body template of a ForEach or AdvancedFor loop.
// Exactly one iteration source is set.
type ForEachGraph struct {
	ID                string   `json:"id" yaml:"id"`
	IteratorName      string   `json:"iterator_name" yaml:"iterator_name"`
	IteratorFiles     []string `json:"iterator_files,omitempty" yaml:"iterator_files,omitempty"`
	IteratorVariables []string `json:"iterator_variables,omitempty" yaml:"iterator_variables,omitempty"`
	IteratorDefine    string   `json:"iterator_define,omitempty" yaml:"iterator_define,omitempty"`
	Subgraph          Graph    `json:"subgraph" yaml:"subgraph"`
	SubgraphFinalIDs  []string `json:"subgraph_final_ids" yaml:"subgraph_final_ids"`
	FinishID          string   `json:"finish_id" yaml:"finish_id"`
}

func (e *ForEachGraph) UID() string        { return e.ID }
func (e *ForEachGraph) Kind() ActivityKind { return ActivityForEachGraph }

// VariableElement computes a named value.
type VariableElement struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Equation string `json:"equation" yaml:"equation"`
}

func (e *VariableElement) UID() string        { return e.ID }
func (e *VariableElement) Kind() ActivityKind { return ActivityVariable }

// Pass does nothing; it gives branching constructs a single exit id.
type Pass struct {
	ID string `json:"id" yaml:"id"`
}

func (e *Pass) UID() string        { return e.ID }
func (e *Pass) Kind() ActivityKind { return ActivityPass }

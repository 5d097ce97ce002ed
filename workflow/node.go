package workflow

import "strings"

// NodeID addresses a node inside a Tree arena. The zero value means "no node".
type NodeID uint64

// NodeKind is the closed set of workflow node variants. Control kinds use the
// type strings of the persisted workflow document.
type NodeKind string

const (
	// KindLeaf wraps a single ComputeUnit.
	KindLeaf NodeKind = "WaNo"
	// KindSubWorkflow is an ordered list of named children.
	KindSubWorkflow NodeKind = "SubWorkflow"
	// KindIf holds a condition and a true and a false branch.
	KindIf NodeKind = "If"
	// KindWhile repeats its body while the condition holds.
	KindWhile NodeKind = "While"
	// KindForEach iterates its body over a file or variable list.
	KindForEach NodeKind = "ForEach"
	// KindAdvancedForEach iterates over a raw generator expression.
	KindAdvancedForEach NodeKind = "AdvancedFor"
	// KindParallel fans out into independent branches.
	KindParallel NodeKind = "Parallel"
	// KindVariable computes a named value from an equation.
	KindVariable NodeKind = "Variable"
)

// IsControl reports whether the kind is a control construct.
func (k NodeKind) IsControl() bool {
	return k != KindLeaf
}

// IterationSource selects what a ForEach iterates over.
type IterationSource string

const (
	// IterateFiles iterates over an explicit file list.
	IterateFiles IterationSource = "files"
	// IterateVariables iterates over an explicit variable list.
	IterateVariables IterationSource = "variables"
)

// Node is one entry of the authoring tree. Which fields are meaningful
// depends on Kind; Children always holds the owned sub-workflows:
//
//	SubWorkflow: its elements in declaration order
//	If:          [true branch, false branch]
//	While, ForEach, AdvancedFor: [body]
//	Parallel:    one SubWorkflow per branch
type Node struct {
	ID   NodeID
	Kind NodeKind
	Name string
	// Parent is a lookup-only back reference. Ownership runs through Children.
	Parent   NodeID
	Children []NodeID

	// Condition is the expression of If and While nodes.
	Condition string
	// IterName is the iterator name. AdvancedFor stores a comma-separated list.
	IterName string
	// Source and Items describe the ForEach iteration source.
	Source IterationSource
	Items  []string
	// DefineString is the raw AdvancedFor generator expression.
	DefineString string
	// Equation is the expression of a Variable node.
	Equation string

	// Unit is the wrapped compute unit of a leaf.
	Unit ComputeUnit
	// TemplateName names the shared template folder under wanos/.
	TemplateName string
	// TemplateDir is where the template currently lives on disk.
	TemplateDir string
	// UUID identifies the leaf instance and its configuration folder.
	UUID string
}

// IsLeaf reports whether the node wraps a compute unit.
func (n *Node) IsLeaf() bool {
	return n.Kind == KindLeaf
}

// IterNames splits the iterator name into its comma-separated parts.
func (n *Node) IterNames() []string {
	var names []string
	for _, part := range strings.Split(n.IterName, ",") {
		if part = strings.TrimSpace(part); part != "" {
			names = append(names, part)
		}
	}
	return names
}

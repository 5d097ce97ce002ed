package workflow

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/NanomatchGmbH/simstack-sub001/types"
)

// Tree is an id-addressed arena holding the authoring tree. The root is a
// SubWorkflow that owns the top-level elements.
type Tree struct {
	nodes map[NodeID]*Node
	next  NodeID
	root  NodeID
	ids   IDGenerator
}

// NewTree creates a tree with an empty root SubWorkflow.
func NewTree() *Tree {
	t := &Tree{
		nodes: make(map[NodeID]*Node),
		ids:   NewUUIDGenerator(),
	}
	t.root = t.add(&Node{Kind: KindSubWorkflow})
	return t
}

// WithIDGenerator replaces the generator used for leaf UUIDs.
func (t *Tree) WithIDGenerator(ids IDGenerator) *Tree {
	t.ids = ids
	return t
}

// Root returns the id of the root SubWorkflow.
func (t *Tree) Root() NodeID {
	return t.root
}

// Node retrieves a node by id.
func (t *Tree) Node(id NodeID) (*Node, bool) {
	n, ok := t.nodes[id]
	return n, ok
}

// MustNode retrieves a node by id and panics if it does not exist.
func (t *Tree) MustNode(id NodeID) *Node {
	n, ok := t.nodes[id]
	if !ok {
		panic(fmt.Sprintf("workflow: node %d not in tree", id))
	}
	return n
}

// Len returns the number of nodes in the arena, including the root.
func (t *Tree) Len() int {
	return len(t.nodes)
}

func (t *Tree) add(n *Node) NodeID {
	t.next++
	n.ID = t.next
	t.nodes[n.ID] = n
	return n.ID
}

// own makes parent the owner of child.
func (t *Tree) own(parent, child NodeID) {
	t.nodes[parent].Children = append(t.nodes[parent].Children, child)
	t.nodes[child].Parent = parent
}

// ============================================================
// Constructors. New nodes are detached until inserted.
// ============================================================

// NewLeaf creates a detached leaf wrapping unit. templateDir is the folder the
// template is copied from on first save.
func (t *Tree) NewLeaf(name, templateName, templateDir string, unit ComputeUnit) NodeID {
	return t.add(&Node{
		Kind:         KindLeaf,
		Name:         name,
		Unit:         unit,
		TemplateName: templateName,
		TemplateDir:  templateDir,
		UUID:         t.ids.NewID(),
	})
}

// NewSubWorkflow creates a detached, empty SubWorkflow.
func (t *Tree) NewSubWorkflow(name string) NodeID {
	return t.add(&Node{Kind: KindSubWorkflow, Name: name})
}

// NewIf creates a detached If with empty true and false branches.
func (t *Tree) NewIf(name, condition string) NodeID {
	id := t.add(&Node{Kind: KindIf, Name: name, Condition: condition})
	t.own(id, t.NewSubWorkflow("True"))
	t.own(id, t.NewSubWorkflow("False"))
	return id
}

// NewWhile creates a detached While with an empty body.
func (t *Tree) NewWhile(name, condition, iterName string) NodeID {
	id := t.add(&Node{Kind: KindWhile, Name: name, Condition: condition, IterName: iterName})
	t.own(id, t.NewSubWorkflow("Body"))
	return id
}

// NewForEach creates a detached ForEach over items interpreted per source.
func (t *Tree) NewForEach(name, iterName string, source IterationSource, items []string) NodeID {
	id := t.add(&Node{
		Kind:     KindForEach,
		Name:     name,
		IterName: iterName,
		Source:   source,
		Items:    append([]string(nil), items...),
	})
	t.own(id, t.NewSubWorkflow("Body"))
	return id
}

// NewAdvancedForEach creates a detached AdvancedFor binding the comma-separated
// iterNames to the values produced by define.
func (t *Tree) NewAdvancedForEach(name, iterNames, define string) NodeID {
	id := t.add(&Node{Kind: KindAdvancedForEach, Name: name, IterName: iterNames, DefineString: define})
	t.own(id, t.NewSubWorkflow("Body"))
	return id
}

// NewParallel creates a detached Parallel with the given number of branches.
func (t *Tree) NewParallel(name string, branches int) NodeID {
	id := t.add(&Node{Kind: KindParallel, Name: name})
	for i := 0; i < branches; i++ {
		t.own(id, t.NewSubWorkflow(strconv.Itoa(i)))
	}
	return id
}

// NewVariable creates a detached Variable node.
func (t *Tree) NewVariable(name, equation string) NodeID {
	return t.add(&Node{Kind: KindVariable, Name: name, Equation: equation})
}

// NewControl builds an empty control construct from its document type tag.
// Type-specific fields are filled in by the caller.
func (t *Tree) NewControl(tag, name string) (NodeID, error) {
	switch NodeKind(tag) {
	case KindSubWorkflow:
		return t.NewSubWorkflow(name), nil
	case KindIf:
		return t.NewIf(name, ""), nil
	case KindWhile:
		return t.NewWhile(name, "", ""), nil
	case KindForEach:
		return t.NewForEach(name, "", IterateFiles, nil), nil
	case KindAdvancedForEach:
		return t.NewAdvancedForEach(name, "", ""), nil
	case KindParallel:
		return t.NewParallel(name, 0), nil
	case KindVariable:
		return t.NewVariable(name, ""), nil
	default:
		return 0, types.Errorf(types.ErrUnknownConstruct, "unknown control construct %q", tag)
	}
}

// AddBranch appends an empty branch to a Parallel node and returns its id.
func (t *Tree) AddBranch(parallel NodeID) (NodeID, error) {
	n, ok := t.nodes[parallel]
	if !ok {
		return 0, types.Errorf(types.ErrNodeNotFound, "node %d not found", parallel)
	}
	if n.Kind != KindParallel {
		return 0, types.Errorf(types.ErrInvalidTree, "node %q is %s, not Parallel", n.Name, n.Kind)
	}
	branch := t.NewSubWorkflow(strconv.Itoa(len(n.Children)))
	t.own(parallel, branch)
	return branch, nil
}

// ============================================================
// Structure accessors
// ============================================================

// Children returns the owned children of a node.
func (t *Tree) Children(id NodeID) []NodeID {
	if n, ok := t.nodes[id]; ok {
		return n.Children
	}
	return nil
}

// Body returns the body SubWorkflow of a loop construct.
func (t *Tree) Body(id NodeID) NodeID {
	n := t.MustNode(id)
	if len(n.Children) == 0 {
		return 0
	}
	return n.Children[0]
}

// Branches returns the true and false branch of an If node.
func (t *Tree) Branches(id NodeID) (NodeID, NodeID) {
	n := t.MustNode(id)
	return n.Children[0], n.Children[1]
}

// Walk visits id and its subtree in pre-order. Returning false from fn skips
// the children of the visited node.
func (t *Tree) Walk(id NodeID, fn func(*Node) bool) {
	n, ok := t.nodes[id]
	if !ok {
		return
	}
	if !fn(n) {
		return
	}
	for _, c := range n.Children {
		t.Walk(c, fn)
	}
}

// Leaves returns all leaves reachable from the root in document order.
func (t *Tree) Leaves() []*Node {
	var leaves []*Node
	t.Walk(t.root, func(n *Node) bool {
		if n.IsLeaf() {
			leaves = append(leaves, n)
		}
		return true
	})
	return leaves
}

// TemplateRefs counts how many attached leaves reference templateName.
func (t *Tree) TemplateRefs(templateName string) int {
	count := 0
	for _, l := range t.Leaves() {
		if l.TemplateName == templateName {
			count++
		}
	}
	return count
}

// Path returns the slash-joined names from the root down to id.
func (t *Tree) Path(id NodeID) string {
	var parts []string
	for cur := id; cur != 0 && cur != t.root; {
		n, ok := t.nodes[cur]
		if !ok {
			break
		}
		parts = append(parts, n.Name)
		cur = n.Parent
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "/")
}

// Find resolves a slash-separated path of names, as returned by Path.
func (t *Tree) Find(path string) (NodeID, bool) {
	cur := t.root
	for _, seg := range strings.Split(path, "/") {
		if seg == "" {
			continue
		}
		found := NodeID(0)
		for _, c := range t.Children(cur) {
			if t.nodes[c].Name == seg {
				found = c
				break
			}
		}
		if found == 0 {
			return 0, false
		}
		cur = found
	}
	return cur, true
}

// ============================================================
// Mutation
// ============================================================

// UniqueName returns name, or name suffixed with _1, _2, ... until it does not
// clash with any child of parent other than exclude.
func (t *Tree) UniqueName(parent NodeID, name string, exclude NodeID) string {
	taken := make(map[string]bool)
	for _, c := range t.Children(parent) {
		if c != exclude {
			taken[t.nodes[c].Name] = true
		}
	}
	candidate := name
	for i := 1; taken[candidate]; i++ {
		candidate = name + "_" + strconv.Itoa(i)
	}
	return candidate
}

// Insert attaches the detached node child to the SubWorkflow parent at pos.
// A negative or out-of-range pos appends. The child is renamed on conflict and
// its final name is returned.
func (t *Tree) Insert(parent, child NodeID, pos int) (string, error) {
	p, ok := t.nodes[parent]
	if !ok {
		return "", types.Errorf(types.ErrNodeNotFound, "parent %d not found", parent)
	}
	if p.Kind != KindSubWorkflow {
		return "", types.Errorf(types.ErrInvalidTree, "cannot insert into %s node %q", p.Kind, p.Name)
	}
	c, ok := t.nodes[child]
	if !ok {
		return "", types.Errorf(types.ErrNodeNotFound, "node %d not found", child)
	}
	if c.Parent != 0 || child == t.root {
		return "", types.Errorf(types.ErrInvalidTree, "node %q is already attached", c.Name)
	}
	if t.isAncestor(child, parent) {
		return "", types.Errorf(types.ErrInvalidTree, "cannot insert %q into its own subtree", c.Name)
	}

	c.Name = t.UniqueName(parent, c.Name, 0)
	c.Parent = parent
	if pos < 0 || pos >= len(p.Children) {
		p.Children = append(p.Children, child)
	} else {
		p.Children = append(p.Children, 0)
		copy(p.Children[pos+1:], p.Children[pos:])
		p.Children[pos] = child
	}
	return c.Name, nil
}

func (t *Tree) isAncestor(candidate, id NodeID) bool {
	for cur := id; cur != 0; cur = t.nodes[cur].Parent {
		if cur == candidate {
			return true
		}
	}
	return false
}

// Detach unlinks id from its parent and keeps the subtree in the arena.
func (t *Tree) Detach(id NodeID) error {
	n, ok := t.nodes[id]
	if !ok {
		return types.Errorf(types.ErrNodeNotFound, "node %d not found", id)
	}
	if id == t.root {
		return types.NewError(types.ErrInvalidTree, "cannot detach the root")
	}
	if n.Parent == 0 {
		return nil
	}
	p := t.nodes[n.Parent]
	switch p.Kind {
	case KindSubWorkflow, KindParallel:
	default:
		return types.Errorf(types.ErrInvalidTree, "%q is a structural part of %s %q", n.Name, p.Kind, p.Name)
	}
	for i, c := range p.Children {
		if c == id {
			p.Children = append(p.Children[:i], p.Children[i+1:]...)
			break
		}
	}
	n.Parent = 0
	if p.Kind == KindParallel {
		for i, c := range p.Children {
			t.nodes[c].Name = strconv.Itoa(i)
		}
	}
	return nil
}

// Delete detaches id and drops its whole subtree from the arena.
func (t *Tree) Delete(id NodeID) error {
	if err := t.Detach(id); err != nil {
		return err
	}
	var drop []NodeID
	t.Walk(id, func(n *Node) bool {
		drop = append(drop, n.ID)
		return true
	})
	for _, d := range drop {
		delete(t.nodes, d)
	}
	return nil
}

// Rename renames id, applying the sibling uniqueness rule.
func (t *Tree) Rename(id NodeID, name string) (string, error) {
	n, ok := t.nodes[id]
	if !ok {
		return "", types.Errorf(types.ErrNodeNotFound, "node %d not found", id)
	}
	if n.Parent == 0 {
		n.Name = name
		return name, nil
	}
	n.Name = t.UniqueName(n.Parent, name, id)
	return n.Name, nil
}

// Clear removes every top-level element.
func (t *Tree) Clear() {
	for _, c := range append([]NodeID(nil), t.Children(t.root)...) {
		_ = t.Delete(c)
	}
}

package workflow

import (
	"strconv"
	"strings"
)

// iterationToken is the per-iteration placeholder of a loop scope.
func iterationToken(iterName string) string {
	return "${" + iterName + "}_ITER"
}

// bareToken is the placeholder of the current iterator value.
func bareToken(iterName string) string {
	return "${" + iterName + "}"
}

// joinSlash joins logical path segments with '/' regardless of the host OS.
func joinSlash(parts ...string) string {
	return joinNonEmpty("/", parts)
}

func joinDot(parts ...string) string {
	return joinNonEmpty(".", parts)
}

func joinNonEmpty(sep string, parts []string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}

// PathAssembler computes the qualified variable and file references a node
// may use to address outputs of other nodes.
type PathAssembler struct {
	// LegacyIfAssembly samples the true branch for both the True and the False
	// scope of an If, as documents authored by older editors expect.
	LegacyIfAssembly bool
}

// AssembleVariables lists "scope.leaf.variable" references for every leaf
// below the SubWorkflow id, plus the iterator tokens of enclosing loops.
func (a *PathAssembler) AssembleVariables(t *Tree, id NodeID, path string) []string {
	var out []string
	for _, cid := range t.Children(id) {
		child := t.MustNode(cid)
		switch child.Kind {
		case KindLeaf:
			if child.Unit == nil {
				continue
			}
			for _, v := range child.Unit.VariablePaths() {
				out = append(out, joinDot(path, child.Name, v))
			}
		case KindSubWorkflow:
			out = append(out, a.AssembleVariables(t, cid, path)...)
		case KindIf:
			trueID, falseID := a.ifBranches(t, cid)
			out = append(out, a.AssembleVariables(t, trueID, joinDot(path, child.Name, "True"))...)
			out = append(out, a.AssembleVariables(t, falseID, joinDot(path, child.Name, "False"))...)
		case KindWhile:
			out = append(out, a.AssembleVariables(t, t.Body(cid), joinDot(path, child.Name, iterationToken(child.IterName)))...)
			out = append(out, bareToken(child.IterName))
		case KindForEach:
			out = append(out, a.AssembleVariables(t, t.Body(cid), joinDot(path, child.Name, iterationToken(child.IterName)))...)
			out = append(out, bareToken(child.IterName), iterationToken(child.IterName))
		case KindAdvancedForEach:
			out = append(out, a.AssembleVariables(t, t.Body(cid), joinDot(path, child.Name, iterationToken(child.IterName)))...)
			out = append(out, iterationToken(child.IterName))
			for _, name := range child.IterNames() {
				out = append(out, bareToken(name))
			}
		case KindParallel:
			for i, branch := range child.Children {
				out = append(out, a.AssembleVariables(t, branch, joinDot(path, child.Name, strconv.Itoa(i)))...)
			}
		case KindVariable:
			out = append(out, joinDot(path, child.Name))
		}
	}
	return out
}

// AssembleFiles lists "scope/leaf/outputs/file" references for every leaf
// output below the SubWorkflow id. Loops contribute a wildcard variant that
// matches all iterations and an exact per-iteration variant.
func (a *PathAssembler) AssembleFiles(t *Tree, id NodeID, path string) []string {
	var out []string
	for _, cid := range t.Children(id) {
		child := t.MustNode(cid)
		switch child.Kind {
		case KindLeaf:
			if child.Unit == nil {
				continue
			}
			for _, f := range child.Unit.OutputFiles() {
				out = append(out, joinSlash(path, child.Name, "outputs", f))
			}
		case KindSubWorkflow:
			out = append(out, a.AssembleFiles(t, cid, path)...)
		case KindIf:
			trueID, falseID := a.ifBranches(t, cid)
			out = append(out, a.AssembleFiles(t, trueID, joinSlash(path, child.Name, "True"))...)
			out = append(out, a.AssembleFiles(t, falseID, joinSlash(path, child.Name, "False"))...)
		case KindWhile, KindForEach, KindAdvancedForEach:
			body := t.Body(cid)
			out = append(out, a.AssembleFiles(t, body, joinSlash(path, child.Name, "*"))...)
			out = append(out, a.AssembleFiles(t, body, joinSlash(path, child.Name, iterationToken(child.IterName)))...)
		case KindParallel:
			for i, branch := range child.Children {
				out = append(out, a.AssembleFiles(t, branch, joinSlash(path, child.Name, strconv.Itoa(i)))...)
			}
		}
	}
	return out
}

func (a *PathAssembler) ifBranches(t *Tree, id NodeID) (NodeID, NodeID) {
	trueID, falseID := t.Branches(id)
	if a.LegacyIfAssembly {
		return trueID, trueID
	}
	return trueID, falseID
}

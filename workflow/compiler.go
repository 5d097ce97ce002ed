package workflow

import (
	"fmt"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"github.com/NanomatchGmbH/simstack-sub001/internal/fsutil"
	"github.com/NanomatchGmbH/simstack-sub001/types"
)

// DefaultStorageRootToken prefixes every ForEach file entry. The execution
// engine substitutes the storage root of the submission at runtime.
const DefaultStorageRootToken = "${STORAGE}/workflow_data/"

// RenderRequest is the input of one recursive render step.
type RenderRequest struct {
	// PathList accumulates the paths contributed by previously rendered leaves.
	PathList []string
	// OutputPathList holds the output scopes of enclosing loops.
	OutputPathList []string
	SubmitDir      string
	// JobDir is the working-data root leaves render their inputs into.
	JobDir string
	// Path is the forward-slash logical path of the enclosing scope.
	Path      string
	ParentIDs []string
	// Resources are applied to exec modules that declare none.
	Resources Resources
}

func (r RenderRequest) with(path string, parents []string, pathList []string) RenderRequest {
	r.Path = path
	r.ParentIDs = parents
	r.PathList = pathList
	return r
}

// Compiler turns an authoring tree into a flat activity graph.
type Compiler struct {
	ids          IDGenerator
	storageToken string
	logger       *zap.Logger
}

// CompilerOption configures a Compiler.
type CompilerOption func(*Compiler)

// WithCompilerIDs sets the activity id generator.
func WithCompilerIDs(ids IDGenerator) CompilerOption {
	return func(c *Compiler) { c.ids = ids }
}

// WithStorageRootToken sets the prefix of ForEach file entries.
func WithStorageRootToken(token string) CompilerOption {
	return func(c *Compiler) { c.storageToken = token }
}

// WithCompilerLogger sets the logger.
func WithCompilerLogger(logger *zap.Logger) CompilerOption {
	return func(c *Compiler) {
		if logger != nil {
			c.logger = logger.With(zap.String("component", "compiler"))
		}
	}
}

// NewCompiler creates a compiler with UUID activity ids.
func NewCompiler(opts ...CompilerOption) *Compiler {
	c := &Compiler{
		ids:          NewUUIDGenerator(),
		storageToken: DefaultStorageRootToken,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Render compiles the subtree rooted at id. It returns the compiled graph and
// the path list after all leaves in the subtree have rendered.
func (c *Compiler) Render(t *Tree, id NodeID, req RenderRequest) (*CompiledGraph, []string, error) {
	n, ok := t.Node(id)
	if !ok {
		return nil, nil, types.Errorf(types.ErrNodeNotFound, "node %d not found", id)
	}

	switch n.Kind {
	case KindLeaf:
		return c.renderLeaf(n, req)
	case KindSubWorkflow:
		return c.renderSubWorkflow(t, n, req)
	case KindIf:
		return c.renderIf(t, n, req)
	case KindWhile:
		return c.renderWhile(t, n, req)
	case KindForEach, KindAdvancedForEach:
		return c.renderForEach(t, n, req)
	case KindParallel:
		return c.renderParallel(t, n, req)
	case KindVariable:
		return c.renderVariable(n, req)
	default:
		return nil, nil, types.Errorf(types.ErrUnknownConstruct, "cannot render node kind %q", n.Kind)
	}
}

func (c *Compiler) renderLeaf(n *Node, req RenderRequest) (*CompiledGraph, []string, error) {
	if n.Unit == nil {
		return nil, nil, types.Errorf(types.ErrInvalidTree, "leaf %q has no compute unit", n.Name)
	}
	myPath := joinSlash(req.Path, n.Name)
	jobDir := filepath.Join(req.JobDir, filepath.FromSlash(myPath))
	if fsutil.IsDir(n.TemplateDir) {
		if err := fsutil.CopyContents(n.TemplateDir, jobDir); err != nil {
			return nil, nil, types.Errorf(types.ErrRenderFailed, "stage template of leaf %q", n.Name).WithPath(jobDir).WithCause(err)
		}
	}

	job, mod, pathList, err := n.Unit.Render(req.PathList, req.OutputPathList, jobDir, myPath)
	if err != nil {
		return nil, nil, types.Errorf(types.ErrRenderFailed, "render leaf %q", n.Name).WithPath(myPath).WithCause(err)
	}
	if mod == nil {
		return nil, nil, types.Errorf(types.ErrRenderFailed, "leaf %q rendered no activity", n.Name).WithPath(myPath)
	}
	if mod.ID == "" {
		mod.ID = c.ids.NewID()
	}
	mod.GivenName = n.Name
	mod.Path = myPath
	mod.OutputPath = joinSlash(myPath, "outputs")
	mod.Job = job
	if mod.Resources.IsZero() {
		mod.Resources = req.Resources
	}

	g := &CompiledGraph{ExitIDs: []string{mod.ID}}
	g.Activities = append(g.Activities, NewActivity(mod))
	g.Connect(req.ParentIDs, mod.ID)

	c.logger.Debug("rendered leaf", zap.String("path", myPath), zap.String("id", mod.ID))
	return g, pathList, nil
}

func (c *Compiler) renderSubWorkflow(t *Tree, n *Node, req RenderRequest) (*CompiledGraph, []string, error) {
	g := &CompiledGraph{}
	parents := req.ParentIDs
	pathList := req.PathList
	for _, child := range n.Children {
		sub, pl, err := c.Render(t, child, req.with(req.Path, parents, pathList))
		if err != nil {
			return nil, nil, err
		}
		g.Append(sub.Graph)
		parents = sub.ExitIDs
		pathList = pl
	}
	g.ExitIDs = append([]string(nil), parents...)
	return g, pathList, nil
}

// renderTemplate compiles a body SubWorkflow seeded with the synthetic connector.
func (c *Compiler) renderTemplate(t *Tree, body NodeID, req RenderRequest, path string) (*CompiledGraph, []string, error) {
	return c.Render(t, body, req.with(path, []string{ConnectorID}, req.PathList))
}

func (c *Compiler) renderIf(t *Tree, n *Node, req RenderRequest) (*CompiledGraph, []string, error) {
	trueID, falseID := t.Branches(n.ID)
	base := joinSlash(req.Path, n.Name)

	trueGraph, pathList, err := c.renderTemplate(t, trueID, req, joinSlash(base, "True"))
	if err != nil {
		return nil, nil, err
	}
	falseReq := req
	falseReq.PathList = pathList
	falseGraph, pathList, err := c.renderTemplate(t, falseID, falseReq, joinSlash(base, "False"))
	if err != nil {
		return nil, nil, err
	}

	pass := &Pass{ID: c.ids.NewID()}
	ifg := &IfGraph{
		ID:            c.ids.NewID(),
		Condition:     n.Condition,
		TrueGraph:     trueGraph.Graph,
		FalseGraph:    falseGraph.Graph,
		TrueFinalIDs:  trueGraph.ExitIDs,
		FalseFinalIDs: falseGraph.ExitIDs,
		FinishID:      pass.ID,
	}
	return c.controlWithPass(ifg, pass, req.ParentIDs), pathList, nil
}

func (c *Compiler) renderWhile(t *Tree, n *Node, req RenderRequest) (*CompiledGraph, []string, error) {
	scope := joinSlash(req.Path, n.Name, iterationToken(n.IterName))
	bodyReq := req
	bodyReq.OutputPathList = append(append([]string(nil), req.OutputPathList...), scope)
	body, pathList, err := c.renderTemplate(t, t.Body(n.ID), bodyReq, scope)
	if err != nil {
		return nil, nil, err
	}

	pass := &Pass{ID: c.ids.NewID()}
	wg := &WhileGraph{
		ID:               c.ids.NewID(),
		IteratorName:     n.IterName,
		Condition:        n.Condition,
		Subgraph:         body.Graph,
		SubgraphFinalIDs: body.ExitIDs,
		FinishID:         pass.ID,
	}
	return c.controlWithPass(wg, pass, req.ParentIDs), pathList, nil
}

func (c *Compiler) renderForEach(t *Tree, n *Node, req RenderRequest) (*CompiledGraph, []string, error) {
	scope := joinSlash(req.Path, n.Name, iterationToken(n.IterName))
	bodyReq := req
	bodyReq.OutputPathList = append(append([]string(nil), req.OutputPathList...), scope)
	body, pathList, err := c.renderTemplate(t, t.Body(n.ID), bodyReq, scope)
	if err != nil {
		return nil, nil, err
	}

	pass := &Pass{ID: c.ids.NewID()}
	fg := &ForEachGraph{
		ID:               c.ids.NewID(),
		IteratorName:     n.IterName,
		Subgraph:         body.Graph,
		SubgraphFinalIDs: body.ExitIDs,
		FinishID:         pass.ID,
	}
	switch {
	case n.Kind == KindAdvancedForEach:
		fg.IteratorDefine = n.DefineString
	case n.Source == IterateVariables:
		fg.IteratorVariables = append([]string(nil), n.Items...)
	default:
		fg.IteratorFiles = make([]string, len(n.Items))
		for i, f := range n.Items {
			fg.IteratorFiles[i] = c.storageToken + f
		}
	}
	return c.controlWithPass(fg, pass, req.ParentIDs), pathList, nil
}

func (c *Compiler) controlWithPass(control Element, pass *Pass, parents []string) *CompiledGraph {
	g := &CompiledGraph{ExitIDs: []string{pass.ID}}
	g.Activities = append(g.Activities, NewActivity(control), NewActivity(pass))
	g.Connect(parents, control.UID())
	return g
}

func (c *Compiler) renderParallel(t *Tree, n *Node, req RenderRequest) (*CompiledGraph, []string, error) {
	g := &CompiledGraph{}
	base := joinSlash(req.Path, n.Name)
	pathList := req.PathList
	seen := make(map[string]bool)
	for i, branch := range n.Children {
		sub, pl, err := c.Render(t, branch, req.with(joinSlash(base, strconv.Itoa(i)), req.ParentIDs, pathList))
		if err != nil {
			return nil, nil, fmt.Errorf("parallel %q branch %d: %w", n.Name, i, err)
		}
		g.Append(sub.Graph)
		g.BranchExitIDs = append(g.BranchExitIDs, sub.ExitIDs)
		for _, id := range sub.ExitIDs {
			if !seen[id] {
				seen[id] = true
				g.ExitIDs = append(g.ExitIDs, id)
			}
		}
		pathList = pl
	}
	if len(n.Children) == 0 {
		g.ExitIDs = append([]string(nil), req.ParentIDs...)
	}
	return g, pathList, nil
}

func (c *Compiler) renderVariable(n *Node, req RenderRequest) (*CompiledGraph, []string, error) {
	v := &VariableElement{ID: c.ids.NewID(), Name: n.Name, Equation: n.Equation}
	g := &CompiledGraph{ExitIDs: []string{v.ID}}
	g.Activities = append(g.Activities, NewActivity(v))
	g.Connect(req.ParentIDs, v.ID)
	return g, req.PathList, nil
}

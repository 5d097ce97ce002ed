package workflow

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/NanomatchGmbH/simstack-sub001/internal/fsutil"
	"github.com/NanomatchGmbH/simstack-sub001/internal/metrics"
	"github.com/NanomatchGmbH/simstack-sub001/types"
)

const instrumentationName = "github.com/NanomatchGmbH/simstack-sub001/workflow"

// SubmitKindWorkflow is the submission kind returned by Render.
const SubmitKindWorkflow = "workflow"

// WorkingDataDir is the directory inside a submission that leaves render into.
const WorkingDataDir = "workflow_data"

// SubmitDirLayout is the timestamp prefix of submission directory names.
const SubmitDirLayout = "2006-01-02-15h04m05s"

const (
	defaultSubmitAttempts = 10
	defaultRetryPause     = time.Second
)

// Root is the entry point of an editing session: it owns the authoring tree of
// one workflow folder and coordinates compiling, saving and loading it.
// Calls must be serialized by the caller.
type Root struct {
	folder    string
	tree      *Tree
	treeIDs   IDGenerator
	submitDir string

	compiler     *Compiler
	compilerOpts []CompilerOption
	assembler    *PathAssembler
	serializer   *Serializer
	session      *Session

	submitAttempts int
	retryPause     time.Duration
	now            func() time.Time
	sleep          func(time.Duration)

	metrics *metrics.Collector
	tracer  trace.Tracer
	logger  *zap.Logger
}

// RootOption configures a Root.
type RootOption func(*Root)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) RootOption {
	return func(r *Root) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) RootOption {
	return func(r *Root) { r.metrics = c }
}

// WithTracer sets the tracer used for render, save and load spans.
func WithTracer(tracer trace.Tracer) RootOption {
	return func(r *Root) {
		if tracer != nil {
			r.tracer = tracer
		}
	}
}

// WithCompilerOptions passes options to the compiler.
func WithCompilerOptions(opts ...CompilerOption) RootOption {
	return func(r *Root) { r.compilerOpts = append(r.compilerOpts, opts...) }
}

// WithTreeIDs sets the generator for leaf instance UUIDs.
func WithTreeIDs(ids IDGenerator) RootOption {
	return func(r *Root) {
		if ids != nil {
			r.treeIDs = ids
		}
	}
}

// WithLegacyIfAssembly makes reference assembly sample the true branch of an
// If twice, as older documents expect.
func WithLegacyIfAssembly(legacy bool) RootOption {
	return func(r *Root) { r.assembler.LegacyIfAssembly = legacy }
}

// WithSubmitRetry sets how often and with what pause Render retries when the
// submission directory name is taken.
func WithSubmitRetry(attempts int, pause time.Duration) RootOption {
	return func(r *Root) {
		if attempts > 0 {
			r.submitAttempts = attempts
		}
		if pause >= 0 {
			r.retryPause = pause
		}
	}
}

// WithClock replaces the time source and the sleep used between retries.
func WithClock(now func() time.Time, sleep func(time.Duration)) RootOption {
	return func(r *Root) {
		if now != nil {
			r.now = now
		}
		if sleep != nil {
			r.sleep = sleep
		}
	}
}

// WithListener subscribes l to tree mutation events.
func WithListener(l Listener) RootOption {
	return func(r *Root) { r.session.Subscribe(l) }
}

// NewRoot creates an empty workflow stored in folder. loader instantiates
// leaves when the workflow is read from disk.
func NewRoot(folder string, loader UnitLoader, opts ...RootOption) *Root {
	r := &Root{
		folder:         folder,
		treeIDs:        NewUUIDGenerator(),
		assembler:      &PathAssembler{},
		session:        &Session{},
		submitAttempts: defaultSubmitAttempts,
		retryPause:     defaultRetryPause,
		now:            time.Now,
		sleep:          time.Sleep,
		tracer:         otel.Tracer(instrumentationName),
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.tree = NewTree().WithIDGenerator(r.treeIDs)
	r.compiler = NewCompiler(append([]CompilerOption{WithCompilerLogger(r.logger)}, r.compilerOpts...)...)
	r.serializer = NewSerializer(loader, r.logger)
	r.logger = r.logger.With(zap.String("component", "workflow_root"), zap.String("folder", folder))
	return r
}

// Tree returns the authoring tree. Nodes for AddElement are created on it.
func (r *Root) Tree() *Tree { return r.tree }

// Folder returns the workflow folder.
func (r *Root) Folder() string { return r.folder }

// Name returns the workflow name, the base name of its folder.
func (r *Root) Name() string { return filepath.Base(filepath.Clean(r.folder)) }

// Session returns the editing session state.
func (r *Root) Session() *Session { return r.session }

// SubmitDir returns the submission directory of the last successful render.
func (r *Root) SubmitDir() string { return r.submitDir }

// ============================================================
// Tree mutation
// ============================================================

// AddElement inserts the detached node id at the top level at pos (negative
// appends) and returns its final, possibly suffixed, name.
func (r *Root) AddElement(id NodeID, pos int) (string, error) {
	return r.AddElementTo(r.tree.Root(), id, pos)
}

// AddElementTo inserts the detached node id into the SubWorkflow parent.
func (r *Root) AddElementTo(parent, id NodeID, pos int) (string, error) {
	name, err := r.tree.Insert(parent, id, pos)
	if err != nil {
		return "", err
	}
	r.mutated(Event{Kind: EventAdded, Node: id, Path: r.tree.Path(id), Name: name})
	return name, nil
}

// RemoveElement deletes the node and its subtree. Template folders no longer
// referenced by any remaining leaf are removed from disk.
func (r *Root) RemoveElement(id NodeID) error {
	n, ok := r.tree.Node(id)
	if !ok {
		return types.Errorf(types.ErrNodeNotFound, "node %d not found", id)
	}
	path := r.tree.Path(id)
	name := n.Name

	templates := make(map[string]bool)
	r.tree.Walk(id, func(c *Node) bool {
		if c.IsLeaf() && c.TemplateName != "" {
			templates[c.TemplateName] = true
		}
		return true
	})

	if err := r.tree.Delete(id); err != nil {
		return err
	}

	for template := range templates {
		if r.tree.TemplateRefs(template) > 0 {
			continue
		}
		dir := filepath.Join(r.folder, TemplatesDir, template)
		if !fsutil.Exists(dir) {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			return types.Errorf(types.ErrInvalidTree, "remove orphaned template %q", template).WithPath(dir).WithCause(err)
		}
		r.metrics.RecordTemplateDeleted(template)
		r.logger.Info("orphaned template removed", zap.String("template", template))
	}

	r.mutated(Event{Kind: EventRemoved, Node: id, Path: path, Name: name})
	return nil
}

// RenameElement renames the node, suffixing on sibling conflicts.
func (r *Root) RenameElement(id NodeID, name string) (string, error) {
	final, err := r.tree.Rename(id, name)
	if err != nil {
		return "", err
	}
	r.mutated(Event{Kind: EventRenamed, Node: id, Path: r.tree.Path(id), Name: final})
	return final, nil
}

// Find resolves a slash path of element names.
func (r *Root) Find(path string) (NodeID, bool) {
	return r.tree.Find(path)
}

func (r *Root) mutated(e Event) {
	r.session.MarkDirty()
	r.metrics.RecordMutation(string(e.Kind))
	r.session.Publish(e)
}

// ============================================================
// Reference assembly
// ============================================================

// AssembleVariables lists every variable reference of the workflow.
func (r *Root) AssembleVariables() []string {
	return r.assembler.AssembleVariables(r.tree, r.tree.Root(), "")
}

// AssembleFiles lists every output file reference of the workflow.
func (r *Root) AssembleFiles() []string {
	return r.assembler.AssembleFiles(r.tree, r.tree.Root(), "")
}

// ============================================================
// Render
// ============================================================

// Render compiles the workflow into a fresh submission directory and returns
// the submission kind, the directory and the compiled document. An empty
// givenName uses the workflow name. ctx only carries the trace.
func (r *Root) Render(ctx context.Context, givenName string, defaults Resources) (kind, submitDir string, doc *Document, err error) {
	if givenName == "" {
		givenName = r.Name()
	}
	_, span := r.tracer.Start(ctx, "workflow.render",
		trace.WithAttributes(
			attribute.String("workflow.folder", r.folder),
			attribute.String("workflow.name", givenName),
		))
	start := r.now()
	attempts := 0
	defer func() {
		activities := 0
		if doc != nil {
			activities = len(doc.Graph.Activities)
		}
		r.metrics.RecordRender(err, r.now().Sub(start), activities, attempts)
		endSpan(span, err)
	}()

	submitDir, attempts, err = r.createSubmitDir(givenName)
	if err != nil {
		return "", "", nil, err
	}
	span.SetAttributes(attribute.String("workflow.submit_dir", submitDir))

	jobDir := filepath.Join(submitDir, WorkingDataDir)
	if err = os.MkdirAll(jobDir, 0o755); err != nil {
		return "", "", nil, types.NewError(types.ErrRenderFailed, "create working data directory").WithPath(jobDir).WithCause(err)
	}

	graph, _, err := r.compiler.Render(r.tree, r.tree.Root(), RenderRequest{
		SubmitDir: submitDir,
		JobDir:    jobDir,
		ParentIDs: []string{StartID},
		Resources: defaults,
	})
	if err != nil {
		return "", "", nil, err
	}
	if err = graph.Validate(); err != nil {
		return "", "", nil, types.NewError(types.ErrRenderFailed, "compiled graph is inconsistent").WithCause(err)
	}

	doc = &Document{Name: givenName, SubmitDir: submitDir, Graph: *graph}
	if err = doc.WriteXML(filepath.Join(submitDir, RenderedDocumentFile)); err != nil {
		return "", "", nil, types.NewError(types.ErrRenderFailed, "write rendered workflow").WithPath(submitDir).WithCause(err)
	}

	r.submitDir = submitDir
	r.logger.Info("workflow rendered",
		zap.String("submit_dir", submitDir),
		zap.Int("activities", len(graph.Activities)),
		zap.Int("attempts", attempts))
	return SubmitKindWorkflow, submitDir, doc, nil
}

// createSubmitDir creates <folder>/Submitted/<timestamp>-<name>, waiting for
// the clock to advance while the name is taken.
func (r *Root) createSubmitDir(givenName string) (string, int, error) {
	base := filepath.Join(r.folder, SubmittedDir)
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", 0, types.NewError(types.ErrRenderFailed, "create submission root").WithPath(base).WithCause(err)
	}

	var dir string
	for attempt := 1; attempt <= r.submitAttempts; attempt++ {
		dir = filepath.Join(base, r.now().Format(SubmitDirLayout)+"-"+givenName)
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			return dir, attempt, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", attempt, types.NewError(types.ErrRenderFailed, "create submission directory").WithPath(dir).WithCause(err)
		}
		r.logger.Debug("submission directory exists", zap.String("dir", dir), zap.Int("attempt", attempt))
		if attempt < r.submitAttempts {
			r.sleep(r.retryPause)
		}
	}
	return "", r.submitAttempts, types.Errorf(types.ErrSubmitDirExists,
		"submission directory still exists after %d attempts", r.submitAttempts).WithPath(dir)
}

// ============================================================
// Persistence
// ============================================================

// SaveToDisk writes the workflow into its folder. Leaves saved before a
// failure are not rolled back.
func (r *Root) SaveToDisk(ctx context.Context) (err error) {
	_, span := r.tracer.Start(ctx, "workflow.save",
		trace.WithAttributes(attribute.String("workflow.folder", r.folder)))
	start := r.now()
	defer func() {
		r.metrics.RecordSave(err, r.now().Sub(start))
		endSpan(span, err)
	}()

	if err = r.serializer.Save(r.tree, r.folder); err != nil {
		r.logger.Error("save failed", zap.Error(err))
		return err
	}
	r.session.MarkClean()
	r.session.Publish(Event{Kind: EventSaved})
	return nil
}

// ReadFromDisk replaces the tree with the workflow stored in the folder. The
// current tree is kept if reading fails.
func (r *Root) ReadFromDisk(ctx context.Context) (err error) {
	_, span := r.tracer.Start(ctx, "workflow.load",
		trace.WithAttributes(attribute.String("workflow.folder", r.folder)))
	version := ""
	defer func() {
		r.metrics.RecordLoad(version, err)
		span.SetAttributes(attribute.String("workflow.version", version))
		endSpan(span, err)
	}()

	fresh := NewTree().WithIDGenerator(r.treeIDs)
	version, err = r.serializer.Read(fresh, r.folder)
	if err != nil {
		r.logger.Error("read failed", zap.Error(err))
		return err
	}
	r.tree = fresh
	r.session.MarkClean()
	r.session.Publish(Event{Kind: EventLoaded})
	r.logger.Info("workflow loaded", zap.String("version", version), zap.Int("leaves", len(fresh.Leaves())))
	return nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
